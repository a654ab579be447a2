package kvdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/descwallet/wallet/internal/db"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	typeMetaNetwork  tlv.Type = 1
	typeMetaExternal tlv.Type = 2
	typeMetaInternal tlv.Type = 3

	typeTxRaw         tlv.Type = 1
	typeTxReceived    tlv.Type = 2
	typeTxBlockHash   tlv.Type = 3
	typeTxBlockHeight tlv.Type = 4
	typeTxBlockTime   tlv.Type = 5
	typeTxCredits     tlv.Type = 6

	// creditSize is the encoded size of a single credit: a big endian
	// output index followed by the change flag.
	creditSize = 5
)

// walletMeta is the stored header of a wallet.
type walletMeta struct {
	network  []byte
	external []byte
	internal []byte
}

// encodeMeta encodes the descriptive fields of a wallet state.
func encodeMeta(state *db.WalletState) ([]byte, error) {
	meta := walletMeta{
		network:  []byte(state.Network),
		external: []byte(state.ExternalDescriptor),
		internal: []byte(state.InternalDescriptor),
	}

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeMetaNetwork, &meta.network),
		tlv.MakePrimitiveRecord(typeMetaExternal, &meta.external),
	}
	if len(meta.internal) > 0 {
		records = append(records, tlv.MakePrimitiveRecord(
			typeMetaInternal, &meta.internal,
		))
	}

	return encodeStream(records...)
}

// decodeMeta decodes a wallet header into state.
func decodeMeta(b []byte, state *db.WalletState) error {
	var meta walletMeta

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeMetaNetwork, &meta.network),
		tlv.MakePrimitiveRecord(typeMetaExternal, &meta.external),
		tlv.MakePrimitiveRecord(typeMetaInternal, &meta.internal),
	)
	if err != nil {
		return err
	}
	if err := stream.Decode(bytes.NewReader(b)); err != nil {
		return fmt.Errorf("%w: wallet meta: %v", db.ErrCorruptRecord,
			err)
	}

	state.Network = string(meta.network)
	state.ExternalDescriptor = string(meta.external)
	state.InternalDescriptor = string(meta.internal)

	return nil
}

// encodeRecord encodes a recorded transaction. The block fields are only
// written for mined transactions.
func encodeRecord(rec *wtxmgr.Record) ([]byte, error) {
	var (
		raw      = rec.SerializedTx
		received = uint64(rec.Received.UnixNano())
		credits  = rec.Credits
	)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeTxRaw, &raw),
		tlv.MakePrimitiveRecord(typeTxReceived, &received),
	}

	if rec.Block != nil {
		var (
			hash   = [32]byte(rec.Block.Hash)
			height = uint32(rec.Block.Height)
			btime  = uint64(rec.Block.Time.Unix())
		)
		records = append(records,
			tlv.MakePrimitiveRecord(typeTxBlockHash, &hash),
			tlv.MakePrimitiveRecord(typeTxBlockHeight, &height),
			tlv.MakePrimitiveRecord(typeTxBlockTime, &btime),
		)
	}

	if len(credits) > 0 {
		records = append(records, creditsRecord(&credits))
	}

	return encodeStream(records...)
}

// decodeRecord decodes a recorded transaction.
func decodeRecord(b []byte) (*wtxmgr.Record, error) {
	var (
		rec      wtxmgr.Record
		received uint64
		hash     [32]byte
		height   uint32
		btime    uint64
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeTxRaw, &rec.SerializedTx),
		tlv.MakePrimitiveRecord(typeTxReceived, &received),
		tlv.MakePrimitiveRecord(typeTxBlockHash, &hash),
		tlv.MakePrimitiveRecord(typeTxBlockHeight, &height),
		tlv.MakePrimitiveRecord(typeTxBlockTime, &btime),
		creditsRecord(&rec.Credits),
	)
	if err != nil {
		return nil, err
	}

	parsedTypes, err := stream.DecodeWithParsedTypes(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: tx record: %v", db.ErrCorruptRecord,
			err)
	}

	rec.Received = time.Unix(0, int64(received))

	if t, ok := parsedTypes[typeTxBlockHash]; ok && t == nil {
		rec.Block = &wtxmgr.BlockMeta{
			Block: wtxmgr.Block{
				Hash:   chainhash.Hash(hash),
				Height: int32(height),
			},
			Time: time.Unix(int64(btime), 0),
		}
	}

	return &rec, nil
}

// creditsRecord returns the dynamic record holding the credits of a
// transaction.
func creditsRecord(credits *[]wtxmgr.OutputCredit) tlv.Record {
	return tlv.MakeDynamicRecord(
		typeTxCredits, credits, func() uint64 {
			return uint64(len(*credits) * creditSize)
		}, creditsEncoder, creditsDecoder,
	)
}

// creditsEncoder is a custom TLV encoder for a slice of credits.
func creditsEncoder(w io.Writer, val interface{}, _ *[8]byte) error {
	if v, ok := val.(*[]wtxmgr.OutputCredit); ok {
		var b [creditSize]byte
		for _, c := range *v {
			binary.BigEndian.PutUint32(b[:4], c.Index)
			b[4] = 0
			if c.Change {
				b[4] = 1
			}

			if _, err := w.Write(b[:]); err != nil {
				return err
			}
		}

		return nil
	}

	return tlv.NewTypeForEncodingErr(val, "[]wtxmgr.OutputCredit")
}

// creditsDecoder is a custom TLV decoder for a slice of credits.
func creditsDecoder(r io.Reader, val interface{}, _ *[8]byte,
	l uint64) error {

	if v, ok := val.(*[]wtxmgr.OutputCredit); ok && l%creditSize == 0 {
		credits := make([]wtxmgr.OutputCredit, 0, l/creditSize)

		var b [creditSize]byte
		for i := uint64(0); i < l/creditSize; i++ {
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return err
			}

			credits = append(credits, wtxmgr.OutputCredit{
				Index:  binary.BigEndian.Uint32(b[:4]),
				Change: b[4] == 1,
			})
		}

		*v = credits
		return nil
	}

	return tlv.NewTypeForDecodingErr(
		val, "[]wtxmgr.OutputCredit", l, l-l%creditSize,
	)
}

// encodeStream serializes the records as a TLV stream.
func encodeStream(records ...tlv.Record) ([]byte, error) {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// uint32Key returns the big endian encoding of v, used as a bucket key so
// that keys iterate in numeric order.
func uint32Key(v uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], v)

	return k[:]
}
