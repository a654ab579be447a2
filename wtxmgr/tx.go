// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrInput is returned when a transaction record cannot be decoded or
	// encoded.
	ErrInput = errors.New("invalid transaction record")

	// ErrUnknownTx is returned when a transaction is not recorded in the
	// store.
	ErrUnknownTx = errors.New("unknown transaction")

	// ErrUnknownOutput is returned when a credit refers to an output index
	// the transaction does not have.
	ErrUnknownOutput = errors.New("unknown output")

	// ErrBlockMismatch is returned when a transaction is recorded again
	// with a conflicting confirmation.
	ErrBlockMismatch = errors.New("conflicting block for transaction")
)

// Block contains the minimum amount of data to uniquely identify any block on
// either the best or side chain.
type Block struct {
	Hash   chainhash.Hash
	Height int32
}

// BlockMeta contains the unique identification for a block and any metadata
// pertaining to the block.  At the moment, this additional metadata only
// includes the block time from the block header.
type BlockMeta struct {
	Block
	Time time.Time
}

// unminedBlock is the block of transactions that have not been confirmed.
var unminedBlock = BlockMeta{Block: Block{Height: -1}}

// TxRecord represents a transaction managed by the Store.
type TxRecord struct {
	MsgTx        wire.MsgTx
	Hash         chainhash.Hash
	Received     time.Time
	SerializedTx []byte
}

// NewTxRecord creates a new transaction record that may be inserted into the
// store.  It uses memoization to save the transaction hash and the serialized
// transaction.
func NewTxRecord(serializedTx []byte, received time.Time) (*TxRecord, error) {
	rec := &TxRecord{
		Received:     received,
		SerializedTx: serializedTx,
	}
	err := rec.MsgTx.Deserialize(bytes.NewReader(serializedTx))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to deserialize "+
			"transaction: %w", ErrInput, err)
	}
	rec.Hash = rec.MsgTx.TxHash()

	return rec, nil
}

// NewTxRecordFromMsgTx creates a new transaction record that may be inserted
// into the store.
func NewTxRecordFromMsgTx(msgTx *wire.MsgTx,
	received time.Time) (*TxRecord, error) {

	buf := bytes.NewBuffer(make([]byte, 0, msgTx.SerializeSize()))
	err := msgTx.Serialize(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to serialize "+
			"transaction: %w", ErrInput, err)
	}
	rec := &TxRecord{
		MsgTx:        *msgTx,
		Received:     received,
		SerializedTx: buf.Bytes(),
		Hash:         msgTx.TxHash(),
	}

	return rec, nil
}

// Credit is the type representing a transaction output which was spent or
// is still spendable by wallet.  A UTXO is an unspent Credit, but not all
// Credits are UTXOs.
type Credit struct {
	wire.OutPoint
	BlockMeta
	Amount       btcutil.Amount
	PkScript     []byte
	Received     time.Time
	FromCoinBase bool
	Change       bool
}

// CreditRecord contains metadata regarding a transaction credit for a known
// transaction.  Further details may be looked up by indexing a wire.MsgTx.TxOut
// with the Index field.
type CreditRecord struct {
	Amount btcutil.Amount
	Index  uint32
	Spent  bool
	Change bool
}

// DebitRecord contains metadata regarding a transaction debit for a known
// transaction.  Further details may be looked up by indexing a wire.MsgTx.TxIn
// with the Index field.
type DebitRecord struct {
	Amount btcutil.Amount
	Index  uint32
}

// TxDetails is intended to provide callers with access to rich details
// regarding a relevant transaction and which inputs and outputs are credit or
// debits.
type TxDetails struct {
	TxRecord
	Block   BlockMeta
	Credits []CreditRecord
	Debits  []DebitRecord

	// Fee is only known when every input spends an output of a
	// transaction in the store.
	Fee fn.Option[btcutil.Amount]
}

// TotalReceived returns the value of all wallet outputs of the transaction.
func (d *TxDetails) TotalReceived() btcutil.Amount {
	var total btcutil.Amount
	for _, c := range d.Credits {
		total += c.Amount
	}

	return total
}

// TotalSent returns the value of all wallet outputs spent by the transaction.
func (d *TxDetails) TotalSent() btcutil.Amount {
	var total btcutil.Amount
	for _, db := range d.Debits {
		total += db.Amount
	}

	return total
}

// FeeRate returns the fee rate the transaction paid, known whenever its fee
// is.
func (d *TxDetails) FeeRate() fn.Option[btcunit.SatPerVByte] {
	vsize := btcunit.TxWeight(&d.MsgTx).ToVB()

	return fn.MapOption(func(fee btcutil.Amount) btcunit.SatPerVByte {
		return btcunit.CalcSatPerVByte(fee, vsize)
	})(d.Fee)
}

// Confirmed reports whether the transaction is mined.
func (d *TxDetails) Confirmed() bool {
	return d.Block.Height != -1
}

// txEntry is a transaction recorded in the store together with the indexes of
// its outputs that pay to the wallet.
type txEntry struct {
	rec   TxRecord
	block BlockMeta

	// credits maps the wallet output indexes to their change flag.
	credits map[uint32]bool
}

// Store is an in-memory transaction store. It records the transactions
// relevant to a wallet, the outputs paying to it and derives the UTXO set
// and balances from them. A Store is not safe for concurrent mutation;
// callers serialize writes and may share a Store for reading once it is
// fully built.
type Store struct {
	chainParams *chaincfg.Params

	txs map[chainhash.Hash]*txEntry

	// order holds the transaction hashes in insertion order.
	order []chainhash.Hash

	// spentBy maps each outpoint spent by a recorded transaction to the
	// spending transaction.
	spentBy map[wire.OutPoint]chainhash.Hash
}

// A compile-time assertion to ensure that Store implements the TxStore
// interface.
var _ TxStore = (*Store)(nil)

// NewStore creates an empty transaction store.
func NewStore(chainParams *chaincfg.Params) *Store {
	return &Store{
		chainParams: chainParams,
		txs:         make(map[chainhash.Hash]*txEntry),
		spentBy:     make(map[wire.OutPoint]chainhash.Hash),
	}
}

// ChainParams returns the network the store was created for.
func (s *Store) ChainParams() *chaincfg.Params {
	return s.chainParams
}

// Len returns the number of recorded transactions.
func (s *Store) Len() int {
	return len(s.order)
}

// Contains reports whether the transaction is recorded.
func (s *Store) Contains(hash *chainhash.Hash) bool {
	_, ok := s.txs[*hash]
	return ok
}

// InsertTx records a transaction. A nil block records it as unmined.
// Recording a known transaction again only updates its confirmation: an
// unmined transaction may be moved into a block, but a mined one is never
// moved to a different block.
func (s *Store) InsertTx(rec *TxRecord, block *BlockMeta) error {
	meta := unminedBlock
	if block != nil {
		meta = *block
	}

	if entry, ok := s.txs[rec.Hash]; ok {
		switch {
		case entry.block.Height == -1:
			if meta.Height != -1 {
				log.Debugf("Marking transaction %v as mined "+
					"at height %d", rec.Hash, meta.Height)
			}
			entry.block = meta

		case meta.Height == -1:
			// A mined transaction stays mined.

		case entry.block.Hash != meta.Hash:
			return fmt.Errorf("%w: %v recorded in block %v, got %v",
				ErrBlockMismatch, rec.Hash, entry.block.Hash,
				meta.Hash)
		}

		return nil
	}

	if rec.SerializedTx == nil {
		full, err := NewTxRecordFromMsgTx(&rec.MsgTx, rec.Received)
		if err != nil {
			return err
		}
		rec = full
	}

	log.Tracef("Inserting transaction %v at height %d", rec.Hash,
		meta.Height)

	s.txs[rec.Hash] = &txEntry{
		rec:     *rec,
		block:   meta,
		credits: make(map[uint32]bool),
	}
	s.order = append(s.order, rec.Hash)

	for _, txIn := range rec.MsgTx.TxIn {
		s.spentBy[txIn.PreviousOutPoint] = rec.Hash
	}

	return nil
}

// AddCredit marks the output at index of a recorded transaction as paying to
// the wallet. Adding the same credit twice is a no-op.
func (s *Store) AddCredit(hash *chainhash.Hash, index uint32,
	change bool) error {

	entry, ok := s.txs[*hash]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownTx, hash)
	}
	if int(index) >= len(entry.rec.MsgTx.TxOut) {
		return fmt.Errorf("%w: %v:%d", ErrUnknownOutput, hash, index)
	}

	entry.credits[index] = change

	return nil
}

// TxDetails returns the details of a recorded transaction.
func (s *Store) TxDetails(hash *chainhash.Hash) (*TxDetails, error) {
	entry, ok := s.txs[*hash]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownTx, hash)
	}

	return s.details(entry), nil
}

// Transactions returns the details of every recorded transaction in the
// order they were inserted.
func (s *Store) Transactions() []TxDetails {
	details := make([]TxDetails, 0, len(s.order))
	for _, hash := range s.order {
		details = append(details, *s.details(s.txs[hash]))
	}

	return details
}

// details assembles the TxDetails of an entry.
func (s *Store) details(entry *txEntry) *TxDetails {
	msgTx := &entry.rec.MsgTx
	d := &TxDetails{
		TxRecord: entry.rec,
		Block:    entry.block,
	}

	for _, index := range sortedIndexes(entry.credits) {
		op := wire.OutPoint{Hash: entry.rec.Hash, Index: index}
		_, spent := s.spentBy[op]

		d.Credits = append(d.Credits, CreditRecord{
			Amount: btcutil.Amount(msgTx.TxOut[index].Value),
			Index:  index,
			Spent:  spent,
			Change: entry.credits[index],
		})
	}

	// The fee is known when every previous output is known. Coinbase
	// transactions have no fee.
	var (
		inputValue btcutil.Amount
		allKnown   = !blockchain.IsCoinBaseTx(msgTx)
	)
	for i, txIn := range msgTx.TxIn {
		prevOut := txIn.PreviousOutPoint
		prev, ok := s.txs[prevOut.Hash]
		if !ok || int(prevOut.Index) >= len(prev.rec.MsgTx.TxOut) {
			allKnown = false
			continue
		}

		prevTxOut := prev.rec.MsgTx.TxOut[prevOut.Index]
		value := btcutil.Amount(prevTxOut.Value)
		inputValue += value

		if _, mine := prev.credits[prevOut.Index]; mine {
			d.Debits = append(d.Debits, DebitRecord{
				Amount: value,
				Index:  uint32(i),
			})
		}
	}

	if allKnown {
		var outputValue btcutil.Amount
		for _, txOut := range msgTx.TxOut {
			outputValue += btcutil.Amount(txOut.Value)
		}
		d.Fee = fn.Some(inputValue - outputValue)
	}

	return d
}

// UnspentOutputs returns all unspent credits, ordered by the insertion order
// of their transactions and then by output index.
func (s *Store) UnspentOutputs() []Credit {
	var utxos []Credit
	for _, hash := range s.order {
		entry := s.txs[hash]
		isCoinBase := blockchain.IsCoinBaseTx(&entry.rec.MsgTx)

		for _, index := range sortedIndexes(entry.credits) {
			op := wire.OutPoint{Hash: hash, Index: index}
			if _, spent := s.spentBy[op]; spent {
				continue
			}

			txOut := entry.rec.MsgTx.TxOut[index]
			utxos = append(utxos, Credit{
				OutPoint:     op,
				BlockMeta:    entry.block,
				Amount:       btcutil.Amount(txOut.Value),
				PkScript:     txOut.PkScript,
				Received:     entry.rec.Received,
				FromCoinBase: isCoinBase,
				Change:       entry.credits[index],
			})
		}
	}

	return utxos
}

// Records returns the recorded transactions in insertion order, each with
// its block and credits, so that the store can be persisted and rebuilt
// with Restore.
func (s *Store) Records() []Record {
	records := make([]Record, 0, len(s.order))
	for _, hash := range s.order {
		entry := s.txs[hash]

		rec := Record{
			SerializedTx: entry.rec.SerializedTx,
			Received:     entry.rec.Received,
		}
		if entry.block.Height != -1 {
			block := entry.block
			rec.Block = &block
		}
		for _, index := range sortedIndexes(entry.credits) {
			rec.Credits = append(rec.Credits, OutputCredit{
				Index:  index,
				Change: entry.credits[index],
			})
		}

		records = append(records, rec)
	}

	return records
}

// Record is the persisted form of a recorded transaction.
type Record struct {
	SerializedTx []byte
	Received     time.Time

	// Block is nil for unmined transactions.
	Block *BlockMeta

	Credits []OutputCredit
}

// OutputCredit is the persisted form of a credit.
type OutputCredit struct {
	Index  uint32
	Change bool
}

// Restore rebuilds a store from persisted records.
func Restore(chainParams *chaincfg.Params, records []Record) (*Store,
	error) {

	s := NewStore(chainParams)
	for _, r := range records {
		rec, err := NewTxRecord(r.SerializedTx, r.Received)
		if err != nil {
			return nil, err
		}
		if err := s.InsertTx(rec, r.Block); err != nil {
			return nil, err
		}

		for _, c := range r.Credits {
			err := s.AddCredit(&rec.Hash, c.Index, c.Change)
			if err != nil {
				return nil, err
			}
		}
	}

	return s, nil
}

// sortedIndexes returns the keys of a credit map in ascending order.
func sortedIndexes(credits map[uint32]bool) []uint32 {
	indexes := make([]uint32, 0, len(credits))
	for index := range credits {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool {
		return indexes[i] < indexes[j]
	})

	return indexes
}
