// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// parseHash decodes a transaction or block hash as returned by a backend.
func parseHash(s string) (*chainhash.Hash, error) {
	if len(s) != 2*chainhash.HashSize {
		return nil, fmt.Errorf("%w: hash %q", ErrMalformedResponse, s)
	}

	hash, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return nil, fmt.Errorf("%w: hash %q: %v", ErrMalformedResponse,
			s, err)
	}

	return hash, nil
}

// decodeTx decodes a hex encoded transaction.
func decodeTx(rawTx string) (*wire.MsgTx, error) {
	b, err := hex.DecodeString(strings.TrimSpace(rawTx))
	if err != nil {
		return nil, fmt.Errorf("%w: transaction hex: %v",
			ErrMalformedResponse, err)
	}

	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("%w: transaction: %v",
			ErrMalformedResponse, err)
	}

	return tx, nil
}

// decodeHeader decodes a hex encoded 80 byte block header.
func decodeHeader(rawHeader string) (*wire.BlockHeader, error) {
	b, err := hex.DecodeString(strings.TrimSpace(rawHeader))
	if err != nil {
		return nil, fmt.Errorf("%w: header hex: %v",
			ErrMalformedResponse, err)
	}
	if len(b) != wire.MaxBlockHeaderPayload {
		return nil, fmt.Errorf("%w: header of %d bytes",
			ErrMalformedResponse, len(b))
	}

	header := &wire.BlockHeader{}
	if err := header.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedResponse,
			err)
	}

	return header, nil
}
