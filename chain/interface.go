// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrMalformedResponse is returned when a backend answers with data
	// that cannot be decoded.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrInvalidConfig is returned when a backend configuration cannot be
	// used.
	ErrInvalidConfig = errors.New("invalid chain backend config")
)

// Source is the chain data a wallet needs to discover its transactions. All
// methods are safe for concurrent use.
type Source interface {
	// ScriptActivity returns the confirmed and unconfirmed history of the
	// given output script and its currently unspent outputs.
	ScriptActivity(ctx context.Context,
		pkScript []byte) (*ScriptActivity, error)

	// Transaction fetches a transaction by its id.
	Transaction(ctx context.Context,
		txid chainhash.Hash) (*wire.MsgTx, error)

	// BlockHeader fetches the header of the main chain block at height.
	BlockHeader(ctx context.Context,
		height int32) (*wire.BlockHeader, error)
}

// StopGapper is implemented by sources that carry their own gap limit. When
// it returns a non-zero value the wallet uses it instead of its configured
// gap limit.
type StopGapper interface {
	StopGap() uint32
}

// HistoryItem is a transaction touching a script.
type HistoryItem struct {
	TxHash chainhash.Hash

	// Height is the confirmation height, or zero or less for a
	// transaction that is still in the mempool.
	Height int32
}

// Confirmed reports whether the transaction is mined.
func (h HistoryItem) Confirmed() bool {
	return h.Height > 0
}

// Unspent is an unspent output paying to a script.
type Unspent struct {
	OutPoint wire.OutPoint
	Height   int32
	Value    btcutil.Amount
}

// ScriptActivity is the chain activity of one output script.
type ScriptActivity struct {
	History []HistoryItem
	Unspent []Unspent
}

// Active reports whether the script has ever been used on chain or in the
// mempool.
func (a *ScriptActivity) Active() bool {
	return len(a.History) > 0 || len(a.Unspent) > 0
}
