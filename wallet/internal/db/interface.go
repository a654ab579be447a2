// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"

	"github.com/btcsuite/descwallet/wtxmgr"
)

// Store is the single entry point for all wallet database operations. A
// store may hold the state of several wallets, each keyed by the identifier
// derived from its descriptors.
type Store interface {
	// FetchWallet returns the stored state of a wallet. ErrWalletNotFound
	// is returned if nothing has been stored under id.
	FetchWallet(ctx context.Context, id string) (*WalletState, error)

	// PutWallet atomically replaces the stored state of a wallet,
	// creating it if needed.
	PutWallet(ctx context.Context, id string, state *WalletState) error

	// PutCursor records the next derivation index to hand out on a
	// branch. ErrWalletNotFound is returned for unknown wallets.
	PutCursor(ctx context.Context, id string, branch, next uint32) error

	// Close releases the resources held by the store.
	Close() error
}

// WalletState is everything a wallet persists between runs.
type WalletState struct {
	// Network is the name of the chain parameters the wallet runs on.
	Network string

	// ExternalDescriptor and InternalDescriptor are the public forms of
	// the wallet descriptors. InternalDescriptor is empty when the wallet
	// has no change descriptor.
	ExternalDescriptor string
	InternalDescriptor string

	// Cursors maps a branch to the next index to hand out on it.
	Cursors map[uint32]uint32

	// Txs holds the recorded transactions in discovery order.
	Txs []wtxmgr.Record
}

// Copy returns a deep copy of the state.
func (s *WalletState) Copy() *WalletState {
	c := &WalletState{
		Network:            s.Network,
		ExternalDescriptor: s.ExternalDescriptor,
		InternalDescriptor: s.InternalDescriptor,
		Cursors:            make(map[uint32]uint32, len(s.Cursors)),
		Txs:                make([]wtxmgr.Record, 0, len(s.Txs)),
	}
	for branch, next := range s.Cursors {
		c.Cursors[branch] = next
	}

	for _, rec := range s.Txs {
		cp := wtxmgr.Record{
			SerializedTx: append([]byte(nil), rec.SerializedTx...),
			Received:     rec.Received,
		}
		if rec.Block != nil {
			block := *rec.Block
			cp.Block = &block
		}
		if len(rec.Credits) > 0 {
			cp.Credits = append(
				[]wtxmgr.OutputCredit(nil), rec.Credits...,
			)
		}

		c.Txs = append(c.Txs, cp)
	}

	return c
}
