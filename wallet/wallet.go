// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet implements a descriptor based wallet. A wallet derives its
// addresses from an external (receiving) descriptor and an optional internal
// (change) descriptor, discovers its transactions by scanning both keychains
// against a chain source up to a gap limit, and keeps the resulting history
// and UTXO set in its database.
package wallet

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/wallet/internal/db"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/clock"
)

// Wallet is a descriptor wallet. All methods are safe for concurrent use.
type Wallet struct {
	// id identifies the wallet in its database. It is derived from the
	// descriptors.
	id string

	params   *chaincfg.Params
	gapLimit uint32
	clock    clock.Clock

	// store is the database the wallet writes through to.
	store db.Store

	state walletState

	// syncMtx serializes syncs, and lets Close wait for a running one.
	syncMtx sync.Mutex

	// mu guards the keychains and the transaction store. Cursor advances
	// and sync merges take it exclusively.
	mu sync.RWMutex

	external *keychain

	// internal is nil for a wallet without a change descriptor.
	internal *keychain

	// txStore is replaced as a whole by every successful sync and never
	// mutated afterwards.
	txStore *wtxmgr.Store
}

// keychain returns the keychain addresses of the given kind come from.
func (w *Wallet) keychain(kind KeychainKind) *keychain {
	if kind == KeychainInternal && w.internal != nil {
		return w.internal
	}

	return w.external
}

// keychains returns the distinct keychains of the wallet, external first.
func (w *Wallet) keychains() []*keychain {
	if w.internal == nil {
		return []*keychain{w.external}
	}

	return []*keychain{w.external, w.internal}
}

// ID returns the identity of the wallet within its database.
func (w *Wallet) ID() string {
	return w.id
}

// ChainParams returns the network of the wallet.
func (w *Wallet) ChainParams() *chaincfg.Params {
	return w.params
}

// Descriptor returns the watch-only form of the descriptor of a keychain. A
// wallet without a change descriptor returns the external descriptor for
// KeychainInternal.
func (w *Wallet) Descriptor(kind KeychainKind) string {
	return publicForm(w.keychain(kind).desc)
}

// Balance returns the value of all unspent wallet outputs, confirmed or not.
// It is zero before the first sync.
func (w *Wallet) Balance() btcutil.Amount {
	return w.Balances().Total()
}

// Balances returns the value of the unspent wallet outputs split by
// confirmation.
func (w *Wallet) Balances() wtxmgr.Balance {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txStore.Balance()
}

// Transactions returns every known transaction of the wallet in the order
// syncs discovered them.
func (w *Wallet) Transactions() []wtxmgr.TxDetails {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txStore.Transactions()
}

// ListUnspent returns the unspent wallet outputs.
func (w *Wallet) ListUnspent() []wtxmgr.Credit {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txStore.UnspentOutputs()
}

// SyncState returns the outcome of the most recent sync.
func (w *Wallet) SyncState() SyncState {
	return w.state.syncState()
}

// String returns a summary of the wallet's state.
func (w *Wallet) String() string {
	return fmt.Sprintf("wallet %s: %v", w.id, &w.state)
}

// Close waits for a running sync and releases the database. Read methods keep
// working on the last loaded state, everything else fails with
// ErrStateForbidden.
func (w *Wallet) Close() error {
	if err := w.state.toClosing(); err != nil {
		return err
	}

	w.syncMtx.Lock()
	defer w.syncMtx.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	defer w.state.toClosed()

	if err := w.store.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	log.Infof("Closed wallet %s", w.id)

	return nil
}
