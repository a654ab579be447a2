// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrStateForbidden is returned when an operation cannot be performed
	// due to the current state of the wallet (e.g., closed).
	ErrStateForbidden = errors.New("operation forbidden in current state")
)

// lifecycle represents the lifecycle state of a wallet.
type lifecycle uint32

const (
	// lifecycleOpen indicates the wallet is usable.
	lifecycleOpen lifecycle = iota

	// lifecycleClosing indicates the wallet is releasing its database.
	lifecycleClosing

	// lifecycleClosed indicates the wallet has been closed.
	lifecycleClosed
)

// String returns the string representation of a lifecycle.
func (l lifecycle) String() string {
	switch l {
	case lifecycleOpen:
		return "open"

	case lifecycleClosing:
		return "closing"

	case lifecycleClosed:
		return "closed"

	default:
		return "unknown lifecycle state"
	}
}

// SyncState is the outcome of the most recent synchronization of a wallet.
type SyncState uint32

const (
	// SyncStateNever indicates the wallet has not been synced since it
	// was opened.
	SyncStateNever SyncState = iota

	// SyncStateSyncing indicates a sync is in progress.
	SyncStateSyncing

	// SyncStateSynced indicates the last sync succeeded.
	SyncStateSynced

	// SyncStateFailed indicates the last sync failed. The wallet state is
	// the one from before that sync.
	SyncStateFailed
)

// String returns the string representation of a SyncState.
func (s SyncState) String() string {
	switch s {
	case SyncStateNever:
		return "never synced"

	case SyncStateSyncing:
		return "syncing"

	case SyncStateSynced:
		return "synced"

	case SyncStateFailed:
		return "sync failed"

	default:
		return "unknown sync state"
	}
}

// walletState is a thread-safe wrapper that manages the state of the wallet
// across two orthogonal dimensions:
//  1. Lifecycle: whether the wallet is open or has released its database.
//  2. Synchronization: the outcome of the last sync against a chain source.
type walletState struct {
	// lifecycle tracks the open/closed state of the wallet.
	lifecycle atomic.Uint32

	// sync tracks the synchronization state. Only the syncer writes it,
	// and syncs are serialized by the wallet.
	sync atomic.Uint32
}

// String returns a summary of the wallet's state.
func (s *walletState) String() string {
	return fmt.Sprintf("status=%v, sync=%v",
		lifecycle(s.lifecycle.Load()), s.syncState())
}

// syncState returns the current synchronization state.
func (s *walletState) syncState() SyncState {
	return SyncState(s.sync.Load())
}

// toSyncing marks the start of a sync. It fails if the wallet is not open.
func (s *walletState) toSyncing() error {
	if err := s.validateOpen(); err != nil {
		return err
	}

	s.sync.Store(uint32(SyncStateSyncing))

	return nil
}

// toSynced records a successful sync.
func (s *walletState) toSynced() {
	s.sync.Store(uint32(SyncStateSynced))
}

// toSyncFailed records a failed sync.
func (s *walletState) toSyncFailed() {
	s.sync.Store(uint32(SyncStateFailed))
}

// toClosing transitions the wallet from Open to Closing. It returns an error
// if the wallet is already closing or closed.
func (s *walletState) toClosing() error {
	if !s.lifecycle.CompareAndSwap(
		uint32(lifecycleOpen), uint32(lifecycleClosing)) {

		return fmt.Errorf("%w: wallet is %v", ErrStateForbidden,
			lifecycle(s.lifecycle.Load()))
	}

	return nil
}

// toClosed marks the wallet as fully closed.
func (s *walletState) toClosed() {
	s.lifecycle.Store(uint32(lifecycleClosed))
}

// isOpen returns true if the wallet is in the Open state.
func (s *walletState) isOpen() bool {
	return lifecycle(s.lifecycle.Load()) == lifecycleOpen
}

// validateOpen checks if the wallet can still be used.
func (s *walletState) validateOpen() error {
	if !s.isOpen() {
		return fmt.Errorf("%w: wallet is %v", ErrStateForbidden,
			lifecycle(s.lifecycle.Load()))
	}

	return nil
}
