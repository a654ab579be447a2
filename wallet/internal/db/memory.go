// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps wallet state in memory. Nothing survives the process,
// which makes it the store of choice for tests and throwaway wallets.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]*WalletState
}

// A compile-time assertion to ensure that MemoryStore implements the Store
// interface.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*WalletState),
	}
}

// FetchWallet returns a copy of the stored state of a wallet.
func (m *MemoryStore) FetchWallet(ctx context.Context,
	id string) (*WalletState, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", id, ErrWalletNotFound)
	}

	return state.Copy(), nil
}

// PutWallet stores a copy of state.
func (m *MemoryStore) PutWallet(ctx context.Context, id string,
	state *WalletState) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.wallets[id] = state.Copy()

	return nil
}

// PutCursor records the next index of a branch.
func (m *MemoryStore) PutCursor(ctx context.Context, id string, branch,
	next uint32) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.wallets[id]
	if !ok {
		return fmt.Errorf("wallet %s: %w", id, ErrWalletNotFound)
	}
	state.Cursors[branch] = next

	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
