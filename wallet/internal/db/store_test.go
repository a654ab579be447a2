package db_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/descwallet/wallet/internal/db"
	"github.com/btcsuite/descwallet/wallet/internal/db/dbtest"
	"github.com/stretchr/testify/require"
)

// TestMemoryStore runs the shared store tests against the in-memory
// backend.
func TestMemoryStore(t *testing.T) {
	t.Parallel()

	dbtest.RunStoreTests(t, func(t *testing.T) db.Store {
		return db.NewMemoryStore()
	})
}

// TestSQLiteStore runs the shared store tests against a migrated SQLite
// database.
func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	dbtest.RunStoreTests(t, func(t *testing.T) db.Store {
		t.Helper()

		store, err := db.OpenSQLite(
			filepath.Join(t.TempDir(), "wallet.sqlite"),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, store.Close())
		})

		return store
	})
}

// TestSQLiteReopen checks that state survives closing the database and that
// migrations are idempotent.
func TestSQLiteReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wallet.sqlite")

	store, err := db.OpenSQLite(path)
	require.NoError(t, err)

	want := dbtest.SampleState(t)
	require.NoError(t, store.PutWallet(ctx, "w1", want))
	require.NoError(t, store.Close())

	store, err = db.OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.FetchWallet(ctx, "w1")
	require.NoError(t, err)
	dbtest.RequireStateEqual(t, want, got)
}

// TestMemoryStoreCopies checks that the memory store never shares state
// with its callers.
func TestMemoryStoreCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := db.NewMemoryStore()

	state := dbtest.SampleState(t)
	require.NoError(t, store.PutWallet(ctx, "w1", state))

	state.Txs[0].SerializedTx[0] ^= 0xff
	state.Txs[0].Credits[0].Index = 99
	state.Txs[0].Block.Height = 1

	got, err := store.FetchWallet(ctx, "w1")
	require.NoError(t, err)
	dbtest.RequireStateEqual(t, dbtest.SampleState(t), got)
}

// TestCanceledContext checks that a canceled context is honoured before any
// work is done.
func TestCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := db.NewMemoryStore()
	_, err := store.FetchWallet(ctx, "w1")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, store.PutWallet(ctx, "w1", &db.WalletState{}),
		context.Canceled)
}
