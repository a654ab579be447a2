// Package dbtest holds the behavioural tests every db.Store backend must
// pass.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/wallet/internal/db"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/stretchr/testify/require"
)

// NewStoreFunc opens a fresh, empty store for a single test.
type NewStoreFunc func(t *testing.T) db.Store

// serializedTx returns a small distinct transaction.
func serializedTx(t *testing.T, seed byte) []byte {
	t.Helper()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{seed}, 0), nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(int64(seed)*1000, []byte{0x51}))
	tx.AddTxOut(wire.NewTxOut(500, []byte{0x52}))

	rec, err := wtxmgr.NewTxRecordFromMsgTx(tx, time.Unix(0, 0))
	require.NoError(t, err)

	return rec.SerializedTx
}

// SampleState returns a wallet state exercising every stored field.
func SampleState(t *testing.T) *db.WalletState {
	t.Helper()

	return &db.WalletState{
		Network:            "testnet3",
		ExternalDescriptor: "wpkh(tpub/0/*)#checksum",
		InternalDescriptor: "wpkh(tpub/1/*)#checksum",
		Cursors:            map[uint32]uint32{0: 7, 1: 2},
		Txs: []wtxmgr.Record{
			{
				SerializedTx: serializedTx(t, 2),
				Received:     time.Unix(1700000100, 42),
				Block: &wtxmgr.BlockMeta{
					Block: wtxmgr.Block{
						Hash:   chainhash.Hash{0xbb},
						Height: 2_500_000,
					},
					Time: time.Unix(1700000000, 0),
				},
				Credits: []wtxmgr.OutputCredit{
					{Index: 0},
					{Index: 1, Change: true},
				},
			},
			{
				SerializedTx: serializedTx(t, 1),
				Received:     time.Unix(1700000200, 0),
			},
		},
	}
}

// RunStoreTests runs the shared store tests against the backend returned by
// newStore.
func RunStoreTests(t *testing.T, newStore NewStoreFunc) {
	t.Run("not found", func(t *testing.T) {
		testNotFound(t, newStore(t))
	})
	t.Run("round trip", func(t *testing.T) {
		testRoundTrip(t, newStore(t))
	})
	t.Run("replace", func(t *testing.T) {
		testReplace(t, newStore(t))
	})
	t.Run("cursor", func(t *testing.T) {
		testCursor(t, newStore(t))
	})
	t.Run("isolation", func(t *testing.T) {
		testIsolation(t, newStore(t))
	})
}

func testNotFound(t *testing.T, store db.Store) {
	ctx := context.Background()

	_, err := store.FetchWallet(ctx, "missing")
	require.ErrorIs(t, err, db.ErrWalletNotFound)

	err = store.PutCursor(ctx, "missing", 0, 1)
	require.ErrorIs(t, err, db.ErrWalletNotFound)
}

func testRoundTrip(t *testing.T, store db.Store) {
	ctx := context.Background()
	want := SampleState(t)

	require.NoError(t, store.PutWallet(ctx, "w1", want))

	got, err := store.FetchWallet(ctx, "w1")
	require.NoError(t, err)
	RequireStateEqual(t, want, got)
}

func testReplace(t *testing.T, store db.Store) {
	ctx := context.Background()
	state := SampleState(t)
	require.NoError(t, store.PutWallet(ctx, "w1", state))

	// Replacing drops transactions and cursors that are no longer part of
	// the state.
	state.Txs = state.Txs[1:]
	state.Cursors = map[uint32]uint32{0: 9}
	state.InternalDescriptor = ""
	require.NoError(t, store.PutWallet(ctx, "w1", state))

	got, err := store.FetchWallet(ctx, "w1")
	require.NoError(t, err)
	RequireStateEqual(t, state, got)
}

func testCursor(t *testing.T, store db.Store) {
	ctx := context.Background()
	state := SampleState(t)
	require.NoError(t, store.PutWallet(ctx, "w1", state))

	require.NoError(t, store.PutCursor(ctx, "w1", 0, 8))
	require.NoError(t, store.PutCursor(ctx, "w1", 5, 1))

	got, err := store.FetchWallet(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, map[uint32]uint32{0: 8, 1: 2, 5: 1}, got.Cursors)
	require.Len(t, got.Txs, len(state.Txs))
}

func testIsolation(t *testing.T, store db.Store) {
	ctx := context.Background()

	first := SampleState(t)
	second := SampleState(t)
	second.Network = "regtest"
	second.Txs = nil

	require.NoError(t, store.PutWallet(ctx, "w1", first))
	require.NoError(t, store.PutWallet(ctx, "w2", second))
	require.NoError(t, store.PutCursor(ctx, "w2", 0, 100))

	got, err := store.FetchWallet(ctx, "w1")
	require.NoError(t, err)
	RequireStateEqual(t, first, got)

	got, err = store.FetchWallet(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, "regtest", got.Network)
	require.Empty(t, got.Txs)
	require.Equal(t, uint32(100), got.Cursors[0])

	// Mutating a fetched state must not leak into the store.
	got.Cursors[0] = 1
	got, err = store.FetchWallet(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, uint32(100), got.Cursors[0])
}

// RequireStateEqual compares two wallet states. Times are compared by
// instant since the backends do not preserve locations.
func RequireStateEqual(t *testing.T, want, got *db.WalletState) {
	t.Helper()

	require.Equal(t, want.Network, got.Network)
	require.Equal(t, want.ExternalDescriptor, got.ExternalDescriptor)
	require.Equal(t, want.InternalDescriptor, got.InternalDescriptor)
	require.Equal(t, want.Cursors, got.Cursors)
	require.Len(t, got.Txs, len(want.Txs))

	for i := range want.Txs {
		w, g := want.Txs[i], got.Txs[i]

		require.Equal(t, w.SerializedTx, g.SerializedTx, "tx %d", i)
		require.True(t, w.Received.Equal(g.Received), "tx %d", i)
		require.Equal(t, w.Credits, g.Credits, "tx %d", i)

		if w.Block == nil {
			require.Nil(t, g.Block, "tx %d", i)
			continue
		}
		require.NotNil(t, g.Block, "tx %d", i)
		require.Equal(t, w.Block.Block, g.Block.Block, "tx %d", i)
		require.True(t, w.Block.Time.Equal(g.Block.Time), "tx %d", i)
	}
}
