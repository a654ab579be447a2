//go:build itest

package itest

import (
	"github.com/btcsuite/descwallet/bwtest"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const (
	// fundedDescriptor is the receive descriptor of a public testnet
	// wallet with a long history.
	fundedDescriptor = "wpkh([c258d2e4/84h/1h/0h]tpubDDYkZojQFQjht8Tm4" +
		"jsS3iuEmKjTiEGjG6KnuFNKKJb5A6ZUCUZKdvLdSDWofKi4ToRCwb9poe1X" +
		"dqfUnP4jaJjCB2Zwv11ZLgSbnZSNecE/0/*)"

	// fundedAddress is the first address of fundedDescriptor.
	fundedAddress = "tb1qzg4mckdh50nwdm9hkzq06528rsu73hjxxzem3e"

	// minFundedTxns is the number of transactions fundedDescriptor had
	// when the test was written.
	minFundedTxns = 38
)

// testSyncHistory syncs the funded wallet and checks that its history and
// balance were found.
func testSyncHistory(h *bwtest.HarnessTest) {
	h.Helper()

	w := h.CreateWallet(fundedDescriptor, fn.None[string]())

	h.SyncWallet(w)

	require.Positive(h, w.Balance(), "balance is 0, send testnet "+
		"coins to %s", fundedAddress)
	require.GreaterOrEqual(h, len(w.Transactions()), minFundedTxns)

	// The first address is used, so the cursor moved past it.
	info, err := w.GetAddress(h.Context(), wallet.AddressIndexNew)
	require.NoError(h, err)
	require.NotEqual(h, fundedAddress, info.Address.EncodeAddress())
	require.Positive(h, info.Index)
}

// testSyncEmpty syncs a wallet with a fresh seed and checks that nothing
// was found.
func testSyncEmpty(h *bwtest.HarnessTest) {
	h.Helper()

	w := h.CreateEmptyWallet()

	h.SyncWallet(w)

	require.Zero(h, w.Balance())
	require.Empty(h, w.Transactions())

	info, err := w.GetAddress(h.Context(), wallet.AddressIndexNew)
	require.NoError(h, err)
	require.Zero(h, info.Index)
}

// testDropHistory checks that a dropped history is found again by the next
// sync.
func testDropHistory(h *bwtest.HarnessTest) {
	h.Helper()

	w := h.CreateWallet(fundedDescriptor, fn.None[string]())

	h.SyncWallet(w)
	balance := w.Balance()
	txns := len(w.Transactions())

	require.NoError(h, w.DropTransactionHistory(h.Context()))
	require.Zero(h, w.Balance())

	h.SyncWallet(w)
	require.Equal(h, balance, w.Balance())
	require.Len(h, w.Transactions(), txns)
}
