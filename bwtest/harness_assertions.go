package bwtest

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/stretchr/testify/require"
)

// AssertWalletConsistent checks that the balance, the UTXO set and the
// transaction history of a wallet agree with each other.
func (h *HarnessTest) AssertWalletConsistent(w *wallet.Wallet) {
	h.Helper()

	if w == nil {
		h.Fatalf("nil wallet")
	}

	var unspent btcutil.Amount
	for _, utxo := range w.ListUnspent() {
		unspent += utxo.Amount
	}
	require.Equal(h, w.Balance(), unspent, "balance differs from UTXOs")

	txns, err := w.ListTxns(h.Context(), 0, -1)
	require.NoError(h, err, "unable to list transactions")
	require.Len(h, txns, len(w.Transactions()))

	var net btcutil.Amount
	for _, tx := range txns {
		net += tx.Value()
	}
	require.Equal(h, w.Balance(), net, "balance differs from history")
}

// AssertWalletsConsistent runs AssertWalletConsistent on every registered
// wallet.
func (h *HarnessTest) AssertWalletsConsistent() {
	h.Helper()

	for _, w := range h.ActiveWallets() {
		h.AssertWalletConsistent(w)
	}
}
