package bwtest

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/descwallet/bwtest/wait"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// CreateWallet creates and registers a wallet over the harness database
// backend. The wallet is closed when the test finishes.
func (h *HarnessTest) CreateWallet(desc string,
	changeDesc fn.Option[string]) *wallet.Wallet {

	h.Helper()

	dbCfg, err := WalletDatabase(h.dbType, h.TempDir())
	require.NoError(h, err, "invalid db backend")

	w, err := wallet.New(h.Context(), wallet.Config{
		Descriptor:       desc,
		ChangeDescriptor: changeDesc,
		ChainParams:      h.NetParams(),
		Database:         dbCfg,
	})
	require.NoError(h, err, "failed to create wallet")

	h.Cleanup(func() {
		_ = w.Close()
	})

	// Register the wallet so harness helpers can assert global invariants.
	h.RegisterWallet(w)

	return w
}

// CreateEmptyWallet creates a wallet from a freshly generated seed, with
// BIP84 receive and change descriptors. Nothing on chain pays to it.
func (h *HarnessTest) CreateEmptyWallet() *wallet.Wallet {
	h.Helper()

	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	require.NoError(h, err, "failed to generate seed")

	master, err := hdkeychain.NewMaster(seed, h.NetParams())
	require.NoError(h, err, "failed to derive master key")

	external, err := descriptor.NewTemplate(
		master, descriptor.P2WPKH, waddrmgr.ExternalBranch,
		h.NetParams(),
	)
	require.NoError(h, err, "failed to build receive descriptor")

	internal, err := descriptor.NewTemplate(
		master, descriptor.P2WPKH, waddrmgr.InternalBranch,
		h.NetParams(),
	)
	require.NoError(h, err, "failed to build change descriptor")

	return h.CreateWallet(external.String(), fn.Some(internal.String()))
}

// SyncWallet syncs the wallet against the harness backend. Transient
// failures of the public servers are retried until defaultSyncTimeout.
func (h *HarnessTest) SyncWallet(w *wallet.Wallet) {
	h.Helper()

	err := wait.NoError(func() error {
		err := w.Sync(h.Context(), h.Backend, nil)

		// Corrupt chain data will not fix itself.
		if errors.Is(err, chain.ErrMalformedResponse) ||
			errors.Is(err, wallet.ErrChainDataCorrupt) {

			return wait.Permanent(err)
		}

		return err
	}, defaultSyncTimeout)
	require.NoError(h, err, "wallet sync failed")

	require.Equal(h, wallet.SyncStateSynced, w.SyncState())
}
