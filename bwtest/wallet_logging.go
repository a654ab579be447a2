package bwtest

import (
	"os"
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/stretchr/testify/require"
)

// walletLogFilePerm keeps wallet logs private since they carry addresses
// and txids.
const walletLogFilePerm = 0o600

// setUpWalletLogging points the btclog loggers of the wallet packages at the
// given log file.
//
// NOTE: This is package-global logger configuration. It should only be used in
// serial integration tests.
func setUpWalletLogging(t *testing.T, logPath string) func() {
	t.Helper()

	// #nosec G304 -- logPath is created by the test harness.
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC,
		walletLogFilePerm)
	require.NoError(t, err, "unable to create wallet log file")

	backend := btclog.NewBackend(f)

	wllt := backend.Logger("WLLT")
	tmgr := backend.Logger("TMGR")
	chio := backend.Logger("CHIO")

	level, _ := btclog.LevelFromString("debug")
	for _, logger := range []btclog.Logger{wllt, tmgr, chio} {
		logger.SetLevel(level)
	}

	wallet.UseLogger(wllt)
	wtxmgr.UseLogger(tmgr)
	chain.UseLogger(chio)

	return func() {
		wallet.DisableLog()
		wtxmgr.DisableLog()
		chain.DisableLog()

		_ = f.Sync()
		_ = f.Close()
	}
}
