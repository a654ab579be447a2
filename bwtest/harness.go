package bwtest

import (
	"context"
	"runtime/debug"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/stretchr/testify/require"
)

// harnessNetParams is the network of the public servers the harness talks
// to.
var harnessNetParams = &chaincfg.TestNet3Params

// HarnessTest is the integration test harness.
type HarnessTest struct {
	*testing.T

	// Backend is the chain backend under test. It is shared by all
	// subtests.
	Backend ChainBackend

	// dbType is the configured wallet database backend.
	dbType string

	// logDir is the per-run log directory.
	logDir string

	// mu protects harness state that can be accessed across the main test
	// and subtests. This includes the wallet registry and idempotent
	// shutdown.
	mu sync.Mutex

	// wallets is the set of wallets created by a test case.
	wallets []*wallet.Wallet

	// stopped prevents stopping shared infrastructure more than once.
	stopped bool
}

// SetupHarness connects to the chain backend and prepares the log directory
// of the run. An empty chainURL selects the public server of the backend.
func SetupHarness(t *testing.T, chainBackendType, chainURL,
	dbType string) *HarnessTest {

	t.Helper()

	// Fail early on a typo rather than in the first test case.
	_, err := WalletDatabase(dbType, t.TempDir())
	require.NoError(t, err, "invalid db backend")

	logDir := newRunLogDir(
		t, logRootDir, chainBackendType, dbType, time.Now(),
	)

	ctx, cancel := context.WithTimeout(
		context.Background(), defaultTestTimeout,
	)
	defer cancel()

	ht := &HarnessTest{
		T:       t,
		Backend: NewBackend(t, ctx, chainBackendType, chainURL),
		dbType:  dbType,
		logDir:  logDir,
	}

	// Ensure the harness is cleaned up when the test finishes.
	t.Cleanup(ht.Stop)

	return ht
}

// Subtest creates a child harness that shares the chain backend.
//
// The returned harness has its own wallet registry and wallet log file.
// Callers should not call Stop on the returned harness as it would stop shared
// infrastructure.
func (h *HarnessTest) Subtest(t *testing.T) *HarnessTest {
	h.Helper()

	st := &HarnessTest{
		T:       t,
		Backend: h.Backend,
		dbType:  h.dbType,
		logDir:  h.logDir,
	}

	logPath := walletLogPath(t, h.logDir)
	t.Cleanup(setUpWalletLogging(t, logPath))

	return st
}

// RegisterWallet registers a wallet with the harness.
//
// Registered wallets are checked by AssertWalletsConsistent.
func (h *HarnessTest) RegisterWallet(w *wallet.Wallet) {
	h.Helper()

	if w == nil {
		h.Fatalf("cannot register nil wallet")
	}

	h.mu.Lock()
	h.wallets = append(h.wallets, w)
	h.mu.Unlock()
}

// ActiveWallets returns a snapshot of wallets registered with this harness.
func (h *HarnessTest) ActiveWallets() []*wallet.Wallet {
	h.Helper()

	h.mu.Lock()
	wallets := append([]*wallet.Wallet(nil), h.wallets...)
	h.mu.Unlock()

	return wallets
}

// RunTestCase executes a harness test case.
//
// Any panic from the test function is converted into a fatal test failure with
// a stack trace.
func (h *HarnessTest) RunTestCase(name string,
	testFunc func(t *HarnessTest)) {

	h.Helper()

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		stack := debug.Stack()
		h.Fatalf("failed (%s): panic=%v\n%s", name, r, stack)
	}()

	if testFunc == nil {
		h.Fatalf("nil test func for %s", name)
	}

	testFunc(h)

	h.AssertWalletsConsistent()
}

// NetParams returns the chain parameters used by the harness.
func (h *HarnessTest) NetParams() *chaincfg.Params {
	h.Helper()

	return harnessNetParams
}

// Stop shuts down all resources owned by the harness.
func (h *HarnessTest) Stop() {
	h.Helper()

	h.mu.Lock()

	if h.stopped {
		h.mu.Unlock()
		return
	}

	h.stopped = true
	h.mu.Unlock()

	require.NoError(h, h.Backend.Close(), "failed to close chain backend")
}
