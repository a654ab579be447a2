package bwtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	// logRootDir holds one directory per itest run. Relative to the
	// working directory, so `go test ./itest` writes to itest/test-logs.
	logRootDir = "test-logs"

	// logRootPerm is the permission of logRootDir. Run directories are
	// created by os.MkdirTemp and are private to the current user.
	logRootPerm = 0o750

	// logTimeLayout is the timestamp embedded in run directory names.
	logTimeLayout = "20060102-150405"
)

// newRunLogDir creates the log directory of one itest run under root. The
// name records the backend, the database and the network the run talks to,
// followed by the start time and a random suffix so that parallel runs
// never share a directory.
func newRunLogDir(t *testing.T, root, chainBackend, dbBackend string,
	now time.Time) string {

	t.Helper()

	require.NoError(t, os.MkdirAll(root, logRootPerm),
		"unable to create log root %s", root)

	prefix := fmt.Sprintf("%s-%s-%s-%s-", logToken(chainBackend),
		logToken(dbBackend), logToken(harnessNetParams.Name),
		now.Format(logTimeLayout))

	dir, err := os.MkdirTemp(root, prefix)
	require.NoError(t, err, "unable to create run log dir")

	t.Logf("itest logs: %s", dir)

	return dir
}

// walletLogPath returns the log file of the wallets of the test t inside
// the run directory. Only the leaf of a subtest name is used.
func walletLogPath(t *testing.T, runDir string) string {
	t.Helper()

	name := t.Name()
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}

	return filepath.Join(runDir, "wallet-"+logToken(name)+".log")
}

// logToken maps s to a token usable in a file name. Every rune outside
// [A-Za-z0-9_-] becomes an underscore.
func logToken(s string) string {
	if s == "" {
		return "none"
	}

	return strings.Map(func(r rune) rune {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z':
			return r

		case '0' <= r && r <= '9', r == '-', r == '_':
			return r
		}

		return '_'
	}, s)
}
