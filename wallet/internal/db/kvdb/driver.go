// Package kvdb provides a walletdb (kvdb) backed implementation of the
// wallet/internal/db Store interface.
package kvdb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // Register bdb driver.
)

const (
	// kvdbDriver is the walletdb driver name used for kvdb.
	kvdbDriver = "bdb"

	// DefaultDBTimeout is how long opening the database waits for the
	// file lock held by another process.
	DefaultDBTimeout = 10 * time.Second
)

// Open opens the bolt database at path, creating it when it does not exist
// yet, and returns a store on top of it. The store owns the database and
// closes it on Close.
func Open(path string, timeout time.Duration) (*WalletDB, error) {
	if timeout == 0 {
		timeout = DefaultDBTimeout
	}

	var (
		dbConn walletdb.DB
		err    error
	)
	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		dbConn, err = walletdb.Open(kvdbDriver, path, true, timeout,
			false)

	case errors.Is(statErr, fs.ErrNotExist):
		dbConn, err = walletdb.Create(kvdbDriver, path, true, timeout,
			false)

	default:
		return nil, fmt.Errorf("stat %s: %w", path, statErr)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open bdb instance: %w", err)
	}

	store, err := NewWalletDB(dbConn)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	return store, nil
}
