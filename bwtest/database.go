package bwtest

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/btcsuite/descwallet/wallet"
)

var (
	// ErrUnknownDBBackend is returned when an unknown db backend is
	// requested.
	ErrUnknownDBBackend = errors.New("unknown db backend")
)

const (
	// dbNameMemory is the identifier used for the in-memory backend.
	dbNameMemory = "memory"

	// dbNameKvdb is the identifier used for the bbolt backend.
	dbNameKvdb = "kvdb"

	// dbNameSqlite is the identifier used for the SQLite backend.
	dbNameSqlite = "sqlite"

	// walletDBFilename is the default wallet database filename.
	walletDBFilename = "wallet.db"
)

// WalletDatabase returns the database configuration of the given backend,
// with its file rooted at baseDir.
func WalletDatabase(dbType, baseDir string) (wallet.DatabaseConfig, error) {
	dbPath := filepath.Join(baseDir, walletDBFilename)

	switch dbType {
	case dbNameMemory:
		return wallet.MemoryDatabase(), nil

	case dbNameKvdb:
		return wallet.DatabaseConfig{
			Backend: wallet.BackendBolt,
			Path:    dbPath,
			Timeout: defaultTestTimeout,
		}, nil

	case dbNameSqlite:
		return wallet.DatabaseConfig{
			Backend: wallet.BackendSQLite,
			Path:    dbPath,
		}, nil

	default:
		return wallet.DatabaseConfig{}, fmt.Errorf("%w: %s",
			ErrUnknownDBBackend, dbType)
	}
}
