// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/wallet/internal/db"
	"github.com/btcsuite/descwallet/wallet/internal/db/kvdb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultGapLimit is the number of consecutive unused indexes a sync
	// scans past the last used one before it considers a keychain
	// exhausted.
	DefaultGapLimit = 20
)

var (
	// ErrInvalidConfig is returned when a wallet configuration cannot be
	// used.
	ErrInvalidConfig = errors.New("invalid wallet config")
)

// Backend names a persistence backend.
type Backend string

const (
	// BackendMemory keeps the wallet state in memory only. Nothing
	// survives the wallet.
	BackendMemory Backend = "memory"

	// BackendBolt stores the wallet state in a bbolt file through
	// walletdb.
	BackendBolt Backend = "bdb"

	// BackendSQLite stores the wallet state in an SQLite file.
	BackendSQLite Backend = "sqlite"
)

// DatabaseConfig selects and configures the persistence backend of a wallet.
type DatabaseConfig struct {
	// Backend selects the implementation. The zero value is
	// BackendMemory.
	Backend Backend

	// Path is the database file of the file backed backends.
	Path string

	// Timeout bounds how long opening a bolt database waits for the file
	// lock. Zero uses kvdb.DefaultDBTimeout.
	Timeout time.Duration
}

// MemoryDatabase returns the configuration of an in-memory database.
func MemoryDatabase() DatabaseConfig {
	return DatabaseConfig{Backend: BackendMemory}
}

// backend returns the configured backend, defaulting to memory.
func (c *DatabaseConfig) backend() Backend {
	if c.Backend == "" {
		return BackendMemory
	}

	return c.Backend
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	switch c.backend() {
	case BackendMemory:
		return nil

	case BackendBolt, BackendSQLite:
		if c.Path == "" {
			return fmt.Errorf("%w: %s database needs a path",
				ErrInvalidConfig, c.Backend)
		}

		return nil

	default:
		return fmt.Errorf("%w: %q", db.ErrUnknownBackend, c.Backend)
	}
}

// open opens the configured store.
func (c *DatabaseConfig) open() (db.Store, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.backend() {
	case BackendBolt:
		store, err := kvdb.Open(c.Path, c.Timeout)
		if err != nil {
			return nil, err
		}

		return store, nil

	case BackendSQLite:
		store, err := db.OpenSQLite(c.Path)
		if err != nil {
			return nil, err
		}

		return store, nil

	default:
		return db.NewMemoryStore(), nil
	}
}

// Config holds everything needed to construct a wallet.
type Config struct {
	// Descriptor is the external (receiving) descriptor.
	Descriptor string

	// ChangeDescriptor is the optional internal (change) descriptor. It
	// must use the same script type as Descriptor.
	ChangeDescriptor fn.Option[string]

	// ChainParams is the network the descriptors must belong to.
	ChainParams *chaincfg.Params

	// Database selects where the wallet state is kept.
	Database DatabaseConfig

	// GapLimit overrides DefaultGapLimit when non-zero.
	GapLimit uint32

	// Clock stamps the time transactions are first seen. Nil uses the
	// system clock.
	Clock clock.Clock
}

// Validate checks that the configuration is complete. It does not parse the
// descriptors.
func (c *Config) Validate() error {
	if c.Descriptor == "" {
		return fmt.Errorf("%w: missing descriptor", ErrInvalidConfig)
	}
	if c.ChainParams == nil {
		return fmt.Errorf("%w: missing chain params", ErrInvalidConfig)
	}

	return c.Database.Validate()
}

// gapLimit returns the configured gap limit or its default.
func (c *Config) gapLimit() uint32 {
	if c.GapLimit == 0 {
		return DefaultGapLimit
	}

	return c.GapLimit
}

// clockOrDefault returns the configured clock or the system clock.
func (c *Config) clockOrDefault() clock.Clock {
	if c.Clock == nil {
		return clock.NewDefaultClock()
	}

	return c.Clock
}
