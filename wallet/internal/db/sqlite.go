// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/descwallet/wtxmgr"
	_ "modernc.org/sqlite" // Register the sqlite driver.
)

// SQLiteWalletDB is the SQLite implementation of the Store interface.
type SQLiteWalletDB struct {
	db *sql.DB
}

// A compile-time assertion to ensure that SQLiteWalletDB implements the
// Store interface.
var _ Store = (*SQLiteWalletDB)(nil)

// NewSQLiteWalletDB creates a store on top of a database whose migrations
// have already been applied.
func NewSQLiteWalletDB(db *sql.DB) (*SQLiteWalletDB, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &SQLiteWalletDB{db: db}, nil
}

// OpenSQLite opens, or creates, the SQLite database at path and brings its
// schema up to date.
func OpenSQLite(path string) (*SQLiteWalletDB, error) {
	// Enable foreign keys so deleting a wallet cascades to its rows.
	dsn := path + "?_pragma=foreign_keys=on"

	// Make SQLite retry acquiring locks for up to 5 seconds instead of
	// immediately returning SQLITE_BUSY.
	dsn += "&_pragma=busy_timeout=5000"

	// Take the write lock when a transaction begins.
	dsn += "&_txlock=immediate"

	dbConn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// A single connection serializes writers and keeps the pragmas in
	// effect for every statement.
	dbConn.SetMaxOpenConns(1)

	if err := ApplySQLiteMigrations(dbConn); err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	return NewSQLiteWalletDB(dbConn)
}

// execInTx runs fn inside a database transaction. The transaction is
// committed if fn succeeds and rolled back otherwise.
func execInTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Errorf("Unable to roll back sqlite tx: %v", rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// FetchWallet loads the state of a wallet.
func (w *SQLiteWalletDB) FetchWallet(ctx context.Context,
	id string) (*WalletState, error) {

	state := &WalletState{Cursors: make(map[uint32]uint32)}

	err := execInTx(ctx, w.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT network, external_descriptor, internal_descriptor
			FROM wallets WHERE id = ?`, id,
		)
		err := row.Scan(
			&state.Network, &state.ExternalDescriptor,
			&state.InternalDescriptor,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("wallet %s: %w", id,
				ErrWalletNotFound)
		}
		if err != nil {
			return fmt.Errorf("fetch wallet: %w", err)
		}

		if err := fetchCursors(ctx, tx, id, state); err != nil {
			return err
		}

		return fetchTxs(ctx, tx, id, state)
	})
	if err != nil {
		return nil, err
	}

	return state, nil
}

// fetchCursors loads the branch cursors of a wallet into state.
func fetchCursors(ctx context.Context, tx *sql.Tx, id string,
	state *WalletState) error {

	rows, err := tx.QueryContext(ctx, `
		SELECT branch, next_index FROM wallet_cursors
		WHERE wallet_id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("fetch cursors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var branch, next int64
		if err := rows.Scan(&branch, &next); err != nil {
			return fmt.Errorf("scan cursor: %w", err)
		}

		b, err := int64ToUint32(branch)
		if err != nil {
			return err
		}
		n, err := int64ToUint32(next)
		if err != nil {
			return err
		}
		state.Cursors[b] = n
	}

	return rows.Err()
}

// fetchTxs loads the recorded transactions of a wallet, with their credits,
// into state.
func fetchTxs(ctx context.Context, tx *sql.Tx, id string,
	state *WalletState) error {

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, raw_tx, received_unix_nano, block_hash,
			block_height, block_time_unix
		FROM transactions WHERE wallet_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return fmt.Errorf("fetch transactions: %w", err)
	}
	defer rows.Close()

	seqs := make(map[int64]int)
	for rows.Next() {
		var (
			seq, received int64
			rec           wtxmgr.Record
			blockHash     []byte
			height, btime sql.NullInt64
		)
		err := rows.Scan(
			&seq, &rec.SerializedTx, &received, &blockHash, &height,
			&btime,
		)
		if err != nil {
			return fmt.Errorf("scan transaction: %w", err)
		}
		rec.Received = time.Unix(0, received)

		if height.Valid {
			block, err := blockMeta(blockHash, height.Int64,
				btime.Int64)
			if err != nil {
				return err
			}
			rec.Block = block
		}

		seqs[seq] = len(state.Txs)
		state.Txs = append(state.Txs, rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	credits, err := tx.QueryContext(ctx, `
		SELECT seq, output_index, is_change FROM credits
		WHERE wallet_id = ? ORDER BY seq, output_index`, id,
	)
	if err != nil {
		return fmt.Errorf("fetch credits: %w", err)
	}
	defer credits.Close()

	for credits.Next() {
		var (
			seq, index int64
			change     bool
		)
		if err := credits.Scan(&seq, &index, &change); err != nil {
			return fmt.Errorf("scan credit: %w", err)
		}

		i, ok := seqs[seq]
		if !ok {
			return fmt.Errorf("%w: credit for unknown "+
				"transaction %d", ErrCorruptRecord, seq)
		}
		outIndex, err := int64ToUint32(index)
		if err != nil {
			return err
		}

		state.Txs[i].Credits = append(state.Txs[i].Credits,
			wtxmgr.OutputCredit{Index: outIndex, Change: change})
	}

	return credits.Err()
}

// blockMeta rebuilds the block of a mined transaction from its columns.
func blockMeta(hash []byte, height, unixTime int64) (*wtxmgr.BlockMeta,
	error) {

	blockHash, err := chainhash.NewHash(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: block hash: %v", ErrCorruptRecord,
			err)
	}
	h, err := int64ToInt32(height)
	if err != nil {
		return nil, err
	}

	return &wtxmgr.BlockMeta{
		Block: wtxmgr.Block{Hash: *blockHash, Height: h},
		Time:  time.Unix(unixTime, 0),
	}, nil
}

// PutWallet replaces the state of a wallet in a single transaction.
func (w *SQLiteWalletDB) PutWallet(ctx context.Context, id string,
	state *WalletState) error {

	return execInTx(ctx, w.db, func(tx *sql.Tx) error {
		// Child rows are removed explicitly so a connection opened
		// without foreign keys cannot leave stale rows behind.
		for _, table := range []string{
			"credits", "transactions", "wallet_cursors",
		} {
			_, err := tx.ExecContext(ctx,
				"DELETE FROM "+table+" WHERE wallet_id = ?", id)
			if err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO wallets (id, network, external_descriptor,
				internal_descriptor)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				network = excluded.network,
				external_descriptor = excluded.external_descriptor,
				internal_descriptor = excluded.internal_descriptor`,
			id, state.Network, state.ExternalDescriptor,
			state.InternalDescriptor,
		)
		if err != nil {
			return fmt.Errorf("upsert wallet: %w", err)
		}

		for branch, next := range state.Cursors {
			err := putCursor(ctx, tx, id, branch, next)
			if err != nil {
				return err
			}
		}

		for seq, rec := range state.Txs {
			if err := insertTx(ctx, tx, id, seq, rec); err != nil {
				return err
			}
		}

		return nil
	})
}

// insertTx writes one recorded transaction and its credits.
func insertTx(ctx context.Context, tx *sql.Tx, id string, seq int,
	rec wtxmgr.Record) error {

	var (
		blockHash     []byte
		height, btime sql.NullInt64
	)
	if rec.Block != nil {
		blockHash = rec.Block.Hash[:]
		height = sql.NullInt64{
			Int64: int64(rec.Block.Height),
			Valid: true,
		}
		btime = sql.NullInt64{
			Int64: rec.Block.Time.Unix(),
			Valid: true,
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (wallet_id, seq, raw_tx,
			received_unix_nano, block_hash, block_height,
			block_time_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, seq, rec.SerializedTx, rec.Received.UnixNano(), blockHash,
		height, btime,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	for _, c := range rec.Credits {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO credits (wallet_id, seq, output_index,
				is_change)
			VALUES (?, ?, ?, ?)`,
			id, seq, int64(c.Index), c.Change,
		)
		if err != nil {
			return fmt.Errorf("insert credit: %w", err)
		}
	}

	return nil
}

// putCursor upserts the cursor of a branch.
func putCursor(ctx context.Context, tx *sql.Tx, id string, branch,
	next uint32) error {

	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_cursors (wallet_id, branch, next_index)
		VALUES (?, ?, ?)
		ON CONFLICT (wallet_id, branch) DO UPDATE SET
			next_index = excluded.next_index`,
		id, int64(branch), int64(next),
	)
	if err != nil {
		return fmt.Errorf("put cursor: %w", err)
	}

	return nil
}

// PutCursor records the next index of a branch.
func (w *SQLiteWalletDB) PutCursor(ctx context.Context, id string, branch,
	next uint32) error {

	return execInTx(ctx, w.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM wallets WHERE id = ?", id,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("wallet %s: %w", id,
				ErrWalletNotFound)
		}
		if err != nil {
			return fmt.Errorf("fetch wallet: %w", err)
		}

		return putCursor(ctx, tx, id, branch, next)
	})
}

// Close closes the underlying database.
func (w *SQLiteWalletDB) Close() error {
	return w.db.Close()
}
