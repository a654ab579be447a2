package kvdb

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"
	db "github.com/btcsuite/descwallet/wallet/internal/db"
)

var (
	// walletsBucketKey is the top-level bucket holding one nested bucket
	// per wallet.
	walletsBucketKey = []byte("descwallets")

	// metaKey stores the TLV encoded wallet header.
	metaKey = []byte("meta")

	// cursorsBucketKey holds the branch cursors, keyed and valued by big
	// endian uint32s.
	cursorsBucketKey = []byte("cursors")

	// txsBucketKey holds the recorded transactions keyed by their big
	// endian position in discovery order.
	txsBucketKey = []byte("txs")
)

// WalletDB is the kvdb (walletdb) implementation of the db.Store interface.
type WalletDB struct {
	db walletdb.DB
}

// A compile-time assertion to ensure that WalletDB implements the db.Store
// interface.
var _ db.Store = (*WalletDB)(nil)

// NewWalletDB creates a new kvdb-backed wallet store, creating its top-level
// bucket if needed.
func NewWalletDB(dbConn walletdb.DB) (*WalletDB, error) {
	if dbConn == nil {
		return nil, db.ErrNilDB
	}

	err := walletdb.Update(dbConn, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(walletsBucketKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create wallets bucket: %w", err)
	}

	return &WalletDB{db: dbConn}, nil
}

// FetchWallet loads the state of a wallet.
func (w *WalletDB) FetchWallet(ctx context.Context,
	id string) (*db.WalletState, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state := &db.WalletState{Cursors: make(map[uint32]uint32)}

	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		wallets := tx.ReadBucket(walletsBucketKey)
		if wallets == nil {
			return fmt.Errorf("wallet %s: %w", id,
				db.ErrWalletNotFound)
		}
		bucket := wallets.NestedReadBucket([]byte(id))
		if bucket == nil {
			return fmt.Errorf("wallet %s: %w", id,
				db.ErrWalletNotFound)
		}

		if err := decodeMeta(bucket.Get(metaKey), state); err != nil {
			return err
		}

		cursors := bucket.NestedReadBucket(cursorsBucketKey)
		if cursors != nil {
			err := cursors.ForEach(func(k, v []byte) error {
				if len(k) != 4 || len(v) != 4 {
					return fmt.Errorf("%w: cursor entry",
						db.ErrCorruptRecord)
				}

				branch := binary.BigEndian.Uint32(k)
				next := binary.BigEndian.Uint32(v)
				state.Cursors[branch] = next

				return nil
			})
			if err != nil {
				return err
			}
		}

		txs := bucket.NestedReadBucket(txsBucketKey)
		if txs == nil {
			return nil
		}

		return txs.ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			state.Txs = append(state.Txs, *rec)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return state, nil
}

// PutWallet replaces the state of a wallet within a single bolt
// transaction.
func (w *WalletDB) PutWallet(ctx context.Context, id string,
	state *db.WalletState) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	meta, err := encodeMeta(state)
	if err != nil {
		return fmt.Errorf("encode wallet meta: %w", err)
	}

	return walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		wallets := tx.ReadWriteBucket(walletsBucketKey)

		key := []byte(id)
		if wallets.NestedReadWriteBucket(key) != nil {
			if err := wallets.DeleteNestedBucket(key); err != nil {
				return err
			}
		}

		bucket, err := wallets.CreateBucket(key)
		if err != nil {
			return err
		}
		if err := bucket.Put(metaKey, meta); err != nil {
			return err
		}

		cursors, err := bucket.CreateBucket(cursorsBucketKey)
		if err != nil {
			return err
		}
		for branch, next := range state.Cursors {
			err := cursors.Put(uint32Key(branch), uint32Key(next))
			if err != nil {
				return err
			}
		}

		txs, err := bucket.CreateBucket(txsBucketKey)
		if err != nil {
			return err
		}
		for i := range state.Txs {
			v, err := encodeRecord(&state.Txs[i])
			if err != nil {
				return fmt.Errorf("encode tx record: %w", err)
			}

			if err := txs.Put(uint32Key(uint32(i)), v); err != nil {
				return err
			}
		}

		return nil
	})
}

// PutCursor records the next index of a branch.
func (w *WalletDB) PutCursor(ctx context.Context, id string, branch,
	next uint32) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	return walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		wallets := tx.ReadWriteBucket(walletsBucketKey)

		bucket := wallets.NestedReadWriteBucket([]byte(id))
		if bucket == nil {
			return fmt.Errorf("wallet %s: %w", id,
				db.ErrWalletNotFound)
		}

		cursors, err := bucket.CreateBucketIfNotExists(
			cursorsBucketKey,
		)
		if err != nil {
			return err
		}

		return cursors.Put(uint32Key(branch), uint32Key(next))
	})
}

// Close closes the underlying database.
func (w *WalletDB) Close() error {
	return w.db.Close()
}
