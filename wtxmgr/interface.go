// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// TxStore is the subset of the Store the wallet needs to record the results
// of a chain scan.
type TxStore interface {
	// InsertTx records a transaction. A nil block records it as unmined.
	InsertTx(rec *TxRecord, block *BlockMeta) error

	// AddCredit marks an output of a recorded transaction as paying to
	// the wallet.
	AddCredit(hash *chainhash.Hash, index uint32, change bool) error

	// Contains reports whether the transaction is recorded.
	Contains(hash *chainhash.Hash) bool
}
