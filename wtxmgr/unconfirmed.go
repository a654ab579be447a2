// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import "github.com/btcsuite/btcd/btcutil"

// Balance splits the value of the unspent outputs by confirmation.
type Balance struct {
	// Confirmed is the value of unspent outputs of mined transactions.
	Confirmed btcutil.Amount

	// Unconfirmed is the value of unspent outputs of unmined
	// transactions.
	Unconfirmed btcutil.Amount
}

// Total returns the value of all unspent outputs.
func (b Balance) Total() btcutil.Amount {
	return b.Confirmed + b.Unconfirmed
}

// Balance returns the value of the UTXO set.
func (s *Store) Balance() Balance {
	var bal Balance
	for _, utxo := range s.UnspentOutputs() {
		if utxo.Height == -1 {
			bal.Unconfirmed += utxo.Amount
			continue
		}

		bal.Confirmed += utxo.Amount
	}

	return bal
}
