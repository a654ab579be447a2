// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides size and fee rate units for bitcoin transactions.
package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// WeightUnit is a transaction size in weight units, computed as
// base size * 3 + total size.
type WeightUnit struct {
	wu uint64
}

// NewWeightUnit creates a new WeightUnit.
func NewWeightUnit(wu uint64) WeightUnit {
	return WeightUnit{wu: wu}
}

// TxWeight returns the weight of a transaction.
func TxWeight(tx *wire.MsgTx) WeightUnit {
	weight := blockchain.GetTransactionWeight(btcutil.NewTx(tx))

	return WeightUnit{wu: uint64(weight)}
}

// ToVB converts the weight to virtual bytes.
func (w WeightUnit) ToVB() VByte {
	return VByte{wu: w.wu}
}

// String returns the string representation of the weight unit.
func (w WeightUnit) String() string {
	return fmt.Sprintf("%d wu", w.wu)
}

// VByte is a transaction size in virtual bytes, a quarter of a weight unit
// rounded up.
type VByte struct {
	// The size is kept in weight units so that no precision is lost.
	wu uint64
}

// NewVByte creates a new VByte.
func NewVByte(vb uint64) VByte {
	return VByte{wu: vb * blockchain.WitnessScaleFactor}
}

// ToWU converts the size to weight units.
func (v VByte) ToWU() WeightUnit {
	return WeightUnit{wu: v.wu}
}

// String returns the string representation of the virtual size.
func (v VByte) String() string {
	vbytes := (v.wu + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor

	return fmt.Sprintf("%d vb", vbytes)
}
