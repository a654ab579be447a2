// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"math"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

const (
	// kilo is a generic multiplier for kilo units.
	kilo = 1000

	// floatStringPrecision is the number of decimals a fee rate is
	// printed with, enough to show 1 sat/kvb.
	floatStringPrecision = 3
)

// SatPerVByte is a fee rate in sat/vb. It is kept as an exact fraction of
// satoshis per kilo-weight-unit so that rates computed from a fee and a size
// compare exactly.
type SatPerVByte struct {
	satsPerKWU *big.Rat
}

// NewSatPerVByte creates a whole fee rate in sat/vb.
func NewSatPerVByte(rate btcutil.Amount) SatPerVByte {
	return CalcSatPerVByte(rate, NewVByte(1))
}

// CalcSatPerVByte calculates the fee rate of paying fee for a transaction of
// size vb. A zero size yields a zero rate.
func CalcSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	if vb.wu == 0 {
		return SatPerVByte{satsPerKWU: big.NewRat(0, 1)}
	}

	// sat/kwu = fee * 1000 / size_in_wu.
	return SatPerVByte{satsPerKWU: big.NewRat(
		int64(fee*kilo), safeUint64ToInt64(vb.wu),
	)}
}

// FeeForVByte returns the fee the rate pays for a transaction of size vb,
// rounded down.
func (s SatPerVByte) FeeForVByte(vb VByte) btcutil.Amount {
	fee := new(big.Rat).Mul(s.rate(), big.NewRat(
		safeUint64ToInt64(vb.wu), kilo,
	))

	return btcutil.Amount(new(big.Int).Quo(fee.Num(), fee.Denom()).Int64())
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.rate().Cmp(other.rate()) == 0
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.rate().Cmp(other.rate()) < 0
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	// sat/vb = sat/kwu * 4 / 1000.
	vbRate := new(big.Rat).Mul(
		s.rate(), big.NewRat(blockchain.WitnessScaleFactor, kilo),
	)

	return vbRate.FloatString(floatStringPrecision) + " sat/vb"
}

// rate returns the canonical sat/kwu value, treating the zero value as a
// zero rate.
func (s SatPerVByte) rate() *big.Rat {
	if s.satsPerKWU == nil {
		return new(big.Rat)
	}

	return s.satsPerKWU
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
// Sizes are bounded by consensus, so the cap is never hit in practice.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(u)
}
