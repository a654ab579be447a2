// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/pkg/btcunit"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrTxNotFound is returned when a transaction is not found in the
	// store.
	ErrTxNotFound = errors.New("tx not found")
)

// TxReader provides an interface for querying tx history.
type TxReader interface {
	// GetTx returns a detailed description of a tx given its tx hash.
	GetTx(ctx context.Context, txHash chainhash.Hash) (*TxDetail, error)

	// ListTxns returns the txns mined in the given block range. An end
	// height of -1 also includes the unmined ones.
	ListTxns(ctx context.Context, startHeight, endHeight int32) (
		[]*TxDetail, error)
}

// A compile-time assertion to ensure that Wallet implements the TxReader
// interface.
var _ TxReader = (*Wallet)(nil)

// Output contains details for a tx output.
type Output struct {
	// Type is the script class of the output.
	Type txscript.ScriptClass

	// Addresses are the addresses associated with the output script.
	Addresses []btcutil.Address

	// PkScript is the raw output script.
	PkScript []byte

	// Index is the index of the output in the tx.
	Index int

	// Amount is the value of the output.
	Amount btcutil.Amount

	// IsOurs is true if the output pays to one of the keychains.
	IsOurs bool

	// IsChange is true if the output pays to the internal keychain.
	IsChange bool
}

// PrevOut describes a tx input.
type PrevOut struct {
	// OutPoint is the unique reference to the output being spent.
	OutPoint wire.OutPoint

	// IsOurs is true if the input spends a wallet output.
	IsOurs bool
}

// BlockDetails contains details about the block that includes a tx.
type BlockDetails struct {
	// Hash is the hash of the block.
	Hash chainhash.Hash

	// Height is the height of the block.
	Height int32

	// Timestamp is the unix timestamp of the block.
	Timestamp int64
}

// TxDetail describes a tx relevant to a wallet. It is a flattened view of
// the recorded transaction from the wallet's point of view.
type TxDetail struct {
	// Hash is the tx hash.
	Hash chainhash.Hash

	// RawTx is the serialized tx.
	RawTx []byte

	// Received is the value the tx paid to the wallet.
	Received btcutil.Amount

	// Sent is the value of the wallet outputs the tx spent.
	Sent btcutil.Amount

	// Fee is only known when every input spends an output of a recorded
	// tx.
	Fee fn.Option[btcutil.Amount]

	// Weight is the tx's weight.
	Weight btcunit.WeightUnit

	// Block is nil for an unmined tx.
	Block *BlockDetails

	// ReceivedTime is the time the tx was first seen by a sync.
	ReceivedTime time.Time

	// Outputs contains data for each tx output.
	Outputs []Output

	// PrevOuts are the inputs for the tx.
	PrevOuts []PrevOut
}

// Value returns the net value of the tx from the wallet's point of view.
func (d *TxDetail) Value() btcutil.Amount {
	return d.Received - d.Sent
}

// FeeRate returns the fee rate of the tx, known whenever its fee is.
func (d *TxDetail) FeeRate() fn.Option[btcunit.SatPerVByte] {
	return fn.MapOption(func(fee btcutil.Amount) btcunit.SatPerVByte {
		return btcunit.CalcSatPerVByte(fee, d.Weight.ToVB())
	})(d.Fee)
}

// GetTx returns a detailed description of a tx given its tx hash.
//
// NOTE: This method is part of the TxReader interface.
func (w *Wallet) GetTx(_ context.Context, txHash chainhash.Hash) (*TxDetail,
	error) {

	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.txStore.Contains(&txHash) {
		return nil, fmt.Errorf("%w: %v", ErrTxNotFound, txHash)
	}

	txDetails, err := w.txStore.TxDetails(&txHash)
	if err != nil {
		return nil, err
	}

	return w.buildTxDetail(txDetails), nil
}

// ListTxns returns the txns mined between startHeight and endHeight, both
// included, in the order syncs discovered them. An endHeight of -1 extends
// the range to the unmined txns.
//
// NOTE: This method is part of the TxReader interface.
func (w *Wallet) ListTxns(_ context.Context, startHeight,
	endHeight int32) ([]*TxDetail, error) {

	w.mu.RLock()
	defer w.mu.RUnlock()

	var details []*TxDetail
	for _, txDetails := range w.txStore.Transactions() {
		height := txDetails.Block.Height

		switch {
		case height == -1 && endHeight != -1:
			continue

		case height != -1 && height < startHeight:
			continue

		case height != -1 && endHeight != -1 && height > endHeight:
			continue
		}

		details = append(details, w.buildTxDetail(&txDetails))
	}

	return details, nil
}

// buildTxDetail builds a TxDetail from the given wtxmgr.TxDetails. The caller
// holds the wallet mutex.
func (w *Wallet) buildTxDetail(txDetails *wtxmgr.TxDetails) *TxDetail {
	details := &TxDetail{
		Hash:         txDetails.Hash,
		RawTx:        txDetails.SerializedTx,
		Received:     txDetails.TotalReceived(),
		Sent:         txDetails.TotalSent(),
		Fee:          txDetails.Fee,
		Weight:       btcunit.TxWeight(&txDetails.MsgTx),
		ReceivedTime: txDetails.Received,
	}

	if txDetails.Confirmed() {
		details.Block = &BlockDetails{
			Hash:      txDetails.Block.Hash,
			Height:    txDetails.Block.Height,
			Timestamp: txDetails.Block.Time.Unix(),
		}
	}

	credits := make(map[uint32]wtxmgr.CreditRecord, len(txDetails.Credits))
	for _, credit := range txDetails.Credits {
		credits[credit.Index] = credit
	}

	for i, txOut := range txDetails.MsgTx.TxOut {
		sc, outAddresses, _, err := txscript.ExtractPkScriptAddrs(
			txOut.PkScript, w.params,
		)

		var addresses []btcutil.Address
		if err != nil {
			log.Warnf("Cannot extract addresses from pkScript for "+
				"tx %v, output %d: %v", details.Hash, i, err)
		} else {
			addresses = outAddresses
		}

		credit, isOurs := credits[uint32(i)]
		details.Outputs = append(details.Outputs, Output{
			Type:      sc,
			Addresses: addresses,
			PkScript:  txOut.PkScript,
			Index:     i,
			Amount:    btcutil.Amount(txOut.Value),
			IsOurs:    isOurs,
			IsChange:  isOurs && credit.Change,
		})
	}

	isOurInput := make(map[uint32]bool, len(txDetails.Debits))
	for _, debit := range txDetails.Debits {
		isOurInput[debit.Index] = true
	}

	for idx, txIn := range txDetails.MsgTx.TxIn {
		details.PrevOuts = append(details.PrevOuts, PrevOut{
			OutPoint: txIn.PreviousOutPoint,
			IsOurs:   isOurInput[uint32(idx)],
		})
	}

	return details
}
