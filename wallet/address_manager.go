// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wtxmgr"
)

var (
	// ErrIndexOutOfRange is returned when an address is requested at an
	// index a descriptor wildcard cannot take.
	ErrIndexOutOfRange = errors.New("address index out of range")
)

// KeychainKind selects one of the two keychains of a wallet.
type KeychainKind uint8

const (
	// KeychainExternal is the keychain of receiving addresses.
	KeychainExternal KeychainKind = iota

	// KeychainInternal is the keychain of change addresses.
	KeychainInternal
)

// String returns the string representation of a KeychainKind.
func (k KeychainKind) String() string {
	switch k {
	case KeychainExternal:
		return "external"

	case KeychainInternal:
		return "internal"

	default:
		return "unknown keychain"
	}
}

// branch returns the BIP44 branch number the keychain is stored under.
func (k KeychainKind) branch() uint32 {
	if k == KeychainInternal {
		return waddrmgr.InternalBranch
	}

	return waddrmgr.ExternalBranch
}

// addressMode is the way an AddressIndex picks its index.
type addressMode uint8

const (
	modeNew addressMode = iota
	modeLastUnused
	modePeek
	modeReset
)

// AddressIndex selects which address GetAddress returns.
type AddressIndex struct {
	mode  addressMode
	index uint32
}

var (
	// AddressIndexNew returns the address at the cursor and advances the
	// cursor past it.
	AddressIndexNew = AddressIndex{mode: modeNew}

	// AddressIndexLastUnused returns the most recently handed out address
	// if no sync has seen it used yet, and the address at the cursor
	// otherwise. The cursor never moves.
	AddressIndexLastUnused = AddressIndex{mode: modeLastUnused}
)

// AddressIndexPeek returns the address at index without any state change.
func AddressIndexPeek(index uint32) AddressIndex {
	return AddressIndex{mode: modePeek, index: index}
}

// AddressIndexReset returns the address at index and moves the cursor right
// after it. Moving the cursor back makes NEW hand out addresses again.
func AddressIndexReset(index uint32) AddressIndex {
	return AddressIndex{mode: modeReset, index: index}
}

// String returns the string representation of an AddressIndex.
func (a AddressIndex) String() string {
	switch a.mode {
	case modeNew:
		return "new"

	case modeLastUnused:
		return "last_unused"

	case modePeek:
		return fmt.Sprintf("peek(%d)", a.index)

	case modeReset:
		return fmt.Sprintf("reset(%d)", a.index)

	default:
		return "unknown"
	}
}

// AddressInfo is an address of the wallet together with where it came from.
type AddressInfo struct {
	// Index is the wildcard substitution of the address.
	Index uint32

	// Address is the encoded address.
	Address btcutil.Address

	// Keychain is the keychain the address was derived on.
	Keychain KeychainKind

	// Script is the output script paying to Address.
	Script []byte

	// RedeemScript is only set for P2SH wrapped addresses.
	RedeemScript []byte

	// Derivation is the BIP32 origin of the key behind the address.
	Derivation *psbt.Bip32Derivation
}

// keychain is the derivation state of one descriptor. It is guarded by the
// wallet mutex.
type keychain struct {
	kind KeychainKind
	desc *descriptor.Descriptor

	// cursor is the next index NEW hands out.
	cursor uint32

	// scripts maps every derived output script to its index.
	scripts map[string]uint32

	// expansions caches the derived outputs by index.
	expansions map[uint32]*descriptor.Expansion

	// used holds the indexes whose scripts received coins.
	used map[uint32]struct{}
}

// newKeychain creates the state of a keychain with nothing derived yet.
func newKeychain(kind KeychainKind, desc *descriptor.Descriptor,
	cursor uint32) *keychain {

	return &keychain{
		kind:       kind,
		desc:       desc,
		cursor:     cursor,
		scripts:    make(map[string]uint32),
		expansions: make(map[uint32]*descriptor.Expansion),
		used:       make(map[uint32]struct{}),
	}
}

// track records a derived output so that its script is recognized.
func (k *keychain) track(exp *descriptor.Expansion) {
	k.expansions[exp.Index] = exp
	k.scripts[string(exp.Script)] = exp.Index
}

// deriveTo derives and tracks every index below end that is not tracked
// yet.
func (k *keychain) deriveTo(end uint32) error {
	end = min(end, maxChildIndex)
	for i := uint32(0); i < end; i++ {
		if _, ok := k.expansions[i]; ok {
			continue
		}

		exp, err := k.desc.Expand(i)
		if errors.Is(err, hdkeychain.ErrInvalidChild) {
			continue
		}
		if err != nil {
			return fmt.Errorf("expand %v index %d: %w", k.kind, i,
				err)
		}

		k.track(exp)
	}

	return nil
}

// expansionFrom returns the output at the first valid index at or after
// index. It never writes to the keychain, so it may run under a read lock.
func (k *keychain) expansionFrom(index uint32) (*descriptor.Expansion,
	error) {

	for ; index < maxChildIndex; index++ {
		if exp, ok := k.expansions[index]; ok {
			return exp, nil
		}

		exp, err := k.desc.Expand(index)
		if errors.Is(err, hdkeychain.ErrInvalidChild) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("expand %v index %d: %w",
				k.kind, index, err)
		}

		return exp, nil
	}

	return nil, fmt.Errorf("%w: %v keychain exhausted",
		ErrIndexOutOfRange, k.kind)
}

// lastUnused returns the index LAST_UNUSED resolves to.
func (k *keychain) lastUnused() uint32 {
	if k.cursor == 0 {
		return 0
	}

	last := k.cursor - 1
	if _, used := k.used[last]; used {
		return k.cursor
	}

	return last
}

// lastUsed returns the highest used index, if any.
func (k *keychain) lastUsed() (uint32, bool) {
	var (
		last  uint32
		found bool
	)
	for index := range k.used {
		if !found || index > last {
			last, found = index, true
		}
	}

	return last, found
}

// refreshUsed recomputes the used indexes from the credits of a transaction
// store.
func (k *keychain) refreshUsed(store *wtxmgr.Store) {
	used := make(map[uint32]struct{})
	for _, details := range store.Transactions() {
		for _, credit := range details.Credits {
			txOut := details.MsgTx.TxOut[credit.Index]

			index, ok := k.scripts[string(txOut.PkScript)]
			if ok {
				used[index] = struct{}{}
			}
		}
	}

	k.used = used
}

// addressInfo builds the AddressInfo of a derived output.
func (k *keychain) addressInfo(exp *descriptor.Expansion) *AddressInfo {
	return &AddressInfo{
		Index:        exp.Index,
		Address:      exp.Address,
		Keychain:     k.kind,
		Script:       exp.Script,
		RedeemScript: exp.RedeemScript,
		Derivation:   exp.Derivation,
	}
}

// GetAddress returns an address of the external keychain.
func (w *Wallet) GetAddress(ctx context.Context,
	index AddressIndex) (*AddressInfo, error) {

	return w.getAddress(ctx, KeychainExternal, index)
}

// GetInternalAddress returns an address of the internal keychain. A wallet
// without a change descriptor hands out external addresses instead.
func (w *Wallet) GetInternalAddress(ctx context.Context,
	index AddressIndex) (*AddressInfo, error) {

	return w.getAddress(ctx, KeychainInternal, index)
}

// getAddress resolves an AddressIndex on the given keychain.
func (w *Wallet) getAddress(ctx context.Context, kind KeychainKind,
	index AddressIndex) (*AddressInfo, error) {

	if err := w.state.validateOpen(); err != nil {
		return nil, err
	}

	switch index.mode {
	case modeLastUnused, modePeek:
		w.mu.RLock()
		defer w.mu.RUnlock()

		kc := w.keychain(kind)

		i := index.index
		if index.mode == modeLastUnused {
			i = kc.lastUnused()
		}
		if i >= maxChildIndex {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
		}

		exp, err := kc.expansionFrom(i)
		if err != nil {
			return nil, err
		}

		return kc.addressInfo(exp), nil

	case modeNew, modeReset:
		w.mu.Lock()
		defer w.mu.Unlock()

		// Close may have released the database while we waited.
		if err := w.state.validateOpen(); err != nil {
			return nil, err
		}

		kc := w.keychain(kind)

		start := kc.cursor
		if index.mode == modeReset {
			start = index.index
		}
		if start >= maxChildIndex {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange,
				start)
		}

		exp, err := kc.expansionFrom(start)
		if err != nil {
			return nil, err
		}

		// Persist first so that a failed write never hands out an
		// address the database does not know about.
		next := exp.Index + 1
		err = w.store.PutCursor(ctx, w.id, kc.kind.branch(), next)
		if err != nil {
			return nil, fmt.Errorf("persist cursor: %w", err)
		}

		kc.cursor = next
		kc.track(exp)

		if err := kc.deriveTo(next + w.gapLimit); err != nil {
			log.Warnf("Unable to extend %v lookahead: %v",
				kc.kind, err)
		}

		log.Debugf("Handed out %v address %v at index %d", kc.kind,
			exp.Address, exp.Index)

		return kc.addressInfo(exp), nil

	default:
		return nil, fmt.Errorf("unknown address index %v", index)
	}
}

// IsMine reports whether the output script belongs to one of the wallet
// keychains. Scripts are known up to the gap limit past the cursor.
func (w *Wallet) IsMine(pkScript []byte) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, kc := range w.keychains() {
		if _, ok := kc.scripts[string(pkScript)]; ok {
			return true
		}
	}

	return false
}
