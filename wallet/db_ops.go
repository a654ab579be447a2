package wallet

import (
	"fmt"
	"strings"

	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/wallet/internal/db"
	"github.com/btcsuite/descwallet/wtxmgr"
)

// publicForm returns the string a descriptor is persisted and identified
// by: its watch-only form, so that private keys never reach the database.
// A descriptor without a watch-only form (a private key with a hardened
// wildcard) is represented by its checksum alone.
func publicForm(desc *descriptor.Descriptor) string {
	pub, err := desc.AsPublic()
	if err != nil {
		return "#" + checksumOf(desc.String())
	}

	return pub.String()
}

// checksumOf returns the checksum suffix of a canonical descriptor string.
func checksumOf(desc string) string {
	return desc[strings.LastIndexByte(desc, '#')+1:]
}

// walletID derives the identity of a wallet from the checksums of the
// watch-only forms of its descriptors. A private descriptor and its
// watch-only form therefore open the same wallet.
func walletID(external, internal *descriptor.Descriptor) string {
	id := checksumOf(publicForm(external))
	if internal != nil {
		id += ":" + checksumOf(publicForm(internal))
	}

	return id
}

// dbState assembles the persisted form of the wallet from a transaction
// store and the keychain cursors.
func (w *Wallet) dbState(txStore *wtxmgr.Store,
	cursors map[uint32]uint32) *db.WalletState {

	state := &db.WalletState{
		Network:            w.params.Name,
		ExternalDescriptor: publicForm(w.external.desc),
		Cursors:            cursors,
		Txs:                txStore.Records(),
	}
	if w.internal != nil {
		state.InternalDescriptor = publicForm(w.internal.desc)
	}

	return state
}

// cursors returns the current cursor of every keychain keyed by branch.
func (w *Wallet) cursors() map[uint32]uint32 {
	cursors := make(map[uint32]uint32, 2)
	for _, kc := range w.keychains() {
		cursors[kc.kind.branch()] = kc.cursor
	}

	return cursors
}

// checkStoredState verifies that a stored state belongs to this wallet.
func (w *Wallet) checkStoredState(state *db.WalletState) error {
	if state.Network != w.params.Name {
		return fmt.Errorf("%w: stored for network %s, opened for %s",
			ErrWalletMismatch, state.Network, w.params.Name)
	}

	if state.ExternalDescriptor != publicForm(w.external.desc) {
		return fmt.Errorf("%w: external descriptor differs",
			ErrWalletMismatch)
	}

	var internal string
	if w.internal != nil {
		internal = publicForm(w.internal.desc)
	}
	if state.InternalDescriptor != internal {
		return fmt.Errorf("%w: internal descriptor differs",
			ErrWalletMismatch)
	}

	return nil
}
