// Copyright (c) 2015-2020 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/descwallet/wtxmgr"
)

// DropTransactionHistory removes every recorded transaction of the wallet
// from memory and from its database. The address cursors are kept, so the
// next sync rediscovers the full history of the handed out addresses.
func (w *Wallet) DropTransactionHistory(ctx context.Context) error {
	if err := w.state.validateOpen(); err != nil {
		return err
	}

	// A sync merging its results afterwards would bring the history back.
	w.syncMtx.Lock()
	defer w.syncMtx.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.state.validateOpen(); err != nil {
		return err
	}

	log.Infof("Dropping transaction history of wallet %s (%d "+
		"transactions)", w.id, w.txStore.Len())

	empty := wtxmgr.NewStore(w.params)
	err := w.store.PutWallet(ctx, w.id, w.dbState(empty, w.cursors()))
	if err != nil {
		return fmt.Errorf("persist wallet state: %w", err)
	}

	w.txStore = empty
	for _, kc := range w.keychains() {
		kc.refreshUsed(empty)
	}

	return nil
}
