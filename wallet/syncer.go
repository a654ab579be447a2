// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSyncFailed is returned when a sync could not complete because the
	// chain source or the database failed. The wallet state is left
	// untouched.
	ErrSyncFailed = errors.New("sync failed")

	// ErrChainDataCorrupt is returned when the chain source answered with
	// data that is inconsistent or cannot be decoded. The wallet state is
	// left untouched.
	ErrChainDataCorrupt = errors.New("chain data corrupt")
)

const (
	// maxConcurrentQueries bounds the chain source requests a sync keeps
	// in flight per keychain.
	maxConcurrentQueries = 8
)

// Progress receives updates while a sync runs. Update is called once per
// scanned keychain and once when the results are merged, with progress
// growing from 0 to 1.
type Progress interface {
	Update(progress float32, message string)
}

// progressReporter serializes the updates of the concurrent scans.
type progressReporter struct {
	mu       sync.Mutex
	progress Progress
	total    int
	done     int
}

// step records one finished step.
func (r *progressReporter) step(message string) {
	if r.progress == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.done++
	r.progress.Update(float32(r.done)/float32(r.total), message)
}

// scanTarget is a keychain as seen when a sync starts.
type scanTarget struct {
	kind   KeychainKind
	desc   *descriptor.Descriptor
	cursor uint32
}

// scanResult is what the scan of one keychain found.
type scanResult struct {
	kind KeychainKind

	// expansions holds every output derived during the scan.
	expansions map[uint32]*descriptor.Expansion

	// nextUnfound is one past the highest used index.
	nextUnfound uint32

	// history and unspent collect the activity of all used indexes in
	// index order.
	history []chain.HistoryItem
	unspent []chain.Unspent
}

// pendingTx is a transaction a sync will record.
type pendingTx struct {
	hash   chainhash.Hash
	height int32

	// rec is set once the transaction is known.
	rec *wtxmgr.TxRecord
}

// Sync discovers the transactions of the wallet through source and replaces
// the wallet history and UTXO set with what it found. Either the whole sync
// succeeds or the wallet is left as it was: chain source and database
// failures return ErrSyncFailed and inconsistent chain data returns
// ErrChainDataCorrupt. progress may be nil.
//
// Concurrent syncs are serialized. Addresses can be handed out while a sync
// scans, readers only block while the results are merged.
func (w *Wallet) Sync(ctx context.Context, source chain.Source,
	progress Progress) error {

	if source == nil {
		return fmt.Errorf("%w: nil chain source", ErrInvalidConfig)
	}

	w.syncMtx.Lock()
	defer w.syncMtx.Unlock()

	if err := w.state.toSyncing(); err != nil {
		return err
	}

	if err := w.sync(ctx, source, progress); err != nil {
		w.state.toSyncFailed()
		log.Errorf("Sync of wallet %s failed: %v", w.id, err)

		return err
	}

	w.state.toSynced()

	return nil
}

// sync runs one synchronization. The caller holds syncMtx.
func (w *Wallet) sync(ctx context.Context, source chain.Source,
	progress Progress) error {

	gapLimit := w.gapLimit
	if sg, ok := source.(chain.StopGapper); ok && sg.StopGap() > 0 {
		gapLimit = sg.StopGap()
	}

	// Snapshot what the scans need. Descriptors never change, and merge
	// reconciles the cursors with the ones current at that time.
	w.mu.RLock()
	targets := make([]scanTarget, 0, 2)
	known := make(map[string]KeychainKind)
	for _, kc := range w.keychains() {
		targets = append(targets, scanTarget{
			kind:   kc.kind,
			desc:   kc.desc,
			cursor: kc.cursor,
		})
		for script := range kc.scripts {
			known[script] = kc.kind
		}
	}
	prev := w.txStore
	w.mu.RUnlock()

	log.Infof("Syncing wallet %s with gap limit %d", w.id, gapLimit)

	reporter := &progressReporter{
		progress: progress,
		total:    len(targets) + 1,
	}

	results := make([]*scanResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		g.Go(func() error {
			res, err := scanKeychain(gctx, source, target, gapLimit)
			if err != nil {
				return fmt.Errorf("scan %v keychain: %w",
					target.kind, err)
			}
			results[i] = res

			reporter.step(fmt.Sprintf("scanned %v keychain",
				target.kind))

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		for _, exp := range res.expansions {
			known[string(exp.Script)] = res.kind
		}
	}

	txStore, err := w.buildStore(ctx, source, prev, results, known)
	if err != nil {
		return err
	}

	if err := w.merge(ctx, txStore, results, gapLimit); err != nil {
		return err
	}

	reporter.step("merged sync results")

	return nil
}

// scanKeychain queries the activity of a keychain window by window until a
// full gap of unused indexes past the last used one has been seen.
func scanKeychain(ctx context.Context, source chain.Source,
	target scanTarget, gapLimit uint32) (*scanResult, error) {

	brs := NewBranchRecoveryState(gapLimit, target.cursor)
	activity := make(map[uint32]*chain.ScriptActivity)

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSyncFailed, err)
		}

		window, err := brs.deriveWindow(target.desc)
		if err != nil {
			return nil, err
		}
		if len(window) == 0 {
			break
		}

		found, err := queryWindow(ctx, source, window)
		if err != nil {
			return nil, err
		}

		for i, exp := range window {
			if !found[i].Active() {
				continue
			}

			brs.ReportFound(exp.Index)
			activity[exp.Index] = found[i]
		}
	}

	res := &scanResult{
		kind:        target.kind,
		expansions:  brs.Expansions(),
		nextUnfound: brs.NextUnfound(),
	}

	indexes := make([]uint32, 0, len(activity))
	for index := range activity {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool {
		return indexes[i] < indexes[j]
	})
	for _, index := range indexes {
		res.history = append(res.history, activity[index].History...)
		res.unspent = append(res.unspent, activity[index].Unspent...)
	}

	log.Debugf("Scanned %d indexes of the %v keychain, %d used",
		len(res.expansions), target.kind, len(indexes))

	return res, nil
}

// queryWindow fetches the activity of every output of a window. The result
// is aligned with window.
func queryWindow(ctx context.Context, source chain.Source,
	window []*descriptor.Expansion) ([]*chain.ScriptActivity, error) {

	found := make([]*chain.ScriptActivity, len(window))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)
	for i, exp := range window {
		g.Go(func() error {
			act, err := source.ScriptActivity(gctx, exp.Script)
			if err != nil {
				return sourceErr(fmt.Sprintf("activity of "+
					"index %d", exp.Index), err)
			}
			if act == nil {
				act = &chain.ScriptActivity{}
			}
			found[i] = act

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return found, nil
}

// sourceErr classifies a chain source failure.
func sourceErr(op string, err error) error {
	if errors.Is(err, chain.ErrMalformedResponse) {
		return fmt.Errorf("%w: %s: %w", ErrChainDataCorrupt, op, err)
	}

	return fmt.Errorf("%w: %s: %w", ErrSyncFailed, op, err)
}

// buildStore builds a fresh transaction store from the scan results.
// Transactions already in prev keep their position and first seen time,
// newly found ones follow ordered by height with unmined ones last.
// Transactions no script reports any more are not carried over.
func (w *Wallet) buildStore(ctx context.Context, source chain.Source,
	prev *wtxmgr.Store, results []*scanResult,
	known map[string]KeychainKind) (*wtxmgr.Store, error) {

	pending, err := collectHistory(results)
	if err != nil {
		return nil, err
	}

	// Reuse what we already have and order the rest.
	var (
		ordered []*pendingTx
		fresh   []*pendingTx
	)
	for _, rec := range prev.Records() {
		r, err := wtxmgr.NewTxRecord(rec.SerializedTx, rec.Received)
		if err != nil {
			return nil, err
		}

		p, ok := pending[r.Hash]
		if !ok {
			log.Debugf("Dropping transaction %v no longer "+
				"reported by the chain source", r.Hash)
			continue
		}
		p.rec = r
		ordered = append(ordered, p)
	}
	for _, p := range pending {
		if p.rec == nil {
			fresh = append(fresh, p)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return lessPending(fresh[i], fresh[j])
	})

	if err := fetchTransactions(ctx, source, fresh, w.clock); err != nil {
		return nil, err
	}
	ordered = append(ordered, fresh...)

	blocks, err := fetchBlocks(ctx, source, ordered)
	if err != nil {
		return nil, err
	}

	txStore := wtxmgr.NewStore(w.params)
	for _, p := range ordered {
		var block *wtxmgr.BlockMeta
		if p.height > 0 {
			block = blocks[p.height]
		}

		if err := txStore.InsertTx(p.rec, block); err != nil {
			return nil, err
		}

		for i, txOut := range p.rec.MsgTx.TxOut {
			kind, ok := known[string(txOut.PkScript)]
			if !ok {
				continue
			}

			err := txStore.AddCredit(
				&p.rec.Hash, uint32(i), kind == KeychainInternal,
			)
			if err != nil {
				return nil, err
			}
		}
	}

	if err := checkUnspent(txStore, results); err != nil {
		return nil, err
	}

	return txStore, nil
}

// collectHistory merges the history of all scanned scripts into one entry
// per transaction. A transaction reported at two different block heights is
// corrupt chain data.
func collectHistory(
	results []*scanResult) (map[chainhash.Hash]*pendingTx, error) {

	pending := make(map[chainhash.Hash]*pendingTx)
	for _, res := range results {
		for _, item := range res.history {
			height := item.Height
			if !item.Confirmed() {
				height = 0
			}

			p, ok := pending[item.TxHash]
			if !ok {
				pending[item.TxHash] = &pendingTx{
					hash:   item.TxHash,
					height: height,
				}

				continue
			}

			switch {
			case p.height == height:

			case p.height == 0 || height == 0:
				// The mempool and confirmed views raced,
				// trust the confirmation.
				p.height = max(p.height, height)

			default:
				return nil, fmt.Errorf("%w: transaction %v "+
					"reported at heights %d and %d",
					ErrChainDataCorrupt, item.TxHash,
					p.height, height)
			}
		}
	}

	return pending, nil
}

// lessPending orders mined transactions by height before unmined ones, and
// breaks ties by txid.
func lessPending(a, b *pendingTx) bool {
	switch {
	case a.height == b.height:
		return a.hash.String() < b.hash.String()

	case a.height == 0:
		return false

	case b.height == 0:
		return true

	default:
		return a.height < b.height
	}
}

// fetchTransactions fetches and verifies the given transactions.
func fetchTransactions(ctx context.Context, source chain.Source,
	txs []*pendingTx, clk clock.Clock) error {

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)
	for _, p := range txs {
		g.Go(func() error {
			msgTx, err := source.Transaction(gctx, p.hash)
			if err != nil {
				return sourceErr(fmt.Sprintf("transaction %v",
					p.hash), err)
			}
			if msgTx == nil || msgTx.TxHash() != p.hash {
				return fmt.Errorf("%w: chain source returned "+
					"the wrong transaction for %v",
					ErrChainDataCorrupt, p.hash)
			}

			// Decode the record from its own bytes so that it
			// matches one rebuilt from the database and shares no
			// memory with the source's copy.
			var buf bytes.Buffer
			if err := msgTx.Serialize(&buf); err != nil {
				return fmt.Errorf("%w: %w", ErrChainDataCorrupt,
					err)
			}

			rec, err := wtxmgr.NewTxRecord(buf.Bytes(), clk.Now())
			if err != nil {
				return fmt.Errorf("%w: %w", ErrChainDataCorrupt,
					err)
			}
			p.rec = rec

			return nil
		})
	}

	return g.Wait()
}

// fetchBlocks fetches the header of every block the given transactions are
// mined in.
func fetchBlocks(ctx context.Context, source chain.Source,
	txs []*pendingTx) (map[int32]*wtxmgr.BlockMeta, error) {

	var heights []int32
	seen := make(map[int32]struct{})
	for _, p := range txs {
		if p.height <= 0 {
			continue
		}
		if _, ok := seen[p.height]; ok {
			continue
		}
		seen[p.height] = struct{}{}
		heights = append(heights, p.height)
	}

	var mu sync.Mutex
	blocks := make(map[int32]*wtxmgr.BlockMeta, len(heights))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)
	for _, height := range heights {
		g.Go(func() error {
			header, err := source.BlockHeader(gctx, height)
			if err != nil {
				return sourceErr(fmt.Sprintf("header at "+
					"height %d", height), err)
			}
			if header == nil {
				return fmt.Errorf("%w: no header at height %d",
					ErrChainDataCorrupt, height)
			}

			mu.Lock()
			blocks[height] = blockMeta(header, height)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return blocks, nil
}

// blockMeta returns the block metadata of a header.
func blockMeta(header *wire.BlockHeader, height int32) *wtxmgr.BlockMeta {
	return &wtxmgr.BlockMeta{
		Block: wtxmgr.Block{
			Hash:   header.BlockHash(),
			Height: height,
		},
		Time: header.Timestamp,
	}
}

// checkUnspent verifies that every unspent output the chain source reported
// is a credit of the rebuilt store with the same value. An unspent output of
// a transaction missing from the history fails the sync with ErrSyncFailed
// since the history and the output list are fetched separately.
func checkUnspent(txStore *wtxmgr.Store, results []*scanResult) error {
	credits := make(map[wire.OutPoint]wtxmgr.Credit)
	for _, c := range txStore.UnspentOutputs() {
		credits[c.OutPoint] = c
	}

	for _, res := range results {
		for _, u := range res.unspent {
			c, ok := credits[u.OutPoint]
			if !ok {
				if isSpentCredit(txStore, u.OutPoint) {
					// Spent by a transaction the source
					// saw after listing the outputs.
					log.Debugf("Output %v reported unspent "+
						"is spent", u.OutPoint)
					continue
				}

				// Listed after a payment the history did not
				// include yet. A later sync will see both.
				_, err := txStore.TxDetails(&u.OutPoint.Hash)
				if errors.Is(err, wtxmgr.ErrUnknownTx) {
					return fmt.Errorf("%w: unspent output "+
						"%v has no transaction in the "+
						"history", ErrSyncFailed,
						u.OutPoint)
				}

				return fmt.Errorf("%w: unspent output %v is "+
					"not a wallet output in the history",
					ErrChainDataCorrupt, u.OutPoint)
			}

			if c.Amount != u.Value {
				return fmt.Errorf("%w: unspent output %v "+
					"reported with value %v, transaction "+
					"pays %v", ErrChainDataCorrupt,
					u.OutPoint, u.Value, c.Amount)
			}
		}
	}

	return nil
}

// isSpentCredit reports whether op is a recorded wallet output that a
// recorded transaction spends.
func isSpentCredit(txStore *wtxmgr.Store, op wire.OutPoint) bool {
	details, err := txStore.TxDetails(&op.Hash)
	if err != nil {
		return false
	}

	for _, c := range details.Credits {
		if c.Index == op.Index {
			return c.Spent
		}
	}

	return false
}

// merge persists the sync results and swaps them into the wallet.
func (w *Wallet) merge(ctx context.Context, txStore *wtxmgr.Store,
	results []*scanResult, gapLimit uint32) error {

	w.mu.Lock()
	defer w.mu.Unlock()

	cursors := make(map[uint32]uint32, len(results))
	for _, res := range results {
		kc := w.keychain(res.kind)
		cursors[kc.kind.branch()] = max(kc.cursor, res.nextUnfound)
	}

	err := w.store.PutWallet(ctx, w.id, w.dbState(txStore, cursors))
	if err != nil {
		return fmt.Errorf("%w: persist wallet state: %w",
			ErrSyncFailed, err)
	}

	w.txStore = txStore
	for _, res := range results {
		kc := w.keychain(res.kind)
		for _, exp := range res.expansions {
			kc.track(exp)
		}
		kc.cursor = cursors[kc.kind.branch()]

		if err := kc.deriveTo(kc.cursor + gapLimit); err != nil {
			log.Warnf("Unable to extend %v lookahead: %v",
				kc.kind, err)
		}
		kc.refreshUsed(txStore)
	}

	bal := txStore.Balance()
	log.Infof("Synced wallet %s: %d transactions, balance %v "+
		"(%v unconfirmed)", w.id, txStore.Len(), bal.Total(),
		bal.Unconfirmed)

	return nil
}
