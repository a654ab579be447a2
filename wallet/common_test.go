package wallet

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/wallet/internal/db"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	// testTpub is the BIP84 account key m/84h/1h/0h of a testnet wallet
	// with master fingerprint c258d2e4.
	testTpub = "tpubDDYkZojQFQjht8Tm4jsS3iuEmKjTiEGjG6KnuFNKKJb5A6ZUCUZK" +
		"dvLdSDWofKi4ToRCwb9poe1XdqfUnP4jaJjCB2Zwv11ZLgSbnZSNecE"

	testDescriptor       = "wpkh([c258d2e4/84h/1h/0h]" + testTpub + "/0/*)"
	testChangeDescriptor = "wpkh([c258d2e4/84h/1h/0h]" + testTpub + "/1/*)"

	// testAddress is the first external address of testDescriptor.
	testAddress = "tb1qzg4mckdh50nwdm9hkzq06528rsu73hjxxzem3e"

	watchTpub = "tpubDDmEgrFuptCnGRkXZ2Pye4Wten31u6jWESxZnc8a3VGkUyJh7KLZ" +
		"un6Hfh8iUWp7cEFM63vCyxCedcNhWUhfmaMzpXnbHzmeNVFseB4Hgr7"

	watchDescriptor = "wpkh([ab5313e8/84h/0h/0h]" + watchTpub + "/0/*)"

	// watchAddress is the first address of watchDescriptor.
	watchAddress = "tb1qkuge0xj8lmhv9vh0rckdgctv6a5x7707d0z9ky"

	testMnemonic = "tuition bright run olympic table near trial century " +
		"memory unit rifle express"

	testGapLimit = 5
)

var (
	errChainMock = errors.New("chain error")
	errPutMock   = errors.New("put error")

	testNet = &chaincfg.TestNet3Params

	testTime = time.Unix(1700000000, 0)

	// foreignScript is an output script that belongs to nobody in the
	// tests.
	foreignScript = []byte{
		0x00, 0x14, 0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef,
		0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef, 0xde, 0xad,
		0xbe, 0xef,
	}
)

// testConfig returns the configuration of an in-memory test wallet with a
// change descriptor.
func testConfig() Config {
	return Config{
		Descriptor:       testDescriptor,
		ChangeDescriptor: fn.Some(testChangeDescriptor),
		ChainParams:      testNet,
		Database:         MemoryDatabase(),
		GapLimit:         testGapLimit,
		Clock:            clock.NewTestClock(testTime),
	}
}

// newTestWallet creates a wallet from testConfig after applying the given
// modifiers.
func newTestWallet(t *testing.T, mods ...func(*Config)) *Wallet {
	t.Helper()

	cfg := testConfig()
	for _, mod := range mods {
		mod(&cfg)
	}

	w, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = w.Close()
	})

	return w
}

// scriptAt returns the output script of a keychain index.
func scriptAt(t *testing.T, w *Wallet, kind KeychainKind,
	index uint32) []byte {

	t.Helper()

	var (
		info *AddressInfo
		err  error
	)
	if kind == KeychainInternal {
		info, err = w.GetInternalAddress(
			context.Background(), AddressIndexPeek(index),
		)
	} else {
		info, err = w.GetAddress(
			context.Background(), AddressIndexPeek(index),
		)
	}
	require.NoError(t, err)

	return info.Script
}

// fakeChain is an in-memory chain source. Transactions are added with pay
// and spend, and the script activity is computed from them the way an
// Electrum server reports it.
type fakeChain struct {
	mu sync.Mutex

	txs     map[chainhash.Hash]*wire.MsgTx
	heights map[chainhash.Hash]int32
	order   []chainhash.Hash

	// queries counts the activity requests per script.
	queries map[string]int

	nonce uint32
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		txs:     make(map[chainhash.Hash]*wire.MsgTx),
		heights: make(map[chainhash.Hash]int32),
		queries: make(map[string]int),
	}
}

// add records a transaction at height, zero meaning the mempool.
func (c *fakeChain) add(tx *wire.MsgTx, height int32) *wire.MsgTx {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := tx.TxHash()
	c.txs[hash] = tx
	c.heights[hash] = height
	c.order = append(c.order, hash)

	return tx
}

// pay adds a transaction funded from outside the wallet that pays value to
// script.
func (c *fakeChain) pay(script []byte, value int64,
	height int32) *wire.MsgTx {

	c.mu.Lock()
	c.nonce++
	nonce := c.nonce
	c.mu.Unlock()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{0xfe, byte(nonce), byte(nonce >> 8)},
			Index: nonce,
		},
	})
	tx.AddTxOut(wire.NewTxOut(value, script))

	return c.add(tx, height)
}

// spend adds a transaction spending prev with the given outputs.
func (c *fakeChain) spend(prev []wire.OutPoint, outs []*wire.TxOut,
	height int32) *wire.MsgTx {

	tx := wire.NewMsgTx(2)
	for _, op := range prev {
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
	}
	for _, out := range outs {
		tx.AddTxOut(out)
	}

	return c.add(tx, height)
}

// drop removes a transaction, as if it was evicted from the mempool.
func (c *fakeChain) drop(hash chainhash.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.txs, hash)
	delete(c.heights, hash)
	for i, h := range c.order {
		if h == hash {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// queryCount returns how often the activity of script was requested.
func (c *fakeChain) queryCount(script []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.queries[string(script)]
}

// ScriptActivity implements chain.Source.
func (c *fakeChain) ScriptActivity(ctx context.Context,
	pkScript []byte) (*chain.ScriptActivity, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.queries[string(pkScript)]++

	spent := make(map[wire.OutPoint]struct{})
	for _, tx := range c.txs {
		for _, in := range tx.TxIn {
			spent[in.PreviousOutPoint] = struct{}{}
		}
	}

	act := &chain.ScriptActivity{}
	for _, hash := range c.order {
		tx, height := c.txs[hash], c.heights[hash]

		touches := false
		for i, out := range tx.TxOut {
			if !bytes.Equal(out.PkScript, pkScript) {
				continue
			}
			touches = true

			op := wire.OutPoint{Hash: hash, Index: uint32(i)}
			if _, ok := spent[op]; ok {
				continue
			}
			act.Unspent = append(act.Unspent, chain.Unspent{
				OutPoint: op,
				Height:   height,
				Value:    btcutil.Amount(out.Value),
			})
		}
		for _, in := range tx.TxIn {
			prev, ok := c.txs[in.PreviousOutPoint.Hash]
			if !ok {
				continue
			}
			out := prev.TxOut[in.PreviousOutPoint.Index]
			if bytes.Equal(out.PkScript, pkScript) {
				touches = true
			}
		}

		if touches {
			act.History = append(act.History, chain.HistoryItem{
				TxHash: hash,
				Height: height,
			})
		}
	}

	return act, nil
}

// Transaction implements chain.Source.
func (c *fakeChain) Transaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, ok := c.txs[txid]
	if !ok {
		return nil, errChainMock
	}

	return tx.Copy(), nil
}

// BlockHeader implements chain.Source.
func (c *fakeChain) BlockHeader(ctx context.Context,
	height int32) (*wire.BlockHeader, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return testHeader(height), nil
}

// testHeader returns a deterministic header for a height.
func testHeader(height int32) *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:   4,
		Timestamp: time.Unix(1600000000+int64(height)*600, 0),
		Bits:      0x1d00ffff,
		Nonce:     uint32(height),
	}
}

// mockSource is a testify mock of chain.Source.
type mockSource struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockSource implements the
// chain.Source interface.
var _ chain.Source = (*mockSource)(nil)

func (m *mockSource) ScriptActivity(ctx context.Context,
	pkScript []byte) (*chain.ScriptActivity, error) {

	args := m.Called(ctx, pkScript)
	act, _ := args.Get(0).(*chain.ScriptActivity)

	return act, args.Error(1)
}

func (m *mockSource) Transaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	args := m.Called(ctx, txid)
	tx, _ := args.Get(0).(*wire.MsgTx)

	return tx, args.Error(1)
}

func (m *mockSource) BlockHeader(ctx context.Context,
	height int32) (*wire.BlockHeader, error) {

	args := m.Called(ctx, height)
	header, _ := args.Get(0).(*wire.BlockHeader)

	return header, args.Error(1)
}

// failingStore is a db.Store whose writes fail once armed.
type failingStore struct {
	db.Store

	mu    sync.Mutex
	armed bool
}

func (f *failingStore) arm() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.armed = true
}

func (f *failingStore) PutWallet(ctx context.Context, id string,
	state *db.WalletState) error {

	f.mu.Lock()
	armed := f.armed
	f.mu.Unlock()

	if armed {
		return errPutMock
	}

	return f.Store.PutWallet(ctx, id, state)
}

func (f *failingStore) PutCursor(ctx context.Context, id string, branch,
	next uint32) error {

	f.mu.Lock()
	armed := f.armed
	f.mu.Unlock()

	if armed {
		return errPutMock
	}

	return f.Store.PutCursor(ctx, id, branch, next)
}

// recordingProgress collects the progress updates of a sync.
type recordingProgress struct {
	mu      sync.Mutex
	updates []float32
}

func (p *recordingProgress) Update(progress float32, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.updates = append(p.updates, progress)
}
