package chain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// rawLine is a handler result that is written to the connection verbatim
// instead of being wrapped in a response.
type rawLine string

// electrumHandler answers a request. A non-nil RPCError is sent as the error
// of the response.
type electrumHandler func(params []json.RawMessage) (interface{},
	*btcjson.RPCError)

// fakeElectrum is an in-process Electrum server speaking newline delimited
// JSON-RPC over TCP.
type fakeElectrum struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	handlers map[string]electrumHandler
	calls    map[string]int
	drops    map[string]int
	notify   bool
}

func newFakeElectrum(t *testing.T) *fakeElectrum {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeElectrum{
		t:        t,
		ln:       ln,
		handlers: make(map[string]electrumHandler),
		calls:    make(map[string]int),
		drops:    make(map[string]int),
	}
	f.handle("server.version", func([]json.RawMessage) (interface{},
		*btcjson.RPCError) {

		return []string{"fake 1.0", "1.4"}, nil
	})
	f.handle("server.ping", func([]json.RawMessage) (interface{},
		*btcjson.RPCError) {

		return nil, nil
	})

	go f.serve()
	t.Cleanup(func() {
		_ = ln.Close()
	})

	return f
}

func (f *fakeElectrum) url() string {
	return "tcp://" + f.ln.Addr().String()
}

func (f *fakeElectrum) handle(method string, h electrumHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handlers[method] = h
}

// dropNext makes the server close the connection instead of answering the
// next n requests for method.
func (f *fakeElectrum) dropNext(method string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.drops[method] = n
}

func (f *fakeElectrum) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[method]
}

func (f *fakeElectrum) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}

		go f.serveConn(conn)
	}
}

func (f *fakeElectrum) serveConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req btcjson.Request
		if err := json.Unmarshal(line, &req); err != nil {
			return
		}

		f.mu.Lock()
		f.calls[req.Method]++
		drop := f.drops[req.Method] > 0
		if drop {
			f.drops[req.Method]--
		}
		handler, ok := f.handlers[req.Method]
		notify := f.notify
		f.mu.Unlock()

		if drop {
			return
		}

		if notify {
			_, _ = conn.Write([]byte(`{"jsonrpc":"2.0","method":` +
				`"blockchain.headers.subscribe","params":[]}` + "\n"))
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
		}
		if !ok {
			resp["error"] = &btcjson.RPCError{
				Code:    -32601,
				Message: "unknown method",
			}
		} else {
			result, rpcErr := handler(req.Params)
			if raw, isRaw := result.(rawLine); isRaw {
				_, _ = conn.Write([]byte(string(raw) + "\n"))
				continue
			}

			if rpcErr != nil {
				resp["error"] = rpcErr
			} else {
				resp["result"] = result
			}
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return
		}
		if _, err := conn.Write(append(b, '\n')); err != nil {
			return
		}
	}
}

// newTestElectrum connects a client to the fake server.
func newTestElectrum(t *testing.T, f *fakeElectrum, retry uint8) *Electrum {
	t.Helper()

	e, err := NewElectrum(context.Background(), ElectrumConfig{
		URL:     f.url(),
		Retry:   retry,
		Timeout: 5 * time.Second,
		StopGap: 50,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = e.Close()
	})

	return e
}

// testTx returns a small transaction and its hex encoding.
func testTx(t *testing.T) (*wire.MsgTx, string) {
	t.Helper()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{0x01}, 0), nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(50_000, []byte{0x51}))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	return tx, hex.EncodeToString(buf.Bytes())
}

// TestScriptHash checks the script hash against the example of the Electrum
// protocol documentation.
func TestScriptHash(t *testing.T) {
	t.Parallel()

	script, err := hex.DecodeString(
		"76a91462e907b15cbf27d5425399ebf6f0fb50ebb88f1888ac",
	)
	require.NoError(t, err)

	require.Equal(t,
		"8b01df4e368ea28f8dc0423bcf7a4923e3a12d307c875e47a0cfbf90b5c39161",
		ScriptHash(script))
}

// TestElectrumConfig checks URL validation.
func TestElectrumConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		tls  bool
		err  bool
	}{
		{name: "ssl", url: "ssl://electrum.example.com:50002", tls: true},
		{name: "tcp", url: "tcp://127.0.0.1:50001"},
		{name: "http scheme", url: "http://example.com:80", err: true},
		{name: "no port", url: "ssl://example.com", err: true},
		{name: "no scheme", url: "example.com:50001", err: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := ElectrumConfig{URL: tc.url}
			_, useTLS, err := cfg.endpoint()
			if tc.err {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.tls, useTLS)
		})
	}
}

// TestElectrumScriptActivity checks the decoding of script history and
// unspent outputs.
func TestElectrumScriptActivity(t *testing.T) {
	t.Parallel()

	script := []byte{0x00, 0x14, 0x01}
	confirmed := chainhash.Hash{0x0a}
	pending := chainhash.Hash{0x0b}

	f := newFakeElectrum(t)
	f.handle("blockchain.scripthash.get_history",
		func(params []json.RawMessage) (interface{},
			*btcjson.RPCError) {

			var sh string
			require.NoError(t, json.Unmarshal(params[0], &sh))
			require.Equal(t, ScriptHash(script), sh)

			return []map[string]interface{}{
				{"tx_hash": confirmed.String(), "height": 100},
				{"tx_hash": pending.String(), "height": 0},
			}, nil
		})
	f.handle("blockchain.scripthash.listunspent",
		func([]json.RawMessage) (interface{}, *btcjson.RPCError) {
			return []map[string]interface{}{{
				"tx_hash": pending.String(),
				"tx_pos":  1,
				"height":  0,
				"value":   5000,
			}}, nil
		})

	e := newTestElectrum(t, f, 0)
	require.Equal(t, uint32(50), e.StopGap())

	activity, err := e.ScriptActivity(context.Background(), script)
	require.NoError(t, err)
	require.True(t, activity.Active())

	require.Equal(t, []HistoryItem{
		{TxHash: confirmed, Height: 100},
		{TxHash: pending, Height: 0},
	}, activity.History)
	require.True(t, activity.History[0].Confirmed())
	require.False(t, activity.History[1].Confirmed())

	require.Equal(t, []Unspent{{
		OutPoint: wire.OutPoint{Hash: pending, Index: 1},
		Height:   0,
		Value:    btcutil.Amount(5000),
	}}, activity.Unspent)
}

// TestElectrumTransactionAndHeader checks raw transaction and header
// decoding.
func TestElectrumTransactionAndHeader(t *testing.T) {
	t.Parallel()

	tx, txHex := testTx(t)

	header := wire.NewBlockHeader(
		1, &chainhash.Hash{0x01}, &chainhash.Hash{0x02}, 0x1d00ffff, 7,
	)
	header.Timestamp = time.Unix(1700000000, 0)
	var buf bytes.Buffer
	require.NoError(t, header.Serialize(&buf))

	f := newFakeElectrum(t)
	f.handle("blockchain.transaction.get",
		func(params []json.RawMessage) (interface{},
			*btcjson.RPCError) {

			var txid string
			require.NoError(t, json.Unmarshal(params[0], &txid))
			require.Equal(t, tx.TxHash().String(), txid)

			return txHex, nil
		})
	f.handle("blockchain.block.header",
		func(params []json.RawMessage) (interface{},
			*btcjson.RPCError) {

			var height int32
			require.NoError(t, json.Unmarshal(params[0], &height))
			require.Equal(t, int32(100), height)

			return hex.EncodeToString(buf.Bytes()), nil
		})

	e := newTestElectrum(t, f, 0)

	got, err := e.Transaction(context.Background(), tx.TxHash())
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), got.TxHash())

	gotHeader, err := e.BlockHeader(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, header.BlockHash(), gotHeader.BlockHash())
	require.Equal(t, header.Timestamp.Unix(), gotHeader.Timestamp.Unix())
}

// TestElectrumMalformed checks that undecodable data is reported as
// ErrMalformedResponse and not retried.
func TestElectrumMalformed(t *testing.T) {
	t.Parallel()

	f := newFakeElectrum(t)
	f.handle("blockchain.scripthash.get_history",
		func([]json.RawMessage) (interface{}, *btcjson.RPCError) {
			return []map[string]interface{}{
				{"tx_hash": "not-a-hash", "height": 1},
			}, nil
		})
	f.handle("blockchain.scripthash.listunspent",
		func([]json.RawMessage) (interface{}, *btcjson.RPCError) {
			return []interface{}{}, nil
		})
	f.handle("blockchain.transaction.get",
		func([]json.RawMessage) (interface{}, *btcjson.RPCError) {
			return "zz", nil
		})
	f.handle("blockchain.block.header",
		func([]json.RawMessage) (interface{}, *btcjson.RPCError) {
			return rawLine("this is not json"), nil
		})

	e := newTestElectrum(t, f, 3)
	ctx := context.Background()

	_, err := e.ScriptActivity(ctx, []byte{0x51})
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = e.Transaction(ctx, chainhash.Hash{})
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = e.BlockHeader(ctx, 1)
	require.ErrorIs(t, err, ErrMalformedResponse)
	require.Equal(t, 1, f.callCount("blockchain.block.header"))
}

// TestElectrumServerError checks that error responses are returned without
// retrying.
func TestElectrumServerError(t *testing.T) {
	t.Parallel()

	f := newFakeElectrum(t)
	f.handle("blockchain.transaction.get",
		func([]json.RawMessage) (interface{}, *btcjson.RPCError) {
			return nil, &btcjson.RPCError{
				Code:    2,
				Message: "missing transaction",
			}
		})

	e := newTestElectrum(t, f, 3)

	_, err := e.Transaction(context.Background(), chainhash.Hash{})
	require.ErrorContains(t, err, "missing transaction")
	require.NotErrorIs(t, err, ErrMalformedResponse)
	require.Equal(t, 1, f.callCount("blockchain.transaction.get"))
}

// TestElectrumReconnect checks that a dropped connection is re-established,
// with a new version handshake, and the request retried.
func TestElectrumReconnect(t *testing.T) {
	t.Parallel()

	tx, txHex := testTx(t)

	f := newFakeElectrum(t)
	f.handle("blockchain.transaction.get",
		func([]json.RawMessage) (interface{}, *btcjson.RPCError) {
			return txHex, nil
		})

	e := newTestElectrum(t, f, 2)
	require.Equal(t, 1, f.callCount("server.version"))

	f.dropNext("blockchain.transaction.get", 2)

	got, err := e.Transaction(context.Background(), tx.TxHash())
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), got.TxHash())
	require.Equal(t, 3, f.callCount("blockchain.transaction.get"))
	require.Equal(t, 3, f.callCount("server.version"))

	// Without retries left the failure is returned.
	f.dropNext("blockchain.transaction.get", 3)
	_, err = e.Transaction(context.Background(), tx.TxHash())
	require.Error(t, err)
}

// TestElectrumSkipsNotifications checks that notifications interleaved with
// responses are ignored.
func TestElectrumSkipsNotifications(t *testing.T) {
	t.Parallel()

	tx, txHex := testTx(t)

	f := newFakeElectrum(t)
	f.handle("blockchain.transaction.get",
		func([]json.RawMessage) (interface{}, *btcjson.RPCError) {
			return txHex, nil
		})

	e := newTestElectrum(t, f, 0)

	f.mu.Lock()
	f.notify = true
	f.mu.Unlock()

	got, err := e.Transaction(context.Background(), tx.TxHash())
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), got.TxHash())
}

// TestElectrumContextCancel checks that a pending request returns once its
// context is canceled.
func TestElectrumContextCancel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
	})

	f := newFakeElectrum(t)
	f.handle("blockchain.transaction.get",
		func([]json.RawMessage) (interface{}, *btcjson.RPCError) {
			<-release
			return nil, nil
		})

	e := newTestElectrum(t, f, 3)

	ctx, cancel := context.WithTimeout(
		context.Background(), 100*time.Millisecond,
	)
	defer cancel()

	_, err := e.Transaction(ctx, chainhash.Hash{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, f.callCount("blockchain.transaction.get"))
}

// TestNewElectrumUnreachable checks that the constructor fails when no
// server listens.
func TestNewElectrumUnreachable(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewElectrum(context.Background(), ElectrumConfig{
		URL:     "tcp://" + addr,
		Timeout: time.Second,
	})
	require.Error(t, err)
}
