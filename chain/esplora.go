// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
	"golang.org/x/net/proxy"
)

const (
	// DefaultEsploraRateLimit is the number of requests per second sent
	// when the config does not set a limit.
	DefaultEsploraRateLimit = 10

	// DefaultEsploraTimeout is the per request timeout used when the
	// config does not set one.
	DefaultEsploraTimeout = 30 * time.Second

	// esploraChainPageSize is the number of confirmed transactions an
	// Esplora server returns per history page.
	esploraChainPageSize = 25

	// maxEsploraResponse caps the size of a response body.
	maxEsploraResponse = 32 << 20
)

// ErrStatus is returned when an Esplora server answers with an unexpected
// HTTP status.
var ErrStatus = errors.New("unexpected http status")

// EsploraConfig describes how to reach an Esplora HTTP API.
type EsploraConfig struct {
	// URL is the API base URL, e.g. https://blockstream.info/api.
	URL string

	// Socks5 is the optional host:port of a SOCKS5 proxy to connect
	// through.
	Socks5 string

	// RateLimit is the maximum number of requests per second. Zero means
	// DefaultEsploraRateLimit.
	RateLimit int

	// Retry is the number of times a failed request is retried.
	Retry uint8

	// Timeout bounds every request. Zero means DefaultEsploraTimeout.
	Timeout time.Duration

	// StopGap overrides the wallet gap limit when non-zero.
	StopGap uint32
}

// Esplora is a chain Source backed by the Esplora HTTP API.
type Esplora struct {
	cfg     EsploraConfig
	baseURL string
	client  *http.Client
	limiter ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
}

// A compile-time assertion to ensure that Esplora implements the Source and
// StopGapper interfaces.
var (
	_ Source     = (*Esplora)(nil)
	_ StopGapper = (*Esplora)(nil)
)

// NewEsplora creates an Esplora client. No request is made until the first
// method call.
func NewEsplora(cfg EsploraConfig) (*Esplora, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: url %q: %v", ErrInvalidConfig,
			cfg.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: url %q: scheme must be http or "+
			"https", ErrInvalidConfig, cfg.URL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Socks5 != "" {
		socks, err := proxy.SOCKS5("tcp", cfg.Socks5, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("%w: socks5 proxy %q: %v",
				ErrInvalidConfig, cfg.Socks5, err)
		}

		ctxDialer, ok := socks.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("%w: socks5 dialer does not "+
				"support contexts", ErrInvalidConfig)
		}
		transport.Proxy = nil
		transport.DialContext = func(ctx context.Context, network,
			addr string) (net.Conn, error) {

			return ctxDialer.DialContext(ctx, network, addr)
		}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultEsploraTimeout
	}
	rate := cfg.RateLimit
	if rate <= 0 {
		rate = DefaultEsploraRateLimit
	}

	return &Esplora{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		limiter: ratelimit.New(rate),
		breaker: newCircuitBreaker("esplora " + u.Host),
	}, nil
}

// StopGap returns the configured stop gap.
func (e *Esplora) StopGap() uint32 {
	return e.cfg.StopGap
}

// esploraStatus is the confirmation status attached to transactions and
// outputs.
type esploraStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int32 `json:"block_height"`
}

// height returns the confirmation height, zero when unconfirmed.
func (s esploraStatus) height() int32 {
	if !s.Confirmed {
		return 0
	}

	return s.BlockHeight
}

// ScriptActivity returns the history and unspent outputs of a script.
func (e *Esplora) ScriptActivity(ctx context.Context,
	pkScript []byte) (*ScriptActivity, error) {

	scriptHash := ScriptHash(pkScript)
	activity := &ScriptActivity{}

	// The first page holds the mempool transactions and the newest
	// confirmed ones. Older confirmed transactions are paged by the last
	// seen txid.
	path := "/scripthash/" + scriptHash + "/txs"
	for {
		var txs []struct {
			Txid   string        `json:"txid"`
			Status esploraStatus `json:"status"`
		}
		if err := e.getJSON(ctx, path, &txs); err != nil {
			return nil, err
		}

		var confirmed int
		for _, tx := range txs {
			hash, err := parseHash(tx.Txid)
			if err != nil {
				return nil, err
			}
			if tx.Status.Confirmed {
				confirmed++
			}

			activity.History = append(activity.History, HistoryItem{
				TxHash: *hash,
				Height: tx.Status.height(),
			})
		}

		if confirmed < esploraChainPageSize {
			break
		}

		lastTxid := txs[len(txs)-1].Txid
		path = "/scripthash/" + scriptHash + "/txs/chain/" + lastTxid
	}

	var utxos []struct {
		Txid   string        `json:"txid"`
		Vout   uint32        `json:"vout"`
		Value  int64         `json:"value"`
		Status esploraStatus `json:"status"`
	}
	err := e.getJSON(ctx, "/scripthash/"+scriptHash+"/utxo", &utxos)
	if err != nil {
		return nil, err
	}
	for _, u := range utxos {
		hash, err := parseHash(u.Txid)
		if err != nil {
			return nil, err
		}
		if u.Value < 0 || u.Value > btcutil.MaxSatoshi {
			return nil, fmt.Errorf("%w: output value %d",
				ErrMalformedResponse, u.Value)
		}

		activity.Unspent = append(activity.Unspent, Unspent{
			OutPoint: wire.OutPoint{Hash: *hash, Index: u.Vout},
			Height:   u.Status.height(),
			Value:    btcutil.Amount(u.Value),
		})
	}

	return activity, nil
}

// Transaction fetches a raw transaction.
func (e *Esplora) Transaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	body, err := e.get(ctx, "/tx/"+txid.String()+"/hex")
	if err != nil {
		return nil, err
	}

	return decodeTx(string(body))
}

// BlockHeader fetches the header of the main chain block at height.
func (e *Esplora) BlockHeader(ctx context.Context,
	height int32) (*wire.BlockHeader, error) {

	body, err := e.get(ctx, fmt.Sprintf("/block-height/%d", height))
	if err != nil {
		return nil, err
	}
	hash, err := parseHash(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, err
	}

	body, err = e.get(ctx, "/block/"+hash.String()+"/header")
	if err != nil {
		return nil, err
	}

	header, err := decodeHeader(string(body))
	if err != nil {
		return nil, err
	}
	if header.BlockHash() != *hash {
		return nil, fmt.Errorf("%w: header does not hash to %v",
			ErrMalformedResponse, hash)
	}

	return header, nil
}

// getJSON fetches path and decodes the JSON body into result.
func (e *Esplora) getJSON(ctx context.Context, path string,
	result interface{}) error {

	body, err := e.get(ctx, path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%w: esplora %s: %v", ErrMalformedResponse,
			path, err)
	}

	return nil
}

// get fetches path, retrying transport failures, rate limiting and server
// errors with exponential backoff.
func (e *Esplora) get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	op := func() error {
		e.limiter.Take()

		b, err := e.breaker.Execute(func() (interface{}, error) {
			return e.doGet(ctx, path)
		})
		switch {
		case err == nil:
			body = b.([]byte)
			return nil

		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())

		case errors.Is(err, gobreaker.ErrOpenState),
			errors.Is(err, gobreaker.ErrTooManyRequests):

			return backoff.Permanent(err)
		}

		log.Debugf("Esplora request %s failed: %v", path, err)

		return err
	}

	if err := backoff.Retry(op, newBackoff(ctx, e.cfg.Retry)); err != nil {
		return nil, fmt.Errorf("esplora %s: %w", path, err)
	}

	return body, nil
}

// doGet performs a single GET request.
func (e *Esplora) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, e.baseURL+path, nil,
	)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEsploraResponse))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil

	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:

		return nil, fmt.Errorf("%w: %s: %s", ErrStatus, resp.Status,
			strings.TrimSpace(string(body)))

	default:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s: %s",
			ErrStatus, resp.Status, strings.TrimSpace(string(body))))
	}
}
