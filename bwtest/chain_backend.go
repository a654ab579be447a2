// Package bwtest provides the integration test framework for descwallet.
package bwtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/btcsuite/descwallet/chain"
	"github.com/stretchr/testify/require"
)

var (
	// ErrUnknownChainBackend is returned when an unknown chain backend is
	// requested.
	ErrUnknownChainBackend = errors.New("unknown chain backend")
)

const (
	// backendElectrum is the identifier used for the Electrum backend.
	backendElectrum = "electrum"

	// backendEsplora is the identifier used for the Esplora backend.
	backendEsplora = "esplora"

	// defaultElectrumURL is a public testnet Electrum server.
	defaultElectrumURL = "ssl://electrum.blockstream.info:60002"

	// defaultEsploraURL is a public testnet Esplora API.
	defaultEsploraURL = "https://blockstream.info/testnet/api"

	// defaultChainRetry is the number of times a failed request to the
	// public servers is retried.
	defaultChainRetry = 5

	// defaultStopGap is the gap limit the backends announce. Public test
	// wallets have long stretches of unused addresses.
	defaultStopGap = 100
)

// ChainBackend is a chain source the harness can close.
type ChainBackend interface {
	chain.Source
	io.Closer

	// Name returns the name of the backend ("electrum", "esplora").
	Name() string
}

// namedBackend attaches a name and a closer to a chain source.
type namedBackend struct {
	chain.Source

	name  string
	close func() error
}

// Name returns the name of the backend.
func (b *namedBackend) Name() string {
	return b.name
}

// Close releases the backend connection.
func (b *namedBackend) Close() error {
	if b.close == nil {
		return nil
	}

	return b.close()
}

// StopGap forwards the gap limit of the wrapped source so that wallets keep
// honoring it.
func (b *namedBackend) StopGap() uint32 {
	if gapper, ok := b.Source.(chain.StopGapper); ok {
		return gapper.StopGap()
	}

	return 0
}

// NewBackend connects to the chain backend of the given type. An empty url
// selects the public testnet server of that backend.
func NewBackend(t *testing.T, ctx context.Context, backendType,
	url string) ChainBackend {

	t.Helper()

	backend, err := newBackend(ctx, backendType, url)
	require.NoError(t, err, "unable to connect chain backend")

	return backend
}

func newBackend(ctx context.Context, backendType,
	url string) (ChainBackend, error) {

	switch backendType {
	case backendElectrum:
		if url == "" {
			url = defaultElectrumURL
		}

		client, err := chain.NewElectrum(ctx, chain.ElectrumConfig{
			URL:     url,
			Retry:   defaultChainRetry,
			StopGap: defaultStopGap,
		})
		if err != nil {
			return nil, fmt.Errorf("connect electrum %s: %w", url,
				err)
		}

		return &namedBackend{
			Source: client,
			name:   backendElectrum,
			close:  client.Close,
		}, nil

	case backendEsplora:
		if url == "" {
			url = defaultEsploraURL
		}

		client, err := chain.NewEsplora(chain.EsploraConfig{
			URL:     url,
			Retry:   defaultChainRetry,
			StopGap: defaultStopGap,
		})
		if err != nil {
			return nil, fmt.Errorf("create esplora %s: %w", url,
				err)
		}

		return &namedBackend{
			Source: client,
			name:   backendEsplora,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownChainBackend,
			backendType)
	}
}
