package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/wallet/internal/db"
	"github.com/btcsuite/descwallet/wtxmgr"
)

var (
	// ErrChangeDescriptorMismatch is returned when the change descriptor
	// produces a different kind of script than the descriptor.
	ErrChangeDescriptorMismatch = errors.New("change descriptor script " +
		"type differs from the descriptor")

	// ErrChangeDescriptorIsExternal is returned when the change descriptor
	// describes the same outputs as the descriptor.
	ErrChangeDescriptorIsExternal = errors.New("change descriptor " +
		"equals the descriptor")

	// ErrWalletMismatch is returned when the database holds a wallet with
	// the same identity but different descriptors or network.
	ErrWalletMismatch = errors.New("stored wallet does not match")
)

// New parses the descriptors of cfg, opens the configured database and loads
// the wallet they identify, creating it if the database has no state for it
// yet. Descriptor errors are returned as *descriptor.ParseError before the
// database is touched.
func New(ctx context.Context, cfg Config) (*Wallet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	external, internal, err := parseDescriptors(&cfg)
	if err != nil {
		return nil, err
	}

	store, err := cfg.Database.open()
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w",
			cfg.Database.backend(), err)
	}

	w, err := newWallet(ctx, &cfg, external, internal, store)
	if err != nil {
		if closeErr := store.Close(); closeErr != nil {
			log.Errorf("Unable to close database: %v", closeErr)
		}

		return nil, err
	}

	return w, nil
}

// parseDescriptors parses and cross-checks the descriptors of a config. The
// internal descriptor is nil when none is configured.
func parseDescriptors(cfg *Config) (*descriptor.Descriptor,
	*descriptor.Descriptor, error) {

	external, err := descriptor.Parse(cfg.Descriptor, cfg.ChainParams)
	if err != nil {
		return nil, nil, err
	}

	if cfg.ChangeDescriptor.IsNone() {
		return external, nil, nil
	}

	internal, err := descriptor.Parse(
		cfg.ChangeDescriptor.UnwrapOr(""), cfg.ChainParams,
	)
	if err != nil {
		return nil, nil, err
	}

	if internal.ScriptType() != external.ScriptType() {
		return nil, nil, fmt.Errorf("%w: %v change for %v outputs",
			ErrChangeDescriptorMismatch, internal.ScriptType(),
			external.ScriptType())
	}
	if publicForm(internal) == publicForm(external) {
		return nil, nil, ErrChangeDescriptorIsExternal
	}

	return external, internal, nil
}

// newWallet creates a wallet on top of an open store and loads its state.
func newWallet(ctx context.Context, cfg *Config, external,
	internal *descriptor.Descriptor, store db.Store) (*Wallet, error) {

	w := &Wallet{
		id:       walletID(external, internal),
		params:   cfg.ChainParams,
		gapLimit: cfg.gapLimit(),
		clock:    cfg.clockOrDefault(),
		store:    store,
		external: newKeychain(KeychainExternal, external, 0),
		txStore:  wtxmgr.NewStore(cfg.ChainParams),
	}
	if internal != nil {
		w.internal = newKeychain(KeychainInternal, internal, 0)
	}

	if err := w.load(ctx); err != nil {
		return nil, err
	}

	return w, nil
}

// load restores the persisted state of the wallet, or persists an empty
// state for a wallet seen for the first time.
func (w *Wallet) load(ctx context.Context) error {
	state, err := w.store.FetchWallet(ctx, w.id)
	switch {
	case errors.Is(err, db.ErrWalletNotFound):
		log.Infof("Creating wallet %s on %s", w.id, w.params.Name)

		state = w.dbState(w.txStore, w.cursors())
		if err := w.store.PutWallet(ctx, w.id, state); err != nil {
			return fmt.Errorf("create wallet: %w", err)
		}

	case err != nil:
		return fmt.Errorf("fetch wallet: %w", err)
	}

	if err := w.checkStoredState(state); err != nil {
		return err
	}

	txStore, err := wtxmgr.Restore(w.params, state.Txs)
	if err != nil {
		return fmt.Errorf("restore transactions: %w", err)
	}
	w.txStore = txStore

	for _, kc := range w.keychains() {
		kc.cursor = state.Cursors[kc.kind.branch()]

		if err := kc.deriveTo(kc.cursor + w.gapLimit); err != nil {
			return err
		}
		kc.refreshUsed(txStore)
	}

	log.Infof("Loaded wallet %s: %d transactions, external cursor %d",
		w.id, txStore.Len(), w.external.cursor)

	return nil
}
