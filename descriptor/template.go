// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/waddrmgr"
)

// NewTemplate builds the standard single key descriptor for account 0 of the
// given script type from a master private key, e.g. for P2WPKH on mainnet
// and the external branch:
//
//	wpkh([fp/84h/0h/0h]xpub.../0/*)
//
// The returned descriptor is public: the account level key is derived from
// master and only its extended public key is kept.
func NewTemplate(master *hdkeychain.ExtendedKey, scriptType ScriptType,
	branch uint32, params *chaincfg.Params) (*Descriptor, error) {

	if !master.IsPrivate() {
		return nil, parseErr(ErrHardenedFromPublic, "templates need "+
			"the master private key")
	}
	if master.Depth() != 0 {
		return nil, parseErr(ErrInvalidKey, "expected a master key, "+
			"got depth %d", master.Depth())
	}
	if !master.IsForNet(params) {
		return nil, parseErr(ErrNetworkMismatch, "key is not valid "+
			"for %s", params.Name)
	}

	scope := waddrmgr.KeyScope{
		Purpose: scriptType.Purpose(),
		Coin:    params.HDCoinType,
	}

	// Build the private descriptor first, then neuter it so the origin
	// is filled in exactly like AsPublic does it.
	key := &KeyExpression{
		Key:      master,
		Path:     scope.AccountPath(0).Append(branch),
		Wildcard: WildcardUnhardened,
	}
	if err := key.init(); err != nil {
		return nil, err
	}

	priv := &Descriptor{
		scriptType: scriptType,
		key:        key,
		params:     params,
	}

	return priv.AsPublic()
}

// NewPublicTemplate builds the standard descriptor for an account level
// extended public key whose origin is m/purpose'/coin'/0' under the master
// key with the given fingerprint.
func NewPublicTemplate(account *hdkeychain.ExtendedKey,
	fingerprint waddrmgr.Fingerprint, scriptType ScriptType, branch uint32,
	params *chaincfg.Params) (*Descriptor, error) {

	if !account.IsForNet(params) {
		return nil, parseErr(ErrNetworkMismatch, "key is not valid "+
			"for %s", params.Name)
	}
	if account.IsPrivate() {
		var err error
		account, err = account.Neuter()
		if err != nil {
			return nil, &ParseError{Err: err}
		}
	}

	scope := waddrmgr.KeyScope{
		Purpose: scriptType.Purpose(),
		Coin:    params.HDCoinType,
	}

	key := &KeyExpression{
		Origin: &KeyOrigin{
			Fingerprint: fingerprint,
			Path:        scope.AccountPath(0),
		},
		Key:      account,
		Path:     waddrmgr.DerivationPath{branch},
		Wildcard: WildcardUnhardened,
	}
	if err := key.init(); err != nil {
		return nil, err
	}

	return &Descriptor{
		scriptType: scriptType,
		key:        key,
		params:     params,
	}, nil
}

// MustParse is like Parse but panics on error. It simplifies initialization
// of package level descriptors in tests and examples.
func MustParse(desc string, params *chaincfg.Params) *Descriptor {
	d, err := Parse(desc, params)
	if err != nil {
		panic(fmt.Sprintf("descriptor.MustParse: %v", err))
	}

	return d
}
