// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// Derive walks the given path starting at key and returns the resulting
// child key. Every step is a BIP32 compliant derivation, so a private key
// yields private children and a public key yields public children.
//
// A hardened step from a public key fails with ErrHardenedFromPublic before
// any derivation takes place, so a partially walked path never leaks out.
// hdkeychain.ErrInvalidChild is passed through unchanged so that callers
// scanning a range of indexes can skip the (astronomically rare) unusable
// child.
func Derive(key *hdkeychain.ExtendedKey,
	path DerivationPath) (*hdkeychain.ExtendedKey, error) {

	if !key.IsPrivate() && path.HasHardened() {
		return nil, fmt.Errorf("%w: path %v", ErrHardenedFromPublic,
			path)
	}

	child := key
	for i, step := range path {
		var err error
		child, err = child.Derive(step)
		switch {
		case errors.Is(err, hdkeychain.ErrDeriveHardFromPublic):
			return nil, fmt.Errorf("%w: step %d", ErrHardenedFromPublic,
				i)

		case err != nil:
			return nil, fmt.Errorf("derive step %d (%s): %w", i,
				FormatPathElement(step), err)
		}
	}

	return child, nil
}

// DerivePublic derives the child at path and returns its neutered form. It is
// a convenience for address generation, which never needs private material.
func DerivePublic(key *hdkeychain.ExtendedKey,
	path DerivationPath) (*hdkeychain.ExtendedKey, error) {

	child, err := Derive(key, path)
	if err != nil {
		return nil, err
	}

	if !child.IsPrivate() {
		return child, nil
	}

	return child.Neuter()
}
