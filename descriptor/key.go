// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/waddrmgr"
)

// Wildcard describes how the final, ranged step of a key expression is
// derived.
type Wildcard uint8

const (
	// WildcardUnhardened is the "/*" wildcard.
	WildcardUnhardened Wildcard = iota

	// WildcardHardened is the "/*h" (or "/*'") wildcard. It needs private
	// key material.
	WildcardHardened
)

// String returns the canonical textual form of the wildcard.
func (w Wildcard) String() string {
	if w == WildcardHardened {
		return "*h"
	}

	return "*"
}

// KeyOrigin records where the extended key of a key expression sits in its
// master key's tree.
type KeyOrigin struct {
	// Fingerprint is the fingerprint of the master key.
	Fingerprint waddrmgr.Fingerprint

	// Path is the path from the master key to the extended key.
	Path waddrmgr.DerivationPath
}

// String renders the origin without the surrounding brackets.
func (o *KeyOrigin) String() string {
	if len(o.Path) == 0 {
		return o.Fingerprint.String()
	}

	return o.Fingerprint.String() + "/" + o.Path.String()
}

// KeyExpression is a ranged extended key expression such as
// [c258d2e4/84h/1h/0h]tpubDD.../0/*.
type KeyExpression struct {
	// Origin is the optional key origin.
	Origin *KeyOrigin

	// Key is the extended key as written in the descriptor.
	Key *hdkeychain.ExtendedKey

	// Path is the derivation path between Key and the wildcard.
	Path waddrmgr.DerivationPath

	// Wildcard is the kind of the final ranged step.
	Wildcard Wildcard

	// base is Key derived along Path. For unhardened wildcards it is
	// neutered, since expansion only needs public keys.
	base *hdkeychain.ExtendedKey

	// fingerprint is the master fingerprint used in key origin records.
	// It is the origin fingerprint when present, else the fingerprint of
	// Key itself.
	fingerprint waddrmgr.Fingerprint
}

// String renders the key expression in canonical form.
func (k *KeyExpression) String() string {
	var sb strings.Builder
	if k.Origin != nil {
		sb.WriteString("[")
		sb.WriteString(k.Origin.String())
		sb.WriteString("]")
	}

	sb.WriteString(k.Key.String())
	for _, step := range k.Path {
		sb.WriteString("/")
		sb.WriteString(waddrmgr.FormatPathElement(step))
	}
	sb.WriteString("/")
	sb.WriteString(k.Wildcard.String())

	return sb.String()
}

// IsPrivate reports whether the expression holds a private key.
func (k *KeyExpression) IsPrivate() bool {
	return k.Key.IsPrivate()
}

// childIndex maps a wildcard substitution to the BIP32 child index.
func (k *KeyExpression) childIndex(index uint32) uint32 {
	if k.Wildcard == WildcardHardened {
		return index + hdkeychain.HardenedKeyStart
	}

	return index
}

// fullPath returns the path from the master key to the child at index.
func (k *KeyExpression) fullPath(index uint32) waddrmgr.DerivationPath {
	var path waddrmgr.DerivationPath
	if k.Origin != nil {
		path = k.Origin.Path
	}

	return path.Append(k.Path...).Append(k.childIndex(index))
}

// derive returns the public child key for the given wildcard substitution.
func (k *KeyExpression) derive(index uint32) (*hdkeychain.ExtendedKey,
	error) {

	if index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("index %d out of range", index)
	}

	return waddrmgr.DerivePublic(
		k.base, waddrmgr.DerivationPath{k.childIndex(index)},
	)
}

// parseKeyExpression parses and validates a ranged key expression against
// the given network.
func parseKeyExpression(expr string,
	params *chaincfg.Params) (*KeyExpression, error) {

	k := &KeyExpression{}

	// Split off the optional origin.
	if strings.HasPrefix(expr, "[") {
		end := strings.IndexByte(expr, ']')
		if end < 0 {
			return nil, parseErr(ErrMalformed, "missing ']' in key "+
				"origin")
		}

		origin, err := parseOrigin(expr[1:end])
		if err != nil {
			return nil, err
		}

		k.Origin = origin
		expr = expr[end+1:]
	}
	if strings.ContainsAny(expr, "[]") {
		return nil, parseErr(ErrMalformed, "unexpected bracket in key "+
			"expression")
	}

	elems := strings.Split(expr, "/")
	keyStr, steps := elems[0], elems[1:]

	// Locate the wildcard. It must appear exactly once, as the last
	// element.
	numWildcards := strings.Count(expr, "*")
	switch {
	case numWildcards > 1:
		return nil, parseErr(ErrMultipleWildcards, "")

	case numWildcards == 0:
		return nil, parseErr(ErrMissingWildcard, "")
	}

	if len(steps) == 0 {
		return nil, parseErr(ErrMalformed, "wildcard must follow the "+
			"key")
	}

	switch steps[len(steps)-1] {
	case "*":
		k.Wildcard = WildcardUnhardened

	case "*h", "*'", "*H":
		k.Wildcard = WildcardHardened

	default:
		return nil, parseErr(ErrMalformed, "wildcard must be the "+
			"final path element")
	}
	steps = steps[:len(steps)-1]

	for _, step := range steps {
		index, err := waddrmgr.ParsePathElement(step)
		if err != nil {
			return nil, &ParseError{Err: fmt.Errorf("%w: %w",
				ErrMalformed, err)}
		}

		k.Path = append(k.Path, index)
	}

	key, err := hdkeychain.NewKeyFromString(keyStr)
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("%w: %w", ErrInvalidKey,
			err)}
	}
	if !key.IsForNet(params) {
		return nil, parseErr(ErrNetworkMismatch, "key is not valid "+
			"for %s", params.Name)
	}
	k.Key = key

	if !key.IsPrivate() && (k.Path.HasHardened() ||
		k.Wildcard == WildcardHardened) {

		return nil, &ParseError{Err: fmt.Errorf("%w: %w",
			ErrHardenedFromPublic, waddrmgr.ErrHardenedFromPublic)}
	}

	if err := k.init(); err != nil {
		return nil, err
	}

	return k, nil
}

// init precomputes the base key and the origin fingerprint.
func (k *KeyExpression) init() error {
	base, err := waddrmgr.Derive(k.Key, k.Path)
	switch {
	case errors.Is(err, hdkeychain.ErrInvalidChild):
		return parseErr(ErrInvalidKey, "path derives an invalid key")

	case err != nil:
		return &ParseError{Err: err}
	}

	if k.Wildcard == WildcardUnhardened && base.IsPrivate() {
		base, err = base.Neuter()
		if err != nil {
			return &ParseError{Err: err}
		}
	}
	k.base = base

	if k.Origin != nil {
		k.fingerprint = k.Origin.Fingerprint
		return nil
	}

	fp, err := waddrmgr.FingerprintOf(k.Key)
	if err != nil {
		return &ParseError{Err: err}
	}
	k.fingerprint = fp

	return nil
}

// parseOrigin parses the content of a key origin, e.g. "c258d2e4/84h/1h/0h".
func parseOrigin(s string) (*KeyOrigin, error) {
	elems := strings.Split(s, "/")

	fp, err := waddrmgr.ParseFingerprint(elems[0])
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("%w: %w", ErrMalformed,
			err)}
	}

	origin := &KeyOrigin{Fingerprint: fp}
	for _, elem := range elems[1:] {
		index, err := waddrmgr.ParsePathElement(elem)
		if err != nil {
			return nil, &ParseError{Err: fmt.Errorf("%w: %w",
				ErrMalformed, err)}
		}

		origin.Path = append(origin.Path, index)
	}

	return origin, nil
}
