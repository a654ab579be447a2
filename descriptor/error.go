// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for descriptors that do not follow the
	// descriptor grammar, e.g. unbalanced brackets or parentheses.
	ErrMalformed = errors.New("malformed descriptor")

	// ErrUnsupported is returned for well-formed descriptors using script
	// functions outside of pkh, sh(wpkh), wpkh and tr.
	ErrUnsupported = errors.New("unsupported descriptor")

	// ErrInvalidKey is returned when the key expression does not hold a
	// valid base58 extended key.
	ErrInvalidKey = errors.New("invalid extended key")

	// ErrNetworkMismatch is returned when the version bytes of the
	// extended key do not belong to the requested network.
	ErrNetworkMismatch = errors.New("extended key network mismatch")

	// ErrMultipleWildcards is returned when a key expression carries more
	// than one wildcard.
	ErrMultipleWildcards = errors.New("more than one wildcard")

	// ErrMissingWildcard is returned for key expressions without a
	// wildcard. Only ranged descriptors can back a wallet keychain.
	ErrMissingWildcard = errors.New("descriptor is not ranged")

	// ErrInvalidChecksum is returned when the checksum following '#' does
	// not match the descriptor.
	ErrInvalidChecksum = errors.New("invalid descriptor checksum")

	// ErrHardenedFromPublic is returned when the derivation template needs
	// a hardened step but only a public key is available.
	ErrHardenedFromPublic = errors.New("hardened derivation requires a " +
		"private key")
)

// ParseError is the error returned for every descriptor that fails to parse
// or validate. The descriptor text itself is deliberately not included since
// it may contain private key material.
type ParseError struct {
	// Err is the underlying cause. It wraps one of the sentinel errors of
	// this package.
	Err error
}

// Error returns a human readable description of the parse failure.
func (e *ParseError) Error() string {
	return fmt.Sprintf("descriptor: %v", e.Err)
}

// Unwrap returns the underlying cause so that errors.Is can match the
// sentinel errors of this package.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// parseErr wraps a sentinel with some context into a ParseError.
func parseErr(sentinel error, format string, args ...any) *ParseError {
	if format == "" {
		return &ParseError{Err: sentinel}
	}

	return &ParseError{
		Err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
	}
}
