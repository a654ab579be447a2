// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import "errors"

var (
	// ErrInvalidMnemonic is returned when a mnemonic contains words that
	// are not part of the BIP39 english wordlist, has an unsupported
	// length, or fails its embedded checksum.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrInvalidWordCount is returned when a fresh mnemonic is requested
	// with a word count other than 12, 15, 18, 21 or 24.
	ErrInvalidWordCount = errors.New("invalid mnemonic word count")

	// ErrHardenedFromPublic is returned when a hardened derivation step is
	// requested from a key that only carries public material.
	ErrHardenedFromPublic = errors.New("cannot derive a hardened key " +
		"from a public key")

	// ErrInvalidPath is returned when a derivation path string cannot be
	// parsed.
	ErrInvalidPath = errors.New("invalid derivation path")

	// ErrInvalidFingerprint is returned when a key fingerprint is not
	// exactly 8 hex characters.
	ErrInvalidFingerprint = errors.New("invalid key fingerprint")
)
