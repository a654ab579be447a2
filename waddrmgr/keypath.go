// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

const (
	// ExternalBranch is the child number used for the receiving chain of
	// a BIP44-style account.
	ExternalBranch uint32 = 0

	// InternalBranch is the child number used for the change chain of a
	// BIP44-style account.
	InternalBranch uint32 = 1

	// maxUnhardenedIndex is the largest index that can be expressed as a
	// single, unhardened path element.
	maxUnhardenedIndex = hdkeychain.HardenedKeyStart - 1
)

// KeyScope represents a restricted key scope from the primary root key within
// the HD chain. For example, the BIP0084 scope is m/84'/0'.
type KeyScope struct {
	// Purpose is the purpose of this key scope. This is the first child
	// of the master HD key.
	Purpose uint32

	// Coin is a value that represents the particular coin which is the
	// child of the purpose key. With this key, any accounts, or other
	// children can be derived at all.
	Coin uint32
}

var (
	// KeyScopeBIP0044 is the key scope for legacy pay-to-pubkey-hash
	// accounts.
	KeyScopeBIP0044 = KeyScope{Purpose: 44, Coin: 0}

	// KeyScopeBIP0049 is the key scope for nested pay-to-witness-pubkey
	// hash accounts.
	KeyScopeBIP0049 = KeyScope{Purpose: 49, Coin: 0}

	// KeyScopeBIP0084 is the key scope for native segwit v0 accounts.
	KeyScopeBIP0084 = KeyScope{Purpose: 84, Coin: 0}

	// KeyScopeBIP0086 is the key scope for single key taproot accounts.
	KeyScopeBIP0086 = KeyScope{Purpose: 86, Coin: 0}
)

// String returns a human readable version describing the key scope.
func (k KeyScope) String() string {
	return fmt.Sprintf("m/%dh/%dh", k.Purpose, k.Coin)
}

// AccountPath returns the hardened path m/purpose'/coin'/account' of an
// account within this scope.
func (k KeyScope) AccountPath(account uint32) DerivationPath {
	return DerivationPath{
		hdkeychain.HardenedKeyStart + k.Purpose,
		hdkeychain.HardenedKeyStart + k.Coin,
		hdkeychain.HardenedKeyStart + account,
	}
}

// DerivationPath is an ordered list of BIP32 child indexes. Indexes at or
// above hdkeychain.HardenedKeyStart denote hardened steps.
type DerivationPath []uint32

// IsHardened reports whether the given child index is a hardened one.
func IsHardened(index uint32) bool {
	return index >= hdkeychain.HardenedKeyStart
}

// HasHardened returns true if any step of the path is hardened.
func (p DerivationPath) HasHardened() bool {
	for _, step := range p {
		if IsHardened(step) {
			return true
		}
	}

	return false
}

// Append returns a new path consisting of p followed by the given steps. The
// receiver is never modified.
func (p DerivationPath) Append(steps ...uint32) DerivationPath {
	path := make(DerivationPath, 0, len(p)+len(steps))
	path = append(path, p...)

	return append(path, steps...)
}

// String returns the path in its relative form without the leading "m",
// using "h" as the hardened marker, e.g. "84h/1h/0h". An empty path renders
// as the empty string.
func (p DerivationPath) String() string {
	elems := make([]string, len(p))
	for i, step := range p {
		elems[i] = FormatPathElement(step)
	}

	return strings.Join(elems, "/")
}

// FormatPathElement renders a single child index, appending "h" to hardened
// indexes.
func FormatPathElement(index uint32) string {
	if IsHardened(index) {
		return strconv.FormatUint(
			uint64(index-hdkeychain.HardenedKeyStart), 10,
		) + "h"
	}

	return strconv.FormatUint(uint64(index), 10)
}

// ParsePathElement parses a single path element such as "84", "84h", "84'"
// or "84H" into its child index.
func ParsePathElement(elem string) (uint32, error) {
	var offset uint32
	if n := len(elem); n > 0 {
		switch elem[n-1] {
		case 'h', 'H', '\'':
			offset = hdkeychain.HardenedKeyStart
			elem = elem[:n-1]
		}
	}

	// Reject signs, whitespace and anything that is not a plain decimal
	// number so that the canonical form of a path is unique.
	if elem == "" || (len(elem) > 1 && elem[0] == '0') {
		return 0, fmt.Errorf("%w: element %q", ErrInvalidPath, elem)
	}
	for _, c := range elem {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: element %q", ErrInvalidPath,
				elem)
		}
	}

	value, err := strconv.ParseUint(elem, 10, 32)
	if err != nil || value > maxUnhardenedIndex {
		return 0, fmt.Errorf("%w: element %q out of range",
			ErrInvalidPath, elem)
	}

	return uint32(value) + offset, nil
}

// ParseDerivationPath parses a derivation path. Both the absolute form
// ("m/84h/0h/0h") and the relative form ("84h/0h/0h") are accepted. The
// master path "m" yields an empty path.
func ParseDerivationPath(path string) (DerivationPath, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	elems := strings.Split(path, "/")
	if elems[0] == "m" {
		elems = elems[1:]
	}

	result := make(DerivationPath, 0, len(elems))
	for _, elem := range elems {
		index, err := ParsePathElement(elem)
		if err != nil {
			return nil, err
		}

		result = append(result, index)
	}

	return result, nil
}
