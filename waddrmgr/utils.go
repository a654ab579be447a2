// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// Fingerprint is the BIP32 key identifier prefix: the first four bytes of
// HASH160 of the compressed public key.
type Fingerprint [4]byte

// String returns the fingerprint as 8 lowercase hex characters.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Uint32 returns the fingerprint in the little-endian integer form used by
// PSBT key origin records.
func (f Fingerprint) Uint32() uint32 {
	return binary.LittleEndian.Uint32(f[:])
}

// ParseFingerprint decodes an 8 character hex fingerprint.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	if len(s) != 2*len(fp) {
		return fp, fmt.Errorf("%w: %q", ErrInvalidFingerprint, s)
	}

	if _, err := hex.Decode(fp[:], []byte(s)); err != nil {
		return fp, fmt.Errorf("%w: %q", ErrInvalidFingerprint, s)
	}

	return fp, nil
}

// FingerprintOf returns the fingerprint of the given extended key.
func FingerprintOf(key *hdkeychain.ExtendedKey) (Fingerprint, error) {
	var fp Fingerprint

	pubKey, err := key.ECPubKey()
	if err != nil {
		return fp, err
	}

	copy(fp[:], btcutil.Hash160(pubKey.SerializeCompressed()))

	return fp, nil
}
