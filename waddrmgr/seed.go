// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// ExtendedKeyInfo bundles a BIP32 master key restored from (or generated
// together with) a BIP39 mnemonic.
type ExtendedKeyInfo struct {
	// Mnemonic is the normalized, single-space separated mnemonic.
	Mnemonic string

	// Xprv is the serialized extended private key of the master node,
	// using the version bytes of the requested network.
	Xprv string

	// Fingerprint is the fingerprint of the master key.
	Fingerprint Fingerprint

	// Key is the decoded master key.
	Key *hdkeychain.ExtendedKey
}

// entropyBits maps each supported mnemonic length to its entropy size.
var entropyBits = map[int]int{
	12: 128,
	15: 160,
	18: 192,
	21: 224,
	24: 256,
}

// RestoreExtendedKey derives the BIP32 master key for the given mnemonic and
// passphrase. An absent passphrase is the empty string. The function is pure:
// the same inputs always yield the same key and fingerprint.
func RestoreExtendedKey(params *chaincfg.Params, mnemonic,
	passphrase string) (*ExtendedKeyInfo, error) {

	words := strings.Fields(mnemonic)
	if _, ok := entropyBits[len(words)]; !ok {
		return nil, fmt.Errorf("%w: %d words", ErrInvalidMnemonic,
			len(words))
	}
	mnemonic = strings.Join(words, " ")

	// NewSeedWithErrorChecking validates word list membership and the
	// embedded checksum before stretching.
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}

	return masterFromSeed(params, mnemonic, seed)
}

// GenerateExtendedKey creates a new random mnemonic of the given length and
// returns it together with its master key.
func GenerateExtendedKey(params *chaincfg.Params, wordCount int,
	passphrase string) (*ExtendedKeyInfo, error) {

	bits, ok := entropyBits[wordCount]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWordCount, wordCount)
	}

	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return nil, fmt.Errorf("generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("generate mnemonic: %w", err)
	}

	return RestoreExtendedKey(params, mnemonic, passphrase)
}

// masterFromSeed turns a BIP39 seed into the master key info.
func masterFromSeed(params *chaincfg.Params, mnemonic string,
	seed []byte) (*ExtendedKeyInfo, error) {

	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	fp, err := FingerprintOf(master)
	if err != nil {
		return nil, err
	}

	return &ExtendedKeyInfo{
		Mnemonic:    mnemonic,
		Xprv:        master.String(),
		Fingerprint: fp,
		Key:         master,
	}, nil
}
