// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/descwallet/waddrmgr"
)

// ScriptType is the closed set of output script templates a descriptor can
// describe.
type ScriptType uint8

const (
	// P2PKH is pkh(KEY): legacy pay-to-pubkey-hash (BIP44).
	P2PKH ScriptType = iota

	// P2SHP2WPKH is sh(wpkh(KEY)): P2WPKH nested in P2SH (BIP49).
	P2SHP2WPKH

	// P2WPKH is wpkh(KEY): native segwit v0 (BIP84).
	P2WPKH

	// P2TR is tr(KEY): taproot key path spend only (BIP86).
	P2TR
)

// String returns the descriptor function name of the script type.
func (s ScriptType) String() string {
	switch s {
	case P2PKH:
		return "pkh"

	case P2SHP2WPKH:
		return "sh(wpkh)"

	case P2WPKH:
		return "wpkh"

	case P2TR:
		return "tr"

	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Purpose returns the BIP43 purpose conventionally used with the script
// type.
func (s ScriptType) Purpose() uint32 {
	switch s {
	case P2SHP2WPKH:
		return 49

	case P2WPKH:
		return 84

	case P2TR:
		return 86

	default:
		return 44
	}
}

// wrap renders the script function around a key expression.
func (s ScriptType) wrap(key string) string {
	if s == P2SHP2WPKH {
		return "sh(wpkh(" + key + "))"
	}

	return s.String() + "(" + key + ")"
}

// Descriptor is a parsed, ranged output descriptor bound to a network.
type Descriptor struct {
	scriptType ScriptType
	key        *KeyExpression
	params     *chaincfg.Params
}

// Expansion is the concrete output a descriptor describes at one index.
type Expansion struct {
	// Index is the wildcard substitution.
	Index uint32

	// PubKey is the derived public key.
	PubKey *btcec.PublicKey

	// Script is the output (pkScript) script.
	Script []byte

	// RedeemScript is set for P2SH wrapped outputs only.
	RedeemScript []byte

	// Address is the network specific address paying to Script.
	Address btcutil.Address

	// Derivation is the key origin record of PubKey, as used in PSBTs.
	Derivation *psbt.Bip32Derivation
}

// Parse parses a descriptor and validates it against the given network. The
// optional '#checksum' suffix is verified when present. Every failure is a
// *ParseError.
func Parse(desc string, params *chaincfg.Params) (*Descriptor, error) {
	body, err := splitChecksum(strings.TrimSpace(desc))
	if err != nil {
		return nil, err
	}

	scriptType, keyExpr, err := parseScript(body)
	if err != nil {
		return nil, err
	}

	key, err := parseKeyExpression(keyExpr, params)
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		scriptType: scriptType,
		key:        key,
		params:     params,
	}, nil
}

// parseScript peels the script functions off the descriptor body and returns
// the enclosed key expression.
func parseScript(body string) (ScriptType, string, error) {
	name, inner, err := splitFunc(body)
	if err != nil {
		return 0, "", err
	}

	switch name {
	case "pkh":
		return P2PKH, inner, nil

	case "wpkh":
		return P2WPKH, inner, nil

	case "tr":
		if strings.Contains(inner, ",") {
			return 0, "", parseErr(ErrUnsupported, "taproot "+
				"script trees")
		}

		return P2TR, inner, nil

	case "sh":
		innerName, key, err := splitFunc(inner)
		if err != nil {
			return 0, "", err
		}
		if innerName != "wpkh" {
			return 0, "", parseErr(ErrUnsupported, "sh(%s)",
				innerName)
		}

		return P2SHP2WPKH, key, nil

	default:
		return 0, "", parseErr(ErrUnsupported, "script function %q",
			name)
	}
}

// splitFunc splits "name(args)" into its name and arguments.
func splitFunc(s string) (string, string, error) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", "", parseErr(ErrMalformed, "expected "+
			"function(arguments)")
	}

	inner := s[open+1 : len(s)-1]
	if strings.Count(inner, "(") != strings.Count(inner, ")") {
		return "", "", parseErr(ErrMalformed, "unbalanced parentheses")
	}

	return s[:open], inner, nil
}

// ScriptType returns the script template of the descriptor.
func (d *Descriptor) ScriptType() ScriptType {
	return d.scriptType
}

// Key returns the key expression of the descriptor.
func (d *Descriptor) Key() *KeyExpression {
	return d.key
}

// Params returns the network the descriptor was validated against.
func (d *Descriptor) Params() *chaincfg.Params {
	return d.params
}

// IsPrivate reports whether the descriptor holds private key material.
func (d *Descriptor) IsPrivate() bool {
	return d.key.IsPrivate()
}

// String returns the canonical descriptor including its checksum.
func (d *Descriptor) String() string {
	body := d.scriptType.wrap(d.key.String())

	// The canonical body only ever holds characters of the checksum
	// input set, so this cannot fail.
	sum, _ := Checksum(body)

	return body + "#" + sum
}

// Expand derives the output at the given wildcard index. It is a pure
// function of the descriptor and index.
func (d *Descriptor) Expand(index uint32) (*Expansion, error) {
	child, err := d.key.derive(index)
	if err != nil {
		return nil, err
	}

	pubKey, err := child.ECPubKey()
	if err != nil {
		return nil, err
	}

	exp := &Expansion{
		Index:  index,
		PubKey: pubKey,
		Derivation: &psbt.Bip32Derivation{
			PubKey:               pubKey.SerializeCompressed(),
			MasterKeyFingerprint: d.key.fingerprint.Uint32(),
			Bip32Path:            d.key.fullPath(index),
		},
	}

	pkHash := btcutil.Hash160(pubKey.SerializeCompressed())

	switch d.scriptType {
	case P2PKH:
		exp.Address, err = btcutil.NewAddressPubKeyHash(
			pkHash, d.params,
		)

	case P2WPKH:
		exp.Address, err = btcutil.NewAddressWitnessPubKeyHash(
			pkHash, d.params,
		)

	case P2SHP2WPKH:
		var witAddr btcutil.Address
		witAddr, err = btcutil.NewAddressWitnessPubKeyHash(
			pkHash, d.params,
		)
		if err != nil {
			return nil, err
		}

		exp.RedeemScript, err = txscript.PayToAddrScript(witAddr)
		if err != nil {
			return nil, err
		}

		exp.Address, err = btcutil.NewAddressScriptHash(
			exp.RedeemScript, d.params,
		)

	case P2TR:
		outputKey := txscript.ComputeTaprootKeyNoScript(pubKey)
		exp.Address, err = btcutil.NewAddressTaproot(
			schnorr.SerializePubKey(outputKey), d.params,
		)

	default:
		return nil, fmt.Errorf("unknown script type %v", d.scriptType)
	}
	if err != nil {
		return nil, err
	}

	exp.Script, err = txscript.PayToAddrScript(exp.Address)
	if err != nil {
		return nil, err
	}

	return exp, nil
}

// AsPublic returns the watch-only form of the descriptor. The hardened prefix
// of the key path is derived and folded into the key origin, so that the
// remaining path can be walked from the resulting extended public key. A
// descriptor that is already public is returned as is.
func (d *Descriptor) AsPublic() (*Descriptor, error) {
	k := d.key
	if !k.IsPrivate() {
		return d, nil
	}
	if k.Wildcard == WildcardHardened {
		return nil, parseErr(ErrHardenedFromPublic, "hardened wildcard")
	}

	// Split the tail path after its last hardened step.
	split := 0
	for i, step := range k.Path {
		if waddrmgr.IsHardened(step) {
			split = i + 1
		}
	}
	prefix, rest := k.Path[:split], k.Path[split:]

	account, err := waddrmgr.DerivePublic(k.Key, prefix)
	if err != nil {
		return nil, err
	}

	origin := &KeyOrigin{Fingerprint: k.fingerprint}
	if k.Origin != nil {
		origin.Path = k.Origin.Path.Append(prefix...)
	} else {
		origin.Path = prefix.Append()
	}

	pub := &KeyExpression{
		Origin:   origin,
		Key:      account,
		Path:     rest.Append(),
		Wildcard: k.Wildcard,
	}
	if err := pub.init(); err != nil {
		return nil, err
	}

	return &Descriptor{
		scriptType: d.scriptType,
		key:        pub,
		params:     d.params,
	}, nil
}
