// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package descriptor implements parsing and expansion of ranged single key
output descriptors.

The supported templates are

	pkh(KEY)        P2PKH
	sh(wpkh(KEY))   P2SH-P2WPKH
	wpkh(KEY)       P2WPKH
	tr(KEY)         P2TR, key path only

where KEY is an extended key with an optional key origin and exactly one
trailing wildcard, e.g.

	wpkh([c258d2e4/84h/1h/0h]tpubDDYk.../0/*)#checksum

Expanding a descriptor at an index substitutes the wildcard and yields the
output script, address and key origin of that index. Expansion only needs
public key material unless the path or wildcard is hardened.
*/
package descriptor
