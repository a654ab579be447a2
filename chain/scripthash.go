// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"crypto/sha256"
	"encoding/hex"
)

// ScriptHash returns the Electrum/Esplora script hash of an output script:
// the SHA256 of the script with its bytes reversed, hex encoded.
func ScriptHash(pkScript []byte) string {
	sum := sha256.Sum256(pkScript)
	for i, j := 0, len(sum)-1; i < j; i, j = i+1, j-1 {
		sum[i], sum[j] = sum[j], sum[i]
	}

	return hex.EncodeToString(sum[:])
}
