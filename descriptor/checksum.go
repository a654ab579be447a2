// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"fmt"
	"strings"
)

const (
	// checksumLength is the number of characters of a descriptor checksum.
	checksumLength = 8

	// inputCharset lists every character that may appear in a
	// descriptor, ordered so that case and common symbols share groups.
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	// checksumCharset is the bech32 character set the checksum is
	// rendered in.
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
)

// polymodGenerator holds the generator of the BCH code used by BIP380.
var polymodGenerator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

func polymod(c uint64, val int) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ uint64(val)
	for i, gen := range polymodGenerator {
		if (c0>>i)&1 == 1 {
			c ^= gen
		}
	}

	return c
}

// Checksum computes the BIP380 checksum of a descriptor without its '#'
// suffix.
func Checksum(desc string) (string, error) {
	var (
		c          uint64 = 1
		cls, count int
	)

	for i := 0; i < len(desc); i++ {
		pos := strings.IndexByte(inputCharset, desc[i])
		if pos < 0 {
			return "", fmt.Errorf("%w: invalid character %q at "+
				"position %d", ErrMalformed, desc[i], i)
		}

		// Emit a symbol for the position inside the group, for every
		// character.
		c = polymod(c, pos&31)

		// Accumulate the group numbers.
		cls = cls*3 + pos>>5
		count++
		if count == 3 {
			// Emit an extra symbol representing the group numbers,
			// for every 3 characters.
			c = polymod(c, cls)
			cls, count = 0, 0
		}
	}
	if count > 0 {
		c = polymod(c, cls)
	}

	// Shift further to determine the checksum.
	for i := 0; i < checksumLength; i++ {
		c = polymod(c, 0)
	}

	// Prevent appending zeroes from not affecting the checksum.
	c ^= 1

	var sb strings.Builder
	for i := 0; i < checksumLength; i++ {
		sb.WriteByte(checksumCharset[(c>>(5*(7-i)))&31])
	}

	return sb.String(), nil
}

// AddChecksum returns desc followed by '#' and its checksum.
func AddChecksum(desc string) (string, error) {
	sum, err := Checksum(desc)
	if err != nil {
		return "", err
	}

	return desc + "#" + sum, nil
}

// splitChecksum separates an optional '#checksum' suffix from the descriptor
// body and verifies it when present.
func splitChecksum(desc string) (string, error) {
	body, sum, found := strings.Cut(desc, "#")
	if !found {
		return desc, nil
	}

	if len(sum) != checksumLength {
		return "", parseErr(ErrInvalidChecksum, "expected %d "+
			"characters, got %d", checksumLength, len(sum))
	}

	want, err := Checksum(body)
	if err != nil {
		return "", &ParseError{Err: err}
	}
	if sum != want {
		return "", parseErr(ErrInvalidChecksum, "")
	}

	return body, nil
}
