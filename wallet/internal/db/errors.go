// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import "errors"

var (
	// ErrWalletNotFound is returned when no state is stored for a wallet.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrNilDB is returned when a store is created without a database
	// handle.
	ErrNilDB = errors.New("nil database")

	// ErrCorruptRecord is returned when a stored record cannot be
	// decoded.
	ErrCorruptRecord = errors.New("corrupt database record")

	// ErrUnknownBackend is returned for an unsupported database backend.
	ErrUnknownBackend = errors.New("unknown database backend")
)
