package bwtest

import "time"

const (
	// defaultTestTimeout is a shared default timeout for polling and setup
	// steps in integration tests.
	defaultTestTimeout = 30 * time.Second

	// defaultSyncTimeout bounds a full wallet sync against a public
	// server, retries included.
	defaultSyncTimeout = 5 * time.Minute
)
