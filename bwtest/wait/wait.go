// Package wait provides polling helpers for integration tests.
package wait

import (
	"errors"
	"time"
)

var (
	// ErrNoResponse is returned when f does not return within the timeout.
	ErrNoResponse = errors.New("method did not return within the timeout")
)

// PollInterval is the default polling interval used by NoError.
const PollInterval = 200 * time.Millisecond

// permanentError marks an error that polling cannot fix.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string {
	return p.err.Error()
}

func (p *permanentError) Unwrap() error {
	return p.err
}

// Permanent wraps err so that NoError stops polling and returns err right
// away.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// NoError polls f until it returns nil, returns an error wrapped with
// Permanent, or the timeout is reached. On timeout the last error returned
// by f is returned.
//
// NOTE: NoError does not interrupt f. If f blocks, NoError may block longer
// than the provided timeout.
func NoError(f func() error, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	// Call f() immediately to avoid the initial ticker delay.
	lastErr := f()

	for {
		var permanent *permanentError
		switch {
		case lastErr == nil:
			return nil

		case errors.As(lastErr, &permanent):
			return permanent.err
		}

		select {
		case <-deadline.C:
			return lastErr

		case <-ticker.C:
			lastErr = f()
		}
	}
}
