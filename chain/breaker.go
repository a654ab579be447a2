// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"time"

	"github.com/sony/gobreaker"
)

var (
	// maxFailingRequests is the number of requests a breaker needs to see
	// before it may trip.
	maxFailingRequests uint32 = 10

	// failingRatio is the share of failed requests that trips a breaker.
	failingRatio = 0.6

	// breakerTimeout is how long an open breaker rejects requests before
	// letting a trial request through.
	breakerTimeout = 30 * time.Second
)

// newCircuitBreaker returns a breaker that opens once more than
// maxFailingRequests requests were made and at least failingRatio of them
// failed at the transport level.
func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) /
				float64(counts.Requests)

			return counts.Requests > maxFailingRequests &&
				ratio >= failingRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch {
			case to == gobreaker.StateOpen:
				log.Warnf("Circuit breaker %s opened, backend "+
					"requests are failing", name)

			case from == gobreaker.StateOpen &&
				to == gobreaker.StateHalfOpen:

				log.Infof("Circuit breaker %s half-open, "+
					"probing backend", name)

			case from == gobreaker.StateHalfOpen &&
				to == gobreaker.StateClosed:

				log.Infof("Circuit breaker %s closed", name)
			}
		},
	})
}
