/*
Copyright © 2026 The echomind Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package embedding

import (
	"log/slog"
	"sync"
	"time"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// Breaker tracks the health of the embedding provider so a known-down
// dependency fails fast instead of costing every caller a full request
// timeout. One instance is shared by all callers in the process: a
// provider outage is systemic, so per-user breakers would be wrong.
//
// CLOSED -> OPEN after failureThreshold consecutive failures,
// OPEN -> HALF_OPEN once the cooldown elapses (one probe allowed),
// HALF_OPEN -> CLOSED on probe success, back to OPEN on probe failure.
type Breaker struct {
	mu sync.Mutex

	failureThreshold    int
	cooldown            time.Duration
	state               BreakerState
	consecutiveFailures int
	lastFailure         time.Time

	// now is injectable for tests.
	now func() time.Time
}

type BreakerStatus struct {
	State               BreakerState  `json:"state"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastFailure         *time.Time    `json:"lastFailure,omitempty"`
	CooldownRemaining   time.Duration `json:"cooldownRemaining"`
}

func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            BreakerClosed,
		now:              time.Now,
	}
}

// ShouldAttempt reports whether a call should be made. While OPEN it
// returns false until the cooldown elapses, then flips to HALF_OPEN and
// allows a single probe.
func (b *Breaker) ShouldAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) > b.cooldown {
			b.state = BreakerHalfOpen
			slog.Info("embedding circuit half-open, probing with a single request")
			return true
		}
		return false
	default:
		// HALF_OPEN: the probe is already in flight or allowed.
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		slog.Info("embedding circuit closed, provider recovered")
	}
	b.consecutiveFailures = 0
	b.state = BreakerClosed
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	b.consecutiveFailures++

	if b.state == BreakerHalfOpen || b.consecutiveFailures >= b.failureThreshold {
		if b.state != BreakerOpen {
			slog.Warn("embedding circuit open", "consecutiveFailures", b.consecutiveFailures)
		}
		b.state = BreakerOpen
	}
}

// Status returns a snapshot for the health endpoint.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := BreakerStatus{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		status.LastFailure = &t
	}
	if b.state == BreakerOpen {
		remaining := b.cooldown - b.now().Sub(b.lastFailure)
		if remaining > 0 {
			status.CooldownRemaining = remaining
		}
	}
	return status
}

// Reset forces the breaker back to CLOSED, for manual recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.consecutiveFailures = 0
	b.lastFailure = time.Time{}
}
