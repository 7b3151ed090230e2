// Copyright 2025 The Stratum Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package quota

import (
	"sync"
	"time"

	"github.com/stratumdb/stratum/util/clock"
)

// RateLimiter enforces a single fixed-window limit: at most limit units per
// period. The window resets in full once the period has elapsed; there is no
// gradual refill. It is safe for concurrent use.
type RateLimiter struct {
	ts clock.TimeSource

	mu          sync.Mutex
	limit       int64
	period      time.Duration
	available   int64
	windowStart time.Time
}

// NewRateLimiter creates a RateLimiter with a full window starting now.
// ts may be nil, in which case system time is used.
func NewRateLimiter(throttle Throttle, ts clock.TimeSource) *RateLimiter {
	if ts == nil {
		ts = clock.System
	}
	return &RateLimiter{
		ts:          ts,
		limit:       throttle.Limit,
		period:      throttle.Period,
		available:   throttle.Limit,
		windowStart: ts.Now(),
	}
}

// resetIfElapsed refills the window if at least one full period has passed.
// Callers must hold mu.
func (r *RateLimiter) resetIfElapsed() {
	now := r.ts.Now()
	if now.Sub(r.windowStart) >= r.period {
		r.available = r.limit
		r.windowStart = now
	}
}

// CanConsume reports whether amount units are available in the current
// window, without consuming them.
func (r *RateLimiter) CanConsume(amount int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetIfElapsed()
	return amount <= r.available
}

// TryConsume consumes amount units if available and reports whether it did.
// On shortage no state changes; there is no partial consumption.
func (r *RateLimiter) TryConsume(amount int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetIfElapsed()
	if amount > r.available {
		return false
	}
	r.available -= amount
	return true
}

// Consume deducts amount units, clamping at zero. Intended for commits that
// follow a successful CanConsume, and for settlement debits of costs that
// were underestimated at admission time.
func (r *RateLimiter) Consume(amount int64) {
	if amount < 0 {
		r.Refund(-amount)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetIfElapsed()
	r.available -= amount
	if r.available < 0 {
		r.available = 0
	}
}

// Refund returns amount units to the current window, clamping at the limit.
// Used when an operation's actual cost came in under its admitted estimate.
func (r *RateLimiter) Refund(amount int64) {
	if amount < 0 {
		r.Consume(-amount)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetIfElapsed()
	r.available += amount
	if r.available > r.limit {
		r.available = r.limit
	}
}

// Update replaces the limit and period. The window restarts and available
// resets to the new limit: after a policy change the full new quota is
// granted rather than carrying over partial consumption.
func (r *RateLimiter) Update(throttle Throttle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limit = throttle.Limit
	r.period = throttle.Period
	r.available = throttle.Limit
	r.windowStart = r.ts.Now()
}

// Throttle returns the limit currently enforced.
func (r *RateLimiter) Throttle() Throttle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Throttle{Limit: r.limit, Period: r.period}
}

// Available returns the units left in the current window.
func (r *RateLimiter) Available() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetIfElapsed()
	return r.available
}
