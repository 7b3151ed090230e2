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

	"github.com/stratumdb/stratum/util/clock"
)

// Limiter is the admission gate for a single policy subject. It is either a
// bypass limiter (no throttle configured, or the subject is exempted), which
// admits everything at no cost, or an enforcing limiter holding one
// RateLimiter per configured dimension.
//
// All state mutations go through the Limiter's own lock, so a peek across
// every dimension followed by a commit is atomic with respect to other
// requests charging the same subject.
type Limiter struct {
	mu       sync.Mutex
	limiters map[Dimension]*RateLimiter
	ts       clock.TimeSource
}

// noopLimiter is the shared permanent-bypass limiter. Subjects without
// configured throttles all map to this instance, avoiding one allocation
// per unthrottled subject.
var noopLimiter = &Limiter{}

// NoopLimiter returns the shared bypass limiter.
func NoopLimiter() *Limiter {
	return noopLimiter
}

// NewLimiter creates a Limiter enforcing the given throttles. An empty set
// of throttles yields the shared bypass limiter. ts may be nil for system
// time.
func NewLimiter(throttles map[Dimension]Throttle, ts clock.TimeSource) *Limiter {
	if len(throttles) == 0 {
		return noopLimiter
	}
	if ts == nil {
		ts = clock.System
	}
	limiters := make(map[Dimension]*RateLimiter, len(throttles))
	for d, t := range throttles {
		limiters[d] = NewRateLimiter(t, ts)
	}
	return &Limiter{limiters: limiters, ts: ts}
}

// IsBypass reports whether this limiter enforces nothing.
func (l *Limiter) IsBypass() bool {
	if l == noopLimiter {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters) == 0
}

// CheckQuota reports whether cost fits in every configured dimension's
// current window, without consuming anything. Returns a *ThrottlingError
// (with Scope unset) describing the first shortage found, or nil.
func (l *Limiter) CheckQuota(cost Cost) error {
	if l == noopLimiter {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(cost); err != nil {
		return err
	}
	return nil
}

// GrabQuota consumes cost from every configured dimension. It must only be
// called after CheckQuota succeeded within the same admission attempt.
func (l *Limiter) GrabQuota(cost Cost) {
	if l == noopLimiter {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.grabLocked(cost)
}

// checkLocked peeks every dimension. Callers must hold mu.
func (l *Limiter) checkLocked(cost Cost) *ThrottlingError {
	for _, d := range Dimensions {
		rl, ok := l.limiters[d]
		if !ok {
			continue
		}
		amount := cost.Amount(d)
		if amount == 0 {
			continue
		}
		if !rl.CanConsume(amount) {
			return &ThrottlingError{
				Dimension: d,
				Requested: amount,
				Available: rl.Available(),
			}
		}
	}
	return nil
}

// grabLocked consumes from every dimension. Callers must hold mu.
func (l *Limiter) grabLocked(cost Cost) {
	for d, rl := range l.limiters {
		if amount := cost.Amount(d); amount != 0 {
			rl.Consume(amount)
		}
	}
}

// ConsumeWrite settles a write-size delta against the size dimension.
// A positive delta debits an underestimate, a negative delta credits back
// an overestimate; credits never exceed the window limit.
func (l *Limiter) ConsumeWrite(delta int64) {
	l.consumeSize(delta)
}

// ConsumeRead settles a read-size delta against the size dimension.
func (l *Limiter) ConsumeRead(delta int64) {
	l.consumeSize(delta)
}

func (l *Limiter) consumeSize(delta int64) {
	if l == noopLimiter || delta == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if rl, ok := l.limiters[RequestSize]; ok {
		rl.Consume(delta)
	}
}

// Update reconciles the limiter with a new set of throttles. Dimensions
// whose limit and period are unchanged keep their window state; changed
// dimensions reset to a full window with the new limit; removed dimensions
// stop being enforced and added ones start with a full window.
//
// Update must not be called on the shared bypass limiter and must not be
// handed an empty set; callers replace the limiter with NoopLimiter()
// instead (the quotacache package does exactly that).
func (l *Limiter) Update(throttles map[Dimension]Throttle) {
	if l == noopLimiter {
		panic("quota: Update called on the shared bypass limiter")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for d, t := range throttles {
		rl, ok := l.limiters[d]
		if !ok {
			l.limiters[d] = NewRateLimiter(t, l.ts)
			continue
		}
		if rl.Throttle() != t {
			rl.Update(t)
		}
	}
	for d := range l.limiters {
		if _, ok := throttles[d]; !ok {
			delete(l.limiters, d)
		}
	}
}

// Throttles returns the currently enforced limits per dimension.
func (l *Limiter) Throttles() map[Dimension]Throttle {
	if l == noopLimiter {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Dimension]Throttle, len(l.limiters))
	for d, rl := range l.limiters {
		out[d] = rl.Throttle()
	}
	return out
}
