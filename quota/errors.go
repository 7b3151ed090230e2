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
	"errors"
	"fmt"
)

// ThrottlingError reports an admission rejection: some limiter did not have
// enough budget for the operation. It is recoverable; the caller owns any
// retry or backoff policy. It is never returned for failures other than
// quota shortage, so callers may rely on IsThrottlingError to distinguish
// throttling from real errors.
type ThrottlingError struct {
	// Scope names the limiter that rejected: "user", "table" or "namespace".
	Scope string

	// Dimension is the resource axis that ran out of budget.
	Dimension Dimension

	// Requested and Available describe the shortage within the current
	// window.
	Requested, Available int64
}

// Error implements error.
func (e *ThrottlingError) Error() string {
	return fmt.Sprintf("%v quota exceeded: %v requested %v, %v available in window",
		e.Scope, e.Dimension, e.Requested, e.Available)
}

// IsThrottlingError reports whether err (or any error it wraps) is a
// ThrottlingError.
func IsThrottlingError(err error) bool {
	var te *ThrottlingError
	return errors.As(err, &te)
}
