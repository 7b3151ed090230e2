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

// Package policy defines the read-only boundary between the quota subsystem
// and the system-of-record that holds quota definitions.
//
// The quota cache periodically pulls a full snapshot of policy rows from a
// Store and never writes one: policy mutation is the job of the (external)
// administrative API. Store implementations for MySQL, etcd and Redis live
// in subpackages; MemStore in this package backs tests and embedded use.
package policy

import (
	"context"
	"fmt"

	"github.com/stratumdb/stratum/quota"
)

// Row is one policy definition: the throttles for a single subject, plus
// the administrative exemption flag for user subjects.
type Row struct {
	// Subject the policy applies to.
	Subject quota.Subject

	// Throttles configured per dimension. May be empty: a row with no
	// throttles still marks the subject as configured, which matters for
	// user-on-table overrides.
	Throttles map[quota.Dimension]quota.Throttle

	// GlobalBypass exempts a user from all quota enforcement while set.
	// Only meaningful for User subjects.
	GlobalBypass bool
}

// Validate returns an error if the row is malformed. Stores call this
// before handing rows to the cache; a malformed row is skipped and logged,
// never fatal to a refresh.
func (r Row) Validate() error {
	if err := r.Subject.Validate(); err != nil {
		return err
	}
	for d, t := range r.Throttles {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("throttle for %v: %v", d, err)
		}
	}
	if r.GlobalBypass && r.Subject.Scope != quota.User {
		return fmt.Errorf("global bypass is only valid on user subjects, got %v", r.Subject.Scope)
	}
	return nil
}

// Store provides snapshots of the current policy rows. Implementations are
// read-only consumers of the system-of-record and must return the full row
// set on each call; the cache diffs snapshots itself.
type Store interface {
	// Snapshot returns all current well-formed policy rows. A partial
	// result due to malformed rows is not an error; I/O failures are.
	Snapshot(ctx context.Context) ([]Row, error)
}

// Watcher is implemented by stores that can push change notifications.
// The cache uses it to refresh ahead of its periodic schedule; stores
// without push support simply rely on the periodic refresh.
type Watcher interface {
	// Watch invokes notify whenever policy rows may have changed, until
	// ctx is done. Notifications carry no payload: consumers re-snapshot.
	Watch(ctx context.Context, notify func())
}
