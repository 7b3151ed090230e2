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

package policy

import (
	"context"
	"sync"

	"github.com/stratumdb/stratum/quota"
)

// MemStore is an in-memory Store. It doubles as the administrative surface
// in tests and embedded deployments: the mutators mirror the operations the
// external admin API performs against the real system-of-record.
type MemStore struct {
	mu   sync.Mutex
	rows map[string]Row // keyed by Subject.Name()
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]Row)}
}

// Snapshot implements Store.
func (s *MemStore) Snapshot(ctx context.Context) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]Row, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, cloneRow(r))
	}
	return rows, nil
}

// SetThrottle creates or replaces the throttle for one dimension of a
// subject, creating the subject's row if needed.
func (s *MemStore) SetThrottle(subject quota.Subject, d quota.Dimension, t quota.Throttle) error {
	if err := subject.Validate(); err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.row(subject)
	if row.Throttles == nil {
		row.Throttles = make(map[quota.Dimension]quota.Throttle)
	}
	row.Throttles[d] = t
	s.rows[subject.Name()] = row
	return nil
}

// Unthrottle removes every throttle for a subject. The row itself is
// removed unless it still carries a global bypass flag.
func (s *MemStore) Unthrottle(subject quota.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[subject.Name()]
	if !ok {
		return
	}
	row.Throttles = nil
	if row.GlobalBypass {
		s.rows[subject.Name()] = row
	} else {
		delete(s.rows, subject.Name())
	}
}

// SetGlobalBypass sets or clears a user's enforcement exemption.
func (s *MemStore) SetGlobalBypass(user string, bypass bool) {
	subject := quota.UserSubject(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.row(subject)
	row.GlobalBypass = bypass
	if !bypass && len(row.Throttles) == 0 {
		delete(s.rows, subject.Name())
		return
	}
	s.rows[subject.Name()] = row
}

// row returns the current row for subject, or a fresh one. Callers must
// hold mu and store the result back.
func (s *MemStore) row(subject quota.Subject) Row {
	if row, ok := s.rows[subject.Name()]; ok {
		return row
	}
	return Row{Subject: subject}
}

func cloneRow(r Row) Row {
	out := r
	if r.Throttles != nil {
		out.Throttles = make(map[quota.Dimension]quota.Throttle, len(r.Throttles))
		for d, t := range r.Throttles {
			out.Throttles[d] = t
		}
	}
	return out
}
