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
	"testing"
	"time"

	"github.com/stratumdb/stratum/quota"
)

func snapshotByName(t *testing.T, s *MemStore) map[string]Row {
	t.Helper()
	rows, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() = %v, want nil", err)
	}
	out := make(map[string]Row, len(rows))
	for _, r := range rows {
		out[r.Subject.Name()] = r
	}
	return out
}

func TestMemStore_SetThrottle(t *testing.T) {
	s := NewMemStore()
	subject := quota.TableSubject("prod:events")
	throttle := quota.Throttle{Limit: 6, Period: time.Minute}

	if err := s.SetThrottle(subject, quota.RequestNum, throttle); err != nil {
		t.Fatalf("SetThrottle() = %v, want nil", err)
	}
	rows := snapshotByName(t, s)
	row, ok := rows[subject.Name()]
	if !ok {
		t.Fatalf("Snapshot() missing %v", subject)
	}
	if got := row.Throttles[quota.RequestNum]; got != throttle {
		t.Errorf("throttle = %v, want %v", got, throttle)
	}

	// Second dimension on the same subject merges into one row.
	if err := s.SetThrottle(subject, quota.ReadNum, quota.Throttle{Limit: 3, Period: time.Minute}); err != nil {
		t.Fatalf("SetThrottle() = %v, want nil", err)
	}
	rows = snapshotByName(t, s)
	if got := len(rows[subject.Name()].Throttles); got != 2 {
		t.Errorf("len(Throttles) = %v, want 2", got)
	}
}

func TestMemStore_SetThrottleValidates(t *testing.T) {
	s := NewMemStore()
	if err := s.SetThrottle(quota.Subject{Scope: quota.Table}, quota.RequestNum, quota.Throttle{Limit: 6, Period: time.Minute}); err == nil {
		t.Error("SetThrottle(invalid subject) = nil, want error")
	}
	if err := s.SetThrottle(quota.UserSubject("alice"), quota.RequestNum, quota.Throttle{}); err == nil {
		t.Error("SetThrottle(invalid throttle) = nil, want error")
	}
	if rows := snapshotByName(t, s); len(rows) != 0 {
		t.Errorf("Snapshot() has %v rows after failed writes, want 0", len(rows))
	}
}

func TestMemStore_Unthrottle(t *testing.T) {
	s := NewMemStore()
	subject := quota.UserSubject("alice")
	if err := s.SetThrottle(subject, quota.RequestNum, quota.Throttle{Limit: 6, Period: time.Minute}); err != nil {
		t.Fatalf("SetThrottle() = %v, want nil", err)
	}

	s.Unthrottle(subject)
	if rows := snapshotByName(t, s); len(rows) != 0 {
		t.Errorf("Snapshot() has %v rows after Unthrottle, want 0", len(rows))
	}

	// Unthrottling an unknown subject is a no-op.
	s.Unthrottle(quota.TableSubject("nope"))
}

func TestMemStore_UnthrottleKeepsBypassRow(t *testing.T) {
	s := NewMemStore()
	subject := quota.UserSubject("admin")
	s.SetGlobalBypass("admin", true)
	if err := s.SetThrottle(subject, quota.RequestNum, quota.Throttle{Limit: 6, Period: time.Minute}); err != nil {
		t.Fatalf("SetThrottle() = %v, want nil", err)
	}

	s.Unthrottle(subject)
	rows := snapshotByName(t, s)
	row, ok := rows[subject.Name()]
	if !ok {
		t.Fatal("bypass row removed by Unthrottle")
	}
	if !row.GlobalBypass || len(row.Throttles) != 0 {
		t.Errorf("row = %+v, want bypass flag only", row)
	}
}

func TestMemStore_SetGlobalBypass(t *testing.T) {
	s := NewMemStore()
	s.SetGlobalBypass("admin", true)
	rows := snapshotByName(t, s)
	if row := rows["users/admin"]; !row.GlobalBypass {
		t.Errorf("row = %+v, want GlobalBypass = true", row)
	}

	// Clearing the flag on a row with no throttles removes the row.
	s.SetGlobalBypass("admin", false)
	if rows := snapshotByName(t, s); len(rows) != 0 {
		t.Errorf("Snapshot() has %v rows, want 0", len(rows))
	}
}

func TestMemStore_SnapshotIsolation(t *testing.T) {
	s := NewMemStore()
	subject := quota.UserSubject("alice")
	if err := s.SetThrottle(subject, quota.RequestNum, quota.Throttle{Limit: 6, Period: time.Minute}); err != nil {
		t.Fatalf("SetThrottle() = %v, want nil", err)
	}

	rows, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() = %v, want nil", err)
	}
	// Mutating a returned row must not leak back into the store.
	rows[0].Throttles[quota.RequestNum] = quota.Throttle{Limit: 1, Period: time.Second}

	want := quota.Throttle{Limit: 6, Period: time.Minute}
	if got := snapshotByName(t, s)[subject.Name()].Throttles[quota.RequestNum]; got != want {
		t.Errorf("stored throttle = %v, want %v", got, want)
	}
}
