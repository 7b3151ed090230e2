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

package redisps

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redis"

	"github.com/stratumdb/stratum/quota"
)

// fakeClient serves canned SCAN and MGET results.
type fakeClient struct {
	keys    []string
	values  map[string]interface{}
	scanErr error
	mgetErr error
}

func (f *fakeClient) Scan(cursor uint64, match string, count int64) *redis.ScanCmd {
	if f.scanErr != nil {
		return redis.NewScanCmdResult(nil, 0, f.scanErr)
	}
	return redis.NewScanCmdResult(f.keys, 0, nil)
}

func (f *fakeClient) MGet(keys ...string) *redis.SliceCmd {
	if f.mgetErr != nil {
		return redis.NewSliceResult(nil, f.mgetErr)
	}
	vals := make([]interface{}, len(keys))
	for i, k := range keys {
		vals[i] = f.values[k]
	}
	return redis.NewSliceResult(vals, nil)
}

func (f *fakeClient) Subscribe(channels ...string) *redis.PubSub {
	return nil
}

func TestStore_Snapshot(t *testing.T) {
	client := &fakeClient{
		keys: []string{
			"quotas:policies:users/alice",
			"quotas:policies:tables/prod:events",
			"quotas:policies:broken",
			"quotas:policies:gone",
		},
		values: map[string]interface{}{
			"quotas:policies:users/alice":        `{"scope":"user","user":"alice","throttles":[{"dimension":"request_num","limit":6,"periodMs":60000}]}`,
			"quotas:policies:tables/prod:events": `{"scope":"table","table":"prod:events","throttles":[{"dimension":"read_num","limit":3,"periodMs":60000}]}`,
			"quotas:policies:broken":             `not json`,
			// "gone" has no value: deleted between SCAN and MGET.
		},
	}
	s := New(client)

	rows, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() = %v, want nil", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Snapshot() returned %v rows, want 2", len(rows))
	}
	got := make(map[string]bool)
	for _, row := range rows {
		got[row.Subject.Name()] = true
	}
	for _, want := range []string{quota.UserSubject("alice").Name(), quota.TableSubject("prod:events").Name()} {
		if !got[want] {
			t.Errorf("Snapshot() missing row for %v", want)
		}
	}
}

func TestStore_SnapshotEmpty(t *testing.T) {
	s := New(&fakeClient{})
	rows, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() = %v, want nil", err)
	}
	if len(rows) != 0 {
		t.Errorf("Snapshot() returned %v rows, want 0", len(rows))
	}
}

func TestStore_SnapshotErrors(t *testing.T) {
	boom := errors.New("connection refused")
	tests := []struct {
		desc   string
		client *fakeClient
	}{
		{desc: "scan error", client: &fakeClient{scanErr: boom}},
		{desc: "mget error", client: &fakeClient{keys: []string{"quotas:policies:x"}, mgetErr: boom}},
	}
	for _, test := range tests {
		s := New(test.client)
		if _, err := s.Snapshot(context.Background()); !errors.Is(err, boom) {
			t.Errorf("%v: Snapshot() = %v, want %v", test.desc, err, boom)
		}
	}
}
