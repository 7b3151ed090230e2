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

// Package etcdps defines an etcd-based policy.Store implementation.
//
// Each policy row is stored as a JSON value under Prefix + Subject.Name(),
// e.g. "quotas/policies/users/alice". Watch can be used to nudge the quota
// cache out of cycle when any row changes, shrinking the staleness window
// below the refresh interval.
package etcdps

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
	"k8s.io/klog/v2"

	"github.com/stratumdb/stratum/quota/policy"
)

// DefaultPrefix is the default etcd key prefix for policy rows.
const DefaultPrefix = "quotas/policies/"

// Store reads policy rows from etcd.
type Store struct {
	Client *clientv3.Client
	Prefix string
}

// New creates a Store reading keys under DefaultPrefix.
func New(client *clientv3.Client) *Store {
	return &Store{Client: client, Prefix: DefaultPrefix}
}

// Snapshot implements policy.Store. Malformed values are skipped and
// logged; only etcd errors fail the snapshot.
func (s *Store) Snapshot(ctx context.Context) ([]policy.Row, error) {
	resp, err := s.Client.Get(ctx, s.Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	rows := make([]policy.Row, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		row, err := policy.DecodeRow(kv.Value)
		if err != nil {
			klog.Warningf("Skipping quota policy key %q: %v", kv.Key, err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Watch invokes notify whenever any policy row changes, until ctx is done.
// The notification carries no payload: the expected reaction is a cache
// refresh, which re-reads the full snapshot anyway.
func (s *Store) Watch(ctx context.Context, notify func()) {
	ch := s.Client.Watch(ctx, s.Prefix, clientv3.WithPrefix())
	go func() {
		for resp := range ch {
			if err := resp.Err(); err != nil {
				klog.Warningf("Quota policy watch error: %v", err)
				continue
			}
			if len(resp.Events) > 0 {
				notify()
			}
		}
	}()
}
