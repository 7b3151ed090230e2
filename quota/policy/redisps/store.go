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

// Package redisps defines a Redis-based policy.Store implementation.
//
// Each policy row is a JSON string stored under Prefix + Subject.Name().
// Administrative tooling that writes a row is expected to publish on the
// update channel; Subscribe turns those messages into cache refresh nudges.
package redisps

import (
	"context"

	"github.com/go-redis/redis"
	"k8s.io/klog/v2"

	"github.com/stratumdb/stratum/quota/policy"
)

const (
	// DefaultPrefix is the default key prefix for policy rows.
	DefaultPrefix = "quotas:policies:"

	// DefaultChannel is the default pub/sub channel for update
	// notifications.
	DefaultChannel = "quotas:policies:updates"

	scanBatch = 100
)

// RedisClient is the subset of the Redis client used by Store, allowing
// regular, cluster or sharded client implementations.
type RedisClient interface {
	Scan(cursor uint64, match string, count int64) *redis.ScanCmd
	MGet(keys ...string) *redis.SliceCmd
	Subscribe(channels ...string) *redis.PubSub
}

// Store reads policy rows from Redis.
type Store struct {
	Client  RedisClient
	Prefix  string
	Channel string
}

// New creates a Store with the default prefix and update channel.
func New(client RedisClient) *Store {
	return &Store{Client: client, Prefix: DefaultPrefix, Channel: DefaultChannel}
}

// Snapshot implements policy.Store. Malformed values are skipped and
// logged; only Redis errors fail the snapshot.
func (s *Store) Snapshot(ctx context.Context) ([]policy.Row, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.Client.Scan(cursor, s.Prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := s.Client.MGet(keys...).Result()
	if err != nil {
		return nil, err
	}
	rows := make([]policy.Row, 0, len(vals))
	for i, val := range vals {
		str, ok := val.(string)
		if !ok {
			// Key deleted between SCAN and MGET.
			continue
		}
		row, err := policy.DecodeRow([]byte(str))
		if err != nil {
			klog.Warningf("Skipping quota policy key %q: %v", keys[i], err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Watch invokes notify for every message on the update channel, until
// ctx is done. The message payload is ignored: the reaction is always a
// full cache refresh.
func (s *Store) Watch(ctx context.Context, notify func()) {
	sub := s.Client.Subscribe(s.Channel)
	go func() {
		defer func() {
			if err := sub.Close(); err != nil {
				klog.Warningf("Error closing quota policy subscription: %v", err)
			}
		}()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				notify()
			}
		}
	}()
}
