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

package server

import (
	"database/sql"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"k8s.io/klog/v2"

	"github.com/stratumdb/stratum/quota/policy"
	"github.com/stratumdb/stratum/quota/policy/etcdps"
	"github.com/stratumdb/stratum/quota/policy/mysqlps"
	"github.com/stratumdb/stratum/quota/policy/redisps"
)

const (
	// StoreMemory represents the in-memory policy store.
	StoreMemory = "memory"

	// StoreMySQL represents the MySQL policy store.
	StoreMySQL = "mysql"

	// StoreEtcd represents the etcd policy store.
	StoreEtcd = "etcd"

	// StoreRedis represents the Redis policy store.
	StoreRedis = "redis"
)

// StoreParams represents all parameters required to initialize a
// policy.Store.
//
// Depending on the supplied StoreSystem, the actual policy.Store
// implementation, as returned by NewPolicyStore, may differ.
type StoreParams struct {
	// StoreSystem represents the underlying store implementation used.
	// Valid values are "memory", "mysql", "etcd" and "redis".
	StoreSystem string

	// DB is the database used by MySQL stores.
	DB *sql.DB

	// Client is used by etcd stores.
	Client *clientv3.Client

	// RedisClient is used by Redis stores.
	RedisClient redisps.RedisClient
}

// NewPolicyStore returns a policy.Store implementation according to params.
// See StoreParams for details.
func NewPolicyStore(params *StoreParams) (policy.Store, error) {
	var ps policy.Store
	switch params.StoreSystem {
	case StoreMemory:
		ps = policy.NewMemStore()
	case StoreMySQL:
		if params.DB == nil {
			return nil, fmt.Errorf("database required for %v policy store", params.StoreSystem)
		}
		ps = mysqlps.New(params.DB)
	case StoreEtcd:
		// Client is more likely to be nil than all other params, due to
		// etcd being an optional dependency in some cases.
		// As such, let's fail fast here if that's the case.
		if params.Client == nil {
			return nil, fmt.Errorf("etcd servers required for %v policy store", params.StoreSystem)
		}
		ps = etcdps.New(params.Client)
	case StoreRedis:
		if params.RedisClient == nil {
			return nil, fmt.Errorf("redis servers required for %v policy store", params.StoreSystem)
		}
		ps = redisps.New(params.RedisClient)
	default:
		return nil, fmt.Errorf("unknown policy store: %v", params.StoreSystem)
	}

	klog.Infof("Using quota policy store %T", ps)
	return ps, nil
}
