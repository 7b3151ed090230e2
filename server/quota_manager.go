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

// Package server wires the quota subsystem into a tablet server: it owns
// the per-node quota cache lifecycle and exposes the admission entry point
// called on the request execution path.
package server

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/stratumdb/stratum/monitoring"
	"github.com/stratumdb/stratum/monitoring/prometheus"
	"github.com/stratumdb/stratum/quota"
	"github.com/stratumdb/stratum/quota/policy"
	"github.com/stratumdb/stratum/quota/quotacache"
	"github.com/stratumdb/stratum/util/clock"
)

// QuotaConfig configures a QuotaManager.
type QuotaConfig struct {
	// Enabled turns enforcement on. A disabled manager admits everything
	// and runs no background refresh.
	Enabled bool

	// RefreshPeriod is the cache refresh interval.
	// Defaults to quotacache.DefaultRefreshPeriod.
	RefreshPeriod time.Duration

	// TimeSource drives limiter windows. Defaults to system time.
	TimeSource clock.TimeSource

	// MetricFactory creates the quota metrics. Defaults to a Prometheus
	// factory; tests pass monitoring.InertMetricFactory.
	MetricFactory monitoring.MetricFactory
}

// QuotaManager is the per-node admission façade. Request handlers call
// CheckQuota before executing an operation against storage and Close the
// returned OperationQuota afterwards to settle actual resource usage.
type QuotaManager struct {
	cache   *quotacache.QuotaCache
	store   policy.Store
	enabled bool

	watchCancel context.CancelFunc
}

// NewQuotaManager creates a QuotaManager reading policy from store.
// Call Start before serving and Stop on shutdown.
func NewQuotaManager(cfg QuotaConfig, store policy.Store) (*QuotaManager, error) {
	m := &QuotaManager{store: store, enabled: cfg.Enabled}
	if !cfg.Enabled {
		klog.Info("Quota enforcement disabled")
		return m, nil
	}
	mf := cfg.MetricFactory
	if mf == nil {
		mf = prometheus.MetricFactory{Prefix: "stratum_"}
	}
	quota.InitMetrics(mf)
	cache, err := quotacache.New(quotacache.Config{
		Store:         store,
		RefreshPeriod: cfg.RefreshPeriod,
		TimeSource:    cfg.TimeSource,
	})
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

// Start launches the background policy refresh. Stores that push change
// notifications additionally nudge the cache ahead of its schedule.
func (m *QuotaManager) Start() {
	if m.cache == nil {
		return
	}
	m.cache.Start()
	if w, ok := m.store.(policy.Watcher); ok {
		ctx, cancel := context.WithCancel(context.Background())
		m.watchCancel = cancel
		w.Watch(ctx, m.cache.TriggerRefresh)
	}
}

// Stop terminates the background refresh.
func (m *QuotaManager) Stop() {
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	if m.cache != nil {
		m.cache.Stop()
	}
}

// Enabled reports whether enforcement is on.
func (m *QuotaManager) Enabled() bool {
	return m.enabled
}

// QuotaCache exposes the underlying cache, for operational tooling and
// tests.
func (m *QuotaManager) QuotaCache() *quotacache.QuotaCache {
	return m.cache
}

// CheckQuota admits or rejects an operation of numWrites writes and
// numReads reads issued by user against table. On admission the returned
// OperationQuota has been charged; the caller executes the operation,
// reports actual sizes on it, and Closes it. On rejection the error is a
// *quota.ThrottlingError and no quota was consumed.
//
// The check is synchronous and performs no I/O; limiters for subjects not
// yet cached bypass until the next policy refresh.
func (m *QuotaManager) CheckQuota(ctx context.Context, user, table string, numWrites, numReads int) (*quota.OperationQuota, error) {
	if !m.enabled || m.cache.IsGlobalBypass(user) {
		return quota.NewOperationQuota(nil, nil, nil), nil
	}

	userLimiter := m.cache.GetUserLimiter(user, table)
	tableLimiter := m.cache.GetTableLimiter(table)
	nsLimiter := m.cache.GetNamespaceLimiter(quota.TableNamespace(table))

	op := quota.NewOperationQuota(userLimiter, tableLimiter, nsLimiter)
	if err := op.CheckQuota(numWrites, numReads); err != nil {
		klog.V(2).Infof("Throttling user %q on table %q: %v", user, table, err)
		return nil, err
	}
	return op, nil
}

// ToRPCError maps admission errors to gRPC statuses: throttling rejections
// become ResourceExhausted so clients can tell them apart from execution
// failures. Other errors pass through unchanged.
func ToRPCError(err error) error {
	if err == nil {
		return nil
	}
	if quota.IsThrottlingError(err) {
		return status.Errorf(codes.ResourceExhausted, "quota exhausted: %v", err)
	}
	return err
}
