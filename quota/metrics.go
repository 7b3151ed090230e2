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
	"fmt"
	"sync"

	"github.com/stratumdb/stratum/monitoring"
)

var (
	// Metrics groups all quota-related metrics. Until InitMetrics is
	// called every update is a no-op, so importing packages may record
	// unconditionally.
	Metrics     = &m{}
	metricsOnce = sync.Once{}
)

type m struct {
	AdmittedOps    monitoring.Counter
	ThrottledOps   monitoring.Counter
	RefreshRuns    monitoring.Counter
	CachedSubjects monitoring.Gauge
}

// IncAdmitted increments the AdmittedOps metric.
func (m *m) IncAdmitted() {
	if m.AdmittedOps != nil {
		m.AdmittedOps.Inc()
	}
}

// IncThrottled increments the ThrottledOps metric for the rejecting scope.
func (m *m) IncThrottled(scope string) {
	if m.ThrottledOps != nil {
		m.ThrottledOps.Inc(scope)
	}
}

// IncRefresh increments the RefreshRuns metric.
func (m *m) IncRefresh(success bool) {
	if m.RefreshRuns != nil {
		m.RefreshRuns.Inc(fmt.Sprint(success))
	}
}

// SetCachedSubjects records the number of cached subjects for one scope.
func (m *m) SetCachedSubjects(scope string, n int) {
	if m.CachedSubjects != nil {
		m.CachedSubjects.Set(float64(n), scope)
	}
}

// InitMetrics initializes Metrics using mf to create the monitoring objects.
// May be called multiple times. If so, the first call is the one that counts.
func InitMetrics(mf monitoring.MetricFactory) {
	metricsOnce.Do(func() {
		Metrics.AdmittedOps = mf.NewCounter("quota_admitted_ops", "Number of operations admitted by the quota subsystem")
		Metrics.ThrottledOps = mf.NewCounter("quota_throttled_ops", "Number of operations rejected by the quota subsystem", "scope")
		Metrics.RefreshRuns = mf.NewCounter("quota_cache_refresh_runs", "Number of quota cache refresh runs", "success")
		Metrics.CachedSubjects = mf.NewGauge("quota_cached_subjects", "Number of subjects held in the quota cache", "scope")
	})
}
