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

// Package quotacache caches quota limiters per node, keyed by subject.
//
// The cache holds three scope maps (namespace, table, user, the latter with
// per-table overrides). Entries are created lazily: the first lookup of an
// unknown subject installs a bypass limiter and nudges the background
// refresh, which pulls the full policy snapshot from the system-of-record
// and swaps in real limiters. Until that happens the subject is unenforced;
// this under-enforcement window is a deliberate availability-over-strictness
// tradeoff, bounded by the refresh interval.
//
// Readers are never blocked by the refresh: each scope map is published as
// an immutable snapshot behind an atomic pointer, so a lookup sees either
// the old or the new map, never a torn one. Limiter instances are owned by
// the cache and survive refreshes while their policy is unchanged, keeping
// window state live across refresh cycles.
package quotacache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/stratumdb/stratum/quota"
	"github.com/stratumdb/stratum/quota/policy"
	"github.com/stratumdb/stratum/util/clock"
)

// DefaultRefreshPeriod is the background refresh interval used when the
// config leaves it unset. Policy changes become visible within one period.
const DefaultRefreshPeriod = 5 * time.Minute

// Config carries the QuotaCache dependencies.
type Config struct {
	// Store is the system-of-record reader. Required.
	Store policy.Store

	// RefreshPeriod is the background refresh interval.
	// Defaults to DefaultRefreshPeriod.
	RefreshPeriod time.Duration

	// TimeSource drives limiter windows. Defaults to system time.
	TimeSource clock.TimeSource
}

// QuotaCache is the per-node cache of subject limiters.
type QuotaCache struct {
	store  policy.Store
	ts     clock.TimeSource
	period time.Duration

	// mu serializes writers: lazy inserts, refreshes and Clear. Readers
	// go through snap only.
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]

	refreshCh chan struct{}

	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// snapshot is one immutable published state of the cache. Maps are never
// mutated after publication; limiter values carry their own locking.
type snapshot struct {
	namespaces map[string]*quota.Limiter
	tables     map[string]*quota.Limiter
	users      map[string]*userState
}

// userState is the cached quota state of one user.
type userState struct {
	// bypass mirrors the user's administrative exemption flag. While set,
	// every admission check for the user succeeds unconditionally.
	bypass bool

	// limiter enforces the user's table-independent policy.
	limiter *quota.Limiter

	// overrides holds user-on-table limiters, keyed by qualified table
	// name. Presence means the override subject is configured in the
	// system-of-record, which replaces (not combines with) the generic
	// user policy for that table, even when the override itself bypasses.
	overrides map[string]*quota.Limiter
}

func emptySnapshot() *snapshot {
	return &snapshot{
		namespaces: map[string]*quota.Limiter{},
		tables:     map[string]*quota.Limiter{},
		users:      map[string]*userState{},
	}
}

// New creates a QuotaCache. Call Start to begin background refreshing.
func New(cfg Config) (*QuotaCache, error) {
	if cfg.Store == nil {
		return nil, errors.New("quotacache: policy store required")
	}
	if cfg.RefreshPeriod <= 0 {
		cfg.RefreshPeriod = DefaultRefreshPeriod
	}
	if cfg.TimeSource == nil {
		cfg.TimeSource = clock.System
	}
	c := &QuotaCache{
		store:     cfg.Store,
		ts:        cfg.TimeSource,
		period:    cfg.RefreshPeriod,
		refreshCh: make(chan struct{}, 1),
	}
	c.snap.Store(emptySnapshot())
	return c, nil
}

// Start launches the background refresh loop. It is a no-op if the loop is
// already running.
func (c *QuotaCache) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.started = true
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx)
}

// Stop terminates the background refresh loop and waits for it to exit.
func (c *QuotaCache) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *QuotaCache) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.refreshCh:
		}
		if err := c.RefreshNow(ctx); err != nil {
			klog.Warningf("Quota cache refresh failed, keeping stale policy: %v", err)
		}
	}
}

// TriggerRefresh nudges the background loop to refresh out of cycle. It
// never blocks and is safe to call concurrently with admission checks.
func (c *QuotaCache) TriggerRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// GetNamespaceLimiter returns the limiter for a namespace, installing a
// bypass entry on first reference.
func (c *QuotaCache) GetNamespaceLimiter(namespace string) *quota.Limiter {
	s := c.snap.Load()
	if l, ok := s.namespaces[namespace]; ok {
		return l
	}
	c.mu.Lock()
	s = c.snap.Load()
	if l, ok := s.namespaces[namespace]; ok {
		c.mu.Unlock()
		return l
	}
	next := s.clone()
	next.namespaces[namespace] = quota.NoopLimiter()
	c.publishLocked(next)
	c.mu.Unlock()

	c.TriggerRefresh()
	return quota.NoopLimiter()
}

// GetTableLimiter returns the limiter for a table, installing a bypass
// entry on first reference.
func (c *QuotaCache) GetTableLimiter(table string) *quota.Limiter {
	table = quota.QualifyTable(table)
	s := c.snap.Load()
	if l, ok := s.tables[table]; ok {
		return l
	}
	c.mu.Lock()
	s = c.snap.Load()
	if l, ok := s.tables[table]; ok {
		c.mu.Unlock()
		return l
	}
	next := s.clone()
	next.tables[table] = quota.NoopLimiter()
	c.publishLocked(next)
	c.mu.Unlock()

	c.TriggerRefresh()
	return quota.NoopLimiter()
}

// GetUserLimiter returns the effective limiter for a user operating on a
// table: the user-on-table override if that subject is configured, else the
// generic user limiter. Exempted users and first references get bypass.
func (c *QuotaCache) GetUserLimiter(user, table string) *quota.Limiter {
	st := c.userState(user)
	if st.bypass {
		return quota.NoopLimiter()
	}
	if l, ok := st.overrides[quota.QualifyTable(table)]; ok {
		return l
	}
	return st.limiter
}

// IsGlobalBypass reports whether the user is administratively exempted from
// all enforcement.
func (c *QuotaCache) IsGlobalBypass(user string) bool {
	return c.userState(user).bypass
}

func (c *QuotaCache) userState(user string) *userState {
	s := c.snap.Load()
	if st, ok := s.users[user]; ok {
		return st
	}
	c.mu.Lock()
	s = c.snap.Load()
	if st, ok := s.users[user]; ok {
		c.mu.Unlock()
		return st
	}
	st := &userState{limiter: quota.NoopLimiter()}
	next := s.clone()
	next.users[user] = st
	c.publishLocked(next)
	c.mu.Unlock()

	c.TriggerRefresh()
	return st
}

// Clear drops every cached entry in every scope. Subsequent lookups
// repopulate lazily.
func (c *QuotaCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked(emptySnapshot())
}

// ClearNamespaces drops the cached namespace limiters only.
func (c *QuotaCache) ClearNamespaces() {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.snap.Load().clone()
	next.namespaces = map[string]*quota.Limiter{}
	c.publishLocked(next)
}

// ClearTables drops the cached table limiters only.
func (c *QuotaCache) ClearTables() {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.snap.Load().clone()
	next.tables = map[string]*quota.Limiter{}
	c.publishLocked(next)
}

// ClearUsers drops the cached user states only, including their
// table overrides and bypass flags.
func (c *QuotaCache) ClearUsers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.snap.Load().clone()
	next.users = map[string]*userState{}
	c.publishLocked(next)
}

// Namespaces returns the namespaces with cached limiters, sorted.
func (c *QuotaCache) Namespaces() []string {
	return sortedKeys(c.snap.Load().namespaces)
}

// Tables returns the tables with cached limiters, sorted.
func (c *QuotaCache) Tables() []string {
	return sortedKeys(c.snap.Load().tables)
}

// Users returns the users with cached state, sorted.
func (c *QuotaCache) Users() []string {
	return sortedKeys(c.snap.Load().users)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RefreshNow performs one synchronous refresh from the system-of-record,
// replacing the cached state of every referenced subject. On error the
// stale cache is kept; in-flight admission checks are never affected.
func (c *QuotaCache) RefreshNow(ctx context.Context) error {
	rows, err := c.store.Snapshot(ctx)
	if err != nil {
		quota.Metrics.IncRefresh(false)
		return err
	}
	idx := indexRows(rows)

	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.snap.Load()
	next := &snapshot{
		namespaces: make(map[string]*quota.Limiter, len(cur.namespaces)),
		tables:     make(map[string]*quota.Limiter, len(cur.tables)),
		users:      make(map[string]*userState, len(cur.users)),
	}

	for ns, old := range cur.namespaces {
		next.namespaces[ns] = c.reconcile(old, idx.throttles(quota.NamespaceSubject(ns)))
	}
	for table, old := range cur.tables {
		next.tables[table] = c.reconcile(old, idx.throttles(quota.TableSubject(table)))
	}
	for user, old := range cur.users {
		userRow := idx.rows[quota.UserSubject(user).Name()]
		st := &userState{
			bypass:  userRow.GlobalBypass,
			limiter: c.reconcile(old.limiter, userRow.Throttles),
		}
		if rows := idx.overrides[user]; len(rows) > 0 {
			st.overrides = make(map[string]*quota.Limiter, len(rows))
			for table, row := range rows {
				st.overrides[table] = c.reconcile(old.overrides[table], row.Throttles)
			}
		}
		next.users[user] = st
	}

	c.publishLocked(next)
	quota.Metrics.IncRefresh(true)
	return nil
}

// reconcile maps a subject's new throttle set onto its cached limiter.
// Unchanged policies keep the live limiter (and its window state); changed
// ones are updated in place; subjects whose throttles went away fall back
// to bypass. Callers must hold mu.
func (c *QuotaCache) reconcile(old *quota.Limiter, throttles map[quota.Dimension]quota.Throttle) *quota.Limiter {
	if len(throttles) == 0 {
		return quota.NoopLimiter()
	}
	if old == nil || old.IsBypass() {
		return quota.NewLimiter(throttles, c.ts)
	}
	old.Update(throttles)
	return old
}

// publishLocked swaps in a new snapshot. Callers must hold mu.
func (c *QuotaCache) publishLocked(next *snapshot) {
	c.snap.Store(next)
	quota.Metrics.SetCachedSubjects("namespace", len(next.namespaces))
	quota.Metrics.SetCachedSubjects("table", len(next.tables))
	quota.Metrics.SetCachedSubjects("user", len(next.users))
}

// clone copies the snapshot's maps for copy-on-write inserts. The limiter
// and user state values are shared.
func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		namespaces: make(map[string]*quota.Limiter, len(s.namespaces)+1),
		tables:     make(map[string]*quota.Limiter, len(s.tables)+1),
		users:      make(map[string]*userState, len(s.users)+1),
	}
	for k, v := range s.namespaces {
		next.namespaces[k] = v
	}
	for k, v := range s.tables {
		next.tables[k] = v
	}
	for k, v := range s.users {
		next.users[k] = v
	}
	return next
}

// rowIndex holds one policy snapshot keyed for cache reconciliation.
type rowIndex struct {
	rows      map[string]policy.Row            // by Subject.Name()
	overrides map[string]map[string]policy.Row // user -> qualified table -> row
}

func indexRows(rows []policy.Row) *rowIndex {
	idx := &rowIndex{
		rows:      make(map[string]policy.Row, len(rows)),
		overrides: make(map[string]map[string]policy.Row),
	}
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			klog.Warningf("Skipping malformed policy row for %q: %v", row.Subject, err)
			continue
		}
		idx.rows[row.Subject.Name()] = row
		if row.Subject.Scope == quota.UserTable {
			m := idx.overrides[row.Subject.User]
			if m == nil {
				m = make(map[string]policy.Row)
				idx.overrides[row.Subject.User] = m
			}
			m[row.Subject.Table] = row
		}
	}
	return idx
}

func (idx *rowIndex) throttles(subject quota.Subject) map[quota.Dimension]quota.Throttle {
	return idx.rows[subject.Name()].Throttles
}
