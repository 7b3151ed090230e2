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

// Package quota implements node-local admission control for a distributed
// table store.
//
// The objective of the quota subsystem is to protect tablet servers from
// traffic peaks: every read or write operation must pass an admission check
// before it executes, and operations that exceed the configured throughput
// for their user, table or namespace are rejected with a ThrottlingError.
//
// Limits exist at multiple scopes. A request by user U against table T is
// charged against up to three limiters: the effective user limiter (the
// user-on-table override if one is configured, else the per-user limiter),
// the table limiter and the namespace limiter. The request is admitted only
// if every applicable limiter has budget left; admission is all-or-nothing,
// so a rejection never consumes from any limiter.
//
// Each limiter enforces one or more fixed-window limits ("at most N units
// per period"). Subjects with no configured limit are represented by a
// shared permanent-bypass limiter, which admits everything at no cost.
//
// Policy is defined centrally in a system-of-record (see the policy
// subpackage) and cached locally on each node (see the quotacache
// subpackage); enforcement never performs I/O on the request path.
package quota
