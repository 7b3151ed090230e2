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

package mysqlps

import (
	"testing"

	"github.com/stratumdb/stratum/quota"
)

func TestParseSubject(t *testing.T) {
	tests := []struct {
		desc                          string
		scope, namespace, table, user string
		want                          quota.Subject
		wantErr                       bool
	}{
		{
			desc:  "namespace",
			scope: "namespace", namespace: "prod",
			want: quota.NamespaceSubject("prod"),
		},
		{
			desc:  "table",
			scope: "table", table: "prod:events",
			want: quota.TableSubject("prod:events"),
		},
		{
			desc:  "unqualified table",
			scope: "table", table: "events",
			want: quota.TableSubject("default:events"),
		},
		{
			desc:  "user",
			scope: "user", user: "alice",
			want: quota.UserSubject("alice"),
		},
		{
			desc:  "usertable",
			scope: "usertable", user: "alice", table: "prod:events",
			want: quota.UserTableSubject("alice", "prod:events"),
		},
		{desc: "unknown scope", scope: "galaxy", wantErr: true},
		{desc: "missing user", scope: "user", wantErr: true},
		{desc: "missing table", scope: "usertable", user: "alice", wantErr: true},
	}
	for _, test := range tests {
		got, err := parseSubject(test.scope, test.namespace, test.table, test.user)
		if gotErr := err != nil; gotErr != test.wantErr {
			t.Errorf("%v: parseSubject() = %v, wantErr = %v", test.desc, err, test.wantErr)
			continue
		}
		if err == nil && got != test.want {
			t.Errorf("%v: parseSubject() = %+v, want %+v", test.desc, got, test.want)
		}
	}
}
