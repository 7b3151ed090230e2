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
	"testing"
	"time"

	"github.com/stratumdb/stratum/quota"
)

func TestRow_Validate(t *testing.T) {
	tests := []struct {
		desc    string
		row     Row
		wantErr bool
	}{
		{
			desc: "throttled table",
			row: Row{
				Subject: quota.TableSubject("prod:events"),
				Throttles: map[quota.Dimension]quota.Throttle{
					quota.RequestNum: {Limit: 6, Period: time.Minute},
				},
			},
		},
		{
			desc: "flag-only user row",
			row:  Row{Subject: quota.UserSubject("alice"), GlobalBypass: true},
		},
		{
			desc: "empty throttles marks subject configured",
			row:  Row{Subject: quota.UserTableSubject("alice", "prod:events")},
		},
		{
			desc:    "invalid subject",
			row:     Row{Subject: quota.Subject{Scope: quota.Table}},
			wantErr: true,
		},
		{
			desc: "invalid throttle",
			row: Row{
				Subject: quota.UserSubject("alice"),
				Throttles: map[quota.Dimension]quota.Throttle{
					quota.RequestNum: {Limit: -1, Period: time.Minute},
				},
			},
			wantErr: true,
		},
		{
			desc:    "bypass on non-user subject",
			row:     Row{Subject: quota.TableSubject("prod:events"), GlobalBypass: true},
			wantErr: true,
		},
	}
	for _, test := range tests {
		err := test.row.Validate()
		if gotErr := err != nil; gotErr != test.wantErr {
			t.Errorf("%v: Validate() = %v, wantErr = %v", test.desc, err, test.wantErr)
		}
	}
}
