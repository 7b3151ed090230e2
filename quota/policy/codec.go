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
	"encoding/json"
	"fmt"
	"time"

	"github.com/stratumdb/stratum/quota"
)

// wireRow is the JSON representation of a Row used by the key-value backed
// stores (etcd, Redis). The format is stable: fields may be added but not
// renamed or removed.
type wireRow struct {
	Scope        string         `json:"scope"`
	Namespace    string         `json:"namespace,omitempty"`
	Table        string         `json:"table,omitempty"`
	User         string         `json:"user,omitempty"`
	Throttles    []wireThrottle `json:"throttles,omitempty"`
	GlobalBypass bool           `json:"globalBypass,omitempty"`
}

type wireThrottle struct {
	Dimension string `json:"dimension"`
	Limit     int64  `json:"limit"`
	PeriodMs  int64  `json:"periodMs"`
}

// DecodeRow parses a JSON policy row and validates it.
func DecodeRow(data []byte) (Row, error) {
	var w wireRow
	if err := json.Unmarshal(data, &w); err != nil {
		return Row{}, fmt.Errorf("malformed policy row: %v", err)
	}

	subject, err := parseSubject(w)
	if err != nil {
		return Row{}, err
	}

	row := Row{Subject: subject, GlobalBypass: w.GlobalBypass}
	if len(w.Throttles) > 0 {
		row.Throttles = make(map[quota.Dimension]quota.Throttle, len(w.Throttles))
		for _, t := range w.Throttles {
			d, err := quota.ParseDimension(t.Dimension)
			if err != nil {
				return Row{}, err
			}
			if _, ok := row.Throttles[d]; ok {
				return Row{}, fmt.Errorf("duplicate throttle for dimension %v", d)
			}
			row.Throttles[d] = quota.Throttle{
				Limit:  t.Limit,
				Period: time.Duration(t.PeriodMs) * time.Millisecond,
			}
		}
	}

	if err := row.Validate(); err != nil {
		return Row{}, err
	}
	return row, nil
}

// EncodeRow serializes a Row to its JSON wire form.
func EncodeRow(row Row) ([]byte, error) {
	if err := row.Validate(); err != nil {
		return nil, err
	}
	w := wireRow{
		Scope:        row.Subject.Scope.String(),
		Namespace:    row.Subject.Namespace,
		Table:        row.Subject.Table,
		User:         row.Subject.User,
		GlobalBypass: row.GlobalBypass,
	}
	for _, d := range quota.Dimensions {
		t, ok := row.Throttles[d]
		if !ok {
			continue
		}
		w.Throttles = append(w.Throttles, wireThrottle{
			Dimension: d.String(),
			Limit:     t.Limit,
			PeriodMs:  t.Period.Milliseconds(),
		})
	}
	return json.Marshal(w)
}

func parseSubject(w wireRow) (quota.Subject, error) {
	var s quota.Subject
	switch w.Scope {
	case quota.Namespace.String():
		s = quota.NamespaceSubject(w.Namespace)
	case quota.Table.String():
		s = quota.TableSubject(w.Table)
	case quota.User.String():
		s = quota.UserSubject(w.User)
	case quota.UserTable.String():
		s = quota.UserTableSubject(w.User, w.Table)
	default:
		return s, fmt.Errorf("unknown policy scope: %q", w.Scope)
	}
	return s, s.Validate()
}
