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

// Package mysqlps defines a MySQL-based policy.Store implementation.
//
// Policy lives in a single system table (see schema.sql): one row per
// subject and dimension, plus a dimensionless row per user carrying the
// global-bypass flag. The store is strictly a reader; administrative
// tooling writes the table.
package mysqlps

import (
	"context"
	"database/sql"
	"time"

	// Register the MySQL driver for OpenDB.
	_ "github.com/go-sql-driver/mysql"
	"k8s.io/klog/v2"

	"github.com/stratumdb/stratum/quota"
	"github.com/stratumdb/stratum/quota/policy"
)

const selectPoliciesSQL = `
	SELECT subject_scope, namespace, table_name, user_name, dimension, limit_value, period_ms, global_bypass
	FROM quota_policies`

// Store reads policy rows from a MySQL database.
type Store struct {
	DB *sql.DB
}

// OpenDB opens a MySQL database for use with New.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		// Don't log uri as it could contain credentials.
		klog.Warningf("Could not open MySQL database, check config: %v", err)
		return nil, err
	}
	return db, nil
}

// New creates a Store reading from db.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Snapshot implements policy.Store. Malformed rows are skipped and logged;
// only query errors fail the snapshot.
func (s *Store) Snapshot(ctx context.Context) ([]policy.Row, error) {
	rows, err := s.DB.QueryContext(ctx, selectPoliciesSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			klog.Warningf("Error closing quota policy cursor: %v", err)
		}
	}()

	// One policy.Row per subject, merged across dimension rows.
	bySubject := make(map[string]*policy.Row)
	for rows.Next() {
		var scope string
		var namespace, table, user, dimension sql.NullString
		var limit, periodMs sql.NullInt64
		var globalBypass bool
		if err := rows.Scan(&scope, &namespace, &table, &user, &dimension, &limit, &periodMs, &globalBypass); err != nil {
			return nil, err
		}

		subject, err := parseSubject(scope, namespace.String, table.String, user.String)
		if err != nil {
			klog.Warningf("Skipping malformed quota policy row: %v", err)
			continue
		}

		row, ok := bySubject[subject.Name()]
		if !ok {
			row = &policy.Row{Subject: subject}
			bySubject[subject.Name()] = row
		}
		if globalBypass {
			row.GlobalBypass = true
		}

		if !dimension.Valid || dimension.String == "" {
			continue // flag-only row
		}
		d, err := quota.ParseDimension(dimension.String)
		if err != nil {
			klog.Warningf("Skipping malformed quota policy row for %q: %v", subject, err)
			continue
		}
		throttle := quota.Throttle{
			Limit:  limit.Int64,
			Period: time.Duration(periodMs.Int64) * time.Millisecond,
		}
		if err := throttle.Validate(); err != nil {
			klog.Warningf("Skipping malformed quota policy row for %q: %v", subject, err)
			continue
		}
		if row.Throttles == nil {
			row.Throttles = make(map[quota.Dimension]quota.Throttle)
		}
		row.Throttles[d] = throttle
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]policy.Row, 0, len(bySubject))
	for _, row := range bySubject {
		out = append(out, *row)
	}
	return out, nil
}

func parseSubject(scope, namespace, table, user string) (quota.Subject, error) {
	var s quota.Subject
	switch scope {
	case quota.Namespace.String():
		s = quota.NamespaceSubject(namespace)
	case quota.Table.String():
		s = quota.TableSubject(table)
	case quota.User.String():
		s = quota.UserSubject(user)
	case quota.UserTable.String():
		s = quota.UserTableSubject(user, table)
	default:
		return s, &scopeError{scope}
	}
	return s, s.Validate()
}

type scopeError struct {
	scope string
}

func (e *scopeError) Error() string {
	return "unknown policy scope: " + e.scope
}
