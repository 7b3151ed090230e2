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
	"strings"
)

// DefaultNamespace is the namespace of tables whose name carries no
// namespace qualifier.
const DefaultNamespace = "default"

// Scope identifies what kind of entity a quota policy is attached to.
type Scope int

const (
	// Namespace scopes a policy to every table in a namespace.
	Namespace Scope = iota

	// Table scopes a policy to a single table.
	Table

	// User scopes a policy to a user, across all tables.
	User

	// UserTable scopes a policy to a user on a specific table. When
	// present it replaces the generic User policy for that table; the two
	// never combine.
	UserTable
)

// String returns the lowercase name of the scope.
func (s Scope) String() string {
	switch s {
	case Namespace:
		return "namespace"
	case Table:
		return "table"
	case User:
		return "user"
	case UserTable:
		return "usertable"
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

// Subject identifies the entity a quota policy applies to.
type Subject struct {
	// Scope of the subject.
	Scope Scope

	// Namespace identifies the namespace for Namespace subjects.
	// Not used for other scopes.
	Namespace string

	// Table identifies the table, as "namespace:table", for Table and
	// UserTable subjects. Not used for other scopes.
	Table string

	// User identifies the user for User and UserTable subjects.
	// Not used for other scopes.
	User string
}

// NamespaceSubject returns the Subject for a namespace policy.
func NamespaceSubject(namespace string) Subject {
	return Subject{Scope: Namespace, Namespace: namespace}
}

// TableSubject returns the Subject for a table policy.
func TableSubject(table string) Subject {
	return Subject{Scope: Table, Table: QualifyTable(table)}
}

// UserSubject returns the Subject for a user policy.
func UserSubject(user string) Subject {
	return Subject{Scope: User, User: user}
}

// UserTableSubject returns the Subject for a user-on-table policy.
func UserTableSubject(user, table string) Subject {
	return Subject{Scope: UserTable, User: user, Table: QualifyTable(table)}
}

// Name returns a textual representation of the Subject. Names are constant
// and may be relied upon to not change in the future.
//
// Names are created as follows:
//   - Namespace subjects are mapped to "namespaces/$NS"
//   - Table subjects are mapped to "tables/$NS:$TABLE"
//   - User subjects are mapped to "users/$USER"
//   - UserTable subjects are mapped to "users/$USER/tables/$NS:$TABLE"
func (s Subject) Name() string {
	switch s.Scope {
	case Namespace:
		return fmt.Sprintf("namespaces/%v", s.Namespace)
	case Table:
		return fmt.Sprintf("tables/%v", s.Table)
	case User:
		return fmt.Sprintf("users/%v", s.User)
	case UserTable:
		return fmt.Sprintf("users/%v/tables/%v", s.User, s.Table)
	}
	return fmt.Sprintf("invalid/%d", int(s.Scope))
}

// String returns a description of the Subject.
func (s Subject) String() string {
	return s.Name()
}

// Validate returns an error if the Subject is malformed.
func (s Subject) Validate() error {
	switch s.Scope {
	case Namespace:
		if s.Namespace == "" {
			return fmt.Errorf("namespace subject requires a namespace")
		}
	case Table:
		if s.Table == "" {
			return fmt.Errorf("table subject requires a table")
		}
	case User:
		if s.User == "" {
			return fmt.Errorf("user subject requires a user")
		}
	case UserTable:
		if s.User == "" || s.Table == "" {
			return fmt.Errorf("usertable subject requires both user and table")
		}
	default:
		return fmt.Errorf("unknown scope: %v", s.Scope)
	}
	return nil
}

// QualifyTable returns table qualified with its namespace, applying
// DefaultNamespace when the name has no "namespace:" prefix.
func QualifyTable(table string) string {
	if table == "" {
		return ""
	}
	if strings.Contains(table, ":") {
		return table
	}
	return DefaultNamespace + ":" + table
}

// TableNamespace returns the namespace part of a table name, or
// DefaultNamespace if the name is unqualified.
func TableNamespace(table string) string {
	if ns, _, ok := strings.Cut(table, ":"); ok && ns != "" {
		return ns
	}
	return DefaultNamespace
}
