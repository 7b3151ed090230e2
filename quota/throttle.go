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
	"time"
)

// Dimension is a resource axis being limited.
type Dimension int

const (
	// RequestNum limits the total number of requests, reads and writes
	// alike.
	RequestNum Dimension = iota

	// RequestSize limits the total payload size of requests, in bytes.
	RequestSize

	// ReadNum limits the number of read requests.
	ReadNum

	// WriteNum limits the number of write requests.
	WriteNum
)

// Dimensions lists all known dimensions.
var Dimensions = []Dimension{RequestNum, RequestSize, ReadNum, WriteNum}

// String returns the constant name of the dimension, e.g. "request_num".
func (d Dimension) String() string {
	switch d {
	case RequestNum:
		return "request_num"
	case RequestSize:
		return "request_size"
	case ReadNum:
		return "read_num"
	case WriteNum:
		return "write_num"
	}
	return fmt.Sprintf("dimension(%d)", int(d))
}

// ParseDimension maps the textual name of a dimension back to its constant.
func ParseDimension(name string) (Dimension, error) {
	for _, d := range Dimensions {
		if d.String() == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown dimension: %q", name)
}

// Throttle is a single fixed-window limit: at most Limit units per Period.
type Throttle struct {
	Limit  int64
	Period time.Duration
}

// Validate returns an error if the throttle is malformed.
func (t Throttle) Validate() error {
	if t.Limit <= 0 {
		return fmt.Errorf("throttle limit must be > 0 (got %v)", t.Limit)
	}
	if t.Period <= 0 {
		return fmt.Errorf("throttle period must be > 0 (got %v)", t.Period)
	}
	return nil
}

// String returns a description of the throttle, e.g. "6/1m0s".
func (t Throttle) String() string {
	return fmt.Sprintf("%v/%v", t.Limit, t.Period)
}

// Cost is the per-dimension resource demand of one operation. Sizes are in
// bytes and may be estimates; see OperationQuota for how estimates are
// settled against actual usage.
type Cost struct {
	WriteNum  int64
	WriteSize int64
	ReadNum   int64
	ReadSize  int64
}

// Amount returns the units this cost charges against dimension d.
func (c Cost) Amount(d Dimension) int64 {
	switch d {
	case RequestNum:
		return c.WriteNum + c.ReadNum
	case RequestSize:
		return c.WriteSize + c.ReadSize
	case ReadNum:
		return c.ReadNum
	case WriteNum:
		return c.WriteNum
	}
	return 0
}
