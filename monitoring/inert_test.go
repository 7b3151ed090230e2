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

package monitoring

import "testing"

func TestInertCounter(t *testing.T) {
	c := InertMetricFactory{}.NewCounter("test_counter", "help", "label")

	c.Inc("a")
	c.Inc("a")
	c.Add(2.5, "b")
	if got := c.Value("a"); got != 2 {
		t.Errorf(`Value("a") = %v, want 2`, got)
	}
	if got := c.Value("b"); got != 2.5 {
		t.Errorf(`Value("b") = %v, want 2.5`, got)
	}
	if got := c.Value("unset"); got != 0 {
		t.Errorf(`Value("unset") = %v, want 0`, got)
	}
}

func TestInertGauge(t *testing.T) {
	g := InertMetricFactory{}.NewGauge("test_gauge", "help")

	g.Set(42)
	g.Inc()
	g.Dec()
	g.Dec()
	if got := g.Value(); got != 41 {
		t.Errorf("Value() = %v, want 41", got)
	}
}

func TestInertLabelMismatch(t *testing.T) {
	c := InertMetricFactory{}.NewCounter("test_counter", "help", "label")

	// Wrong label cardinality is dropped, not recorded under a bad key.
	c.Inc()
	c.Inc("a", "b")
	if got := c.Value("a"); got != 0 {
		t.Errorf(`Value("a") = %v, want 0`, got)
	}
}
