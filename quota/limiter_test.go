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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/stratumdb/stratum/util/clock"
)

func TestNewLimiter_EmptyThrottlesIsBypass(t *testing.T) {
	for _, throttles := range []map[Dimension]Throttle{nil, {}} {
		l := NewLimiter(throttles, nil)
		if l != NoopLimiter() {
			t.Errorf("NewLimiter(%v) = %p, want the shared bypass limiter", throttles, l)
		}
		if !l.IsBypass() {
			t.Errorf("NewLimiter(%v).IsBypass() = false, want true", throttles)
		}
	}
}

func TestLimiter_BypassAdmitsEverything(t *testing.T) {
	l := NoopLimiter()
	cost := Cost{WriteNum: 1 << 40, ReadNum: 1 << 40, WriteSize: 1 << 50, ReadSize: 1 << 50}
	if err := l.CheckQuota(cost); err != nil {
		t.Errorf("CheckQuota() = %v, want nil", err)
	}
	l.GrabQuota(cost)
	l.ConsumeWrite(1 << 50)
	l.ConsumeRead(-(1 << 50))
}

func TestLimiter_CheckQuota(t *testing.T) {
	ts := clock.NewFake(testStart)
	throttles := map[Dimension]Throttle{
		RequestNum: {Limit: 10, Period: time.Minute},
		WriteNum:   {Limit: 3, Period: time.Minute},
	}

	tests := []struct {
		desc    string
		cost    Cost
		wantDim Dimension
		wantErr bool
	}{
		{desc: "fits", cost: Cost{WriteNum: 3, ReadNum: 7}},
		{desc: "write dimension exceeded", cost: Cost{WriteNum: 4}, wantErr: true, wantDim: WriteNum},
		{desc: "request dimension exceeded", cost: Cost{WriteNum: 2, ReadNum: 9}, wantErr: true, wantDim: RequestNum},
		{desc: "unthrottled dimension ignored", cost: Cost{ReadNum: 10, ReadSize: 1 << 30}},
	}
	for _, test := range tests {
		l := NewLimiter(throttles, ts)
		err := l.CheckQuota(test.cost)
		if gotErr := err != nil; gotErr != test.wantErr {
			t.Errorf("%v: CheckQuota(%+v) = %v, wantErr = %v", test.desc, test.cost, err, test.wantErr)
			continue
		}
		if err == nil {
			continue
		}
		te, ok := err.(*ThrottlingError)
		if !ok {
			t.Errorf("%v: CheckQuota() error type = %T, want *ThrottlingError", test.desc, err)
			continue
		}
		if te.Dimension != test.wantDim {
			t.Errorf("%v: rejected dimension = %v, want %v", test.desc, te.Dimension, test.wantDim)
		}
	}
}

func TestLimiter_CheckQuotaDoesNotConsume(t *testing.T) {
	ts := clock.NewFake(testStart)
	l := NewLimiter(map[Dimension]Throttle{
		RequestNum: {Limit: 5, Period: time.Minute},
	}, ts)

	cost := Cost{WriteNum: 5}
	for i := 0; i < 3; i++ {
		if err := l.CheckQuota(cost); err != nil {
			t.Fatalf("CheckQuota() on peek %v = %v, want nil", i, err)
		}
	}
	l.GrabQuota(cost)
	if err := l.CheckQuota(Cost{WriteNum: 1}); err == nil {
		t.Error("CheckQuota() after grab = nil, want error")
	}
}

func TestLimiter_GrabChargesEveryDimension(t *testing.T) {
	ts := clock.NewFake(testStart)
	l := NewLimiter(map[Dimension]Throttle{
		RequestNum:  {Limit: 10, Period: time.Minute},
		ReadNum:     {Limit: 4, Period: time.Minute},
		RequestSize: {Limit: 5000, Period: time.Minute},
	}, ts)

	l.GrabQuota(Cost{ReadNum: 4, ReadSize: 4000})

	// request_num took the same 4 reads, request_size the bytes.
	if err := l.CheckQuota(Cost{ReadNum: 1}); err == nil {
		t.Error("CheckQuota(1 read) = nil, want read_num rejection")
	}
	if err := l.CheckQuota(Cost{WriteNum: 6}); err != nil {
		t.Errorf("CheckQuota(6 writes) = %v, want nil", err)
	}
	if err := l.CheckQuota(Cost{WriteNum: 1, WriteSize: 1001}); err == nil {
		t.Error("CheckQuota(1001 bytes) = nil, want request_size rejection")
	}
}

func TestLimiter_SettlementDeltas(t *testing.T) {
	ts := clock.NewFake(testStart)
	l := NewLimiter(map[Dimension]Throttle{
		RequestSize: {Limit: 1000, Period: time.Minute},
	}, ts)

	l.GrabQuota(Cost{WriteSize: 600})
	l.ConsumeWrite(-400) // actual usage was 200 bytes
	if err := l.CheckQuota(Cost{WriteSize: 800}); err != nil {
		t.Errorf("CheckQuota(800) after credit = %v, want nil", err)
	}

	l.ConsumeRead(700) // underestimated read
	if err := l.CheckQuota(Cost{ReadSize: 200}); err == nil {
		t.Error("CheckQuota(200) after debit = nil, want error")
	}
}

func TestLimiter_Update(t *testing.T) {
	ts := clock.NewFake(testStart)
	l := NewLimiter(map[Dimension]Throttle{
		RequestNum: {Limit: 10, Period: time.Minute},
		ReadNum:    {Limit: 5, Period: time.Minute},
	}, ts)
	l.GrabQuota(Cost{ReadNum: 4})

	l.Update(map[Dimension]Throttle{
		RequestNum: {Limit: 10, Period: time.Minute}, // unchanged
		WriteNum:   {Limit: 2, Period: time.Minute},  // added
		// ReadNum removed.
	})

	want := map[Dimension]Throttle{
		RequestNum: {Limit: 10, Period: time.Minute},
		WriteNum:   {Limit: 2, Period: time.Minute},
	}
	if diff := cmp.Diff(want, l.Throttles()); diff != "" {
		t.Errorf("post-Update Throttles() diff (-want +got):\n%v", diff)
	}

	// The unchanged dimension kept its consumed state.
	if err := l.CheckQuota(Cost{WriteNum: 7}); err == nil {
		t.Error("CheckQuota(7) = nil, want request_num rejection (4 already consumed)")
	}
	if err := l.CheckQuota(Cost{WriteNum: 2, ReadNum: 4}); err != nil {
		t.Errorf("CheckQuota(2w 4r) = %v, want nil", err)
	}
}

func TestLimiter_UpdateChangedDimensionResets(t *testing.T) {
	ts := clock.NewFake(testStart)
	l := NewLimiter(map[Dimension]Throttle{
		RequestNum: {Limit: 10, Period: time.Minute},
	}, ts)
	l.GrabQuota(Cost{WriteNum: 9})

	l.Update(map[Dimension]Throttle{
		RequestNum: {Limit: 6, Period: time.Minute},
	})
	if err := l.CheckQuota(Cost{WriteNum: 6}); err != nil {
		t.Errorf("CheckQuota(6) after limit change = %v, want nil", err)
	}
}

func TestLimiter_UpdateOnBypassPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Update on the shared bypass limiter did not panic")
		}
	}()
	NoopLimiter().Update(map[Dimension]Throttle{
		RequestNum: {Limit: 1, Period: time.Minute},
	})
}
