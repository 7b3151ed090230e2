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

// Default per-operation size estimates, in bytes, charged at admission time
// when the true payload size is not yet known. The gap between estimate and
// actual usage is settled on Close.
const (
	DefaultWriteSizeEstimate = 100
	DefaultReadSizeEstimate  = 1000
)

// scopeNames labels the limiter slots of an OperationQuota, in lock
// acquisition order.
var scopeNames = [3]string{"user", "table", "namespace"}

// OperationQuota performs one atomic admission check for a request against
// up to three limiters: the effective user limiter, the table limiter and
// the namespace limiter. Admission is all-or-nothing: either every limiter
// has budget and all are charged, or none is.
//
// After the operation executes, the caller reports actual sizes via
// AddWriteSize/AddReadSize and calls Close, which settles the difference
// between the admitted estimate and reality. A completed operation is never
// rejected retroactively; settlement only adjusts the budget left for
// subsequent requests.
type OperationQuota struct {
	// limiters holds the user, table and namespace limiters, in that
	// order. Bypass limiters are nil'd out so no lock is ever taken for
	// them. The fixed order doubles as the global lock order, preventing
	// deadlock between concurrent checks.
	limiters [3]*Limiter

	cost Cost

	writeSize, readSize int64 // actual usage, accumulated by the caller
	reported            bool
	checked             bool
	closed              bool
}

// NewOperationQuota builds an OperationQuota over the given limiters. Any of
// them may be the bypass limiter; a request whose limiters all bypass is
// admitted at no cost.
func NewOperationQuota(user, table, namespace *Limiter) *OperationQuota {
	op := &OperationQuota{}
	for i, l := range [3]*Limiter{user, table, namespace} {
		if l != nil && !l.IsBypass() {
			op.limiters[i] = l
		}
	}
	return op
}

// CheckQuota admits or rejects an operation of numWrites writes and
// numReads reads. Sizes are charged from the default estimates. On
// rejection a *ThrottlingError is returned and no limiter state changes.
func (op *OperationQuota) CheckQuota(numWrites, numReads int) error {
	op.cost = Cost{
		WriteNum:  int64(numWrites),
		WriteSize: int64(numWrites) * DefaultWriteSizeEstimate,
		ReadNum:   int64(numReads),
		ReadSize:  int64(numReads) * DefaultReadSizeEstimate,
	}

	// Peek all, then commit all, holding every involved limiter's lock
	// across both phases. Locks are acquired in user->table->namespace
	// order.
	for _, l := range op.limiters {
		if l != nil {
			l.mu.Lock()
		}
	}
	defer func() {
		for _, l := range op.limiters {
			if l != nil {
				l.mu.Unlock()
			}
		}
	}()

	for i, l := range op.limiters {
		if l == nil {
			continue
		}
		if err := l.checkLocked(op.cost); err != nil {
			err.Scope = scopeNames[i]
			Metrics.IncThrottled(err.Scope)
			return err
		}
	}
	for _, l := range op.limiters {
		if l != nil {
			l.grabLocked(op.cost)
		}
	}
	op.checked = true
	Metrics.IncAdmitted()
	return nil
}

// AddWriteSize records size bytes of actual write payload.
func (op *OperationQuota) AddWriteSize(size int64) {
	op.writeSize += size
	op.reported = true
}

// AddReadSize records size bytes of actual response payload.
func (op *OperationQuota) AddReadSize(size int64) {
	op.readSize += size
	op.reported = true
}

// Close settles the operation: the difference between the admitted size
// estimate and the actual usage reported via AddWriteSize/AddReadSize is
// debited from (underestimate) or credited back to (overestimate) every
// charged limiter. Callers that never reported actual usage keep the
// estimate as charged. Close is a no-op for rejected or already-closed
// operations.
func (op *OperationQuota) Close() {
	if !op.checked || op.closed || !op.reported {
		return
	}
	op.closed = true

	writeDelta := op.writeSize - op.cost.WriteSize
	readDelta := op.readSize - op.cost.ReadSize
	for _, l := range op.limiters {
		if l == nil {
			continue
		}
		if writeDelta != 0 {
			l.ConsumeWrite(writeDelta)
		}
		if readDelta != 0 {
			l.ConsumeRead(readDelta)
		}
	}
}
