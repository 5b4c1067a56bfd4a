// Copyright 2026 The gVisor Authors.
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

package msr

import (
	"fmt"
	"sync"

	"gvisor.dev/specctrl/pkg/log"
)

// WriteOp is a single register write.
type WriteOp struct {
	CPU   int
	Index uint32
	Value uint64
}

// String implements fmt.Stringer.String.
func (w WriteOp) String() string {
	return fmt.Sprintf("cpu%d: wrmsr %s <- %#x", w.CPU, Name(w.Index), w.Value)
}

// Recorder wraps an Accessor and keeps every write in order. Reads always
// go to Next. Writes reach Next only if DryRun is false.
type Recorder struct {
	Next   Accessor
	DryRun bool

	mu     sync.Mutex
	writes []WriteOp
}

// Read implements Accessor.Read.
func (r *Recorder) Read(cpu int, index uint32) (uint64, error) {
	return r.Next.Read(cpu, index)
}

// Write implements Accessor.Write.
func (r *Recorder) Write(cpu int, index uint32, val uint64) error {
	op := WriteOp{CPU: cpu, Index: index, Value: val}
	if r.DryRun {
		log.Infof("[dry-run] %v", op)
	} else if err := r.Next.Write(cpu, index, val); err != nil {
		return err
	}
	r.mu.Lock()
	r.writes = append(r.writes, op)
	r.mu.Unlock()
	return nil
}

// Writes returns a copy of the writes recorded so far.
func (r *Recorder) Writes() []WriteOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WriteOp(nil), r.writes...)
}

// WritesTo returns the values written to index on cpu, in order.
func (r *Recorder) WritesTo(cpu int, index uint32) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var vals []uint64
	for _, w := range r.writes {
		if w.CPU == cpu && w.Index == index {
			vals = append(vals, w.Value)
		}
	}
	return vals
}
