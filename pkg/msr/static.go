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
)

// Static is a simulated register file. Every processor starts with the same
// initial values; writes are kept per processor and are visible to later
// reads on that processor only.
type Static struct {
	initial map[uint32]uint64

	mu      sync.Mutex
	written map[key]uint64
}

type key struct {
	cpu   int
	index uint32
}

// NewStatic returns a register file holding vals on every processor.
// Registers absent from vals read as ErrNotFound until written.
func NewStatic(vals map[uint32]uint64) *Static {
	initial := make(map[uint32]uint64, len(vals))
	for k, v := range vals {
		initial[k] = v
	}
	return &Static{
		initial: initial,
		written: make(map[key]uint64),
	}
}

// Read implements Accessor.Read.
func (s *Static) Read(cpu int, index uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.written[key{cpu, index}]; ok {
		return v, nil
	}
	if v, ok := s.initial[index]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("reading %s on cpu %d: %w", Name(index), cpu, ErrNotFound)
}

// Write implements Accessor.Write.
func (s *Static) Write(cpu int, index uint32, val uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written[key{cpu, index}] = val
	return nil
}
