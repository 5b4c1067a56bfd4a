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

package specctrl

import (
	"fmt"
	"sync/atomic"
)

// CPUInfo is the speculation control state of one processor. Only the owning
// processor writes it.
type CPUInfo struct {
	// ShadowSpecCtrl is the value MSR_SPEC_CTRL takes while a guest runs.
	ShadowSpecCtrl uint8

	// XenSpecCtrl is the value MSR_SPEC_CTRL takes in the hypervisor.
	XenSpecCtrl uint8

	// SpecCtrlFlags is a set of SCF* bits.
	SpecCtrlFlags uint8

	// LastSpecCtrl is the last value written to MSR_SPEC_CTRL by this
	// package. It is read by other goroutines for reporting.
	LastSpecCtrl atomic.Uint64
}

// Init resets the slot to the published defaults.
func (c *CPUInfo) Init(g *Globals) {
	c.ShadowSpecCtrl = 0
	c.XenSpecCtrl = g.DefaultSpecCtrl
	c.SpecCtrlFlags = g.DefaultFlags
}

// UsingShadow returns true if the shadow value is in effect.
func (c *CPUInfo) UsingShadow() bool {
	return c.SpecCtrlFlags&SCFUseShadow != 0
}

// PerCPU holds one CPUInfo per present processor.
type PerCPU struct {
	slots []CPUInfo
}

// NewPerCPU allocates n slots.
func NewPerCPU(n int) *PerCPU {
	return &PerCPU{slots: make([]CPUInfo, n)}
}

// Len returns the number of slots.
func (p *PerCPU) Len() int {
	return len(p.slots)
}

// Get returns the slot of cpu.
//
// Precondition: 0 <= cpu < p.Len().
func (p *PerCPU) Get(cpu int) *CPUInfo {
	if cpu < 0 || cpu >= len(p.slots) {
		panic(fmt.Sprintf("cpu %d out of range [0, %d)", cpu, len(p.slots)))
	}
	return &p.slots[cpu]
}
