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

package cpuid

import (
	"fmt"
	"strings"
)

// Identity is the identity of the boot processor, as filled in by CPU
// identification. It is read-only to everything downstream.
type Identity struct {
	// Vendor is the processor manufacturer.
	Vendor Vendor

	// Family, Model and Stepping form the processor signature, with the
	// extended family and model already folded in.
	Family   uint8
	Model    uint8
	Stepping uint8

	// Microcode is the loaded microcode revision.
	Microcode uint32

	// CPUIDLevel is the highest basic leaf, ExtendedCPUIDLevel the highest
	// extended leaf (0x8000xxxx).
	CPUIDLevel         uint32
	ExtendedCPUIDLevel uint32

	// PhysAddrBits is the CPUID reported maximum physical address width.
	PhysAddrBits uint

	// Features is the capability bit vector.
	Features FeatureSet

	// NumSiblings is the number of logical threads per core reported by
	// topology enumeration. On Intel this is the maximum capability rather
	// than the current configuration.
	NumSiblings uint

	// APICIDs maps each present processor index to its local APIC ID.
	APICIDs []uint32

	// KernelBugs holds the bug names reported by the host kernel, when the
	// identity came from /proc/cpuinfo. It is informational only.
	KernelBugs []string
}

// Hypervisor returns true if this processor is running under another
// hypervisor.
func (id *Identity) Hypervisor() bool {
	return id.Features.HasFeature(X86FeatureHypervisor)
}

// NumCPUs returns the number of present processors.
func (id *Identity) NumCPUs() int {
	if len(id.APICIDs) == 0 {
		return 1
	}
	return len(id.APICIDs)
}

// String implements fmt.Stringer.String.
func (id *Identity) String() string {
	return fmt.Sprintf("%s family %#x model %#x stepping %#x microcode %#x", id.Vendor, id.Family, id.Model, id.Stepping, id.Microcode)
}

// ArchCaps is the value of MSR_ARCH_CAPABILITIES.
type ArchCaps uint64

// Bits of MSR_ARCH_CAPABILITIES.
const (
	ArchCapsRDCLNo    ArchCaps = 1 << 0 // Not susceptible to rogue data cache load.
	ArchCapsIBRSAll   ArchCaps = 1 << 1 // IBRS protects all privilege levels.
	ArchCapsRSBA      ArchCaps = 1 << 2 // May speculate past an RSB underflow.
	ArchCapsSkipL1DFL ArchCaps = 1 << 3 // No L1D flush needed on VM entry.
	ArchCapsSSBNo     ArchCaps = 1 << 4 // Not susceptible to speculative store bypass.
	ArchCapsMDSNo     ArchCaps = 1 << 5 // Not susceptible to MDS.
)

var archCapsNames = []struct {
	bit  ArchCaps
	name string
}{
	{ArchCapsIBRSAll, "IBRS_ALL"},
	{ArchCapsRDCLNo, "RDCL_NO"},
	{ArchCapsRSBA, "RSBA"},
	{ArchCapsSkipL1DFL, "SKIP_L1DFL"},
	{ArchCapsSSBNo, "SSB_NO"},
	{ArchCapsMDSNo, "MDS_NO"},
}

// Has returns true if all bits of mask are set.
func (c ArchCaps) Has(mask ArchCaps) bool {
	return c&mask == mask
}

// Names returns the names of the set bits, in report order.
func (c ArchCaps) Names() []string {
	var names []string
	for _, n := range archCapsNames {
		if c.Has(n.bit) {
			names = append(names, n.name)
		}
	}
	return names
}

// String implements fmt.Stringer.String.
func (c ArchCaps) String() string {
	return strings.Join(c.Names(), " ")
}

// ArchCapsFromString parses a single bit name as printed by Names.
func ArchCapsFromString(s string) (ArchCaps, error) {
	for _, n := range archCapsNames {
		if strings.EqualFold(n.name, s) {
			return n.bit, nil
		}
	}
	return 0, fmt.Errorf("unknown arch capability %q", s)
}
