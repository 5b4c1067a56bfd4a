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

// Package vuln classifies a processor's exposure to speculative execution
// hazards.
//
// Every hazard here is only known on Intel family 6 parts, and each is
// classified by exact model lookup. Models missing from a table are assumed
// to need the mitigation, and a diagnostic names the model.
package vuln

import (
	"gvisor.dev/specctrl/pkg/cpuid"
	"gvisor.dev/specctrl/pkg/log"
)

// Verdicts is the classification of one processor.
type Verdicts struct {
	// L1TF is true if the processor is vulnerable to L1 Terminal Fault.
	L1TF bool `json:"l1tf"`

	// MDS is true if the processor is vulnerable to any combination of
	// MLPDS, MFBDS and MSBDS other than MSBDS alone.
	MDS bool `json:"mds"`

	// MSBDSOnly is true if the processor is only vulnerable to the store
	// buffer aspect of MDS. It is never set together with MDS.
	MSBDSOnly bool `json:"msbds_only"`

	// RetpolineSafe is true if retpoline is a sufficient BTI mitigation.
	RetpolineSafe bool `json:"retpoline_safe"`

	// EagerFPU is true if the processor speculates past #NM and needs
	// eager FPU context switching.
	EagerFPU bool `json:"eager_fpu"`

	// L1DMaxPhysAddr is the physical address width the L1D cache indexes
	// with, which may exceed the CPUID reported width.
	L1DMaxPhysAddr uint `json:"l1d_maxphysaddr"`
}

// isIntelFamily6 gates every table.
func isIntelFamily6(id *cpuid.Identity) bool {
	return id.Vendor == cpuid.VendorIntel && id.Family == 6
}

// Classify computes the verdicts for id, given the content of
// MSR_ARCH_CAPABILITIES (zero if absent).
func Classify(id *cpuid.Identity, caps cpuid.ArchCaps) Verdicts {
	var v Verdicts
	v.RetpolineSafe = RetpolineSafe(id, caps)
	v.EagerFPU = NeedsEagerFPU(id)
	v.L1TF, v.L1DMaxPhysAddr = L1TF(id, caps)
	v.MDS, v.MSBDSOnly = MDS(id, caps)
	return v
}

func unrecognised(what string, id *cpuid.Identity) {
	log.Warningf("Unrecognised CPU model %#x - assuming %s", id.Model, what)
}
