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
	"gvisor.dev/specctrl/pkg/cpuid"
	"gvisor.dev/specctrl/pkg/specctrl/options"
)

// Bits of MSR_SPEC_CTRL.
const (
	SpecCtrlIBRS uint8 = 1 << 0
	SpecCtrlSSBD uint8 = 1 << 2
)

// Bits of the per-CPU SPEC_CTRL flags byte, consulted by the entry and exit
// paths.
const (
	// SCFUseShadow means the shadow value is in effect on exit to a guest.
	SCFUseShadow uint8 = 1 << 0

	// SCFISTWRMSR means interrupt stack entry must rewrite MSR_SPEC_CTRL.
	SCFISTWRMSR uint8 = 1 << 1

	// SCFISTRSB means interrupt stack entry must overwrite the RSB.
	SCFISTRSB uint8 = 1 << 2
)

// The assembly entry paths test SCFUseShadow with a shift by zero.
var _ = [1]struct{}{}[SCFUseShadow-1]

// Globals is the published mitigation state. It is written once, by
// Publish, and only read afterwards.
type Globals struct {
	// Caps is the identity's capability vector with the synthetic policy
	// bits added.
	Caps cpuid.FeatureSet

	DefaultSpecCtrl uint8
	DefaultFlags    uint8

	XPTI   options.Scope
	PVL1TF options.Scope

	IBPB     bool
	SSBD     bool
	EagerFPU bool
	L1DFlush bool

	L1TFAddrMask uint64
	L1TFSafeAddr uint64
}

// Publish turns a resolved policy into global state.
func Publish(id *cpuid.Identity, p Policy) *Globals {
	g := &Globals{
		Caps:         id.Features,
		XPTI:         p.XPTI,
		PVL1TF:       p.PVL1TF,
		IBPB:         p.IBPB,
		SSBD:         p.SSBD,
		EagerFPU:     p.EagerFPU,
		L1DFlush:     p.L1DFlush,
		L1TFAddrMask: p.L1TFAddrMask,
		L1TFSafeAddr: p.L1TFSafeAddr,
	}
	set := func(f cpuid.Feature, on bool) {
		if on {
			g.Caps.Add(f)
		} else {
			g.Caps.Remove(f)
		}
	}

	switch p.Thunk {
	case options.ThunkLFence:
		g.Caps.Add(cpuid.X86FeatureIndThunkLFence)
	case options.ThunkJmp:
		g.Caps.Add(cpuid.X86FeatureIndThunkJmp)
	}

	if p.MSRSCPV || p.MSRSCHVM {
		g.DefaultFlags |= SCFISTWRMSR
	}
	set(cpuid.X86FeatureSCMSRPV, p.MSRSCPV)
	set(cpuid.X86FeatureSCMSRHVM, p.MSRSCHVM)

	if id.Features.HasFeature(cpuid.X86FeatureIBRSB) && p.IBRS {
		g.DefaultSpecCtrl |= SpecCtrlIBRS
	}
	if p.SSBD {
		g.DefaultSpecCtrl |= SpecCtrlSSBD
	}

	if p.RSBPV {
		g.Caps.Add(cpuid.X86FeatureSCRSBPV)
		g.DefaultFlags |= SCFISTRSB
	}
	set(cpuid.X86FeatureSCRSBHVM, p.RSBHVM)

	set(cpuid.X86FeatureNoXPTI, p.XPTI == options.ScopeNone)

	// The idle path only touches MSR_SPEC_CTRL if there is a value to
	// restore.
	set(cpuid.X86FeatureSCMSRIdle, g.DefaultSpecCtrl != 0)

	set(cpuid.X86FeatureSCVERWPV, p.MDClearPV)
	set(cpuid.X86FeatureSCVERWIdle, p.MDClearPV || p.MDClearHVM)
	set(cpuid.X86FeatureSCVERWHVM, p.VERWHVM)

	return g
}
