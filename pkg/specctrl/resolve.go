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
	"gvisor.dev/specctrl/pkg/specctrl/vuln"
)

// Build describes mitigation support compiled into the hypervisor.
type Build struct {
	// IndirectThunk is set if indirect branches go through a thunk that
	// can be patched at boot.
	IndirectThunk bool `toml:"indirect-thunk" json:"indirect_thunk"`

	// ShadowPaging is set if shadow paging support is present.
	ShadowPaging bool `toml:"shadow-paging" json:"shadow_paging"`
}

// Input is everything the resolver decides from.
type Input struct {
	Identity *cpuid.Identity
	ArchCaps cpuid.ArchCaps
	Verdicts vuln.Verdicts
	Options  options.Options
	Build    Build

	// SMTActive is the result of SMTEnabled.
	SMTActive bool

	// L1TFSafeAddr is a safe address already derived from the memory map.
	L1TFSafeAddr uint64
}

// Policy is the resolved value of every knob.
type Policy struct {
	Thunk options.Thunk `json:"thunk"`

	// IBRS is set if the hypervisor runs with SPEC_CTRL.IBRS.
	IBRS bool `json:"ibrs"`

	MSRSCPV    bool `json:"msr_sc_pv"`
	MSRSCHVM   bool `json:"msr_sc_hvm"`
	RSBPV      bool `json:"rsb_pv"`
	RSBHVM     bool `json:"rsb_hvm"`
	MDClearPV  bool `json:"md_clear_pv"`
	MDClearHVM bool `json:"md_clear_hvm"`
	IBPB       bool `json:"ibpb"`
	SSBD       bool `json:"ssbd"`
	EagerFPU   bool `json:"eager_fpu"`
	L1DFlush   bool `json:"l1d_flush"`

	// VERWHVM is set if VERW is needed on the HVM entry path. It is not
	// needed if the L1D flush, or an outer hypervisor, already covers it.
	VERWHVM bool `json:"verw_hvm"`

	XPTI   options.Scope `json:"xpti"`
	PVL1TF options.Scope `json:"pv_l1tf"`

	L1TFAddrMask   uint64 `json:"l1tf_addr_mask"`
	L1TFSafeAddr   uint64 `json:"l1tf_safe_addr"`
	L1DMaxPhysAddr uint   `json:"l1d_maxphysaddr"`
	PhysAddrBits   uint   `json:"paddr_bits"`

	// ArchCaps is the capability word the decisions were based on.
	ArchCaps cpuid.ArchCaps `json:"arch_caps"`

	SMTActive bool `json:"smt_active"`

	// SMTChosen is set if the administrator made an explicit SMT choice.
	SMTChosen bool `json:"smt_chosen"`
}

// Resolve combines verdicts, directives and available support into a
// Policy. It is deterministic and has no side effects.
//
// Precedence is, highest first: explicit directive, absence of the
// supporting hardware, then the hardware vulnerability driven default.
func Resolve(in Input) Policy {
	id := in.Identity
	o := &in.Options
	has := id.Features.HasFeature
	p := Policy{
		ArchCaps:       in.ArchCaps,
		PhysAddrBits:   id.PhysAddrBits,
		L1DMaxPhysAddr: in.Verdicts.L1DMaxPhysAddr,
		SMTActive:      in.SMTActive,
		SMTChosen:      o.SMT.IsSet(),
	}

	// Any explicit BTI choice is followed exactly and disables the
	// heuristics. An unset ibrs reads as enabled in that case.
	thunk := options.ThunkDefault
	ibrs := false
	if o.Thunk != options.ThunkDefault || o.IBRS.IsSet() {
		thunk = o.Thunk
		ibrs = o.IBRS.Or(true)
	} else if in.Build.IndirectThunk {
		switch {
		case has(cpuid.X86FeatureLFenceDispatch):
			thunk = options.ThunkLFence
		case in.Verdicts.RetpolineSafe:
			thunk = options.ThunkRetpoline
		case has(cpuid.X86FeatureIBRSB):
			ibrs = true
		}
	} else if has(cpuid.X86FeatureIBRSB) {
		ibrs = true
	}

	if !in.Build.IndirectThunk {
		thunk = options.ThunkNone
	}
	// With IBRS in use the thunk only adds overhead.
	if ibrs && thunk == options.ThunkDefault {
		thunk = options.ThunkJmp
	}
	// The compiled default is retpoline, which is better than nothing.
	if thunk == options.ThunkDefault {
		thunk = options.ThunkRetpoline
	}
	p.Thunk = thunk

	if has(cpuid.X86FeatureIBRSB) {
		p.MSRSCPV = o.MSRSCPV.Or(true)
		p.MSRSCHVM = o.MSRSCHVM.Or(true)
		p.IBRS = ibrs
	}
	p.SSBD = has(cpuid.X86FeatureSSBD) && o.SSBD.Or(false)

	// Guests can always poison the RSB.
	p.RSBPV = o.RSBPV.Or(true)
	p.RSBHVM = o.RSBHVM.Or(true)

	if has(cpuid.X86FeatureIBRSB) || has(cpuid.X86FeatureIBPB) {
		p.IBPB = o.IBPB.Or(true)
	}
	p.EagerFPU = o.EagerFPU.Or(in.Verdicts.EagerFPU)

	p.XPTI = o.XPTI.Or(xptiDefault(id, in.ArchCaps))

	p.L1TFAddrMask, p.L1TFSafeAddr = vuln.L1TFAddressing(in.Verdicts.L1DMaxPhysAddr, id.PhysAddrBits, in.L1TFSafeAddr)

	pvL1TF := options.ScopeNone
	if in.Verdicts.L1TF {
		pvL1TF = options.ScopeDomU
	}
	p.PVL1TF = o.PVL1TF.Or(pvL1TF)

	// Unless an outer hypervisor says it flushes on our behalf.
	if has(cpuid.X86FeatureL1DFlush) {
		p.L1DFlush = o.L1DFlush.Or(in.Verdicts.L1TF && !in.ArchCaps.Has(cpuid.ArchCapsSkipL1DFL))
	}

	// MD_CLEAR microcode extends L1D_FLUSH with VERW semantics, so HVM
	// entry needs VERW only if nothing else flushes.
	if has(cpuid.X86FeatureMDClear) {
		mdDefault := in.Verdicts.MDS || in.Verdicts.MSBDSOnly
		p.MDClearPV = o.MDClearPV.Or(mdDefault)
		p.MDClearHVM = o.MDClearHVM.Or(mdDefault)
	}
	p.VERWHVM = p.MDClearHVM && !in.ArchCaps.Has(cpuid.ArchCapsSkipL1DFL) && !p.L1DFlush

	return p
}

// xptiDefault is the XPTI scope for processors not immune to Meltdown.
// AMD processors are immune regardless of their capability word.
func xptiDefault(id *cpuid.Identity, caps cpuid.ArchCaps) options.Scope {
	if id.Vendor == cpuid.VendorAMD {
		caps = cpuid.ArchCapsRDCLNo
	}
	if caps.Has(cpuid.ArchCapsRDCLNo) {
		return options.ScopeNone
	}
	return options.ScopeAll
}
