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
	"strings"

	"gvisor.dev/specctrl/pkg/cpuid"
	"gvisor.dev/specctrl/pkg/specctrl/options"
	"gvisor.dev/specctrl/pkg/specctrl/vuln"
)

// Report summarises the mitigation state for administrators.
type Report struct {
	Identity string `json:"identity"`

	// Hardware lists the relevant hardware features and capability bits.
	Hardware []string `json:"hardware"`

	// Compiled lists compiled-in mitigation support.
	Compiled []string `json:"compiled,omitempty"`

	Thunk string `json:"thunk"`

	// SpecCtrl is "No" without MSR_SPEC_CTRL, else whether IBRS is set in
	// the hypervisor. SSBD is empty if the hardware lacks it.
	SpecCtrl string `json:"spec_ctrl"`
	SSBD     string `json:"ssbd,omitempty"`

	// Other lists flush and barrier actions taken by the hypervisor.
	Other []string `json:"other"`

	L1TF           bool   `json:"l1tf"`
	ShowL1TF       bool   `json:"-"`
	L1DMaxPhysAddr uint   `json:"l1d_maxphysaddr"`
	PhysAddrBits   uint   `json:"paddr_bits"`
	L1TFSafeAddr   uint64 `json:"l1tf_safe_addr"`

	PV  []string `json:"pv"`
	HVM []string `json:"hvm"`

	XPTI   options.Scope `json:"xpti"`
	PVL1TF options.Scope `json:"pv_l1tf"`

	Verdicts   vuln.Verdicts `json:"verdicts"`
	Policy     Policy        `json:"policy"`
	Caps       string        `json:"caps"`
	Advisories []Advisory    `json:"advisories,omitempty"`
}

// NewReport collects the report for a published state.
func NewReport(id *cpuid.Identity, b Build, v vuln.Verdicts, p Policy, g *Globals) *Report {
	has := id.Features.HasFeature
	r := &Report{
		Identity:       id.String(),
		L1TF:           v.L1TF,
		ShowL1TF:       v.L1TF || p.PVL1TF != options.ScopeNone,
		L1DMaxPhysAddr: v.L1DMaxPhysAddr,
		PhysAddrBits:   id.PhysAddrBits,
		L1TFSafeAddr:   g.L1TFSafeAddr,
		XPTI:           g.XPTI,
		PVL1TF:         g.PVL1TF,
		Verdicts:       v,
		Policy:         p,
		Caps:           g.Caps.FlagString(),
		Advisories:     advisories(p, v),
	}

	for _, f := range []struct {
		on   bool
		name string
	}{
		{has(cpuid.X86FeatureIBRSB), "IBRS/IBPB"},
		{has(cpuid.X86FeatureSTIBP), "STIBP"},
		{has(cpuid.X86FeatureL1DFlush), "L1D_FLUSH"},
		{has(cpuid.X86FeatureSSBD), "SSBD"},
		{has(cpuid.X86FeatureMDClear), "MD_CLEAR"},
		{has(cpuid.X86FeatureIBPB), "IBPB"},
	} {
		if f.on {
			r.Hardware = append(r.Hardware, f.name)
		}
	}
	r.Hardware = append(r.Hardware, p.ArchCaps.Names()...)

	if b.IndirectThunk {
		r.Compiled = append(r.Compiled, "INDIRECT_THUNK")
	}
	if b.ShadowPaging {
		r.Compiled = append(r.Compiled, "SHADOW_PAGING")
	}

	switch p.Thunk {
	case options.ThunkNone:
		r.Thunk = "N/A"
	case options.ThunkRetpoline:
		r.Thunk = "RETPOLINE"
	case options.ThunkLFence:
		r.Thunk = "LFENCE"
	case options.ThunkJmp:
		r.Thunk = "JMP"
	default:
		r.Thunk = "?"
	}

	switch {
	case !has(cpuid.X86FeatureIBRSB):
		r.SpecCtrl = "No"
	case g.DefaultSpecCtrl&SpecCtrlIBRS != 0:
		r.SpecCtrl = "IBRS+"
	default:
		r.SpecCtrl = "IBRS-"
	}
	if has(cpuid.X86FeatureSSBD) {
		if g.DefaultSpecCtrl&SpecCtrlSSBD != 0 {
			r.SSBD = "SSBD+"
		} else {
			r.SSBD = "SSBD-"
		}
	}

	if g.IBPB {
		r.Other = append(r.Other, "IBPB")
	}
	if g.L1DFlush {
		r.Other = append(r.Other, "L1D_FLUSH")
	}
	if p.MDClearPV || p.MDClearHVM {
		r.Other = append(r.Other, "VERW")
	}

	vm := func(msrSC, rsb cpuid.Feature) []string {
		var s []string
		if g.Caps.HasFeature(msrSC) {
			s = append(s, "MSR_SPEC_CTRL")
		}
		if g.Caps.HasFeature(rsb) {
			s = append(s, "RSB")
		}
		if g.EagerFPU {
			s = append(s, "EAGER_FPU")
		}
		if len(s) == 0 {
			s = append(s, "None")
		}
		if has(cpuid.X86FeatureMDClear) {
			s = append(s, "MD_CLEAR")
		}
		return s
	}
	r.PV = vm(cpuid.X86FeatureSCMSRPV, cpuid.X86FeatureSCRSBPV)
	r.HVM = vm(cpuid.X86FeatureSCMSRHVM, cpuid.X86FeatureSCRSBHVM)
	return r
}

func joinLeading(items []string) string {
	var sb strings.Builder
	for _, s := range items {
		sb.WriteByte(' ')
		sb.WriteString(s)
	}
	return sb.String()
}

func enabled(s, bit options.Scope) string {
	if s&bit != 0 {
		return "enabled"
	}
	return "disabled"
}

// Lines renders the report as boot log lines.
func (r *Report) Lines() []string {
	lines := []string{
		"Speculative mitigation facilities:",
		"  Hardware features:" + joinLeading(r.Hardware),
	}
	if len(r.Compiled) > 0 {
		lines = append(lines, "  Compiled-in support:"+joinLeading(r.Compiled))
	}
	ssbd := ""
	if r.SSBD != "" {
		ssbd = " " + r.SSBD
	}
	lines = append(lines, fmt.Sprintf("  Hypervisor settings: BTI-Thunk %s, SPEC_CTRL: %s%s, Other:%s",
		r.Thunk, r.SpecCtrl, ssbd, joinLeading(r.Other)))
	if r.ShowL1TF {
		not := ""
		if !r.L1TF {
			not = " not"
		}
		lines = append(lines, fmt.Sprintf("  L1TF: believed%s vulnerable, maxphysaddr L1D %d, CPUID %d, Safe address %x",
			not, r.L1DMaxPhysAddr, r.PhysAddrBits, r.L1TFSafeAddr))
	}
	return append(lines,
		fmt.Sprintf("  Support for VMs: PV:%s, HVM:%s", joinLeading(r.PV), joinLeading(r.HVM)),
		fmt.Sprintf("  XPTI (64-bit PV only): Dom0 %s, DomU %s", enabled(r.XPTI, options.ScopeDom0), enabled(r.XPTI, options.ScopeDomU)),
		fmt.Sprintf("  PV L1TF shadowing: Dom0 %s, DomU %s", enabled(r.PVL1TF, options.ScopeDom0), enabled(r.PVL1TF, options.ScopeDomU)),
	)
}

// String implements fmt.Stringer.String.
func (r *Report) String() string {
	return strings.Join(r.Lines(), "\n")
}
