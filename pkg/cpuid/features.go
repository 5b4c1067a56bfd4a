// Copyright 2019 The gVisor Authors.
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

// Block 0 constants are all of the "basic" feature bits returned by a cpuid in
// ecx with eax=1. Only the bits consulted by this package are named.
const (
	X86FeatureHypervisor Feature = 31 // Running under a hypervisor.
)

// Block 1 constants are the extended feature bits in edx, returned by a cpuid
// with eax=7, ecx=0.
const (
	X86FeatureMDClear  Feature = 1*32 + 10 // VERW flushes microarchitectural buffers.
	X86FeatureIBRSB    Feature = 1*32 + 26 // MSR_SPEC_CTRL.IBRS and MSR_PRED_CMD.IBPB.
	X86FeatureSTIBP    Feature = 1*32 + 27 // MSR_SPEC_CTRL.STIBP.
	X86FeatureL1DFlush Feature = 1*32 + 28 // MSR_FLUSH_CMD.L1D.
	X86FeatureArchCaps Feature = 1*32 + 29 // MSR_ARCH_CAPABILITIES.
	X86FeatureSSBD     Feature = 1*32 + 31 // MSR_SPEC_CTRL.SSBD.
)

// Block 2 constants are the extended feature bits in ebx, returned by a cpuid
// with eax=0x80000008.
const (
	X86FeatureIBPB Feature = 2*32 + 12 // MSR_PRED_CMD.IBPB without IBRS.
)

// Block 3 constants are synthetic. They have no CPUID source and are set by
// boot-time policy code.
const (
	X86FeatureLFenceDispatch Feature = 3*32 + iota // LFENCE is dispatch serialising.
	X86FeatureIndThunkLFence                       // Use IND_THUNK_LFENCE.
	X86FeatureIndThunkJmp                          // Use IND_THUNK_JMP.
	X86FeatureSCMSRPV                              // MSR_SPEC_CTRL used by PV guests.
	X86FeatureSCMSRHVM                             // MSR_SPEC_CTRL used by HVM guests.
	X86FeatureSCRSBPV                              // RSB overwrite needed for PV.
	X86FeatureSCRSBHVM                             // RSB overwrite needed for HVM.
	X86FeatureNoXPTI                               // XPTI mitigation not in use.
	X86FeatureSCMSRIdle                            // Use SPEC_CTRL on the idle path.
	X86FeatureSCVERWPV                             // VERW used by PV guests.
	X86FeatureSCVERWHVM                            // VERW used by HVM guests.
	X86FeatureSCVERWIdle                           // VERW used on the idle path.
)

const numBlocks = 4

// featureNames maps each feature to the lower-case flag name used by
// fixtures, reports and FlagString.
var featureNames = map[Feature]string{
	X86FeatureHypervisor: "hypervisor",

	X86FeatureMDClear:  "md_clear",
	X86FeatureIBRSB:    "ibrsb",
	X86FeatureSTIBP:    "stibp",
	X86FeatureL1DFlush: "l1d_flush",
	X86FeatureArchCaps: "arch_caps",
	X86FeatureSSBD:     "ssbd",

	X86FeatureIBPB: "ibpb",

	X86FeatureLFenceDispatch: "lfence_dispatch",
	X86FeatureIndThunkLFence: "ind_thunk_lfence",
	X86FeatureIndThunkJmp:    "ind_thunk_jmp",
	X86FeatureSCMSRPV:        "sc_msr_pv",
	X86FeatureSCMSRHVM:       "sc_msr_hvm",
	X86FeatureSCRSBPV:        "sc_rsb_pv",
	X86FeatureSCRSBHVM:       "sc_rsb_hvm",
	X86FeatureNoXPTI:         "no_xpti",
	X86FeatureSCMSRIdle:      "sc_msr_idle",
	X86FeatureSCVERWPV:       "sc_verw_pv",
	X86FeatureSCVERWHVM:      "sc_verw_hvm",
	X86FeatureSCVERWIdle:     "sc_verw_idle",
}

// featureByName is the inverse of featureNames, plus the Linux /proc/cpuinfo
// spellings for hardware bits whose names differ.
var featureByName = func() map[string]Feature {
	m := make(map[string]Feature, len(featureNames)+2)
	for f, s := range featureNames {
		m[s] = f
	}
	m["ibrs"] = X86FeatureIBRSB
	m["flush_l1d"] = X86FeatureL1DFlush
	m["arch_capabilities"] = X86FeatureArchCaps
	return m
}()

// IsSynthetic returns true if the feature has no CPUID source.
func (f Feature) IsSynthetic() bool {
	return f.block() == 3
}
