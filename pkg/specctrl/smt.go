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
	"gvisor.dev/specctrl/pkg/msr"
	"gvisor.dev/specctrl/pkg/specctrl/vuln"
)

// SMTEnabled returns true if more than one thread of some core is in use.
//
// NumSiblings is only the topology capability. On native Intel hardware
// MSR_INTEL_CORE_THREAD_COUNT gives the configured counts; everywhere else
// the APIC IDs of the present processors are inspected.
func SMTEnabled(id *cpuid.Identity, platform msr.Accessor, cpu int) bool {
	if id.NumSiblings < 2 {
		return false
	}

	if id.Vendor == cpuid.VendorIntel && !id.Hypervisor() && platform != nil {
		if val, err := platform.Read(cpu, msr.CoreThreadCount); err == nil {
			cores := (val >> 16) & 0xffff
			threads := val & 0xffff
			return cores != threads
		}
	}

	mask := uint32(id.NumSiblings - 1)
	for _, apic := range id.APICIDs {
		if apic&mask != 0 {
			return true
		}
	}
	return false
}

// Advisory is a warning emitted when SMT is left on while a vulnerability
// that leaks between sibling threads is present.
type Advisory struct {
	Advisory string `json:"advisory"`
	Message  string `json:"message"`
}

// advisories returns the SMT warnings applicable to p.
//
// Nothing is reported if the administrator chose either way, or if SMT is
// not in use.
func advisories(p Policy, v vuln.Verdicts) []Advisory {
	if p.SMTChosen || !p.SMTActive {
		return nil
	}
	var as []Advisory
	if v.L1TF {
		as = append(as, Advisory{
			Advisory: "XSA-273",
			Message:  "Booted on L1TF-vulnerable hardware with SMT/Hyperthreading enabled. Please assess your configuration and choose an explicit 'smt=<bool>' setting. See XSA-273.",
		})
	}
	if v.MDS {
		as = append(as, Advisory{
			Advisory: "XSA-297",
			Message:  "Booted on MLPDS/MFBDS-vulnerable hardware with SMT/Hyperthreading enabled. Mitigations will not be fully effective. Please choose an explicit smt=<bool> setting. See XSA-297.",
		})
	}
	return as
}
