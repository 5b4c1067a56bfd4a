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
	"os"

	kcpuid "github.com/klauspost/cpuid/v2"
	"gvisor.dev/specctrl/pkg/log"
)

// CPUInfoPath is the location of the kernel's processor description.
const CPUInfoPath = "/proc/cpuinfo"

// nativeVendors maps the vendors known to the CPUID instruction probe.
var nativeVendors = map[kcpuid.Vendor]Vendor{
	kcpuid.Intel: VendorIntel,
	kcpuid.AMD:   VendorAMD,
	kcpuid.Hygon: VendorHygon,
	kcpuid.VIA:   VendorCentaur,
}

// nativeIdentity probes the executing processor with the CPUID instruction.
//
// The probe cannot see the microcode revision or the address widths; those
// stay zero and are filled in from /proc/cpuinfo by HostIdentity.
func nativeIdentity(c *kcpuid.CPUInfo) *Identity {
	id := &Identity{
		Vendor:      nativeVendors[c.VendorID],
		Family:      uint8(c.Family),
		Model:       uint8(c.Model),
		Stepping:    uint8(c.Stepping),
		NumSiblings: uint(c.ThreadsPerCore),
	}
	if id.NumSiblings == 0 {
		id.NumSiblings = 1
	}

	set := func(f Feature, ids ...kcpuid.FeatureID) {
		if c.Supports(ids...) {
			id.Features.Add(f)
		}
	}
	set(X86FeatureHypervisor, kcpuid.HYPERVISOR)
	set(X86FeatureMDClear, kcpuid.MD_CLEAR)
	set(X86FeatureSTIBP, kcpuid.STIBP)
	set(X86FeatureL1DFlush, kcpuid.FLUSH_L1D)
	set(X86FeatureArchCaps, kcpuid.IA32_ARCH_CAP)
	set(X86FeatureSSBD, kcpuid.SPEC_CTRL_SSBD)

	// The probe folds CPUID.7.0:EDX[26] and CPUID.80000008:EBX[12] into a
	// single bit. Intel only enumerates the former.
	switch id.Vendor {
	case VendorIntel:
		set(X86FeatureIBRSB, kcpuid.IBPB)
	default:
		set(X86FeatureIBPB, kcpuid.IBPB)
	}
	return id
}

// HostIdentity identifies the processor this program runs on.
//
// /proc/cpuinfo is authoritative where available, since the kernel masks
// features it has disabled. Feature bits the kernel does not name are
// supplemented from a direct CPUID probe.
func HostIdentity() (*Identity, error) {
	native := nativeIdentity(&kcpuid.CPU)

	data, err := os.ReadFile(CPUInfoPath)
	if err != nil {
		if native.Vendor == VendorUnknown {
			return nil, fmt.Errorf("reading %s: %w", CPUInfoPath, err)
		}
		log.Warningf("Reading %s failed, using CPUID only: %v", CPUInfoPath, err)
		native.PhysAddrBits = 36
		native.APICIDs = []uint32{0}
		return native, nil
	}

	id, err := ParseCPUInfo(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", CPUInfoPath, err)
	}
	if native.Vendor == id.Vendor {
		for _, f := range native.Features.Subtract(&id.Features) {
			log.Debugf("Feature %s found by CPUID but not named by the kernel", f)
			id.Features.Add(f)
		}
	}
	return id, nil
}
