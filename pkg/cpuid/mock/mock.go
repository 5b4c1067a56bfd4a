// Copyright 2021 The gVisor Authors.
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

// Package mock contains mock CPUs for mitigation tests.
package mock

import (
	"fmt"
	"strings"
)

// CPU describes a processor package as /proc/cpuinfo reports it.
type CPU struct {
	Name           string
	VendorID       string
	Family         int
	Model          int
	Stepping       int
	Microcode      uint32
	ModelName      string
	Flags          string
	Bugs           string
	PhysAddrBits   int
	PhysicalCores  int
	Cores          int
	ThreadsPerCore int
}

// CascadeLake4 is a four thread Intel CascadeLake machine. It enumerates
// MDS_NO and RDCL_NO in MSR_ARCH_CAPABILITIES.
var CascadeLake4 = CPU{
	Name:           "CascadeLake",
	VendorID:       "GenuineIntel",
	Family:         6,
	Model:          85,
	Stepping:       7,
	Microcode:      0x5003006,
	ModelName:      "Intel(R) Xeon(R) CPU",
	Flags:          "fpu ssbd ibrs ibpb stibp md_clear flush_l1d arch_capabilities",
	Bugs:           "spectre_v1 spectre_v2 spec_store_bypass swapgs taa",
	PhysAddrBits:   46,
	PhysicalCores:  1,
	Cores:          2,
	ThreadsPerCore: 2,
}

// SkylakeX4 is a four thread Intel Skylake server.
var SkylakeX4 = CPU{
	Name:           "SkylakeX",
	VendorID:       "GenuineIntel",
	Family:         6,
	Model:          85,
	Stepping:       4,
	Microcode:      0x2006906,
	ModelName:      "Intel(R) Xeon(R) CPU",
	Flags:          "fpu ssbd ibrs ibpb stibp md_clear flush_l1d arch_capabilities",
	Bugs:           "cpu_meltdown spectre_v1 spectre_v2 spec_store_bypass l1tf mds swapgs taa",
	PhysAddrBits:   46,
	PhysicalCores:  1,
	Cores:          2,
	ThreadsPerCore: 2,
}

// Haswell2 is a two thread Intel Haswell machine.
var Haswell2 = CPU{
	Name:           "Haswell",
	VendorID:       "GenuineIntel",
	Family:         6,
	Model:          63,
	Stepping:       2,
	Microcode:      0x44,
	ModelName:      "Intel(R) Xeon(R) CPU",
	Flags:          "fpu ssbd ibrs ibpb stibp md_clear flush_l1d",
	Bugs:           "cpu_meltdown spectre_v1 spectre_v2 spec_store_bypass l1tf mds swapgs",
	PhysAddrBits:   46,
	PhysicalCores:  1,
	Cores:          1,
	ThreadsPerCore: 2,
}

// Haswell2core is a 2 core Intel Haswell machine with no hyperthread pairs.
var Haswell2core = CPU{
	Name:           "Haswell2Physical",
	VendorID:       "GenuineIntel",
	Family:         6,
	Model:          63,
	Stepping:       2,
	Microcode:      0x44,
	ModelName:      "Intel(R) Xeon(R) CPU",
	Flags:          "fpu ssbd ibrs ibpb stibp md_clear flush_l1d",
	Bugs:           "cpu_meltdown spectre_v1 spectre_v2 spec_store_bypass l1tf mds swapgs",
	PhysAddrBits:   46,
	PhysicalCores:  2,
	Cores:          1,
	ThreadsPerCore: 1,
}

// AMD8 is an eight thread AMD machine.
var AMD8 = CPU{
	Name:           "AMD",
	VendorID:       "AuthenticAMD",
	Family:         23,
	Model:          49,
	Stepping:       0,
	Microcode:      0x830104d,
	ModelName:      "AMD EPYC 7B12",
	Flags:          "fpu ssbd ibrs ibpb stibp",
	Bugs:           "sysret_ss_attrs spectre_v1 spectre_v2 spec_store_bypass",
	PhysAddrBits:   48,
	PhysicalCores:  4,
	Cores:          1,
	ThreadsPerCore: 2,
}

// Threads returns the number of logical processors.
func (tc CPU) Threads() int {
	return tc.PhysicalCores * tc.Cores * tc.ThreadsPerCore
}

// MakeCPUString makes a string formatted like /proc/cpuinfo.
func (tc CPU) MakeCPUString() string {
	template := `processor	: %d
vendor_id	: %s
cpu family	: %d
model		: %d
model name	: %s
stepping	: %d
microcode	: %#x
physical id	: %d
siblings	: %d
core id		: %d
cpu cores	: %d
apicid		: %d
flags		: %s
bugs		: %s
address sizes	: %d bits physical, 48 bits virtual

`

	// APIC IDs are allocated with a power of two stride per core.
	stride := 1
	for stride < tc.ThreadsPerCore {
		stride <<= 1
	}

	var b strings.Builder
	for i := 0; i < tc.PhysicalCores; i++ {
		for j := 0; j < tc.Cores; j++ {
			for k := 0; k < tc.ThreadsPerCore; k++ {
				processorNum := (i*tc.Cores+j)*tc.ThreadsPerCore + k
				apicID := (i*tc.Cores+j)*stride + k
				fmt.Fprintf(&b, template,
					processorNum,               /*processor*/
					tc.VendorID,                /*vendor_id*/
					tc.Family,                  /*cpu family*/
					tc.Model,                   /*model*/
					tc.ModelName,               /*model name*/
					tc.Stepping,                /*stepping*/
					tc.Microcode,               /*microcode*/
					i,                          /*physical id*/
					tc.Cores*tc.ThreadsPerCore, /*siblings*/
					j,                          /*core id*/
					tc.Cores,                   /*cpu cores*/
					apicID,                     /*apicid*/
					tc.Flags,                   /*flags*/
					tc.Bugs,                    /*bugs*/
					tc.PhysAddrBits,            /*address sizes*/
				)
			}
		}
	}
	return b.String()
}
