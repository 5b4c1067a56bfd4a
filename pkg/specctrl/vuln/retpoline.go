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

package vuln

import (
	"gvisor.dev/specctrl/pkg/cpuid"
	"gvisor.dev/specctrl/pkg/log"
)

// RetpolineSafe returns true if retpoline is known to be safe on id.
func RetpolineSafe(id *cpuid.Identity, caps cpuid.ArchCaps) bool {
	if id.Vendor == cpuid.VendorAMD {
		return true
	}
	if !isIntelFamily6(id) {
		return false
	}

	// RSBA may be set by a hypervisor to indicate that we may move to a
	// processor which isn't retpoline-safe.
	if caps.Has(cpuid.ArchCapsRSBA) {
		return false
	}

	rev := id.Microcode
	switch id.Model {
	case 0x17, // Penryn
		0x1d, // Dunnington
		0x1e, // Nehalem
		0x1f, // Auburndale / Havendale
		0x1a, // Nehalem EP
		0x2e, // Nehalem EX
		0x25, // Westmere
		0x2c, // Westmere EP
		0x2f, // Westmere EX
		0x2a, // SandyBridge
		0x2d, // SandyBridge EP/EX
		0x3a, // IvyBridge
		0x3e, // IvyBridge EP/EX
		0x3c, // Haswell
		0x3f, // Haswell EX/EP
		0x45, // Haswell D
		0x46: // Haswell H
		return true

	// Broadwell is retpoline-safe from specific microcode revisions.
	case 0x3d: // Broadwell
		return rev >= 0x2a
	case 0x47: // Broadwell H
		return rev >= 0x1d
	case 0x4f: // Broadwell EP/EX
		return rev >= 0xb000021
	case 0x56: // Broadwell D
		switch id.Stepping {
		case 2:
			return rev >= 0x15
		case 3:
			return rev >= 0x7000012
		case 4:
			return rev >= 0xf000011
		case 5:
			return rev >= 0xe000009
		default:
			log.Warningf("Unrecognised CPU stepping %#x - assuming not retpoline safe", id.Stepping)
			return false
		}

	// Skylake, Kabylake and Cannonlake are not retpoline-safe.
	case 0x4e, 0x55, 0x5e, 0x66, 0x67, 0x8e, 0x9e:
		return false

	default:
		unrecognised("not retpoline safe", id)
		return false
	}
}
