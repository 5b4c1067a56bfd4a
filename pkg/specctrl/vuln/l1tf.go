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
)

// PageSize is the size of the page offset cleared from address masks.
const PageSize = 4096

// L1TF returns whether id is vulnerable to L1 Terminal Fault, and the
// physical address width used by its L1D cache.
func L1TF(id *cpuid.Identity, caps cpuid.ArchCaps) (vulnerable bool, l1dMaxPhysAddr uint) {
	l1dMaxPhysAddr = id.PhysAddrBits
	hitDefault := false

	if isIntelFamily6(id) {
		switch id.Model {
		// Core processors since at least Penryn are vulnerable.
		case 0x17, // Penryn
			0x1d: // Dunnington
			vulnerable = true

		case 0x1f, // Auburndale / Havendale
			0x1e, // Nehalem
			0x1a, // Nehalem EP
			0x2e, // Nehalem EX
			0x25, // Westmere
			0x2c, // Westmere EP
			0x2f: // Westmere EX
			vulnerable = true
			l1dMaxPhysAddr = 44

		case 0x2a, // SandyBridge
			0x2d, // SandyBridge EP/EX
			0x3a, // IvyBridge
			0x3e, // IvyBridge EP/EX
			0x3c, // Haswell
			0x3f, // Haswell EX/EP
			0x45, // Haswell D
			0x46, // Haswell H
			0x3d, // Broadwell
			0x47, // Broadwell H
			0x4f, // Broadwell EP/EX
			0x56, // Broadwell D
			0x4e, // Skylake M
			0x55, // Skylake X
			0x5e, // Skylake D
			0x66, // Cannonlake
			0x67, // Cannonlake?
			0x8e, // Kabylake M
			0x9e: // Kabylake D
			vulnerable = true
			l1dMaxPhysAddr = 46

		// Atom processors are not vulnerable.
		case 0x1c, // Pineview
			0x26, // Lincroft
			0x27, // Penwell
			0x35, // Cloverview
			0x36, // Cedarview
			0x37, // Baytrail / Valleyview (Silvermont)
			0x4d, // Avaton / Rangely (Silvermont)
			0x4c, // Cherrytrail / Brasswell
			0x4a, // Merrifield
			0x5a, // Moorefield
			0x5c, // Goldmont
			0x5f, // Denverton
			0x7a: // Gemini Lake

		// Knights processors are not vulnerable.
		case 0x57, // Knights Landing
			0x85: // Knights Mill

		default:
			// The diagnostic waits until RDCL_NO has been accounted for.
			hitDefault = true
			vulnerable = true
		}
	}

	// Any processor advertising RDCL_NO is not vulnerable.
	if caps.Has(cpuid.ArchCapsRDCLNo) {
		vulnerable = false
	}
	if vulnerable && hitDefault {
		unrecognised("vulnerable to L1TF", id)
	}
	return vulnerable, l1dMaxPhysAddr
}

// L1TFAddressing computes the L1TF address mask and safe address.
//
// The mask covers the address bits the L1D consults, which may be wider
// than the CPUID maximum. The safe address must lie above every cacheable
// address. If the L1D is wider than CPUID, any bit above the CPUID width
// suffices; otherwise the top quarter of the physical address space is
// presumed uncacheable. prevSafe is a safe address already established from
// the memory map, and the result never goes below it.
func L1TFAddressing(l1dBits, paddrBits uint, prevSafe uint64) (mask, safe uint64) {
	mask = ((uint64(1) << l1dBits) - 1) &^ (PageSize - 1)

	if l1dBits > paddrBits {
		safe = uint64(1) << paddrBits
	} else {
		safe = uint64(3) << (paddrBits - 2)
	}
	return mask, max(prevSafe, safe)
}
