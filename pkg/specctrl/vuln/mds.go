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

// MDS returns whether id is vulnerable to Microarchitectural Data Sampling.
// At most one result is true: msbdsOnly means only the store buffer aspect
// applies, which has minimal hyperthreading impact.
func MDS(id *cpuid.Identity, caps cpuid.ArchCaps) (mds, msbdsOnly bool) {
	if !isIntelFamily6(id) {
		return false, false
	}

	// Any processor advertising MDS_NO is not vulnerable.
	if caps.Has(cpuid.ArchCapsMDSNo) {
		return false, false
	}

	switch id.Model {
	// Core processors since at least Nehalem are vulnerable.
	case 0x1f, // Auburndale / Havendale
		0x1e, // Nehalem
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
		0x46, // Haswell H
		0x3d, // Broadwell
		0x47, // Broadwell H
		0x4f, // Broadwell EP/EX
		0x56, // Broadwell D
		0x4e, // Skylake M
		0x5e: // Skylake D
		return true, false

	// Some Core processors have per-stepping vulnerability.
	case 0x55: // Skylake-X / Cascade Lake
		return id.Stepping <= 5, false
	case 0x8e: // Kaby / Coffee / Whiskey Lake M
		return id.Stepping <= 0xb, false
	case 0x9e: // Kaby / Coffee / Whiskey Lake D
		return id.Stepping <= 0xc, false

	// Very old and very new Atom processors are not vulnerable.
	case 0x1c, // Pineview
		0x26, // Lincroft
		0x27, // Penwell
		0x35, // Cloverview
		0x36, // Cedarview
		0x7a: // Goldmont
		return false, false

	// Middling Atom processors, and the Knights processors built on the
	// same microarchitecture, are only vulnerable to the store buffer aspect.
	case 0x37, // Baytrail / Valleyview (Silvermont)
		0x4a, // Merrifield
		0x4c, // Cherrytrail / Brasswell
		0x4d, // Avaton / Rangely (Silvermont)
		0x5a, // Moorefield
		0x5d,
		0x65,
		0x6e,
		0x75,
		0x57, // Knights Landing
		0x85: // Knights Mill
		return false, true

	default:
		unrecognised("vulnerable to MDS", id)
		return true, false
	}
}
