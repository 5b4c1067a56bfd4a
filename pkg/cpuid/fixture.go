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
	"io"

	"gopkg.in/yaml.v3"
)

// Fixture describes a processor without access to it: its identity plus the
// model specific registers the mitigation engine reads.
type Fixture struct {
	Identity *Identity

	// ArchCaps is the content of MSR_ARCH_CAPABILITIES. It is only
	// meaningful if the identity carries X86FeatureArchCaps.
	ArchCaps ArchCaps

	// MSRs holds any further register values, keyed by MSR index.
	MSRs map[uint32]uint64
}

// fixtureFile is the on-disk YAML layout of a Fixture.
type fixtureFile struct {
	Name         string            `yaml:"name"`
	Vendor       string            `yaml:"vendor"`
	Family       uint8             `yaml:"family"`
	Model        uint8             `yaml:"model"`
	Stepping     uint8             `yaml:"stepping"`
	Microcode    uint32            `yaml:"microcode"`
	PhysAddrBits uint              `yaml:"phys-addr-bits"`
	Siblings     uint              `yaml:"siblings"`
	APICIDs      []uint32          `yaml:"apic-ids"`
	Features     []string          `yaml:"features"`
	ArchCaps     []string          `yaml:"arch-caps"`
	MSRs         map[uint32]uint64 `yaml:"msrs"`
}

// LoadFixture decodes a YAML processor description, for example:
//
//	vendor: intel
//	family: 6
//	model: 0x55
//	stepping: 4
//	microcode: 0x2000065
//	phys-addr-bits: 46
//	siblings: 2
//	apic-ids: [0, 1, 2, 3]
//	features: [ibrsb, stibp, ssbd, l1d_flush, arch_caps, md_clear]
//	arch-caps: [IBRS_ALL]
//	msrs:
//	  0x35: 0x20004
func LoadFixture(r io.Reader) (*Fixture, error) {
	var ff fixtureFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil {
		return nil, fmt.Errorf("decoding cpu fixture: %w", err)
	}

	vendor, err := VendorFromString(ff.Vendor)
	if err != nil {
		return nil, err
	}
	id := &Identity{
		Vendor:       vendor,
		Family:       ff.Family,
		Model:        ff.Model,
		Stepping:     ff.Stepping,
		Microcode:    ff.Microcode,
		PhysAddrBits: ff.PhysAddrBits,
		NumSiblings:  ff.Siblings,
		APICIDs:      ff.APICIDs,
	}
	if id.PhysAddrBits == 0 {
		id.PhysAddrBits = 36
	}
	if id.NumSiblings == 0 {
		id.NumSiblings = 1
	}
	if len(id.APICIDs) == 0 {
		id.APICIDs = []uint32{0}
	}
	for _, name := range ff.Features {
		f, ok := FeatureFromString(name)
		if !ok {
			return nil, fmt.Errorf("unknown cpu feature %q", name)
		}
		if f.IsSynthetic() {
			return nil, fmt.Errorf("cpu feature %q is synthetic and cannot be declared", name)
		}
		id.Features.Add(f)
	}

	fx := &Fixture{Identity: id, MSRs: ff.MSRs}
	for _, name := range ff.ArchCaps {
		c, err := ArchCapsFromString(name)
		if err != nil {
			return nil, err
		}
		fx.ArchCaps |= c
	}
	if fx.ArchCaps != 0 && !id.Features.HasFeature(X86FeatureArchCaps) {
		return nil, fmt.Errorf("arch-caps given without the %s feature", X86FeatureArchCaps)
	}
	return fx, nil
}
