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

// Package cpuid describes the identity of the boot processor and the vector
// of capability bits consulted by speculative-execution mitigation code.
//
// The capability vector mixes two kinds of bits. Hardware bits mirror CPUID
// leaves and are filled in by whoever identified the processor (see
// ParseCPUInfo, LoadFixture and HostIdentity). Synthetic bits have no CPUID
// source; they are set once at boot by the mitigation policy engine and are
// read by everything that patches or selects code paths afterwards.
//
// For example, to check whether MSR_SPEC_CTRL exists:
//
//	if id.Features.HasFeature(cpuid.X86FeatureIBRSB) {
//		...
//	}
package cpuid

import (
	"fmt"
	"strings"
)

// Feature is a unique identifier for a particular cpu feature. We just use an
// int as a feature number on x86.
//
// Features are numbered according to "blocks". Each block is 32 bits, and
// feature bits from the same source (cpuid leaf/level) are in the same block.
type Feature int

// block returns the block index of the feature.
func (f Feature) block() int {
	return int(f) / 32
}

// bit returns the bit within the feature's block.
func (f Feature) bit() uint32 {
	return 1 << (uint(f) % 32)
}

// String implements fmt.Stringer.String.
func (f Feature) String() string {
	if s, ok := featureNames[f]; ok {
		return s
	}
	return fmt.Sprintf("<cpuflag %d; block %d bit %d>", int(f), f.block(), int(f)%32)
}

// FeatureSet is a fixed-size vector of capability bits.
//
// The zero value is an empty set. FeatureSets are values; copying one
// produces an independent vector.
type FeatureSet [numBlocks]uint32

// NewFeatureSet returns a set holding the given features.
func NewFeatureSet(features ...Feature) FeatureSet {
	var fs FeatureSet
	for _, f := range features {
		fs.Add(f)
	}
	return fs
}

// HasFeature tests whether or not a feature is in the given feature set.
//
//go:nosplit
func (fs *FeatureSet) HasFeature(feature Feature) bool {
	b := feature.block()
	if b < 0 || b >= numBlocks {
		return false
	}
	return fs[b]&feature.bit() != 0
}

// Add adds a feature.
func (fs *FeatureSet) Add(feature Feature) {
	fs[feature.block()] |= feature.bit()
}

// Remove removes a feature.
func (fs *FeatureSet) Remove(feature Feature) {
	fs[feature.block()] &^= feature.bit()
}

// Features returns all features in the set, in numeric order.
func (fs *FeatureSet) Features() []Feature {
	var out []Feature
	for b := 0; b < numBlocks; b++ {
		for i := 0; i < 32; i++ {
			f := Feature(b*32 + i)
			if fs.HasFeature(f) {
				out = append(out, f)
			}
		}
	}
	return out
}

// Subtract returns the features present in fs that are not present in other.
// If all features in fs are present in other, Subtract returns nil.
func (fs *FeatureSet) Subtract(other *FeatureSet) []Feature {
	var diff []Feature
	for _, f := range fs.Features() {
		if !other.HasFeature(f) {
			diff = append(diff, f)
		}
	}
	return diff
}

// FlagString prints out supported CPU features.
func (fs *FeatureSet) FlagString() string {
	var s []string
	for _, f := range fs.Features() {
		// Unnamed bits are never set by this package, but may appear if a
		// caller builds a vector by hand.
		if _, ok := featureNames[f]; !ok {
			continue
		}
		s = append(s, f.String())
	}
	return strings.Join(s, " ")
}

// String implements fmt.Stringer.String.
func (fs FeatureSet) String() string {
	return fs.FlagString()
}

// FeatureFromString returns the Feature associated with the given flag
// string. Returns (_, false) if the string is not a known flag.
func FeatureFromString(s string) (Feature, bool) {
	f, ok := featureByName[s]
	return f, ok
}

// Vendor is the processor manufacturer.
type Vendor int

// Known vendors.
const (
	VendorUnknown Vendor = iota
	VendorIntel
	VendorAMD
	VendorHygon
	VendorCentaur
)

var vendorIDs = map[Vendor]string{
	VendorUnknown: "Unknown",
	VendorIntel:   "GenuineIntel",
	VendorAMD:     "AuthenticAMD",
	VendorHygon:   "HygonGenuine",
	VendorCentaur: "CentaurHauls",
}

// String returns the 12-character CPUID vendor string.
func (v Vendor) String() string {
	if s, ok := vendorIDs[v]; ok {
		return s
	}
	return fmt.Sprintf("Vendor(%d)", int(v))
}

// VendorFromString parses either a CPUID vendor string ("GenuineIntel") or a
// short name ("intel", "amd", "hygon", "centaur").
func VendorFromString(s string) (Vendor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "genuineintel", "intel":
		return VendorIntel, nil
	case "authenticamd", "amd":
		return VendorAMD, nil
	case "hygongenuine", "hygon":
		return VendorHygon, nil
	case "centaurhauls", "centaur":
		return VendorCentaur, nil
	}
	return VendorUnknown, fmt.Errorf("unknown cpu vendor %q", s)
}

// SignatureSplit deconstructs the processor signature dword returned in eax
// for leaf 1, applying the extended family and model rules.
func SignatureSplit(v uint32) (family, model, stepping uint8) {
	stepping = uint8(v & 0xf)
	m := uint8(v>>4) & 0xf
	f := uint8(v>>8) & 0xf
	em := uint8(v>>16) & 0xf
	ef := uint8(v >> 20)

	family = f
	if f == 0xf {
		family += ef
	}
	model = m
	if f == 0x6 || f == 0xf {
		model |= em << 4
	}
	return family, model, stepping
}
