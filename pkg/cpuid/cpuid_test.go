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

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFeatureSetAddRemove(t *testing.T) {
	var fs FeatureSet
	for _, f := range []Feature{X86FeatureHypervisor, X86FeatureIBRSB, X86FeatureIBPB, X86FeatureSCVERWIdle} {
		if fs.HasFeature(f) {
			t.Errorf("empty set has %v", f)
		}
		fs.Add(f)
		if !fs.HasFeature(f) {
			t.Errorf("set missing %v after Add", f)
		}
	}
	fs.Remove(X86FeatureIBRSB)
	if fs.HasFeature(X86FeatureIBRSB) {
		t.Errorf("set has %v after Remove", X86FeatureIBRSB)
	}
	want := []Feature{X86FeatureHypervisor, X86FeatureIBPB, X86FeatureSCVERWIdle}
	if diff := cmp.Diff(want, fs.Features()); diff != "" {
		t.Errorf("Features() mismatch (-want +got):\n%s", diff)
	}
}

func TestHasFeatureOutOfRange(t *testing.T) {
	fs := NewFeatureSet(X86FeatureMDClear)
	if fs.HasFeature(Feature(numBlocks * 32)) {
		t.Errorf("HasFeature reported a bit beyond the vector")
	}
	if fs.HasFeature(Feature(-1)) {
		t.Errorf("HasFeature reported a negative bit")
	}
}

func TestFeatureSetCopy(t *testing.T) {
	a := NewFeatureSet(X86FeatureSSBD)
	b := a
	b.Add(X86FeatureNoXPTI)
	if a.HasFeature(X86FeatureNoXPTI) {
		t.Errorf("modifying a copy changed the original")
	}
}

func TestFlagString(t *testing.T) {
	fs := NewFeatureSet(X86FeatureIBRSB, X86FeatureMDClear, X86FeatureSCMSRPV)
	if got, want := fs.FlagString(), "md_clear ibrsb sc_msr_pv"; got != want {
		t.Errorf("FlagString() = %q, want %q", got, want)
	}
}

func TestFeatureFromString(t *testing.T) {
	for f, name := range featureNames {
		got, ok := FeatureFromString(name)
		if !ok || got != f {
			t.Errorf("FeatureFromString(%q) = %v, %v; want %v, true", name, got, ok, f)
		}
	}
	for name, want := range map[string]Feature{
		"ibrs":              X86FeatureIBRSB,
		"flush_l1d":         X86FeatureL1DFlush,
		"arch_capabilities": X86FeatureArchCaps,
	} {
		if got, ok := FeatureFromString(name); !ok || got != want {
			t.Errorf("FeatureFromString(%q) = %v, %v; want %v, true", name, got, ok, want)
		}
	}
	if _, ok := FeatureFromString("avx512f"); ok {
		t.Errorf("FeatureFromString accepted an unnamed flag")
	}
}

func TestSubtract(t *testing.T) {
	a := NewFeatureSet(X86FeatureIBRSB, X86FeatureSTIBP, X86FeatureSSBD)
	b := NewFeatureSet(X86FeatureSTIBP)
	if diff := cmp.Diff([]Feature{X86FeatureIBRSB, X86FeatureSSBD}, a.Subtract(&b)); diff != "" {
		t.Errorf("Subtract mismatch (-want +got):\n%s", diff)
	}
	if got := b.Subtract(&a); got != nil {
		t.Errorf("Subtract of a subset = %v, want nil", got)
	}
}

func TestSignatureSplit(t *testing.T) {
	for _, tc := range []struct {
		sig                     uint32
		family, model, stepping uint8
	}{
		{sig: 0x50654, family: 6, model: 0x55, stepping: 4},
		{sig: 0x906ed, family: 6, model: 0x9e, stepping: 0xd},
		{sig: 0x830f10, family: 0x17, model: 0x31, stepping: 0},
		{sig: 0x6fb, family: 6, model: 0xf, stepping: 0xb},
	} {
		f, m, s := SignatureSplit(tc.sig)
		if f != tc.family || m != tc.model || s != tc.stepping {
			t.Errorf("SignatureSplit(%#x) = %#x/%#x/%#x, want %#x/%#x/%#x", tc.sig, f, m, s, tc.family, tc.model, tc.stepping)
		}
	}
}

func TestVendorFromString(t *testing.T) {
	for s, want := range map[string]Vendor{
		"GenuineIntel": VendorIntel,
		"intel":        VendorIntel,
		"AuthenticAMD": VendorAMD,
		" amd ":        VendorAMD,
		"HygonGenuine": VendorHygon,
		"CentaurHauls": VendorCentaur,
	} {
		got, err := VendorFromString(s)
		if err != nil || got != want {
			t.Errorf("VendorFromString(%q) = %v, %v; want %v", s, got, err, want)
		}
	}
	if _, err := VendorFromString("TransmetaCPU"); err == nil {
		t.Errorf("VendorFromString accepted an unknown vendor")
	}
}

func TestArchCaps(t *testing.T) {
	c := ArchCapsRDCLNo | ArchCapsIBRSAll | ArchCapsMDSNo
	if got, want := c.String(), "IBRS_ALL RDCL_NO MDS_NO"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !c.Has(ArchCapsRDCLNo | ArchCapsMDSNo) {
		t.Errorf("Has(RDCL_NO|MDS_NO) = false")
	}
	if c.Has(ArchCapsRDCLNo | ArchCapsRSBA) {
		t.Errorf("Has(RDCL_NO|RSBA) = true")
	}
	got, err := ArchCapsFromString("skip_l1dfl")
	if err != nil || got != ArchCapsSkipL1DFL {
		t.Errorf("ArchCapsFromString(skip_l1dfl) = %v, %v", got, err)
	}
}
