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
	"testing"

	"github.com/google/go-cmp/cmp"
	kcpuid "github.com/klauspost/cpuid/v2"
)

func TestNativeIdentity(t *testing.T) {
	for _, tc := range []struct {
		name   string
		vendor kcpuid.Vendor
		want   FeatureSet
	}{
		{
			name:   "intel",
			vendor: kcpuid.Intel,
			want:   NewFeatureSet(X86FeatureHypervisor, X86FeatureIBRSB, X86FeatureMDClear, X86FeatureL1DFlush),
		},
		{
			name:   "amd",
			vendor: kcpuid.AMD,
			want:   NewFeatureSet(X86FeatureHypervisor, X86FeatureIBPB, X86FeatureMDClear, X86FeatureL1DFlush),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := kcpuid.CPUInfo{VendorID: tc.vendor, Family: 6, Model: 0x55, Stepping: 4}
			c.Enable(kcpuid.HYPERVISOR, kcpuid.IBPB, kcpuid.MD_CLEAR, kcpuid.FLUSH_L1D)
			id := nativeIdentity(&c)
			if diff := cmp.Diff(tc.want, id.Features); diff != "" {
				t.Errorf("Features mismatch (-want +got):\n%s", diff)
			}
			if id.NumSiblings != 1 {
				t.Errorf("NumSiblings = %d, want 1 when undetected", id.NumSiblings)
			}
		})
	}
}

func TestNativeIdentityUnknownVendor(t *testing.T) {
	c := kcpuid.CPUInfo{VendorID: kcpuid.Transmeta, ThreadsPerCore: 2}
	id := nativeIdentity(&c)
	if id.Vendor != VendorUnknown {
		t.Errorf("Vendor = %v, want %v", id.Vendor, VendorUnknown)
	}
	if id.NumSiblings != 2 {
		t.Errorf("NumSiblings = %d, want 2", id.NumSiblings)
	}
}
