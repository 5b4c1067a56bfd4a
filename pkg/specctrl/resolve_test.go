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
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/specctrl/pkg/cpuid"
	"gvisor.dev/specctrl/pkg/specctrl/options"
	"gvisor.dev/specctrl/pkg/specctrl/vuln"
)

func resolve(id *cpuid.Identity, caps cpuid.ArchCaps, o options.Options, b Build) Policy {
	return Resolve(Input{
		Identity: id,
		ArchCaps: caps,
		Verdicts: vuln.Classify(id, caps),
		Options:  o,
		Build:    b,
	})
}

var thunkBuild = Build{IndirectThunk: true}

func TestResolveSkylakeDefaults(t *testing.T) {
	got := resolve(skylakeX(), 0, options.Options{}, thunkBuild)
	want := Policy{
		Thunk:          options.ThunkJmp,
		IBRS:           true,
		MSRSCPV:        true,
		MSRSCHVM:       true,
		RSBPV:          true,
		RSBHVM:         true,
		MDClearPV:      true,
		MDClearHVM:     true,
		IBPB:           true,
		EagerFPU:       true,
		L1DFlush:       true,
		XPTI:           options.ScopeAll,
		PVL1TF:         options.ScopeDomU,
		L1TFAddrMask:   0x3ffffffff000,
		L1TFSafeAddr:   0x300000000000,
		L1DMaxPhysAddr: 46,
		PhysAddrBits:   46,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveDeterministic(t *testing.T) {
	o := mustParse(t, "bti=thunk=lfence spec-ctrl=no-pv,ssbd xpti=dom0")
	first := resolve(skylakeX(), cpuid.ArchCapsRSBA, o, thunkBuild)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, resolve(skylakeX(), cpuid.ArchCapsRSBA, o, thunkBuild)); diff != "" {
			t.Fatalf("Resolve not deterministic (-first +got):\n%s", diff)
		}
	}
}

func TestResolveThunk(t *testing.T) {
	haswell := func() *cpuid.Identity {
		id := skylakeX()
		id.Model = 0x3f
		id.Stepping = 2
		return id
	}
	lfence := func() *cpuid.Identity {
		id := epyc()
		id.Features.Add(cpuid.X86FeatureLFenceDispatch)
		return id
	}
	noIBRS := func() *cpuid.Identity {
		id := skylakeX()
		id.Features.Remove(cpuid.X86FeatureIBRSB)
		return id
	}
	for _, tc := range []struct {
		name      string
		id        *cpuid.Identity
		cmdline   string
		build     Build
		wantThunk options.Thunk
		wantIBRS  bool
	}{
		{name: "lfence dispatch", id: lfence(), build: thunkBuild, wantThunk: options.ThunkLFence},
		{name: "retpoline safe", id: haswell(), build: thunkBuild, wantThunk: options.ThunkRetpoline},
		{name: "unsafe uses ibrs", id: skylakeX(), build: thunkBuild, wantThunk: options.ThunkJmp, wantIBRS: true},
		{name: "unsafe without ibrs", id: noIBRS(), build: thunkBuild, wantThunk: options.ThunkRetpoline},
		{name: "no thunk support", id: skylakeX(), wantThunk: options.ThunkNone, wantIBRS: true},
		{name: "no thunk support, safe", id: haswell(), wantThunk: options.ThunkNone, wantIBRS: true},
		{name: "explicit thunk implies ibrs", id: haswell(), cmdline: "bti=thunk=retpoline", build: thunkBuild, wantThunk: options.ThunkRetpoline, wantIBRS: true},
		{name: "explicit thunk no ibrs", id: skylakeX(), cmdline: "bti=thunk=retpoline,ibrs=0", build: thunkBuild, wantThunk: options.ThunkRetpoline},
		{name: "explicit ibrs", id: haswell(), cmdline: "bti=ibrs", build: thunkBuild, wantThunk: options.ThunkJmp, wantIBRS: true},
		{name: "explicit ibrs off", id: skylakeX(), cmdline: "bti=no-ibrs", build: thunkBuild, wantThunk: options.ThunkRetpoline},
		{name: "explicit thunk without support", id: skylakeX(), cmdline: "bti=thunk=lfence", wantThunk: options.ThunkNone, wantIBRS: true},
		{name: "ibrs without hardware", id: noIBRS(), cmdline: "bti=ibrs", build: thunkBuild, wantThunk: options.ThunkJmp},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := resolve(tc.id, 0, mustParse(t, tc.cmdline), tc.build)
			if p.Thunk != tc.wantThunk || p.IBRS != tc.wantIBRS {
				t.Errorf("got thunk %v ibrs %t, want thunk %v ibrs %t", p.Thunk, p.IBRS, tc.wantThunk, tc.wantIBRS)
			}
		})
	}
}

func TestResolveHardwareGates(t *testing.T) {
	bare := &cpuid.Identity{
		Vendor:       cpuid.VendorIntel,
		Family:       6,
		Model:        0x55,
		Stepping:     4,
		PhysAddrBits: 46,
	}
	p := resolve(bare, 0, mustParse(t, "spec-ctrl=msr-sc,md-clear,ibpb,ssbd,l1d-flush"), thunkBuild)
	for _, k := range []struct {
		name string
		got  bool
	}{
		{"msr-sc pv", p.MSRSCPV},
		{"msr-sc hvm", p.MSRSCHVM},
		{"md-clear pv", p.MDClearPV},
		{"md-clear hvm", p.MDClearHVM},
		{"ibpb", p.IBPB},
		{"ssbd", p.SSBD},
		{"l1d-flush", p.L1DFlush},
		{"verw hvm", p.VERWHVM},
	} {
		if k.got {
			t.Errorf("%s enabled without hardware support", k.name)
		}
	}
	if !p.RSBPV || !p.RSBHVM {
		t.Errorf("RSB overwriting disabled, want on regardless of hardware")
	}
}

func TestResolveIBPBWithoutIBRS(t *testing.T) {
	if p := resolve(epyc(), 0, options.Options{}, thunkBuild); !p.IBPB {
		t.Errorf("IBPB off with the IBPB feature")
	}
	if p := resolve(epyc(), 0, mustParse(t, "spec-ctrl=no-ibpb"), thunkBuild); p.IBPB {
		t.Errorf("IBPB on after no-ibpb")
	}
}

func TestResolveCascade(t *testing.T) {
	p := resolve(skylakeX(), 0, mustParse(t, "spec-ctrl=no"), thunkBuild)
	want := Policy{
		Thunk:          options.ThunkJmp,
		XPTI:           options.ScopeNone,
		PVL1TF:         options.ScopeNone,
		L1TFAddrMask:   0x3ffffffff000,
		L1TFSafeAddr:   0x300000000000,
		L1DMaxPhysAddr: 46,
		PhysAddrBits:   46,
		SMTChosen:      true,
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("Resolve mismatch (-want +got):\n%s", diff)
	}

	// no-xen leaves guest-facing MSR_SPEC_CTRL, eager FPU and XPTI alone.
	p = resolve(skylakeX(), 0, mustParse(t, "spec-ctrl=no-xen"), thunkBuild)
	if !p.MSRSCPV || !p.MSRSCHVM || !p.EagerFPU || p.XPTI != options.ScopeAll || p.SMTChosen {
		t.Errorf("no-xen policy = %+v", p)
	}
	if p.IBRS || p.RSBPV || p.MDClearPV || p.L1DFlush || p.Thunk != options.ThunkJmp {
		t.Errorf("no-xen policy = %+v", p)
	}
}

func TestResolveOverrideOrder(t *testing.T) {
	p := resolve(skylakeX(), 0, mustParse(t, "spec-ctrl=mds=1,false"), thunkBuild)
	if p.MDClearPV || p.MDClearHVM {
		t.Errorf("mds=1,false: MD_CLEAR enabled")
	}
	p = resolve(skylakeX(), 0, mustParse(t, "spec-ctrl=false,mds=1"), thunkBuild)
	if !p.MDClearPV || !p.MDClearHVM {
		t.Errorf("false,mds=1: MD_CLEAR disabled")
	}
	if !p.VERWHVM {
		t.Errorf("false,mds=1: VERW on HVM entry off with L1D flush disabled")
	}
}

func TestResolveXPTI(t *testing.T) {
	for _, tc := range []struct {
		name    string
		id      *cpuid.Identity
		caps    cpuid.ArchCaps
		cmdline string
		want    options.Scope
	}{
		{name: "vulnerable", id: skylakeX(), want: options.ScopeAll},
		{name: "rdcl_no", id: skylakeX(), caps: cpuid.ArchCapsRDCLNo, want: options.ScopeNone},
		{name: "amd", id: epyc(), want: options.ScopeNone},
		{name: "off with immunity", id: skylakeX(), caps: cpuid.ArchCapsRDCLNo, cmdline: "xpti=off", want: options.ScopeNone},
		{name: "forced on with immunity", id: skylakeX(), caps: cpuid.ArchCapsRDCLNo, cmdline: "xpti=on", want: options.ScopeAll},
		{name: "dom0 only", id: skylakeX(), cmdline: "xpti=dom0", want: options.ScopeDom0},
		{name: "explicit inhibits default", id: skylakeX(), cmdline: "xpti=no-domu", want: options.ScopeNone},
		{name: "default restored", id: skylakeX(), caps: cpuid.ArchCapsRDCLNo, cmdline: "xpti=on,default", want: options.ScopeNone},
		{name: "default after cascade", id: skylakeX(), cmdline: "xpti=dom0 spec-ctrl=0 xpti=default", want: options.ScopeAll},
		{name: "cascade after default", id: skylakeX(), cmdline: "xpti=default spec-ctrl=0", want: options.ScopeNone},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := resolve(tc.id, tc.caps, mustParse(t, tc.cmdline), thunkBuild)
			if p.XPTI != tc.want {
				t.Errorf("XPTI = %v, want %v", p.XPTI, tc.want)
			}
			g := Publish(tc.id, p)
			if got, want := g.Caps.HasFeature(cpuid.X86FeatureNoXPTI), tc.want == options.ScopeNone; got != want {
				t.Errorf("%v published = %t, want %t", cpuid.X86FeatureNoXPTI, got, want)
			}
		})
	}
}

func TestResolveL1TF(t *testing.T) {
	p := resolve(skylakeX(), cpuid.ArchCapsSkipL1DFL, options.Options{}, thunkBuild)
	if p.L1DFlush {
		t.Errorf("L1D flush on with SKIP_L1DFL")
	}
	if p.VERWHVM {
		t.Errorf("VERW on HVM entry with SKIP_L1DFL")
	}
	if p.PVL1TF != options.ScopeDomU {
		t.Errorf("PVL1TF = %v, want domu", p.PVL1TF)
	}

	p = resolve(skylakeX(), cpuid.ArchCapsRDCLNo, options.Options{}, thunkBuild)
	if p.L1DFlush || p.PVL1TF != options.ScopeNone {
		t.Errorf("RDCL_NO policy: l1d flush %t, pv-l1tf %v", p.L1DFlush, p.PVL1TF)
	}

	p = resolve(skylakeX(), 0, mustParse(t, "pv-l1tf=dom0 spec-ctrl=no-l1d-flush"), thunkBuild)
	if p.L1DFlush || p.PVL1TF != options.ScopeDom0 {
		t.Errorf("explicit policy: l1d flush %t, pv-l1tf %v", p.L1DFlush, p.PVL1TF)
	}
	if !p.VERWHVM {
		t.Errorf("VERW on HVM entry off without L1D flush")
	}
}

func TestResolveSafeAddressMonotonic(t *testing.T) {
	for _, prev := range []uint64{0, 0x100000, 0x300000000000, 0x400000000000} {
		id := skylakeX()
		caps := cpuid.ArchCaps(0)
		p := Resolve(Input{
			Identity:     id,
			Verdicts:     vuln.Classify(id, caps),
			Build:        thunkBuild,
			L1TFSafeAddr: prev,
		})
		if p.L1TFSafeAddr < prev {
			t.Errorf("safe address %#x below previous %#x", p.L1TFSafeAddr, prev)
		}
		if want := max(prev, 0x300000000000); p.L1TFSafeAddr != want {
			t.Errorf("safe address %#x, want %#x", p.L1TFSafeAddr, want)
		}
	}
}

func TestResolveMSBDSOnly(t *testing.T) {
	// Silvermont only leaks through the store buffer.
	id := skylakeX()
	id.Model = 0x37
	id.Stepping = 0
	p := resolve(id, 0, options.Options{}, thunkBuild)
	if !p.MDClearPV || !p.MDClearHVM {
		t.Errorf("MD_CLEAR off for store buffer only exposure")
	}
	if !p.VERWHVM {
		t.Errorf("VERW on HVM entry off without L1TF")
	}
}
