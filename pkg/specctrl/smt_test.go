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
	"gvisor.dev/specctrl/pkg/cpuid/mock"
	"gvisor.dev/specctrl/pkg/msr"
	"gvisor.dev/specctrl/pkg/specctrl/vuln"
)

func withAPICs(id *cpuid.Identity, apics ...uint32) *cpuid.Identity {
	id.APICIDs = apics
	return id
}

func TestSMTEnabled(t *testing.T) {
	single := skylakeX()
	single.NumSiblings = 1

	for _, tc := range []struct {
		name     string
		id       *cpuid.Identity
		platform msr.Accessor
		want     bool
	}{
		{
			name:     "no siblings",
			id:       withAPICs(single, 0, 1, 2, 3),
			platform: msr.NewStatic(map[uint32]uint64{msr.CoreThreadCount: 0x20004}),
		},
		{
			name:     "thread count differs",
			id:       withAPICs(skylakeX(), 0, 2),
			platform: msr.NewStatic(map[uint32]uint64{msr.CoreThreadCount: 0x20004}),
			want:     true,
		},
		{
			name:     "thread count equal",
			id:       skylakeX(),
			platform: msr.NewStatic(map[uint32]uint64{msr.CoreThreadCount: 0x40004}),
		},
		{
			name:     "no thread count, sibling apic",
			id:       skylakeX(),
			platform: msr.NewStatic(nil),
			want:     true,
		},
		{
			name:     "no thread count, even apics",
			id:       withAPICs(skylakeX(), 0, 2, 4, 6),
			platform: msr.NewStatic(nil),
		},
		{
			name:     "nested ignores thread count",
			id:       nested(skylakeX()),
			platform: msr.NewStatic(map[uint32]uint64{msr.CoreThreadCount: 0x40004}),
			want:     true,
		},
		{
			name:     "amd",
			id:       withAPICs(epyc(), 0, 2, 4, 6),
			platform: msr.NewStatic(map[uint32]uint64{msr.CoreThreadCount: 0x20004}),
		},
		{
			name: "no platform",
			id:   skylakeX(),
			want: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := SMTEnabled(tc.id, tc.platform, 0); got != tc.want {
				t.Errorf("SMTEnabled = %t, want %t", got, tc.want)
			}
		})
	}
}

func TestSMTEnabledFromCPUInfo(t *testing.T) {
	for _, tc := range []struct {
		cpu  mock.CPU
		want bool
	}{
		{mock.Haswell2, true},
		{mock.Haswell2core, false},
		{mock.AMD8, true},
	} {
		t.Run(tc.cpu.Name, func(t *testing.T) {
			id, err := cpuid.ParseCPUInfo(tc.cpu.MakeCPUString())
			if err != nil {
				t.Fatalf("ParseCPUInfo failed: %v", err)
			}
			if got := SMTEnabled(id, msr.NewStatic(nil), 0); got != tc.want {
				t.Errorf("SMTEnabled = %t, want %t", got, tc.want)
			}
		})
	}
}

func TestAdvisories(t *testing.T) {
	for _, tc := range []struct {
		name string
		p    Policy
		v    vuln.Verdicts
		want []string
	}{
		{"both", Policy{SMTActive: true}, vuln.Verdicts{L1TF: true, MDS: true}, []string{"XSA-273", "XSA-297"}},
		{"l1tf", Policy{SMTActive: true}, vuln.Verdicts{L1TF: true}, []string{"XSA-273"}},
		{"store buffer only", Policy{SMTActive: true}, vuln.Verdicts{MSBDSOnly: true}, nil},
		{"smt inactive", Policy{}, vuln.Verdicts{L1TF: true, MDS: true}, nil},
		{"smt chosen", Policy{SMTActive: true, SMTChosen: true}, vuln.Verdicts{L1TF: true, MDS: true}, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			for _, a := range advisories(tc.p, tc.v) {
				got = append(got, a.Advisory)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("advisories mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInitEmitsAdvisories(t *testing.T) {
	for _, tc := range []struct {
		name    string
		cmdline string
		count   uint64
		want    int
	}{
		{name: "smt on, unset", count: 0x20004, want: 2},
		{name: "smt on, chosen", cmdline: "smt=1", count: 0x20004},
		{name: "smt off", count: 0x40004},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := capture(t)
			e := initEngine(t, Config{
				Identity: skylakeX(),
				Options:  mustParse(t, tc.cmdline),
				Platform: newRecorder(map[uint32]uint64{msr.CoreThreadCount: tc.count}),
			})
			if got := len(e.Advisories()); got != tc.want {
				t.Errorf("got %d advisories, want %d", got, tc.want)
			}
			if got := c.contains("See XSA-273"); got != (tc.want > 0) {
				t.Errorf("XSA-273 logged = %t, want %t", got, tc.want > 0)
			}
		})
	}
}
