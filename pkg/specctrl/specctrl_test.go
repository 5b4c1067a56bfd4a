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
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/specctrl/pkg/cpuid"
	"gvisor.dev/specctrl/pkg/log"
	"gvisor.dev/specctrl/pkg/msr"
	"gvisor.dev/specctrl/pkg/specctrl/options"
)

type captureEmitter struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureEmitter) Emit(_ int, _ log.Level, _ time.Time, format string, v ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, v...))
}

func (c *captureEmitter) contains(s string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if strings.Contains(l, s) {
			return true
		}
	}
	return false
}

func capture(t *testing.T) *captureEmitter {
	t.Helper()
	c := &captureEmitter{}
	old := log.Log().Emitter
	log.SetTarget(c)
	t.Cleanup(func() { log.SetTarget(old) })
	return c
}

// skylakeX is a four thread Skylake server, stepping 4, without
// MSR_ARCH_CAPABILITIES content.
func skylakeX() *cpuid.Identity {
	return &cpuid.Identity{
		Vendor:       cpuid.VendorIntel,
		Family:       6,
		Model:        0x55,
		Stepping:     4,
		Microcode:    0x2006906,
		PhysAddrBits: 46,
		NumSiblings:  2,
		APICIDs:      []uint32{0, 1, 2, 3},
		Features: cpuid.NewFeatureSet(
			cpuid.X86FeatureIBRSB,
			cpuid.X86FeatureSTIBP,
			cpuid.X86FeatureSSBD,
			cpuid.X86FeatureL1DFlush,
			cpuid.X86FeatureArchCaps,
			cpuid.X86FeatureMDClear,
		),
	}
}

// nested returns id marked as running under another hypervisor.
func nested(id *cpuid.Identity) *cpuid.Identity {
	id.Features.Add(cpuid.X86FeatureHypervisor)
	return id
}

// epyc is an eight thread AMD Zen 2 machine.
func epyc() *cpuid.Identity {
	return &cpuid.Identity{
		Vendor:       cpuid.VendorAMD,
		Family:       0x17,
		Model:        0x31,
		Microcode:    0x830104d,
		PhysAddrBits: 48,
		NumSiblings:  2,
		APICIDs:      []uint32{0, 1, 2, 3, 4, 5, 6, 7},
		Features:     cpuid.NewFeatureSet(cpuid.X86FeatureIBPB, cpuid.X86FeatureSTIBP),
	}
}

func mustParse(t *testing.T, cmdline string) options.Options {
	t.Helper()
	o, errs := options.Parse(cmdline)
	if len(errs) != 0 {
		t.Fatalf("Parse(%q) failed: %v", cmdline, errs)
	}
	return *o
}

func newRecorder(vals map[uint32]uint64) *msr.Recorder {
	return &msr.Recorder{Next: msr.NewStatic(vals)}
}

func initEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return e
}

func TestInitValidation(t *testing.T) {
	rec := newRecorder(nil)
	for _, tc := range []struct {
		name string
		cfg  Config
	}{
		{"no identity", Config{Platform: rec}},
		{"no platform", Config{Identity: skylakeX()}},
		{"boot cpu out of range", Config{Identity: skylakeX(), Platform: rec, BootCPU: 4}},
		{"negative boot cpu", Config{Identity: skylakeX(), Platform: rec, BootCPU: -1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Init(tc.cfg); err == nil {
				t.Errorf("Init succeeded, want error")
			}
		})
	}
}

func TestInitDoesNotModifyIdentity(t *testing.T) {
	id := epyc()
	want := *id
	e := initEngine(t, Config{
		Identity: id,
		Platform: newRecorder(map[uint32]uint64{msr.AMD64DECfg: msr.AMD64DECfgLFenceSerialise}),
		Build:    Build{IndirectThunk: true},
	})
	if diff := cmp.Diff(&want, id); diff != "" {
		t.Errorf("identity modified (-want +got):\n%s", diff)
	}
	if !e.Identity().Features.HasFeature(cpuid.X86FeatureLFenceDispatch) {
		t.Errorf("engine identity lacks %v", cpuid.X86FeatureLFenceDispatch)
	}
	if &e.Identity().APICIDs[0] == &id.APICIDs[0] {
		t.Errorf("engine identity shares APIC IDs with the caller")
	}
}

func TestNativeDefersActivation(t *testing.T) {
	rec := newRecorder(map[uint32]uint64{msr.CoreThreadCount: 0x20004})
	e := initEngine(t, Config{
		Identity: skylakeX(),
		Platform: rec,
		Build:    Build{IndirectThunk: true},
	})

	g := e.Globals()
	if g.DefaultSpecCtrl != SpecCtrlIBRS {
		t.Fatalf("DefaultSpecCtrl = %#x, want %#x", g.DefaultSpecCtrl, SpecCtrlIBRS)
	}
	d := e.Deferred()
	if d == nil {
		t.Fatalf("Deferred() = nil, want staged activation")
	}
	boot := e.PerCPU().Get(0)
	if !boot.UsingShadow() || boot.ShadowSpecCtrl != 0 {
		t.Errorf("boot slot = %+v, want shadow 0 in use", boot)
	}
	if got, want := rec.WritesTo(0, msr.SpecCtrl), []uint64{0}; !cmp.Equal(got, want) {
		t.Errorf("writes before Apply = %v, want %v", got, want)
	}

	if err := d.Apply(); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got, want := rec.WritesTo(0, msr.SpecCtrl), []uint64{0, 1}; !cmp.Equal(got, want) {
		t.Errorf("writes after Apply = %v, want %v", got, want)
	}
	if boot.UsingShadow() {
		t.Errorf("boot slot still using shadow after Apply")
	}
	if got := boot.LastSpecCtrl.Load(); got != 1 {
		t.Errorf("LastSpecCtrl = %#x, want 1", got)
	}
	if boot.SpecCtrlFlags != SCFISTWRMSR|SCFISTRSB {
		t.Errorf("SpecCtrlFlags = %#x, want %#x", boot.SpecCtrlFlags, SCFISTWRMSR|SCFISTRSB)
	}

	if err := d.Apply(); !errors.Is(err, ErrDeferredApplied) {
		t.Errorf("second Apply = %v, want %v", err, ErrDeferredApplied)
	}
	if got := len(rec.WritesTo(0, msr.SpecCtrl)); got != 2 {
		t.Errorf("second Apply wrote: %d writes total, want 2", got)
	}
}

func TestNestedWritesImmediately(t *testing.T) {
	rec := newRecorder(nil)
	e := initEngine(t, Config{
		Identity: nested(skylakeX()),
		Platform: rec,
		Build:    Build{IndirectThunk: true},
	})
	if d := e.Deferred(); d != nil {
		t.Errorf("Deferred() = %v, want nil", d)
	}
	if got, want := rec.WritesTo(0, msr.SpecCtrl), []uint64{1}; !cmp.Equal(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}
	if e.PerCPU().Get(0).UsingShadow() {
		t.Errorf("boot slot using shadow")
	}
}

func TestZeroDefaultWritesImmediately(t *testing.T) {
	rec := newRecorder(nil)
	e := initEngine(t, Config{
		Identity: skylakeX(),
		Options:  mustParse(t, "bti=ibrs=0"),
		Platform: rec,
		Build:    Build{IndirectThunk: true},
	})
	if d := e.Deferred(); d != nil {
		t.Errorf("Deferred() = %v, want nil", d)
	}
	if got, want := rec.WritesTo(0, msr.SpecCtrl), []uint64{0}; !cmp.Equal(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}
}

func TestNoSpecCtrlNoWrites(t *testing.T) {
	rec := newRecorder(nil)
	e := initEngine(t, Config{
		Identity: epyc(),
		Platform: rec,
		Build:    Build{IndirectThunk: true},
	})
	if d := e.Deferred(); d != nil {
		t.Errorf("Deferred() = %v, want nil", d)
	}
	if w := rec.Writes(); len(w) != 0 {
		t.Errorf("got writes %v, want none", w)
	}
	if err := e.StartSecondaries(t.Context()); err != nil {
		t.Fatalf("StartSecondaries failed: %v", err)
	}
	if w := rec.Writes(); len(w) != 0 {
		t.Errorf("secondaries wrote %v, want none", w)
	}
}

// failingAccessor fails every write.
type failingAccessor struct{}

func (failingAccessor) Read(int, uint32) (uint64, error) { return 0, msr.ErrNotFound }

func (failingAccessor) Write(int, uint32, uint64) error { return errors.New("write failed") }

// flakyAccessor passes through to next until fail is set.
type flakyAccessor struct {
	next msr.Accessor
	fail bool
}

func (f *flakyAccessor) Read(cpu int, reg uint32) (uint64, error) { return f.next.Read(cpu, reg) }

func (f *flakyAccessor) Write(cpu int, reg uint32, val uint64) error {
	if f.fail {
		return errors.New("write failed")
	}
	return f.next.Write(cpu, reg, val)
}

func TestDeferredApplyWriteFailure(t *testing.T) {
	platform := &flakyAccessor{next: newRecorder(map[uint32]uint64{msr.CoreThreadCount: 0x20004})}
	e := initEngine(t, Config{
		Identity: skylakeX(),
		Platform: platform,
		Build:    Build{IndirectThunk: true},
	})
	d := e.Deferred()
	if d == nil {
		t.Fatalf("Deferred() = nil, want staged activation")
	}

	platform.fail = true
	if err := d.Apply(); err == nil {
		t.Fatalf("Apply succeeded, want error")
	}
	boot := e.PerCPU().Get(0)
	if !boot.UsingShadow() {
		t.Errorf("boot slot left shadow mode after a failed write")
	}
	if d.Applied() {
		t.Errorf("Applied() = true after a failed write")
	}
	if got := boot.LastSpecCtrl.Load(); got != 0 {
		t.Errorf("LastSpecCtrl = %#x, want 0", got)
	}

	// A later retry can still succeed.
	platform.fail = false
	if err := d.Apply(); err != nil {
		t.Fatalf("retried Apply failed: %v", err)
	}
	if boot.UsingShadow() || !d.Applied() {
		t.Errorf("retried Apply: UsingShadow() = %t, Applied() = %t", boot.UsingShadow(), d.Applied())
	}
}

func TestWriteFailure(t *testing.T) {
	_, err := Init(Config{
		Identity: skylakeX(),
		Platform: failingAccessor{},
		Build:    Build{IndirectThunk: true},
	})
	if err == nil {
		t.Fatalf("Init succeeded, want error")
	}
	if !strings.Contains(err.Error(), "MSR_SPEC_CTRL") {
		t.Errorf("error %q does not name the register", err)
	}
}

func TestArchCapsRead(t *testing.T) {
	for _, tc := range []struct {
		name string
		id   *cpuid.Identity
		vals map[uint32]uint64
		want cpuid.ArchCaps
	}{
		{
			name: "present",
			id:   skylakeX(),
			vals: map[uint32]uint64{msr.ArchCapabilities: uint64(cpuid.ArchCapsRDCLNo | cpuid.ArchCapsMDSNo)},
			want: cpuid.ArchCapsRDCLNo | cpuid.ArchCapsMDSNo,
		},
		{
			name: "unreadable",
			id:   skylakeX(),
		},
		{
			name: "not enumerated",
			id:   epyc(),
			vals: map[uint32]uint64{msr.ArchCapabilities: uint64(cpuid.ArchCapsRDCLNo)},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := initEngine(t, Config{Identity: tc.id, Platform: newRecorder(tc.vals)})
			if got := e.ArchCaps(); got != tc.want {
				t.Errorf("ArchCaps() = %v, want %v", got, tc.want)
			}
			if got := e.Report().Policy.ArchCaps; got != tc.want {
				t.Errorf("report caps = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAMDScenario(t *testing.T) {
	e := initEngine(t, Config{
		Identity: epyc(),
		Platform: newRecorder(map[uint32]uint64{msr.AMD64DECfg: msr.AMD64DECfgLFenceSerialise}),
		Build:    Build{IndirectThunk: true},
	})
	v := e.Verdicts()
	if v.L1TF || v.MDS || v.MSBDSOnly || v.EagerFPU || !v.RetpolineSafe {
		t.Errorf("verdicts = %+v", v)
	}
	p := e.Policy()
	if p.Thunk != options.ThunkLFence {
		t.Errorf("thunk = %v, want lfence", p.Thunk)
	}
	if p.XPTI != options.ScopeNone {
		t.Errorf("xpti = %v, want none", p.XPTI)
	}
	g := e.Globals()
	for _, f := range []cpuid.Feature{cpuid.X86FeatureIndThunkLFence, cpuid.X86FeatureNoXPTI, cpuid.X86FeatureSCRSBPV, cpuid.X86FeatureSCRSBHVM} {
		if !g.Caps.HasFeature(f) {
			t.Errorf("published caps lack %v", f)
		}
	}
	if !g.IBPB {
		t.Errorf("IBPB off, want on with the IBPB feature")
	}
	if g.DefaultSpecCtrl != 0 || g.DefaultFlags != SCFISTRSB {
		t.Errorf("defaults = %#x/%#x, want 0/%#x", g.DefaultSpecCtrl, g.DefaultFlags, SCFISTRSB)
	}
}

func TestAMDWithoutLFenceDispatch(t *testing.T) {
	e := initEngine(t, Config{
		Identity: epyc(),
		Platform: newRecorder(nil),
		Build:    Build{IndirectThunk: true},
	})
	if got := e.Policy().Thunk; got != options.ThunkRetpoline {
		t.Errorf("thunk = %v, want retpoline", got)
	}
}

func TestSecondaries(t *testing.T) {
	rec := newRecorder(nil)
	e := initEngine(t, Config{
		Identity: skylakeX(),
		Platform: rec,
		Build:    Build{IndirectThunk: true},
		BootCPU:  2,
	})
	if err := e.StartSecondaries(t.Context()); err != nil {
		t.Fatalf("StartSecondaries failed: %v", err)
	}
	for cpu := 0; cpu < 4; cpu++ {
		slot := e.PerCPU().Get(cpu)
		if cpu == 2 {
			if got, want := rec.WritesTo(cpu, msr.SpecCtrl), []uint64{0}; !cmp.Equal(got, want) {
				t.Errorf("boot cpu writes = %v, want %v", got, want)
			}
			continue
		}
		if got, want := rec.WritesTo(cpu, msr.SpecCtrl), []uint64{1}; !cmp.Equal(got, want) {
			t.Errorf("cpu%d writes = %v, want %v", cpu, got, want)
		}
		if slot.UsingShadow() || slot.XenSpecCtrl != 1 || slot.LastSpecCtrl.Load() != 1 {
			t.Errorf("cpu%d slot = {shadow %d xen %d flags %#x}", cpu, slot.ShadowSpecCtrl, slot.XenSpecCtrl, slot.SpecCtrlFlags)
		}
	}
}

func TestSecondariesCancelled(t *testing.T) {
	e := initEngine(t, Config{Identity: skylakeX(), Platform: newRecorder(nil)})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := e.StartSecondaries(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("StartSecondaries = %v, want %v", err, context.Canceled)
	}
}

func TestPerCPUBounds(t *testing.T) {
	p := NewPerCPU(2)
	defer func() {
		if recover() == nil {
			t.Errorf("Get(2) did not panic")
		}
	}()
	p.Get(2)
}
