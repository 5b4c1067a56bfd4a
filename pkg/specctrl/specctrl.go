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

// Package specctrl decides and applies speculative-execution mitigations at
// boot.
//
// Init runs once on the boot processor, after CPU identification. It
// classifies the processor, resolves the administrator's directives against
// the hardware, publishes the result as capability bits and per-CPU
// defaults, and programs MSR_SPEC_CTRL on the boot processor. The published
// state is never re-evaluated.
package specctrl

import (
	"errors"
	"fmt"

	"github.com/mohae/deepcopy"
	"gvisor.dev/specctrl/pkg/cpuid"
	"gvisor.dev/specctrl/pkg/log"
	"gvisor.dev/specctrl/pkg/msr"
	"gvisor.dev/specctrl/pkg/specctrl/options"
	"gvisor.dev/specctrl/pkg/specctrl/vuln"
)

// Config is the input to Init.
type Config struct {
	// Identity is the boot processor's identity. Init does not modify it.
	Identity *cpuid.Identity

	// Options are the administrator's directives.
	Options options.Options

	// Build is the compiled-in mitigation support.
	Build Build

	// Platform reads and writes model specific registers.
	Platform msr.Accessor

	// BootCPU is the index of the boot processor.
	BootCPU int

	// L1TFSafeAddr is a safe address already derived from the memory map,
	// or zero.
	L1TFSafeAddr uint64
}

// Engine is the boot-time mitigation state. Everything except the deferred
// gate and the per-CPU slots is immutable once Init returns.
type Engine struct {
	identity   *cpuid.Identity
	build      Build
	platform   msr.Accessor
	bootCPU    int
	archCaps   cpuid.ArchCaps
	verdicts   vuln.Verdicts
	policy     Policy
	globals    *Globals
	report     *Report
	advisories []Advisory
	percpu     *PerCPU
	deferred   *Deferred
}

// Init computes, publishes and applies the mitigation policy.
//
// The returned Engine carries a Deferred if the boot processor's SPEC_CTRL
// value was held back; the caller must Apply it after constructing the
// privileged guest.
func Init(cfg Config) (*Engine, error) {
	if cfg.Identity == nil {
		return nil, errors.New("no cpu identity")
	}
	if cfg.Platform == nil {
		return nil, errors.New("no msr accessor")
	}
	n := cfg.Identity.NumCPUs()
	if cfg.BootCPU < 0 || cfg.BootCPU >= n {
		return nil, fmt.Errorf("boot cpu %d out of range [0, %d)", cfg.BootCPU, n)
	}

	// Work on a copy: probing may add synthetic bits.
	id := deepcopy.Copy(cfg.Identity).(*cpuid.Identity)
	e := &Engine{
		identity: id,
		build:    cfg.Build,
		platform: cfg.Platform,
		bootCPU:  cfg.BootCPU,
		percpu:   NewPerCPU(n),
	}

	probeLFenceDispatch(id, cfg.Platform, cfg.BootCPU)
	e.archCaps = ReadArchCaps(id, cfg.Platform, cfg.BootCPU)
	smt := SMTEnabled(id, cfg.Platform, cfg.BootCPU)
	e.verdicts = vuln.Classify(id, e.archCaps)
	e.policy = Resolve(Input{
		Identity:     id,
		ArchCaps:     e.archCaps,
		Verdicts:     e.verdicts,
		Options:      cfg.Options,
		Build:        cfg.Build,
		SMTActive:    smt,
		L1TFSafeAddr: cfg.L1TFSafeAddr,
	})
	e.globals = Publish(id, e.policy)

	boot := e.percpu.Get(cfg.BootCPU)
	boot.Init(e.globals)

	e.report = NewReport(id, cfg.Build, e.verdicts, e.policy, e.globals)
	e.advisories = e.report.Advisories
	for _, a := range e.advisories {
		log.Banner(a.Message)
	}
	for _, line := range e.report.Lines() {
		log.Infof("%s", line)
	}

	d, err := activate(e.globals, id.Hypervisor(), cfg.Platform, cfg.BootCPU, boot)
	if err != nil {
		return nil, err
	}
	e.deferred = d
	return e, nil
}

// ReadArchCaps reads MSR_ARCH_CAPABILITIES if the processor enumerates it.
func ReadArchCaps(id *cpuid.Identity, platform msr.Accessor, cpu int) cpuid.ArchCaps {
	if !id.Features.HasFeature(cpuid.X86FeatureArchCaps) {
		return 0
	}
	val, err := platform.Read(cpu, msr.ArchCapabilities)
	if err != nil {
		log.Warningf("Reading %s failed, assuming no capabilities: %v", msr.Name(msr.ArchCapabilities), err)
		return 0
	}
	return cpuid.ArchCaps(val)
}

// probeLFenceDispatch sets the synthetic LFENCE dispatch bit on AMD and
// Hygon processors that have LFENCE serialisation enabled in DE_CFG. Family
// 0xf predates the register.
func probeLFenceDispatch(id *cpuid.Identity, platform msr.Accessor, cpu int) {
	if id.Vendor != cpuid.VendorAMD && id.Vendor != cpuid.VendorHygon {
		return
	}
	if id.Family < 0x10 {
		return
	}
	val, err := platform.Read(cpu, msr.AMD64DECfg)
	if err != nil {
		log.Debugf("Reading %s: %v", msr.Name(msr.AMD64DECfg), err)
		return
	}
	if val&msr.AMD64DECfgLFenceSerialise != 0 {
		id.Features.Add(cpuid.X86FeatureLFenceDispatch)
	}
}

// Identity returns the identity the engine decided on, including probed
// synthetic features.
func (e *Engine) Identity() *cpuid.Identity { return e.identity }

// ArchCaps returns the capability word read at Init.
func (e *Engine) ArchCaps() cpuid.ArchCaps { return e.archCaps }

// Verdicts returns the classifier's verdicts.
func (e *Engine) Verdicts() vuln.Verdicts { return e.verdicts }

// Policy returns the resolved policy.
func (e *Engine) Policy() Policy { return e.policy }

// Globals returns the published state.
func (e *Engine) Globals() *Globals { return e.globals }

// Report returns the diagnostics report.
func (e *Engine) Report() *Report { return e.report }

// Advisories returns the SMT advisories emitted at Init.
func (e *Engine) Advisories() []Advisory { return e.advisories }

// PerCPU returns the per-processor state.
func (e *Engine) PerCPU() *PerCPU { return e.percpu }

// Deferred returns the deferred activation capability, or nil if the boot
// processor's value was written immediately.
func (e *Engine) Deferred() *Deferred { return e.deferred }
