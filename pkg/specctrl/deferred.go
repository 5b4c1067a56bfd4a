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
	"errors"
	"fmt"
	"sync"

	"gvisor.dev/specctrl/pkg/cpuid"
	"gvisor.dev/specctrl/pkg/log"
	"gvisor.dev/specctrl/pkg/msr"
)

// ErrDeferredApplied is returned by Deferred.Apply after the first call.
var ErrDeferredApplied = errors.New("deferred SPEC_CTRL value already applied")

// Deferred is the capability to activate the hypervisor's SPEC_CTRL value
// on the boot processor. It exists only if activation was postponed.
//
// Until Apply is called the boot processor runs with MSR_SPEC_CTRL clear so
// that building the privileged guest does not pay for IBRS.
type Deferred struct {
	cpu      int
	slot     *CPUInfo
	value    uint8
	platform msr.Accessor

	mu      sync.Mutex
	applied bool
}

// Apply leaves shadow mode and writes the default SPEC_CTRL value. It must
// be called once, after the privileged guest has been constructed.
func (d *Deferred) Apply() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.applied {
		return ErrDeferredApplied
	}
	// The slot stays in shadow mode if the write fails.
	if err := writeSpecCtrl(d.platform, d.cpu, d.slot, d.value); err != nil {
		return err
	}
	d.slot.SpecCtrlFlags &^= SCFUseShadow
	d.applied = true
	log.Infof("cpu%d: SPEC_CTRL activated (%#x)", d.cpu, d.value)
	return nil
}

// Applied returns true once Apply has succeeded.
func (d *Deferred) Applied() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applied
}

// writeSpecCtrl writes MSR_SPEC_CTRL on cpu and records the value in slot.
func writeSpecCtrl(platform msr.Accessor, cpu int, slot *CPUInfo, val uint8) error {
	if err := platform.Write(cpu, msr.SpecCtrl, uint64(val)); err != nil {
		return fmt.Errorf("cpu%d: writing %s: %w", cpu, msr.Name(msr.SpecCtrl), err)
	}
	slot.LastSpecCtrl.Store(uint64(val))
	return nil
}

// activate is the boot processor half of the gate. It returns a Deferred if
// the default value was held back.
//
// When running nested, the outer hypervisor has likely already set up
// SPEC_CTRL for us, and delaying could leave us exposed.
func activate(g *Globals, hypervisor bool, platform msr.Accessor, cpu int, slot *CPUInfo) (*Deferred, error) {
	if !g.Caps.HasFeature(cpuid.X86FeatureIBRSB) {
		return nil, nil
	}
	if !hypervisor && g.DefaultSpecCtrl != 0 {
		slot.ShadowSpecCtrl = 0
		slot.SpecCtrlFlags |= SCFUseShadow
		if err := writeSpecCtrl(platform, cpu, slot, 0); err != nil {
			return nil, err
		}
		return &Deferred{
			cpu:      cpu,
			slot:     slot,
			value:    g.DefaultSpecCtrl,
			platform: platform,
		}, nil
	}
	return nil, writeSpecCtrl(platform, cpu, slot, g.DefaultSpecCtrl)
}
