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
	"time"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/specctrl/pkg/cpuid"
	"gvisor.dev/specctrl/pkg/log"
)

// bringupLog limits per-CPU messages on large machines.
var bringupLog = log.BasicRateLimitedLogger(time.Second, 8)

// StartSecondaries brings every present non-boot processor in line with the
// published state. Each processor initialises its own slot and, if
// MSR_SPEC_CTRL exists, writes the default value directly: only the boot
// processor defers activation.
//
// It returns the first error; the remaining processors are abandoned once
// ctx is cancelled.
func (e *Engine) StartSecondaries(ctx context.Context) error {
	g := e.globals
	wrmsr := g.Caps.HasFeature(cpuid.X86FeatureIBRSB)

	eg, ctx := errgroup.WithContext(ctx)
	for cpu := 0; cpu < e.percpu.Len(); cpu++ {
		if cpu == e.bootCPU {
			continue
		}
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			slot := e.percpu.Get(cpu)
			slot.Init(g)
			if wrmsr {
				if err := writeSpecCtrl(e.platform, cpu, slot, g.DefaultSpecCtrl); err != nil {
					return err
				}
			}
			bringupLog.Debugf("cpu%d: SPEC_CTRL %#x, flags %#x", cpu, slot.XenSpecCtrl, slot.SpecCtrlFlags)
			return nil
		})
	}
	return eg.Wait()
}
