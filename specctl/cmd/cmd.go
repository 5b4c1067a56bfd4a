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

// Package cmd holds implementations of the specctl commands.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"gvisor.dev/specctrl/pkg/cpuid"
	"gvisor.dev/specctrl/pkg/msr"
	"gvisor.dev/specctrl/pkg/specctrl/options"
	"gvisor.dev/specctrl/specctl/config"
)

// loadCPU returns the processor identity selected by conf and an accessor
// for its registers.
//
// Only the host source reaches real registers. Saved cpuinfo has none, and
// a fixture carries the register values it declares.
func loadCPU(conf *config.Config) (*cpuid.Identity, msr.Accessor, error) {
	if conf.CPU == config.CPUHost {
		id, err := cpuid.HostIdentity()
		if err != nil {
			return nil, nil, err
		}
		return id, msr.NewDevice(conf.MSRDevice), nil
	}

	if path, ok := strings.CutPrefix(conf.CPU, config.CPUInfoPrefix); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		id, err := cpuid.ParseCPUInfo(string(data))
		if err != nil {
			return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return id, msr.NewStatic(nil), nil
	}

	f, err := os.Open(conf.CPU)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cpu fixture: %w", err)
	}
	defer f.Close()
	fx, err := cpuid.LoadFixture(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", conf.CPU, err)
	}
	vals := make(map[uint32]uint64, len(fx.MSRs)+1)
	for k, v := range fx.MSRs {
		vals[k] = v
	}
	if fx.Identity.Features.HasFeature(cpuid.X86FeatureArchCaps) {
		vals[msr.ArchCapabilities] = uint64(fx.ArchCaps)
	}
	return fx.Identity, msr.NewStatic(vals), nil
}

// loadOptions parses the boot command line selected by conf. Directive
// errors have been logged by the parser and are returned for reporting.
func loadOptions(conf *config.Config) (*options.Options, []error, error) {
	cmdline, err := conf.BootCmdline()
	if err != nil {
		return nil, nil, err
	}
	o, errs := options.Parse(cmdline)
	return o, errs, nil
}
