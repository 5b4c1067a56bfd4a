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

package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"gvisor.dev/specctrl/pkg/log"
	"gvisor.dev/specctrl/pkg/msr"
	"gvisor.dev/specctrl/pkg/specctrl"
	"gvisor.dev/specctrl/specctl/cmd/util"
	"gvisor.dev/specctrl/specctl/config"
)

// Resolve implements subcommands.Command for the "resolve" command.
type Resolve struct {
	// Print the result as JSON.
	json bool
	// Run the command without writing any register.
	dryRun bool
	// Apply the deferred boot processor value once initialisation is done.
	apply bool
	// Also initialise every secondary processor.
	secondaries bool
}

// Name implements subcommands.Command.Name.
func (*Resolve) Name() string {
	return "resolve"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Resolve) Synopsis() string {
	return "compute the speculative execution mitigation policy and print the boot report"
}

// Usage implements subcommands.Command.Usage.
func (*Resolve) Usage() string {
	return `resolve [flags]

Classifies the processor selected by --cpu, resolves the mitigation policy
from the boot command line and prints the same report the hypervisor logs at
boot. Register writes are only logged unless --dryrun=false is given, in
which case MSR_SPEC_CTRL is written through the msr device.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Resolve) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.json, "json", false, "output as JSON.")
	f.BoolVar(&r.dryRun, "dryrun", true, "run the command without writing any register")
	f.BoolVar(&r.apply, "apply", false, "apply a deferred boot processor SPEC_CTRL value")
	f.BoolVar(&r.secondaries, "secondaries", false, "also bring up every secondary processor")
}

// resolution is the JSON output of the resolve command.
type resolution struct {
	Report *specctrl.Report `json:"report"`
	Writes []string         `json:"writes"`
}

// Execute implements subcommands.Command.Execute.
func (r *Resolve) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	if r.dryRun {
		log.Infof("Running with DryRun. No register will be written.")
	}
	out, err := r.doExecute(ctx, conf)
	if err != nil {
		return util.Errorf("Resolve failed: %v", err)
	}

	if r.json {
		if err := util.OutJSON(out); err != nil {
			return util.Errorf("Writing output: %v", err)
		}
		return subcommands.ExitSuccess
	}
	for _, l := range out.Report.Lines() {
		util.Outf("%s", l)
	}
	for _, a := range out.Report.Advisories {
		util.Outf("%s: %s", a.Advisory, a.Message)
	}
	for _, w := range out.Writes {
		util.Outf("%s", w)
	}
	return subcommands.ExitSuccess
}

func (r *Resolve) doExecute(ctx context.Context, conf *config.Config) (*resolution, error) {
	id, platform, err := loadCPU(conf)
	if err != nil {
		return nil, fmt.Errorf("loading cpu: %w", err)
	}
	opts, _, err := loadOptions(conf)
	if err != nil {
		return nil, fmt.Errorf("reading command line: %w", err)
	}

	rec := &msr.Recorder{Next: platform, DryRun: r.dryRun}
	e, err := specctrl.Init(specctrl.Config{
		Identity:     id,
		Options:      *opts,
		Build:        conf.Build(),
		Platform:     rec,
		BootCPU:      conf.BootCPU,
		L1TFSafeAddr: conf.L1TFSafeAddr,
	})
	if err != nil {
		return nil, err
	}

	if r.secondaries {
		if err := e.StartSecondaries(ctx); err != nil {
			return nil, fmt.Errorf("starting secondaries: %w", err)
		}
	}
	if d := e.Deferred(); d != nil {
		if r.apply {
			if err := d.Apply(); err != nil {
				return nil, err
			}
		} else {
			log.Infof("cpu%d: SPEC_CTRL activation deferred", conf.BootCPU)
		}
	}

	out := &resolution{Report: e.Report()}
	for _, w := range rec.Writes() {
		out.Writes = append(out.Writes, w.String())
	}
	return out, nil
}
