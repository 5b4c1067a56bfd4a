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
	"slices"

	"github.com/google/subcommands"
	"gvisor.dev/specctrl/pkg/cpuid"
	"gvisor.dev/specctrl/pkg/log"
	"gvisor.dev/specctrl/pkg/specctrl"
	"gvisor.dev/specctrl/pkg/specctrl/vuln"
	"gvisor.dev/specctrl/specctl/cmd/util"
	"gvisor.dev/specctrl/specctl/config"
)

// Classify implements subcommands.Command for the "classify" command.
type Classify struct {
	json bool
}

// Name implements subcommands.Command.Name.
func (*Classify) Name() string {
	return "classify"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Classify) Synopsis() string {
	return "show which speculative execution hazards the processor is exposed to"
}

// Usage implements subcommands.Command.Usage.
func (*Classify) Usage() string {
	return `classify [flags]

Classifies the processor selected by --cpu. When the identity comes from
/proc/cpuinfo, the verdicts are compared with the kernel's bugs field.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Classify) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.json, "json", false, "output as JSON.")
}

// classification is the output of the classify command.
type classification struct {
	Identity      string        `json:"identity"`
	Features      string        `json:"features"`
	ArchCaps      []string      `json:"arch_caps"`
	Verdicts      vuln.Verdicts `json:"verdicts"`
	KernelBugs    []string      `json:"kernel_bugs,omitempty"`
	Disagreements []string      `json:"disagreements,omitempty"`
}

// Execute implements subcommands.Command.Execute.
func (c *Classify) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	id, platform, err := loadCPU(conf)
	if err != nil {
		return util.Errorf("Loading cpu: %v", err)
	}
	caps := specctrl.ReadArchCaps(id, platform, conf.BootCPU)
	out := classification{
		Identity:   id.String(),
		Features:   id.Features.FlagString(),
		ArchCaps:   caps.Names(),
		Verdicts:   vuln.Classify(id, caps),
		KernelBugs: id.KernelBugs,
	}
	out.Disagreements = compareKernel(id, out.Verdicts)

	if c.json {
		if err := util.OutJSON(out); err != nil {
			return util.Errorf("Writing output: %v", err)
		}
		return subcommands.ExitSuccess
	}
	util.Outf("CPU: %s", out.Identity)
	util.Outf("Features: %s", out.Features)
	util.Outf("Arch caps: %s", caps)
	util.Outf("L1TF: %s (L1D maxphysaddr %d)", vulnerable(out.Verdicts.L1TF), out.Verdicts.L1DMaxPhysAddr)
	switch {
	case out.Verdicts.MDS:
		util.Outf("MDS: vulnerable")
	case out.Verdicts.MSBDSOnly:
		util.Outf("MDS: store buffer only")
	default:
		util.Outf("MDS: not vulnerable")
	}
	util.Outf("Retpoline: %s", yesNo(out.Verdicts.RetpolineSafe, "safe", "unsafe"))
	util.Outf("Eager FPU: %s", yesNo(out.Verdicts.EagerFPU, "needed", "not needed"))
	for _, d := range out.Disagreements {
		util.Outf("Kernel disagrees: %s", d)
	}
	return subcommands.ExitSuccess
}

// compareKernel lists the verdicts the host kernel reached differently. The
// kernel reports a bug for any MDS exposure, including store buffer only.
func compareKernel(id *cpuid.Identity, v vuln.Verdicts) []string {
	if len(id.KernelBugs) == 0 {
		return nil
	}
	var diffs []string
	for _, b := range []struct {
		bug  string
		ours bool
	}{
		{"l1tf", v.L1TF},
		{"mds", v.MDS || v.MSBDSOnly},
	} {
		kernel := slices.Contains(id.KernelBugs, b.bug)
		if kernel != b.ours {
			d := fmt.Sprintf("%s: kernel %s, classifier %s", b.bug, vulnerable(kernel), vulnerable(b.ours))
			log.Warningf("Kernel disagrees on %s", d)
			diffs = append(diffs, d)
		}
	}
	return diffs
}

func vulnerable(b bool) string {
	return yesNo(b, "vulnerable", "not vulnerable")
}

func yesNo(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}
