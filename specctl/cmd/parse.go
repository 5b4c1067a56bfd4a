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

	"github.com/google/subcommands"
	"gvisor.dev/specctrl/pkg/specctrl/options"
	"gvisor.dev/specctrl/specctl/cmd/util"
	"gvisor.dev/specctrl/specctl/config"
)

// Parse implements subcommands.Command for the "parse" command.
type Parse struct {
	json bool
}

// Name implements subcommands.Command.Name.
func (*Parse) Name() string {
	return "parse"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Parse) Synopsis() string {
	return "parse the boot command line and print the resulting directives"
}

// Usage implements subcommands.Command.Usage.
func (*Parse) Usage() string {
	return `parse [flags]

Parses spec-ctrl, bti, xpti, pv-l1tf and smt from the command line selected
by --cmdline, --cmdline-file or --config. Directives that fail to parse are
reported and the command exits non-zero; the rest are still printed.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Parse) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&p.json, "json", false, "output as JSON.")
}

// directive is one printed option.
type directive struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func directives(o *options.Options) []directive {
	return []directive{
		{"msr-sc-pv", o.MSRSCPV.String()},
		{"msr-sc-hvm", o.MSRSCHVM.String()},
		{"rsb-pv", o.RSBPV.String()},
		{"rsb-hvm", o.RSBHVM.String()},
		{"md-clear-pv", o.MDClearPV.String()},
		{"md-clear-hvm", o.MDClearHVM.String()},
		{"ibrs", o.IBRS.String()},
		{"ibpb", o.IBPB.String()},
		{"ssbd", o.SSBD.String()},
		{"eager-fpu", o.EagerFPU.String()},
		{"l1d-flush", o.L1DFlush.String()},
		{"smt", o.SMT.String()},
		{"thunk", o.Thunk.String()},
		{"xpti", o.XPTI.String()},
		{"pv-l1tf", o.PVL1TF.String()},
	}
}

// Execute implements subcommands.Command.Execute.
func (p *Parse) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	o, errs, err := loadOptions(conf)
	if err != nil {
		return util.Errorf("Reading command line: %v", err)
	}

	if p.json {
		if err := util.OutJSON(o); err != nil {
			return util.Errorf("Writing output: %v", err)
		}
	} else {
		for _, d := range directives(o) {
			util.Outf("%-13s %s", d.Name+":", d.Value)
		}
	}

	for _, err := range errs {
		util.Errorf("Invalid directive: %v", err)
	}
	if len(errs) > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
