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
	"os"
	"path/filepath"

	"github.com/google/subcommands"
	"gvisor.dev/specctrl/pkg/log"
	"gvisor.dev/specctrl/pkg/specctrl/options"
	"gvisor.dev/specctrl/specctl/cmd/util"
	"gvisor.dev/specctrl/specctl/config"
	"gvisor.dev/specctrl/specctl/mitigate"
)

const defaultSMTLock = "/run/specctl/smt.lock"

// SMT implements subcommands.Command for the "smt" command.
type SMT struct {
	// Run the command without changing the underlying system.
	dryRun bool
	// Reverse by turning on all possible processors.
	reverse bool
	// Processor directory in sysfs.
	sysfs string
	// Lock file serialising concurrent invocations.
	lockFile string
}

// Name implements subcommands.Command.Name.
func (*SMT) Name() string {
	return "smt"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*SMT) Synopsis() string {
	return "carry out the smt= boot directive by parking sibling threads"
}

// Usage implements subcommands.Command.Usage.
func (*SMT) Usage() string {
	return `smt [flags]

If the boot command line carries smt=0, every thread except the first of each
core is taken offline via <sysfs>/cpu{N}/online. Processors can be restored
with --reverse, which reads <sysfs>/possible and brings every one online.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *SMT) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.dryRun, "dryrun", true, "run the command without changing system")
	f.BoolVar(&s.reverse, "reverse", false, "enable all possible processors")
	f.StringVar(&s.sysfs, "sysfs", mitigate.DefaultSysfs, "processor directory in sysfs")
	f.StringVar(&s.lockFile, "lock", defaultSMTLock, "lock file held while changing processor state")
}

// Execute implements subcommands.Command.Execute.
func (s *SMT) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	if s.dryRun {
		log.Infof("Running with DryRun. No cpu settings will be changed.")
	}
	unlock, err := mitigate.Lock(s.lockFile)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer func() {
		if err := unlock(); err != nil {
			log.Warningf("Error releasing lock %q: %v", s.lockFile, err)
		}
	}()

	fs := mitigate.Sysfs{Root: s.sysfs, DryRun: s.dryRun}
	if s.reverse {
		if err := s.doReverse(fs); err != nil {
			return util.Errorf("Reverse failed: %v", err)
		}
		return subcommands.ExitSuccess
	}
	if err := s.doPark(conf, fs); err != nil {
		return util.Errorf("Parking failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func (s *SMT) doPark(conf *config.Config, fs mitigate.Sysfs) error {
	opts, _, err := loadOptions(conf)
	if err != nil {
		return fmt.Errorf("reading command line: %w", err)
	}
	if opts.SMT != options.False {
		log.Infof("smt=0 not given, leaving threads online")
		return nil
	}
	id, _, err := loadCPU(conf)
	if err != nil {
		return fmt.Errorf("loading cpu: %w", err)
	}
	set := mitigate.NewThreadSet(id)
	log.Infof("Found the following threads...")
	log.Infof("%s", set)
	parked, err := mitigate.Park(set, fs)
	if err != nil {
		return err
	}
	for _, t := range parked {
		util.Outf("parked %s", t)
	}
	return nil
}

func (s *SMT) doReverse(fs mitigate.Sysfs) error {
	path := filepath.Join(s.sysfs, "possible")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	cpus, err := mitigate.ParsePossible(string(data))
	if err != nil {
		return err
	}
	if err := mitigate.Unpark(cpus, fs); err != nil {
		return err
	}
	util.Outf("enabled %d processors", len(cpus))
	return nil
}
