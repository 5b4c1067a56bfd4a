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

package options

import (
	"strings"

	"github.com/siderolabs/go-procfs/procfs"
	"gvisor.dev/specctrl/pkg/log"
)

// Parameters maps each recognised boot parameter to its parser.
var Parameters = map[string]func(o *Options, s string) error{
	"bti":       (*Options).ParseBTI,
	"spec-ctrl": (*Options).ParseSpecCtrl,
	"xpti":      (*Options).ParseXPTI,
	"pv-l1tf":   (*Options).ParsePVL1TF,
	"smt":       (*Options).ParseSMT,
}

// ParseCmdline applies every recognised parameter of a hypervisor boot
// command line, strictly left to right. Unrecognised parameters are
// ignored.
//
// Errors are non-fatal: each is logged and returned, and parsing continues
// with the next parameter.
func (o *Options) ParseCmdline(cmdline string) []error {
	cl := procfs.NewCmdline(cmdline)

	// procfs groups the values of a key under its first occurrence, so
	// walk the fields in order and take each key's values one at a time.
	next := make(map[string]int)
	var errs []error
	for _, field := range strings.Fields(cmdline) {
		key, _, _ := strings.Cut(field, "=")
		parse, ok := Parameters[key]
		if !ok {
			continue
		}
		v := cl.Get(key).Get(next[key])
		next[key]++
		if v == nil {
			continue
		}
		if err := parse(o, *v); err != nil {
			log.Warningf("Ignoring rest of %s=%s: %v", key, *v, err)
			errs = append(errs, err)
		}
	}
	return errs
}

// Parse returns the options resulting from cmdline. It is a shorthand for
// ParseCmdline on zero Options.
func Parse(cmdline string) (*Options, []error) {
	o := &Options{}
	errs := o.ParseCmdline(cmdline)
	return o, errs
}
