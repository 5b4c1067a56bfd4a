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

package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Profile is a boot profile: the parts of a machine's boot configuration
// that do not come from the processor. For example:
//
//	cmdline = "spec-ctrl=no-xen xpti=dom0"
//	boot-cpu = 0
//	l1tf-safe-addr = 0x300000000000
//
//	[build]
//	indirect-thunk = true
//	shadow-paging = false
type Profile struct {
	Cmdline      string       `toml:"cmdline"`
	BootCPU      *int         `toml:"boot-cpu"`
	L1TFSafeAddr *uint64      `toml:"l1tf-safe-addr"`
	Build        BuildProfile `toml:"build"`
}

// BuildProfile is the compiled-in support section of a Profile. Absent keys
// leave the flag values alone.
type BuildProfile struct {
	IndirectThunk *bool `toml:"indirect-thunk"`
	ShadowPaging  *bool `toml:"shadow-paging"`
}

// LoadProfile reads a boot profile. Unknown keys are an error.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return nil, fmt.Errorf("reading boot profile: %w", err)
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		return nil, fmt.Errorf("boot profile %s: unknown keys %v", path, keys)
	}
	return &p, nil
}

// apply copies profile settings into conf for every flag not in explicit.
// The profile command line is always kept; it is applied before the flag's.
func (p *Profile) apply(conf *Config, explicit map[string]bool) {
	conf.profileCmdline = p.Cmdline
	if p.BootCPU != nil && !explicit["boot-cpu"] {
		conf.BootCPU = *p.BootCPU
	}
	if p.L1TFSafeAddr != nil && !explicit["l1tf-safe-addr"] {
		conf.L1TFSafeAddr = *p.L1TFSafeAddr
	}
	if p.Build.IndirectThunk != nil && !explicit["indirect-thunk"] {
		conf.IndirectThunk = *p.Build.IndirectThunk
	}
	if p.Build.ShadowPaging != nil && !explicit["shadow-paging"] {
		conf.ShadowPaging = *p.Build.ShadowPaging
	}
}
