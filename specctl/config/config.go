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

// Package config provides basic infrastructure to set configuration settings
// for specctl. Each setting that can be changed from the command line must
// have a corresponding field in Config with a "flag" tag naming the flag.
// Settings that describe the machine being booted may also come from a TOML
// boot profile; flags given explicitly take precedence over the profile.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"gvisor.dev/specctrl/pkg/log"
	"gvisor.dev/specctrl/pkg/specctrl"
)

// CPU sources other than a fixture path.
const (
	// CPUHost identifies the processor specctl runs on.
	CPUHost = "host"

	// CPUInfoPrefix names a saved /proc/cpuinfo, e.g. "cpuinfo:/tmp/cpuinfo".
	CPUInfoPrefix = "cpuinfo:"
)

// Config holds configuration that is not part of the boot command line.
type Config struct {
	// CPU selects where the processor identity comes from: "host",
	// "cpuinfo:<path>" or the path of a YAML fixture.
	CPU string `flag:"cpu"`

	// Cmdline holds boot parameters, applied after the profile and the
	// command line file.
	Cmdline string `flag:"cmdline"`

	// CmdlineFile is a file holding boot parameters, e.g. /proc/cmdline.
	CmdlineFile string `flag:"cmdline-file"`

	// Profile is the path of a TOML boot profile.
	Profile string `flag:"config"`

	// IndirectThunk is set if indirect branch thunks are compiled in.
	IndirectThunk bool `flag:"indirect-thunk"`

	// ShadowPaging is set if shadow paging support is compiled in.
	ShadowPaging bool `flag:"shadow-paging"`

	// L1TFSafeAddr is a safe address already derived from the memory map.
	L1TFSafeAddr uint64 `flag:"l1tf-safe-addr"`

	// BootCPU is the index of the boot processor.
	BootCPU int `flag:"boot-cpu"`

	// MSRDevice is the MSR device pattern, with %d for the processor.
	MSRDevice string `flag:"msr-dev"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// AlsoLogToStderr also sends log messages to stderr when LogFilename
	// is set.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// profileCmdline is the boot command line from the profile.
	profileCmdline string
}

// validate checks that the configuration is consistent.
func (c *Config) validate() error {
	if c.CPU == "" {
		return fmt.Errorf("-cpu must not be empty")
	}
	if path, ok := strings.CutPrefix(c.CPU, CPUInfoPrefix); ok && path == "" {
		return fmt.Errorf("-cpu=%s needs a path", CPUInfoPrefix)
	}
	if c.BootCPU < 0 {
		return fmt.Errorf("-boot-cpu must not be negative, got %d", c.BootCPU)
	}
	if !strings.Contains(c.MSRDevice, "%d") {
		return fmt.Errorf("-msr-dev %q has no %%d for the processor number", c.MSRDevice)
	}
	switch c.LogFormat {
	case "text", "json", "json-k8s":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", c.LogFormat)
	}
	return nil
}

// Build returns the compiled-in mitigation support.
func (c *Config) Build() specctrl.Build {
	return specctrl.Build{
		IndirectThunk: c.IndirectThunk,
		ShadowPaging:  c.ShadowPaging,
	}
}

// BootCmdline returns the boot command line: the profile's, then the
// content of CmdlineFile, then Cmdline. Directives apply left to right, so
// later sources override earlier ones.
func (c *Config) BootCmdline() (string, error) {
	var parts []string
	if c.profileCmdline != "" {
		parts = append(parts, c.profileCmdline)
	}
	if c.CmdlineFile != "" {
		data, err := os.ReadFile(c.CmdlineFile)
		if err != nil {
			return "", fmt.Errorf("reading command line: %w", err)
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			parts = append(parts, s)
		}
	}
	if c.Cmdline != "" {
		parts = append(parts, c.Cmdline)
	}
	return strings.Join(parts, " "), nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if _, ok := f.Tag.Lookup("flag"); !ok {
			continue
		}
		log.Infof("\t%s: %v", f.Name, obj.Field(i).Interface())
	}
	if c.profileCmdline != "" {
		log.Infof("\tProfile cmdline: %s", c.profileCmdline)
	}
}
