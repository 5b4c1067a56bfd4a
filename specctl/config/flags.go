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
	"flag"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"gvisor.dev/specctrl/pkg/msr"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Machine description.
	flagSet.String("cpu", CPUHost, `processor to decide for: "host", "cpuinfo:<path>" to parse a saved /proc/cpuinfo, or the path of a YAML cpu fixture.`)
	flagSet.String("cmdline", "", "hypervisor boot parameters, e.g. \"spec-ctrl=no-xen xpti=dom0\".")
	flagSet.String("cmdline-file", "", "file holding hypervisor boot parameters, applied before --cmdline.")
	flagSet.String("config", "", "path of a TOML boot profile. Explicit flags take precedence over its settings.")
	flagSet.Bool("indirect-thunk", true, "indirect branch thunks are compiled in.")
	flagSet.Bool("shadow-paging", true, "shadow paging support is compiled in.")
	flagSet.Uint64("l1tf-safe-addr", 0, "L1TF safe address already established from the memory map.")
	flagSet.Int("boot-cpu", 0, "index of the boot processor.")
	flagSet.String("msr-dev", msr.DefaultDevicePattern, "MSR device path pattern, %d is replaced by the processor number.")

	// Debugging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr. If it ends with '/', log files are created inside the directory with default names. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.String("log-format", "text", "log format: text (default), json, or json-k8s.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr as well as the --log file.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags and, if --config is given, the boot profile it names.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	if conf.Profile != "" {
		p, err := LoadProfile(conf.Profile)
		if err != nil {
			return nil, err
		}
		explicit := make(map[string]bool)
		flagSet.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		p.apply(conf, explicit)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
// Settings taken from a boot profile are included; the profile itself is
// not.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok || name == "config" {
			continue
		}
		val := getVal(obj.Field(i))

		flag := flagSet.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == flag.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", flag.Name, val))
	}
	if c.profileCmdline != "" {
		cmdline := c.profileCmdline
		if c.Cmdline != "" {
			cmdline += " " + c.Cmdline
		}
		rv = setFlag(rv, "cmdline", cmdline)
	}
	return rv
}

// setFlag replaces or appends --name=val in flags.
func setFlag(flags []string, name, val string) []string {
	prefix := "--" + name + "="
	for i, f := range flags {
		if strings.HasPrefix(f, prefix) {
			flags[i] = prefix + val
			return flags
		}
	}
	return append(flags, prefix+val)
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
