// Copyright 2021 The gVisor Authors.
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

package cpuid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	processorKey    = "processor"
	vendorIDKey     = "vendor_id"
	cpuFamilyKey    = "cpu family"
	modelKey        = "model"
	steppingKey     = "stepping"
	microcodeKey    = "microcode"
	cpuidLevelKey   = "cpuid level"
	addressSizesKey = "address sizes"
	siblingsKey     = "siblings"
	cpuCoresKey     = "cpu cores"
	apicIDKey       = "apicid"
	flagsKey        = "flags"
	bugsKey         = "bugs"
)

var addressSizesRegex = regexp.MustCompile(`(\d+)\s+bits physical`)

// ParseCPUInfo builds an Identity from the contents of /proc/cpuinfo.
//
// The boot processor (the first entry) supplies the vendor, signature,
// microcode, address width and feature flags. Every entry contributes its
// APIC ID. Unknown flags are ignored.
func ParseCPUInfo(data string) (*Identity, error) {
	entries, err := splitProcessors(data)
	if err != nil {
		return nil, err
	}

	boot := entries[0]
	id := &Identity{}

	vendor, err := parseRegex(boot, vendorIDKey)
	if err != nil {
		return nil, err
	}
	if id.Vendor, err = VendorFromString(vendor); err != nil {
		return nil, err
	}

	family, err := parseIntegerResult(boot, cpuFamilyKey)
	if err != nil {
		return nil, err
	}
	model, err := parseIntegerResult(boot, modelKey)
	if err != nil {
		return nil, err
	}
	stepping, err := parseIntegerResult(boot, steppingKey)
	if err != nil {
		return nil, err
	}
	id.Family, id.Model, id.Stepping = uint8(family), uint8(model), uint8(stepping)

	// Older kernels and some virtualised guests omit these; zero is the
	// most conservative value for each.
	if mc, err := parseIntegerResult(boot, microcodeKey); err == nil {
		id.Microcode = uint32(mc)
	}
	if lvl, err := parseIntegerResult(boot, cpuidLevelKey); err == nil {
		id.CPUIDLevel = uint32(lvl)
	}
	if sizes, err := parseRegex(boot, addressSizesKey); err == nil {
		if m := addressSizesRegex.FindStringSubmatch(sizes); m != nil {
			bits, _ := strconv.ParseUint(m[1], 10, 8)
			id.PhysAddrBits = uint(bits)
			// Address sizes come from leaf 0x80000008.
			id.ExtendedCPUIDLevel = 0x80000008
		}
	}
	if id.PhysAddrBits == 0 {
		id.PhysAddrBits = 36
	}

	siblings, errS := parseIntegerResult(boot, siblingsKey)
	cores, errC := parseIntegerResult(boot, cpuCoresKey)
	if errS == nil && errC == nil && cores > 0 && siblings >= cores {
		id.NumSiblings = uint(siblings / cores)
	} else {
		id.NumSiblings = 1
	}

	if flags, err := parseRegex(boot, flagsKey); err == nil {
		for _, name := range strings.Fields(flags) {
			f, ok := FeatureFromString(name)
			if !ok || f.IsSynthetic() {
				continue
			}
			id.Features.Add(f)
		}
	}
	if bugs, err := parseRegex(boot, bugsKey); err == nil {
		id.KernelBugs = strings.Fields(bugs)
	}

	id.APICIDs = make([]uint32, 0, len(entries))
	for i, e := range entries {
		apic, err := parseIntegerResult(e, apicIDKey)
		if err != nil {
			// Without topology information, fall back to the processor
			// number, which never reports a spurious sibling.
			apic = int64(i) * int64(id.NumSiblings)
		}
		id.APICIDs = append(id.APICIDs, uint32(apic))
	}
	return id, nil
}

// splitProcessors returns the per-processor entries of /proc/cpuinfo. Each
// processor entry starts with the processor key.
func splitProcessors(data string) ([]string, error) {
	r := buildRegex(processorKey)
	indices := r.FindAllStringIndex(data, -1)
	if len(indices) < 1 {
		return nil, fmt.Errorf("no cpus found for: %s", data)
	}

	// Add the ending index for last entry.
	indices = append(indices, []int{len(data), -1})

	entries := make([]string, 0, len(indices)-1)
	for i := 1; i < len(indices); i++ {
		entries = append(entries, data[indices[i-1][0]:indices[i][0]])
	}
	return entries, nil
}

// parseIntegerResult parses fields expecting an integer. Hexadecimal values
// (microcode) carry their 0x prefix.
func parseIntegerResult(data, key string) (int64, error) {
	result, err := parseRegex(data, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(result), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

// buildRegex builds a regex for parsing each CPU field.
func buildRegex(key string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?m)^%s\s*:\s*(.*)$`, regexp.QuoteMeta(key)))
}

// parseRegex parses data with key inserted into a standard regex template.
func parseRegex(data, key string) (string, error) {
	matches := buildRegex(key).FindStringSubmatch(data)
	if len(matches) < 2 {
		return "", fmt.Errorf("failed to match key %q", key)
	}
	return matches[1], nil
}
