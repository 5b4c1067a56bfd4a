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

// Package msr provides access to x86 model specific registers.
//
// Accessors are addressed by logical processor index. The device accessor
// goes through the Linux msr driver; the static and recording accessors
// stand in for hardware in dry runs and tests.
package msr

import (
	"errors"
	"fmt"
)

// Register indices.
const (
	CoreThreadCount  uint32 = 0x35
	SpecCtrl         uint32 = 0x48
	PredCmd          uint32 = 0x49
	ArchCapabilities uint32 = 0x10a
	FlushCmd         uint32 = 0x10b
	AMD64DECfg       uint32 = 0xc0011029
)

// AMD64DECfgLFenceSerialise is set in AMD64DECfg when LFENCE is dispatch
// serialising.
const AMD64DECfgLFenceSerialise = 1 << 1

var names = map[uint32]string{
	CoreThreadCount:  "MSR_INTEL_CORE_THREAD_COUNT",
	SpecCtrl:         "MSR_SPEC_CTRL",
	PredCmd:          "MSR_PRED_CMD",
	ArchCapabilities: "MSR_ARCH_CAPABILITIES",
	FlushCmd:         "MSR_FLUSH_CMD",
	AMD64DECfg:       "MSR_AMD64_DE_CFG",
}

// Name returns the symbolic name of the register, or its index in hex.
func Name(index uint32) string {
	if n, ok := names[index]; ok {
		return n
	}
	return fmt.Sprintf("MSR %#x", index)
}

// ErrNotFound is returned when a register does not exist or cannot be read.
var ErrNotFound = errors.New("msr not present")

// Accessor reads and writes model specific registers.
type Accessor interface {
	// Read returns the value of register index on the given processor.
	Read(cpu int, index uint32) (uint64, error)

	// Write sets register index on the given processor.
	Write(cpu int, index uint32, val uint64) error
}
