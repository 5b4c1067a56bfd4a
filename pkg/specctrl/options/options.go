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

// Package options holds the administrator's speculative-execution mitigation
// directives and parses them from boot command line parameters.
//
// Every knob starts out unset, leaving the choice to the policy resolver.
// Directives are applied strictly left to right; the last assignment to a
// knob wins, whether it came from a single token, a group token, or a
// cascading disable.
package options

import (
	"fmt"
	"strings"
)

// Tristate is a knob that is either unset or explicitly false or true.
type Tristate uint8

const (
	// Unset leaves the knob to the resolver's default.
	Unset Tristate = iota
	// False is an explicit disable.
	False
	// True is an explicit enable.
	True
)

// TristateOf returns the explicit Tristate for b.
func TristateOf(b bool) Tristate {
	if b {
		return True
	}
	return False
}

// IsSet returns true if the knob was explicitly given.
func (t Tristate) IsSet() bool {
	return t != Unset
}

// Or returns the explicit value, or def if unset.
func (t Tristate) Or(def bool) bool {
	switch t {
	case True:
		return true
	case False:
		return false
	default:
		return def
	}
}

// String implements fmt.Stringer.String.
func (t Tristate) String() string {
	switch t {
	case Unset:
		return "unset"
	case False:
		return "false"
	case True:
		return "true"
	default:
		return fmt.Sprintf("Tristate(%d)", uint8(t))
	}
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (t Tristate) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Thunk is the kind of indirect branch thunk.
type Thunk uint8

// Thunk kinds.
const (
	// ThunkDefault defers the choice to the resolver.
	ThunkDefault Thunk = iota
	// ThunkNone means thunks are not compiled in.
	ThunkNone
	ThunkRetpoline
	ThunkLFence
	ThunkJmp
)

var thunkNames = map[Thunk]string{
	ThunkDefault:   "default",
	ThunkNone:      "none",
	ThunkRetpoline: "retpoline",
	ThunkLFence:    "lfence",
	ThunkJmp:       "jmp",
}

// String implements fmt.Stringer.String.
func (t Thunk) String() string {
	if s, ok := thunkNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Thunk(%d)", uint8(t))
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (t Thunk) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// parseThunk accepts the thunks an administrator may request.
func parseThunk(s string) (Thunk, bool) {
	switch s {
	case "retpoline":
		return ThunkRetpoline, true
	case "lfence":
		return ThunkLFence, true
	case "jmp":
		return ThunkJmp, true
	}
	return ThunkDefault, false
}

// Scope is a mask of guest classes.
type Scope uint8

// Guest classes.
const (
	ScopeDom0 Scope = 1 << 0
	ScopeDomU Scope = 1 << 1

	ScopeNone Scope = 0
	ScopeAll        = ScopeDom0 | ScopeDomU
)

// String implements fmt.Stringer.String.
func (s Scope) String() string {
	var parts []string
	if s&ScopeDom0 != 0 {
		parts = append(parts, "dom0")
	}
	if s&ScopeDomU != 0 {
		parts = append(parts, "domu")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ScopeOption is a scope knob: either the default sentinel or an explicit
// mask. The zero value is the default sentinel.
type ScopeOption struct {
	Explicit bool
	Mask     Scope
}

// ExplicitScope returns an explicit scope option.
func ExplicitScope(m Scope) ScopeOption {
	return ScopeOption{Explicit: true, Mask: m}
}

// IsDefault returns true if no explicit choice is in effect.
func (o ScopeOption) IsDefault() bool {
	return !o.Explicit
}

// Or returns the explicit mask, or def for the default sentinel.
func (o ScopeOption) Or(def Scope) Scope {
	if o.Explicit {
		return o.Mask
	}
	return def
}

// with returns o with bit set or cleared. An option still at the default
// sentinel starts from the empty mask.
func (o ScopeOption) with(bit Scope, on bool) ScopeOption {
	m := o.Or(ScopeNone)
	if on {
		m |= bit
	} else {
		m &^= bit
	}
	return ExplicitScope(m)
}

// String implements fmt.Stringer.String.
func (o ScopeOption) String() string {
	if !o.Explicit {
		return "default"
	}
	return o.Mask.String()
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (o ScopeOption) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Options is the full set of administrator directives. The zero value has
// every knob unset.
type Options struct {
	// MSR_SPEC_CTRL virtualisation per guest class.
	MSRSCPV  Tristate
	MSRSCHVM Tristate

	// RSB overwriting on entry per guest class.
	RSBPV  Tristate
	RSBHVM Tristate

	// VERW buffer clearing per guest class.
	MDClearPV  Tristate
	MDClearHVM Tristate

	IBRS     Tristate
	IBPB     Tristate
	SSBD     Tristate
	EagerFPU Tristate
	L1DFlush Tristate

	// SMT is the administrator's hyperthreading choice. The engine only
	// checks whether one was made.
	SMT Tristate

	Thunk Thunk

	XPTI   ScopeOption
	PVL1TF ScopeOption
}

// disableCommon is the part of the global disable shared by "no-xen".
func (o *Options) disableCommon() {
	o.RSBPV = False
	o.RSBHVM = False
	o.MDClearPV = False
	o.MDClearHVM = False

	o.Thunk = ThunkJmp
	o.IBRS = False
	o.IBPB = False
	o.SSBD = False
	o.L1DFlush = False
}

// disableAll is the global disable.
func (o *Options) disableAll() {
	o.MSRSCPV = False
	o.MSRSCHVM = False

	o.EagerFPU = False

	if o.XPTI.IsDefault() {
		o.XPTI = ExplicitScope(ScopeNone)
	}
	if !o.SMT.IsSet() {
		o.SMT = True
	}
	if o.PVL1TF.IsDefault() {
		o.PVL1TF = ExplicitScope(ScopeNone)
	}

	o.disableCommon()
}
