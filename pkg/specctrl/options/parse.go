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
	"errors"
	"fmt"
	"strings"
)

// ErrSyntax is wrapped by every directive parse error.
var ErrSyntax = errors.New("invalid directive")

// SyntaxError reports the first token of a directive that could not be
// applied. Tokens before it remain applied; tokens after it are ignored.
type SyntaxError struct {
	// Param is the parameter name, e.g. "spec-ctrl".
	Param string

	// Token is the offending token.
	Token string
}

// Error implements error.Error.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: %v %q", e.Param, ErrSyntax, e.Token)
}

// Unwrap returns ErrSyntax.
func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

// ParseBool parses a boolean word. The second result is false if s is not
// a boolean.
func ParseBool(s string) (bool, bool) {
	switch s {
	case "1", "on", "yes", "true", "enable":
		return true, true
	case "0", "no", "off", "false", "disable":
		return false, true
	}
	return false, false
}

// parseBoolean matches a named boolean token: "name", "no-name" or
// "name=<bool>".
func parseBoolean(name, tok string) (val bool, matched bool) {
	if tok == name {
		return true, true
	}
	if n, ok := strings.CutPrefix(tok, "no-"); ok && n == name {
		return false, true
	}
	if v, ok := strings.CutPrefix(tok, name+"="); ok {
		return ParseBool(v)
	}
	return false, false
}

// forEachToken calls fn for each comma separated token of s, stopping at
// the first token fn rejects.
func forEachToken(param, s string, fn func(tok string) bool) error {
	for _, tok := range strings.Split(s, ",") {
		if !fn(tok) {
			return &SyntaxError{Param: param, Token: tok}
		}
	}
	return nil
}

// booleanToken is a named boolean token and the knobs it sets.
type booleanToken struct {
	name string
	set  func(o *Options, v Tristate)
}

var btiBooleans = []booleanToken{
	{"ibrs", func(o *Options, v Tristate) { o.IBRS = v }},
	{"ibpb", func(o *Options, v Tristate) { o.IBPB = v }},
	{"rsb_native", func(o *Options, v Tristate) { o.RSBPV = v }},
	{"rsb_vmexit", func(o *Options, v Tristate) { o.RSBHVM = v }},
}

// specCtrlBooleans are tried in order. The group tokens come first.
var specCtrlBooleans = []booleanToken{
	{"pv", func(o *Options, v Tristate) { o.MSRSCPV, o.RSBPV, o.MDClearPV = v, v, v }},
	{"hvm", func(o *Options, v Tristate) { o.MSRSCHVM, o.RSBHVM, o.MDClearHVM = v, v, v }},
	{"msr-sc", func(o *Options, v Tristate) { o.MSRSCPV, o.MSRSCHVM = v, v }},
	{"rsb", func(o *Options, v Tristate) { o.RSBPV, o.RSBHVM = v, v }},
	{"md-clear", func(o *Options, v Tristate) { o.MDClearPV, o.MDClearHVM = v, v }},
	{"mds", func(o *Options, v Tristate) { o.MDClearPV, o.MDClearHVM = v, v }},
	{"ibrs", func(o *Options, v Tristate) { o.IBRS = v }},
	{"ibpb", func(o *Options, v Tristate) { o.IBPB = v }},
	{"ssbd", func(o *Options, v Tristate) { o.SSBD = v }},
	{"eager-fpu", func(o *Options, v Tristate) { o.EagerFPU = v }},
	{"l1d-flush", func(o *Options, v Tristate) { o.L1DFlush = v }},
}

// ParseBTI applies a "bti=" directive.
func (o *Options) ParseBTI(s string) error {
	return forEachToken("bti", s, func(tok string) bool {
		if v, ok := strings.CutPrefix(tok, "thunk="); ok {
			t, ok := parseThunk(v)
			if ok {
				o.Thunk = t
			}
			return ok
		}
		for _, b := range btiBooleans {
			if v, ok := parseBoolean(b.name, tok); ok {
				b.set(o, TristateOf(v))
				return true
			}
		}
		return false
	})
}

// ParseSpecCtrl applies a "spec-ctrl=" directive.
func (o *Options) ParseSpecCtrl(s string) error {
	return forEachToken("spec-ctrl", s, func(tok string) bool {
		if v, ok := ParseBool(tok); ok {
			// Only the global disable is meaningful.
			if v {
				return false
			}
			o.disableAll()
			return true
		}
		if v, ok := parseBoolean("xen", tok); ok {
			if v {
				return false
			}
			o.disableCommon()
			return true
		}
		if v, ok := strings.CutPrefix(tok, "bti-thunk="); ok {
			t, ok := parseThunk(v)
			if ok {
				o.Thunk = t
			}
			return ok
		}

		for _, b := range specCtrlBooleans {
			if v, ok := parseBoolean(b.name, tok); ok {
				b.set(o, TristateOf(v))
				return true
			}
		}
		return false
	})
}

// parseScope applies a scope directive to opt. The default token is only
// accepted if allowDefault is set.
func parseScope(param, s string, opt *ScopeOption, allowDefault bool) error {
	// An explicit directive inhibits the default.
	if opt.IsDefault() {
		*opt = ExplicitScope(ScopeNone)
	}
	// The parameter alone is its positive boolean form.
	if s == "" {
		*opt = ExplicitScope(ScopeAll)
		return nil
	}
	return forEachToken(param, s, func(tok string) bool {
		if v, ok := ParseBool(tok); ok {
			if v {
				*opt = ExplicitScope(ScopeAll)
			} else {
				*opt = ExplicitScope(ScopeNone)
			}
			return true
		}
		if allowDefault && tok == "default" {
			*opt = ScopeOption{}
			return true
		}
		if v, ok := parseBoolean("dom0", tok); ok {
			*opt = opt.with(ScopeDom0, v)
		} else if v, ok := parseBoolean("domu", tok); ok {
			*opt = opt.with(ScopeDomU, v)
		} else {
			return false
		}
		return true
	})
}

// ParseXPTI applies an "xpti=" directive.
func (o *Options) ParseXPTI(s string) error {
	return parseScope("xpti", s, &o.XPTI, true)
}

// ParsePVL1TF applies a "pv-l1tf=" directive.
func (o *Options) ParsePVL1TF(s string) error {
	return parseScope("pv-l1tf", s, &o.PVL1TF, false)
}

// ParseSMT applies an "smt=" directive. The parameter alone means true.
func (o *Options) ParseSMT(s string) error {
	if s == "" {
		o.SMT = True
		return nil
	}
	v, ok := ParseBool(s)
	if !ok {
		return &SyntaxError{Param: "smt", Token: s}
	}
	o.SMT = TristateOf(v)
	return nil
}
