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

// Package util groups helpers shared by specctl commands.
package util

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/specctrl/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by scripts driving specctl, in addition to the debug log.
var ErrorLogger io.Writer = os.Stderr

// Output is where command results are written.
var Output io.Writer = os.Stdout

// jsonError is the format of errors written to ErrorLogger.
type jsonError struct {
	Msg   string    `json:"msg"`
	Level string    `json:"level"`
	Time  time.Time `json:"time"`
}

// Errorf logs error to the debug log and to ErrorLogger. It returns
// subcommands.ExitFailure for convenience with subcommand.Execute() methods:
//
//	return Errorf("Danger! Danger!")
func Errorf(format string, args ...any) subcommands.ExitStatus {
	log.Warningf(format, args...)
	writeError(format, args...)
	return subcommands.ExitFailure
}

// Fatalf logs the same way as Errorf() does, plus *exits* the process.
func Fatalf(format string, args ...any) {
	log.Warningf("FATAL ERROR: "+format, args...)
	writeError(format, args...)
	// Return an error that is unlikely to be used by the application.
	os.Exit(128)
}

func writeError(format string, args ...any) {
	if ErrorLogger == nil {
		return
	}
	if ErrorLogger == os.Stderr {
		fmt.Fprintf(ErrorLogger, format+"\n", args...)
		return
	}
	msg := fmt.Sprintf(format, args...)
	if err := json.NewEncoder(ErrorLogger).Encode(jsonError{Msg: msg, Level: "error", Time: time.Now()}); err != nil {
		fmt.Fprintf(os.Stderr, "error writing to log: %q, error: %v\n", msg, err)
	}
}

// Outf writes a line of command output.
func Outf(format string, args ...any) {
	fmt.Fprintf(Output, format+"\n", args...)
}

// OutJSON writes v as indented JSON.
func OutJSON(v any) error {
	enc := json.NewEncoder(Output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
