// Copyright 2018 Google LLC
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

package log

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// GoogleEmitter emits logs in the format of github.com/golang/glog:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// where L is the level (W, I or D) and pid is right aligned in seven columns.
type GoogleEmitter struct {
	*Writer
}

const glogTimeLayout = "0102 15:04:05.000000"

var glogLevels = [...]byte{Warning: 'W', Info: 'I', Debug: 'D'}

var glogPID = fmt.Sprintf("%7d", os.Getpid())

// caller returns the base name and line of the caller depth frames above
// its own caller.
func caller(depth int) (string, int, bool) {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "???", 0, false
	}
	if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
		file = file[slash+1:]
	}
	return file, line, true
}

// glogHeader appends the header of a line logged from depth to b.
func glogHeader(b []byte, depth int, level Level, timestamp time.Time) []byte {
	c := byte('?')
	if int(level) < len(glogLevels) {
		c = glogLevels[level]
	}
	b = append(b, c)
	b = timestamp.AppendFormat(b, glogTimeLayout)
	b = append(b, ' ')
	b = append(b, glogPID...)
	b = append(b, ' ')
	file, line, _ := caller(depth + 1)
	b = append(b, file...)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(line), 10)
	return append(b, "] "...)
}

// Emit implements Emitter.Emit.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	b := make([]byte, 0, 64+len(format))
	b = glogHeader(b, depth+1, level, timestamp)
	// File names never carry verbs, so the header can lead the format.
	b = append(b, format...)
	b = append(b, '\n')
	g.Writer.Emit(depth+1, level, timestamp, string(b), args...)
}
