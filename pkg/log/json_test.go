// Copyright 2018 The gVisor Authors.
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
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLevelJSON(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Level
	}{
		{`"warning"`, Warning},
		{`"info"`, Info},
		{`"debug"`, Debug},
		{"0", Warning},
		{"1", Info},
		{"2", Debug},
	} {
		var got Level
		if err := json.Unmarshal([]byte(tc.in), &got); err != nil {
			t.Errorf("Unmarshal(%s): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tc.in, got, tc.want)
		}
		// Names round trip; integers come back as names.
		b, err := json.Marshal(got)
		if err != nil {
			t.Errorf("Marshal(%v): %v", got, err)
			continue
		}
		var again Level
		if err := json.Unmarshal(b, &again); err != nil || again != got {
			t.Errorf("round trip of %v gave %v, %v", got, again, err)
		}
	}
}

func TestLevelJSONErrors(t *testing.T) {
	if _, err := json.Marshal(Level(7)); err == nil {
		t.Errorf("Marshal(Level(7)) succeeded")
	}
	var l Level
	if err := json.Unmarshal([]byte(`"fatal"`), &l); err == nil {
		t.Errorf("Unmarshal(fatal) succeeded")
	}
}

func TestJSONEmitters(t *testing.T) {
	ts := time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)
	for _, tc := range []struct {
		name    string
		emitter func(*Writer) Emitter
		msgKey  string
	}{
		{"json", func(w *Writer) Emitter { return JSONEmitter{w} }, "msg"},
		{"json-k8s", func(w *Writer) Emitter { return K8sJSONEmitter{w} }, "log"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tw := &testWriter{}
			tc.emitter(&Writer{Next: tw}).Emit(0, Info, ts, "cpu%d ready", 3)
			if len(tw.lines) != 1 {
				t.Fatalf("got %d writes, want 1: %q", len(tw.lines), tw.lines)
			}
			var got map[string]string
			if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
				t.Fatalf("decoding %q: %v", tw.lines[0], err)
			}
			if !strings.HasPrefix(got[tc.msgKey], "json_test.go:") || !strings.HasSuffix(got[tc.msgKey], "] cpu3 ready") {
				t.Errorf("%s = %q", tc.msgKey, got[tc.msgKey])
			}
			delete(got, tc.msgKey)
			want := map[string]string{"level": "info", "time": "2026-03-04T05:06:07Z"}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
