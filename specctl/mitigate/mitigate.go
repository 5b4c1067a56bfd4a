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

// Package mitigate parks sibling hyperthreads of a host that was booted with
// SMT disabled. Threads are shut down via
// /sys/devices/system/cpu/cpu{N}/online, and may be restored the same way.
package mitigate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"gvisor.dev/specctrl/pkg/cpuid"
	"gvisor.dev/specctrl/pkg/log"
)

// DefaultSysfs is the directory holding one cpu{N} entry per processor.
const DefaultSysfs = "/sys/devices/system/cpu"

// maxCPUs is the largest processor count Linux can be configured for.
const maxCPUs = 8192

// Thread is one logical processor.
type Thread struct {
	// Processor is the logical processor number.
	Processor int

	// APICID is the local APIC ID of the thread.
	APICID uint32

	// Core is the APIC ID with the thread bits cleared. Threads with the
	// same Core are hyperthread siblings.
	Core uint32
}

// String implements fmt.Stringer.String.
func (t Thread) String() string {
	return fmt.Sprintf("cpu%d (apic %#x, core %#x)", t.Processor, t.APICID, t.Core)
}

// ThreadSet holds every present thread, ordered by processor number.
type ThreadSet []Thread

// NewThreadSet builds the set of threads of id.
func NewThreadSet(id *cpuid.Identity) ThreadSet {
	mask := ^uint32(0)
	if id.NumSiblings > 1 {
		mask = ^uint32(id.NumSiblings - 1)
	}
	set := make(ThreadSet, 0, len(id.APICIDs))
	for i, apic := range id.APICIDs {
		set = append(set, Thread{Processor: i, APICID: apic, Core: apic & mask})
	}
	return set
}

// String implements fmt.Stringer.String.
func (s ThreadSet) String() string {
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = t.String()
	}
	return strings.Join(parts, "\n")
}

// split partitions s into the first thread of each core and the rest.
func (s ThreadSet) split() (remaining, shutdown []Thread) {
	first := make(map[uint32]Thread)
	for _, t := range s {
		if f, ok := first[t.Core]; !ok || t.APICID < f.APICID {
			first[t.Core] = t
		}
	}
	for _, t := range s {
		if first[t.Core] == t {
			remaining = append(remaining, t)
		} else {
			shutdown = append(shutdown, t)
		}
	}
	return remaining, shutdown
}

// ShutdownList returns the threads to park: every thread except the one with
// the lowest APIC ID of each core.
func (s ThreadSet) ShutdownList() []Thread {
	_, shutdown := s.split()
	return shutdown
}

// RemainingList returns the threads that stay online.
func (s ThreadSet) RemainingList() []Thread {
	remaining, _ := s.split()
	return remaining
}

// ParsePossible parses a processor list such as the content of
// /sys/devices/system/cpu/possible, e.g. "0-3,8,10-11".
func ParsePossible(data string) ([]int, error) {
	var cpus []int
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, fmt.Errorf("empty cpu list")
	}
	for _, r := range strings.Split(data, ",") {
		lo, hi, isRange := strings.Cut(r, "-")
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu list %q: %w", data, err)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("invalid cpu list %q: %w", data, err)
			}
		}
		if start < 0 || end < start {
			return nil, fmt.Errorf("invalid cpu range %q", r)
		}
		if end >= maxCPUs {
			return nil, fmt.Errorf("cpu range %q exceeds %d processors", r, maxCPUs)
		}
		for cpu := start; cpu <= end; cpu++ {
			cpus = append(cpus, cpu)
		}
	}
	sort.Ints(cpus)
	return cpus, nil
}

// Sysfs changes processor online state.
type Sysfs struct {
	// Root is the cpu directory, DefaultSysfs if empty.
	Root string

	// DryRun only logs the changes.
	DryRun bool
}

func (fs Sysfs) onlinePath(cpu int) string {
	root := fs.Root
	if root == "" {
		root = DefaultSysfs
	}
	return filepath.Join(root, fmt.Sprintf("cpu%d", cpu), "online")
}

func (fs Sysfs) setOnline(cpu int, online bool) error {
	val := "0"
	if online {
		val = "1"
	}
	path := fs.onlinePath(cpu)
	if fs.DryRun {
		log.Infof("[dry-run] write %q to %s", val, path)
		return nil
	}

	// The kernel returns EBUSY while another hotplug operation is in
	// flight, so retry for a few seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := backoff.WithContext(backoff.NewConstantBackOff(100*time.Millisecond), ctx)
	fn := func() error {
		err := writeOnline(path, val)
		if err != nil && !errors.Is(err, unix.EBUSY) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(fn, b)
}

func writeOnline(path, val string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(val); err != nil {
		return fmt.Errorf("writing %q to %s: %w", val, path, err)
	}
	return nil
}

// Lock takes an exclusive file lock so that concurrent invocations do not
// interleave their changes. It returns the function releasing the lock.
func Lock(path string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0711); err != nil {
		return nil, fmt.Errorf("error creating lock directory for %q: %w", path, err)
	}
	l := flock.NewFlock(path)
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("error acquiring lock on %q: %w", path, err)
	}
	return l.Unlock, nil
}

// Park takes every thread of ShutdownList offline and returns them.
func Park(set ThreadSet, fs Sysfs) ([]Thread, error) {
	threads := set.ShutdownList()
	for _, t := range threads {
		log.Infof("Disable thread: %s", t)
		if err := fs.setOnline(t.Processor, false); err != nil {
			return nil, fmt.Errorf("error disabling thread %s: %w", t, err)
		}
	}
	return threads, nil
}

// Unpark brings every processor in cpus online. Processor 0 usually cannot
// be taken offline and has no online file; it is skipped if so.
func Unpark(cpus []int, fs Sysfs) error {
	for _, cpu := range cpus {
		if cpu == 0 {
			if _, err := os.Stat(fs.onlinePath(cpu)); os.IsNotExist(err) {
				continue
			}
		}
		log.Infof("Enabling cpu%d", cpu)
		if err := fs.setOnline(cpu, true); err != nil {
			return fmt.Errorf("error enabling cpu%d: %w", cpu, err)
		}
	}
	return nil
}
