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

package msr

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// DefaultDevicePattern is the path of the Linux msr driver node, with the
// processor index as its only verb.
const DefaultDevicePattern = "/dev/cpu/%d/msr"

// Device accesses registers through the Linux msr driver. The register
// index is the file offset of an 8 byte read or write.
type Device struct {
	// Pattern is the device path, formatted with the processor index.
	Pattern string
}

// NewDevice returns a Device using pattern, or DefaultDevicePattern if empty.
func NewDevice(pattern string) *Device {
	if pattern == "" {
		pattern = DefaultDevicePattern
	}
	return &Device{Pattern: pattern}
}

func (d *Device) open(cpu int, flags int) (int, error) {
	path := fmt.Sprintf(d.Pattern, cpu)
	fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("opening %s: %w", path, err)
	}
	return fd, nil
}

// Read implements Accessor.Read.
func (d *Device) Read(cpu int, index uint32) (uint64, error) {
	fd, err := d.open(cpu, unix.O_RDONLY)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)

	var buf [8]byte
	n, err := unix.Pread(fd, buf[:], int64(index))
	switch {
	case err == unix.EIO:
		// The driver reports a faulting RDMSR as EIO.
		return 0, fmt.Errorf("reading %s on cpu %d: %w", Name(index), cpu, ErrNotFound)
	case err != nil:
		return 0, fmt.Errorf("reading %s on cpu %d: %w", Name(index), cpu, err)
	case n != len(buf):
		return 0, fmt.Errorf("reading %s on cpu %d: short read of %d bytes", Name(index), cpu, n)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Write implements Accessor.Write.
func (d *Device) Write(cpu int, index uint32, val uint64) error {
	fd, err := d.open(cpu, unix.O_WRONLY)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	n, err := unix.Pwrite(fd, buf[:], int64(index))
	if err != nil {
		return fmt.Errorf("writing %#x to %s on cpu %d: %w", val, Name(index), cpu, err)
	}
	if n != len(buf) {
		return fmt.Errorf("writing %#x to %s on cpu %d: short write of %d bytes", val, Name(index), cpu, n)
	}
	return nil
}
