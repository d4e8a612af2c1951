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

//go:build linux
// +build linux

package lowmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NewMapped returns zeroed memory of the given size backed by an anonymous
// private mapping, the same way guest physical memory is backed on a real
// virtual machine monitor. Callers must Close it.
func NewMapped(size uint32) (*Memory, error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mapping %#x bytes of physical memory: %w", size, err)
	}
	return &Memory{
		data: data,
		unmap: func() error {
			return unix.Munmap(data)
		},
	}, nil
}
