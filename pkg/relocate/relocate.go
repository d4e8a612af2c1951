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

// Package relocate moves the program to the top of usable memory and then
// runs the post-relocation hooks, which fix up anything that recorded a
// physical address of the program.
package relocate

import (
	"errors"
	"fmt"
	"sort"

	"gvisor.dev/rmstub/pkg/initfn"
	"gvisor.dev/rmstub/pkg/log"
	"gvisor.dev/rmstub/pkg/lowmem"
)

// ErrNoFit is returned when no usable range can hold the program.
var ErrNoFit = errors.New("no usable memory range fits the program")

// Range is a range of usable physical memory [Start, End).
type Range struct {
	Start uint64 `toml:"start" yaml:"start"`
	End   uint64 `toml:"end" yaml:"end"`
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("[%#x,%#x)", r.Start, r.End)
}

// Relocator moves a program whose addresses are translated by Translator.
type Relocator struct {
	// Translator is the program's translator. Relocation changes its
	// offset.
	Translator *lowmem.OffsetTranslator

	// Registry holds the post-relocation hooks.
	Registry *initfn.Registry

	// Size is the size of the program in bytes.
	Size uint32

	// Align is the required alignment of the program's physical address.
	// It must be a power of two; zero means 4KiB.
	Align uint32

	// Limit is one past the highest physical address the program may
	// occupy. Zero means 4GiB.
	Limit uint64
}

func (r *Relocator) align() uint64 {
	if r.Align == 0 {
		return 4096
	}
	return uint64(r.Align)
}

func (r *Relocator) limit() uint64 {
	if r.Limit == 0 {
		return 1 << 32
	}
	return r.Limit
}

// Choose returns the highest suitably aligned physical address at which the
// program fits inside one of memmap's ranges.
func (r *Relocator) Choose(memmap []Range) (uint32, error) {
	ranges := append([]Range(nil), memmap...)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].End > ranges[j].End })

	align := r.align()
	size := uint64(r.Size)
	for _, rng := range ranges {
		end := min(rng.End, r.limit())
		if end < rng.Start+size || end < size {
			continue
		}
		start := (end - size) &^ (align - 1)
		if start < rng.Start {
			continue
		}
		return uint32(start), nil
	}
	return 0, fmt.Errorf("relocating %#x bytes below %#x: %w", r.Size, r.limit(), ErrNoFit)
}

// Relocate moves the program to the address chosen from memmap, unless that
// is not above where it already is, and then runs the post-relocation
// hooks. It returns the program's physical address afterwards.
func (r *Relocator) Relocate(memmap []Range) (uint32, error) {
	old := r.Translator.Offset()
	target, err := r.Choose(memmap)
	if err != nil {
		return old, err
	}
	if target > old {
		log.Infof("Relocating from %#x to %#x", old, target)
		r.Translator.SetOffset(target)
	} else {
		log.Debugf("Not relocating: %#x is not above %#x", target, old)
	}
	if err := r.Registry.PostReloc(); err != nil {
		return r.Translator.Offset(), fmt.Errorf("after relocation to %#x: %w", r.Translator.Offset(), err)
	}
	return r.Translator.Offset(), nil
}
