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

package lowmem

import (
	"errors"
	"fmt"

	"github.com/google/btree"
	"gvisor.dev/rmstub/pkg/log"
	"gvisor.dev/rmstub/pkg/realmode"
)

// ErrNoMemory is returned when no free range of base memory is large enough.
var ErrNoMemory = errors.New("out of base memory")

const (
	// BlockSize is the allocation granularity of base memory. The BIOS
	// accounts for base memory in KiB.
	BlockSize = 1024

	// FreeBaseMemoryAddr is the physical address of the BIOS data area word
	// holding the amount of free base memory, in KiB.
	FreeBaseMemoryAddr realmode.Addr = 0x413
)

// Allocator hands out regions of low memory reachable from real mode.
type Allocator interface {
	// Alloc returns the physical address of a region of at least size
	// bytes, or an error wrapping ErrNoMemory.
	Alloc(size uint32) (realmode.Addr, error)

	// Free releases a region previously returned by Alloc with the same
	// size. The contents are left in place.
	Free(addr realmode.Addr, size uint32)
}

// span is a free range [start, end).
type span struct {
	start, end realmode.Addr
}

func (s span) length() uint32 {
	return uint32(s.end - s.start)
}

func spanLess(a, b span) bool {
	return a.start < b.start
}

// BaseAllocator allocates base memory from the top down, the way option ROMs
// and boot loaders carve memory out of the top of the first 640KiB.
//
// When built with a Memory, it keeps the BIOS free base memory counter at
// FreeBaseMemoryAddr in step with the lowest allocation, so that later
// stages see the memory as used.
type BaseAllocator struct {
	mem   *Memory
	floor realmode.Addr
	ceil  realmode.Addr
	free  *btree.BTreeG[span]
}

// NewBaseAllocator returns an allocator managing [floor, ceil). Both bounds
// are rounded inwards to BlockSize. mem may be nil.
func NewBaseAllocator(mem *Memory, floor, ceil realmode.Addr) *BaseAllocator {
	floor = roundUp(floor)
	ceil = ceil &^ (BlockSize - 1)
	if ceil <= floor {
		panic(fmt.Sprintf("empty base memory range [%v,%v)", floor, ceil))
	}
	a := &BaseAllocator{
		mem:   mem,
		floor: floor,
		ceil:  ceil,
		free:  btree.NewG(2, spanLess),
	}
	a.free.ReplaceOrInsert(span{start: floor, end: ceil})
	a.updateBDA()
	return a
}

func roundUp(addr realmode.Addr) realmode.Addr {
	return (addr + BlockSize - 1) &^ (BlockSize - 1)
}

// Alloc implements Allocator.Alloc.
func (a *BaseAllocator) Alloc(size uint32) (realmode.Addr, error) {
	if size == 0 {
		return 0, fmt.Errorf("allocating zero bytes of base memory")
	}
	want := uint32(roundUp(realmode.Addr(size)))

	var found *span
	a.free.Descend(func(s span) bool {
		if s.length() >= want {
			found = &s
			return false
		}
		return true
	})
	if found == nil {
		return 0, fmt.Errorf("allocating %d bytes: %w", size, ErrNoMemory)
	}

	addr := found.end - realmode.Addr(want)
	if addr == found.start {
		a.free.Delete(*found)
	} else {
		a.free.ReplaceOrInsert(span{start: found.start, end: addr})
	}
	a.updateBDA()
	log.Debugf("Allocated base memory [%v,%v)", addr, addr+realmode.Addr(want))
	return addr, nil
}

// Free implements Allocator.Free.
//
// Freeing a range that is not wholly allocated is a caller bug and panics.
func (a *BaseAllocator) Free(addr realmode.Addr, size uint32) {
	s := span{start: addr, end: addr + realmode.Addr(roundUp(realmode.Addr(size)))}
	if s.start < a.floor || s.end > a.ceil || s.start&(BlockSize-1) != 0 {
		panic(fmt.Sprintf("freeing [%v,%v) outside base memory [%v,%v)", s.start, s.end, a.floor, a.ceil))
	}

	var prev, next *span
	a.free.DescendLessOrEqual(s, func(p span) bool {
		prev = &p
		return false
	})
	a.free.AscendGreaterOrEqual(s, func(n span) bool {
		next = &n
		return false
	})
	if (prev != nil && prev.end > s.start) || (next != nil && next.start < s.end) {
		panic(fmt.Sprintf("freeing [%v,%v) which is already free", s.start, s.end))
	}

	if prev != nil && prev.end == s.start {
		a.free.Delete(*prev)
		s.start = prev.start
	}
	if next != nil && next.start == s.end {
		a.free.Delete(*next)
		s.end = next.end
	}
	a.free.ReplaceOrInsert(s)
	a.updateBDA()
	log.Debugf("Freed base memory [%v,%v)", addr, addr+realmode.Addr(roundUp(realmode.Addr(size))))
}

// FreeBytes returns the total free base memory.
func (a *BaseAllocator) FreeBytes() uint32 {
	var total uint32
	a.free.Ascend(func(s span) bool {
		total += s.length()
		return true
	})
	return total
}

// Top returns the end of the free range starting at the floor, i.e. the
// lowest allocated address, or the floor if the floor itself is allocated.
func (a *BaseAllocator) Top() realmode.Addr {
	if first, ok := a.free.Min(); ok && first.start == a.floor {
		return first.end
	}
	return a.floor
}

func (a *BaseAllocator) updateBDA() {
	if a.mem == nil {
		return
	}
	a.mem.PutUint16(FreeBaseMemoryAddr, uint16(a.Top()/BlockSize))
}
