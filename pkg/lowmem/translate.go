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
	"fmt"

	"gvisor.dev/rmstub/pkg/realmode"
)

// Virt is a protected-mode virtual address within the program.
type Virt uint32

// String implements fmt.Stringer.
func (v Virt) String() string {
	return fmt.Sprintf("%#x", uint32(v))
}

// Translator converts between physical and program virtual addresses. The
// conversion is exact in both directions.
type Translator interface {
	PhysToVirt(addr realmode.Addr) Virt
	VirtToPhys(addr Virt) realmode.Addr
}

// OffsetTranslator is a flat segmentation model: every virtual address is
// the physical address minus a fixed offset. Relocating the program changes
// the offset; arithmetic wraps at 4GiB as it does for 32-bit segments.
type OffsetTranslator struct {
	offset uint32
}

// NewOffsetTranslator returns a translator where virtual address 0 is
// physical address offset.
func NewOffsetTranslator(offset uint32) *OffsetTranslator {
	return &OffsetTranslator{offset: offset}
}

// Offset returns the physical address of virtual address 0.
func (t *OffsetTranslator) Offset() uint32 {
	return t.offset
}

// SetOffset changes the physical address of virtual address 0.
func (t *OffsetTranslator) SetOffset(offset uint32) {
	t.offset = offset
}

// PhysToVirt implements Translator.PhysToVirt.
func (t *OffsetTranslator) PhysToVirt(addr realmode.Addr) Virt {
	return Virt(uint32(addr) - t.offset)
}

// VirtToPhys implements Translator.VirtToPhys.
func (t *OffsetTranslator) VirtToPhys(addr Virt) realmode.Addr {
	return realmode.Addr(uint32(addr) + t.offset)
}
