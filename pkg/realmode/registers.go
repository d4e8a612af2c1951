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

package realmode

import "fmt"

// SegmentRegisters holds the real-mode segment registers.
type SegmentRegisters struct {
	CS uint16
	SS uint16
	DS uint16
	ES uint16
	FS uint16
	GS uint16
}

// GeneralRegisters holds the 32-bit general purpose registers, in the order
// a pushal instruction leaves them on the stack.
type GeneralRegisters struct {
	EDI uint32
	ESI uint32
	EBP uint32
	ESP uint32
	EBX uint32
	EDX uint32
	ECX uint32
	EAX uint32
}

// Registers is the register snapshot handed across the mode boundary. The
// real-mode caller's registers are saved here on the way in and restored
// from here on the way out, so writes are visible to the caller.
type Registers struct {
	Segs  SegmentRegisters
	Regs  GeneralRegisters
	Flags uint32
}

// ESDI returns the far pointer held in ES:DI.
func (r *Registers) ESDI() SegOff {
	return SegOff{Segment: r.Segs.ES, Offset: uint16(r.Regs.EDI)}
}

// String implements fmt.Stringer.
func (r *Registers) String() string {
	return fmt.Sprintf("cs=%04x ss=%04x ds=%04x es=%04x fs=%04x gs=%04x "+
		"edi=%08x esi=%08x ebp=%08x esp=%08x ebx=%08x edx=%08x ecx=%08x eax=%08x flags=%08x",
		r.Segs.CS, r.Segs.SS, r.Segs.DS, r.Segs.ES, r.Segs.FS, r.Segs.GS,
		r.Regs.EDI, r.Regs.ESI, r.Regs.EBP, r.Regs.ESP, r.Regs.EBX, r.Regs.EDX, r.Regs.ECX, r.Regs.EAX,
		r.Flags)
}
