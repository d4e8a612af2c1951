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

package stub

import (
	"encoding/binary"
	"fmt"

	"gvisor.dev/rmstub/pkg/log"
	"gvisor.dev/rmstub/pkg/lowmem"
	"gvisor.dev/rmstub/pkg/realmode"
)

// Install copies the master image to target, records target's physical
// address as the base real mode uses, and makes target the current location.
// Whatever was at target is overwritten; the caller must own that memory.
//
// The allocated flag is left as it was.
func (c *Controller) Install(target lowmem.Virt) {
	phys := c.env.Translator.VirtToPhys(target)
	if !phys.Aligned() || !phys.Reachable(c.image.Size()) {
		panic(fmt.Sprintf("stub cannot be installed at %v: must be paragraph aligned and reachable from real mode", phys))
	}
	c.base = phys
	c.env.Memory.Write(phys, c.image.data)
	c.tracker.MarkInstalled(target, c.tracker.Allocated())
	log.Debugf("Installed stub at %v (%v), %d bytes", phys, target, c.image.Size())
}

// Uninstall copies the current copy back into the master image, preserving
// its fields for a later Install, and frees the copy's memory if it was
// allocated.
//
// The freed memory is not cleared, and the current location keeps pointing at
// it. A real-mode call that entered through the old copy and has not yet
// returned still runs from it; the copy stays intact until the memory is
// reused, which cannot happen before the next allocation.
func (c *Controller) Uninstall() {
	if !c.tracker.Installed() {
		return
	}
	phys := c.env.Translator.VirtToPhys(c.tracker.Location())
	c.env.Memory.Read(phys, c.image.data)
	if c.tracker.Allocated() {
		c.env.Allocator.Free(phys, c.image.Size())
		c.tracker.MarkInstalled(c.tracker.Location(), false)
		log.Debugf("Freed stub memory at %v", phys)
	}
	log.Debugf("Uninstalled stub from %v, fields %+v", phys, c.image.Fields())
}

// fieldAddr returns the physical address of the field at off in the current
// copy.
func (c *Controller) fieldAddr(off uint32) realmode.Addr {
	return c.env.Translator.VirtToPhys(c.tracker.Location()) + realmode.Addr(off)
}

func (c *Controller) readField(off uint32) uint16 {
	var b [fieldSize]byte
	c.env.Memory.Read(c.fieldAddr(off), b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func (c *Controller) writeField(off uint32, v uint16) {
	var b [fieldSize]byte
	binary.LittleEndian.PutUint16(b[:], v)
	c.env.Memory.Write(c.fieldAddr(off), b[:])
}

// fields returns the live fields: those of the current copy, or of the master
// image if nothing was ever installed.
func (c *Controller) fields() Fields {
	if !c.tracker.Installed() {
		return c.image.Fields()
	}
	l := c.image.layout
	return Fields{
		Stack: realmode.SegOff{
			Segment: c.readField(l.StackSegment),
			Offset:  c.readField(l.StackOffset),
		},
		RefCount: c.readField(l.RefCount),
	}
}

// setFields updates the live fields.
func (c *Controller) setFields(f Fields) {
	if !c.tracker.Installed() {
		c.image.SetFields(f)
		return
	}
	l := c.image.layout
	c.writeField(l.StackSegment, f.Stack.Segment)
	c.writeField(l.StackOffset, f.Stack.Offset)
	c.writeField(l.RefCount, f.RefCount)
}
