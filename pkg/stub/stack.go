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
	"fmt"

	"gvisor.dev/rmstub/pkg/realmode"
)

// The scratch stack lives in low memory next to the stub and grows down. It
// stages arguments and results that real-mode code reads and writes through
// segment:offset pointers. Sizes are managed by callers: every PushStaged
// must be undone by a PopStaged of the same size.

// PushStaged reserves len(data) bytes on the scratch stack, copies data there
// and returns the new stack offset, which real-mode code uses as a pointer
// relative to the stack segment.
//
// With strict checking, running out of stack panics: overwriting whatever
// lies below the stack would corrupt memory on both sides of the boundary.
func (c *Controller) PushStaged(data []byte) uint16 {
	size := len(data)
	f := c.fields()
	if c.opts.StrictStack && int(f.Stack.Offset) <= size {
		panic(fmt.Sprintf("out of space in real-mode scratch stack: %d bytes requested at %v", size, f.Stack))
	}
	f.Stack.Offset -= uint16(size)
	c.env.Copier.CopyToReal(f.Stack, data)
	c.setFields(f)
	return f.Stack.Offset
}

// PopStaged releases size bytes from the scratch stack. If dst is non-nil,
// the released bytes are first copied into it.
func (c *Controller) PopStaged(dst []byte, size int) {
	f := c.fields()
	if dst != nil {
		c.env.Copier.CopyFromReal(dst[:size], f.Stack)
	}
	f.Stack.Offset += uint16(size)
	c.setFields(f)
}

// StackPointer returns the current scratch stack pointer.
func (c *Controller) StackPointer() realmode.SegOff {
	return c.fields().Stack
}

// SetStackPointer resets the scratch stack pointer.
func (c *Controller) SetStackPointer(so realmode.SegOff) {
	f := c.fields()
	f.Stack = so
	c.setFields(f)
}
