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
	"math"

	"gvisor.dev/rmstub/pkg/log"
	"gvisor.dev/rmstub/pkg/realmode"
)

// RecordBase records the physical address real mode used to enter through
// the stub. It is called by the mode transition path on the way in, before
// EnsureInstalled, when the program was started from an already resident
// stub.
func (c *Controller) RecordBase(addr realmode.Addr) {
	c.base = addr
}

// Base returns the recorded physical base, or zero if unset.
func (c *Controller) Base() realmode.Addr {
	return c.base
}

// Enter is the protected-mode side of an entry from real mode. The first
// call in an activation runs initialise, which may relocate the program and
// move the stub. Every call then points ES at the stub's current base; DI
// already holds the entry point offset set up by the real-mode side, so the
// caller finds the up to date entry point in ES:DI on return.
func (c *Controller) Enter(regs *realmode.Registers, initialise func() error) error {
	if !c.activated {
		c.activated = true
		if err := initialise(); err != nil {
			return fmt.Errorf("initialising from real-mode entry: %w", err)
		}
	}
	regs.Segs.ES = c.base.Segment()
	log.Debugf("Real-mode entry returns stub at %v", regs.ESDI())
	return nil
}

// Retain records an outstanding real-mode call that needs the current copy
// to stay resident. The count is the stub's 16-bit field; taking a 65536th
// reference panics.
func (c *Controller) Retain() {
	f := c.fields()
	if f.RefCount == math.MaxUint16 {
		panic(fmt.Sprintf("stub reference count overflow (base %v)", c.base))
	}
	f.RefCount++
	c.setFields(f)
}

// Release drops a reference taken by Retain. Releasing without a matching
// Retain is a caller bug and panics.
func (c *Controller) Release() {
	f := c.fields()
	if f.RefCount == 0 {
		panic(fmt.Sprintf("stub reference count gone negative (base %v)", c.base))
	}
	f.RefCount--
	c.setFields(f)
}

// RefCount returns the number of outstanding references.
func (c *Controller) RefCount() uint16 {
	return c.fields().RefCount
}

// Idle returns true iff no real-mode call holds a reference.
func (c *Controller) Idle() bool {
	return c.RefCount() == 0
}
