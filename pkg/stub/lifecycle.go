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

	"gvisor.dev/rmstub/pkg/initfn"
	"gvisor.dev/rmstub/pkg/log"
	"gvisor.dev/rmstub/pkg/lowmem"
	"gvisor.dev/rmstub/pkg/realmode"
)

// Fallback placement used when the program was not entered through an
// already resident stub.
const (
	// DefaultFallbackBase is the physical address the stub is installed at
	// during startup. The memory there is not allocated; it is the boot
	// sector load address, free once the boot sector has run.
	DefaultFallbackBase realmode.Addr = 0x7c00

	// DefaultFallbackStackSegment and DefaultFallbackStackOffset are the
	// initial scratch stack pointer, 0x7c0:0x1000, i.e. the top of the 4KiB
	// above DefaultFallbackBase.
	DefaultFallbackStackSegment uint16 = 0x7c0
	DefaultFallbackStackOffset  uint16 = 0x1000
)

// Env holds the collaborators a Controller uses.
type Env struct {
	// Memory is memcpy through physical addresses.
	Memory lowmem.Physical

	// Copier copies scratch stack data across the mode boundary.
	Copier lowmem.Copier

	// Translator converts between physical and program addresses.
	Translator lowmem.Translator

	// Allocator provides base memory after relocation.
	Allocator lowmem.Allocator
}

// Options configure a Controller.
type Options struct {
	// FallbackBase is the physical address used by EnsureInstalled.
	FallbackBase realmode.Addr

	// FallbackStack is the scratch stack pointer set by EnsureInstalled.
	FallbackStack realmode.SegOff

	// StrictStack enables the scratch stack overflow check in
	// PushStaged.
	StrictStack bool

	// OnCheckpoint, if set, is called by AfterRelocation after the old
	// copy has been written back to the master image and before the new
	// copy is installed, with the fields the master image then holds.
	OnCheckpoint func(Fields)
}

// DefaultOptions returns the standard fallback placement with strict stack
// checking.
func DefaultOptions() Options {
	return Options{
		FallbackBase: DefaultFallbackBase,
		FallbackStack: realmode.SegOff{
			Segment: DefaultFallbackStackSegment,
			Offset:  DefaultFallbackStackOffset,
		},
		StrictStack: true,
	}
}

// Controller is the residency state of one stub: where it lives, whether
// that memory is allocated, and where real mode believes it lives.
type Controller struct {
	image   *Image
	env     Env
	opts    Options
	tracker Tracker

	// base is the recorded physical base, the address real mode uses to
	// reach the stub. Zero means unset.
	base realmode.Addr

	// activated is set once the entry path has run initialisation for this
	// activation.
	activated bool
}

// New returns a Controller for image. Nothing is installed yet.
func New(image *Image, env Env, opts Options) *Controller {
	return &Controller{
		image:   image,
		env:     env,
		opts:    opts,
		tracker: NewTracker(env.Translator.PhysToVirt(opts.FallbackBase)),
	}
}

// Image returns the master image.
func (c *Controller) Image() *Image {
	return c.image
}

// Location returns the program address of the current copy.
func (c *Controller) Location() lowmem.Virt {
	return c.tracker.Location()
}

// Allocated returns true iff the current copy lives in allocated base memory.
func (c *Controller) Allocated() bool {
	return c.tracker.Allocated()
}

// EnsureInstalled is the startup hook. If no real-mode entry has recorded a
// base, it installs the stub at the fallback address with a fresh scratch
// stack. Otherwise the program was entered through a resident stub, whose
// address and stack are authoritative and are left alone.
func (c *Controller) EnsureInstalled() {
	if c.base != 0 {
		log.Debugf("Stub already resident at %v", c.base)
		return
	}
	c.Install(c.env.Translator.PhysToVirt(c.opts.FallbackBase))
	f := c.fields()
	f.Stack = c.opts.FallbackStack
	c.setFields(f)
	log.Infof("Stub installed at fallback %v, scratch stack %v", c.base, c.opts.FallbackStack)
}

// AfterRelocation is the post-relocation hook. It re-derives the current
// location from the recorded base, then, unless the stub already lives in
// allocated base memory, moves it there.
//
// The move writes the current copy back to the master image before
// installing the new one, so that the master image holds the authoritative
// fields at the intermediate step. Allocation failure is returned; no
// fallback placement is attempted since the fallback address may be in use
// by now.
func (c *Controller) AfterRelocation() error {
	if c.base != 0 {
		c.tracker.MarkInstalled(c.env.Translator.PhysToVirt(c.base), c.tracker.Allocated())
	}
	if c.tracker.Allocated() {
		return nil
	}

	addr, err := c.env.Allocator.Alloc(c.image.Size())
	if err != nil {
		return fmt.Errorf("allocating base memory for stub: %w", err)
	}
	c.Uninstall()
	if c.opts.OnCheckpoint != nil {
		c.opts.OnCheckpoint(c.image.Fields())
	}
	c.Install(c.env.Translator.PhysToVirt(addr))
	c.tracker.MarkInstalled(c.tracker.Location(), true)
	log.Infof("Stub moved to allocated base memory at %v", addr)
	return nil
}

// Teardown is the shutdown hook. It writes the current copy back to the
// master image and frees its memory if it was allocated.
func (c *Controller) Teardown() {
	c.Uninstall()
	c.activated = false
}

// Register adds the controller's hooks to reg.
func (c *Controller) Register(reg *initfn.Registry) {
	reg.Register(initfn.Fn{
		Name:  "stub",
		Order: initfn.OrderStub,
		Init:  c.EnsureInstalled,
		Exit:  c.Teardown,
	})
	reg.RegisterPostReloc(initfn.PostRelocFn{
		Name:  "stub",
		Order: initfn.OrderStub,
		Fn:    c.AfterRelocation,
	})
}

// Status is a snapshot of the controller for diagnostics.
type Status struct {
	Base      realmode.Addr `json:"base"`
	Location  lowmem.Virt   `json:"location"`
	Installed bool          `json:"installed"`
	Allocated bool          `json:"allocated"`
	Fields    Fields        `json:"fields"`
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	return Status{
		Base:      c.base,
		Location:  c.tracker.Location(),
		Installed: c.tracker.Installed(),
		Allocated: c.tracker.Allocated(),
		Fields:    c.fields(),
	}
}
