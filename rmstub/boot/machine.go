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

// Package boot wires the real-mode stub into one simulated activation of a
// boot program: simulated physical memory, the base memory allocator, the
// program's address translator, the init registry and the relocator.
package boot

import (
	"fmt"
	"os"
	"time"

	"gvisor.dev/rmstub/pkg/initfn"
	"gvisor.dev/rmstub/pkg/log"
	"gvisor.dev/rmstub/pkg/lowmem"
	"gvisor.dev/rmstub/pkg/realmode"
	"gvisor.dev/rmstub/pkg/relocate"
	"gvisor.dev/rmstub/pkg/stub"
	"gvisor.dev/rmstub/rmstub/config"
)

// Event is one step of an activation, with the stub's state after it.
type Event struct {
	Step       string      `json:"step"`
	Stub       stub.Status `json:"stub"`
	FreeBaseKB uint16      `json:"free_base_kb"`
	Detail     string      `json:"detail,omitempty"`
}

// Machine is a simulated machine running one boot program that carries the
// stub.
type Machine struct {
	conf *config.Config

	mem       *lowmem.Memory
	alloc     *lowmem.BaseAllocator
	trans     *lowmem.OffsetTranslator
	registry  initfn.Registry
	ctrl      *stub.Controller
	relocator *relocate.Relocator

	// events is the activation trace.
	events []Event

	// callLog reports real-mode calls, which can be frequent.
	callLog log.Logger
}

// New creates a machine for conf. The machine keeps its own copy of conf, so
// later changes by the caller do not affect it. The caller must call Close
// when done.
func New(conf *config.Config) (*Machine, error) {
	conf = conf.Clone()
	image, err := LoadImage(conf)
	if err != nil {
		return nil, err
	}

	var mem *lowmem.Memory
	if conf.MappedMemory {
		if mem, err = lowmem.NewMapped(conf.MemorySize); err != nil {
			return nil, fmt.Errorf("creating mapped memory: %w", err)
		}
	} else {
		mem = lowmem.New(conf.MemorySize)
	}

	m := &Machine{
		conf:  conf,
		mem:   mem,
		alloc: lowmem.NewBaseAllocator(mem, realmode.Addr(conf.BaseMemoryFloor), realmode.Addr(conf.BaseMemoryCeiling)),
		trans: lowmem.NewOffsetTranslator(conf.LoadAddress),

		callLog: log.BasicRateLimitedLogger(time.Second),
	}

	opts := conf.StubOptions()
	opts.OnCheckpoint = func(f stub.Fields) {
		m.record("checkpoint", fmt.Sprintf("master holds stack %v, refcount %d", f.Stack, f.RefCount))
	}
	m.ctrl = stub.New(image, stub.Env{
		Memory:     mem,
		Copier:     mem,
		Translator: m.trans,
		Allocator:  m.alloc,
	}, opts)
	m.ctrl.Register(&m.registry)

	m.relocator = &relocate.Relocator{
		Translator: m.trans,
		Registry:   &m.registry,
		Size:       conf.ProgramSize,
		Limit:      conf.RelocationLimit,
	}
	return m, nil
}

// LoadImage returns the master image conf describes, read from
// conf.ImageFile or synthesised.
func LoadImage(conf *config.Config) (*stub.Image, error) {
	code := SyntheticCode()
	if conf.ImageFile != "" {
		var err error
		if code, err = os.ReadFile(conf.ImageFile); err != nil {
			return nil, fmt.Errorf("reading stub image: %w", err)
		}
	}
	image, err := stub.NewImage(conf.Layout, code)
	if err != nil {
		return nil, fmt.Errorf("loading stub image: %w", err)
	}
	return image, nil
}

// SyntheticCode returns the 16-byte entry jump table of a stub with no real
// code. Its three near jumps all land on the far return that ends the table.
func SyntheticCode() []byte {
	const (
		jmpNear = 0xe9
		nop     = 0x90
		retf    = 0xcb
	)
	code := make([]byte, 0, 16)
	for i := 0; i < 3; i++ {
		// Each entry is jmp rel16 plus a nop, four bytes. The target is the
		// retf at offset 12.
		rel := uint16(12 - (i*4 + 3))
		code = append(code, jmpNear, byte(rel), byte(rel>>8), nop)
	}
	return append(code, retf, nop, nop, nop)
}

// Close releases the machine's memory.
func (m *Machine) Close() error {
	return m.mem.Close()
}

// Controller returns the stub controller.
func (m *Machine) Controller() *stub.Controller {
	return m.ctrl
}

// Memory returns simulated physical memory.
func (m *Machine) Memory() *lowmem.Memory {
	return m.mem
}

// Events returns the activation trace so far.
func (m *Machine) Events() []Event {
	return append([]Event(nil), m.events...)
}

func (m *Machine) record(step, detail string) {
	ev := Event{
		Step:       step,
		Stub:       m.ctrl.Status(),
		FreeBaseKB: m.mem.Uint16(lowmem.FreeBaseMemoryAddr),
		Detail:     detail,
	}
	log.Debugf("%s: %+v", step, ev)
	m.events = append(m.events, ev)
}

// PlaceResident simulates an earlier stage that installed the stub at addr
// and entered the program through it.
func (m *Machine) PlaceResident(addr realmode.Addr) {
	image := m.ctrl.Image()
	image.SetFields(stub.Fields{Stack: m.conf.FallbackStack})
	m.mem.Write(addr, image.Bytes())
	m.ctrl.RecordBase(addr)
	m.record("resident", fmt.Sprintf("earlier stage left stub at %v", addr))
}

// Enter runs the entry path: the first entry initialises the program and
// relocates it. It returns the stub's address as handed back to real mode in
// ES:DI.
func (m *Machine) Enter() (realmode.SegOff, error) {
	var regs realmode.Registers
	err := m.ctrl.Enter(&regs, func() error {
		m.registry.Initialise()
		m.record("init", "")
		base, err := m.relocator.Relocate(m.conf.MemoryMap)
		if err != nil {
			return err
		}
		m.record("relocate", fmt.Sprintf("program at %#x", base))
		return nil
	})
	if err != nil {
		return realmode.SegOff{}, err
	}
	entry := regs.ESDI()
	m.record("enter", fmt.Sprintf("ES:DI %v", entry))
	return entry, nil
}

// Call stages args on the scratch stack for a real-mode call, as the
// transition code does, and unstages them into the returned slice. The stub
// is held for the duration of the call.
func (m *Machine) Call(args []byte) []byte {
	m.ctrl.Retain()
	defer m.ctrl.Release()

	sp := m.ctrl.PushStaged(args)
	m.callLog.Debugf("Real-mode call with %d bytes of arguments, refcount %d", len(args), m.ctrl.RefCount())
	m.record("call", fmt.Sprintf("%d bytes staged at %04x:%04x", len(args), m.ctrl.StackPointer().Segment, sp))

	out := make([]byte, len(args))
	m.ctrl.PopStaged(out, len(args))
	return out
}

// Shutdown runs the exit hooks, which uninstall the stub.
func (m *Machine) Shutdown() {
	m.registry.Shutdown()
	m.record("shutdown", "")
}

// Run performs a whole activation: optional prior-stage placement, entry,
// calls calls with args, and shutdown. It returns the trace.
func (m *Machine) Run(calls int, args []byte) ([]Event, error) {
	if m.conf.EnteredAt != 0 {
		m.PlaceResident(realmode.Addr(m.conf.EnteredAt))
	}
	if _, err := m.Enter(); err != nil {
		return m.Events(), fmt.Errorf("entering program: %w", err)
	}
	for i := 0; i < calls; i++ {
		if out := m.Call(args); string(out) != string(args) {
			return m.Events(), fmt.Errorf("call %d: scratch stack returned %q, staged %q", i, out, args)
		}
	}
	if !m.ctrl.Idle() {
		return m.Events(), fmt.Errorf("stub still held by %d callers", m.ctrl.RefCount())
	}
	m.Shutdown()
	return m.Events(), nil
}
