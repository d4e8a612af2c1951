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

// Package stub manages the residency of the real-mode stub: the small
// position-dependent blob through which real-mode code enters and leaves
// protected mode.
//
// Real-mode code can only reach low memory, so the stub must be copied there
// before any real-mode to protected-mode transition, and its recorded
// physical address must follow it when the program relocates. The master
// image embedded in the program holds the authoritative copy of the stub's
// mutable fields (scratch stack pointer and reference count) whenever no copy
// is installed; while a copy is installed, those fields live in the copy.
//
// A copy left resident by an earlier stage is not installed in this sense
// until AfterRelocation adopts it. Until then the fields are read from and
// written to the master image, and adopting the resident copy replaces them
// with the copy's values.
//
// A Controller is not safe for concurrent use. Execution alternates between
// real mode and protected mode on a single logical thread, and fatal
// conditions (scratch stack overflow, reference count underflow) panic: the
// boundary cannot be unwound once crossed.
package stub

import (
	"encoding/binary"
	"fmt"

	"gvisor.dev/rmstub/pkg/realmode"
)

// fieldSize is the size of each embedded field. Real-mode code reads them as
// 16-bit words.
const fieldSize = 2

// Layout describes the stub image and where its mutable fields live. All
// offsets are byte offsets from the start of the image.
type Layout struct {
	// Size is the size of the image in bytes.
	Size uint32 `toml:"size" yaml:"size"`

	// StackSegment is the offset of the saved scratch stack segment.
	StackSegment uint32 `toml:"stack_segment" yaml:"stack_segment"`

	// StackOffset is the offset of the saved scratch stack pointer.
	StackOffset uint32 `toml:"stack_offset" yaml:"stack_offset"`

	// RefCount is the offset of the reference count.
	RefCount uint32 `toml:"ref_count" yaml:"ref_count"`
}

// DefaultLayout is a 4KiB stub with its data fields directly after a
// 16-byte entry jump table.
var DefaultLayout = Layout{
	Size:         4096,
	StackSegment: 0x10,
	StackOffset:  0x12,
	RefCount:     0x14,
}

// Validate checks that every field lies within the image and that no two
// fields overlap.
func (l Layout) Validate() error {
	if l.Size == 0 {
		return fmt.Errorf("stub size must be non-zero")
	}
	if !realmode.Addr(0).Reachable(l.Size) {
		return fmt.Errorf("stub size %#x exceeds real-mode address space", l.Size)
	}
	fields := []struct {
		name string
		off  uint32
	}{
		{"stack segment", l.StackSegment},
		{"stack offset", l.StackOffset},
		{"ref count", l.RefCount},
	}
	for i, f := range fields {
		if uint64(f.off)+fieldSize > uint64(l.Size) {
			return fmt.Errorf("%s field at %#x outside stub of size %#x", f.name, f.off, l.Size)
		}
		for _, g := range fields[:i] {
			if f.off < g.off+fieldSize && g.off < f.off+fieldSize {
				return fmt.Errorf("%s field at %#x overlaps %s field at %#x", f.name, f.off, g.name, g.off)
			}
		}
	}
	return nil
}

// Fields are the mutable values embedded in the stub.
type Fields struct {
	// Stack is the scratch stack pointer, as real mode sees it.
	Stack realmode.SegOff `json:"stack"`

	// RefCount counts outstanding real-mode calls that need the installed
	// copy to stay put.
	RefCount uint16 `json:"ref_count"`
}

func (l Layout) decode(b []byte) Fields {
	return Fields{
		Stack: realmode.SegOff{
			Segment: binary.LittleEndian.Uint16(b[l.StackSegment:]),
			Offset:  binary.LittleEndian.Uint16(b[l.StackOffset:]),
		},
		RefCount: binary.LittleEndian.Uint16(b[l.RefCount:]),
	}
}

func (l Layout) encode(b []byte, f Fields) {
	binary.LittleEndian.PutUint16(b[l.StackSegment:], f.Stack.Segment)
	binary.LittleEndian.PutUint16(b[l.StackOffset:], f.Stack.Offset)
	binary.LittleEndian.PutUint16(b[l.RefCount:], f.RefCount)
}

// Image is the master copy of the stub. It is never relocated itself.
type Image struct {
	layout Layout
	data   []byte
}

// NewImage returns a master image with the given layout whose leading bytes
// are code. The rest of the image is zero.
func NewImage(layout Layout, code []byte) (*Image, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stub layout: %w", err)
	}
	if uint64(len(code)) > uint64(layout.Size) {
		return nil, fmt.Errorf("stub code is %d bytes, larger than stub size %d", len(code), layout.Size)
	}
	data := make([]byte, layout.Size)
	copy(data, code)
	return &Image{layout: layout, data: data}, nil
}

// Layout returns the image layout.
func (im *Image) Layout() Layout {
	return im.layout
}

// Size returns the image size in bytes.
func (im *Image) Size() uint32 {
	return im.layout.Size
}

// Bytes returns a copy of the master image.
func (im *Image) Bytes() []byte {
	return append([]byte(nil), im.data...)
}

// Fields returns the mutable fields held by the master image.
func (im *Image) Fields() Fields {
	return im.layout.decode(im.data)
}

// SetFields overwrites the mutable fields held by the master image.
func (im *Image) SetFields(f Fields) {
	im.layout.encode(im.data, f)
}
