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

// Package realmode defines the addressing and register types shared by code
// on both sides of the real-mode / protected-mode boundary.
//
// Real-mode code addresses memory as segment:offset pairs, where the linear
// (physical) address is segment*16 + offset. Only the first megabyte (plus
// the 64KiB high memory area) is reachable that way.
package realmode

import "fmt"

// Addr is a physical address.
type Addr uint32

const (
	// ParagraphShift is the shift between a segment value and the physical
	// address of its first byte.
	ParagraphShift = 4

	// ParagraphSize is the granularity of segment bases, in bytes.
	ParagraphSize = 1 << ParagraphShift

	// Limit is one past the highest physical address reachable from real
	// mode (0xffff:0xffff).
	Limit Addr = 0xffff<<ParagraphShift + 0xffff + 1
)

// String implements fmt.Stringer.
func (a Addr) String() string {
	return fmt.Sprintf("%#x", uint32(a))
}

// Segment returns the segment whose base is a, rounded down to a paragraph.
func (a Addr) Segment() uint16 {
	return uint16(a >> ParagraphShift)
}

// SegOff returns the canonical segment:offset pair for a, with the offset
// in [0, 16).
func (a Addr) SegOff() SegOff {
	return SegOff{Segment: a.Segment(), Offset: uint16(a & (ParagraphSize - 1))}
}

// Aligned returns true iff a is on a paragraph boundary.
func (a Addr) Aligned() bool {
	return a&(ParagraphSize-1) == 0
}

// Reachable returns true iff the size bytes starting at a are all reachable
// from real mode.
func (a Addr) Reachable(size uint32) bool {
	end := uint64(a) + uint64(size)
	return end <= uint64(Limit)
}

// SegOff is a real-mode far pointer.
type SegOff struct {
	Segment uint16 `toml:"segment" yaml:"segment" json:"segment"`
	Offset  uint16 `toml:"offset" yaml:"offset" json:"offset"`
}

// Addr returns the physical address of the far pointer.
func (s SegOff) Addr() Addr {
	return Addr(s.Segment)<<ParagraphShift + Addr(s.Offset)
}

// String implements fmt.Stringer.
func (s SegOff) String() string {
	return fmt.Sprintf("%04x:%04x", s.Segment, s.Offset)
}
