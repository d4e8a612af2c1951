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

// Package lowmem simulates the low physical memory that real-mode code can
// reach, along with the primitives the protected-mode side uses to access
// it: byte copies through physical or segment:offset addresses, a
// physical/virtual translator and the base-memory allocator.
package lowmem

import (
	"encoding/binary"
	"fmt"

	"gvisor.dev/rmstub/pkg/realmode"
)

// Physical is memcpy through physical addresses.
type Physical interface {
	// Read copies len(dst) bytes starting at addr into dst.
	Read(addr realmode.Addr, dst []byte)

	// Write copies src to addr.
	Write(addr realmode.Addr, src []byte)
}

// Copier copies data across the mode boundary. Implementations are byte
// exact and synchronous.
type Copier interface {
	// CopyToReal copies src to the real-mode address so.
	CopyToReal(so realmode.SegOff, src []byte)

	// CopyFromReal copies len(dst) bytes from the real-mode address so.
	CopyFromReal(dst []byte, so realmode.SegOff)
}

// Memory is a flat simulated physical address space starting at zero.
//
// Accesses outside the address space panic; they correspond to a stray
// pointer on real hardware.
type Memory struct {
	data  []byte
	unmap func() error
}

// New returns zeroed memory of the given size, backed by the Go heap.
func New(size uint32) *Memory {
	return &Memory{data: make([]byte, size)}
}

// Size returns the size of the address space, in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

// Close releases the backing store. The Memory must not be used afterwards.
func (m *Memory) Close() error {
	if m.unmap == nil {
		return nil
	}
	err := m.unmap()
	m.unmap = nil
	m.data = nil
	return err
}

func (m *Memory) slice(addr realmode.Addr, n int) []byte {
	end := uint64(addr) + uint64(n)
	if end > uint64(len(m.data)) {
		panic(fmt.Sprintf("physical access [%#x,%#x) outside memory of size %#x", uint32(addr), end, len(m.data)))
	}
	return m.data[addr:end]
}

// Read implements Physical.Read.
func (m *Memory) Read(addr realmode.Addr, dst []byte) {
	copy(dst, m.slice(addr, len(dst)))
}

// Write implements Physical.Write.
func (m *Memory) Write(addr realmode.Addr, src []byte) {
	copy(m.slice(addr, len(src)), src)
}

// CopyToReal implements Copier.CopyToReal.
func (m *Memory) CopyToReal(so realmode.SegOff, src []byte) {
	m.Write(so.Addr(), src)
}

// CopyFromReal implements Copier.CopyFromReal.
func (m *Memory) CopyFromReal(dst []byte, so realmode.SegOff) {
	m.Read(so.Addr(), dst)
}

// Uint16 reads a little-endian 16-bit value at addr.
func (m *Memory) Uint16(addr realmode.Addr) uint16 {
	return binary.LittleEndian.Uint16(m.slice(addr, 2))
}

// PutUint16 writes a little-endian 16-bit value at addr.
func (m *Memory) PutUint16(addr realmode.Addr, v uint16) {
	binary.LittleEndian.PutUint16(m.slice(addr, 2), v)
}
