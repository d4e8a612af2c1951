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

import "testing"

func TestSegOffAddr(t *testing.T) {
	for _, tc := range []struct {
		so   SegOff
		want Addr
	}{
		{SegOff{0x07c0, 0x0000}, 0x7c00},
		{SegOff{0x0000, 0x7c00}, 0x7c00},
		{SegOff{0x07c0, 0x1000}, 0x8c00},
		{SegOff{0x9000, 0x0010}, 0x90010},
		{SegOff{0xffff, 0xffff}, 0x10ffef},
	} {
		if got := tc.so.Addr(); got != tc.want {
			t.Errorf("%v.Addr() = %v, want %v", tc.so, got, tc.want)
		}
	}
}

func TestAddrSegOff(t *testing.T) {
	for _, a := range []Addr{0, 0x7c00, 0x90000, 0x9ab3c, 0xa0000} {
		so := a.SegOff()
		if so.Offset >= ParagraphSize {
			t.Errorf("%v.SegOff() = %v, offset not canonical", a, so)
		}
		if got := so.Addr(); got != a {
			t.Errorf("%v.SegOff().Addr() = %v", a, got)
		}
	}
	if got, want := Addr(0xa0000).Segment(), uint16(0xa000); got != want {
		t.Errorf("Segment() = %#x, want %#x", got, want)
	}
}

func TestReachable(t *testing.T) {
	if !Addr(0x7c00).Reachable(4096) {
		t.Errorf("0x7c00+4096 should be reachable")
	}
	if Addr(0x10ff00).Reachable(0x1000) {
		t.Errorf("0x10ff00+0x1000 should not be reachable")
	}
	if !Addr(0x10f000).Reachable(uint32(Limit - 0x10f000)) {
		t.Errorf("range ending exactly at Limit should be reachable")
	}
}

func TestESDI(t *testing.T) {
	var r Registers
	r.Segs.ES = 0x9000
	r.Regs.EDI = 0x12340010
	if got, want := r.ESDI(), (SegOff{0x9000, 0x0010}); got != want {
		t.Errorf("ESDI() = %v, want %v", got, want)
	}
}
