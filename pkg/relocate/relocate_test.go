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

package relocate

import (
	"errors"
	"testing"

	"gvisor.dev/rmstub/pkg/initfn"
	"gvisor.dev/rmstub/pkg/lowmem"
)

func TestChoose(t *testing.T) {
	memmap := []Range{
		{Start: 0, End: 0x9fc00},
		{Start: 0x100000, End: 0x7fee0000},
		{Start: 0x100000000, End: 0x180000000},
	}
	for _, tc := range []struct {
		name  string
		r     Relocator
		want  uint32
		noFit bool
	}{
		{
			name: "top of low 4GiB",
			r:    Relocator{Size: 0x20000},
			want: 0x7fec0000,
		},
		{
			name: "unaligned size rounds down",
			r:    Relocator{Size: 0x1234},
			want: 0x7fede000,
		},
		{
			name: "limit",
			r:    Relocator{Size: 0x1000, Limit: 0x200000},
			want: 0x1ff000,
		},
		{
			name: "limit inside base memory",
			r:    Relocator{Size: 0x1000, Limit: 0xa0000, Align: 0x400},
			want: 0x9ec00,
		},
		{
			name:  "too big",
			r:     Relocator{Size: 0x80000000},
			noFit: true,
		},
	} {
		got, err := tc.r.Choose(memmap)
		if tc.noFit {
			if !errors.Is(err, ErrNoFit) {
				t.Errorf("%s: Choose() = %#x, %v, want ErrNoFit", tc.name, got, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: Choose() failed: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: Choose() = %#x, want %#x", tc.name, got, tc.want)
		}
	}
}

func TestRelocateRunsHooks(t *testing.T) {
	tr := lowmem.NewOffsetTranslator(0x10000)
	var reg initfn.Registry
	var seen []uint32
	reg.RegisterPostReloc(initfn.PostRelocFn{Name: "probe", Fn: func() error {
		seen = append(seen, tr.Offset())
		return nil
	}})

	r := Relocator{Translator: tr, Registry: &reg, Size: 0x10000}
	memmap := []Range{{Start: 0x100000, End: 0x400000}}
	got, err := r.Relocate(memmap)
	if err != nil {
		t.Fatalf("Relocate failed: %v", err)
	}
	if got != 0x3f0000 || tr.Offset() != 0x3f0000 {
		t.Errorf("Relocate() = %#x, offset %#x, want 0x3f0000", got, tr.Offset())
	}

	// Already at the top: no move, hooks still run.
	if _, err := r.Relocate(memmap); err != nil {
		t.Fatalf("second Relocate failed: %v", err)
	}
	if len(seen) != 2 || seen[0] != 0x3f0000 || seen[1] != 0x3f0000 {
		t.Errorf("hooks saw offsets %#x, want [0x3f0000 0x3f0000]", seen)
	}
}

func TestRelocateHookFailure(t *testing.T) {
	tr := lowmem.NewOffsetTranslator(0)
	var reg initfn.Registry
	reg.RegisterPostReloc(initfn.PostRelocFn{Name: "stub", Fn: func() error {
		return lowmem.ErrNoMemory
	}})
	r := Relocator{Translator: tr, Registry: &reg, Size: 0x1000}
	if _, err := r.Relocate([]Range{{Start: 0x100000, End: 0x200000}}); !errors.Is(err, lowmem.ErrNoMemory) {
		t.Errorf("Relocate() = %v, want ErrNoMemory", err)
	}
}
