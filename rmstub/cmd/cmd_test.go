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

package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/rmstub/pkg/realmode"
	"gvisor.dev/rmstub/rmstub/boot"
	"gvisor.dev/rmstub/rmstub/config"
)

func TestWriteConfigRoundTrip(t *testing.T) {
	for _, format := range []string{"toml", "yaml"} {
		t.Run(format, func(t *testing.T) {
			want := config.Default()
			want.Debug = true
			want.EnteredAt = 0x90000
			want.FallbackStack = realmode.SegOff{Segment: 0x800, Offset: 0x400}

			var buf bytes.Buffer
			if err := writeConfig(&buf, format, want); err != nil {
				t.Fatalf("writeConfig failed: %v", err)
			}
			path := filepath.Join(t.TempDir(), "rmstub."+format)
			if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}

			got := config.Default()
			got.MemoryMap = nil
			if err := got.LoadFile(path); err != nil {
				t.Fatalf("LoadFile failed: %v\n%s", err, buf.String())
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("config after round trip (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteConfigBadFormat(t *testing.T) {
	if err := writeConfig(&bytes.Buffer{}, "ini", config.Default()); err == nil {
		t.Errorf("writeConfig accepted format ini")
	}
}

func TestNewPlacement(t *testing.T) {
	p, err := NewPlacement(config.Default())
	if err != nil {
		t.Fatalf("NewPlacement failed: %v", err)
	}
	if p.ImageSize != 4096 {
		t.Errorf("ImageSize = %#x, want 0x1000", p.ImageSize)
	}
	if p.StackTop != 0x8c00 {
		t.Errorf("StackTop = %v, want 0x8c00", p.StackTop)
	}
	if p.ProgramTo != 0x7fc0000 {
		t.Errorf("ProgramTo = %#x, want 0x7fc0000", p.ProgramTo)
	}

	var buf bytes.Buffer
	if err := p.write(&buf, "table"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(buf.String(), "0x100000 -> 0x7fc0000") {
		t.Errorf("table output missing program move:\n%s", buf.String())
	}
}

func TestNewPlacementNoFit(t *testing.T) {
	conf := config.Default()
	conf.ProgramSize = 0x10000000
	if _, err := NewPlacement(conf); err == nil {
		t.Errorf("NewPlacement succeeded for a program larger than memory")
	}
}

func TestWriteEvents(t *testing.T) {
	m, err := boot.New(config.Default())
	if err != nil {
		t.Fatalf("boot.New failed: %v", err)
	}
	defer m.Close()
	events, err := m.Run(1, []byte("args"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var table bytes.Buffer
	if err := writeEvents(&table, "table", events); err != nil {
		t.Fatalf("writeEvents(table) failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(table.String()), "\n")
	if got, want := len(lines), len(events)+1; got != want {
		t.Errorf("table has %d lines, want %d:\n%s", got, want, table.String())
	}
	if !strings.HasPrefix(lines[0], "STEP") {
		t.Errorf("table header = %q", lines[0])
	}

	var js bytes.Buffer
	if err := writeEvents(&js, "json", events); err != nil {
		t.Fatalf("writeEvents(json) failed: %v", err)
	}
	var decoded []boot.Event
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if diff := cmp.Diff(events, decoded); diff != "" {
		t.Errorf("events after JSON round trip (-want +got):\n%s", diff)
	}

	if err := writeEvents(&js, "xml", events); err == nil {
		t.Errorf("writeEvents accepted format xml")
	}
}

func TestWriteEventsJSONKeys(t *testing.T) {
	m, err := boot.New(config.Default())
	if err != nil {
		t.Fatalf("boot.New failed: %v", err)
	}
	defer m.Close()
	events, err := m.Run(1, []byte("args"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	var js bytes.Buffer
	if err := writeEvents(&js, "json", events); err != nil {
		t.Fatalf("writeEvents failed: %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	keys := func(v any) []string {
		var ks []string
		for k := range v.(map[string]any) {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		return ks
	}
	ev := decoded[0]
	for _, tc := range []struct {
		name string
		obj  any
		want []string
	}{
		{"event", ev, []string{"free_base_kb", "step", "stub"}},
		{"stub", ev["stub"], []string{"allocated", "base", "fields", "installed", "location"}},
		{"fields", ev["stub"].(map[string]any)["fields"], []string{"ref_count", "stack"}},
		{"stack", ev["stub"].(map[string]any)["fields"].(map[string]any)["stack"], []string{"offset", "segment"}},
	} {
		if diff := cmp.Diff(tc.want, keys(tc.obj)); diff != "" {
			t.Errorf("%s keys (-want +got):\n%s", tc.name, diff)
		}
	}
}
