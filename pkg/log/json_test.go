// Copyright 2018 The gVisor Authors.
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

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLevelMarshal(t *testing.T) {
	for lv, want := range map[Level]string{
		Warning: `"warning"`,
		Info:    `"info"`,
		Debug:   `"debug"`,
	} {
		got, err := json.Marshal(lv)
		if err != nil {
			t.Errorf("Marshal(%v): %v", lv, err)
			continue
		}
		if string(got) != want {
			t.Errorf("Marshal(%v) = %s, want %s", lv, got, want)
		}
	}
	if _, err := json.Marshal(Level(7)); err == nil {
		t.Errorf("Marshal accepted an unknown level")
	}
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := JSONEmitter{Writer: &Writer{Next: &buf}, Subcommand: "run"}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e.Emit(0, Warning, ts, "stub moved to %#x", 0x9f000)

	if !strings.HasSuffix(buf.String(), "}\n") || strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("output %q is not a single line", buf.String())
	}
	var got map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output %q is not JSON: %v", buf.String(), err)
	}
	if !strings.HasPrefix(got["caller"], "json_test.go:") {
		t.Errorf("caller = %q, want json_test.go:<line>", got["caller"])
	}
	delete(got, "caller")
	want := map[string]string{
		"msg":        "stub moved to 0x9f000",
		"level":      "warning",
		"time":       "2026-01-02T03:04:05Z",
		"subcommand": "run",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("JSON line (-want +got):\n%s", diff)
	}
}

func TestJSONEmitterNoSubcommand(t *testing.T) {
	var buf bytes.Buffer
	JSONEmitter{Writer: &Writer{Next: &buf}}.Emit(0, Info, time.Now(), "hello")
	if strings.Contains(buf.String(), "subcommand") {
		t.Errorf("output %q has a subcommand field", buf.String())
	}
}
