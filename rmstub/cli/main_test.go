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

package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/rmstub/pkg/log"
	"gvisor.dev/rmstub/rmstub/config"
)

func TestNewEmitter(t *testing.T) {
	for _, tc := range []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{
			format: "text",
			check: func(t *testing.T, out string) {
				if !strings.HasPrefix(out, "I") || !strings.HasSuffix(out, "] stub at 0x7c00\n") {
					t.Errorf("text output = %q", out)
				}
			},
		},
		{
			format: "json",
			check: func(t *testing.T, out string) {
				var m map[string]any
				if err := json.Unmarshal([]byte(out), &m); err != nil {
					t.Fatalf("json output %q: %v", out, err)
				}
				if m["msg"] != "stub at 0x7c00" || m["subcommand"] != "run" {
					t.Errorf("json output = %v", m)
				}
			},
		},
		{
			format: "logrus",
			check: func(t *testing.T, out string) {
				if !strings.Contains(out, "level=info") || !strings.Contains(out, `msg="stub at 0x7c00"`) {
					t.Errorf("logrus output = %q", out)
				}
			},
		},
	} {
		t.Run(tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			e := newEmitter(tc.format, "run", &buf)
			e.Emit(0, log.Info, time.Now(), "stub at %#x", 0x7c00)
			tc.check(t, buf.String())
		})
	}
}

func TestForEachCmd(t *testing.T) {
	seen := make(map[string]bool)
	forEachCmd(func(cmd subcommands.Command, _ string) {
		if seen[cmd.Name()] {
			t.Errorf("command %q registered twice", cmd.Name())
		}
		seen[cmd.Name()] = true
	})
	for _, name := range []string{"help", "flags", "run", "layout", "config"} {
		if !seen[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestLogTarget(t *testing.T) {
	for _, tc := range []struct {
		name       string
		logFile    bool
		alsoStderr bool
		wantFile   bool
		wantStderr bool
	}{
		{name: "stderr only", wantStderr: true},
		{name: "file only", logFile: true, wantFile: true},
		{name: "file and stderr", logFile: true, alsoStderr: true, wantFile: true, wantStderr: true},
		{name: "no file", alsoStderr: true, wantStderr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conf := config.Default()
			conf.AlsoLogToStderr = tc.alsoStderr

			var file, stderr bytes.Buffer
			var logFile *bytes.Buffer
			if tc.logFile {
				logFile = &file
			}
			var target log.Emitter
			if logFile != nil {
				target = logTarget(conf, "run", logFile, &stderr)
			} else {
				target = logTarget(conf, "run", nil, &stderr)
			}
			target.Emit(0, log.Info, time.Now(), "installed")

			if got := strings.Contains(file.String(), "installed"); got != tc.wantFile {
				t.Errorf("log file got message: %t, want %t", got, tc.wantFile)
			}
			if got := strings.Contains(stderr.String(), "installed"); got != tc.wantStderr {
				t.Errorf("stderr got message: %t, want %t", got, tc.wantStderr)
			}
			if _, multi := target.(*log.MultiEmitter); multi != (tc.wantFile && tc.wantStderr) {
				t.Errorf("target %T, multiple destinations: %t", target, tc.wantFile && tc.wantStderr)
			}
		})
	}
}
