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

package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"gvisor.dev/rmstub/pkg/realmode"
	"gvisor.dev/rmstub/pkg/relocate"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	def := Default()

	// Debugging flags.
	flagSet.String("config", "", "TOML or YAML file to load configuration from. Flags override it.")
	flagSet.Bool("debug", def.Debug, "enable debug logging.")
	flagSet.String("log", def.LogFilename, "file path where logs are written, default is stderr.")
	flagSet.Bool("alsologtostderr", def.AlsoLogToStderr, "send log messages to stderr as well as to --log.")
	flagSet.String("log-format", def.LogFormat, "log format: text (default), json, or logrus.")

	// Simulated machine.
	flagSet.Var(hex32Ptr(def.MemorySize), "memory-size", "size of simulated physical memory.")
	flagSet.Bool("mapped-memory", def.MappedMemory, "back simulated memory with an anonymous mapping.")
	flagSet.Var(hex32Ptr(def.BaseMemoryFloor), "basemem-floor", "lowest address the base memory allocator hands out.")
	flagSet.Var(hex32Ptr(def.BaseMemoryCeiling), "basemem-ceiling", "top of base memory.")

	// Stub placement.
	flagSet.Var(hex32Ptr(def.FallbackBase), "fallback-base", "physical address of the stub when not entered through a resident one.")
	flagSet.Var(segOffPtr(def.FallbackStack), "fallback-stack", "initial scratch stack pointer, as segment:offset in hex.")
	flagSet.Bool("strict-stack", def.StrictStack, "halt on scratch stack overflow.")
	flagSet.Var(hex32Ptr(def.Layout.Size), "stub-size", "size of the stub image.")
	flagSet.String("image", def.ImageFile, "file holding the stub code. If empty, a synthetic image is used.")
	flagSet.Var(hex32Ptr(def.EnteredAt), "entered-at", "physical address of a resident stub the program was entered through, 0 for none.")

	// Relocation.
	flagSet.Var(hex32Ptr(def.LoadAddress), "load-address", "physical address of the program before relocation.")
	flagSet.Var(hex32Ptr(def.ProgramSize), "program-size", "size of the program to relocate.")
	flagSet.Var(hex64Ptr(def.RelocationLimit), "relocation-limit", "one past the highest relocation address, 0 for 4GiB.")
	flagSet.Var(memoryMapPtr(def.MemoryMap), "memmap", "usable memory as comma-separated start-end ranges in hex.")
}

// NewFromFlags creates a new Config with values coming from the given flag
// set. The file named by --config, if any, is applied first; flags that were
// set explicitly override it.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := Default()
	if f := flagSet.Lookup("config"); f != nil && f.Value.String() != "" {
		if err := conf.LoadFile(f.Value.String()); err != nil {
			return nil, err
		}
	}

	flagSet.Visit(conf.set)
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func get(f *flag.Flag) any {
	return f.Value.(flag.Getter).Get()
}

// set applies one explicitly set flag.
func (c *Config) set(f *flag.Flag) {
	switch f.Name {
	case "config":
	case "debug":
		c.Debug = get(f).(bool)
	case "log":
		c.LogFilename = get(f).(string)
	case "alsologtostderr":
		c.AlsoLogToStderr = get(f).(bool)
	case "log-format":
		c.LogFormat = get(f).(string)
	case "memory-size":
		c.MemorySize = get(f).(uint32)
	case "mapped-memory":
		c.MappedMemory = get(f).(bool)
	case "basemem-floor":
		c.BaseMemoryFloor = get(f).(uint32)
	case "basemem-ceiling":
		c.BaseMemoryCeiling = get(f).(uint32)
	case "fallback-base":
		c.FallbackBase = get(f).(uint32)
	case "fallback-stack":
		c.FallbackStack = get(f).(realmode.SegOff)
	case "strict-stack":
		c.StrictStack = get(f).(bool)
	case "stub-size":
		c.Layout.Size = get(f).(uint32)
	case "image":
		c.ImageFile = get(f).(string)
	case "entered-at":
		c.EnteredAt = get(f).(uint32)
	case "load-address":
		c.LoadAddress = get(f).(uint32)
	case "program-size":
		c.ProgramSize = get(f).(uint32)
	case "relocation-limit":
		c.RelocationLimit = get(f).(uint64)
	case "memmap":
		c.MemoryMap = get(f).([]relocate.Range)
	default:
		// Flags of the subcommand itself.
	}
}

// hex32 is a 32-bit flag accepting any base, printed in hex.
type hex32 uint32

func (h *hex32) String() string {
	if h == nil {
		return "0x0"
	}
	return fmt.Sprintf("%#x", uint32(*h))
}

func (h *hex32) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return err
	}
	*h = hex32(v)
	return nil
}

func (h *hex32) Get() any {
	return uint32(*h)
}

// hex64 is hex32 for 64-bit values.
type hex64 uint64

func (h *hex64) String() string {
	if h == nil {
		return "0x0"
	}
	return fmt.Sprintf("%#x", uint64(*h))
}

func (h *hex64) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return err
	}
	*h = hex64(v)
	return nil
}

func (h *hex64) Get() any {
	return uint64(*h)
}

// segOff is a segment:offset flag.
type segOff realmode.SegOff

func (s *segOff) String() string {
	if s == nil {
		return "0000:0000"
	}
	return realmode.SegOff(*s).String()
}

func (s *segOff) Set(v string) error {
	so, err := ParseSegOff(v)
	if err != nil {
		return err
	}
	*s = segOff(so)
	return nil
}

func (s *segOff) Get() any {
	return realmode.SegOff(*s)
}

// ParseSegOff parses "ssss:oooo" with both halves in hex.
func ParseSegOff(v string) (realmode.SegOff, error) {
	seg, off, ok := strings.Cut(v, ":")
	if !ok {
		return realmode.SegOff{}, fmt.Errorf("invalid segment:offset %q", v)
	}
	s, err := strconv.ParseUint(strings.TrimPrefix(seg, "0x"), 16, 16)
	if err != nil {
		return realmode.SegOff{}, fmt.Errorf("invalid segment in %q: %w", v, err)
	}
	o, err := strconv.ParseUint(strings.TrimPrefix(off, "0x"), 16, 16)
	if err != nil {
		return realmode.SegOff{}, fmt.Errorf("invalid offset in %q: %w", v, err)
	}
	return realmode.SegOff{Segment: uint16(s), Offset: uint16(o)}, nil
}

// memoryMap is a list of ranges flag.
type memoryMap []relocate.Range

func (m *memoryMap) String() string {
	if m == nil {
		return ""
	}
	parts := make([]string, 0, len(*m))
	for _, r := range *m {
		parts = append(parts, fmt.Sprintf("%#x-%#x", r.Start, r.End))
	}
	return strings.Join(parts, ",")
}

func (m *memoryMap) Set(v string) error {
	mm, err := ParseMemoryMap(v)
	if err != nil {
		return err
	}
	*m = mm
	return nil
}

func (m *memoryMap) Get() any {
	return []relocate.Range(*m)
}

// ParseMemoryMap parses comma-separated "start-end" ranges. Numbers accept
// any Go integer base prefix.
func ParseMemoryMap(v string) ([]relocate.Range, error) {
	var ranges []relocate.Range
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		start, end, ok := strings.Cut(part, "-")
		if !ok {
			return nil, fmt.Errorf("invalid range %q, want start-end", part)
		}
		s, err := strconv.ParseUint(start, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid range start in %q: %w", part, err)
		}
		e, err := strconv.ParseUint(end, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid range end in %q: %w", part, err)
		}
		ranges = append(ranges, relocate.Range{Start: s, End: e})
	}
	return ranges, nil
}

// The helpers below allocate flag values initialised to a default, in the
// style of flag.Uint and friends.

func hex32Ptr(v uint32) *hex32 {
	h := hex32(v)
	return &h
}

func hex64Ptr(v uint64) *hex64 {
	h := hex64(v)
	return &h
}

func segOffPtr(v realmode.SegOff) *segOff {
	s := segOff(v)
	return &s
}

func memoryMapPtr(v []relocate.Range) *memoryMap {
	m := memoryMap(append([]relocate.Range(nil), v...))
	return &m
}
