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

// Package config provides basic infrastructure to set configuration settings
// for rmstub. The configuration is set by flags to the command line, and can
// be preloaded from a TOML or YAML file named by --config. Flags given on the
// command line take precedence over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"
	"gvisor.dev/rmstub/pkg/log"
	"gvisor.dev/rmstub/pkg/realmode"
	"gvisor.dev/rmstub/pkg/relocate"
	"gvisor.dev/rmstub/pkg/stub"
)

// Config holds configuration for one simulated activation.
type Config struct {
	// Debug indicates that debug logging should be enabled.
	Debug bool `toml:"debug" yaml:"debug"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `toml:"log" yaml:"log"`

	// AlsoLogToStderr logs to stderr in addition to LogFilename.
	AlsoLogToStderr bool `toml:"alsologtostderr" yaml:"alsologtostderr"`

	// LogFormat is the log format: text, json or logrus.
	LogFormat string `toml:"log_format" yaml:"log_format"`

	// MemorySize is the size of simulated physical memory, in bytes.
	MemorySize uint32 `toml:"memory_size" yaml:"memory_size"`

	// MappedMemory backs simulated memory with an anonymous mapping instead
	// of the Go heap.
	MappedMemory bool `toml:"mapped_memory" yaml:"mapped_memory"`

	// FallbackBase is the physical address of the startup install when the
	// program was not entered through a resident stub.
	FallbackBase uint32 `toml:"fallback_base" yaml:"fallback_base"`

	// FallbackStack is the scratch stack pointer set by the startup install.
	FallbackStack realmode.SegOff `toml:"fallback_stack" yaml:"fallback_stack"`

	// StrictStack enables scratch stack overflow checks.
	StrictStack bool `toml:"strict_stack" yaml:"strict_stack"`

	// BaseMemoryFloor and BaseMemoryCeiling bound the base memory the
	// allocator hands out.
	BaseMemoryFloor   uint32 `toml:"basemem_floor" yaml:"basemem_floor"`
	BaseMemoryCeiling uint32 `toml:"basemem_ceiling" yaml:"basemem_ceiling"`

	// Layout is the stub layout.
	Layout stub.Layout `toml:"layout" yaml:"layout"`

	// ImageFile is a file holding the stub code. If empty, a synthetic image
	// is used.
	ImageFile string `toml:"image" yaml:"image"`

	// EnteredAt, if non-zero, is the physical address of a stub installed
	// by an earlier stage that the program was entered through.
	EnteredAt uint32 `toml:"entered_at" yaml:"entered_at"`

	// LoadAddress is the physical address the program starts at, before
	// relocation.
	LoadAddress uint32 `toml:"load_address" yaml:"load_address"`

	// ProgramSize is the size of the program to relocate.
	ProgramSize uint32 `toml:"program_size" yaml:"program_size"`

	// RelocationLimit is one past the highest address the program may be
	// relocated to. Zero means 4GiB.
	RelocationLimit uint64 `toml:"relocation_limit" yaml:"relocation_limit"`

	// MemoryMap is the usable physical memory the program can relocate
	// into.
	MemoryMap []relocate.Range `toml:"memory_map" yaml:"memory_map"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LogFormat:         "text",
		MemorySize:        0x110000,
		FallbackBase:      uint32(stub.DefaultFallbackBase),
		FallbackStack:     realmode.SegOff{Segment: stub.DefaultFallbackStackSegment, Offset: stub.DefaultFallbackStackOffset},
		StrictStack:       true,
		BaseMemoryFloor:   0x10000,
		BaseMemoryCeiling: 0xa0000,
		Layout:            stub.DefaultLayout,
		LoadAddress:       0x100000,
		ProgramSize:       0x40000,
		MemoryMap: []relocate.Range{
			{Start: 0, End: 0x9fc00},
			{Start: 0x100000, End: 0x8000000},
		},
	}
}

// LoadFile overlays the settings in path onto c. The format is chosen by the
// file extension: .yaml or .yml for YAML, anything else for TOML.
func (c *Config) LoadFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing YAML config %q: %w", path, err)
		}
	default:
		md, err := toml.DecodeFile(path, c)
		if err != nil {
			return fmt.Errorf("parsing TOML config %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown keys in config %q: %v", path, undecoded)
		}
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "text", "json", "logrus":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json' or 'logrus'", c.LogFormat)
	}
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("invalid stub layout: %w", err)
	}
	if c.BaseMemoryCeiling <= c.BaseMemoryFloor {
		return fmt.Errorf("base memory ceiling %#x not above floor %#x", c.BaseMemoryCeiling, c.BaseMemoryFloor)
	}
	if c.BaseMemoryCeiling > c.MemorySize {
		return fmt.Errorf("base memory ceiling %#x beyond memory size %#x", c.BaseMemoryCeiling, c.MemorySize)
	}
	if uint64(c.FallbackBase)+uint64(c.Layout.Size) > uint64(c.MemorySize) {
		return fmt.Errorf("fallback base %#x does not fit stub in memory", c.FallbackBase)
	}
	if c.EnteredAt != 0 && uint64(c.EnteredAt)+uint64(c.Layout.Size) > uint64(c.MemorySize) {
		return fmt.Errorf("entry address %#x does not fit stub in memory", c.EnteredAt)
	}
	if len(c.MemoryMap) == 0 {
		return fmt.Errorf("memory map is empty")
	}
	for _, r := range c.MemoryMap {
		if r.End <= r.Start {
			return fmt.Errorf("invalid memory map range %v", r)
		}
	}
	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// StubOptions returns the stub controller options c describes.
func (c *Config) StubOptions() stub.Options {
	return stub.Options{
		FallbackBase:  realmode.Addr(c.FallbackBase),
		FallbackStack: c.FallbackStack,
		StrictStack:   c.StrictStack,
	}
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config: memory %#x bytes (mapped=%t), base memory [%#x,%#x)",
		c.MemorySize, c.MappedMemory, c.BaseMemoryFloor, c.BaseMemoryCeiling)
	log.Infof("Config: stub layout %+v, image %q", c.Layout, c.ImageFile)
	log.Infof("Config: fallback %#x stack %v strict=%t, entered at %#x",
		c.FallbackBase, c.FallbackStack, c.StrictStack, c.EnteredAt)
	log.Infof("Config: program %#x bytes at %#x, memory map %v, limit %#x",
		c.ProgramSize, c.LoadAddress, c.MemoryMap, c.RelocationLimit)
}
