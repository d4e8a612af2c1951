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
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/rmstub/pkg/realmode"
	"gvisor.dev/rmstub/pkg/relocate"
	"gvisor.dev/rmstub/rmstub/boot"
	"gvisor.dev/rmstub/rmstub/cmd/util"
	"gvisor.dev/rmstub/rmstub/config"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	output string
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print the stub image layout and where it will be placed"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [options] - print the stub image layout and where it will be placed.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.output, "o", "table", "output format (table, json).")
}

// Placement describes where the stub and the program go.
type Placement struct {
	ImageSize      uint32          `json:"image_size"`
	StackSegmentAt uint32          `json:"stack_segment_at"`
	StackOffsetAt  uint32          `json:"stack_offset_at"`
	RefCountAt     uint32          `json:"ref_count_at"`
	FallbackBase   realmode.Addr   `json:"fallback_base"`
	FallbackStack  realmode.SegOff `json:"fallback_stack"`
	StackTop       realmode.Addr   `json:"stack_top"`
	BaseMemory     relocate.Range  `json:"base_memory"`
	ProgramFrom    uint32          `json:"program_from"`
	ProgramTo      uint32          `json:"program_to"`
}

// NewPlacement computes the placement conf describes.
func NewPlacement(conf *config.Config) (*Placement, error) {
	image, err := boot.LoadImage(conf)
	if err != nil {
		return nil, err
	}
	r := relocate.Relocator{Size: conf.ProgramSize, Limit: conf.RelocationLimit}
	to, err := r.Choose(conf.MemoryMap)
	if err != nil {
		return nil, err
	}
	layout := image.Layout()
	return &Placement{
		ImageSize:      image.Size(),
		StackSegmentAt: layout.StackSegment,
		StackOffsetAt:  layout.StackOffset,
		RefCountAt:     layout.RefCount,
		FallbackBase:   realmode.Addr(conf.FallbackBase),
		FallbackStack:  conf.FallbackStack,
		StackTop:       conf.FallbackStack.Addr(),
		BaseMemory:     relocate.Range{Start: uint64(conf.BaseMemoryFloor), End: uint64(conf.BaseMemoryCeiling)},
		ProgramFrom:    conf.LoadAddress,
		ProgramTo:      max(to, conf.LoadAddress),
	}, nil
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	p, err := NewPlacement(conf)
	if err != nil {
		util.Fatalf("computing placement: %v", err)
	}
	if err := p.write(os.Stdout, l.output); err != nil {
		util.Fatalf("writing layout: %v", err)
	}
	return subcommands.ExitSuccess
}

func (p *Placement) write(w io.Writer, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
		fmt.Fprintf(tw, "image size\t%#x\n", p.ImageSize)
		fmt.Fprintf(tw, "stack segment field\t+%#x\n", p.StackSegmentAt)
		fmt.Fprintf(tw, "stack offset field\t+%#x\n", p.StackOffsetAt)
		fmt.Fprintf(tw, "ref count field\t+%#x\n", p.RefCountAt)
		fmt.Fprintf(tw, "fallback base\t%v\n", p.FallbackBase)
		fmt.Fprintf(tw, "fallback stack\t%v (%v)\n", p.FallbackStack, p.StackTop)
		fmt.Fprintf(tw, "base memory\t%v\n", p.BaseMemory)
		fmt.Fprintf(tw, "program\t%#x -> %#x\n", p.ProgramFrom, p.ProgramTo)
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
