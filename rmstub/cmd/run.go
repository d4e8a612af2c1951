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

// Package cmd holds implementations of the rmstub commands.
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
	"golang.org/x/term"
	"gvisor.dev/rmstub/rmstub/boot"
	"gvisor.dev/rmstub/rmstub/cmd/util"
	"gvisor.dev/rmstub/rmstub/config"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	calls  int
	args   string
	output string
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "simulate one activation of a program carrying the stub"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [options] - simulate one activation of a program carrying the stub.

The program is entered, installs the stub, relocates, makes real-mode calls
through the stub's scratch stack and shuts down. Each step is printed with the
stub's state after it.

EXAMPLE:
    $ rmstub --entered-at=0x90000 run -calls=3
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.calls, "calls", 1, "number of real-mode calls to make.")
	f.StringVar(&r.args, "args", "PXENV+", "arguments staged on the scratch stack for each call.")
	f.StringVar(&r.output, "o", "auto", "output format (table, json, or auto for a table on terminals and json otherwise).")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	m, err := boot.New(conf)
	if err != nil {
		util.Fatalf("creating machine: %v", err)
	}
	defer m.Close()

	format := r.output
	if format == "auto" {
		format = "json"
		if term.IsTerminal(int(os.Stdout.Fd())) {
			format = "table"
		}
	}

	events, runErr := m.Run(r.calls, []byte(r.args))
	if err := writeEvents(os.Stdout, format, events); err != nil {
		util.Fatalf("writing trace: %v", err)
	}
	if runErr != nil {
		util.Fatalf("%v", runErr)
	}
	return subcommands.ExitSuccess
}

func writeEvents(w io.Writer, format string, events []boot.Event) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "STEP\tBASE\tLOCATION\tALLOCATED\tSTACK\tREFS\tFREE KIB\tDETAIL")
		for _, ev := range events {
			fmt.Fprintf(tw, "%s\t%v\t%v\t%t\t%v\t%d\t%d\t%s\n",
				ev.Step, ev.Stub.Base, ev.Stub.Location, ev.Stub.Allocated,
				ev.Stub.Fields.Stack, ev.Stub.Fields.RefCount, ev.FreeBaseKB, ev.Detail)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
