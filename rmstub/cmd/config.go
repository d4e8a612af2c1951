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
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"gvisor.dev/rmstub/rmstub/cmd/util"
	"gvisor.dev/rmstub/rmstub/config"
)

// ConfigCmd implements subcommands.Command for the "config" command.
type ConfigCmd struct {
	output string
}

// Name implements subcommands.Command.Name.
func (*ConfigCmd) Name() string {
	return "config"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*ConfigCmd) Synopsis() string {
	return "print the effective configuration"
}

// Usage implements subcommands.Command.Usage.
func (*ConfigCmd) Usage() string {
	return `config [options] - print the effective configuration.

The output can be passed back with --config.

EXAMPLE:
    $ rmstub --fallback-base=0x8000 config -o yaml > rmstub.yaml
    $ rmstub --config rmstub.yaml run
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *ConfigCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.output, "o", "toml", "output format (toml, yaml).")
}

// Execute implements subcommands.Command.Execute.
func (c *ConfigCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := writeConfig(os.Stdout, c.output, conf); err != nil {
		util.Fatalf("writing config: %v", err)
	}
	return subcommands.ExitSuccess
}

func writeConfig(w io.Writer, format string, conf *config.Config) error {
	switch format {
	case "toml":
		return toml.NewEncoder(w).Encode(conf)
	case "yaml":
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(conf); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
