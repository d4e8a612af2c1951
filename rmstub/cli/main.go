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

// Package cli is the main entrypoint for rmstub.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"gvisor.dev/rmstub/pkg/log"
	"gvisor.dev/rmstub/rmstub/cmd"
	"gvisor.dev/rmstub/rmstub/cmd/util"
	"gvisor.dev/rmstub/rmstub/config"
)

// version is set at link time with -X.
var version = "VERSION_MISSING"

// versionFlagName is the name of a flag that triggers printing the version.
const versionFlagName = "version"

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)
	showVersion := flag.Bool(versionFlagName, false, "show version and exit.")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if *showVersion {
		fmt.Fprintf(os.Stdout, "rmstub version %s\n", version)
		os.Exit(0)
	}

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	var logFile io.Writer
	if conf.LogFilename != "" {
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			util.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		util.ErrorLogger = f
		logFile = f
	}

	if conf.Debug {
		log.SetLevel(log.Debug)
	}
	log.SetTarget(logTarget(conf, flag.CommandLine.Arg(0), logFile, os.Stderr))

	const delimString = `**************** rmstub ****************`
	log.Infof(delimString)
	log.Infof("Version %s, %s, %s, %s, PID %d", version, runtime.Version(), runtime.GOARCH, runtime.GOOS, os.Getpid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode == subcommands.ExitSuccess {
		log.Infof("Exiting with status: %v", subcmdCode)
		os.Exit(0)
	}
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by rmstub.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Run), "")
	cb(new(cmd.Layout), "")

	const debugGroup = "debug"
	cb(new(cmd.ConfigCmd), debugGroup)
}

// logTarget returns where logs go: logFile if set, stderr if not, and both
// with --alsologtostderr.
func logTarget(conf *config.Config, subcommand string, logFile, stderr io.Writer) log.Emitter {
	var emitters log.MultiEmitter
	if logFile != nil {
		emitters = append(emitters, newEmitter(conf.LogFormat, subcommand, logFile))
	}
	if logFile == nil || conf.AlsoLogToStderr {
		emitters = append(emitters, newEmitter(conf.LogFormat, subcommand, stderr))
	}
	if len(emitters) == 1 {
		// Use the singular emitter to avoid needless `for` loop overhead
		// when logging to a single place.
		return emitters[0]
	}
	return &emitters
}

func newEmitter(format, subcommand string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}, Subcommand: subcommand}
	case "logrus":
		l := logrus.New()
		l.SetOutput(logFile)
		l.SetLevel(logrus.DebugLevel)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return log.LogrusEmitter{Logger: l}
	}
	util.Fatalf("invalid log format %q, must be 'text', 'json', or 'logrus'", format)
	panic("unreachable")
}
