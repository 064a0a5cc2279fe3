// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Main entrypoint for siti application

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/evolution-gaming/siti/internal/logging"
)

const rootUsage = `SITI - Spatial and Temporal Information video complexity analyzer

Usage:

    siti <command> [arguments] [-h|--help]

The commands are:

    analyse     calculate SI/TI of all videos in a directory
    encode      batch execute encodings according to "encoding plan"
    new-plan    create encoding plan template
    quality     calculate VMAF of encoded videos against their sources
    bitrate     create bitrate plot of given video file
    dump-conf   output actual application configuration
    version     print siti version and exit

Use "siti <command> -h|--help" for more information about command.`

// commands maps command names (and aliases) to their constructors.
var commands = map[string]func() Commander{
	"analyse":   func() Commander { return CreateAnalyseCommand() },
	"analyze":   func() Commander { return CreateAnalyseCommand() },
	"encode":    func() Commander { return CreateEncodeCommand() },
	"new-plan":  func() Commander { return CreateNewPlanCommand() },
	"quality":   func() Commander { return CreateQualityCommand() },
	"vmaf":      func() Commander { return CreateQualityCommand() },
	"bitrate":   func() Commander { return CreateBitrateCommand() },
	"dump-conf": func() Commander { return CreateDumpConfCommand() },
	"dump":      func() Commander { return CreateDumpConfCommand() },
}

// root represents top level of siti command, including dispatching to subcommands.
func root(args []string) error {
	if len(args) < 1 {
		fmt.Println(rootUsage)
		return &AppError{msg: "please, specify command", exitCode: 2}
	}

	if create, ok := commands[args[0]]; ok {
		return create().Run(args[1:])
	}

	switch args[0] {
	case "version", "--version":
		printVersion(os.Stdout)
		return nil
	case "-h", "-help", "--help", "?":
		fmt.Println(rootUsage)
		return &AppError{exitCode: 2}
	default:
		// No commands were matched at this point, so bail out with default usage message.
		fmt.Println(rootUsage)
		return &AppError{
			msg:      fmt.Sprintf("unknown command/flag: %s", args[0]),
			exitCode: 2,
		}
	}
}

func main() {
	// Enable info logger by default and early enough.
	logging.EnableInfoLogger()

	if err := root(os.Args[1:]); err != nil {
		var ae *AppError
		if errors.As(err, &ae) {
			if ae.Error() != "" {
				fmt.Fprintln(os.Stderr, ae)
			}
			os.Exit(ae.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
