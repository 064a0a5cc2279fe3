// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Reusable parts of siti application and subcommand infrastructure.
package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/evolution-gaming/siti/internal/encoding"
	"github.com/evolution-gaming/siti/internal/logging"
	"github.com/jszwec/csvutil"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"
)

// Commander interface should be implemented by commands and sub-commands.
type Commander interface {
	Run([]string) error
	Name() string
	Help()
}

// AppError a custom error returned from CLI application.
//
// AppError is handy error type envisioned to be used in CLI's main.
// ExitCode() should be used as argument for os.Exit().
type AppError struct {
	msg      string
	exitCode int
}

// Error implements error interface for AppError.
func (e *AppError) Error() string {
	return e.msg
}

// ExitCode returns CLI application's exit code.
func (e *AppError) ExitCode() int {
	return e.exitCode
}

// usageError wraps flag parsing error into AppError.
func usageError(name string, err error) *AppError {
	if errors.Is(err, flag.ErrHelp) {
		return &AppError{exitCode: 2, msg: fmt.Sprintf("%s help requested", name)}
	}
	return &AppError{exitCode: 2, msg: fmt.Sprintf("%s usage error: %s", name, err)}
}

// printSubCommandUsage helper to format and print subcommand's usage.
func printSubCommandUsage(w io.Writer, name, longHelp string, fs *flag.FlagSet) {
	fmt.Fprintf(w, "Usage of sub-command %s:\n\n", name)
	fmt.Fprintf(w, "%s\n\n", longHelp)
	fmt.Fprint(w, fs.FlagUsages())
}

// unrollResultErrors helper to unroll all errors from RunResults into a string.
func unrollResultErrors(results []encoding.RunResult) string {
	sb := strings.Builder{}
	for i := range results {
		rr := &results[i]
		for _, e := range rr.Errors {
			sb.WriteString(fmt.Sprintf("%s:\n\t%s\n", rr.Name, e.Error()))
		}
		if rr.UpscaleResult != nil {
			sb.WriteString(unrollResultErrors([]encoding.RunResult{*rr.UpscaleResult}))
		}
	}
	return sb.String()
}

// loadPlanConfig creates a valid PlanConfig from JSON or YAML file.
//
// Directories listed in Inputs are expanded to video files they contain.
func loadPlanConfig(cfgFile string, exts []string) (pc encoding.PlanConfig, err error) {
	pc, err = encoding.LoadPlanConfig(cfgFile)
	if err != nil {
		return pc, fmt.Errorf("cannot create PlanConfig: %w", err)
	}

	if err := pc.ExpandInputs(exts); err != nil {
		return pc, fmt.Errorf("expanding plan inputs: %w", err)
	}

	if ok, err := pc.IsValid(); !ok {
		ev := &encoding.PlanConfigError{}
		if errors.As(err, &ev) {
			logging.Debugf(
				"PlanConfig validation failures:\n%s",
				strings.Join(ev.Reasons(), "\n"))
		}
		return pc, fmt.Errorf("PlanConfig not valid: %w", err)
	}

	return pc, nil
}

// isNonEmptyDir will check if given directory is non-empty.
func isNonEmptyDir(path string) bool {
	fs, err := os.Open(path)
	if err != nil {
		return false
	}
	defer fs.Close()

	n, _ := fs.Readdirnames(1)
	return len(n) == 1
}

// writeCSV writes records as CSV file with header derived from csv struct tags.
func writeCSV[T any](file string, records []T) error {
	fd, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("creating CSV file: %w", err)
	}
	defer fd.Close()

	w := csv.NewWriter(fd)
	if err := csvutil.NewEncoder(w).Encode(records); err != nil {
		return fmt.Errorf("writing CSV %s: %w", file, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing CSV %s: %w", file, err)
	}

	return fd.Close()
}

// newProgressBar creates console progress bar, a hidden one when not enabled.
func newProgressBar(enabled bool, max int, description, unit string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetVisibility(enabled),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetItsString(unit),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
	)
}
