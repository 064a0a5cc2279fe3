// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// siti tool's encode subcommand implementation.

package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/evolution-gaming/siti/internal/encoding"
	"github.com/evolution-gaming/siti/internal/logging"
	"github.com/evolution-gaming/siti/internal/metric"
	flag "github.com/spf13/pflag"
)

const encodeReportFile = "encode_report.csv"

// CreateEncodeCommand will create Commander instance from EncodeApp.
func CreateEncodeCommand() *EncodeApp {
	longHelp := `Subcommand "encode" will execute encoding plan according to definition in file
provided as parameter to --plan flag. This flag is mandatory. Plan can be JSON
or YAML, each (source, codec, resolution, QP) combination is encoded into
output directory as <source>_<codec>_<height>p_qp<qp>.<ext>.

Examples:

  siti encode --plan plan.yaml --out-dir video_encoded
  siti encode --plan plan.json --out-dir video_encoded --dry-run`

	app := &EncodeApp{
		fs:       flag.NewFlagSet("encode", flag.ContinueOnError),
		usageOut: os.Stderr,
		gf:       globalFlags{},
		mStore:   metric.NewStore[metric.EncodeRecord](),
	}
	app.gf.Register(app.fs)
	app.fs.StringVar(&app.flPlan, "plan", "", "Encoding plan configuration file")
	app.fs.StringVar(&app.flOutDir, "out-dir", "video_encoded", "Output directory to store encoded videos")
	app.fs.BoolVar(&app.flDryRun, "dry-run", false, "Do not actually run, just do checks and validation")
	app.fs.Usage = func() {
		printSubCommandUsage(app.usageOut, app.Name(), longHelp, app.fs)
	}

	return app
}

// Make sure EncodeApp implements Commander interface.
var _ Commander = (*EncodeApp)(nil)

// EncodeApp is subcommand application context that implements Commander interface.
type EncodeApp struct {
	// Configuration object
	cfg *Config
	// FlagSet instance
	fs       *flag.FlagSet
	usageOut io.Writer
	// Global flags
	gf globalFlags
	// Encoding plan config file flag
	flPlan string
	// Output directory for encoded videos
	flOutDir string
	// Dry run mode flag
	flDryRun bool
	// Encoding metric store
	mStore *metric.Store[metric.EncodeRecord]
}

func (a *EncodeApp) Name() string {
	return "encode"
}

func (a *EncodeApp) Help() {
	a.fs.Usage()
}

// init will do App state initialization.
func (a *EncodeApp) init(args []string) error {
	a.fs.SetOutput(a.usageOut)
	if err := a.fs.Parse(args); err != nil {
		return usageError(a.Name(), err)
	}
	a.gf.apply()

	// Encoding plan config file is mandatory.
	if a.flPlan == "" {
		a.Help()
		return &AppError{
			exitCode: 2,
			msg:      "mandatory option --plan is missing",
		}
	}

	// Encoding plan config file should exist.
	if _, err := os.Stat(a.flPlan); err != nil {
		a.Help()
		return &AppError{
			exitCode: 2,
			msg:      fmt.Sprintf("encoding plan file does not exist? %s", err),
		}
	}

	if a.flOutDir == "" {
		a.Help()
		return &AppError{exitCode: 2, msg: "option --out-dir should not be empty"}
	}

	// Load application configuration.
	c, err := LoadConfig(a.gf.ConfFile)
	if err != nil {
		return &AppError{exitCode: 1, msg: err.Error()}
	}
	a.cfg = &c

	return nil
}

// Run is main entry point into EncodeApp execution.
func (a *EncodeApp) Run(args []string) error {
	if err := a.init(args); err != nil {
		return err
	}

	logging.Debugf("Encoding plan config file: %v", a.flPlan)

	pc, err := loadPlanConfig(a.flPlan, a.cfg.Extensions())
	if err != nil {
		return &AppError{exitCode: 1, msg: err.Error()}
	}

	// To avoid ambiguity, resolve output path to absolute representation.
	outDirPath, err := filepath.Abs(a.flOutDir)
	if err != nil {
		return &AppError{exitCode: 1, msg: err.Error()}
	}
	plan := encoding.NewPlan(pc, outDirPath)
	plan.FfprobePath = a.cfg.FfprobePath.Value()
	logging.Infof("Encoding plan has %d commands", len(plan.Commands))

	// Early return in "dry run" mode.
	if a.flDryRun {
		for i := range plan.Commands {
			logging.Debugf("%s: %s", plan.Commands[i].Name, plan.Commands[i].Cmd)
		}
		logging.Info("Dry run mode finished!")
		return nil
	}

	result, runErr := plan.Run()
	// Make sure to log any errors from RunResults.
	if ur := unrollResultErrors(result.RunResults); ur != "" {
		logging.Infof("Run had following ERRORS:\n%s", ur)
	}

	for i := range result.RunResults {
		a.storeResult(&result.RunResults[i])
	}

	reportPath := filepath.Join(outDirPath, encodeReportFile)
	if err := writeCSV(reportPath, a.mStore.All()); err != nil {
		return &AppError{exitCode: 1, msg: err.Error()}
	}
	logging.Infof("Encoding report written to %s", reportPath)

	if runErr != nil {
		return &AppError{exitCode: 1, msg: fmt.Sprintf("plan run: %s", runErr)}
	}
	logging.Info("Done")
	return nil
}

// storeResult stores encoding (and upscale) run figures into mStore.
func (a *EncodeApp) storeResult(res *encoding.RunResult) {
	cpu := res.Stats.CPUPercent()
	if math.IsNaN(cpu) || math.IsInf(cpu, 0) {
		cpu = 0
	}
	id := a.mStore.Insert(metric.EncodeRecord{
		Name:             res.Name.String(),
		SourceFile:       res.SourceFile,
		CompressedFile:   res.CompressedFile,
		Cmd:              res.Cmd,
		Skipped:          res.Skipped,
		Failed:           len(res.Errors) != 0,
		ExitCode:         res.ExitCode(),
		HElapsed:         res.Stats.HElapsed,
		HUtime:           res.Stats.HUtime,
		HStime:           res.Stats.HStime,
		MaxRss:           res.Stats.MaxRss,
		CPUPercent:       cpu,
		VideoDuration:    res.VideoDuration,
		AvgEncodingSpeed: res.AvgEncodingSpeed,
	})
	logging.Debugf("Storing record (id=%v) with encoding metrics", id)

	if res.UpscaleResult != nil {
		a.storeResult(res.UpscaleResult)
	}
}
