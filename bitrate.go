// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// siti tool's bitrate subcommand implementation.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/evolution-gaming/siti/internal/analysis"
	"github.com/evolution-gaming/siti/internal/logging"
	"github.com/evolution-gaming/siti/internal/video"
	flag "github.com/spf13/pflag"
)

// Make sure BitrateApp implements Commander interface.
var _ Commander = (*BitrateApp)(nil)

// BitrateApp is bitrate subcommand context that implements Commander interface.
type BitrateApp struct {
	// Configuration object
	cfg *Config
	// FlagSet instance
	fs       *flag.FlagSet
	usageOut io.Writer
	// Input video file path
	flInFile string
	// Plot output file
	flOutFile string
	// Global flags
	gf globalFlags
}

// CreateBitrateCommand will create Commander instance from BitrateApp.
func CreateBitrateCommand() *BitrateApp {
	longHelp := `Subcommand "bitrate" will create bitrate and frame size plot for given video file.

Examples:

  siti bitrate -i video_encoded/clip_av1_720p_qp30.mkv
  siti bitrate -i clip.mp4 -o clip_bitrate.png`
	app := &BitrateApp{
		fs:       flag.NewFlagSet("bitrate", flag.ContinueOnError),
		usageOut: os.Stderr,
		gf:       globalFlags{},
	}
	app.gf.Register(app.fs)
	app.fs.StringVarP(&app.flInFile, "input", "i", "", "Input video file (mandatory)")
	app.fs.StringVarP(&app.flOutFile, "output", "o", "", "File to save plot to")

	app.fs.Usage = func() {
		printSubCommandUsage(app.usageOut, app.Name(), longHelp, app.fs)
	}
	return app
}

func (a *BitrateApp) Name() string {
	return "bitrate"
}

func (a *BitrateApp) Help() {
	a.fs.Usage()
}

// Run is main entry point into BitrateApp execution.
func (a *BitrateApp) Run(args []string) error {
	a.fs.SetOutput(a.usageOut)
	if err := a.fs.Parse(args); err != nil {
		return usageError(a.Name(), err)
	}
	a.gf.apply()

	if a.flInFile == "" {
		a.Help()
		return &AppError{
			exitCode: 2,
			msg:      "mandatory option -i is missing",
		}
	}

	// Load application configuration.
	c, err := LoadConfig(a.gf.ConfFile)
	if err != nil {
		return &AppError{exitCode: 1, msg: err.Error()}
	}
	a.cfg = &c

	if !fileExists(a.cfg.FfprobePath.Value()) {
		return &AppError{exitCode: 1, msg: "configuration validation: invalid ffprobe path"}
	}

	if a.flOutFile == "" {
		a.flOutFile = video.Stem(a.flInFile) + "_bitrate.png"
	}

	if _, err := os.Stat(a.flInFile); err != nil {
		return &AppError{exitCode: 1, msg: fmt.Sprintf("video file should exist: %s", err)}
	}

	logging.Infof("Output will be written to: %s", a.flOutFile)

	if err := analysis.MultiPlotBitrate(a.flInFile, a.flOutFile, a.cfg.FfprobePath.Value()); err != nil {
		return &AppError{
			exitCode: 1,
			msg:      err.Error(),
		}
	}

	return nil
}
