// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// siti tool's new-plan subcommand implementation.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/evolution-gaming/siti/internal/encoding"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

func CreateNewPlanCommand() *NewPlanApp {
	longHelp := `Subcommand "new-plan" helps create a new plan configuration file template.
Output format is YAML when output file has .yaml or .yml extension, JSON otherwise.

Examples:

  siti new-plan -i path/to/input/video.mp4 -o plan.json
  siti new-plan -i video_source -o plan.yaml
  siti new-plan -i video1.mp4 -i video2.mp4 -o plan.json`

	app := &NewPlanApp{
		fs:       flag.NewFlagSet("new-plan", flag.ContinueOnError),
		usageOut: os.Stderr,
		out:      os.Stdout,
	}
	app.fs.StringVarP(&app.flOutFile, "output", "o", "", "Output file (stdout by default).")
	app.fs.StringArrayVarP(&app.flInputFiles, "input", "i", nil,
		"Source video files or directories. Use multiple times for multiple inputs.")

	app.fs.Usage = func() {
		printSubCommandUsage(app.usageOut, app.Name(), longHelp, app.fs)
	}

	return app
}

// Make sure NewPlanApp implements Commander interface.
var _ Commander = (*NewPlanApp)(nil)

type NewPlanApp struct {
	// FlagSet instance
	fs       *flag.FlagSet
	usageOut io.Writer
	// Default output
	out io.Writer
	// Output file to save plan to
	flOutFile string
	// Video input files
	flInputFiles []string
}

func (a *NewPlanApp) Name() string {
	return "new-plan"
}

func (a *NewPlanApp) Help() {
	a.fs.Usage()
}

// templatePlanConfig creates PlanConfig with a typical encoding grid.
func templatePlanConfig(inputs []string) encoding.PlanConfig {
	qps := []int{24, 30, 36}
	return encoding.PlanConfig{
		Inputs: inputs,
		Codecs: []encoding.Codec{
			{
				Name: "h265",
				CommandTpl: "ffmpeg -y -i %INPUT% -vf scale=%WIDTH%:%HEIGHT% " +
					"-c:v libx265 -x265-params qp=%QP% -an %OUTPUT%.mp4",
			},
			{
				Name: "av1",
				CommandTpl: "ffmpeg -y -i %INPUT% -vf scale=%WIDTH%:%HEIGHT% " +
					"-c:v libsvtav1 -qp %QP% -an %OUTPUT%.mkv",
			},
		},
		Resolutions: []encoding.Resolution{
			{Width: 640, Height: 360, QPs: qps},
			{Width: 1280, Height: 720, QPs: qps},
			{Width: 1920, Height: 1080, QPs: qps},
			{Width: 3840, Height: 2160, QPs: qps},
		},
	}
}

func (a *NewPlanApp) Run(args []string) error {
	a.fs.SetOutput(a.usageOut)
	if err := a.fs.Parse(args); err != nil {
		return usageError(a.Name(), err)
	}

	// In case no input video provided we will use some placeholder string.
	if len(a.flInputFiles) == 0 {
		a.flInputFiles = []string{"video_source"}
	}

	pc := templatePlanConfig(a.flInputFiles)

	out := a.out
	if a.flOutFile != "" {
		fd, err := os.Create(a.flOutFile)
		if err != nil {
			return &AppError{
				msg:      fmt.Sprintf("output file error: %s", err),
				exitCode: 1,
			}
		}
		defer fd.Close()
		out = fd
	}

	var err error
	switch strings.ToLower(filepath.Ext(a.flOutFile)) {
	case ".yaml", ".yml":
		e := yaml.NewEncoder(out)
		e.SetIndent(2)
		if err = e.Encode(pc); err == nil {
			err = e.Close()
		}
	default:
		e := json.NewEncoder(out)
		e.SetIndent("", "  ")
		err = e.Encode(pc)
	}
	if err != nil {
		return &AppError{
			msg:      fmt.Sprintf("plan marshal error: %s", err),
			exitCode: 1,
		}
	}

	return nil
}
