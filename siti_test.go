// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Tests for siti tool subcommands.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/evolution-gaming/siti/internal/encoding"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// readCSV reads all CSV records from file.
func readCSV(t *testing.T, file string) [][]string {
	t.Helper()
	fd, err := os.Open(file)
	require.NoError(t, err)
	defer fd.Close()
	records, err := csv.NewReader(fd).ReadAll()
	require.NoError(t, err, "Unexpected error reading CSV records")
	return records
}

func assertExitCode(t *testing.T, err error, want int) {
	t.Helper()
	var ae *AppError
	require.True(t, errors.As(err, &ae), "Expecting AppError, got %v", err)
	assert.Equal(t, want, ae.ExitCode())
}

func newAnalyseApp() *AnalyseApp {
	app := CreateAnalyseCommand()
	app.usageOut = io.Discard
	app.opener = fixOpener()
	return app
}

// Happy path functional test for analyse sub-command.
func Test_AnalyseApp_Run(t *testing.T) {
	fixFakeTools(t)
	inDir := fixVideoDir(t, "sports.mp4", "still.MKV", "notes.txt")
	outDir := filepath.Join(t.TempDir(), "out")
	dbFile := filepath.Join(t.TempDir(), "siti.db")

	t.Run("Should succeed", func(t *testing.T) {
		err := newAnalyseApp().Run([]string{
			"--in-dir", inDir, "--out-dir", outDir, "--jobs", "2", "--db", dbFile,
		})
		assert.NoError(t, err)
	})

	t.Run("Should have summary in input order", func(t *testing.T) {
		records := readCSV(t, filepath.Join(outDir, defaultSummaryFileName))
		require.Len(t, records, 3, "Expecting header and 2 videos")
		assert.Equal(t, []string{"input_file", "si_mean", "si_max", "ti_mean", "ti_max", "category"}, records[0])
		assert.Equal(t, "sports.mp4", records[1][0])
		assert.NotEmpty(t, records[1][3], "TI mean of multi-frame video")
		assert.Equal(t, "still.MKV", records[2][0])
		assert.Empty(t, records[2][3], "TI mean of single frame video")
		assert.Empty(t, records[2][4], "TI max of single frame video")
	})

	t.Run("Should have per-frame CSV", func(t *testing.T) {
		records := readCSV(t, filepath.Join(outDir, "sports_siti.csv"))
		require.Len(t, records, 6, "Expecting header and 5 frames")
		assert.Equal(t, []string{"n", "si", "ti"}, records[0])
		assert.Empty(t, records[1][2], "TI of first frame")
		assert.NotEmpty(t, records[2][2])
	})

	t.Run("Should create plots", func(t *testing.T) {
		for _, f := range []string{
			"sports_siti.png", "still_siti.png", allFramesPlotFile, averagesPlotFile,
		} {
			assert.FileExists(t, filepath.Join(outDir, f))
		}
	})

	t.Run("Should archive results", func(t *testing.T) {
		assert.FileExists(t, dbFile)
	})
}

func Test_AnalyseApp_Run_NoPlotsNoPerFrame(t *testing.T) {
	fixFakeTools(t)
	inDir := fixVideoDir(t, "sports.mp4")
	outDir := filepath.Join(t.TempDir(), "out")

	err := newAnalyseApp().Run([]string{
		"--in-dir", inDir, "--out-dir", outDir, "--plots=false", "--per-frame=false",
	})
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(outDir, "*"))
	require.NoError(t, err)
	want := []string{filepath.Join(outDir, defaultSummaryFileName)}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("Output files mismatch (-want +got):\n%s", diff)
	}
}

func Test_AnalyseApp_Run_MaxFrames(t *testing.T) {
	fixFakeTools(t)
	inDir := fixVideoDir(t, "sports.mp4")
	outDir := filepath.Join(t.TempDir(), "out")

	err := newAnalyseApp().Run([]string{
		"--in-dir", inDir, "--out-dir", outDir, "--max-frames", "3", "--plots=false",
	})
	require.NoError(t, err)

	records := readCSV(t, filepath.Join(outDir, "sports_siti.csv"))
	assert.Len(t, records, 4, "Expecting header and 3 frames")
}

// Failed videos do not abort the batch but make exit code non-zero.
func Test_AnalyseApp_Run_WithFailures(t *testing.T) {
	fixFakeTools(t)
	inDir := fixVideoDir(t, "a_broken.mp4", "b_empty.mp4", "c_sports.mp4")
	outDir := filepath.Join(t.TempDir(), "out")

	err := newAnalyseApp().Run([]string{"--in-dir", inDir, "--out-dir", outDir, "--plots=false"})
	assertExitCode(t, err, 1)
	assert.ErrorContains(t, err, "2 of 3 videos failed")

	records := readCSV(t, filepath.Join(outDir, defaultSummaryFileName))
	require.Len(t, records, 2, "Expecting header and 1 video")
	assert.Equal(t, "c_sports.mp4", records[1][0])
}

func Test_AnalyseApp_Run_FailFast(t *testing.T) {
	fixFakeTools(t)
	inDir := fixVideoDir(t, "a_broken.mp4", "b_sports.mp4", "c_sports.mp4")
	outDir := filepath.Join(t.TempDir(), "out")

	err := newAnalyseApp().Run([]string{
		"--in-dir", inDir, "--out-dir", outDir, "--fail-fast", "--plots=false",
	})
	assertExitCode(t, err, 1)
	assert.ErrorContains(t, err, "1 of 3 videos failed")

	// With a single job, nothing after the failed video is analysed.
	records := readCSV(t, filepath.Join(outDir, defaultSummaryFileName))
	assert.Len(t, records, 1, "Expecting header only")
}

func Test_AnalyseApp_Run_FlagErrors(t *testing.T) {
	fixFakeTools(t)
	inDir := fixVideoDir(t, "sports.mp4")
	emptyDir := t.TempDir()

	tests := map[string]struct {
		// substring in Error()
		want      string
		givenArgs []string
		wantCode  int
	}{
		"Wrong flags": {
			givenArgs: []string{"--zzz", "aaaa"},
			want:      "analyse usage error",
			wantCode:  2,
		},
		"Help": {
			givenArgs: []string{"-h"},
			want:      "analyse help requested",
			wantCode:  2,
		},
		"Zero jobs": {
			givenArgs: []string{"--in-dir", inDir, "--jobs", "0"},
			want:      "option --jobs should be at least 1",
			wantCode:  2,
		},
		"Negative max frames": {
			givenArgs: []string{"--in-dir", inDir, "--max-frames", "-1"},
			want:      "option --max-frames should not be negative",
			wantCode:  2,
		},
		"Non-existent input directory": {
			givenArgs: []string{"--in-dir", "a/yyy", "--out-dir", t.TempDir()},
			want:      "no such file or directory",
			wantCode:  1,
		},
		"No videos in input directory": {
			givenArgs: []string{"--in-dir", emptyDir, "--out-dir", t.TempDir()},
			want:      "no video files",
			wantCode:  1,
		},
		"Non-existent config file": {
			givenArgs: []string{"--conf", "missing-conf.json", "--in-dir", inDir},
			want:      "no such file or directory",
			wantCode:  1,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			gotErr := newAnalyseApp().Run(tc.givenArgs)
			assert.ErrorContains(t, gotErr, tc.want)
			assertExitCode(t, gotErr, tc.wantCode)
		})
	}
}

func Test_AnalyseApp_Run_InvalidConfig(t *testing.T) {
	fixFakeTools(t)
	inDir := fixVideoDir(t, "sports.mp4")
	confFile := filepath.Join(t.TempDir(), "conf.yaml")
	writeFile(t, confFile, "video_extensions: [mp4]\n", 0o644)

	err := newAnalyseApp().Run([]string{"--conf", confFile, "--in-dir", inDir})
	assertExitCode(t, err, 1)
	assert.ErrorContains(t, err, `video extension "mp4" should start with a dot`)
}

// Happy path functional test for encode sub-command.
func Test_EncodeApp_Run(t *testing.T) {
	fixFakeTools(t)
	srcDir := fixVideoDir(t, "clip.mp4")
	plan := fixPlanConfig(t, srcDir)
	outDir := filepath.Join(t.TempDir(), "out")

	app := CreateEncodeCommand()
	app.usageOut = io.Discard
	require.NoError(t, app.Run([]string{"--plan", plan, "--out-dir", outDir}))

	for _, f := range []string{"clip_copy_360p_qp30.mp4", "clip_copy_360p_qp36.mp4"} {
		assert.FileExists(t, filepath.Join(outDir, f))
	}

	records := readCSV(t, filepath.Join(outDir, encodeReportFile))
	require.Len(t, records, 3, "Expecting header and 2 encodings")
	assert.Equal(t, "name", records[0][0])
	assert.Equal(t, "clip_copy_360p_qp30.mp4", records[1][0])
	// Fake ffprobe reports 2 second videos.
	assert.Contains(t, records[1], "2")
}

func Test_EncodeApp_Run_DryRun(t *testing.T) {
	fixFakeTools(t)
	srcDir := fixVideoDir(t, "clip.mp4")
	plan := fixPlanConfig(t, srcDir)
	outDir := filepath.Join(t.TempDir(), "out")

	app := CreateEncodeCommand()
	require.NoError(t, app.Run([]string{"--plan", plan, "--out-dir", outDir, "--dry-run"}))
	assert.NoDirExists(t, outDir)
}

func Test_EncodeApp_Run_FailedEncoding(t *testing.T) {
	fixFakeTools(t)
	srcDir := fixVideoDir(t, "clip.mp4")
	plan := filepath.Join(t.TempDir(), "plan.json")
	writeFile(t, plan, `{
		"Inputs": ["`+srcDir+`"],
		"Codecs": [{"Name": "fail", "CommandTpl": "false %INPUT% %OUTPUT%.mp4"}],
		"Resolutions": [{"Width": 640, "Height": 360, "QPs": [30]}]
	}`, 0o644)
	outDir := filepath.Join(t.TempDir(), "out")

	err := CreateEncodeCommand().Run([]string{"--plan", plan, "--out-dir", outDir})
	assertExitCode(t, err, 1)

	records := readCSV(t, filepath.Join(outDir, encodeReportFile))
	require.Len(t, records, 2)
	assert.Contains(t, records[1], "true", "Failed column")
}

func Test_EncodeApp_Run_FlagErrors(t *testing.T) {
	fixFakeTools(t)
	plan := fixPlanConfig(t, fixVideoDir(t, "clip.mp4"))

	tests := map[string]struct {
		want      string
		givenArgs []string
	}{
		"Wrong flags": {
			givenArgs: []string{"--zzz", "aaaa", "--plan", plan},
			want:      "encode usage error",
		},
		"Mandatory plan flag missing": {
			givenArgs: []string{"--out-dir", t.TempDir()},
			want:      "mandatory option --plan is missing",
		},
		"Non-existent plan": {
			givenArgs: []string{"--plan", "a/yyy"},
			want:      "encoding plan file does not exist?",
		},
		"Invalid plan": {
			givenArgs: []string{"--plan", fixPlanConfigInvalid(t), "--out-dir", t.TempDir()},
			want:      "PlanConfig not valid",
		},
		"Empty flags": {
			givenArgs: []string{},
			want:      "mandatory option",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cmd := CreateEncodeCommand()
			// Discard usage output so that during test execution test output is
			// not flooded with command Usage/Help stuff.
			cmd.usageOut = io.Discard
			gotErr := cmd.Run(tc.givenArgs)
			assert.ErrorContains(t, gotErr, tc.want)
		})
	}
}

// Happy path functional test for quality sub-command.
func Test_QualityApp_Run(t *testing.T) {
	fixFakeTools(t)
	refDir := fixVideoDir(t, "clip.mp4")
	encDir := fixVideoDir(t,
		"clip_copy_360p_qp30.mp4",
		"clip_copy_360p_qp36.mp4",
		"clip_h265_720p_qp30.mp4",
		"other_copy_360p_qp30.mp4",
		"random.mp4",
	)
	outDir := filepath.Join(t.TempDir(), "out")

	app := fixQualityApp(t)
	err := app.Run([]string{
		"--ref-dir", refDir, "--enc-dir", encDir, "--out-dir", outDir,
		"--codec", "COPY", "--plots=false",
	})
	require.NoError(t, err)

	records := readCSV(t, filepath.Join(outDir, qualityResultsFile))
	want := [][]string{
		{"video", "source", "codec", "resolution", "qp", "bitrate_kbps", "vmaf", "vmaf_min", "vmaf_harmonic_mean", "psnr_mean", "ms_ssim_mean"},
		{"clip_copy_360p_qp30.mp4", "clip.mp4", "copy", "360p", "30", "1500", "95", "85", "94", "40", "0.98"},
		{"clip_copy_360p_qp36.mp4", "clip.mp4", "copy", "360p", "36", "800", "80", "70", "79", "40", "0.98"},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("Quality results mismatch (-want +got):\n%s", diff)
	}
	assert.FileExists(t, filepath.Join(outDir, rdPlotFile))

	frames := readCSV(t, filepath.Join(outDir, "clip_copy_360p_qp30_vmaf_frames.csv"))
	require.Len(t, frames, 4, "Expecting header and 3 frames")
	assert.Equal(t, []string{"frame", "vmaf", "psnr", "ms_ssim"}, frames[0])
	assert.NoFileExists(t, filepath.Join(outDir, "clip_copy_360p_qp30_vmaf.png"))
}

func Test_QualityApp_Run_Plots(t *testing.T) {
	fixFakeTools(t)
	refDir := fixVideoDir(t, "clip.mp4")
	encDir := fixVideoDir(t, "clip_av1_360p_qp30_upscaled.mkv")
	outDir := filepath.Join(t.TempDir(), "out")

	err := fixQualityApp(t).Run([]string{"--ref-dir", refDir, "--enc-dir", encDir, "--out-dir", outDir})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(outDir, "clip_av1_360p_qp30_upscaled_vmaf.png"))
	records := readCSV(t, filepath.Join(outDir, qualityResultsFile))
	require.Len(t, records, 2)
	assert.Equal(t, "av1+upscaled", records[1][2], "Suffixed encode is a separate codec curve")
}

func Test_QualityApp_Run_WithFailures(t *testing.T) {
	fixFakeTools(t)
	refDir := fixVideoDir(t, "clip.mp4")
	encDir := fixVideoDir(t, "clip_av1_360p_qp30.mp4", "clip_av1_360p_qp30_bad.mp4")
	outDir := filepath.Join(t.TempDir(), "out")

	err := fixQualityApp(t).Run([]string{
		"--ref-dir", refDir, "--enc-dir", encDir, "--out-dir", outDir, "--plots=false",
	})
	assertExitCode(t, err, 1)

	records := readCSV(t, filepath.Join(outDir, qualityResultsFile))
	require.Len(t, records, 2, "Expecting header and 1 scored video")
	assert.Equal(t, "clip_av1_360p_qp30.mp4", records[1][0])
}

func Test_QualityApp_Run_FlagErrors(t *testing.T) {
	fixFakeTools(t)

	tests := map[string]struct {
		want      string
		givenArgs []string
	}{
		"Wrong flags": {
			givenArgs: []string{"--zzz"},
			want:      "quality usage error",
		},
		"Bad resolution": {
			givenArgs: []string{"--resolution", "1920"},
			want:      "option --resolution",
		},
		"Zero fps": {
			givenArgs: []string{"--fps", "0"},
			want:      "option --fps should be positive",
		},
		"No encoded videos": {
			givenArgs: []string{"--ref-dir", t.TempDir(), "--enc-dir", t.TempDir()},
			want:      "no encoded videos found",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			gotErr := fixQualityApp(t).Run(tc.givenArgs)
			assert.ErrorContains(t, gotErr, tc.want)
		})
	}
}

func Test_QualityApp_Run_MissingModel(t *testing.T) {
	fixFakeTools(t)
	confFile := filepath.Join(t.TempDir(), "conf.json")
	writeFile(t, confFile, `{"libvmaf_model_path": "missing.json"}`, 0o644)

	app := CreateQualityCommand()
	app.usageOut = io.Discard
	err := app.Run([]string{"--conf", confFile})
	assertExitCode(t, err, 1)
	assert.ErrorContains(t, err, "invalid libvmaf model file path")
}

func Test_NewPlanApp_Run(t *testing.T) {
	tests := map[string]struct {
		outFile   string
		unmarshal func([]byte, any) error
	}{
		"JSON": {outFile: "plan.json", unmarshal: json.Unmarshal},
		"YAML": {outFile: "plan.yaml", unmarshal: yaml.Unmarshal},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), tc.outFile)
			app := CreateNewPlanCommand()
			require.NoError(t, app.Run([]string{"-i", "a.mp4", "-i", "b.mp4", "-o", out}))

			// Generated template should load back as PlanConfig.
			pc, err := encoding.LoadPlanConfig(out)
			require.NoError(t, err)
			assert.Equal(t, []string{"a.mp4", "b.mp4"}, pc.Inputs)
			assert.Equal(t, templatePlanConfig(nil).Codecs, pc.Codecs)
			assert.Equal(t, templatePlanConfig(nil).Resolutions, pc.Resolutions)
			assert.Nil(t, pc.Upscale)
		})
	}

	t.Run("Stdout with placeholder input", func(t *testing.T) {
		buf := &bytes.Buffer{}
		app := CreateNewPlanCommand()
		app.out = buf
		require.NoError(t, app.Run(nil))

		pc, err := encoding.NewPlanConfigFromJSON(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, []string{"video_source"}, pc.Inputs)
	})

	t.Run("Unwritable output", func(t *testing.T) {
		app := CreateNewPlanCommand()
		err := app.Run([]string{"-o", filepath.Join(t.TempDir(), "missing", "plan.json")})
		assert.ErrorContains(t, err, "output file error")
	})
}

func Test_BitrateApp_Run_FlagErrors(t *testing.T) {
	fixFakeTools(t)

	tests := map[string]struct {
		want      string
		givenArgs []string
	}{
		"Wrong flags": {
			givenArgs: []string{"--zzz"},
			want:      "bitrate usage error",
		},
		"Mandatory input missing": {
			givenArgs: []string{},
			want:      "mandatory option -i is missing",
		},
		"Non-existent input": {
			givenArgs: []string{"-i", "a/yyy.mp4"},
			want:      "video file should exist",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			app := CreateBitrateCommand()
			app.usageOut = io.Discard
			assert.ErrorContains(t, app.Run(tc.givenArgs), tc.want)
		})
	}
}

func Test_root(t *testing.T) {
	tests := map[string]struct {
		givenArgs []string
		wantCode  int
	}{
		"No command":      {givenArgs: nil, wantCode: 2},
		"Unknown command": {givenArgs: []string{"zzz"}, wantCode: 2},
		"Help":            {givenArgs: []string{"--help"}, wantCode: 2},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assertExitCode(t, root(tc.givenArgs), tc.wantCode)
		})
	}

	t.Run("Version", func(t *testing.T) {
		assert.NoError(t, root([]string{"version"}))
	})

	t.Run("Aliases resolve to commands", func(t *testing.T) {
		want := map[string]string{
			"analyse":   "analyse",
			"analyze":   "analyse",
			"encode":    "encode",
			"new-plan":  "new-plan",
			"quality":   "quality",
			"vmaf":      "quality",
			"bitrate":   "bitrate",
			"dump-conf": "dump-conf",
			"dump":      "dump-conf",
		}
		got := make(map[string]string, len(commands))
		for alias, create := range commands {
			got[alias] = create().Name()
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Command aliases mismatch (-want +got):\n%s", diff)
		}
	})
}
