// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Reusable helpers and fixtures for tests.
package main

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/evolution-gaming/siti/internal/siti"
	"github.com/evolution-gaming/siti/internal/vqm"
	"github.com/stretchr/testify/require"
)

// fakeFfprobeOutput is what fake ffprobe prints for any file.
const fakeFfprobeOutput = `{
  "streams": [{"codec_type": "video", "codec_name": "h264", "r_frame_rate": "25/1",
    "duration": "2.000000", "width": 160, "height": 120, "nb_frames": "50"}],
  "format": {"duration": "2.000000", "bit_rate": "1500000"}
}`

// fixFakeTools fixture creates fake ffmpeg and ffprobe executables and points
// configuration at them via environment.
//
// Fake ffmpeg always fails, fake ffprobe reports a fixed 2 second video.
func fixFakeTools(t *testing.T) (ffmpeg, ffprobe string) {
	t.Helper()
	dir := t.TempDir()
	ffmpeg = filepath.Join(dir, "ffmpeg")
	ffprobe = filepath.Join(dir, "ffprobe")
	writeFile(t, ffmpeg, "#!/bin/sh\necho \"fake ffmpeg $*\" >&2\nexit 1\n", 0o755)
	writeFile(t, ffprobe, "#!/bin/sh\ncat <<'EOF'\n"+fakeFfprobeOutput+"\nEOF\n", 0o755)

	t.Setenv("SITI_FFMPEG", ffmpeg)
	t.Setenv("SITI_FFPROBE", ffprobe)
	return ffmpeg, ffprobe
}

func writeFile(t *testing.T, name, content string, perm fs.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(name, []byte(content), perm))
}

// fixVideoDir fixture creates directory with placeholder video files.
func fixVideoDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		writeFile(t, filepath.Join(dir, n), "not really a video", 0o644)
	}
	return dir
}

// memSource is an in-memory FrameSource.
type memSource struct {
	frames []*siti.Frame
	pos    int
}

func (s *memSource) Next() (*siti.Frame, error) {
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *memSource) Close() error {
	return nil
}

// fixFrame creates a textured 32x24 frame, texture moves with n.
func fixFrame(n int) *siti.Frame {
	f := siti.NewFrame(32, 24)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			f.Pix[y*f.Width+x] = float64(((x+n)*(x+n) + 3*y) % 256)
		}
	}
	return f
}

// fixOpener fixture provides SourceOpener backed by in-memory frames.
//
// Frame count is taken from file name: "still" gives 1 frame, "broken" fails
// to open, "empty" has no frames, anything else has 5 frames.
func fixOpener() siti.SourceOpener {
	return siti.OpenerFunc(func(videoFile string) (siti.FrameSource, error) {
		base := filepath.Base(videoFile)
		n := 5
		switch {
		case strings.Contains(base, "broken"):
			return nil, &siti.DecodeError{Path: base, Frame: -1, Err: errors.New("invalid data")}
		case strings.Contains(base, "empty"):
			n = 0
		case strings.Contains(base, "still"):
			n = 1
		}
		src := &memSource{}
		for i := 0; i < n; i++ {
			src.frames = append(src.frames, fixFrame(i))
		}
		return src, nil
	})
}

// fixPlanConfig fixture provides simple YAML encoding plan.
//
// To make "encoding" faster we just copy source to destination, for the
// purposes of tests it is irrelevant if we use realistic encoder or just a
// simple file copy.
func fixPlanConfig(t *testing.T, inputs ...string) (fPath string) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("Inputs:\n")
	for _, in := range inputs {
		sb.WriteString("  - " + in + "\n")
	}
	sb.WriteString(`Codecs:
  - Name: copy
    CommandTpl: ["cp ", "%INPUT% ", "%OUTPUT%.mp4"]
Resolutions:
  - Width: 640
    Height: 360
    QPs: [30, 36]
`)
	fPath = filepath.Join(t.TempDir(), "plan.yaml")
	writeFile(t, fPath, sb.String(), 0o644)
	return fPath
}

// fixPlanConfigInvalid fixture provides invalid encoding plan.
func fixPlanConfigInvalid(t *testing.T) (fPath string) {
	t.Helper()
	fPath = filepath.Join(t.TempDir(), "invalid.json")
	writeFile(t, fPath, `{"Inputs": ["non-existent"]}`, 0o644)
	return fPath
}

// fakeMeasurer is a Measurer returning fixed metrics. A real libvmaf log is
// copied into resultFile to have per-frame outputs.
type fakeMeasurer struct {
	vmaf       float64
	err        error
	resultFile string
}

func (m *fakeMeasurer) Measure() error {
	if m.err != nil {
		return m.err
	}
	log, err := os.ReadFile("internal/vqm/testdata/libvmaf_v2.3.1.json")
	if err != nil {
		return err
	}
	return os.WriteFile(m.resultFile, log, 0o644)
}

func (m *fakeMeasurer) GetMetrics() (*vqm.AggregateMetric, error) {
	return &vqm.AggregateMetric{
		VMAF:    vqm.Metric{Mean: m.vmaf, HarmonicMean: m.vmaf - 1, Min: m.vmaf - 10, Max: 100},
		PSNR:    vqm.Metric{Mean: 40},
		MS_SSIM: vqm.Metric{Mean: 0.98},
	}, nil
}

// fixQualityApp fixture creates QualityApp with fake measurer and bitrate
// probe. Encodes with "bad" in name fail measuring, VMAF decreases with QP.
func fixQualityApp(t *testing.T) *QualityApp {
	t.Helper()
	app := CreateQualityCommand()
	app.usageOut = io.Discard
	app.newMeasurer = func(cfg *vqm.FfmpegVMAFConfig, compressedFile, _ string) (vqm.Measurer, error) {
		m := &fakeMeasurer{vmaf: 95, resultFile: cfg.ResultFile}
		if strings.Contains(compressedFile, "qp36") {
			m.vmaf = 80
		}
		if strings.Contains(compressedFile, "bad") {
			m.err = errors.New("libvmaf failed")
		}
		return m, nil
	}
	app.probeBitrate = func(videoFile string) (float64, error) {
		if strings.Contains(videoFile, "qp36") {
			return 800, nil
		}
		return 1500, nil
	}
	return app
}
