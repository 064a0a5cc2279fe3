// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Contains implementation of VQM tool that uses ffmpeg and libvmaf along with
// related data structures and interfaces.

package vqm

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"text/template"

	"github.com/evolution-gaming/siti/internal/logging"
	"github.com/google/shlex"
)

// DefaultFfmpegVMAFTemplate brings both videos to common frame size and rate
// before comparison, so encodes at any resolution can be scored against the
// source.
var DefaultFfmpegVMAFTemplate = "-hide_banner -nostdin -i {{.CompressedFile}} -i {{.SourceFile}} " +
	"-lavfi [0:v]scale={{.Width}}:{{.Height}}:flags=bicubic,fps={{.FPS}},setpts=PTS-STARTPTS[dist];" +
	"[1:v]scale={{.Width}}:{{.Height}}:flags=bicubic,fps={{.FPS}},setpts=PTS-STARTPTS[ref];" +
	"[dist][ref]libvmaf=n_subsample=1:log_path={{.ResultFile}}:log_fmt=json:" +
	"feature=name=psnr|name=float_ms_ssim:model=path={{.ModelPath}}:n_threads={{.NThreads}} -f null -"

// Comparison geometry used when FfmpegVMAFConfig leaves it unset, matches the
// 4K libvmaf model.
const (
	DefaultWidth  = 3840
	DefaultHeight = 2160
	DefaultFPS    = 60
)

// Measurer is the interface for VQM tools.
type Measurer interface {
	Measure() error
	GetMetrics() (*AggregateMetric, error)
}

// FfmpegVMAFConfig exposes parameters for ffmpegVMAF creation.
type FfmpegVMAFConfig struct {
	FfmpegPath         string
	LibvmafModelPath   string
	FfmpegVMAFTemplate string
	ResultFile         string
	// Comparison frame size and rate
	Width  int
	Height int
	FPS    float64
}

// NewFfmpegVMAF will initialize VQM Measurer based on ffmpeg and libvmaf.
func NewFfmpegVMAF(cfg *FfmpegVMAFConfig, compressedFile, sourceFile string) (*FfmpegVMAF, error) {
	var vqt *FfmpegVMAF

	// Too much CPU threads are also bad. This was an issue on 128 threaded AMD
	// EPYC, ffmpeg was deadlocking at some point during VMAF calculations.
	nThreads := 32

	if runtime.NumCPU() < nThreads {
		nThreads = runtime.NumCPU()
	}

	tplStr := cfg.FfmpegVMAFTemplate
	if tplStr == "" {
		tplStr = DefaultFfmpegVMAFTemplate
	}
	width, height, fps := cfg.Width, cfg.Height, cfg.FPS
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	if fps <= 0 {
		fps = DefaultFPS
	}

	// Template requires a struct with exported fields.
	tplContext := struct {
		SourceFile     string
		CompressedFile string
		ResultFile     string
		ModelPath      string
		NThreads       int
		Width          int
		Height         int
		FPS            string
	}{
		SourceFile:     sourceFile,
		CompressedFile: compressedFile,
		ResultFile:     cfg.ResultFile,
		ModelPath:      cfg.LibvmafModelPath,
		NThreads:       nThreads,
		Width:          width,
		Height:         height,
		FPS:            strconv.FormatFloat(fps, 'f', -1, 64),
	}

	var cmd strings.Builder
	tpl, err := template.New("ffmpeg").Parse(tplStr)
	if err != nil {
		return vqt, fmt.Errorf("NewFfmpegVMAF() parse template: %w", err)
	}
	err = tpl.Execute(&cmd, tplContext)
	if err != nil {
		return vqt, fmt.Errorf("NewFfmpegVMAF() execute template: %w", err)
	}
	ffmpegArgs, err := shlex.Split(cmd.String())
	if err != nil {
		return vqt, fmt.Errorf("NewFfmpegVMAF() prepare command: %w", err)
	}

	vqt = &FfmpegVMAF{
		exePath:        cfg.FfmpegPath,
		ffmpegArgs:     ffmpegArgs,
		sourceFile:     sourceFile,
		compressedFile: compressedFile,
		resultFile:     cfg.ResultFile,
		output:         []byte{},
		measured:       false,
	}

	return vqt, nil
}

// FfmpegVMAF defines VQM tool and implements Measurer interface.
type FfmpegVMAF struct {
	// Path to ffmpeg executable
	exePath string
	// ffmpeg command arguments
	ffmpegArgs []string
	// Uncompressed source file
	sourceFile string
	// Compressed file that will be compared to sourceFile
	compressedFile string
	// ffmpeg generated results wil be stored in this file
	resultFile string
	output     []byte
	measured   bool
}

// Make sure FfmpegVMAF implements Measurer interface.
var _ Measurer = (*FfmpegVMAF)(nil)

// Args returns ffmpeg command line arguments.
func (f *FfmpegVMAF) Args() []string {
	return f.ffmpegArgs
}

func (f *FfmpegVMAF) Measure() error {
	var err error

	if f.measured {
		return errors.New("Measure() already executed")
	}

	cmd := exec.Command(f.exePath, f.ffmpegArgs...) //#nosec G204
	logging.Debugf("VQM tool command: %v", cmd.Args)
	f.output, err = cmd.CombinedOutput()
	if err != nil {
		logging.Infof("VQM tool execution failure:\n%s", cmd.String())
		logging.Infof("VQM tool output:\n%s", f.output)
		return fmt.Errorf("VQM calculation error for %s: %w", f.compressedFile, err)
	}

	f.measured = true
	return nil
}

// AggregateMetric holds summary statistics of each VQM over all frames.
type AggregateMetric struct {
	VMAF    Metric
	PSNR    Metric
	MS_SSIM Metric
}

type Metric struct {
	Mean         float64
	HarmonicMean float64
	Min          float64
	Max          float64
	StDev        float64
	Variance     float64
}

// GetMetrics aggregates per-frame metrics from libvmaf log of last Measure().
func (f *FfmpegVMAF) GetMetrics() (*AggregateMetric, error) {
	if !f.measured {
		return nil, errors.New("GetMetrics() depends on Measure() called first")
	}

	metrics, err := LoadFfmpegVMAF(f.resultFile)
	if err != nil {
		return nil, fmt.Errorf("GetMetrics(): %w", err)
	}
	am, err := metrics.Aggregate()
	if err != nil {
		return nil, fmt.Errorf("GetMetrics() %s: %w", f.resultFile, err)
	}
	return am, nil
}

// This and following are helper structs for libvmaf JSON result.
type ffmpegVMAFResult struct {
	Version       string        `json:"version"`
	Frames        []frame       `json:"frames"`
	PooledMetrics pooledMetrics `json:"pooled_metrics"`
}

type frame struct {
	FrameNum uint   `json:"frameNum"`
	Metrics  metric `json:"metrics"`
}

type metric struct {
	VMAF    float64
	PSNR    float64
	MS_SSIM float64
}

// UnmarshalJSON implements json.Unmarshaler interface for metric.
//
// A custom unmarshaler is needed to work around lack of stability around libvmaf measured
// VQ metric field names in output.
func (m *metric) UnmarshalJSON(b []byte) error {
	// Ignore "null" as per convention.
	if string(b) == "null" {
		return nil
	}

	// Unmarshal JSON blob into map so that it includes all fields.
	raw := make(map[string]float64)
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	// Pull out required fields and in some cases their aliases (due to libvmaf changing
	// field names at will)
	for k, v := range raw {
		switch k {
		case "vmaf":
			m.VMAF = v
		case "psnr", "psnr_y":
			m.PSNR = v
		case "ms_ssim", "float_ms_ssim":
			m.MS_SSIM = v
		}
	}

	return nil
}

type pooledMetrics struct {
	VMAF    pMetric
	PSNR    pMetric
	MS_SSIM pMetric
}

// UnmarshalJSON implements json.Unmarshaler interface for pooledMetrics.
//
// A custom unmarshaler is needed to work around lack of stability around libvmaf measured
// VQ metric field names in output.
func (p *pooledMetrics) UnmarshalJSON(b []byte) error {
	// Ignore "null" as per convention.
	if string(b) == "null" {
		return nil
	}

	raw := make(map[string]pMetric)
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	for k, v := range raw {
		switch k {
		case "vmaf":
			p.VMAF = v
		case "psnr", "psnr_y":
			p.PSNR = v
		case "ms_ssim", "float_ms_ssim":
			p.MS_SSIM = v
		}
	}
	return nil
}

type pMetric struct {
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	HarmonicMean float64 `json:"harmonic_mean"`
}
