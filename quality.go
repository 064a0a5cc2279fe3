// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// siti tool's quality subcommand implementation.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/evolution-gaming/siti/internal/analysis"
	"github.com/evolution-gaming/siti/internal/encoding"
	"github.com/evolution-gaming/siti/internal/logging"
	"github.com/evolution-gaming/siti/internal/metric"
	"github.com/evolution-gaming/siti/internal/tools"
	"github.com/evolution-gaming/siti/internal/video"
	"github.com/evolution-gaming/siti/internal/vqm"
	flag "github.com/spf13/pflag"
)

const (
	qualityResultsFile = "vmaf_results.csv"
	rdPlotFile         = "vmaf_rd.png"
)

// Make sure QualityApp implements Commander interface.
var _ Commander = (*QualityApp)(nil)

// QualityApp is quality subcommand context that implements Commander interface.
type QualityApp struct {
	// Configuration object
	cfg *Config
	// FlagSet instance
	fs       *flag.FlagSet
	usageOut io.Writer
	// Global flags
	gf globalFlags
	// Directory with reference (source) videos
	flRefDir string
	// Directory with encoded videos
	flEncDir string
	// Output directory for VMAF logs, CSV and plots
	flOutDir string
	// Only score encodes of these codecs
	flCodecs     []string
	flResolution string
	flFPS        float64
	flPlots      bool
	flBitrate    bool
	flProgress   bool
	// Comparison geometry parsed from flResolution
	width, height int
	// Quality records
	mStore *metric.Store[metric.QualityRecord]
	// Creates VMAF measurer, ffmpeg based by default
	newMeasurer func(cfg *vqm.FfmpegVMAFConfig, compressedFile, sourceFile string) (vqm.Measurer, error)
	// Returns bitrate in kbps
	probeBitrate func(videoFile string) (float64, error)
}

// CreateQualityCommand will create Commander instance from QualityApp.
func CreateQualityCommand() *QualityApp {
	longHelp := `Subcommand "quality" will calculate VMAF (along with PSNR and MS-SSIM) of every
encoded video against its source. Encoded file names should follow
<source>_<codec>_<height>p_qp<qp>.<ext> pattern, others are skipped. Both
videos are scaled to comparison resolution and frame rate before scoring.

Examples:

  siti quality
  siti quality --ref-dir video_source --enc-dir video_encoded --codec av1 --codec h265
  siti quality --resolution 1920x1080 --fps 30 --bitrate-plots`

	app := &QualityApp{
		fs:       flag.NewFlagSet("quality", flag.ContinueOnError),
		usageOut: os.Stderr,
		gf:       globalFlags{},
		mStore:   metric.NewStore[metric.QualityRecord](),
	}
	app.gf.Register(app.fs)
	app.fs.StringVar(&app.flRefDir, "ref-dir", "video_source", "Directory with reference videos")
	app.fs.StringVar(&app.flEncDir, "enc-dir", "video_encoded", "Directory with encoded videos")
	app.fs.StringVar(&app.flOutDir, "out-dir", "vmaf_results", "Output directory to store results")
	app.fs.StringSliceVar(&app.flCodecs, "codec", nil, "Only score encodes of given codec, can be repeated")
	app.fs.StringVar(&app.flResolution, "resolution", fmt.Sprintf("%dx%d", vqm.DefaultWidth, vqm.DefaultHeight),
		"Comparison resolution WxH")
	app.fs.Float64Var(&app.flFPS, "fps", vqm.DefaultFPS, "Comparison frame rate")
	app.fs.BoolVar(&app.flPlots, "plots", true, "Create per-encode VMAF plots")
	app.fs.BoolVar(&app.flBitrate, "bitrate-plots", false, "Create per-encode bitrate plots")
	app.fs.BoolVar(&app.flProgress, "progress", false, "Show progress bar")
	app.fs.Usage = func() {
		printSubCommandUsage(app.usageOut, app.Name(), longHelp, app.fs)
	}

	return app
}

func (a *QualityApp) Name() string {
	return "quality"
}

func (a *QualityApp) Help() {
	a.fs.Usage()
}

// init will do App state initialization.
func (a *QualityApp) init(args []string) error {
	a.fs.SetOutput(a.usageOut)
	if err := a.fs.Parse(args); err != nil {
		return usageError(a.Name(), err)
	}
	a.gf.apply()

	var err error
	a.width, a.height, err = parseResolution(a.flResolution)
	if err != nil {
		a.Help()
		return &AppError{exitCode: 2, msg: fmt.Sprintf("option --resolution: %s", err)}
	}
	if a.flFPS <= 0 {
		a.Help()
		return &AppError{exitCode: 2, msg: "option --fps should be positive"}
	}

	// Load application configuration.
	c, err := LoadConfig(a.gf.ConfFile)
	if err != nil {
		return &AppError{exitCode: 1, msg: err.Error()}
	}
	a.cfg = &c

	if a.newMeasurer == nil {
		if err := a.cfg.VerifyVMAF(); err != nil {
			return &AppError{exitCode: 1, msg: fmt.Sprintf("configuration validation: %s", err)}
		}
		a.newMeasurer = func(cfg *vqm.FfmpegVMAFConfig, compressedFile, sourceFile string) (vqm.Measurer, error) {
			return vqm.NewFfmpegVMAF(cfg, compressedFile, sourceFile)
		}
	}
	if a.probeBitrate == nil {
		if !fileExists(a.cfg.FfprobePath.Value()) {
			return &AppError{exitCode: 1, msg: "configuration validation: invalid ffprobe path"}
		}
		a.probeBitrate = func(videoFile string) (float64, error) {
			return tools.ProbeBitrate(a.cfg.FfprobePath.Value(), videoFile)
		}
	}

	return nil
}

// Run is main entry point into QualityApp execution.
func (a *QualityApp) Run(args []string) error {
	if err := a.init(args); err != nil {
		return err
	}

	refs, err := video.ListFiles(a.flRefDir, a.cfg.Extensions())
	if err != nil {
		return &AppError{exitCode: 1, msg: fmt.Sprintf("reference videos: %s", err)}
	}
	encoded, err := video.ListFiles(a.flEncDir, a.cfg.Extensions())
	if err != nil {
		return &AppError{exitCode: 1, msg: fmt.Sprintf("encoded videos: %s", err)}
	}
	if len(encoded) == 0 {
		return &AppError{exitCode: 1, msg: fmt.Sprintf("no encoded videos found in %s", a.flEncDir)}
	}

	if err := os.MkdirAll(a.flOutDir, os.FileMode(0o755)); err != nil {
		return &AppError{exitCode: 1, msg: fmt.Sprintf("creating output directory: %s", err)}
	}

	bar := newProgressBar(a.flProgress, len(encoded), "Scoring", "videos")
	var scored, skipped, failed int
	for _, encFile := range encoded {
		err := a.score(encFile, refs)
		_ = bar.Add(1)
		var ue *encoding.UnparsableFilenameError
		switch {
		case errors.As(err, &ue), errors.Is(err, errFiltered), errors.Is(err, errNoSource):
			skipped++
			logging.Infof("Skip %s: %s", filepath.Base(encFile), err)
		case err != nil:
			failed++
			logging.Infof("Failed scoring %s: %s", filepath.Base(encFile), err)
		default:
			scored++
		}
	}
	_ = bar.Finish()

	records := a.mStore.All()
	resultsPath := filepath.Join(a.flOutDir, qualityResultsFile)
	if err := writeCSV(resultsPath, records); err != nil {
		return &AppError{exitCode: 1, msg: err.Error()}
	}
	logging.Infof("Quality results written to %s", resultsPath)

	if len(records) > 0 {
		rdPath := filepath.Join(a.flOutDir, rdPlotFile)
		if err := analysis.PlotRateDistortion(records, rdPath); err != nil {
			logging.Infof("Failed creating rate-distortion plot: %s", err)
		} else {
			logging.Infof("Rate-distortion plot done: %s", rdPath)
		}
	}

	logging.Infof("Quality scoring done: %d scored, %d skipped, %d failed", scored, skipped, failed)
	if failed > 0 {
		return &AppError{
			exitCode: 1,
			msg:      fmt.Sprintf("VMAF calculations for %d videos had errors, see log for reasons", failed),
		}
	}
	return nil
}

var (
	errFiltered = errors.New("codec filtered out")
	errNoSource = errors.New("no matching reference video")
)

// score calculates quality metrics of a single encoded video and stores them.
func (a *QualityApp) score(encFile string, refs []string) error {
	name, err := encoding.ParseEncodedName(encFile)
	if err != nil {
		return err
	}
	if !a.codecSelected(name.Codec) {
		return fmt.Errorf("%s: %w", name.Codec, errFiltered)
	}
	refFile, ok := encoding.FindSource(name, refs)
	if !ok {
		return fmt.Errorf("%s: %w", name.Source, errNoSource)
	}

	base := video.Stem(encFile)
	vmafCfg := vqm.FfmpegVMAFConfig{
		FfmpegPath:         a.cfg.FfmpegPath.Value(),
		LibvmafModelPath:   a.cfg.LibvmafModelPath.Value(),
		FfmpegVMAFTemplate: a.cfg.FfmpegVMAFTemplate.Value(),
		ResultFile:         filepath.Join(a.flOutDir, base+"_vmaf.json"),
		Width:              a.width,
		Height:             a.height,
		FPS:                a.flFPS,
	}
	tool, err := a.newMeasurer(&vmafCfg, encFile, refFile)
	if err != nil {
		return fmt.Errorf("initializing VQM tool: %w", err)
	}

	logging.Infof("Start measuring VQMs for %s against %s", encFile, refFile)
	if err := tool.Measure(); err != nil {
		return fmt.Errorf("measuring VQMs: %w", err)
	}
	res, err := tool.GetMetrics()
	if err != nil {
		return fmt.Errorf("getting metrics: %w", err)
	}

	bitrate, err := a.probeBitrate(encFile)
	if err != nil {
		return fmt.Errorf("probing bitrate: %w", err)
	}

	codec := name.Codec
	if name.Suffix != "" {
		codec += "+" + name.Suffix
	}
	id := a.mStore.Insert(metric.QualityRecord{
		Video:            filepath.Base(encFile),
		Source:           filepath.Base(refFile),
		Codec:            codec,
		Resolution:       name.Resolution(),
		QP:               name.QP,
		BitrateKbps:      bitrate,
		VMAF:             res.VMAF.Mean,
		VMAFMin:          res.VMAF.Min,
		VMAFHarmonicMean: res.VMAF.HarmonicMean,
		PSNRMean:         res.PSNR.Mean,
		MS_SSIMMean:      res.MS_SSIM.Mean,
		Height:           name.Height,
	})
	logging.Debugf("Storing record (id=%v) with VQ metrics", id)
	logging.Infof("Done measuring VQMs for %s: VMAF %.3f at %.1f kbps", encFile, res.VMAF.Mean, bitrate)

	a.perEncodeOutputs(encFile, base, vmafCfg.ResultFile)
	return nil
}

// perEncodeOutputs writes per-frame VQM CSV along with VMAF and bitrate
// plots of a single encode, failures are logged only.
func (a *QualityApp) perEncodeOutputs(encFile, base, vmafResultFile string) {
	frames, err := vqm.LoadFfmpegVMAF(vmafResultFile)
	if err != nil {
		logging.Infof("No per-frame VQMs for %s: %s", encFile, err)
	} else {
		csvFile := filepath.Join(a.flOutDir, base+"_vmaf_frames.csv")
		if err := writeCSV(csvFile, frames); err != nil {
			logging.Infof("Failed writing per-frame VQMs for %s: %s", encFile, err)
		}
		if a.flPlots {
			vmafs, _, _ := frames.Series()
			vmafPlot := filepath.Join(a.flOutDir, base+"_vmaf.png")
			if err := analysis.MultiPlotVqm(vmafs, "VMAF", base, vmafPlot); err != nil {
				logging.Infof("Failed creating VMAF plot for %s: %s", encFile, err)
			} else {
				logging.Debugf("VMAF multi-plot done: %s", vmafPlot)
			}
		}
	}

	if a.flBitrate {
		bitratePlot := filepath.Join(a.flOutDir, base+"_bitrate.png")
		if err := analysis.MultiPlotBitrate(encFile, bitratePlot, a.cfg.FfprobePath.Value()); err != nil {
			logging.Infof("Failed creating bitrate plot for %s: %s", encFile, err)
		} else {
			logging.Debugf("Bitrate plot done: %s", bitratePlot)
		}
	}
}

// codecSelected reports if codec passes --codec filter, empty filter selects all.
func (a *QualityApp) codecSelected(codec string) bool {
	if len(a.flCodecs) == 0 {
		return true
	}
	for _, c := range a.flCodecs {
		if strings.EqualFold(c, codec) {
			return true
		}
	}
	return false
}

// parseResolution parses "WxH" resolution string.
func parseResolution(s string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("want WxH, got %q", s)
	}
	width, err = strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	height, err = strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	return width, height, nil
}
