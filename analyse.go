// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// siti tool's analyse subcommand implementation.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/evolution-gaming/siti/internal/analysis"
	"github.com/evolution-gaming/siti/internal/archive"
	"github.com/evolution-gaming/siti/internal/logging"
	"github.com/evolution-gaming/siti/internal/metric"
	"github.com/evolution-gaming/siti/internal/siti"
	"github.com/evolution-gaming/siti/internal/video"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	allFramesPlotFile = "siti_all_frames.png"
	averagesPlotFile  = "siti_average_values.png"
)

// Make sure AnalyseApp implements Commander interface.
var _ Commander = (*AnalyseApp)(nil)

// AnalyseApp is analyse subcommand context that implements Commander interface.
type AnalyseApp struct {
	// Configuration object
	cfg *Config
	// FlagSet instance
	fs       *flag.FlagSet
	usageOut io.Writer
	// Global flags
	gf globalFlags
	// Directory with source videos
	flInDir string
	// Output directory for analysis results
	flOutDir    string
	flDB        string
	flMaxFrames int
	flJobs      int
	flPerFrame  bool
	flPlots     bool
	flFailFast  bool
	flProgress  bool
	// Summary records, safe for concurrent use
	mStore *metric.Store[metric.SITIRecord]
	// Frame source opener, ffmpeg based when nil
	opener siti.SourceOpener
}

// CreateAnalyseCommand will create Commander instance from AnalyseApp.
func CreateAnalyseCommand() *AnalyseApp {
	longHelp := `Subcommand "analyse" will calculate Spatial Information (SI) and Temporal
Information (TI) of every video file in input directory. Results are written
to output directory as CSV summary, per-video CSV files and plots.

Examples:

  siti analyse
  siti analyse --in-dir video_source --out-dir siti_results --jobs 4
  siti analyse --max-frames 300 --plots=false --db siti.db`

	app := &AnalyseApp{
		fs:       flag.NewFlagSet("analyse", flag.ContinueOnError),
		usageOut: os.Stderr,
		gf:       globalFlags{},
		mStore:   metric.NewStore[metric.SITIRecord](),
	}
	app.gf.Register(app.fs)
	app.fs.StringVar(&app.flInDir, "in-dir", "video_source", "Directory with source videos")
	app.fs.StringVar(&app.flOutDir, "out-dir", "siti_results", "Output directory to store results")
	app.fs.IntVar(&app.flMaxFrames, "max-frames", 0, "Analyse at most this many frames per video, 0 for all")
	app.fs.IntVar(&app.flJobs, "jobs", 1, "Number of videos to analyse in parallel")
	app.fs.BoolVar(&app.flPerFrame, "per-frame", true, "Write per-frame SI/TI CSV for each video")
	app.fs.BoolVar(&app.flPlots, "plots", true, "Create plots")
	app.fs.BoolVar(&app.flFailFast, "fail-fast", false, "Stop at first failed video")
	app.fs.StringVar(&app.flDB, "db", "", "Also archive results into SQLite database file (optional)")
	app.fs.BoolVar(&app.flProgress, "progress", false, "Show progress bar")
	app.fs.Usage = func() {
		printSubCommandUsage(app.usageOut, app.Name(), longHelp, app.fs)
	}

	return app
}

func (a *AnalyseApp) Name() string {
	return "analyse"
}

func (a *AnalyseApp) Help() {
	a.fs.Usage()
}

// init will do App state initialization.
func (a *AnalyseApp) init(args []string) error {
	a.fs.SetOutput(a.usageOut)
	if err := a.fs.Parse(args); err != nil {
		return usageError(a.Name(), err)
	}
	a.gf.apply()

	if a.flJobs < 1 {
		a.Help()
		return &AppError{exitCode: 2, msg: "option --jobs should be at least 1"}
	}
	if a.flMaxFrames < 0 {
		a.Help()
		return &AppError{exitCode: 2, msg: "option --max-frames should not be negative"}
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

	logging.Debugf("Application configuration: %#v", a.cfg)
	if err := a.cfg.Verify(); err != nil {
		return &AppError{exitCode: 1, msg: fmt.Sprintf("configuration validation: %s", err)}
	}

	if a.opener == nil {
		a.opener = &siti.FfmpegOpener{
			FfmpegPath:  a.cfg.FfmpegPath.Value(),
			FfprobePath: a.cfg.FfprobePath.Value(),
			Extensions:  a.cfg.Extensions(),
			MaxFrames:   a.flMaxFrames,
		}
	}

	return nil
}

// videoOutcome is analysis outcome of a single video.
type videoOutcome struct {
	file   string
	result siti.Result
	err    error
	id     metric.ID
	// Video was not analysed since batch had been aborted
	skipped bool
}

// Run is main entry point into AnalyseApp execution.
func (a *AnalyseApp) Run(args []string) error {
	logging.Infof("siti version: %s", vInfo)
	if err := a.init(args); err != nil {
		return err
	}

	files, err := video.ListFiles(a.flInDir, a.cfg.Extensions())
	if err != nil {
		return &AppError{exitCode: 1, msg: err.Error()}
	}
	if len(files) == 0 {
		return &AppError{
			exitCode: 1,
			msg: fmt.Sprintf("no video files (%s) found in %s",
				strings.Join(a.cfg.Extensions(), " "), a.flInDir),
		}
	}
	logging.Infof("Found %d video files in %s", len(files), a.flInDir)

	if err := os.MkdirAll(a.flOutDir, os.FileMode(0o755)); err != nil {
		return &AppError{exitCode: 1, msg: fmt.Sprintf("creating output directory: %s", err)}
	}

	var arch *archive.Archive
	if a.flDB != "" {
		arch, err = archive.Open(a.flDB)
		if err != nil {
			return &AppError{exitCode: 1, msg: err.Error()}
		}
		defer arch.Close()
		runID, err := arch.BeginRun(a.flInDir, a.flMaxFrames)
		if err != nil {
			return &AppError{exitCode: 1, msg: err.Error()}
		}
		logging.Debugf("Archiving results as run %d into %s", runID, a.flDB)
	}

	outcomes := a.analyseAll(files)

	var succeeded, failed, skipped int
	var results []siti.Result
	for i := range outcomes {
		o := &outcomes[i]
		switch {
		case o.skipped:
			skipped++
			continue
		case o.err != nil:
			failed++
			if arch != nil {
				if err := arch.SaveFailure(filepath.Base(o.file), o.err); err != nil {
					logging.Infof("Archiving failure of %s: %s", o.file, err)
				}
			}
			continue
		}
		succeeded++
		results = append(results, o.result)
		if arch != nil {
			if err := arch.SaveResult(o.result); err != nil {
				logging.Infof("Archiving result of %s: %s", o.file, err)
			}
		}
	}

	if err := a.writeSummary(outcomes); err != nil {
		return &AppError{exitCode: 1, msg: err.Error()}
	}

	if a.flPlots {
		a.plotSummary(results)
	}

	logging.Infof("Analysis done: %d succeeded, %d failed, %d skipped", succeeded, failed, skipped)
	if failed > 0 {
		return &AppError{
			exitCode: 1,
			msg:      fmt.Sprintf("%d of %d videos failed, see log for reasons", failed, len(files)),
		}
	}

	return nil
}

// analyseAll analyses given files with up to flJobs in parallel, outcomes are
// in the same order as files.
func (a *AnalyseApp) analyseAll(files []string) []videoOutcome {
	outcomes := make([]videoOutcome, len(files))
	bases := outputBases(files)

	bar := newProgressBar(a.flProgress, -1, "Analysing", "frames")
	defer bar.Finish()

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(a.flJobs)
	for i, file := range files {
		i, file := i, file
		outcomes[i] = videoOutcome{file: file, skipped: true}
		g.Go(func() error {
			// Aborted batch, do not start new videos.
			if ctx.Err() != nil {
				return nil
			}
			o := a.analyseOne(file, bases[i], bar)
			outcomes[i] = o
			if o.err != nil && a.flFailFast {
				return o.err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logging.Infof("Batch aborted after first failure: %s", err)
	}

	return outcomes
}

// analyseOne analyses a single video and writes its per-video outputs.
func (a *AnalyseApp) analyseOne(file, base string, bar *progressbar.ProgressBar) videoOutcome {
	o := videoOutcome{file: file}

	analyzer := siti.NewAnalyzer(a.opener)
	analyzer.MaxFrames = a.flMaxFrames
	analyzer.Progress = func(int) { _ = bar.Add(1) }

	logging.Debugf("Start analysing %s", file)
	o.result, o.err = analyzer.Analyze(file)
	if o.err != nil {
		logging.Infof("Failed analysing %s (%s): %s", file, siti.Kind(o.err), o.err)
		return o
	}
	o.id = a.mStore.Insert(metric.NewSITIRecord(o.result))
	logging.Infof("Done analysing %s: %d frames, SI mean %.3f, TI mean %.3f",
		file, len(o.result.SI), o.result.SIMean, o.result.TIMean)

	if a.flPerFrame {
		csvFile := filepath.Join(a.flOutDir, base+"_siti.csv")
		if err := writeCSV(csvFile, metric.FrameRecords(o.result)); err != nil {
			o.err = fmt.Errorf("per-frame CSV of %s: %w", file, err)
			logging.Infof("Failed writing %s", o.err)
			return o
		}
	}

	if a.flPlots {
		plotFile := filepath.Join(a.flOutDir, base+"_siti.png")
		if err := analysis.MultiPlotSITI(o.result.SI, o.result.TI, o.result.VideoID, plotFile); err != nil {
			o.err = fmt.Errorf("SI/TI plot of %s: %w", file, err)
			logging.Infof("Failed plotting %s", o.err)
			return o
		}
		logging.Debugf("SI/TI multi-plot done: %s", plotFile)
	}

	return o
}

// writeSummary writes summary CSV of successfully analysed videos in input order.
func (a *AnalyseApp) writeSummary(outcomes []videoOutcome) error {
	records := make([]metric.SITIRecord, 0, len(outcomes))
	for _, o := range outcomes {
		if o.skipped || o.err != nil {
			continue
		}
		r, err := a.mStore.Get(o.id)
		if err != nil {
			return fmt.Errorf("getting record (id=%v) from metric store: %w", o.id, err)
		}
		records = append(records, r)
	}

	summaryFile := filepath.Join(a.flOutDir, a.cfg.SummaryFileName.Value())
	if err := writeCSV(summaryFile, records); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	logging.Infof("Summary written to %s", summaryFile)
	return nil
}

// plotSummary creates SI/TI scatter plots of all videos, failures are logged only.
func (a *AnalyseApp) plotSummary(results []siti.Result) {
	plots := map[string]func([]siti.Result, string) error{
		allFramesPlotFile: analysis.PlotSITIAllFrames,
		averagesPlotFile:  analysis.PlotSITIAverages,
	}
	for name, plotFn := range plots {
		f := filepath.Join(a.flOutDir, name)
		err := plotFn(results, f)
		switch {
		case errors.Is(err, analysis.ErrNoData):
			logging.Infof("Skip %s, no videos with TI", name)
		case err != nil:
			logging.Infof("Failed creating %s: %s", name, err)
		default:
			logging.Infof("Plot done: %s", f)
		}
	}
}

// outputBases derives per-video output file name base, the file stem unless
// several files share it.
func outputBases(files []string) []string {
	count := make(map[string]int, len(files))
	for _, f := range files {
		count[video.Stem(f)]++
	}
	bases := make([]string, len(files))
	for i, f := range files {
		bases[i] = video.Stem(f)
		if count[bases[i]] > 1 {
			bases[i] = strings.ReplaceAll(filepath.Base(f), ".", "_")
		}
	}
	return bases
}
