// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package encoding

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/evolution-gaming/siti/internal/logging"
	"github.com/evolution-gaming/siti/internal/lw"
	"github.com/evolution-gaming/siti/internal/tools"
	"github.com/evolution-gaming/siti/internal/video"
	"gopkg.in/yaml.v3"
)

const (
	inputPlaceholder   = "%INPUT%"
	outputPlaceholder  = "%OUTPUT%"
	logFilePlaceholder = "%LOGFILE%"
	widthPlaceholder   = "%WIDTH%"
	heightPlaceholder  = "%HEIGHT%"
	qpPlaceholder      = "%QP%"
	outputBufferSize   = 5 * 1024 * 1024 // 5 MiB for output buffer
)

var extMatcher = regexp.MustCompile(fmt.Sprintf(`%s(\.\w+)*`, outputPlaceholder))

// EncoderCmd defines an encoder command struct.
type EncoderCmd struct {
	// Encoding parameters, also determine compressed file name
	Name EncodedName
	// SourceFile is uncompressed video source aka mezzanine file
	SourceFile string
	// CompressedFile is a result of compressing InputFile
	CompressedFile string
	// OutputFile contains text output generated from encoder (log output)
	OutputFile string
	// LogFile is additional log file that encoder may generate
	LogFile string
	// Cmd is a actual "executable" encoder commandline with parameters
	Cmd string
	// Optional command run on CompressedFile after successful encode
	Upscale *EncoderCmd
}

// Run executes encoder command.
//
// When ffprobePath is not empty compressed file is probed for duration.
func (s *EncoderCmd) Run(ffprobePath string) RunResult {
	// Initialize RunResult from "this" EncoderCmd.
	r := RunResult{EncoderCmd: *s}

	// Backing buffer for stderr.
	var buf bytes.Buffer
	var outWriter, memWriter io.Writer
	// Explicitly limit stderr buffer to certain size to protect ourselves
	// from some runaway process flooding output.
	memWriter = lw.LimitWriter(&buf, outputBufferSize)

	f, err := os.Create(s.OutputFile)
	if err != nil {
		logging.Infof("Unable to redirect output to file: %s", err)
		r.AddError(err)
		return r
	}
	logging.Debugf("Output redirected to file: %s", f.Name())
	outWriter = io.MultiWriter(memWriter, f)
	defer f.Close()

	// Encoder commands come in different flavours and in some cases commands
	// can make use various commands connected via pipes, this can be supported
	// by employing shell to execute commands. We trust user to provide safe
	// encoder command, otherwise this can be a security issue.
	r.cmd = exec.Command("sh", "-c", s.Cmd) //#nosec G204
	r.cmd.Stderr = outWriter
	// Time executions to calculate a wall time.
	start := time.Now()
	if err = r.cmd.Run(); err != nil {
		logging.Infof("Run error for %s: %s", s.CompressedFile, err)
		logging.Debugf("Command: %s", r.cmd)
		logging.Debugf("Stderr: %s", buf.Bytes())
		r.AddError(fmt.Errorf("%s: %w", path.Base(s.CompressedFile), err))
	}
	r.stderr = buf.Bytes()
	if r.cmd.ProcessState != nil {
		r.Stats = NewUsageStat(time.Since(start), r.Rusage())
	}
	if len(r.Errors) != 0 || ffprobePath == "" {
		return r
	}

	// Add VideoDuration and also calculate approximation to average encoding speed.
	vmeta, err := tools.FfprobeExtractMetadata(ffprobePath, s.CompressedFile)
	if err != nil {
		logging.Infof("Unable to query compressed video metadata: %v", err)
		r.AddError(err)
	} else {
		r.VideoDuration = vmeta.Duration
		r.AvgEncodingSpeed = vmeta.Duration / r.Stats.Elapsed.Seconds()
	}

	return r
}

// Codec is an encoder command template with placeholders.
//
// Placeholders are %INPUT%, %OUTPUT%, %LOGFILE%, %WIDTH%, %HEIGHT% and %QP%.
// Output file extension is taken from template, e.g. "%OUTPUT%.mkv". Name
// becomes part of compressed file name, so it must be a single token without
// underscores.
type Codec struct {
	Name       string `yaml:"Name"`
	CommandTpl string `yaml:"CommandTpl"`
}

// codecDoc is the serialized form of Codec where CommandTpl may be split into
// a list of fragments for readability.
type codecDoc struct {
	Name       string    `yaml:"Name"`
	CommandTpl fragments `yaml:"CommandTpl"`
}

// fragments accepts either a string or a list of strings.
type fragments []string

func (f *fragments) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = fragments{s}
		return nil
	}
	var l []string
	if err := json.Unmarshal(data, &l); err != nil {
		return err
	}
	*f = l
	return nil
}

func (f *fragments) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*f = fragments{s}
		return nil
	}
	var l []string
	if err := value.Decode(&l); err != nil {
		return err
	}
	*f = l
	return nil
}

// UnmarshalJSON implement Unmarshaler interface for Codec type.
func (c *Codec) UnmarshalJSON(data []byte) error {
	var doc codecDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	c.Name = doc.Name
	c.CommandTpl = strings.Join(doc.CommandTpl, "")
	return nil
}

// UnmarshalYAML implement yaml.Unmarshaler interface for Codec type.
func (c *Codec) UnmarshalYAML(value *yaml.Node) error {
	var doc codecDoc
	if err := value.Decode(&doc); err != nil {
		return err
	}
	c.Name = doc.Name
	c.CommandTpl = strings.Join(doc.CommandTpl, "")
	return nil
}

// outputExt returns compressed file extension (including the dot).
func (c *Codec) outputExt() string {
	if m := extMatcher.FindStringSubmatch(c.CommandTpl); m != nil {
		return m[1]
	}
	return ""
}

// Expand will generate complete encoding commands for every source file,
// resolution and QP combination.
func (c *Codec) Expand(sourceFiles []string, resolutions []Resolution, outDir string) (cmds []EncoderCmd) {
	ext := c.outputExt()
	for _, sFile := range sourceFiles {
		for _, res := range resolutions {
			for _, qp := range res.QPs {
				name := EncodedName{
					Source: normalize(video.Stem(sFile)),
					Codec:  c.Name,
					Height: res.Height,
					QP:     qp,
					Ext:    ext,
				}
				oFileBase := path.Join(outDir, name.WithSuffix("", "").String())

				cmdStr := strings.NewReplacer(
					inputPlaceholder, sFile,
					outputPlaceholder, oFileBase,
					logFilePlaceholder, oFileBase+".log",
					widthPlaceholder, strconv.Itoa(res.Width),
					heightPlaceholder, strconv.Itoa(res.Height),
					qpPlaceholder, strconv.Itoa(qp),
				).Replace(c.CommandTpl)

				cmds = append(cmds, EncoderCmd{
					Name:           name,
					SourceFile:     sFile,
					CompressedFile: oFileBase + ext,
					OutputFile:     oFileBase + ".out",
					LogFile:        oFileBase + ".log",
					Cmd:            cmdStr,
				})
			}
		}
	}

	return cmds
}

// upscaleCmd creates command running upscale template on compressed file of ec.
func (c *Codec) upscaleCmd(ec EncoderCmd, outDir string) *EncoderCmd {
	name := ec.Name.WithSuffix(normalize(c.Name), c.outputExt())
	oFileBase := path.Join(outDir, name.WithSuffix(name.Suffix, "").String())
	cmdStr := strings.NewReplacer(
		inputPlaceholder, ec.CompressedFile,
		outputPlaceholder, oFileBase,
		logFilePlaceholder, oFileBase+".log",
	).Replace(c.CommandTpl)

	return &EncoderCmd{
		Name:           name,
		SourceFile:     ec.CompressedFile,
		CompressedFile: oFileBase + name.Ext,
		OutputFile:     oFileBase + ".out",
		LogFile:        oFileBase + ".log",
		Cmd:            cmdStr,
	}
}

type Plan struct {
	// Embed PlanConfig struct
	PlanConfig
	// Executable encoder commands
	Commands []EncoderCmd
	// Output directory
	OutDir string
	// Used to probe compressed files, probing is skipped when empty
	FfprobePath string
	// Flag to signal if output dir has been created
	outDirCreated bool
}

// NewPlan will create Plan instance from given PlanConfig.
func NewPlan(pc PlanConfig, outDir string) Plan {
	p := Plan{
		PlanConfig:    pc,
		OutDir:        outDir,
		outDirCreated: false,
	}
	for i := range p.Codecs {
		cmds := p.Codecs[i].Expand(p.Inputs, p.Resolutions, p.OutDir)
		if p.Upscale != nil {
			for j := range cmds {
				cmds[j].Upscale = p.Upscale.upscaleCmd(cmds[j], p.OutDir)
			}
		}
		p.Commands = append(p.Commands, cmds...)
	}
	return p
}

// Run executes encoding commands part of this Plan.
//
// Failed commands are not retried, their errors are collected in RunResults.
func (s *Plan) Run() (PlanResult, error) {
	var runError error
	result := PlanResult{
		StartTime:  time.Now(),
		RunResults: make([]RunResult, len(s.Commands)),
	}

	// Start by creating output dir s.OutDir.
	if err := s.ensureOutDir(); err != nil {
		return result, err
	}

	for i := range s.Commands {
		c := &s.Commands[i]
		if s.SkipExisting && exists(c.CompressedFile) {
			logging.Infof("Skip encoding, %s already exists", c.CompressedFile)
			result.RunResults[i] = RunResult{EncoderCmd: *c, Skipped: true}
		} else {
			logging.Infof("Start encoding %s -> %s", c.SourceFile, c.CompressedFile)
			result.RunResults[i] = c.Run(s.FfprobePath)
			logging.Infof("Done encoding %s -> %s", c.SourceFile, c.CompressedFile)
		}

		if c.Upscale == nil || len(result.RunResults[i].Errors) != 0 {
			continue
		}
		var ur RunResult
		if s.SkipExisting && exists(c.Upscale.CompressedFile) {
			logging.Infof("Skip upscaling, %s already exists", c.Upscale.CompressedFile)
			ur = RunResult{EncoderCmd: *c.Upscale, Skipped: true}
		} else {
			logging.Infof("Start upscaling %s -> %s", c.Upscale.SourceFile, c.Upscale.CompressedFile)
			ur = c.Upscale.Run("")
		}
		result.RunResults[i].UpscaleResult = &ur
	}
	result.EndTime = time.Now()

	for _, r := range result.RunResults {
		if r.Failed() {
			runError = errors.New("Plan run executed with errors")
		}
	}
	return result, runError
}

// ensureOutDir will create output directory if it does not exist.
func (p *Plan) ensureOutDir() error {
	if p.outDirCreated {
		return nil
	}
	logging.Debugf("Creating output directory: %s", p.OutDir)
	err := os.MkdirAll(p.OutDir, os.FileMode(0o775))
	if err != nil {
		return fmt.Errorf("ensureOutDir(): %w", err)
	}
	p.outDirCreated = true
	return nil
}

// PlanResult holds Plan execution result state.
type PlanResult struct {
	StartTime  time.Time
	EndTime    time.Time
	RunResults []RunResult
}

// RunResult contains a status of a single encoding run.
type RunResult struct {
	EncoderCmd
	Errors []error
	// Command was not run since its output already existed
	Skipped          bool
	cmd              *exec.Cmd
	stderr           []byte
	Stats            UsageStat
	VideoDuration    float64
	AvgEncodingSpeed float64
	// Result of upscale command, nil when not run
	UpscaleResult *RunResult
}

// ExitCode returns exit code of executed encoding run, -1 if it never ran.
func (s *RunResult) ExitCode() int {
	if s.cmd == nil || s.cmd.ProcessState == nil {
		return -1
	}
	return s.cmd.ProcessState.ExitCode()
}

// Failed reports if encode or its upscale step had errors.
func (s *RunResult) Failed() bool {
	return len(s.Errors) != 0 || (s.UpscaleResult != nil && len(s.UpscaleResult.Errors) != 0)
}

// Output returns output from encoding run.
//
// For encoders Stdout is usually reserved for piping encoded stream, so
// diagnostics output usually goes to Stderr.
func (s *RunResult) Output() string {
	return string(s.stderr)
}

func (s *RunResult) Rusage() *syscall.Rusage {
	usage, _ := s.cmd.ProcessState.SysUsage().(*syscall.Rusage)
	return usage
}

func (s *RunResult) AddError(e error) {
	s.Errors = append(s.Errors, e)
}

// UsageStat contains process resource usage stats.
type UsageStat struct {
	// Human friendly representations of time duration
	HStime   string
	HUtime   string
	HElapsed string
	// time.Duration is nanoseconds
	Stime   time.Duration
	Utime   time.Duration
	Elapsed time.Duration
	// MaxRss is KB
	MaxRss int64
}

// NewUsageStat will create UsageStat instance.
func NewUsageStat(elapsed time.Duration, rusage *syscall.Rusage) UsageStat {
	if rusage == nil {
		return UsageStat{Elapsed: elapsed, HElapsed: elapsed.String()}
	}
	return UsageStat{
		Stime:    time.Duration(syscall.TimevalToNsec(rusage.Stime)),
		Utime:    time.Duration(syscall.TimevalToNsec(rusage.Utime)),
		Elapsed:  elapsed,
		HStime:   time.Duration(syscall.TimevalToNsec(rusage.Stime)).String(),
		HUtime:   time.Duration(syscall.TimevalToNsec(rusage.Utime)).String(),
		HElapsed: elapsed.String(),
		MaxRss:   rusage.Maxrss,
	}
}

// CPUPercent calculates CPU usage in percent.
func (s *UsageStat) CPUPercent() float64 {
	return float64(s.Stime+s.Utime) / float64(s.Elapsed) * 100
}

// normalize filename strings to sane format (no spaces).
func normalize(input string) string {
	return strings.ReplaceAll(input, " ", "_")
}

func exists(file string) bool {
	_, err := os.Stat(file)
	return err == nil
}
