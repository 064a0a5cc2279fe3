// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Application configuration structures.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/evolution-gaming/siti/internal/logging"
	"github.com/evolution-gaming/siti/internal/tools"
	"github.com/evolution-gaming/siti/internal/video"
	"github.com/evolution-gaming/siti/internal/vqm"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidConfig       = errors.New("invalid configuration")
	defaultSummaryFileName = "siti_summary.csv"
)

// Config represent application configuration.
type Config struct {
	FfmpegPath         ConfigVal[string]   `json:"ffmpeg_path,omitempty" yaml:"ffmpeg_path"`
	FfprobePath        ConfigVal[string]   `json:"ffprobe_path,omitempty" yaml:"ffprobe_path"`
	LibvmafModelPath   ConfigVal[string]   `json:"libvmaf_model_path,omitempty" yaml:"libvmaf_model_path"`
	FfmpegVMAFTemplate ConfigVal[string]   `json:"ffmpeg_vmaf_template,omitempty" yaml:"ffmpeg_vmaf_template"`
	SummaryFileName    ConfigVal[string]   `json:"summary_file_name,omitempty" yaml:"summary_file_name"`
	VideoExtensions    ConfigVal[[]string] `json:"video_extensions,omitempty" yaml:"video_extensions"`
}

// Verify will check that configuration is valid for SI/TI analysis.
//
// Will check that configuration option values are sensible.
func (c *Config) Verify() error {
	msgs := []string{}
	// Check that ffmpeg exists.
	if !fileExists(c.FfmpegPath.Value()) {
		msgs = append(msgs, "invalid ffmpeg path")
	}
	// Check that ffprobe exists.
	if !fileExists(c.FfprobePath.Value()) {
		msgs = append(msgs, "invalid ffprobe path")
	}
	// Summary file should be a plain file name.
	if name := c.SummaryFileName.Value(); name == "" || filepath.Base(name) != name {
		msgs = append(msgs, "invalid summary file name")
	}
	if len(c.VideoExtensions.Value()) == 0 {
		msgs = append(msgs, "empty video extensions list")
	}
	for _, ext := range c.VideoExtensions.Value() {
		if !strings.HasPrefix(ext, ".") {
			msgs = append(msgs, fmt.Sprintf("video extension %q should start with a dot", ext))
		}
	}

	if len(msgs) != 0 {
		return fmt.Errorf("%s: %w", strings.Join(msgs, ", "), ErrInvalidConfig)
	}
	return nil
}

// VerifyVMAF will check that configuration is valid for VMAF calculations.
func (c *Config) VerifyVMAF() error {
	msgs := []string{}
	if !fileExists(c.FfmpegPath.Value()) {
		msgs = append(msgs, "invalid ffmpeg path")
	}
	// Check that libvmaf model file exists.
	if !fileExists(c.LibvmafModelPath.Value()) {
		msgs = append(msgs, "invalid libvmaf model file path")
	}
	// Template should not be nil.
	if c.FfmpegVMAFTemplate.IsNil() {
		msgs = append(msgs, "empty ffmpeg VMAF template")
	}

	if len(msgs) != 0 {
		return fmt.Errorf("%s: %w", strings.Join(msgs, ", "), ErrInvalidConfig)
	}
	return nil
}

// Extensions returns configured video extensions normalized to lower case.
func (c *Config) Extensions() []string {
	exts := make([]string, 0, len(c.VideoExtensions.Value()))
	for _, e := range c.VideoExtensions.Value() {
		exts = append(exts, strings.ToLower(e))
	}
	return exts
}

// OverrideFrom will overwrite fields from given Config object.
//
// Only fields that are "not-nil" (as per IsNil() method) in src Config object will be
// overwritten.
func (c *Config) OverrideFrom(src Config) {
	if !src.FfmpegPath.IsNil() {
		c.FfmpegPath = src.FfmpegPath
	}
	if !src.FfprobePath.IsNil() {
		c.FfprobePath = src.FfprobePath
	}
	if !src.LibvmafModelPath.IsNil() {
		c.LibvmafModelPath = src.LibvmafModelPath
	}
	if !src.FfmpegVMAFTemplate.IsNil() {
		c.FfmpegVMAFTemplate = src.FfmpegVMAFTemplate
	}
	if !src.SummaryFileName.IsNil() {
		c.SummaryFileName = src.SummaryFileName
	}
	if !src.VideoExtensions.IsNil() {
		c.VideoExtensions = src.VideoExtensions
	}
}

// loadDefaultConfig will create a default configuration.
//
// For some configuration options a default value will be specified, for others an
// auto-detection mechanism will populate option values. Missing libvmaf model is not
// an error here since only quality scoring needs it, see VerifyVMAF().
func loadDefaultConfig() (Config, error) {
	var cfg Config

	// For default configuration attempt to locate ffmpeg binary.
	ffmpeg, err := tools.FfmpegPath()
	if err != nil {
		return cfg, fmt.Errorf("DefaultConfig: %w", err)
	}

	// For default configuration attempt to locate ffprobe binary.
	ffprobe, err := tools.FfprobePath()
	if err != nil {
		return cfg, fmt.Errorf("DefaultConfig: %w", err)
	}

	cfg = Config{
		FfmpegPath:         NewConfigVal(ffmpeg),
		FfprobePath:        NewConfigVal(ffprobe),
		FfmpegVMAFTemplate: NewConfigVal(vqm.DefaultFfmpegVMAFTemplate),
		SummaryFileName:    NewConfigVal(defaultSummaryFileName),
		VideoExtensions:    NewConfigVal(append([]string(nil), video.DefaultExtensions...)),
	}

	// For default configuration attempt to locate VMAF model file.
	libvmafModel, err := tools.FindLibvmafModel(tools.DefaultLibvmafModel)
	if err != nil {
		logging.Debugf("DefaultConfig: %s", err)
	} else {
		cfg.LibvmafModelPath = NewConfigVal(libvmafModel)
	}

	return cfg, nil
}

// loadConfigFromFile will load configuration from JSON or YAML file.
func loadConfigFromFile(f string) (cfg Config, err error) {
	fileExt := strings.ToLower(filepath.Ext(f))
	switch fileExt {
	case ".json":
		return loadJSON(f)
	case ".yaml", ".yml":
		return loadYAML(f)
	default:
		return cfg, fmt.Errorf("unknown config format: %s", fileExt)
	}
}

// LoadConfig will return merged default config and config from file. This is main
// function to use for config loading. Configuration file is optional e.g. can be "".
func LoadConfig(configFile string) (cfg Config, err error) {
	// Initialize default configuration.
	cfg, err = loadDefaultConfig()
	if err != nil {
		return cfg, err
	}

	// Load configuration from file and override default configuration options.
	if configFile != "" {
		c, err := loadConfigFromFile(configFile)
		if err != nil {
			return cfg, err
		}
		// Configuration file can specify full set or partial set of configuration
		// options. So we only want to override those options that have been specified in
		// config file, rest will remain as per default config.
		cfg.OverrideFrom(c)
	}

	return cfg, nil
}

func loadJSON(f string) (cfg Config, err error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return cfg, fmt.Errorf("config from JSON file: %w", err)
	}

	if len(b) == 0 {
		return cfg, fmt.Errorf("JSON file is empty: %w", ErrInvalidConfig)
	}

	if err = json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config from JSON document: %w", err)
	}

	return cfg, nil
}

func loadYAML(f string) (cfg Config, err error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return cfg, fmt.Errorf("config from YAML file: %w", err)
	}

	if len(b) == 0 {
		return cfg, fmt.Errorf("YAML file is empty: %w", ErrInvalidConfig)
	}

	if err = yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config from YAML document: %w", err)
	}

	return cfg, nil
}

// fileExists reports if given path exists and is not a directory.
func fileExists(f string) bool {
	if f == "" {
		return false
	}
	fi, err := os.Stat(f)
	return err == nil && !fi.IsDir()
}

// In order to support Config overriding we have to implement wrapper type for Config
// fields. Otherwise it is hard to distinguish skipped fields, for instance when loading
// partial configuration from file: in that case it would be impossible to  distinguish
// between say string fields zero value and empty string values as explicitly specified in
// configuration file.

// NewConfigVal is constructor for ConfigVal. It will wrap its argument into ConfigVal.
func NewConfigVal[T any](v T) ConfigVal[T] {
	return ConfigVal[T]{v: &v}
}

// ConfigVal is a wrapper for Config field value.
type ConfigVal[T any] struct {
	// Store wrapped value as pointer in order to have ability to distinguish between
	// unspecified ConfigVal and a value that is the same as zero value for wrapped type.
	// In this case a zero value for pointer is nil.
	//
	// For example a zero value for string is "" which is impossible to distinguish from
	// explicit empty string "".
	v *T
}

// Value will return wrapped value.
//
// In case field has not been defined e.g. is zero value, then appropriate zero value of
// wrapped type will be returned.
func (o *ConfigVal[T]) Value() T {
	if o.IsNil() {
		var v T
		return v
	}
	return *o.v
}

// IsNil check if wrapped value is nil.
func (o *ConfigVal[T]) IsNil() bool {
	// Zero value for pointer type is nil.
	return o.v == nil
}

// UnmarshalJSON implements json.Unmarshaler interface for ConfigVal.
func (o *ConfigVal[T]) UnmarshalJSON(b []byte) error {
	var val T
	err := json.Unmarshal(b, &val)
	if err != nil {
		return err
	}
	o.v = &val
	return nil
}

// MarshalJSON implements json.Marshaler interface for ConfigVal.
func (o ConfigVal[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Value())
}

// UnmarshalYAML implements yaml.Unmarshaler interface for ConfigVal.
func (o *ConfigVal[T]) UnmarshalYAML(value *yaml.Node) error {
	var val T
	if err := value.Decode(&val); err != nil {
		return err
	}
	o.v = &val
	return nil
}

// MarshalYAML implements yaml.Marshaler interface for ConfigVal.
func (o ConfigVal[T]) MarshalYAML() (interface{}, error) {
	return o.Value(), nil
}

func CreateDumpConfCommand() *DumpConfApp {
	longHelp := `Command "dump-conf" will print actual application configuration taking into account
configuration file provided and default configuration values.

Examples:

	siti dump-conf
	siti dump-conf --conf path/to/config.yaml --format yaml`

	app := &DumpConfApp{
		fs:       flag.NewFlagSet("dump-conf", flag.ContinueOnError),
		gf:       globalFlags{},
		out:      os.Stdout,
		usageOut: os.Stderr,
	}
	app.gf.Register(app.fs)
	app.fs.StringVar(&app.flFormat, "format", "json", "Output format: json or yaml")
	app.fs.Usage = func() {
		printSubCommandUsage(app.usageOut, app.Name(), longHelp, app.fs)
	}

	return app
}

// Also define command "dump-conf" here.

// Make sure App implements Commander interface.
var _ Commander = (*DumpConfApp)(nil)

// DumpConfApp is subcommand application context that implements Commander interface.
// Although this is very simple application, but for consistency sake is is implemented in
// similar style as other subcommands.
type DumpConfApp struct {
	out      io.Writer
	usageOut io.Writer
	fs       *flag.FlagSet
	gf       globalFlags
	flFormat string
}

func (d *DumpConfApp) Name() string {
	return "dump-conf"
}

func (d *DumpConfApp) Help() {
	d.fs.Usage()
}

// Run is main entry point into DumpConfApp execution.
func (d *DumpConfApp) Run(args []string) error {
	d.fs.SetOutput(d.usageOut)
	if err := d.fs.Parse(args); err != nil {
		return usageError(d.Name(), err)
	}
	d.gf.apply()

	// Load application configuration.
	cfg, err := LoadConfig(d.gf.ConfFile)
	if err != nil {
		return &AppError{exitCode: 1, msg: err.Error()}
	}

	switch d.flFormat {
	case "json":
		enc := json.NewEncoder(d.out)
		enc.SetIndent("", "  ")
		err = enc.Encode(cfg)
	case "yaml", "yml":
		enc := yaml.NewEncoder(d.out)
		enc.SetIndent(2)
		err = enc.Encode(cfg)
		if err == nil {
			err = enc.Close()
		}
	default:
		d.Help()
		return &AppError{exitCode: 2, msg: fmt.Sprintf("unknown output format: %s", d.flFormat)}
	}
	if err != nil {
		return &AppError{exitCode: 1, msg: err.Error()}
	}

	// Also, report if configuration is valid.
	if err := cfg.Verify(); err != nil {
		return &AppError{exitCode: 1, msg: fmt.Sprintf("configuration validation: %s", err)}
	}

	return nil
}
