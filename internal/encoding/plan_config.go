// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Encoding plan configuration related abstractions.
package encoding

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evolution-gaming/siti/internal/video"
	"gopkg.in/yaml.v3"
)

// PlanConfigError error type defines PlanConfig validation failures.
type PlanConfigError struct {
	msg     string
	reasons []string
}

func (e *PlanConfigError) Error() string {
	if len(e.reasons) > 0 {
		return fmt.Sprintf("%s with reasons:\n%s", e.msg, strings.Join(e.reasons, "\n"))
	}
	return e.msg
}

func (e *PlanConfigError) Reasons() []string {
	return e.reasons
}

func (e *PlanConfigError) addReason(reason string) {
	e.reasons = append(e.reasons, reason)
}

// Resolution is a target frame size with the QPs to encode it at.
type Resolution struct {
	Width  int   `yaml:"Width"`
	Height int   `yaml:"Height"`
	QPs    []int `yaml:"QPs"`
}

// PlanConfig holds configuration for new Plan creation. An encoding grid is
// every combination of Inputs x Codecs x Resolutions x QPs.
type PlanConfig struct {
	// List of source (mezzanine) video files or directories containing them.
	Inputs      []string     `yaml:"Inputs"`
	Codecs      []Codec      `yaml:"Codecs"`
	Resolutions []Resolution `yaml:"Resolutions"`
	// Optional post-processing of each encode, Codec.Name is used as suffix.
	Upscale *Codec `yaml:"Upscale,omitempty"`
	// Do not re-encode when compressed file already exists.
	SkipExisting bool `yaml:"SkipExisting"`
}

// NewPlanConfigFromJSON will unmarshal JSON into PlanConfig instance.
func NewPlanConfigFromJSON(jdoc []byte) (PlanConfig, error) {
	var pc PlanConfig
	err := json.Unmarshal(jdoc, &pc)
	if err != nil {
		return pc, err
	}
	return pc, nil
}

// NewPlanConfigFromYAML will unmarshal YAML into PlanConfig instance.
func NewPlanConfigFromYAML(ydoc []byte) (PlanConfig, error) {
	var pc PlanConfig
	err := yaml.Unmarshal(ydoc, &pc)
	if err != nil {
		return pc, err
	}
	return pc, nil
}

// LoadPlanConfig reads PlanConfig from JSON or YAML file, format is chosen
// by file extension.
func LoadPlanConfig(file string) (PlanConfig, error) {
	doc, err := os.ReadFile(file)
	if err != nil {
		return PlanConfig{}, fmt.Errorf("reading plan config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		return NewPlanConfigFromYAML(doc)
	case ".json":
		return NewPlanConfigFromJSON(doc)
	default:
		return PlanConfig{}, fmt.Errorf("unsupported plan config format: %s", file)
	}
}

// ExpandInputs replaces directories in Inputs by video files they contain.
func (p *PlanConfig) ExpandInputs(exts []string) error {
	var expanded []string
	for _, in := range p.Inputs {
		fi, err := os.Stat(in)
		if err != nil || !fi.IsDir() {
			// Non-existent inputs are reported by IsValid().
			expanded = append(expanded, in)
			continue
		}
		files, err := video.ListFiles(in, exts)
		if err != nil {
			return err
		}
		expanded = append(expanded, files...)
	}
	p.Inputs = expanded
	return nil
}

func (p *PlanConfig) IsValid() (bool, error) {
	errPlanConfig := &PlanConfigError{msg: "validation error"}

	if len(p.Inputs) == 0 {
		errPlanConfig.addReason("Inputs missing")
	}
	if hasDuplicates(p.Inputs) {
		errPlanConfig.addReason("Duplicate inputs detected")
	}
	if len(p.Codecs) == 0 {
		errPlanConfig.addReason("Codecs missing")
	}
	if len(p.Resolutions) == 0 {
		errPlanConfig.addReason("Resolutions missing")
	}

	for _, i := range p.Inputs {
		if _, err := os.Stat(i); err != nil {
			errPlanConfig.addReason(err.Error())
		}
	}
	for _, c := range p.Codecs {
		// Codec name is a single token of encoded file name.
		if c.Name == "" || strings.ContainsAny(c.Name, "_ /") {
			errPlanConfig.addReason(fmt.Sprintf("Invalid codec name %q", c.Name))
		}
		if !strings.Contains(c.CommandTpl, outputPlaceholder) {
			errPlanConfig.addReason(fmt.Sprintf("Codec %q command has no %s", c.Name, outputPlaceholder))
		}
	}
	for _, r := range p.Resolutions {
		if r.Width <= 0 || r.Height <= 0 {
			errPlanConfig.addReason(fmt.Sprintf("Invalid resolution %dx%d", r.Width, r.Height))
		}
		if len(r.QPs) == 0 {
			errPlanConfig.addReason(fmt.Sprintf("Resolution %dp has no QPs", r.Height))
		}
		for _, qp := range r.QPs {
			if qp < 0 {
				errPlanConfig.addReason(fmt.Sprintf("Invalid QP %d", qp))
			}
		}
	}
	if p.Upscale != nil {
		// Upscale name is the file name suffix, it keeps upscaled output apart
		// from the encoded file it reads.
		if p.Upscale.Name == "" || strings.ContainsAny(p.Upscale.Name, " /") {
			errPlanConfig.addReason(fmt.Sprintf("Invalid upscale name %q", p.Upscale.Name))
		}
		if !strings.Contains(p.Upscale.CommandTpl, outputPlaceholder) {
			errPlanConfig.addReason(fmt.Sprintf("Upscale command has no %s", outputPlaceholder))
		}
	}

	// Check if there were any validation errors?
	if len(errPlanConfig.reasons) != 0 {
		return false, errPlanConfig
	}
	return true, nil
}

// hasDuplicates checks if slice has duplicate elements.
func hasDuplicates(items []string) bool {
	// Create a poor man's seen
	seen := make(map[string]struct{}, len(items))
	for _, v := range items {
		if _, ok := seen[v]; ok {
			return true
		} else {
			seen[v] = struct{}{}
		}
	}
	return false
}
