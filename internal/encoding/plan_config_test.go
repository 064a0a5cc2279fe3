// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Encoding plan configuration related tests.

package encoding

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/evolution-gaming/siti/internal/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlanConfigFromJSON(t *testing.T) {
	tests := map[string]struct {
		err   error
		want  PlanConfig
		given []byte
	}{
		"Positive": {
			given: []byte(`{
				"Inputs": [
					"src/vid1.mp4",
					"src/vid2.mp4"
				],
				"Codecs": [
					{
						"Name": "av1",
						"CommandTpl": ["ffmpeg -i %INPUT% ",  "-c:v libsvtav1 -qp %QP% %OUTPUT%.mkv"]
					},
					{
						"Name": "h265",
						"CommandTpl": "ffmpeg -i %INPUT% -c:v libx265 %OUTPUT%.mp4"
					}
				],
				"Resolutions": [
					{"Width": 1280, "Height": 720, "QPs": [30, 40]}
				],
				"Upscale": {
					"Name": "upscaled",
					"CommandTpl": ["ffmpeg -i %INPUT% ", "-vf scale=3840:2160 %OUTPUT%.mp4"]
				},
				"SkipExisting": true
			}`),
			want: PlanConfig{
				Inputs: []string{
					"src/vid1.mp4",
					"src/vid2.mp4",
				},
				Codecs: []Codec{
					{"av1", "ffmpeg -i %INPUT% -c:v libsvtav1 -qp %QP% %OUTPUT%.mkv"},
					{"h265", "ffmpeg -i %INPUT% -c:v libx265 %OUTPUT%.mp4"},
				},
				Resolutions: []Resolution{
					{Width: 1280, Height: 720, QPs: []int{30, 40}},
				},
				Upscale:      &Codec{"upscaled", "ffmpeg -i %INPUT% -vf scale=3840:2160 %OUTPUT%.mp4"},
				SkipExisting: true,
			},
			err: nil,
		},
		"Positive incomplete JSON": {
			given: []byte(`{ "Inputs": ["input1"]}`),
			want:  PlanConfig{Inputs: []string{"input1"}},
			err:   nil,
		},
		"Negative invalid JSON": {
			given: []byte("]"),
			want:  PlanConfig{},
			err:   &json.SyntaxError{},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := NewPlanConfigFromJSON(tc.given)

			if tc.err == nil {
				// Positive scenario case when error should be absent (nil).
				assert.NoError(t, err)
			} else {
				// Negative scenario with expected non-nil error.
				gotE := reflect.TypeOf(err)
				wantE := reflect.TypeOf(tc.err)
				assert.Equal(t, wantE, gotE)
			}
			assert.Equal(t, tc.want, got, "PlanConfig mismatch")
		})
	}
}

func TestNewPlanConfigFromYAML(t *testing.T) {
	given := []byte(`
Inputs: [src/vid1.mp4]
Codecs:
  - Name: av1
    CommandTpl:
      - "ffmpeg -i %INPUT% -vf scale=%WIDTH%:%HEIGHT% "
      - "-c:v libsvtav1 -qp %QP% %OUTPUT%.mkv"
Resolutions:
  - {Width: 854, Height: 480, QPs: [50]}
`)
	want := PlanConfig{
		Inputs: []string{"src/vid1.mp4"},
		Codecs: []Codec{
			{"av1", "ffmpeg -i %INPUT% -vf scale=%WIDTH%:%HEIGHT% -c:v libsvtav1 -qp %QP% %OUTPUT%.mkv"},
		},
		Resolutions: []Resolution{{Width: 854, Height: 480, QPs: []int{50}}},
	}

	got, err := NewPlanConfigFromYAML(given)
	assert.NoError(t, err)
	assert.Equal(t, want, got)

	t.Run("Invalid YAML", func(t *testing.T) {
		_, err := NewPlanConfigFromYAML([]byte("Inputs: [unterminated"))
		assert.Error(t, err)
	})
}

func TestLoadPlanConfig(t *testing.T) {
	dir := t.TempDir()
	jsonFile := filepath.Join(dir, "plan.json")
	yamlFile := filepath.Join(dir, "plan.yml")
	txtFile := filepath.Join(dir, "plan.txt")
	require.NoError(t, os.WriteFile(jsonFile, []byte(`{"Inputs": ["a.mp4"]}`), 0o600))
	require.NoError(t, os.WriteFile(yamlFile, []byte("Inputs: [a.mp4]\n"), 0o600))
	require.NoError(t, os.WriteFile(txtFile, []byte("Inputs"), 0o600))

	for _, f := range []string{jsonFile, yamlFile} {
		got, err := LoadPlanConfig(f)
		assert.NoError(t, err)
		assert.Equal(t, []string{"a.mp4"}, got.Inputs)
	}

	_, err := LoadPlanConfig(txtFile)
	assert.ErrorContains(t, err, "unsupported plan config format")
	_, err = LoadPlanConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

// fixSourceFile creates an empty "video" file in given dir.
func fixSourceFile(t *testing.T, dir, name string) string {
	t.Helper()
	f := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(f, []byte("source"), 0o600))
	return f
}

func fixValidPlanConfig(t *testing.T) PlanConfig {
	return PlanConfig{
		Inputs:      []string{fixSourceFile(t, t.TempDir(), "clip.mp4")},
		Codecs:      []Codec{{"av1", "cp %INPUT% %OUTPUT%.mkv"}},
		Resolutions: []Resolution{{Width: 1280, Height: 720, QPs: []int{30}}},
	}
}

func TestPlanConfigIsValid(t *testing.T) {
	pc := fixValidPlanConfig(t)
	validState, err := pc.IsValid()
	assert.True(t, validState)
	assert.NoError(t, err)
}

func TestNegativePlanConfigIsValid(t *testing.T) {
	wantErrorMsg := "validation error"
	valid := fixValidPlanConfig(t)
	source := valid.Inputs[0]

	tests := map[string]struct {
		given       PlanConfig
		wantReasons []string
	}{
		"Negative nil value": {
			given: PlanConfig{},
			wantReasons: []string{
				"Inputs missing", "Codecs missing", "Resolutions missing",
			},
		},
		"Negative Codecs missing": {
			given: PlanConfig{
				Inputs:      valid.Inputs,
				Resolutions: valid.Resolutions,
			},
			wantReasons: []string{
				"Codecs missing",
			},
		},
		"Negative duplicate Inputs": {
			given: PlanConfig{
				Inputs:      []string{source, source},
				Codecs:      valid.Codecs,
				Resolutions: valid.Resolutions,
			},
			wantReasons: []string{
				"Duplicate inputs detected",
			},
		},
		"Negative wrong file in Inputs": {
			given: PlanConfig{
				Inputs:      []string{"no_existent_file"},
				Codecs:      valid.Codecs,
				Resolutions: valid.Resolutions,
			},
			wantReasons: []string{
				"stat no_existent_file: no such file or directory",
			},
		},
		"Negative codec name with underscore": {
			given: PlanConfig{
				Inputs:      valid.Inputs,
				Codecs:      []Codec{{"svt_av1", "cp %INPUT% %OUTPUT%.mkv"}},
				Resolutions: valid.Resolutions,
			},
			wantReasons: []string{
				`Invalid codec name "svt_av1"`,
			},
		},
		"Negative codec without output": {
			given: PlanConfig{
				Inputs:      valid.Inputs,
				Codecs:      []Codec{{"av1", "true"}},
				Resolutions: valid.Resolutions,
			},
			wantReasons: []string{
				`Codec "av1" command has no %OUTPUT%`,
			},
		},
		"Negative resolution problems": {
			given: PlanConfig{
				Inputs:      valid.Inputs,
				Codecs:      valid.Codecs,
				Resolutions: []Resolution{{Width: 0, Height: 720}, {Width: 10, Height: 10, QPs: []int{-1}}},
			},
			wantReasons: []string{
				"Invalid resolution 0x720",
				"Resolution 720p has no QPs",
				"Invalid QP -1",
			},
		},
		"Negative upscale without output": {
			given: PlanConfig{
				Inputs:      valid.Inputs,
				Codecs:      valid.Codecs,
				Resolutions: valid.Resolutions,
				Upscale:     &Codec{"upscaled", "true"},
			},
			wantReasons: []string{
				"Upscale command has no %OUTPUT%",
			},
		},
		"Negative upscale without name": {
			given: PlanConfig{
				Inputs:      valid.Inputs,
				Codecs:      valid.Codecs,
				Resolutions: valid.Resolutions,
				Upscale:     &Codec{"", "ffmpeg -i %INPUT% -vf scale=3840:2160 %OUTPUT%.mkv"},
			},
			wantReasons: []string{
				`Invalid upscale name ""`,
			},
		},
		"Negative upscale name with path separator and space": {
			given: PlanConfig{
				Inputs:      valid.Inputs,
				Codecs:      valid.Codecs,
				Resolutions: valid.Resolutions,
				Upscale:     &Codec{"4k/x", "cp %INPUT% %OUTPUT%.mkv"},
			},
			wantReasons: []string{
				`Invalid upscale name "4k/x"`,
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			validState, err := tc.given.IsValid()
			assert.ErrorContains(t, err, wantErrorMsg)
			assert.False(t, validState)

			// Cast error in order to check Reasons().
			gotErr, ok := err.(*PlanConfigError)
			require.Truef(t, ok, "Unexpected error type, want PlanConfigError, got %T", err)
			assert.Equal(t, tc.wantReasons, gotErr.Reasons())
		})
	}
}

func TestPlanConfigExpandInputs(t *testing.T) {
	dir := t.TempDir()
	b := fixSourceFile(t, dir, "b.mkv")
	a := fixSourceFile(t, dir, "a.mp4")
	fixSourceFile(t, dir, "readme.txt")
	single := fixSourceFile(t, t.TempDir(), "single.mov")

	pc := PlanConfig{Inputs: []string{single, dir, "missing.mp4"}}
	require.NoError(t, pc.ExpandInputs(video.DefaultExtensions))
	assert.Equal(t, []string{single, a, b, "missing.mp4"}, pc.Inputs)
}

func TestHasDuplicatesTable(t *testing.T) {
	tests := map[string]struct {
		given []string
		want  bool
	}{
		"No duplicates": {
			given: []string{"aaa", "bbb", "ccc", "ddd"},
			want:  false,
		},
		"No duplicates empty": {
			given: []string{},
			want:  false,
		},
		"With duplicates": {
			given: []string{"aaa", "bbb", "ccc", "aaa", "ddd"},
			want:  true,
		},
		"With duplicate empty strings": {
			given: []string{"", "bbb", "ccc", "", "ddd"},
			want:  true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := hasDuplicates(tc.given)
			assert.Equal(t, tc.want, got)
		})
	}
}
