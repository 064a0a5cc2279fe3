// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package video

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ListFiles(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"b.MP4", "a.mkv", "notes.txt", ".hidden.mp4", "c.webm"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.mp4"), 0o755))

	got, err := ListFiles(dir, DefaultExtensions)
	require.NoError(t, err)

	want := []string{
		filepath.Join(dir, "a.mkv"),
		filepath.Join(dir, "b.MP4"),
		filepath.Join(dir, "c.webm"),
	}
	assert.Equal(t, want, got)
}

func Test_ListFiles_Negative(t *testing.T) {
	_, err := ListFiles("/non/existent/dir", DefaultExtensions)
	assert.Error(t, err)
}

func Test_HasExtension(t *testing.T) {
	tests := map[string]struct {
		given string
		want  bool
	}{
		"Lower case":   {given: "clip.mov", want: true},
		"Upper case":   {given: "CLIP.AVI", want: true},
		"Other":        {given: "clip.ts", want: false},
		"No extension": {given: "clip", want: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, HasExtension(tc.given, DefaultExtensions))
		})
	}
}

func Test_Stem(t *testing.T) {
	assert.Equal(t, "my clip.final", Stem("/videos/my clip.final.mp4"))
	assert.Equal(t, "clip", Stem("clip"))
}
