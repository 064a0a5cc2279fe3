// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Application version string related functionality.
//
// Version is injected at build time via "ldflags", otherwise taken from
// debug.BuildInfo which "go install" populates.

package main

import (
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"
)

// Value injected during build with -ldflags="-X main.version={ver}".
var (
	version string
	vInfo   = newVersionInfo(version, readBuildInfo())
)

func readBuildInfo() *debug.BuildInfo {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	return bi
}

// versionInfo is struct that includes relevant version information.
type versionInfo struct {
	time      time.Time
	version   string
	revision  string
	modified  bool
	goVersion string
}

// newVersionInfo combines injected version with build info, bi may be nil.
func newVersionInfo(injected string, bi *debug.BuildInfo) versionInfo {
	v := versionInfo{version: injected}
	if bi == nil {
		return v
	}
	if v.version == "" {
		v.version = bi.Main.Version
	}
	v.goVersion = bi.GoVersion

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = s.Value
		case "vcs.time":
			v.time, _ = time.Parse(time.RFC3339, s.Value)
		case "vcs.modified":
			v.modified = s.Value == "true"
		}
	}
	return v
}

func (v versionInfo) String() string {
	ver := v.version
	if ver == "" {
		ver = "(devel)"
	}
	parts := []string{ver}
	if v.revision != "" {
		rev := v.revision
		if v.modified {
			rev += "-dirty"
		}
		parts = append(parts, rev)
	}
	if !v.time.IsZero() {
		parts = append(parts, v.time.UTC().Format(time.DateOnly))
	}
	if v.goVersion != "" {
		parts = append(parts, v.goVersion)
	}
	return strings.Join(parts, " ")
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "siti %s\n", vInfo)
}
