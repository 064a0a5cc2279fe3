// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/evolution-gaming/siti/internal/logging"
	flag "github.com/spf13/pflag"
)

type globalFlags struct {
	ConfFile string
	Debug    bool
}

func (g *globalFlags) Register(fs *flag.FlagSet) {
	fs.BoolVar(&g.Debug, "debug", false, "Enable debug logging (optional)")
	fs.StringVar(&g.ConfFile, "conf", "", "Application configuration file path, JSON or YAML (optional)")
}

// apply makes global flags effective.
func (g *globalFlags) apply() {
	if g.Debug {
		logging.EnableDebugLogger()
	}
}
