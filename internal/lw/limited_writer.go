// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// A bounded writer for capturing subprocess diagnostics.
//
// Keeps the first N bytes written and silently drops the rest, so that a
// runaway process flooding stderr can neither exhaust memory nor fail the
// process pipeline (io.MultiWriter, exec.Cmd) the writer is part of.
package lw

import (
	"io"
)

type LimitedWriter struct {
	// Apply limits to this Writer
	W io.Writer
	// Remaining capacity in bytes
	N uint
	// Set once any data has been dropped
	truncated bool
}

// Write implements io.Writer for *LimitedWriter.
//
// Write always reports full len(b) as written unless underlying Writer fails,
// data beyond capacity is discarded.
func (s *LimitedWriter) Write(b []byte) (int, error) {
	keep := b
	if uint(len(keep)) > s.N {
		keep = keep[:s.N]
		s.truncated = true
	}
	if len(keep) == 0 {
		return len(b), nil
	}
	n, err := s.W.Write(keep)
	s.N -= uint(n)
	if err != nil {
		return n, err
	}
	return len(b), nil
}

// Truncated reports whether some written data was dropped.
func (s *LimitedWriter) Truncated() bool {
	return s.truncated
}

func LimitWriter(w io.Writer, n uint) *LimitedWriter {
	return &LimitedWriter{W: w, N: n}
}
