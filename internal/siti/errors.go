// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package siti

import (
	"errors"
	"fmt"
)

// ErrEmptyVideo is returned when not a single frame could be decoded.
var ErrEmptyVideo = errors.New("no frames decoded")

// DecodeError is returned when video can not be opened or decoding fails
// mid-stream. Analysis of the video is aborted, frames are never skipped.
type DecodeError struct {
	Path string
	// Index of the frame that failed, -1 when stream could not be opened.
	Frame int
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Frame < 0 {
		return fmt.Sprintf("opening %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("decoding %s at frame %d: %v", e.Path, e.Frame, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// UnsupportedFormatError is returned for containers or streams that can not
// be decoded.
type UnsupportedFormatError struct {
	Path   string
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format %s: %s", e.Path, e.Reason)
}

// Failure kinds as reported by Kind().
const (
	KindDecode      = "decode"
	KindEmpty       = "empty"
	KindUnsupported = "unsupported"
	KindUnknown     = "unknown"
)

// Kind classifies analysis error for reporting.
func Kind(err error) string {
	var (
		de *DecodeError
		ue *UnsupportedFormatError
	)
	switch {
	case errors.Is(err, ErrEmptyVideo):
		return KindEmpty
	case errors.As(err, &ue):
		return KindUnsupported
	case errors.As(err, &de):
		return KindDecode
	default:
		return KindUnknown
	}
}
