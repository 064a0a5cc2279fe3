// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package siti

import (
	"io"
)

// Frame is a single decoded luma plane.
//
// Samples are 8-bit intensities promoted to float64 so that differencing and
// filtering never wrap around.
type Frame struct {
	Width  int
	Height int
	// Row-major luma samples, len(Pix) == Width*Height.
	Pix []float64
}

// NewFrame allocates a zeroed frame of given geometry.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height),
	}
}

// FromGray8 fills frame from 8-bit luma samples, as produced by ffmpeg gray
// pixel format. Frame geometry must already
// match len(b).
func (f *Frame) FromGray8(b []byte) {
	for i, v := range b {
		f.Pix[i] = float64(v)
	}
}

// sameGeometry reports if frames have identical dimensions.
func (f *Frame) sameGeometry(o *Frame) bool {
	return f.Width == o.Width && f.Height == o.Height
}

// FrameSource is a lazy, forward-only stream of frames.
//
// Next returns io.EOF after the last frame. A returned Frame is only valid
// until the following call to Next. Close releases underlying resources and
// may be called at any point, more than once.
type FrameSource interface {
	Next() (*Frame, error)
	io.Closer
}

// SourceOpener opens a FrameSource for a video file.
type SourceOpener interface {
	Open(videoFile string) (FrameSource, error)
}

// OpenerFunc is an adapter to allow use of ordinary functions as SourceOpener.
type OpenerFunc func(videoFile string) (FrameSource, error)

func (f OpenerFunc) Open(videoFile string) (FrameSource, error) {
	return f(videoFile)
}
