// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Spatial Information (SI) and Temporal Information (TI) of video content.
//
// SI of a frame is the standard deviation of its Sobel gradient magnitude, TI
// is the standard deviation of the pixelwise difference to the preceding frame.
// Sobel filter is evaluated only where the 3x3 kernel fully fits (borders are
// cropped), so a flat frame always has SI of 0.
package siti

import (
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"

	"github.com/evolution-gaming/siti/internal/logging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Result contains per-frame SI/TI and their aggregates for a single video.
type Result struct {
	VideoID string
	// SI per frame, one value for each decoded frame
	SI []float64
	// TI per frame starting from the second frame, len(TI) == len(SI)-1
	TI     []float64
	SIMean float64
	SIMax  float64
	// TI aggregates are zero when video has a single frame, see HasTI()
	TIMean float64
	TIMax  float64
}

// HasTI reports if TI aggregates are defined.
func (r *Result) HasTI() bool {
	return len(r.TI) > 0
}

// Category returns a coarse content complexity class from mean SI and TI.
func (r *Result) Category() string {
	return Categorize(r.SIMean, r.TIMean)
}

// Categorize maps SI/TI pair onto a content complexity class.
func Categorize(si, ti float64) string {
	switch {
	case si < 20 && ti < 10:
		return "Low Detail / Low Motion"
	case si > 50 && ti > 20:
		return "High Detail / High Motion"
	case si > 50:
		return "High Detail / Low Motion"
	case ti > 20:
		return "Low Detail / High Motion"
	default:
		return "Moderate"
	}
}

// Analyzer computes SI/TI for videos.
type Analyzer struct {
	opener SourceOpener
	// Stop after this many frames, 0 means no limit.
	MaxFrames int
	// Optional callback invoked after each analysed frame with frame count so far.
	Progress func(frames int)
}

// NewAnalyzer creates an Analyzer reading frames via given opener.
func NewAnalyzer(opener SourceOpener) *Analyzer {
	return &Analyzer{opener: opener}
}

// Analyze opens video file and computes its SI/TI.
//
// The frame source is always closed before returning. For video without any
// frames a Result with just VideoID is returned along with ErrEmptyVideo.
func (a *Analyzer) Analyze(videoFile string) (Result, error) {
	id := filepath.Base(videoFile)
	src, err := a.opener.Open(videoFile)
	if err != nil {
		return Result{VideoID: id}, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logging.Debugf("Closing frame source for %s: %s", videoFile, cerr)
		}
	}()

	return a.AnalyzeSource(id, src)
}

// AnalyzeSource folds over all frames of src computing SI/TI.
//
// Only the previous frame is retained between iterations. Caller owns src.
func (a *Analyzer) AnalyzeSource(id string, src FrameSource) (Result, error) {
	res := Result{VideoID: id}
	var (
		prev    *Frame
		scratch []float64
	)

	for n := 0; a.MaxFrames <= 0 || n < a.MaxFrames; n++ {
		cur, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				return Result{VideoID: id}, err
			}
			return Result{VideoID: id}, &DecodeError{Path: id, Frame: n, Err: err}
		}

		if prev != nil && !cur.sameGeometry(prev) {
			return Result{VideoID: id}, &DecodeError{
				Path:  id,
				Frame: n,
				Err: fmt.Errorf("frame geometry changed from %dx%d to %dx%d",
					prev.Width, prev.Height, cur.Width, cur.Height),
			}
		}
		if len(scratch) != len(cur.Pix) {
			scratch = make([]float64, len(cur.Pix))
		}

		res.SI = append(res.SI, spatialInformation(cur, scratch))
		if prev != nil {
			res.TI = append(res.TI, temporalInformation(cur, prev, scratch))
		} else {
			prev = NewFrame(cur.Width, cur.Height)
		}
		// Source may reuse cur, so retain a copy replacing previous one.
		copy(prev.Pix, cur.Pix)

		if a.Progress != nil {
			a.Progress(n + 1)
		}
	}

	if len(res.SI) == 0 {
		return res, fmt.Errorf("%s: %w", id, ErrEmptyVideo)
	}

	res.SIMean = stat.Mean(res.SI, nil)
	res.SIMax = floats.Max(res.SI)
	if res.HasTI() {
		res.TIMean = stat.Mean(res.TI, nil)
		res.TIMax = floats.Max(res.TI)
	}

	return res, nil
}

// SpatialInformation calculates SI of a single frame.
func SpatialInformation(f *Frame) float64 {
	return spatialInformation(f, make([]float64, len(f.Pix)))
}

// TemporalInformation calculates TI of frame cur relative to preceding frame prev.
func TemporalInformation(cur, prev *Frame) float64 {
	if !cur.sameGeometry(prev) {
		panic("siti: TemporalInformation frame geometry mismatch")
	}
	return temporalInformation(cur, prev, make([]float64, len(cur.Pix)))
}

// spatialInformation uses buf (at least len(f.Pix) long) as scratch space for
// gradient magnitudes.
func spatialInformation(f *Frame, buf []float64) float64 {
	w, h := f.Width, f.Height
	if w < 3 || h < 3 {
		return 0
	}
	p := f.Pix
	mag := buf[:0]
	for y := 1; y < h-1; y++ {
		up, mid, down := (y-1)*w, y*w, (y+1)*w
		for x := 1; x < w-1; x++ {
			gx := (p[up+x+1] + 2*p[mid+x+1] + p[down+x+1]) -
				(p[up+x-1] + 2*p[mid+x-1] + p[down+x-1])
			gy := (p[down+x-1] + 2*p[down+x] + p[down+x+1]) -
				(p[up+x-1] + 2*p[up+x] + p[up+x+1])
			mag = append(mag, math.Sqrt(gx*gx+gy*gy))
		}
	}
	return popStdDev(mag)
}

// temporalInformation uses buf (at least len(cur.Pix) long) as scratch space
// for frame difference.
func temporalInformation(cur, prev *Frame, buf []float64) float64 {
	diff := buf[:len(cur.Pix)]
	floats.SubTo(diff, cur.Pix, prev.Pix)
	return popStdDev(diff)
}

// popStdDev is population standard deviation, never negative nor NaN.
func popStdDev(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	v := stat.PopVariance(x, nil)
	// Guard against rounding residue.
	if !(v > 0) {
		return 0
	}
	return math.Sqrt(v)
}
