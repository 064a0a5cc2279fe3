// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Video metadata related constructs.

package video

import (
	"fmt"
	"strconv"
	"strings"
)

// Metadata type contains useful video stream metadata.
type Metadata struct {
	CodecName   string  `json:"codec_name,omitempty"`
	PixelFormat string  `json:"pix_fmt,omitempty"`
	FrameRate   string  `json:"r_frame_rate,omitempty"`
	Duration    float64 `json:"duration,omitempty,string"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	BitRate     int     `json:"bit_rate,omitempty,string"`
	FrameCount  int     `json:"nb_frames,omitempty,string"`
}

// FPS returns frame rate as a number.
func (m Metadata) FPS() (float64, error) {
	return ParseFraction(m.FrameRate)
}

// ParseFraction parses ffprobe style rational ("30000/1001") or decimal number.
func ParseFraction(s string) (float64, error) {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing numerator of %q: %w", s, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing denominator of %q: %w", s, err)
	}
	if d == 0 {
		return 0, fmt.Errorf("zero denominator in %q", s)
	}
	return n / d, nil
}

// MetadataExtractor is the interface that wraps ExtractMetadata method.
type MetadataExtractor interface {
	ExtractMetadata(videoFile string) (Metadata, error)
}
