// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Ffmpeg family related tools.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path"

	"github.com/evolution-gaming/siti/internal/logging"
	"github.com/evolution-gaming/siti/internal/video"
)

// ErrNoVideoStream is returned when probed file has no video stream.
var ErrNoVideoStream = errors.New("no video stream")

var (
	ffprobeCmd = "ffprobe"
	ffmpegCmd  = "ffmpeg"
	// Environment variables to override binary locations.
	ffprobeEnv = "SITI_FFPROBE"
	ffmpegEnv  = "SITI_FFMPEG"
	// A specific libvmaf model file to be used when calculating VMAF score. Encoded
	// renditions are compared at 2160p so 4K model is the default.
	DefaultLibvmafModel = "vmaf_4k_v0.6.1.json"
	// A list of known locations where various distributions of ffmpeg may put
	// libvmaf models. Relative "vmaf_models" is the project-local download dir.
	libvmafModelLocations = []string{
		"vmaf_models",
		"/usr/local/share/model",
		"/usr/share/model",
		"/opt/ffmpeg-static/model",
	}
)

// FfmpegPath will return path to ffmpeg binary and error if path is not found.
func FfmpegPath() (string, error) {
	p, err := FindTool(ffmpegCmd, ffmpegEnv)
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found: %w", err)
	}
	return p, nil
}

// FfprobePath will return path to ffprobe binary and error if path is not found.
func FfprobePath() (string, error) {
	p, err := FindTool(ffprobeCmd, ffprobeEnv)
	if err != nil {
		return "", fmt.Errorf("ffprobe not found: %w", err)
	}
	return p, nil
}

// ffprobeMetadata is a temporary structure to unmarshal JSON from ffprobe output.
type ffprobeMetadata struct {
	CodecType   string  `json:"codec_type,omitempty"`
	CodecName   string  `json:"codec_name,omitempty"`
	PixelFormat string  `json:"pix_fmt,omitempty"`
	FrameRate   string  `json:"r_frame_rate,omitempty"`
	Duration    float64 `json:"duration,omitempty,string"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	BitRate     int     `json:"bit_rate,omitempty,string"`
	FrameCount  int     `json:"nb_frames,omitempty,string"`
}

// ffprobe runs ffprobe with JSON output for given file and unmarshals both
// "streams" and "format" objects.
func ffprobe(ffprobePath, videoFile string) (streams []ffprobeMetadata, format ffprobeMetadata, err error) {
	if _, err := os.Stat(videoFile); err != nil {
		return nil, format, fmt.Errorf("ffprobe os.Stat: %w", err)
	}

	ffprobeArgs := []string{
		"-v", "quiet",
		"-select_streams", "v:0",
		"-of", "json",
		"-show_format",
		"-show_streams",
		videoFile,
	}
	cmd := exec.Command(ffprobePath, ffprobeArgs...)
	logging.Debugf("Running: %s", cmd)
	out, err := cmd.Output()
	if err != nil {
		return nil, format, fmt.Errorf("ffprobe exec error: %w", err)
	}

	meta := &struct {
		Streams []ffprobeMetadata
		Format  ffprobeMetadata
	}{}
	if err := json.Unmarshal(out, &meta); err != nil {
		return nil, format, fmt.Errorf("ffprobe json.Unmarshal: %w", err)
	}
	return meta.Streams, meta.Format, nil
}

// FfprobeExtractMetadata will query first video stream metadata via ffprobe.
func FfprobeExtractMetadata(ffprobePath, videoFile string) (video.Metadata, error) {
	var vmeta video.Metadata

	streams, format, err := ffprobe(ffprobePath, videoFile)
	if err != nil {
		return vmeta, fmt.Errorf("FfprobeExtractMetadata() %w", err)
	}
	if len(streams) == 0 || (streams[0].CodecType != "" && streams[0].CodecType != "video") {
		return vmeta, fmt.Errorf("FfprobeExtractMetadata() %s: %w", videoFile, ErrNoVideoStream)
	}

	s := streams[0]
	vmeta = video.Metadata{
		CodecName:   s.CodecName,
		PixelFormat: s.PixelFormat,
		FrameRate:   s.FrameRate,
		Duration:    s.Duration,
		Width:       s.Width,
		Height:      s.Height,
		BitRate:     s.BitRate,
		FrameCount:  s.FrameCount,
	}
	// For mkv container Streams does not contain duration, so we have to look into Format.
	vmeta.Duration = math.Max(vmeta.Duration, format.Duration)
	logging.Debugf("%s %+v", videoFile, vmeta)

	return vmeta, nil
}

// ProbeBitrate returns container reported bit rate in kbit/s.
func ProbeBitrate(ffprobePath, videoFile string) (float64, error) {
	_, format, err := ffprobe(ffprobePath, videoFile)
	if err != nil {
		return 0, fmt.Errorf("ProbeBitrate() %w", err)
	}
	if format.BitRate <= 0 {
		return 0, fmt.Errorf("ProbeBitrate() no bit rate reported for %s", videoFile)
	}
	return float64(format.BitRate) / 1000, nil
}

// FindLibvmafModel will return path to given libvmaf model file.
//
// XXX: Although not specifically related to ffmpeg family tools, but for time
// being keep it here.
func FindLibvmafModel(model string) (string, error) {
	for _, l := range libvmafModelLocations {
		p := path.Join(l, model)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("libvmaf model file %s not found in any of %s", model, libvmafModelLocations)
}
