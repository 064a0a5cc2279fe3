// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package siti

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/evolution-gaming/siti/internal/logging"
	"github.com/evolution-gaming/siti/internal/lw"
	"github.com/evolution-gaming/siti/internal/tools"
)

// Keep this much of ffmpeg's stderr for error reporting.
const stderrBufferSize = 64 * 1024

// FfmpegOpener opens video files as FrameSource decoded by ffmpeg.
type FfmpegOpener struct {
	FfmpegPath  string
	FfprobePath string
	// Allowed file extensions (lower case, with dot), empty allows any.
	Extensions []string
	// Ask ffmpeg to stop after this many frames, 0 means no limit.
	MaxFrames int
}

// Make sure FfmpegOpener implements SourceOpener interface.
var _ SourceOpener = (*FfmpegOpener)(nil)

// Open probes video geometry and starts ffmpeg decoding into 8-bit luma.
func (o *FfmpegOpener) Open(videoFile string) (FrameSource, error) {
	if !o.supported(videoFile) {
		return nil, &UnsupportedFormatError{
			Path:   videoFile,
			Reason: fmt.Sprintf("extension not one of %s", strings.Join(o.Extensions, ", ")),
		}
	}

	meta, err := tools.FfprobeExtractMetadata(o.FfprobePath, videoFile)
	if errors.Is(err, tools.ErrNoVideoStream) {
		return nil, &UnsupportedFormatError{Path: videoFile, Reason: err.Error()}
	}
	if err != nil {
		return nil, &DecodeError{Path: videoFile, Frame: -1, Err: err}
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return nil, &UnsupportedFormatError{
			Path:   videoFile,
			Reason: fmt.Sprintf("invalid frame geometry %dx%d", meta.Width, meta.Height),
		}
	}

	args := []string{
		"-hide_banner",
		"-v", "error",
		"-nostdin",
		// Keep output geometry equal to probed (coded) geometry.
		"-noautorotate",
		"-i", videoFile,
		"-map", "0:v:0",
	}
	if o.MaxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(o.MaxFrames))
	}
	args = append(args, "-f", "rawvideo", "-pix_fmt", "gray", "-")

	s := &FfmpegSource{
		path:   videoFile,
		stderr: &bytes.Buffer{},
		frame:  NewFrame(meta.Width, meta.Height),
		buf:    make([]byte, meta.Width*meta.Height),
	}
	s.cmd = exec.Command(o.FfmpegPath, args...) //#nosec G204
	s.cmd.Stderr = lw.LimitWriter(s.stderr, stderrBufferSize)
	s.stdout, err = s.cmd.StdoutPipe()
	if err != nil {
		return nil, &DecodeError{Path: videoFile, Frame: -1, Err: err}
	}
	logging.Debugf("Running: %s", s.cmd)
	if err := s.cmd.Start(); err != nil {
		return nil, &DecodeError{Path: videoFile, Frame: -1, Err: err}
	}

	return s, nil
}

func (o *FfmpegOpener) supported(videoFile string) bool {
	if len(o.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(videoFile))
	for _, e := range o.Extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// FfmpegSource is a FrameSource reading raw luma frames from ffmpeg stdout.
type FfmpegSource struct {
	path   string
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	// Reused for every frame
	frame *Frame
	buf   []byte
	// Frames read so far
	n int
	// Stream exhausted or failed
	done bool
	// Process has been reaped
	waited bool
}

// Make sure FfmpegSource implements FrameSource interface.
var _ FrameSource = (*FfmpegSource)(nil)

func (s *FfmpegSource) Next() (*Frame, error) {
	if s.done {
		return nil, io.EOF
	}

	_, err := io.ReadFull(s.stdout, s.buf)
	switch {
	case err == nil:
		s.frame.FromGray8(s.buf)
		s.n++
		return s.frame, nil
	case errors.Is(err, io.EOF):
		// Clean end on frame boundary, yet ffmpeg may still have failed.
		s.done = true
		if werr := s.wait(); werr != nil {
			return nil, s.decodeError(werr)
		}
		return nil, io.EOF
	default:
		s.done = true
		werr := s.wait()
		if werr == nil {
			werr = err
		}
		return nil, s.decodeError(fmt.Errorf("truncated frame: %w", werr))
	}
}

// Close stops ffmpeg if still running.
func (s *FfmpegSource) Close() error {
	s.done = true
	if s.waited {
		return nil
	}
	if s.cmd.Process != nil {
		// Killing a process that already exited is harmless.
		_ = s.cmd.Process.Kill()
	}
	s.waited = true
	// Error from Wait() is expected here since process was killed.
	_ = s.cmd.Wait()
	return nil
}

func (s *FfmpegSource) wait() error {
	if s.waited {
		return nil
	}
	s.waited = true
	return s.cmd.Wait()
}

func (s *FfmpegSource) decodeError(err error) *DecodeError {
	if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
		err = fmt.Errorf("%w: %s", err, msg)
	}
	return &DecodeError{Path: s.path, Frame: s.n, Err: err}
}
