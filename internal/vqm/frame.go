// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Per-frame quality metrics and their aggregation.

package vqm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrNoFrames is returned when there is nothing to aggregate.
var ErrNoFrames = errors.New("no frames")

// FrameMetric contains VQMs for a single frame.
type FrameMetric struct {
	FrameNum uint    `csv:"frame"`
	VMAF     float64 `csv:"vmaf"`
	PSNR     float64 `csv:"psnr"`
	MS_SSIM  float64 `csv:"ms_ssim"`
}

// FrameMetrics is per-frame VQM series of a single encoded video.
type FrameMetrics []FrameMetric

// ReadFrameMetrics decodes FrameMetrics from a JSON array of FrameMetric.
func ReadFrameMetrics(r io.Reader) (FrameMetrics, error) {
	var fm FrameMetrics
	if err := json.NewDecoder(r).Decode(&fm); err != nil {
		return nil, fmt.Errorf("ReadFrameMetrics() JSON decode: %w", err)
	}
	return fm, nil
}

// ReadFfmpegVMAF decodes libvmaf JSON log into FrameMetrics.
func ReadFfmpegVMAF(r io.Reader) (FrameMetrics, error) {
	res := &ffmpegVMAFResult{}
	if err := json.NewDecoder(r).Decode(res); err != nil {
		return nil, fmt.Errorf("ReadFfmpegVMAF() JSON decode: %w", err)
	}

	fm := make(FrameMetrics, 0, len(res.Frames))
	for _, v := range res.Frames {
		fm = append(fm, FrameMetric{
			FrameNum: v.FrameNum,
			VMAF:     v.Metrics.VMAF,
			PSNR:     v.Metrics.PSNR,
			MS_SSIM:  v.Metrics.MS_SSIM,
		})
	}
	return fm, nil
}

// LoadFfmpegVMAF reads libvmaf JSON log file.
func LoadFfmpegVMAF(file string) (FrameMetrics, error) {
	fd, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("opening libvmaf log: %w", err)
	}
	defer fd.Close()

	fm, err := ReadFfmpegVMAF(fd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return fm, nil
}

// Series splits metrics into per-metric vectors.
func (fm FrameMetrics) Series() (vmaf, psnr, msSSIM []float64) {
	vmaf = make([]float64, len(fm))
	psnr = make([]float64, len(fm))
	msSSIM = make([]float64, len(fm))
	for i, v := range fm {
		vmaf[i] = v.VMAF
		psnr[i] = v.PSNR
		msSSIM[i] = v.MS_SSIM
	}
	return vmaf, psnr, msSSIM
}

// Aggregate summarizes every metric over all frames.
func (fm FrameMetrics) Aggregate() (*AggregateMetric, error) {
	if len(fm) == 0 {
		return nil, ErrNoFrames
	}
	vmaf, psnr, msSSIM := fm.Series()
	return &AggregateMetric{
		VMAF:    aggregate(vmaf),
		PSNR:    aggregate(psnr),
		MS_SSIM: aggregate(msSSIM),
	}, nil
}

// aggregate requires non-empty values.
func aggregate(values []float64) Metric {
	var m Metric
	m.Min = floats.Min(values)
	m.Max = floats.Max(values)
	m.HarmonicMean = stat.HarmonicMean(values, nil)
	m.Variance = stat.Variance(values, nil)
	m.Mean, m.StDev = stat.MeanStdDev(values, nil)
	return m
}
