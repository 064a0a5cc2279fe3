// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package metric

import (
	"github.com/evolution-gaming/siti/internal/siti"
)

// SITIRecord is the summary of a single analysed video, one row of summary CSV.
type SITIRecord struct {
	VideoID string  `csv:"input_file"`
	SIMean  float64 `csv:"si_mean"`
	SIMax   float64 `csv:"si_max"`
	// Nil for single frame videos, rendered as empty cell.
	TIMean   *float64 `csv:"ti_mean"`
	TIMax    *float64 `csv:"ti_max"`
	Category string   `csv:"category"`
	Frames   int      `csv:"-"`
}

// NewSITIRecord summarises analysis result.
func NewSITIRecord(r siti.Result) SITIRecord {
	rec := SITIRecord{
		VideoID:  r.VideoID,
		SIMean:   r.SIMean,
		SIMax:    r.SIMax,
		Category: r.Category(),
		Frames:   len(r.SI),
	}
	if r.HasTI() {
		tiMean, tiMax := r.TIMean, r.TIMax
		rec.TIMean = &tiMean
		rec.TIMax = &tiMax
	}
	return rec
}

// FrameRecord is a single row of per-video CSV.
type FrameRecord struct {
	N  int      `csv:"n"`
	SI float64  `csv:"si"`
	TI *float64 `csv:"ti"`
}

// FrameRecords flattens per-frame values of analysis result, TI is nil for
// the first frame.
func FrameRecords(r siti.Result) []FrameRecord {
	rows := make([]FrameRecord, len(r.SI))
	for i, si := range r.SI {
		rows[i] = FrameRecord{N: i, SI: si}
		if i > 0 {
			ti := r.TI[i-1]
			rows[i].TI = &ti
		}
	}
	return rows
}

// QualityRecord holds quality and rate figures of a single encoded video.
type QualityRecord struct {
	Video       string  `csv:"video"`
	Source      string  `csv:"source"`
	Codec       string  `csv:"codec"`
	Resolution  string  `csv:"resolution"`
	QP          int     `csv:"qp"`
	BitrateKbps float64 `csv:"bitrate_kbps"`
	VMAF        float64 `csv:"vmaf"`

	VMAFMin          float64 `csv:"vmaf_min"`
	VMAFHarmonicMean float64 `csv:"vmaf_harmonic_mean"`
	PSNRMean         float64 `csv:"psnr_mean"`
	MS_SSIMMean      float64 `csv:"ms_ssim_mean"`

	// Height in pixels, used for grouping.
	Height int `csv:"-"`
}

// EncodeRecord holds execution figures of a single encoding run.
type EncodeRecord struct {
	Name           string `csv:"name"`
	SourceFile     string `csv:"source_file"`
	CompressedFile string `csv:"compressed_file"`
	Cmd            string `csv:"cmd"`
	Skipped        bool   `csv:"skipped"`
	Failed         bool   `csv:"failed"`
	ExitCode       int    `csv:"exit_code"`

	HElapsed string `csv:"elapsed"`
	HUtime   string `csv:"utime"`
	HStime   string `csv:"stime"`
	// MaxRss is KB
	MaxRss           int64   `csv:"max_rss_kb"`
	CPUPercent       float64 `csv:"cpu_percent"`
	VideoDuration    float64 `csv:"video_duration"`
	AvgEncodingSpeed float64 `csv:"avg_encoding_speed"`
}
