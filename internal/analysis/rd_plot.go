// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package analysis

import (
	"fmt"
	"sort"

	"github.com/evolution-gaming/siti/internal/metric"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// rdSeries is a rate-distortion curve of a single codec and resolution.
type rdSeries struct {
	name   string
	codec  string
	height int
	points plotter.XYs
}

// groupRD groups quality records into per codec and resolution curves, each
// sorted by bitrate. Curves are ordered by codec, then by height.
func groupRD(records []metric.QualityRecord) []rdSeries {
	idx := make(map[string]int)
	var series []rdSeries
	for _, r := range records {
		key := fmt.Sprintf("%s %s", r.Codec, r.Resolution)
		i, ok := idx[key]
		if !ok {
			i = len(series)
			idx[key] = i
			series = append(series, rdSeries{name: key, codec: r.Codec, height: r.Height})
		}
		series[i].points = append(series[i].points, plotter.XY{X: r.BitrateKbps, Y: r.VMAF})
	}
	for _, s := range series {
		sort.Slice(s.points, func(a, b int) bool { return s.points[a].X < s.points[b].X })
	}
	sort.Slice(series, func(a, b int) bool {
		if series[a].codec != series[b].codec {
			return series[a].codec < series[b].codec
		}
		return series[a].height < series[b].height
	})
	return series
}

// PlotRateDistortion creates VMAF versus bitrate plot with one curve per
// codec and resolution, and saves it to a file.
func PlotRateDistortion(records []metric.QualityRecord, outFile string) error {
	if len(records) == 0 {
		return fmt.Errorf("PlotRateDistortion(): %w", ErrNoData)
	}

	p := plot.New()
	p.Title.Text = "VMAF vs Bitrate"
	p.X.Label.Text = "Bitrate (kbps)"
	p.Y.Label.Text = "VMAF"
	p.Y.Min = 0
	p.Y.Max = 100
	p.Legend.Top = false
	p.Legend.Left = false

	for i, s := range groupRD(records) {
		line, points, err := plotter.NewLinePoints(s.points)
		if err != nil {
			return fmt.Errorf("PlotRateDistortion() curve %s: %w", s.name, err)
		}
		line.Color = seriesColor(i)
		points.GlyphStyle = draw.GlyphStyle{
			Color:  seriesColor(i),
			Radius: vg.Points(3),
			Shape:  draw.CircleGlyph{},
		}
		p.Add(line, points)
		p.Legend.Add(s.name, line, points)
	}
	p.Add(plotter.NewGrid())

	if err := p.Save(scatterPlotWidth, scatterPlotHeight, outFile); err != nil {
		return fmt.Errorf("PlotRateDistortion() saving plot: %w", err)
	}
	return nil
}
