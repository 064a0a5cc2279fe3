// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package analysis

import (
	"fmt"
	"math"

	"github.com/evolution-gaming/siti/internal/siti"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var (
	scatterPlotWidth  = vg.Centimeter * 24
	scatterPlotHeight = vg.Centimeter * 16
)

// Category boundaries drawn as guides on SI/TI scatter plots.
var (
	siGuides = []float64{20, 50}
	tiGuides = []float64{10, 20}
)

func newSITIPlot(title string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Spatial Information (SI)"
	p.Y.Label.Text = "Temporal Information (TI)"
	p.X.Min = 0
	p.Y.Min = 0
	p.Legend.Top = true
	return p
}

// addCategoryGuides draws dashed lines at complexity category boundaries.
func addCategoryGuides(p *plot.Plot, xMax, yMax float64) {
	xMax = math.Max(xMax, siGuides[len(siGuides)-1]) * 1.05
	yMax = math.Max(yMax, tiGuides[len(tiGuides)-1]) * 1.05
	style := func(l *plotter.Line) {
		l.Color = ColorPalette[11]
		l.LineStyle.Width = vg.Points(0.5)
		l.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	}
	for _, x := range siGuides {
		l := verticalLine(x, 0, yMax)
		style(l)
		p.Add(l)
	}
	for _, y := range tiGuides {
		l := horizontalLine(y, 0, xMax)
		style(l)
		p.Add(l)
	}
	p.X.Max = xMax
	p.Y.Max = yMax
}

// PlotSITIAllFrames creates scatter plot of per-frame (SI, TI) pairs of all
// videos and saves it to a file.
//
// Frame 0 of each video has no TI and is not plotted.
func PlotSITIAllFrames(results []siti.Result, outFile string) error {
	p := newSITIPlot("SI/TI of all frames")
	var xMax, yMax float64
	var series int

	for _, r := range results {
		if !r.HasTI() {
			continue
		}
		xys := make(plotter.XYs, len(r.TI))
		for i, ti := range r.TI {
			xys[i].X = r.SI[i+1]
			xys[i].Y = ti
		}
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return fmt.Errorf("PlotSITIAllFrames() scatter for %s: %w", r.VideoID, err)
		}
		s.GlyphStyle = draw.GlyphStyle{
			Color:  seriesColor(series),
			Radius: vg.Points(1.5),
			Shape:  draw.CircleGlyph{},
		}
		p.Add(s)
		p.Legend.Add(r.VideoID, s)
		series++

		xMax = math.Max(xMax, floats.Max(r.SI))
		yMax = math.Max(yMax, r.TIMax)
	}
	if series == 0 {
		return fmt.Errorf("PlotSITIAllFrames(): %w", ErrNoData)
	}

	addCategoryGuides(p, xMax, yMax)
	p.Add(plotter.NewGrid())

	if err := p.Save(scatterPlotWidth, scatterPlotHeight, outFile); err != nil {
		return fmt.Errorf("PlotSITIAllFrames() saving plot: %w", err)
	}
	return nil
}

// PlotSITIAverages creates scatter plot of per-video mean SI and mean TI,
// each point labelled with video ID, and saves it to a file.
func PlotSITIAverages(results []siti.Result, outFile string) error {
	p := newSITIPlot("Mean SI/TI per video")

	var xys plotter.XYs
	var labels []string
	for _, r := range results {
		if !r.HasTI() {
			continue
		}
		xys = append(xys, plotter.XY{X: r.SIMean, Y: r.TIMean})
		labels = append(labels, r.VideoID)
	}
	if len(xys) == 0 {
		return fmt.Errorf("PlotSITIAverages(): %w", ErrNoData)
	}

	s, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("PlotSITIAverages() scatter: %w", err)
	}
	s.GlyphStyle = draw.GlyphStyle{
		Color:  ColorPalette[4],
		Radius: vg.Points(4),
		Shape:  draw.CircleGlyph{},
	}
	l, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return fmt.Errorf("PlotSITIAverages() labels: %w", err)
	}
	l.Offset.X = 6
	l.Offset.Y = 4

	var xMax, yMax float64
	for _, xy := range xys {
		xMax = math.Max(xMax, xy.X)
		yMax = math.Max(yMax, xy.Y)
	}
	addCategoryGuides(p, xMax, yMax)
	p.Add(s, l, plotter.NewGrid())

	if err := p.Save(scatterPlotWidth, scatterPlotHeight, outFile); err != nil {
		return fmt.Errorf("PlotSITIAverages() saving plot: %w", err)
	}
	return nil
}
