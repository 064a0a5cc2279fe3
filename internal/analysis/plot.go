// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Plot generation related functionality.

package analysis

import (
	"errors"
	"fmt"
	"image/color"
	"log"
	"os"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var (
	defaultPlotWidth  = vg.Centimeter * 24
	defaultPlotHeight = vg.Centimeter * 7
)

// ErrNoData is returned when there are no values to plot.
var ErrNoData = errors.New("no data to plot")

// A custom color palette: color1 as base color and color2 as a darker variant.
var ColorPalette = []color.RGBA{
	// red1
	{R: 230, G: 57, B: 70, A: 255},
	// red2
	{R: 143, G: 35, B: 43, A: 255},
	// green1
	{R: 84, G: 184, B: 50, A: 255},
	// green2
	{R: 50, G: 110, B: 30, A: 255},
	// blue1
	{R: 63, G: 55, B: 201, A: 255},
	// blue2
	{R: 51, G: 45, B: 163, A: 255},
	// purple1
	{R: 86, G: 11, B: 173, A: 255},
	// purple2
	{R: 62, G: 8, B: 125, A: 255},
	// cyan1
	{R: 31, G: 180, B: 206, A: 255},
	// cyan2
	{R: 11, G: 123, B: 143, A: 255},
	// orange1
	{R: 255, G: 174, B: 0, A: 255},
	// orange2
	{R: 173, G: 118, B: 0, A: 255},
}

// seriesColor picks a base (non-darker) palette color for n-th data series.
func seriesColor(n int) color.RGBA {
	base := len(ColorPalette) / 2
	return ColorPalette[(n%base)*2]
}

// CreateCDFPlot creates Cumulative Distribution Function plot for given values.
func CreateCDFPlot(values []float64, name string) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = name
	p.Y.Label.Text = "Probability"
	p.Y.Min = 0

	if len(values) == 0 {
		return p, fmt.Errorf("CreateCDFPlot(): %w", ErrNoData)
	}

	// We are going to mutate values slice, so make a copy to avoid mangling
	// underlying array and creating unexpected sideffect in caller's scope.
	lValues := make([]float64, len(values))
	copy(lValues, values)
	// Make sure values are sorted
	sort.Float64s(lValues)

	// Have to transform lValues to something that implements plotter.XYer
	// interface so it can be used later on to construct plot.
	cdfValues := make(plotter.XYs, len(lValues))
	for i, v := range lValues {
		cdfValues[i].X = v
		cdfValues[i].Y = stat.CDF(v, stat.Empirical, lValues, nil)
	}

	cdfLine, err := plotter.NewLine(cdfValues)
	if err != nil {
		return p, fmt.Errorf("CreateCDFPlot() creating new Line: %w", err)
	}
	cdfLine.Color = ColorPalette[2]

	p.Add(cdfLine, plotter.NewGrid())
	p.Add(createQuantileLines(p, lValues, 0.01, 0.05, 0.5, 0.95)...)

	return p, nil
}

// CreateHistogramPlot creates histogram plot for given values.
func CreateHistogramPlot(values []float64, name string) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = name
	p.Y.Label.Text = "N"

	if len(values) == 0 {
		return p, fmt.Errorf("CreateHistogramPlot(): %w", ErrNoData)
	}

	// We are going to mutate values slice, so make a copy to avoid mangling
	// underlying array and creating unexpected sideffect in caller's scope.
	lValues := make([]float64, len(values))
	copy(lValues, values)

	// A number of bins to use for histogram.
	var bins int = 100

	// Make sure values are sorted.
	sort.Float64s(lValues)

	pHist, err := plotter.NewHist(plotter.Values(lValues), bins)
	if err != nil {
		return p, fmt.Errorf("CreateHistogramPlot() creating new histogram: %w", err)
	}
	pHist.Color = color.Transparent
	pHist.FillColor = ColorPalette[7]

	p.Add(pHist)
	p.Add(plotter.NewGrid())

	return p, nil
}

// CreateSeriesPlot creates a per-frame plot for given values.
//
// Since values are specified as a 1D slice - it is assumed that index into
// slice plus firstFrame is a frame number.
func CreateSeriesPlot(values []float64, firstFrame int, name string) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = "Frame #"
	p.Y.Label.Text = name

	if len(values) == 0 {
		return p, fmt.Errorf("CreateSeriesPlot(): %w", ErrNoData)
	}

	xys := make(plotter.XYs, len(values))
	for i, v := range values {
		xys[i].X = float64(i + firstFrame)
		xys[i].Y = v
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return p, fmt.Errorf("CreateSeriesPlot() creating new line: %w", err)
	}

	line.Color = ColorPalette[0]

	p.Add(line)
	p.Add(plotter.NewGrid())

	return p, nil
}

// metricPlots creates per-frame, histogram and CDF plots for a single metric.
func metricPlots(values []float64, firstFrame int, metric string) (column [3]*plot.Plot, err error) {
	column[0], err = CreateSeriesPlot(values, firstFrame, metric)
	if err != nil {
		return column, err
	}
	column[1], err = CreateHistogramPlot(values, metric)
	if err != nil {
		return column, err
	}
	column[2], err = CreateCDFPlot(values, metric)
	if err != nil {
		return column, err
	}

	// Tweak titles and labels to have better layout and make plots less busy.
	column[0].Title.Text = "Per frame " + metric
	column[1].Title.Text = metric + " Histogram"
	column[1].X.Label.Text = ""
	column[2].Title.Text = "Cumulative Distribution Function (CDF)"

	return column, nil
}

// MultiPlotVqm will create VQM metric multi plot and save it to a file.
//
// Resulting plot will include the provided VQM metric plot, it's histogram plot
// and CDF plot all in one canvas.
func MultiPlotVqm(values []float64, metric, title, outFile string) error {
	column, err := metricPlots(values, 0, metric)
	if err != nil {
		return err
	}
	column[0].Title.Text = title + "\n\n" + column[0].Title.Text

	plots := [][]*plot.Plot{{column[0]}, {column[1]}, {column[2]}}
	return saveTiles(plots, defaultPlotWidth, outFile)
}

// MultiPlotSITI will create SI and TI multi plot and save it to a file.
//
// SI is in the left and TI in the right column, each with per-frame, histogram
// and CDF plot. TI column is left empty when there is no TI (single frame).
func MultiPlotSITI(si, ti []float64, title, outFile string) error {
	siColumn, err := metricPlots(si, 0, "SI")
	if err != nil {
		return fmt.Errorf("MultiPlotSITI() SI plots: %w", err)
	}
	siColumn[0].Title.Text = title + "\n\n" + siColumn[0].Title.Text

	var tiColumn [3]*plot.Plot
	if len(ti) > 0 {
		// TI is defined starting from the second frame.
		tiColumn, err = metricPlots(ti, 1, "TI")
		if err != nil {
			return fmt.Errorf("MultiPlotSITI() TI plots: %w", err)
		}
		tiColumn[0].Title.Text = "\n\n" + tiColumn[0].Title.Text
	}

	plots := make([][]*plot.Plot, 3)
	for i := range plots {
		plots[i] = []*plot.Plot{siColumn[i], tiColumn[i]}
	}
	return saveTiles(plots, defaultPlotWidth*2, outFile)
}

// saveTiles draws plots aligned in a grid of rows x columns into PNG file,
// nil plots leave their tile empty.
func saveTiles(plots [][]*plot.Plot, width vg.Length, outFile string) error {
	rows := len(plots)
	cols := len(plots[0])

	img := vgimg.New(width, defaultPlotHeight*vg.Length(rows))
	dc := draw.New(img)

	t := draw.Tiles{
		Rows: rows,
		Cols: cols,
		PadX: vg.Points(10),
		PadY: vg.Points(10),
	}

	canvases := plot.Align(plots, t, dc)
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			if plots[j][i] != nil {
				plots[j][i].Draw(canvases[j][i])
			}
		}
	}

	w, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("saving plot: %w", err)
	}
	defer w.Close()

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("writing png file: %w", err)
	}

	return nil
}

// verticalLine is helper to create a vertical line.
func verticalLine(x, ymin, ymax float64) *plotter.Line {
	line, err := plotter.NewLine(plotter.XYs{
		{X: x, Y: ymin},
		{X: x, Y: ymax},
	})
	// Unlikely to have error here - so just panic in that case.
	if err != nil {
		log.Panic(err)
	}
	return line
}

// horizontalLine is helper to create a horizontal line.
func horizontalLine(y, xmin, xmax float64) *plotter.Line {
	line, err := plotter.NewLine(plotter.XYs{
		{X: xmin, Y: y},
		{X: xmax, Y: y},
	})
	// Unlikely to have error here - so just panic in that case.
	if err != nil {
		log.Panic(err)
	}
	return line
}

// horizontalLineWithLabel wraps horizontalLine and adds label.
func horizontalLineWithLabel(y, xMin, xMax float64, label string) (*plotter.Line, *plotter.Labels) {
	hLine := horizontalLine(y, xMin, xMax)
	hLine.Color = color.RGBA{156, 67, 162, 255}
	hLabel, _ := plotter.NewLabels(plotter.XYLabels{
		XYs: plotter.XYs{
			{X: 0, Y: y},
		},
		Labels: []string{
			label,
		},
	})
	hLabel.Offset.X = 5
	hLabel.Offset.Y = 5

	return hLine, hLabel
}

// createQuantileLines is helper to create vertical Quantile lines.
func createQuantileLines(p *plot.Plot, values []float64, quantiles ...float64) []plot.Plotter {
	var plotters []plot.Plotter
	colorCount := len(ColorPalette)
	for i, q := range quantiles {
		qVal := stat.Quantile(q, stat.Empirical, values, nil)
		qLine := verticalLine(qVal, p.Y.Min, p.Y.Max)
		qLine.LineStyle.Width = vg.Points(1)
		qLine.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}
		// Safe index with step=2 into ColorPalette with wrap-around to avoid
		// panic in case of bounds check fails.
		qLine.Color = ColorPalette[i*5%colorCount]

		labels, _ := plotter.NewLabels(plotter.XYLabels{
			XYs: plotter.XYs{
				{X: qVal, Y: q},
			},
			Labels: []string{
				fmt.Sprintf("q(%.2f)=%.3f", q, qVal),
			},
		})
		labels.Offset.X = 5
		labels.Offset.Y = -5

		plotters = append(plotters, qLine, labels)
	}
	// Also add mean/average line.
	meanVal := stat.Mean(values, nil)
	meanLine := verticalLine(meanVal, p.Y.Min, p.Y.Max)
	meanLine.Color = ColorPalette[len(ColorPalette)-1]
	qValMean := stat.CDF(meanVal, stat.Empirical, values, nil)
	meanLabel, _ := plotter.NewLabels(plotter.XYLabels{
		XYs: plotter.XYs{
			{X: meanVal, Y: qValMean},
		},
		Labels: []string{
			fmt.Sprintf("mean=%.3f", meanVal),
		},
	})
	meanLabel.Offset.X = 5
	meanLabel.Offset.Y = -5
	plotters = append(plotters, meanLine, meanLabel)

	return plotters
}

// maxFloat64 will naively find max value in slice.
func maxFloat64(values []float64) float64 {
	var max float64
	for i, v := range values {
		if i == 0 || v > max {
			max = v
		}
	}
	return max
}
