/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package margaid implements plotting of all metrics registered in a trainer, using the
// Margaid library (https://github.com/erkkah/margaid/) to draw SVG files.
//
// Example: to collect `*flagNumPlotPoints` points during training, for all train metrics
// as well as eval metrics measured on the dataset `evalDS`, and save the plot to "plots.svg":
//
//	plots := margaid.New(1024, 400, evalDS).WithSVGFile("plots.svg")
//	plots.Attach(loop, *flagNumPlotPoints)
package margaid

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	mg "github.com/erkkah/margaid"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/gomlx/scalargrad/pkg/support/xslices"
	"github.com/gomlx/scalargrad/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Plots holds many plots for different metrics. They are organized per "metric type", where
// the metric type is a unit/quantity unique name. It's assumed that series of the same "metric type"
// can share the same Y-Axis and hence the same plot.
type Plots struct {
	// Image dimensions.
	Width, Height int

	// EvalDatasets will be evaluated with `train.Trainer.Eval()` and its metrics collected.
	EvalDatasets []train.Dataset

	// Plot per metric name.
	PerMetricType map[string]*Plot

	pointsAdded int

	// Default projection of the graph on X, Y axis.
	xProjection, yProjection mg.Projection

	// fileWriter saves the points as they are added, if WithFile was used.
	fileWriter    chan<- plots.Point
	fileErrReport <-chan error

	// svgPath where to save the plot at the end of the loop.
	svgPath string
}

// New creates new Margaid plots structure.
//
// It starts empty and can have the points added manually with Plots.AddPoint or automatically with Plots.Attach.
func New(width, height int, evalDatasets ...train.Dataset) *Plots {
	return &Plots{
		Width:        width,
		Height:       height,
		EvalDatasets: evalDatasets,
		xProjection:  mg.Lin,
		yProjection:  mg.Lin,
	}
}

// Plot struct holds the series to different metrics that share the same Y axis.
// They are organized per name of the metric.
type Plot struct {
	MetricType string

	// PerName maps a metric name to its series.
	PerName map[string]*mg.Series

	// allPoints collects all points from all series, to configure the axis.
	allPoints *mg.Series

	xProjection, yProjection mg.Projection
}

// WithFile uses the filePath both to load data points and to save any new data points.
//
// New data-points are saved asynchronously, so I/O errors are only reported by Done.
func (ps *Plots) WithFile(filePath string) (*Plots, error) {
	_, err := ps.PreloadFile(filePath, nil)
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}
	ps.fileWriter, ps.fileErrReport = plots.CreatePointsWriter(filePath)
	return ps, nil
}

// WithSVGFile sets the path where the SVG plot is written at the end of the training loop.
func (ps *Plots) WithSVGFile(svgPath string) *Plots {
	ps.svgPath = svgPath
	return ps
}

// PreloadFile loads data points from filePath.
// Its metric names can be renamed with renameFn -- leave it as nil for no changes.
func (ps *Plots) PreloadFile(filePath string, renameFn func(metricName string) string) (*Plots, error) {
	points, err := plots.LoadPoints(filePath)
	if err != nil {
		return nil, err
	}
	writer := ps.fileWriter
	ps.fileWriter = nil // Don't write back the points read.
	for _, point := range points {
		if renameFn != nil {
			point.MetricName = renameFn(point.MetricName)
		}
		ps.AddPoint(point)
	}
	ps.fileWriter = writer
	ps.pointsAdded = max(ps.pointsAdded, ps.minPoints())
	return ps, nil
}

// minPoints is the minimum number of points per metricName/metricType.
func (ps *Plots) minPoints() int {
	minPoints := -1
	for _, plt := range ps.PerMetricType {
		for _, series := range plt.PerName {
			numPoints := series.Size()
			if minPoints < 0 || numPoints < minPoints {
				minPoints = numPoints
			}
		}
	}
	return minPoints
}

// Done indicates that no more points are coming. It waits for the points to be written, if WithFile was used,
// and returns any error that happened while writing them.
func (ps *Plots) Done() error {
	if ps.fileWriter == nil {
		return nil
	}
	close(ps.fileWriter)
	ps.fileWriter = nil
	return <-ps.fileErrReport
}

// LogScaleX sets Plots to use a log scale on the X-axis.
// If not set, it uses linear scale.
func (ps *Plots) LogScaleX() *Plots {
	ps.xProjection = mg.Log
	return ps
}

// LogScaleY sets Plots to use a log scale on the Y-axis.
// If not set, it uses linear scale.
func (ps *Plots) LogScaleY() *Plots {
	ps.yProjection = mg.Log
	return ps
}

// Attach plots to the given loop, collecting metric values for plot. For each EvalDatasets given
// to `Plots.New()`, their metrics are evaluated and also plotted.
//
// At the end of the loop, the file writer is flushed and, if WithSVGFile was used, the SVG is saved.
func (ps *Plots) Attach(loop *train.Loop, numPoints int) {
	train.NTimesDuringLoop(loop, numPoints, "margaid plots", 100, func(loop *train.Loop, metrics []float64) error {
		return plots.AddTrainAndEvalMetrics(ps, loop, metrics, ps.EvalDatasets)
	})
	loop.OnEnd("margaid plots", 120, func(_ *train.Loop, _ []float64) error {
		if err := ps.Done(); err != nil {
			return err
		}
		if ps.svgPath == "" {
			return nil
		}
		return ps.SaveSVG(ps.svgPath)
	})
}

// AddPoint implements plots.Plotter: `Step` is the x-axis, and `Value` is the y-axis.
// Metrics with the same type share the same plot and y-axis.
func (ps *Plots) AddPoint(point plots.Point) {
	if math.IsNaN(point.Value) || math.IsInf(point.Value, 0) || math.IsNaN(point.Step) || math.IsInf(point.Step, 0) {
		return
	}
	if ps.fileWriter != nil {
		ps.fileWriter <- point
	}
	if ps.PerMetricType == nil {
		ps.PerMetricType = make(map[string]*Plot)
	}
	p, found := ps.PerMetricType[point.MetricType]
	if !found {
		p = &Plot{
			MetricType:  point.MetricType,
			PerName:     make(map[string]*mg.Series),
			xProjection: ps.xProjection,
			yProjection: ps.yProjection,
		}
		ps.PerMetricType[point.MetricType] = p
	}
	p.AddPoint(point.MetricName, point.Step, point.Value)
}

// DynamicSampleDone implements plots.Plotter.
func (ps *Plots) DynamicSampleDone(incomplete bool) {
	if !incomplete {
		ps.pointsAdded++
	}
}

// NumSamples returns the number of complete samples added so far.
func (ps *Plots) NumSamples() int {
	return ps.pointsAdded
}

// AddValues is a shortcut to add all `values` as y-coordinates, and it uses the indices
// of the values as x-coordinate.
func (ps *Plots) AddValues(metricName, metricType string, values []float64) {
	for ii, v := range values {
		ps.AddPoint(plots.Point{MetricName: metricName, MetricType: metricType, Step: float64(ii), Value: v})
	}
}

// AddPoint adds a point for the given metric. The `step` is the x-axis, and `value` is the y-axis.
func (p *Plot) AddPoint(metricName string, step, value float64) {
	s, found := p.PerName[metricName]
	if !found {
		s = mg.NewSeries(mg.Titled(metricName))
		p.PerName[metricName] = s
	}
	mgValue := mg.MakeValue(step, value)
	s.Add(mgValue)

	if p.allPoints == nil {
		p.allPoints = mg.NewSeries()
	}
	p.allPoints.Add(mgValue)
}

// WriteSVG writes one SVG plot per metric type to w, sorted by the metric type.
func (ps *Plots) WriteSVG(w io.Writer) error {
	if len(ps.PerMetricType) == 0 {
		return errors.New("margaid.Plots: no points to plot")
	}
	for _, key := range xslices.SortedKeys(ps.PerMetricType) {
		if err := ps.PerMetricType[key].Render(w, ps.Width, ps.Height); err != nil {
			return err
		}
	}
	return nil
}

// SaveSVG writes the plots to the given file path. See WriteSVG.
func (ps *Plots) SaveSVG(svgPath string) error {
	f, err := os.Create(svgPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create plot file %q", svgPath)
	}
	if err = ps.WriteSVG(f); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close plot file %q", svgPath)
	}
	klog.V(1).Infof("plots saved to %q", svgPath)
	return nil
}

// PlotToHTML is similar to WriteSVG but instead returns the HTML that include all plots
// (one per metric type), which can be displayed in some different way.
func (ps *Plots) PlotToHTML() string {
	parts := make([]string, 0, len(ps.PerMetricType))
	for _, key := range xslices.SortedKeys(ps.PerMetricType) {
		parts = append(parts, ps.PerMetricType[key].PlotToHTML(ps.Width, ps.Height))
	}
	return strings.Join(parts, "\n")
}

// PlotToHTML all series for a metric type associated with Plot, returning the HTML code for it (which includes the SVG).
func (p *Plot) PlotToHTML(width, height int) string {
	buf := bytes.NewBuffer(nil)
	if err := p.Render(buf, width, height); err != nil {
		return fmt.Sprintf("%+v", err)
	}
	return buf.String()
}

// Render the SVG of all series of the metric type to w.
func (p *Plot) Render(w io.Writer, width, height int) error {
	if len(p.PerName) == 0 {
		return nil
	}
	names := xslices.SortedKeys(p.PerName)
	allSeries := make([]*mg.Series, 0, len(names))
	for _, key := range names {
		allSeries = append(allSeries, p.PerName[key])
	}
	diagram := mg.New(width, height,
		mg.WithAutorange(mg.XAxis, allSeries...),
		mg.WithProjection(mg.XAxis, p.xProjection),
		mg.WithAutorange(mg.YAxis, allSeries...),
		mg.WithProjection(mg.YAxis, p.yProjection),
		mg.WithInset(70),
		mg.WithPadding(2),
		mg.WithColorScheme(90),
		mg.WithBackgroundColor("#f8f8f8"),
	)
	for _, s := range allSeries {
		diagram.Line(s, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingMarker("square"), mg.UsingStrokeWidth(2))
	}
	diagram.Axis(p.allPoints, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Steps")
	diagram.Axis(p.allPoints, mg.YAxis, diagram.ValueTicker('f', 3, 10), true, p.MetricType)
	diagram.Frame()
	if p.MetricType != "" {
		diagram.Title(fmt.Sprintf("%s metrics", p.MetricType))
	}
	if len(names) > 1 || names[0] != "" {
		diagram.Legend(mg.BottomLeft)
	}
	if err := diagram.Render(w); err != nil {
		return errors.Wrapf(err, "failed to render plot for %q", p.MetricType)
	}
	return nil
}
