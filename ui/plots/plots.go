// Package plots define common types and utilities to collect, save and plot training metrics.
//
// See subpackage margaid for the SVG plots.
package plots

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"sort"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/gomlx/scalargrad/pkg/support/xslices"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TrainingPlotFileName is the default file name to store plot points collected during training.
const TrainingPlotFileName = "training_plot_points.json"

// Point represents a training plot point. It is used to save/load plots.
type Point struct {
	// MetricName of this point.
	MetricName string

	// Short name
	Short string

	// MetricType typically will be "loss", "accuracy".
	// It's used in plotting to aggregate similar metric types in the same plot.
	MetricType string

	// Step is the global step this metric was measured.
	// Usually, this is an int value, stored as a float64.
	Step float64

	// Value is the metric captured.
	Value float64

	// RunID identifies the training run that generated the point, when many runs append to the same file.
	RunID string `json:",omitempty"`
}

// Plotter is a generic plotter API, implemented by margaid.Plots and by Collector.
type Plotter interface {
	// AddPoint to be drawn. One metric at a time.
	AddPoint(point Point)

	// DynamicSampleDone is called after all the data points recorded for this sample (evaluation at a time step).
	// The value `incomplete` is set to true if any of the evaluations are NaN or infinite.
	DynamicSampleDone(incomplete bool)
}

// AddTrainAndEvalMetrics is used by plotters to include the metrics generated by the training step,
// plus to run evaluation on the given datasets.
//
// Points with NaN or infinite values are skipped, and the sample is marked as incomplete.
func AddTrainAndEvalMetrics(plotter Plotter, loop *train.Loop, trainMetrics []float64,
	evalDatasets []train.Dataset) error {
	step := float64(loop.Trainer.GlobalStep())
	var incomplete bool
	for ii, desc := range loop.Trainer.TrainMetrics() {
		if desc.Name() == "Batch Loss" {
			// It fluctuates too much, and the trainer always includes the moving average loss.
			continue
		}
		if ii >= len(trainMetrics) {
			break
		}
		metric := trainMetrics[ii]
		if math.IsNaN(metric) || math.IsInf(metric, 0) {
			incomplete = true
			continue
		}
		plotter.AddPoint(Point{
			MetricName: "Train: " + desc.Name(),
			Short:      fmt.Sprintf("T/%s", desc.ShortName()),
			MetricType: desc.MetricType(),
			Step:       step,
			Value:      metric})
	}

	for _, ds := range evalDatasets {
		evalMetrics, err := loop.Trainer.Eval(ds)
		if err != nil {
			return err
		}
		dsShort := train.DatasetShortName(ds)
		for ii, desc := range loop.Trainer.EvalMetrics() {
			metric := evalMetrics[ii]
			if math.IsNaN(metric) || math.IsInf(metric, 0) {
				incomplete = true
				continue
			}
			plotter.AddPoint(Point{
				MetricName: fmt.Sprintf("%s on %s", desc.Name(), ds.Name()),
				Short:      fmt.Sprintf("%s(%s)", desc.ShortName(), dsShort),
				MetricType: desc.MetricType(),
				Step:       step,
				Value:      metric})
		}
	}

	plotter.DynamicSampleDone(incomplete)
	return nil
}

// Collector is a Plotter that collects points in memory and optionally writes them to a file,
// tagged with the id of the run.
type Collector struct {
	RunID  string
	Points []Point

	writer    chan<- Point
	errReport <-chan error
}

// NewCollector creates a Collector with a new random RunID.
//
// If filePath is not empty, the points are also appended to the file asynchronously. Call Close
// to flush them.
func NewCollector(filePath string) *Collector {
	c := &Collector{RunID: uuid.NewString()}
	if filePath != "" {
		c.writer, c.errReport = CreatePointsWriter(filePath)
	}
	return c
}

// AddPoint implements Plotter.
func (c *Collector) AddPoint(point Point) {
	point.RunID = c.RunID
	c.Points = append(c.Points, point)
	if c.writer != nil {
		c.writer <- point
	}
}

// DynamicSampleDone implements Plotter.
func (c *Collector) DynamicSampleDone(incomplete bool) {
	if incomplete {
		klog.V(1).Infof("plots: incomplete sample, some metrics are NaN or infinite")
	}
}

// Close waits for the points to be written to the file, if one was given, and returns any error
// that occurred while writing them.
func (c *Collector) Close() error {
	if c.writer == nil {
		return nil
	}
	close(c.writer)
	c.writer = nil
	return <-c.errReport
}

// AttachCollector attaches the collector to the loop: at most n times during the loop the train metrics
// and the evaluation on evalDatasets are collected.
func AttachCollector(loop *train.Loop, c *Collector, n int, evalDatasets ...train.Dataset) {
	train.NTimesDuringLoop(loop, n, "plots.Collector", 100, func(loop *train.Loop, metrics []float64) error {
		return AddTrainAndEvalMetrics(c, loop, metrics, evalDatasets)
	})
}

// LoadPoints parses all plot points saved in the given file.
func LoadPoints(filePath string) ([]Point, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read Plots file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	return DecodePoints(f)
}

// DecodePoints parses plot points encoded as a stream of JSON objects.
func DecodePoints(r io.Reader) ([]Point, error) {
	dec := json.NewDecoder(r)
	var points []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "error while decoding plot points")
		}
		points = append(points, point)
	}
	return points, nil
}

// CreatePointsWriter creates a channel to write Point to the given file.
// It creates an errReport channel to report an error (or nil) back at the very end.
// If any error occurs, it stops writing, and will report the error back once pointWriter is closed.
func CreatePointsWriter(filePath string) (pointWriter chan<- Point, errReport <-chan error) {
	pointChan := make(chan Point, 100)
	pointWriter = pointChan
	errChan := make(chan error, 1)
	errReport = errChan
	go func() {
		// Create/append file with upcoming metrics.
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
		if err != nil {
			err = errors.Wrapf(err, "failed to open Plots file %q for append", filePath)
			klog.Errorf("Error: %v", err)
		}
		enc := json.NewEncoder(f)
		for point := range pointChan {
			if err == nil {
				err = enc.Encode(point)
				if err != nil {
					err = errors.Wrapf(err, "failed to encode point %v", point)
					klog.Errorf("Error: %v", err)
				}
			}
		}
		if f != nil {
			if err == nil {
				err = f.Close()
			} else {
				_ = f.Close()
			}
		}
		errChan <- err
	}()
	return
}

// Points is a collection of Point objects organized by their Step value.
// It's a `map[float64][]Point` with several utility methods.
type Points map[float64][]Point

// NewPoints create a Points object from a collection of individual `Point`.
//
// See LoadPoints if you want to read `rawPoints` from a file.
func NewPoints(rawPoints []Point) (points Points) {
	points = make(map[float64][]Point)
	for _, p := range rawPoints {
		points[p.Step] = append(points[p.Step], p)
	}
	return points
}

// Map executes the given function on all individual points, in `Step` order.
// Note that if `p.Step` change, it is not re-indexed.
func (points Points) Map(fn func(p *Point)) {
	for _, step := range xslices.SortedKeys(points) {
		stepPoints := points[step]
		for ii := range stepPoints {
			fn(&stepPoints[ii])
		}
	}
}

// Filter only keeps those points for which `fn` returns true, removing the other ones.
func (points Points) Filter(fn func(p Point) bool) {
	for _, step := range xslices.SortedKeys(points) {
		stepPoints := points[step]
		newStepPoints := make([]Point, 0, len(stepPoints))
		for _, pt := range stepPoints {
			if fn(pt) {
				newStepPoints = append(newStepPoints, pt)
			}
		}
		if len(newStepPoints) == len(stepPoints) {
			continue // Nothing filtered.
		}
		if len(newStepPoints) == 0 {
			delete(points, step)
		} else {
			points[step] = newStepPoints
		}
	}
}

// Extract converts the Points structure back to a list of individual points.
// The output is sorted by Point.Step.
func (points Points) Extract() (rawPoints []Point) {
	points.Map(func(p *Point) {
		rawPoints = append(rawPoints, *p)
	})
	return
}

// Add `otherPoints` into this `Points` structure. `otherPoints` is unchanged.
// It does not check for duplicates, points from `otherPoints` are simply appended as is.
func (points Points) Add(otherPoints Points) {
	otherPoints.Map(func(p *Point) {
		points[p.Step] = append(points[p.Step], *p)
	})
}

// MetricsNames return the list of metrics names in the whole collection, sorted alphabetically by their type and
// then by their name.
func (points Points) MetricsNames() []string {
	nameToType := make(map[string]string)
	points.Map(func(p *Point) {
		nameToType[p.MetricName] = p.MetricType
	})
	names := xslices.SortedKeys(nameToType)
	sort.SliceStable(names, func(i, j int) bool {
		return nameToType[names[i]] < nameToType[names[j]]
	})
	return names
}

// TableForMetrics returns a table with the first column being the `Step` followed
// by the columns given by the `metrics` names.
// If `metrics` is empty, it will include all metrics in the table.
func (points Points) TableForMetrics(metrics ...string) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	if len(metrics) == 0 {
		metrics = points.MetricsNames()
	}
	headers := []string{"Step"}
	headers = append(headers, metrics...)
	table.Headers(headers...)

	for _, step := range xslices.SortedKeys(points) {
		row := make([]string, 1+len(metrics))
		row[0] = fmt.Sprintf("%.0f", step)
		for _, pt := range points[step] {
			idx := slices.Index(metrics, pt.MetricName)
			if idx != -1 {
				row[idx+1] = fmt.Sprintf("%f", pt.Value)
			}
		}
		table.Row(row...)
	}
	return table.String()
}

func (points Points) String() string {
	return points.TableForMetrics()
}
