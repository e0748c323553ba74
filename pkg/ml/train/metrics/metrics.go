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

// Package metrics holds a library of metrics and defines the Interface used by train.Trainer to
// report them.
package metrics

import (
	"fmt"
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/value"
)

// Interface for a Metric.
type Interface interface {
	// Name of the metric.
	Name() string

	// ShortName is a shortened version of the name (preferably a few characters) to display in progress bars or
	// similar UIs.
	ShortName() string

	// MetricType is a key for metrics that share the same quantity or semantics. Eg.:
	// "Moving-Average-Accuracy" and "Batch-Accuracy" would both have the same
	// "accuracy" metric type, and for instance, can be displayed on the same plot, sharing
	// the Y-axis.
	MetricType() string

	// Update takes the labels and predictions of a batch, and the batch loss, and returns the
	// current value of the metric.
	Update(labels [][]float64, predictions [][]*value.Value, loss float64) float64

	// PrettyPrint is used to pretty-print a metric value, usually in a short form.
	PrettyPrint(v float64) string

	// Reset metrics internal counters when starting a new evaluation.
	Reset()
}

const (
	// LossMetricType is the type of loss metrics.
	// Used to aggregate metrics of the same type in the same plot.
	LossMetricType = "loss"

	// AccuracyMetricType is the type of accuracy metrics.
	// Used to aggregate metrics of the same type in the same plot.
	AccuracyMetricType = "accuracy"
)

// BaseMetricFn calculates a metric for one batch, without state.
type BaseMetricFn func(labels [][]float64, predictions [][]*value.Value, loss float64) float64

// PrettyPrintFn is a function to convert a metric value to a string.
type PrettyPrintFn func(v float64) string

// LossFn is a BaseMetricFn that simply returns the batch loss.
func LossFn(_ [][]float64, _ [][]*value.Value, loss float64) float64 {
	return loss
}

// BinaryAccuracyFn returns the fraction of predictions with the same sign as the labels,
// for labels in {-1, +1}.
//
// Only the first prediction of each example is considered.
func BinaryAccuracyFn(labels [][]float64, predictions [][]*value.Value, _ float64) float64 {
	if len(labels) != len(predictions) {
		Panicf("metrics.BinaryAccuracyFn: %d labels and %d predictions", len(labels), len(predictions))
	}
	if len(labels) == 0 {
		return 0
	}
	var correct int
	for ii := range labels {
		if (labels[ii][0] > 0) == (predictions[ii][0].Data > 0) {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

// MeanAbsoluteErrorFn returns the mean of |label - prediction| over all elements of the batch.
func MeanAbsoluteErrorFn(labels [][]float64, predictions [][]*value.Value, _ float64) float64 {
	var sum float64
	var count int
	for ii := range labels {
		for jj, label := range labels[ii] {
			sum += math.Abs(label - predictions[ii][jj].Data)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func accuracyPPrint(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// baseMetric implements a stateless metric.Interface.
type baseMetric struct {
	name, shortName, metricType string
	metricFn                    BaseMetricFn
	pPrintFn                    PrettyPrintFn // if nil will display default.
}

func (m *baseMetric) Name() string {
	return m.name
}

func (m *baseMetric) ShortName() string {
	return m.shortName
}

func (m *baseMetric) MetricType() string {
	return m.metricType
}

func (m *baseMetric) Update(labels [][]float64, predictions [][]*value.Value, loss float64) float64 {
	return m.metricFn(labels, predictions, loss)
}

func (m *baseMetric) PrettyPrint(v float64) string {
	if m.pPrintFn == nil {
		return fmt.Sprintf("%.3g", v)
	}
	return m.pPrintFn(v)
}

func (m *baseMetric) Reset() {}

// NewBaseMetric creates a stateless metric from any BaseMetricFn function, it will return the metric
// calculated solely on the last batch.
// pPrintFn can be left as nil, and a default will be used.
func NewBaseMetric(name, shortName, metricType string, metricFn BaseMetricFn, pPrintFn PrettyPrintFn) Interface {
	return &baseMetric{
		name: name, shortName: shortName, metricType: metricType,
		metricFn: metricFn, pPrintFn: pPrintFn}
}

// MeanMetric implements a metric that keeps the mean of a metric.
type MeanMetric struct {
	baseMetric
	dynamicBatch  bool
	total, weight float64
}

// NewMeanMetric creates a metric from any BaseMetricFn function.
//
// It weights each new result by the batch size (the number of labels).
// If you want all batches to count the same, set WithDynamicBatch(false).
//
// `prettyPrintFn` can be left as nil, and a default will be used.
func NewMeanMetric(
	name, shortName, metricType string,
	metricFn BaseMetricFn,
	prettyPrintFn PrettyPrintFn,
) *MeanMetric {
	return &MeanMetric{
		baseMetric: baseMetric{
			name:       name,
			shortName:  shortName,
			metricType: metricType,
			metricFn:   metricFn,
			pPrintFn:   prettyPrintFn,
		},
		dynamicBatch: true,
	}
}

// WithDynamicBatch sets whether the mean should weight each batch by its size. Default is true.
//
// If set to false, each batch counts as 1.
func (m *MeanMetric) WithDynamicBatch(dynamicBatch bool) *MeanMetric {
	m.dynamicBatch = dynamicBatch
	return m
}

func (m *MeanMetric) Update(labels [][]float64, predictions [][]*value.Value, loss float64) float64 {
	result := m.metricFn(labels, predictions, loss)
	resultWeight := 1.0
	if m.dynamicBatch {
		resultWeight = float64(max(len(labels), 1))
	}
	m.total += result * resultWeight
	m.weight += resultWeight
	return m.total / m.weight
}

func (m *MeanMetric) Reset() {
	m.total, m.weight = 0, 0
}

// movingAverageMetric implements a metric that keeps an exponential moving average of a metric.
//
// Each new batch has weight of newExampleWeight, and the stored mean is decayed by (1-newExampleWeight).
type movingAverageMetric struct {
	baseMetric
	newExampleWeight float64
	mean, count      float64
}

// NewExponentialMovingAverageMetric creates a metric from any BaseMetricFn function. It takes new examples with
// the given weight (newExampleWeight), and decays the rest to 1-newExampleWeight.
//
// A typical value of newExampleWeight is 0.01, the smaller the value, the slower the moving average moves.
// pPrintFn can be left as nil, and a default will be used.
//
// This doesn't have a set prior, it will start being a normal average until there are enough terms, and it becomes
// an exponential moving average.
func NewExponentialMovingAverageMetric(
	name, shortName, metricType string,
	metricFn BaseMetricFn,
	pPrintFn PrettyPrintFn,
	newExampleWeight float64,
) Interface {
	return &movingAverageMetric{baseMetric: baseMetric{
		name: name, shortName: shortName, metricType: metricType,
		metricFn: metricFn, pPrintFn: pPrintFn}, newExampleWeight: newExampleWeight}
}

func (m *movingAverageMetric) Update(labels [][]float64, predictions [][]*value.Value, loss float64) float64 {
	result := m.metricFn(labels, predictions, loss)
	m.count++
	weight := max(m.newExampleWeight, 1/m.count)
	m.mean = m.mean*(1-weight) + result*weight
	return m.mean
}

func (m *movingAverageMetric) Reset() {
	m.mean, m.count = 0, 0
}

// NewMeanLoss returns a metric with the mean loss since the last Reset.
func NewMeanLoss(name, shortName string) *MeanMetric {
	return NewMeanMetric(name, shortName, LossMetricType, LossFn, nil)
}

// NewMovingAverageLoss returns a metric with the exponential moving average of the loss.
func NewMovingAverageLoss(name, shortName string, newExampleWeight float64) Interface {
	return NewExponentialMovingAverageMetric(name, shortName, LossMetricType, LossFn, nil, newExampleWeight)
}

// NewMeanBinaryAccuracy returns a metric with the mean accuracy, for labels in {-1, +1}.
func NewMeanBinaryAccuracy(name, shortName string) *MeanMetric {
	return NewMeanMetric(name, shortName, AccuracyMetricType, BinaryAccuracyFn, accuracyPPrint)
}

// NewMovingAverageBinaryAccuracy returns a metric with the exponential moving average of the
// accuracy, for labels in {-1, +1}.
func NewMovingAverageBinaryAccuracy(name, shortName string, newExampleWeight float64) Interface {
	return NewExponentialMovingAverageMetric(name, shortName, AccuracyMetricType, BinaryAccuracyFn,
		accuracyPPrint, newExampleWeight)
}

// NewMeanAbsoluteError returns a metric with the mean absolute error since the last Reset.
func NewMeanAbsoluteError(name, shortName string) *MeanMetric {
	return NewMeanMetric(name, shortName, LossMetricType, MeanAbsoluteErrorFn, nil)
}
