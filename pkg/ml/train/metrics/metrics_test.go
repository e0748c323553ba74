package metrics

import (
	"testing"

	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func predictionsOf(data ...float64) [][]*value.Value {
	predictions := make([][]*value.Value, len(data))
	for ii, d := range data {
		predictions[ii] = []*value.Value{value.New(d)}
	}
	return predictions
}

func TestMeanMetric(t *testing.T) {
	m := NewMeanLoss("Mean Loss", "~loss")
	assert.Equal(t, "~loss", m.ShortName())
	assert.Equal(t, LossMetricType, m.MetricType())
	oneExample := [][]float64{{1}}
	twoExamples := [][]float64{{1}, {1}}
	assert.Equal(t, 1.0, m.Update(oneExample, predictionsOf(0), 1.0))
	// Weighted by batch size: (1*1 + 4*2)/3.
	assert.Equal(t, 3.0, m.Update(twoExamples, predictionsOf(0, 0), 4.0))
	m.Reset()
	assert.Equal(t, 5.0, m.Update(oneExample, predictionsOf(0), 5.0))

	m = NewMeanLoss("Mean Loss", "~loss").WithDynamicBatch(false)
	m.Update(oneExample, predictionsOf(0), 1.0)
	assert.Equal(t, 2.5, m.Update(twoExamples, predictionsOf(0, 0), 4.0))
	assert.Equal(t, "2.5", m.PrettyPrint(2.5))
}

func TestMovingAverage(t *testing.T) {
	m := NewMovingAverageLoss("Moving Average Loss", "~mloss", 0.1)
	labels := [][]float64{{0}}
	predictions := predictionsOf(0)
	// Plain average for the first terms.
	assert.InDelta(t, 10.0, m.Update(labels, predictions, 10), 1e-9)
	assert.InDelta(t, 5.0, m.Update(labels, predictions, 0), 1e-9)
	for range 100 {
		m.Update(labels, predictions, 1)
	}
	assert.InDelta(t, 1.0, m.Update(labels, predictions, 1), 1e-3)
	m.Reset()
	assert.InDelta(t, 7.0, m.Update(labels, predictions, 7), 1e-9)
}

func TestBinaryAccuracy(t *testing.T) {
	m := NewMeanBinaryAccuracy("Mean Accuracy", "#acc")
	labels := [][]float64{{1}, {-1}, {1}, {-1}}
	assert.Equal(t, 0.75, m.Update(labels, predictionsOf(0.3, -2, 0.1, 0.5), 0))
	assert.Equal(t, "75.00%", m.PrettyPrint(0.75))
	assert.Panics(t, func() { BinaryAccuracyFn(labels, predictionsOf(1), 0) })
}

func TestMeanAbsoluteError(t *testing.T) {
	m := NewMeanAbsoluteError("MAE", "mae")
	assert.InDelta(t, 1.5, m.Update([][]float64{{1}, {-1}}, predictionsOf(3, 0), 0), 1e-9)
}

func TestStreamingMedian(t *testing.T) {
	m := NewMedianMetric("Median Loss", "~med", LossMetricType, LossFn, nil).WithSeed(1)
	labels := [][]float64{{0}}
	predictions := predictionsOf(0)
	for _, loss := range []float64{5, 1, 3} {
		m.Update(labels, predictions, loss)
	}
	assert.Equal(t, 3.0, m.Read())

	m = NewMedianMetric("Median Loss", "~med", LossMetricType, LossFn, nil).WithSampleSize(11).WithSeed(1)
	for ii := range 1000 {
		m.Update(labels, predictions, float64(ii%2))
	}
	require.Len(t, m.samples, 11)
	assert.Contains(t, []float64{0, 1}, m.Read())
	m.Reset()
	assert.Panics(t, func() { m.Read() })
}
