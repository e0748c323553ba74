package metrics

import (
	"math/rand/v2"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/support/xslices"
)

// StreamingMedianMetric implements a metric that keeps an approximate median of a metric from a streaming
// input.
type StreamingMedianMetric struct {
	baseMetric
	maxNumSamples, samplesSeen int
	samples                    []float64
	rng                        *rand.Rand
}

// NewMedianMetric creates a streaming median metric from any BaseMetricFn function.
//
// It keeps a uniform random sample (reservoir sampling) of at most 10_001 results, see WithSampleSize.
//
// `prettyPrintFn` can be left as nil, and a default will be used.
func NewMedianMetric(
	name, shortName, metricType string,
	metricFn BaseMetricFn,
	prettyPrintFn PrettyPrintFn,
) *StreamingMedianMetric {
	return &StreamingMedianMetric{
		baseMetric: baseMetric{
			name:       name,
			shortName:  shortName,
			metricType: metricType,
			metricFn:   metricFn,
			pPrintFn:   prettyPrintFn,
		},
		maxNumSamples: 10_001,
	}
}

// WithSampleSize configures the default number of random samples to keep to estimate the median.
func (m *StreamingMedianMetric) WithSampleSize(n int) *StreamingMedianMetric {
	if n <= 0 {
		Panicf("StreamingMedianMetric.WithSampleSize(%d): sample size must be > 0", n)
	}
	m.maxNumSamples = n
	return m
}

// WithSeed makes the sampling deterministic.
func (m *StreamingMedianMetric) WithSeed(seed uint64) *StreamingMedianMetric {
	m.rng = rand.New(rand.NewPCG(seed, seed))
	return m
}

func (m *StreamingMedianMetric) Update(labels [][]float64, predictions [][]*value.Value, loss float64) float64 {
	if m.samples == nil {
		m.samples = make([]float64, 0, m.maxNumSamples)
		m.samplesSeen = 0
		if m.rng == nil {
			m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
	}
	x := m.metricFn(labels, predictions, loss)
	m.samplesSeen++
	switch {
	case len(m.samples) < m.maxNumSamples:
		// Simple case: we have space to simply store the new sampled x.
		m.samples = append(m.samples, x)
	case m.rng.Float64() < float64(m.maxNumSamples)/float64(m.samplesSeen):
		// We replace the new sampled x in a random position.
		m.samples[m.rng.IntN(m.maxNumSamples)] = x
	}
	return m.Read()
}

// Read returns the current median estimate. It panics if no samples were seen.
func (m *StreamingMedianMetric) Read() float64 {
	if len(m.samples) == 0 {
		Panicf("streaming median metric %q has seen no samples to read", m.Name())
	}
	return xslices.Median(m.samples)
}

// Reset discards all samples.
func (m *StreamingMedianMetric) Reset() {
	m.samples = nil
	m.samplesSeen = 0
}
