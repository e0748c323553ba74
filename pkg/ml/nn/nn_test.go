// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nn

import (
	"testing"

	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/initializer"
	"github.com/gomlx/scalargrad/pkg/ml/layers/activations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMLPStructure(t *testing.T) {
	ctx := context.New()
	ctx.RngStateFromSeed(42)
	m := NewMLP(ctx, 3, []int{4, 4, 1})
	assert.Equal(t, 41, NumParameters(m))
	require.Len(t, m.Layers(), 3)
	assert.Equal(t, activations.TypeRelu, m.Layers()[0].Neurons()[0].Activation())
	assert.Equal(t, activations.TypeRelu, m.Layers()[1].Neurons()[3].Activation())
	assert.Equal(t, activations.TypeNone, m.Layers()[2].Neurons()[0].Activation())
	assert.Equal(t, "/layer_1/neuron_2/w3", m.Layers()[1].Neurons()[2].Weights()[3].Label())
	assert.Equal(t, "/layer_2/neuron_0/b", m.Layers()[2].Neurons()[0].Bias().Label())
	assert.Contains(t, m.String(), "Neuron(relu, 3)")
	assert.Contains(t, m.String(), "Neuron(none, 4)")

	for _, p := range m.Parameters() {
		assert.True(t, p.IsLeaf())
		assert.GreaterOrEqual(t, p.Data, -1.0)
		assert.Less(t, p.Data, 1.0)
	}

	outputs := m.Call([]float64{2, 3, -1})
	require.Len(t, outputs, 1)
	assert.Panics(t, func() { m.Call([]float64{1, 2}) })
}

func TestMLPReproducible(t *testing.T) {
	build := func() []float64 {
		ctx := context.New()
		ctx.SetParam(context.ParamSeed, 17)
		m := NewMLP(ctx, 2, []int{3, 1})
		return []float64{m.Call([]float64{0.5, -1})[0].Data, m.Parameters()[4].Data}
	}
	assert.Equal(t, build(), build())
}

func TestMLPPerLayerActivation(t *testing.T) {
	ctx := context.New()
	ctx.In("layer_1").SetParam(activations.ParamActivation, "tanh")
	ctx.SetParam(initializer.ParamInitializer, "int")
	m := NewMLP(ctx, 2, []int{2, 2, 1})
	assert.Equal(t, activations.TypeRelu, m.Layers()[0].Neurons()[0].Activation())
	assert.Equal(t, activations.TypeTanh, m.Layers()[1].Neurons()[0].Activation())
	for _, p := range m.Parameters() {
		assert.Contains(t, []float64{-1, 0, 1}, p.Data)
	}
}

func TestZeroGrad(t *testing.T) {
	ctx := context.New()
	m := NewMLP(ctx, 3, []int{4, 1})
	out := m.Call([]float64{1, 2, 3})[0]
	value.PowScalar(out, 2).Backward()
	ZeroGrad(m)
	for _, p := range m.Parameters() {
		assert.Equal(t, 0.0, p.Grad)
	}
}

// TestLinearNeuronRegression fits y=2x with plain gradient descent on a single linear neuron.
func TestLinearNeuronRegression(t *testing.T) {
	ctx := context.New()
	ctx.RngStateFromSeed(1)
	n := NewNeuron(ctx, 1, activations.TypeNone)
	inputs := []float64{1, 2}
	labels := []float64{2, 4}
	const learningRate = 0.05

	var loss *value.Value
	for range 1000 {
		ZeroGrad(n)
		terms := make([]*value.Value, len(inputs))
		for ii, x := range inputs {
			pred := n.Call([]*value.Value{value.New(x)})
			terms[ii] = value.PowScalar(value.SubScalar(pred, labels[ii]), 2)
		}
		loss = value.Sum(terms...)
		loss.Backward()
		for _, p := range n.Parameters() {
			p.Data -= learningRate * p.Grad
		}
	}
	assert.Less(t, loss.Data, 1e-3)
	assert.InDelta(t, 2.0, n.Weights()[0].Data, 0.05)
	assert.InDelta(t, 0.0, n.Bias().Data, 0.05)
}
