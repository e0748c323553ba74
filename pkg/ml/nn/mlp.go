// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nn

import (
	"fmt"
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/layers/activations"
	"k8s.io/klog/v2"
)

// MLP is a multi-layer perceptron: a stack of fully connected layers.
type MLP struct {
	numInputs int
	layers    []*Layer
}

// NewMLP creates a multi-layer perceptron taking numInputs inputs, with one layer per element of
// numOutputs.
//
// Layer i is created in the context scope "layer_<i>". Hidden layers use the activation set by
// activations.ParamActivation (default "relu"), read from the layer scope, so it can be
// configured per layer. The last layer is linear.
func NewMLP(ctx *context.Context, numInputs int, numOutputs []int) *MLP {
	if len(numOutputs) == 0 {
		Panicf("nn.NewMLP(): at least one layer is required")
	}
	m := &MLP{
		numInputs: numInputs,
		layers:    make([]*Layer, len(numOutputs)),
	}
	layerInputs := numInputs
	for ii, layerOutputs := range numOutputs {
		layerCtx := ctx.Inf("layer_%d", ii)
		activation := activations.TypeNone
		if ii < len(numOutputs)-1 {
			activation = activations.FromContext(layerCtx)
		}
		m.layers[ii] = NewLayer(layerCtx, layerInputs, layerOutputs, activation)
		layerInputs = layerOutputs
	}
	klog.V(1).Infof("nn.NewMLP: %s with %d parameters", m, NumParameters(m))
	return m
}

// Call converts the inputs to constant values and runs the network.
func (m *MLP) Call(inputs []float64) []*value.Value {
	values := make([]*value.Value, len(inputs))
	for ii, x := range inputs {
		values[ii] = value.New(x)
	}
	return m.CallValues(values)
}

// CallValues runs the network on the given values.
func (m *MLP) CallValues(inputs []*value.Value) []*value.Value {
	if len(inputs) != m.numInputs {
		Panicf("nn.MLP.CallValues(): got %d inputs, but MLP was built for %d", len(inputs), m.numInputs)
	}
	x := inputs
	for _, l := range m.layers {
		x = l.Call(x)
	}
	return x
}

// Layers of the network.
func (m *MLP) Layers() []*Layer { return m.layers }

// NumInputs returns the number of inputs expected by Call.
func (m *MLP) NumInputs() int { return m.numInputs }

// Parameters implements Module.
func (m *MLP) Parameters() []*value.Value {
	var params []*value.Value
	for _, l := range m.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// String implements fmt.Stringer.
func (m *MLP) String() string {
	parts := make([]string, len(m.layers))
	for ii, l := range m.layers {
		parts[ii] = l.String()
	}
	return fmt.Sprintf("MLP of [%s]", strings.Join(parts, ", "))
}
