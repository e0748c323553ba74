// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nn

import (
	"fmt"
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/layers/activations"
)

// Layer is a fully connected layer of neurons that share the same inputs.
type Layer struct {
	neurons []*Neuron
}

// NewLayer creates a layer with numOutputs neurons, each taking numInputs inputs.
// Neuron i is created in the context scope "neuron_<i>".
func NewLayer(ctx *context.Context, numInputs, numOutputs int, activation activations.Type) *Layer {
	if numOutputs <= 0 {
		Panicf("nn.NewLayer(numOutputs=%d): it requires at least one output", numOutputs)
	}
	l := &Layer{neurons: make([]*Neuron, numOutputs)}
	for ii := range l.neurons {
		l.neurons[ii] = NewNeuron(ctx.Inf("neuron_%d", ii), numInputs, activation)
	}
	return l
}

// Call returns one output per neuron.
func (l *Layer) Call(inputs []*value.Value) []*value.Value {
	outputs := make([]*value.Value, len(l.neurons))
	for ii, n := range l.neurons {
		outputs[ii] = n.Call(inputs)
	}
	return outputs
}

// Neurons of the layer.
func (l *Layer) Neurons() []*Neuron { return l.neurons }

// Parameters implements Module.
func (l *Layer) Parameters() []*value.Value {
	var params []*value.Value
	for _, n := range l.neurons {
		params = append(params, n.Parameters()...)
	}
	return params
}

// String implements fmt.Stringer.
func (l *Layer) String() string {
	parts := make([]string, len(l.neurons))
	for ii, n := range l.neurons {
		parts[ii] = n.String()
	}
	return fmt.Sprintf("Layer[%s]", strings.Join(parts, ", "))
}
