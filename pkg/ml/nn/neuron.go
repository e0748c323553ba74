// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nn

import (
	"fmt"
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/initializer"
	"github.com/gomlx/scalargrad/pkg/ml/layers/activations"
)

// Neuron computes `activation(Σ wᵢxᵢ + b)`.
type Neuron struct {
	weights    []*value.Value
	bias       *value.Value
	activation activations.Type
}

// NewNeuron creates a neuron with numInputs weights and a bias, initialized with the
// initializer selected by the context (see initializer.FromContext).
//
// Parameters are labeled with the context scope, e.g.: "/layer_0/neuron_1/w2".
func NewNeuron(ctx *context.Context, numInputs int, activation activations.Type) *Neuron {
	if numInputs <= 0 {
		Panicf("nn.NewNeuron(numInputs=%d): it requires at least one input", numInputs)
	}
	initFn := initializer.FromContext(ctx)
	n := &Neuron{
		weights:    make([]*value.Value, numInputs),
		activation: activation,
	}
	for ii := range n.weights {
		n.weights[ii] = value.NewLabeled(paramLabel(ctx, fmt.Sprintf("w%d", ii)), initFn(ctx, numInputs, 1))
	}
	n.bias = value.NewLabeled(paramLabel(ctx, "b"), initFn(ctx, numInputs, 1))
	return n
}

func paramLabel(ctx *context.Context, name string) string {
	scope := ctx.Scope()
	if !strings.HasSuffix(scope, context.ScopeSeparator) {
		scope += context.ScopeSeparator
	}
	return scope + name
}

// Call the neuron on the given inputs. The number of inputs must match the number of weights.
func (n *Neuron) Call(inputs []*value.Value) *value.Value {
	if len(inputs) != len(n.weights) {
		Panicf("nn.Neuron.Call(): got %d inputs, but neuron has %d weights", len(inputs), len(n.weights))
	}
	terms := make([]*value.Value, 0, len(inputs)+1)
	for ii, x := range inputs {
		terms = append(terms, value.Mul(n.weights[ii], x))
	}
	terms = append(terms, n.bias)
	return activations.Apply(n.activation, value.Sum(terms...))
}

// Weights returns the neuron weights, one per input.
func (n *Neuron) Weights() []*value.Value { return n.weights }

// Bias returns the neuron bias.
func (n *Neuron) Bias() *value.Value { return n.bias }

// Activation returns the activation applied by the neuron.
func (n *Neuron) Activation() activations.Type { return n.activation }

// Parameters implements Module: the weights followed by the bias.
func (n *Neuron) Parameters() []*value.Value {
	params := make([]*value.Value, 0, len(n.weights)+1)
	params = append(params, n.weights...)
	return append(params, n.bias)
}

// String implements fmt.Stringer.
func (n *Neuron) String() string {
	return fmt.Sprintf("Neuron(%s, %d)", n.activation, len(n.weights))
}
