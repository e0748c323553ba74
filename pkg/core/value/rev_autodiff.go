// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package value

import (
	"math"

	. "github.com/gomlx/exceptions"
)

// This file implements reverse-mode automatic differentiation, using VJPs (Vector Jacobian Products),
// which for scalars reduce to the local derivative multiplied by the adjoint.
//
// Conventions:
//
// * root: the Value Backward is called on. Its gradient with respect to itself is 1.
// * adjoint (v): the gradient of the root with respect to the node being processed, accumulated in
//   node.Grad by all its consumers before the node itself is processed.
// * VJP: given a node and its adjoint, returns the contribution to the adjoint of each of its inputs.

// Backward back-propagates the gradient of v with respect to every Value it depends on.
//
// It sets v.Grad to 1, and visits the graph in reverse topological order, so a node is only
// processed after all the nodes that consume it. The gradients are accumulated (added) to the
// Grad field of the inputs: call ZeroGrad (or nn.ZeroGrad for a model) between independent
// backward passes over shared values.
func (v *Value) Backward() {
	order := v.TopologicalOrder()
	v.Grad = 1
	for ii := len(order) - 1; ii >= 0; ii-- {
		node := order[ii]
		if len(node.inputs) == 0 {
			continue
		}
		vjpFn, found := VJPRegistration[node.op]
		if !found {
			Panicf("graph has node %s, for which no gradient is defined, cannot back-propagate", node)
		}
		inputsVJPs := vjpFn(node, node.Grad)
		if len(inputsVJPs) != len(node.inputs) {
			Panicf("VJP(%s) returned %d VJPs, but it has %d inputs, implementation of auto-differentiation for %s failed",
				node, len(inputsVJPs), len(node.inputs), node.op)
		}
		for jj, input := range node.inputs {
			input.Grad += inputsVJPs[jj]
		}
	}
}

// TopologicalOrder returns all Values reachable from v (including v itself), ordered such that every
// Value comes after all of its inputs. v is always the last element.
func (v *Value) TopologicalOrder() []*Value {
	var order []*Value
	visited := make(map[*Value]bool)
	var visit func(node *Value)
	visit = func(node *Value) {
		if visited[node] {
			return
		}
		visited[node] = true
		for _, input := range node.inputs {
			visit(input)
		}
		order = append(order, node)
	}
	visit(v)
	return order
}

// VJP returns the adjoint contribution to each of the inputs of node, given the adjoint v of node.
type VJP func(node *Value, v float64) []float64

// VJPRegistration maps each operation type to its VJP. It can be changed for experimentation, or to
// register the gradient of a new operation.
var VJPRegistration = map[OpType]VJP{
	OpTypeAdd:  addVJP,
	OpTypeMul:  mulVJP,
	OpTypePow:  powVJP,
	OpTypeRelu: reluVJP,
	OpTypeTanh: tanhVJP,
	OpTypeExp:  expVJP,
}

func addVJP(node *Value, v float64) []float64 {
	return []float64{v, v}
}

// F(a,b) = a*b -> v*dF/da = v*b ; v*dF/db = v*a
func mulVJP(node *Value, v float64) []float64 {
	a, b := node.inputs[0], node.inputs[1]
	return []float64{v * b.Data, v * a.Data}
}

// F(a) = a^p -> v*dF/da = v*p*a^(p-1)
func powVJP(node *Value, v float64) []float64 {
	a, p := node.inputs[0], node.exponent
	return []float64{v * p * math.Pow(a.Data, p-1)}
}

// The gradient at 0 is taken to be 0: it only flows when the output is positive.
func reluVJP(node *Value, v float64) []float64 {
	if node.Data > 0 {
		return []float64{v}
	}
	return []float64{0}
}

// d(tanh(a))/da = 1 - tanh(a)^2
func tanhVJP(node *Value, v float64) []float64 {
	return []float64{v * (1 - node.Data*node.Data)}
}

// d(exp(a))/da = exp(a)
func expVJP(node *Value, v float64) []float64 {
	return []float64{v * node.Data}
}
