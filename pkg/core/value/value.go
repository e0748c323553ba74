// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package value implements scalar reverse-mode automatic differentiation.
//
// A Value wraps a float64 and records the operation and the input values that produced it. The
// recorded operations form a directed acyclic graph (the expression graph), and calling Backward
// on the final Value back-propagates the gradient of that Value to every node of the graph,
// accumulating it in each node's Grad field.
//
// Example:
//
//	x := value.New(-4)
//	z := value.Add(value.AddScalar(value.MulScalar(x, 2), 2), x)
//	y := value.Mul(value.Relu(z), x)
//	y.Backward()
//	fmt.Println(y.Data, x.Grad)
//
// Values are not safe for concurrent use: building and back-propagating a graph is expected to
// happen in one goroutine. Different graphs can be used concurrently.
package value

import (
	"fmt"
	"sync/atomic"

	. "github.com/gomlx/exceptions"
)

// Value is a node in the expression graph: a scalar with its accumulated gradient.
type Value struct {
	// Data is the value computed during the forward pass.
	// It can be changed directly, for instance by optimizers updating parameters.
	Data float64

	// Grad is the accumulated gradient of the last Backward root with respect to this Value.
	// Backward only adds to it; see ZeroGrad.
	Grad float64

	id     int64
	op     OpType
	inputs []*Value
	label  string

	// exponent of a OpTypePow node.
	exponent float64
}

var lastID atomic.Int64

// New creates a leaf Value, with no inputs.
func New(data float64) *Value {
	return &Value{Data: data, id: lastID.Add(1)}
}

// NewLabeled creates a leaf Value with a label, used when printing or exporting the graph.
func NewLabeled(label string, data float64) *Value {
	v := New(data)
	v.label = label
	return v
}

// newNode creates the output of an operation. Inputs must have been validated with checkInputs.
func newNode(op OpType, data float64, inputs ...*Value) *Value {
	v := New(data)
	v.op = op
	v.inputs = inputs
	return v
}

// checkInputs panics if any of the inputs is nil.
func checkInputs(op OpType, inputs ...*Value) {
	for ii, input := range inputs {
		if input == nil {
			Panicf("value.%s: input #%d is nil", op, ii)
		}
	}
}

// Id is a unique identifier of the Value. Ids increase with creation order.
func (v *Value) Id() int64 {
	return v.id
}

// Op returns the operation that created this Value, OpTypeNone for leaves.
func (v *Value) Op() OpType {
	return v.op
}

// Inputs returns the Values used to calculate this one. Leaves have no inputs.
// The returned slice must not be modified.
func (v *Value) Inputs() []*Value {
	return v.inputs
}

// IsLeaf returns whether the Value was created by New (as opposed to an operation).
func (v *Value) IsLeaf() bool {
	return len(v.inputs) == 0
}

// Label returns the label given with NewLabeled or SetLabel.
func (v *Value) Label() string {
	return v.label
}

// SetLabel sets the label of the Value and returns it, so calls can be cascaded.
func (v *Value) SetLabel(label string) *Value {
	v.label = label
	return v
}

// ZeroGrad resets the accumulated gradient of this Value only.
func (v *Value) ZeroGrad() {
	v.Grad = 0
}

// ZeroGrads resets the accumulated gradient of all given values.
func ZeroGrads(values []*Value) {
	for _, v := range values {
		v.Grad = 0
	}
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	if v == nil {
		return "Value(nil)"
	}
	name := v.label
	if name == "" {
		name = fmt.Sprintf("#%d", v.id)
	}
	if v.op == OpTypeNone {
		return fmt.Sprintf("Value(%s: data=%g, grad=%g)", name, v.Data, v.Grad)
	}
	return fmt.Sprintf("Value(%s=%s: data=%g, grad=%g)", name, v.op, v.Data, v.Grad)
}
