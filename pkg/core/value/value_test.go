// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package value_test

import (
	"bytes"
	"math"
	"testing"

	. "github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/core/value/valuetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const delta = 1e-9

func TestAdd(t *testing.T) {
	a, b := New(1), New(2)
	c := Add(a, b)
	assert.Equal(t, 3.0, c.Data)
	assert.Equal(t, OpTypeAdd, c.Op())
	c.Backward()
	assert.Equal(t, 1.0, a.Grad)
	assert.Equal(t, 1.0, b.Grad)
	assert.Equal(t, 1.0, c.Grad)
}

func TestMul(t *testing.T) {
	a, b := New(2), New(3)
	c := Mul(a, b)
	assert.Equal(t, 6.0, c.Data)
	c.Backward()
	assert.Equal(t, 3.0, a.Grad)
	assert.Equal(t, 2.0, b.Grad)
}

func TestPowScalar(t *testing.T) {
	a := New(2)
	b := PowScalar(a, 3)
	assert.Equal(t, 8.0, b.Data)
	b.Backward()
	assert.Equal(t, 12.0, a.Grad)
	assert.Equal(t, 1.0, b.Grad)
	assert.Len(t, b.Inputs(), 1, "the exponent is a constant, not an input")
}

func TestRelu(t *testing.T) {
	positive := New(2)
	out := Relu(positive)
	assert.Equal(t, 2.0, out.Data)
	out.Backward()
	assert.Equal(t, 1.0, positive.Grad)

	negative := New(-2)
	out = Relu(negative)
	assert.Equal(t, 0.0, out.Data)
	out.Backward()
	assert.Equal(t, 0.0, negative.Grad)

	zero := New(0)
	out = Relu(zero)
	out.Backward()
	assert.Equal(t, 0.0, zero.Grad, "no gradient flows through Relu at 0")
}

func TestNegSub(t *testing.T) {
	a := New(2)
	b := Neg(a)
	assert.Equal(t, -2.0, b.Data)
	b.Backward()
	assert.Equal(t, -1.0, a.Grad)

	a, b = New(2), New(3)
	c := Sub(a, b)
	assert.Equal(t, -1.0, c.Data)
	c.Backward()
	assert.Equal(t, 1.0, a.Grad)
	assert.Equal(t, -1.0, b.Grad)

	a = New(2)
	c = ScalarSub(5, a)
	assert.Equal(t, 3.0, c.Data)
	c.Backward()
	assert.Equal(t, -1.0, a.Grad)

	a = New(2)
	c = SubScalar(a, 5)
	assert.Equal(t, -3.0, c.Data)
	c.Backward()
	assert.Equal(t, 1.0, a.Grad)
}

func TestDiv(t *testing.T) {
	a, b := New(2), New(3)
	c := Div(a, b)
	assert.InDelta(t, 2.0/3.0, c.Data, delta)
	c.Backward()
	assert.InDelta(t, 1.0/3.0, a.Grad, delta)
	assert.InDelta(t, -2.0/9.0, b.Grad, delta)

	a = New(2)
	c = ScalarDiv(6, a)
	assert.InDelta(t, 3.0, c.Data, delta)
	c.Backward()
	assert.InDelta(t, -1.5, a.Grad, delta)

	a = New(3)
	c = DivScalar(a, 4)
	assert.InDelta(t, 0.75, c.Data, delta)
	c.Backward()
	assert.InDelta(t, 0.25, a.Grad, delta)
}

func TestSum(t *testing.T) {
	assert.Equal(t, 0.0, Sum().Data)
	a, b, c := New(1), New(2), New(3)
	s := Sum(a, b, c, a)
	assert.Equal(t, 7.0, s.Data)
	s.Backward()
	assert.Equal(t, 2.0, a.Grad)
	assert.Equal(t, 1.0, b.Grad)
	assert.Equal(t, 1.0, c.Grad)
}

func TestBackwardThroughGraph(t *testing.T) {
	a, b := New(2), New(3)
	c := Mul(a, b)
	d := Add(c, a)
	d.Backward()
	assert.Equal(t, 4.0, a.Grad)
	assert.Equal(t, 2.0, b.Grad)
}

func TestBackwardAccumulates(t *testing.T) {
	a, b := New(2), New(3)
	c := Mul(a, b)
	c.Backward()
	c.Backward()
	assert.Equal(t, 6.0, a.Grad)
	assert.Equal(t, 4.0, b.Grad)
	assert.Equal(t, 1.0, c.Grad, "the root gradient is set, not accumulated")

	ZeroGrads([]*Value{a, b})
	assert.Equal(t, 0.0, a.Grad)
	assert.Equal(t, 0.0, b.Grad)
	c.ZeroGrad()
	c.Backward()
	assert.Equal(t, 3.0, a.Grad)
}

func TestReferenceExpression(t *testing.T) {
	x := New(-4.0)
	z := Add(AddScalar(MulScalar(x, 2), 2), x)
	q := Add(Relu(z), Mul(z, x))
	h := Relu(Mul(z, z))
	y := Add(Add(h, q), Mul(q, x))
	y.Backward()
	assert.InDelta(t, -20.0, y.Data, delta)
	assert.InDelta(t, 46.0, x.Grad, delta)
}

func TestGradientsNumerically(t *testing.T) {
	valuetest.CheckGradient(t, "Tanh", func(inputs []*Value) *Value {
		return Tanh(inputs[0])
	}, []float64{0.3}, 1e-6)
	valuetest.CheckGradient(t, "Exp", func(inputs []*Value) *Value {
		return Exp(inputs[0])
	}, []float64{1.2}, 1e-5)
	valuetest.CheckGradient(t, "Composite", func(inputs []*Value) *Value {
		a, b, c := inputs[0], inputs[1], inputs[2]
		ab := Div(Mul(a, b), AddScalar(PowScalar(c, 2), 1))
		return Add(Tanh(ab), Relu(Sub(Exp(a), b)))
	}, []float64{0.5, -1.5, 2.0}, 1e-5)
	valuetest.CheckValueAndGradient(t, "x^2+3x", func(inputs []*Value) *Value {
		x := inputs[0]
		return Add(PowScalar(x, 2), MulScalar(x, 3))
	}, []float64{2}, 10, []float64{7}, delta)
}

func TestTopologicalOrder(t *testing.T) {
	x := New(-4.0)
	z := Add(MulScalar(x, 3), x)
	y := Mul(z, z)
	order := y.TopologicalOrder()
	require.NotEmpty(t, order)
	assert.Same(t, y, order[len(order)-1])

	position := make(map[*Value]int, len(order))
	for ii, node := range order {
		_, duplicate := position[node]
		require.Falsef(t, duplicate, "node %s listed twice", node)
		position[node] = ii
	}
	// x, the constant 3, x*3, z and y.
	assert.Len(t, order, 5)
	for _, node := range order {
		for _, input := range node.Inputs() {
			assert.Less(t, position[input], position[node])
		}
	}
}

func TestNilInputs(t *testing.T) {
	assert.Panics(t, func() { Add(nil, New(1)) })
	assert.Panics(t, func() { Mul(New(1), nil) })
	assert.Panics(t, func() { Relu(nil) })
	assert.Panics(t, func() { Sum(New(1), nil) })
}

func TestMissingVJP(t *testing.T) {
	saved := VJPRegistration[OpTypeExp]
	delete(VJPRegistration, OpTypeExp)
	defer func() { VJPRegistration[OpTypeExp] = saved }()
	y := Exp(New(1))
	assert.Panics(t, func() { y.Backward() })
}

func TestStringAndLabels(t *testing.T) {
	x := NewLabeled("x", 2)
	assert.Equal(t, "x", x.Label())
	assert.True(t, x.IsLeaf())
	assert.Equal(t, "Value(x: data=2, grad=0)", x.String())
	y := Relu(x).SetLabel("y")
	assert.False(t, y.IsLeaf())
	assert.Equal(t, "Value(y=Relu: data=2, grad=0)", y.String())
	assert.Greater(t, y.Id(), x.Id())
	assert.Equal(t, "ReLU", OpTypeRelu.Symbol())
	assert.Equal(t, "Mul", OpTypeMul.String())
	assert.Equal(t, "OpType(99)", OpType(99).String())
}

func TestWriteDot(t *testing.T) {
	x := NewLabeled("x", 3)
	y := Relu(Div(x, New(2))).SetLabel("y")
	y.Backward()
	var buf bytes.Buffer
	require.NoError(t, y.WriteDot(&buf))
	dot := buf.String()
	assert.Contains(t, dot, "digraph G {")
	assert.Contains(t, dot, "{ x | data 3.0000 | grad 0.5000 }")
	assert.Contains(t, dot, "{ y | data 1.5000 | grad 1.0000 }")
	assert.Contains(t, dot, `[label="ReLU"]`)
	assert.Contains(t, dot, `[label="**-1"]`)
	assert.False(t, math.IsNaN(y.Data))
}
