// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package value

import (
	"math"
)

// Scalar constants given to the *Scalar operations become leaf Values of their own, so they
// also accumulate gradients, even if usually nobody reads them.

// Add returns a+b.
func Add(a, b *Value) *Value {
	checkInputs(OpTypeAdd, a, b)
	return newNode(OpTypeAdd, a.Data+b.Data, a, b)
}

// AddScalar returns a+c.
func AddScalar(a *Value, c float64) *Value {
	return Add(a, New(c))
}

// Mul returns a*b.
func Mul(a, b *Value) *Value {
	checkInputs(OpTypeMul, a, b)
	return newNode(OpTypeMul, a.Data*b.Data, a, b)
}

// MulScalar returns a*c.
func MulScalar(a *Value, c float64) *Value {
	return Mul(a, New(c))
}

// PowScalar returns a^exponent. The exponent is a constant, and receives no gradient.
func PowScalar(a *Value, exponent float64) *Value {
	checkInputs(OpTypePow, a)
	v := newNode(OpTypePow, math.Pow(a.Data, exponent), a)
	v.exponent = exponent
	return v
}

// Neg returns -a, calculated as a*(-1).
func Neg(a *Value) *Value {
	return MulScalar(a, -1)
}

// Sub returns a-b, calculated as a+(-b).
func Sub(a, b *Value) *Value {
	checkInputs(OpTypeAdd, a, b)
	return Add(a, Neg(b))
}

// SubScalar returns a-c.
func SubScalar(a *Value, c float64) *Value {
	return Sub(a, New(c))
}

// ScalarSub returns c-a.
func ScalarSub(c float64, a *Value) *Value {
	return Sub(New(c), a)
}

// Div returns a/b, calculated as a*b^(-1).
func Div(a, b *Value) *Value {
	checkInputs(OpTypeMul, a, b)
	return Mul(a, PowScalar(b, -1))
}

// DivScalar returns a/c.
func DivScalar(a *Value, c float64) *Value {
	return Div(a, New(c))
}

// ScalarDiv returns c/a.
func ScalarDiv(c float64, a *Value) *Value {
	return Div(New(c), a)
}

// Relu returns max(a, 0).
func Relu(a *Value) *Value {
	checkInputs(OpTypeRelu, a)
	data := a.Data
	if data < 0 {
		data = 0
	}
	return newNode(OpTypeRelu, data, a)
}

// Tanh returns the hyperbolic tangent of a.
func Tanh(a *Value) *Value {
	checkInputs(OpTypeTanh, a)
	return newNode(OpTypeTanh, math.Tanh(a.Data), a)
}

// Exp returns e^a.
func Exp(a *Value) *Value {
	checkInputs(OpTypeExp, a)
	return newNode(OpTypeExp, math.Exp(a.Data), a)
}

// Sum adds all the given values, from left to right.
// It returns a new zero constant if no values are given.
func Sum(values ...*Value) *Value {
	if len(values) == 0 {
		return New(0)
	}
	checkInputs(OpTypeAdd, values...)
	sum := values[0]
	for _, v := range values[1:] {
		sum = Add(sum, v)
	}
	return sum
}
