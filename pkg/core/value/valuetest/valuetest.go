// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package valuetest holds test utilities for functions built on the value package.
package valuetest

import (
	"fmt"
	"testing"

	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DefaultEpsilon used by CheckGradient for the central differences.
const DefaultEpsilon = 1e-6

// TestFn builds an expression graph over the given leaf inputs and returns its output.
type TestFn func(inputs []*value.Value) *value.Value

// Leaves creates one leaf Value per data element, labeled "x0", "x1", etc.
func Leaves(data []float64) []*value.Value {
	leaves := make([]*value.Value, len(data))
	for ii, d := range data {
		leaves[ii] = value.NewLabeled(fmt.Sprintf("x%d", ii), d)
	}
	return leaves
}

// NumericalGradient estimates the gradient of fn at inputs with central differences:
// (fn(x+eps) - fn(x-eps)) / (2*eps), for each input in turn.
func NumericalGradient(fn TestFn, inputs []float64, eps float64) []float64 {
	grads := make([]float64, len(inputs))
	shifted := make([]float64, len(inputs))
	for ii := range inputs {
		copy(shifted, inputs)
		shifted[ii] = inputs[ii] + eps
		plus := fn(Leaves(shifted)).Data
		shifted[ii] = inputs[ii] - eps
		minus := fn(Leaves(shifted)).Data
		grads[ii] = (plus - minus) / (2 * eps)
	}
	return grads
}

// Gradient returns the output of fn at inputs and the gradient calculated by Backward.
func Gradient(fn TestFn, inputs []float64) (output float64, grads []float64) {
	leaves := Leaves(inputs)
	y := fn(leaves)
	y.Backward()
	grads = make([]float64, len(leaves))
	for ii, leaf := range leaves {
		grads[ii] = leaf.Grad
	}
	return y.Data, grads
}

// CheckGradient runs fn on inputs, back-propagates, and checks that the gradients match the
// numerical ones within delta.
//
// The inputs should be far enough from points where fn is not differentiable (e.g.: 0 for Relu).
func CheckGradient(t *testing.T, name string, fn TestFn, inputs []float64, delta float64) {
	t.Helper()
	_, grads := Gradient(fn, inputs)
	numerical := NumericalGradient(fn, inputs, DefaultEpsilon)
	require.Len(t, grads, len(numerical))
	for ii := range grads {
		assert.InDeltaf(t, numerical[ii], grads[ii], delta,
			"%s: gradient wrt input #%d (%g): backward=%g, numerical=%g", name, ii, inputs[ii], grads[ii], numerical[ii])
	}
}

// CheckValueAndGradient runs fn on inputs, back-propagates, and checks the output and gradients
// against the given expected values, within delta.
func CheckValueAndGradient(t *testing.T, name string, fn TestFn, inputs []float64,
	wantOutput float64, wantGrads []float64, delta float64) {
	t.Helper()
	output, grads := Gradient(fn, inputs)
	assert.InDeltaf(t, wantOutput, output, delta, "%s: output", name)
	require.Lenf(t, grads, len(wantGrads), "%s: number of gradients", name)
	for ii := range grads {
		assert.InDeltaf(t, wantGrads[ii], grads[ii], delta, "%s: gradient wrt input #%d", name, ii)
	}
}
