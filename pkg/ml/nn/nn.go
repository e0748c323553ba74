// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package nn implements small neural networks (neurons, layers and multi-layer perceptrons)
// built on scalar values.
//
// The parameters of a network are leaf values: after a backward pass from the loss, their Grad
// holds the gradient that an optimizer uses to update their Data.
package nn

import (
	"github.com/gomlx/scalargrad/pkg/core/value"
)

// Module is anything that holds trainable parameters.
type Module interface {
	// Parameters returns the trainable leaf values of the module.
	Parameters() []*value.Value
}

// ZeroGrad resets the gradient of every parameter of the module.
// It should be called before each backward pass, since gradients accumulate.
func ZeroGrad(m Module) {
	value.ZeroGrads(m.Parameters())
}

// NumParameters returns the number of trainable parameters of the module.
func NumParameters(m Module) int {
	return len(m.Parameters())
}
