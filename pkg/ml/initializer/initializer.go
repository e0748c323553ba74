// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializer holds the functions that draw the initial values of model parameters.
//
// All random initializers draw from the context random number generator, so a context seeded
// with context.ParamSeed (or Context.RngStateFromSeed) builds reproducible models.
package initializer

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/support/xslices"
)

// Initializer returns the initial value of one parameter of a unit with fanIn inputs and
// fanOut outputs.
type Initializer func(ctx *context.Context, fanIn, fanOut int) float64

// ParamInitializer is the context hyperparameter with the name of the initializer used by
// FromContext. See KnownInitializers for the valid values. The default is "uniform".
const ParamInitializer = "initializer"

var (
	// Zero initializes parameters with zero.
	Zero Initializer = func(_ *context.Context, _, _ int) float64 { return 0 }

	// One initializes parameters with one.
	One Initializer = func(_ *context.Context, _, _ int) float64 { return 1 }

	// KnownInitializers maps the names accepted by FromContext to their initializers.
	KnownInitializers = map[string]Initializer{
		"zero":           Zero,
		"uniform":        Uniform(-1, 1),
		"int":            Integer(-1, 1),
		"normal":         Normal(1),
		"xavier_uniform": XavierUniform,
		"xavier_normal":  XavierNormal,
		"he":             He,
	}
)

// FromContext returns the initializer named by ParamInitializer in the context, or "uniform"
// (uniformly from [-1, 1)) if not set.
//
// It panics if the name is unknown.
func FromContext(ctx *context.Context) Initializer {
	name := context.GetParamOr(ctx, ParamInitializer, "uniform")
	initFn, found := KnownInitializers[name]
	if !found {
		Panicf("unknown initializer %q set in %q: valid values are %q",
			name, ParamInitializer, xslices.SortedKeys(KnownInitializers))
	}
	return initFn
}

// Uniform returns an initializer that draws values uniformly from [minValue, maxValue).
func Uniform(minValue, maxValue float64) Initializer {
	return func(ctx *context.Context, _, _ int) float64 {
		return ctx.RandomUniform(minValue, maxValue)
	}
}

// Integer returns an initializer that draws integer values uniformly from the closed interval
// [minValue, maxValue].
func Integer(minValue, maxValue int) Initializer {
	return func(ctx *context.Context, _, _ int) float64 {
		return float64(ctx.RandomInt(minValue, maxValue))
	}
}

// Normal returns an initializer that generates random normal values with the given standard
// deviation and mean set to 0.
func Normal(stddev float64) Initializer {
	return func(ctx *context.Context, _, _ int) float64 {
		return ctx.RandomNormal(0, stddev)
	}
}

// XavierUniform generates values with a uniform distribution in the range
// +/- sqrt(6 / (fanIn+fanOut)).
func XavierUniform(ctx *context.Context, fanIn, fanOut int) float64 {
	limit := math.Sqrt(6.0 / float64(max(fanIn+fanOut, 1)))
	return ctx.RandomUniform(-limit, limit)
}

// XavierNormal generates values with a normal distribution with mean 0 and
// stddev of sqrt(2 / (fanIn+fanOut)).
func XavierNormal(ctx *context.Context, fanIn, fanOut int) float64 {
	stddev := math.Sqrt(2.0 / float64(max(fanIn+fanOut, 1)))
	return ctx.RandomNormal(0, stddev)
}

// He tries to preserve the variance of 1, calculated for the Relu activation functions: it
// generates values with a normal distribution with mean 0 and stddev of sqrt(2 / fanIn).
func He(ctx *context.Context, fanIn, _ int) float64 {
	stddev := math.Sqrt(2.0 / float64(max(fanIn, 1)))
	return ctx.RandomNormal(0, stddev)
}
