/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package optimizers implements a collection of ML optimizers that can be used by train.Trainer,
// or by themselves. They all implement optimizers.Interface.
package optimizers

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/support/xslices"
)

// Interface implemented by optimizer implementations.
type Interface interface {
	// UpdateParameters applies one training step to the parameters, using the gradients
	// accumulated in their Grad field by the backward pass from the loss.
	//
	// The ctx holds the hyperparameters used by the optimizer, and step is the global step
	// being applied, starting at 1.
	//
	// It panics on invalid configuration.
	UpdateParameters(ctx *context.Context, params []*value.Value, step int64)

	// Clear deletes all the state kept by the optimizer (e.g.: moving averages of the gradients).
	// This may be used if the training should be reset for some reason.
	Clear()
}

var (
	// KnownOptimizers is a map of known optimizers by name to their default constructors.
	// This provides an easy quick start point. One can hyperparameter-tune the optimizers
	// for usually slightly better results.
	KnownOptimizers = map[string]func(ctx *context.Context) Interface{
		"sgd":     func(ctx *context.Context) Interface { return StochasticGradientDescent().Done() },
		"adam":    func(ctx *context.Context) Interface { return Adam().FromContext(ctx).Done() },
		"adamax":  func(ctx *context.Context) Interface { return Adam().Adamax().FromContext(ctx).Done() },
		"adamw":   func(ctx *context.Context) Interface { return Adam().WeightDecay(0.004).FromContext(ctx).Done() },
		"rmsprop": func(ctx *context.Context) Interface { return RMSProp().FromContext(ctx).Done() },
	}
)

const (
	// ParamOptimizer is the context parameter with the name of the optimizer.
	// The default value is "sgd", and the valid values are the keys of KnownOptimizers.
	ParamOptimizer = "optimizer"

	// ParamLearningRate is the context parameter name for the default value of learning rate.
	// It is used by all optimizers.
	ParamLearningRate = "learning_rate"

	// ParamClipStepByValue is a scalar value used to clip each parameter step, after
	// being scaled by the learning rate and the optimizer.
	// The step applied will be `clip(step, -clip_step_by_value, +clip_step_by_value)`.
	// Defaults to no clipping, and values are expected to be float64.
	ParamClipStepByValue = "clip_step_by_value"

	// ParamClipNaN will drop any updates with NaNs or infinities.
	// This is a double-edged option: it keeps training running, but probably it will replace NaNs with bad
	// training results.
	//
	// The default is false.
	ParamClipNaN = "clip_nan"
)

// FromContext creates an optimizer from context hyperparameters.
// See [ParamOptimizer]. The default is "sgd".
func FromContext(ctx *context.Context) Interface {
	optName := context.GetParamOr(ctx, ParamOptimizer, "sgd")
	return ByName(ctx, optName)
}

// ByName returns an optimizer given the name, or panics if one does not exist.
// It uses KnownOptimizers -- in case one wants to better handle invalid values.
//
// Some optimizers (e.g.: Adam) uses optional hyperparameters set in the context for configuration.
//
// See also FromContext.
func ByName(ctx *context.Context, optName string) Interface {
	optBuilder, found := KnownOptimizers[optName]
	if !found {
		Panicf("Unknown optimizer %q, valid values are %v.", optName, xslices.SortedKeys(KnownOptimizers))
	}
	return optBuilder(ctx)
}

// ClipStepByValue applies the [ParamClipStepByValue] hyperparameter if it is not 0.0 (the default).
func ClipStepByValue(ctx *context.Context, step float64) float64 {
	clipByValue := context.GetParamOr(ctx, ParamClipStepByValue, 0.0)
	if clipByValue == 0 {
		return step
	}
	return max(-clipByValue, min(step, clipByValue))
}

// applyStep subtracts step from the parameter, after clipping it, see ParamClipStepByValue and
// ParamClipNaN.
func applyStep(ctx *context.Context, param *value.Value, step float64) {
	step = ClipStepByValue(ctx, step)
	if math.IsNaN(step) || math.IsInf(step, 0) {
		if context.GetParamOr(ctx, ParamClipNaN, false) {
			return
		}
	}
	param.Data -= step
}

// SGDDefaultLearningRate is the default learning rate used by the StochasticGradientDescent optimizer.
const SGDDefaultLearningRate = 0.1

// ParamSGDSqrtDecay enables a learning rate decay for StochasticGradientDescent given by
// `learning_rate = initial_learning_rate / Sqrt(global_step)`. Defaults to false.
const ParamSGDSqrtDecay = "sgd_sqrt_decay"

// SGDConfig holds the configuration of the StochasticGradientDescent optimizer, and implements
// optimizers.Interface.
type SGDConfig struct {
	initialLearningRate float64
	useDecay            bool
}

// StochasticGradientDescent creates an optimizer that performs SGD: `p -= learning_rate * grad`.
// It looks for "learning_rate" in the context params for the initial
// learning rate, otherwise it defaults to SGDDefaultLearningRate.
//
// A learning rate decay with the global step can be enabled with WithDecay or with ParamSGDSqrtDecay,
// and a cosine schedule with ParamCosineScheduleSteps.
func StochasticGradientDescent() *SGDConfig {
	return &SGDConfig{
		initialLearningRate: -1, // -1 means not set.
	}
}

// WithDecay sets whether to use a learning rate decay with the global step given by
// `learning_rate = initial_learning_rate / Sqrt(global_step)`.
//
// It returns itself to allow chaining.
func (sgd *SGDConfig) WithDecay(enabled bool) *SGDConfig {
	sgd.useDecay = enabled
	return sgd
}

// WithLearningRate sets the initial learning rate. The default value is SGDDefaultLearningRate.
//
// It returns itself to allow chaining.
func (sgd *SGDConfig) WithLearningRate(initialLearningRate float64) *SGDConfig {
	sgd.initialLearningRate = initialLearningRate
	return sgd
}

// Done returns an optimizer.Interface.
// It's a no-op since SGDConfig is itself implements optimizer.Interface, but it keeps it consistent with
// the builder pattern, and the returned Interface is no longer configurable.
func (sgd *SGDConfig) Done() Interface {
	return sgd
}

// UpdateParameters implements optimizers.Interface.
func (sgd *SGDConfig) UpdateParameters(ctx *context.Context, params []*value.Value, step int64) {
	initialLearningRate := sgd.initialLearningRate
	if initialLearningRate <= 0 {
		// If the value was not set, read it from the context.
		initialLearningRate = context.GetParamOr(ctx, ParamLearningRate, SGDDefaultLearningRate)
	}
	learningRate := ScheduledLearningRate(ctx, initialLearningRate, step)
	if sgd.useDecay || context.GetParamOr(ctx, ParamSGDSqrtDecay, false) {
		learningRate /= math.Sqrt(float64(max(step, 1)))
	}
	for _, p := range params {
		applyStep(ctx, p, learningRate*p.Grad)
	}
}

// Clear is a no-op: SGD keeps no state.
// It implements optimizers.Interface.
func (sgd *SGDConfig) Clear() {}
