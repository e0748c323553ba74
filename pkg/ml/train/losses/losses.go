// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package losses have several standard losses that implement the LossFn interface. They can also
// be called separately by custom losses.
//
// They all have the same signature that can be used by train.Trainer.
package losses

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/support/xslices"
)

// LossFn is the interface used by train.Trainer to train models.
//
// It takes as inputs the labels and predictions of a batch, one slice per example:
//   - labels comes from the dataset.
//   - predictions comes from the model.
//
// The returned loss must be a scalar value for the whole batch: train.Trainer back-propagates from it.
type LossFn func(labels [][]float64, predictions [][]*value.Value) (loss *value.Value)

const (
	// ParamLoss is the context hyperparameter with the name of the loss used by FromContext.
	// See KnownLosses for valid values. The default is "sse".
	ParamLoss = "loss"

	// ParamHuberLossDelta is the name of the hyperparameter that defines the Huber loss delta.
	// It defaults to 1.0
	ParamHuberLossDelta = "huber_loss_delta"
)

// KnownLosses maps loss names to constructors, used by FromContext.
var KnownLosses = map[string]func(ctx *context.Context) LossFn{
	"sse":   func(_ *context.Context) LossFn { return SumSquaredError },
	"mse":   func(_ *context.Context) LossFn { return MeanSquaredError },
	"mae":   func(_ *context.Context) LossFn { return MeanAbsoluteError },
	"hinge": func(_ *context.Context) LossFn { return Hinge },
	"huber": func(ctx *context.Context) LossFn {
		return MakeHuberLoss(context.GetParamOr(ctx, ParamHuberLossDelta, 1.0))
	},
}

// FromContext returns the loss selected by ParamLoss, or SumSquaredError if not set.
// It panics for unknown names.
func FromContext(ctx *context.Context) LossFn {
	name := context.GetParamOr(ctx, ParamLoss, "sse")
	builder, found := KnownLosses[name]
	if !found {
		Panicf("unknown loss %q: valid values are %q", name, xslices.SortedKeys(KnownLosses))
	}
	return builder(ctx)
}

// perElement applies fn to every (label, prediction) pair of the batch, and returns the results.
// It panics if labels and predictions don't have the same dimensions.
func perElement(labels [][]float64, predictions [][]*value.Value,
	fn func(label float64, prediction *value.Value) *value.Value) []*value.Value {
	if len(labels) != len(predictions) {
		Panicf("losses: %d labels and %d predictions given, they must match", len(labels), len(predictions))
	}
	var terms []*value.Value
	for exampleIdx := range labels {
		if len(labels[exampleIdx]) != len(predictions[exampleIdx]) {
			Panicf("losses: example #%d has %d labels and %d predictions, they must match",
				exampleIdx, len(labels[exampleIdx]), len(predictions[exampleIdx]))
		}
		for ii, label := range labels[exampleIdx] {
			terms = append(terms, fn(label, predictions[exampleIdx][ii]))
		}
	}
	return terms
}

func squaredError(label float64, prediction *value.Value) *value.Value {
	return value.PowScalar(value.ScalarSub(label, prediction), 2)
}

// Abs returns |x|, as `relu(x) + relu(-x)`.
func Abs(x *value.Value) *value.Value {
	return value.Add(value.Relu(x), value.Relu(value.Neg(x)))
}

// SumSquaredError returns the sum of `(label - prediction)²` over all elements of the batch.
func SumSquaredError(labels [][]float64, predictions [][]*value.Value) *value.Value {
	return value.Sum(perElement(labels, predictions, squaredError)...)
}

// MeanSquaredError returns the mean of `(label - prediction)²` over all elements of the batch.
func MeanSquaredError(labels [][]float64, predictions [][]*value.Value) *value.Value {
	terms := perElement(labels, predictions, squaredError)
	return value.DivScalar(value.Sum(terms...), float64(max(len(terms), 1)))
}

// MeanAbsoluteError returns the mean of `|label - prediction|` over all elements of the batch.
func MeanAbsoluteError(labels [][]float64, predictions [][]*value.Value) *value.Value {
	terms := perElement(labels, predictions, func(label float64, prediction *value.Value) *value.Value {
		return Abs(value.ScalarSub(label, prediction))
	})
	return value.DivScalar(value.Sum(terms...), float64(max(len(terms), 1)))
}

// Hinge is the max-margin loss for labels in {-1, +1}: the mean of `relu(1 - label·prediction)`.
func Hinge(labels [][]float64, predictions [][]*value.Value) *value.Value {
	terms := perElement(labels, predictions, func(label float64, prediction *value.Value) *value.Value {
		return value.Relu(value.ScalarSub(1, value.MulScalar(prediction, label)))
	})
	return value.DivScalar(value.Sum(terms...), float64(max(len(terms), 1)))
}

// MakeHuberLoss returns a Huber loss function: it's similar to an L2 (squared error) close to the
// target, and it becomes L1 (linear) away from the target. The loss is the mean over all elements.
//
// The delta parameter configures the range where the loss behaves as L2: if the prediction is
// further than delta it becomes linear. It also defines the slope. A good default value is 1.0.
//
// See https://en.wikipedia.org/wiki/Huber_loss
func MakeHuberLoss(delta float64) LossFn {
	if delta <= 0.0 {
		Panicf("MakeHuberLoss requires delta > 0 (1.0 being a good default), delta=%f given", delta)
	}
	return func(labels [][]float64, predictions [][]*value.Value) *value.Value {
		terms := perElement(labels, predictions, func(label float64, prediction *value.Value) *value.Value {
			absError := Abs(value.ScalarSub(label, prediction))
			// linear = max(|e| - delta, 0), quadratic = min(|e|, delta).
			linear := value.Relu(value.SubScalar(absError, delta))
			quadratic := value.Sub(absError, linear)
			return value.Add(
				value.MulScalar(value.PowScalar(quadratic, 2), 0.5),
				value.MulScalar(linear, delta))
		})
		return value.DivScalar(value.Sum(terms...), float64(max(len(terms), 1)))
	}
}
