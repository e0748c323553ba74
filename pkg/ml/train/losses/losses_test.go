// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package losses

import (
	"testing"

	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/stretchr/testify/assert"
)

func predictionsOf(data ...float64) [][]*value.Value {
	predictions := make([][]*value.Value, len(data))
	for ii, d := range data {
		predictions[ii] = []*value.Value{value.New(d)}
	}
	return predictions
}

func TestSquaredErrors(t *testing.T) {
	labels := [][]float64{{1}, {-1}, {2}}
	predictions := predictionsOf(0, 1, 2)
	sse := SumSquaredError(labels, predictions)
	assert.InDelta(t, 5.0, sse.Data, 1e-9)
	sse.Backward()
	// d/dp (l-p)² = -2(l-p)
	assert.InDelta(t, -2.0, predictions[0][0].Grad, 1e-9)
	assert.InDelta(t, 4.0, predictions[1][0].Grad, 1e-9)
	assert.InDelta(t, 0.0, predictions[2][0].Grad, 1e-9)

	assert.InDelta(t, 5.0/3.0, MeanSquaredError(labels, predictionsOf(0, 1, 2)).Data, 1e-9)
	assert.Panics(t, func() { SumSquaredError(labels, predictionsOf(0, 1)) })
	assert.Panics(t, func() { SumSquaredError([][]float64{{1, 2}}, predictionsOf(0)) })
}

func TestMeanAbsoluteError(t *testing.T) {
	labels := [][]float64{{1}, {-1}}
	predictions := predictionsOf(3, 0)
	mae := MeanAbsoluteError(labels, predictions)
	assert.InDelta(t, 1.5, mae.Data, 1e-9)
	mae.Backward()
	assert.InDelta(t, 0.5, predictions[0][0].Grad, 1e-9)
	assert.InDelta(t, 0.5, predictions[1][0].Grad, 1e-9)
}

func TestHinge(t *testing.T) {
	labels := [][]float64{{1}, {-1}}
	assert.InDelta(t, 0.0, Hinge(labels, predictionsOf(2, -3)).Data, 1e-9)
	assert.InDelta(t, 1.25, Hinge(labels, predictionsOf(0.5, 1)).Data, 1e-9)
}

func TestHuber(t *testing.T) {
	huber := MakeHuberLoss(1)
	labels := [][]float64{{0}, {0}}
	predictions := predictionsOf(0.5, 3)
	loss := huber(labels, predictions)
	// 0.5*0.25 = 0.125 and 1*(3-0.5) = 2.5.
	assert.InDelta(t, (0.125+2.5)/2, loss.Data, 1e-9)
	loss.Backward()
	assert.InDelta(t, 0.25, predictions[0][0].Grad, 1e-9)
	assert.InDelta(t, 0.5, predictions[1][0].Grad, 1e-9)
	assert.Panics(t, func() { MakeHuberLoss(0) })
}

func TestFromContext(t *testing.T) {
	ctx := context.New()
	labels := [][]float64{{1}, {-1}}
	assert.InDelta(t, 2.0, FromContext(ctx)(labels, predictionsOf(0, 0)).Data, 1e-9)
	ctx.SetParam(ParamLoss, "mse")
	assert.InDelta(t, 1.0, FromContext(ctx)(labels, predictionsOf(0, 0)).Data, 1e-9)
	ctx.SetParam(ParamLoss, "huber")
	ctx.SetParam(ParamHuberLossDelta, 0.5)
	// |e|=1 > 0.5: 0.5*0.25 + 0.5*0.5 = 0.375 per element.
	assert.InDelta(t, 0.375, FromContext(ctx)(labels, predictionsOf(0, 0)).Data, 1e-9)
	ctx.SetParam(ParamLoss, "xent")
	assert.Panics(t, func() { FromContext(ctx) })
}
