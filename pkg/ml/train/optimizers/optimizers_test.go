package optimizers

import (
	"math"
	"testing"

	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paramWithGrad(data, grad float64) *value.Value {
	p := value.New(data)
	p.Grad = grad
	return p
}

func TestSGD(t *testing.T) {
	ctx := context.New()
	p := paramWithGrad(1, 2)
	StochasticGradientDescent().Done().UpdateParameters(ctx, []*value.Value{p}, 1)
	assert.InDelta(t, 0.8, p.Data, 1e-9)

	ctx.SetParam(ParamLearningRate, 0.5)
	p = paramWithGrad(1, 2)
	StochasticGradientDescent().Done().UpdateParameters(ctx, []*value.Value{p}, 1)
	assert.InDelta(t, 0.0, p.Data, 1e-9)

	// Explicit learning rate takes precedence, decay divides by sqrt(step).
	p = paramWithGrad(1, 2)
	StochasticGradientDescent().WithLearningRate(0.1).WithDecay(true).Done().
		UpdateParameters(ctx, []*value.Value{p}, 4)
	assert.InDelta(t, 0.9, p.Data, 1e-9)

	ctx.SetParam(ParamSGDSqrtDecay, true)
	p = paramWithGrad(1, 2)
	StochasticGradientDescent().Done().UpdateParameters(ctx, []*value.Value{p}, 4)
	assert.InDelta(t, 0.5, p.Data, 1e-9)
}

func TestClipping(t *testing.T) {
	ctx := context.New()
	assert.Equal(t, 5.0, ClipStepByValue(ctx, 5))
	ctx.SetParam(ParamClipStepByValue, 0.1)
	assert.Equal(t, 0.1, ClipStepByValue(ctx, 5))
	assert.Equal(t, -0.1, ClipStepByValue(ctx, -5))
	assert.Equal(t, 0.05, ClipStepByValue(ctx, 0.05))

	p := paramWithGrad(1, 100)
	StochasticGradientDescent().Done().UpdateParameters(ctx, []*value.Value{p}, 1)
	assert.InDelta(t, 0.9, p.Data, 1e-9)

	ctx = context.New()
	ctx.SetParam(ParamClipNaN, true)
	p = paramWithGrad(1, math.NaN())
	StochasticGradientDescent().Done().UpdateParameters(ctx, []*value.Value{p}, 1)
	assert.Equal(t, 1.0, p.Data)
}

func TestAdam(t *testing.T) {
	ctx := context.New()
	ctx.SetParam(ParamLearningRate, 0.01)
	opt := ByName(ctx, "adam")
	p0, p1 := paramWithGrad(1, 3), paramWithGrad(1, -0.2)
	opt.UpdateParameters(ctx, []*value.Value{p0, p1}, 1)
	// First Adam step is learning_rate * sign(grad).
	assert.InDelta(t, 0.99, p0.Data, 1e-6)
	assert.InDelta(t, 1.01, p1.Data, 1e-6)

	// Minimize (p-3)² from p=0.
	opt.Clear()
	p := value.New(0)
	for step := range 2000 {
		p.ZeroGrad()
		loss := value.PowScalar(value.SubScalar(p, 3), 2)
		loss.Backward()
		opt.UpdateParameters(ctx, []*value.Value{p}, int64(step+1))
	}
	assert.InDelta(t, 3.0, p.Data, 0.1)
}

func TestAdamVariants(t *testing.T) {
	ctx := context.New()
	ctx.SetParam(ParamLearningRate, 0.01)
	for _, name := range []string{"adamax", "rmsprop", "adamw"} {
		p := paramWithGrad(1, 2)
		ByName(ctx, name).UpdateParameters(ctx, []*value.Value{p}, 1)
		assert.Lessf(t, p.Data, 1.0, "optimizer %q should move the parameter against the gradient", name)
	}
	ctx.SetParam(ParamAdamBeta1, 1.5)
	assert.Panics(t, func() { ByName(ctx, "adam") })
}

func TestFromContext(t *testing.T) {
	ctx := context.New()
	_, isSGD := FromContext(ctx).(*SGDConfig)
	assert.True(t, isSGD)
	ctx.SetParam(ParamOptimizer, "adam")
	_, isAdam := FromContext(ctx).(*adam)
	assert.True(t, isAdam)
	assert.Panics(t, func() { ByName(ctx, "lion") })
}

func TestCosineSchedule(t *testing.T) {
	schedule := CosineAnnealingSchedule(1.0).PeriodInSteps(10).MinLearningRate(0.1)
	assert.InDelta(t, 1.0, schedule.At(1), 1e-9)
	assert.InDelta(t, 0.55, schedule.At(6), 1e-9)
	assert.InDelta(t, 1.0, schedule.At(11), 1e-9, "restarts after one period")

	ctx := context.New()
	assert.Equal(t, 0.3, ScheduledLearningRate(ctx, 0.3, 7))
	ctx.SetParam(ParamCosineScheduleSteps, 10)
	ctx.SetParam(ParamCosineScheduleWarmUpSteps, 1)
	lr := ScheduledLearningRate(ctx, 1.0, 1)
	require.InDelta(t, 0.5, lr, 1e-9)

	assert.Panics(t, func() { CosineAnnealingSchedule(1).PeriodInSteps(-1).At(1) })
}
