package optimizers

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/ml/context"
)

// This file implements learning rate schedules.

const (
	// ParamCosineScheduleSteps will enable cosine annealing (aka. "cosine schedule")
	// of the learning rate, if set to a value > 0. It defines the number of steps of the
	// period of the cosine annealing schedule.
	// It is very commonly to use the same value as the number of steps being trained.
	ParamCosineScheduleSteps = "cosine_schedule_steps"

	// ParamCosineScheduleMinLearningRate is the minimum value of the learning rate, during
	// cosine annealing schedule.
	// Defaults to 10^-3 * initial learning rate.
	ParamCosineScheduleMinLearningRate = "cosine_annealing_min_learning_rate"

	// ParamCosineScheduleWarmUpSteps is the number of warmup steps: during these initial steps the
	// learning rate linearly increases from 0 to the scheduled learning rate. Defaults to 0.
	ParamCosineScheduleWarmUpSteps = "cosine_schedule_warmup_steps"
)

// CosineScheduleOptions is returned by CosineAnnealingSchedule to configure the cosine annealing schedule
// strategy. When finished to configure, call `At` to get the learning rate for a step.
type CosineScheduleOptions struct {
	learningRate, minLearningRate float64
	periodNumSteps, warmUpSteps   int
}

// CosineAnnealingSchedule allows one to set up a cosine annealing schedule for the learning
// rate. See details https://paperswithcode.com/method/cosine-annealing.
//
// This is slightly different in the sense that $T_i$ is fixed to what here is called [PeriodInSteps].
//
// The optimizers in this package apply it automatically if [ParamCosineScheduleSteps] is set in the
// context, see ScheduledLearningRate.
func CosineAnnealingSchedule(learningRate float64) *CosineScheduleOptions {
	return &CosineScheduleOptions{learningRate: learningRate}
}

// FromContext configures the cosine annealing from the context, using the keys
// [ParamCosineScheduleSteps], [ParamCosineScheduleMinLearningRate] and [ParamCosineScheduleWarmUpSteps].
func (opt *CosineScheduleOptions) FromContext(ctx *context.Context) *CosineScheduleOptions {
	opt.periodNumSteps = context.GetParamOr(ctx, ParamCosineScheduleSteps, opt.periodNumSteps)
	opt.minLearningRate = context.GetParamOr(ctx, ParamCosineScheduleMinLearningRate, opt.minLearningRate)
	opt.warmUpSteps = context.GetParamOr(ctx, ParamCosineScheduleWarmUpSteps, opt.warmUpSteps)
	return opt
}

// PeriodInSteps sets the number of steps for one period of the cosine schedule. The effective
// learning rate decreases over the given period of training steps, and then is restarted at
// each new period.
//
// It's common to use only one period (so no annealing, just a cosine schedule), in which case
// just set to the number of steps that will be used for training.
//
// If set to 0 (the default), the cosine annealing schedule is disabled.
func (opt *CosineScheduleOptions) PeriodInSteps(periodSteps int) *CosineScheduleOptions {
	opt.periodNumSteps = periodSteps
	return opt
}

// MinLearningRate at the end of the cosine cycle. Defaults to 10^-3 * initial learning rate.
func (opt *CosineScheduleOptions) MinLearningRate(minLearningRate float64) *CosineScheduleOptions {
	opt.minLearningRate = minLearningRate
	return opt
}

// WarmUpSteps sets the number of steps during which the learning rate grows linearly from 0.
func (opt *CosineScheduleOptions) WarmUpSteps(warmUpSteps int) *CosineScheduleOptions {
	opt.warmUpSteps = warmUpSteps
	return opt
}

// At returns the learning rate for the given global step (starting at 1).
func (opt *CosineScheduleOptions) At(step int64) float64 {
	if opt.periodNumSteps < 0 || opt.warmUpSteps < 0 {
		Panicf("invalid cosine schedule: period=%d and warm-up=%d steps must be >= 0",
			opt.periodNumSteps, opt.warmUpSteps)
	}
	lr := opt.learningRate
	if opt.periodNumSteps > 0 {
		lrMin := opt.minLearningRate
		if lrMin == 0 {
			lrMin = lr * 1e-3
		}
		cosineStep := float64(max(step-1, 0)) // Since the count starts at 1.
		cycle := cosineStep / float64(opt.periodNumSteps)
		cycle -= math.Floor(cycle) // Take only the fractional part: so always in range `[0.0, 1.0)`.
		lr = lrMin + (lr-lrMin)*(math.Cos(cycle*math.Pi)+1)/2
	}
	if opt.warmUpSteps > 0 && step <= int64(opt.warmUpSteps) {
		lr *= float64(step) / float64(opt.warmUpSteps+1)
	}
	return lr
}

// ScheduledLearningRate returns the learning rate for the step, after applying the schedule
// configured in the context. Without schedule parameters it returns learningRate.
func ScheduledLearningRate(ctx *context.Context, learningRate float64, step int64) float64 {
	return CosineAnnealingSchedule(learningRate).FromContext(ctx).At(step)
}
