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

package optimizers

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/ml/context"
)

const (
	// AdamDefaultLearningRate is used by Adam if no learning rate is set.
	AdamDefaultLearningRate = 0.001

	// ParamAdamEpsilon can be used to configure the default value of epsilon. It must be a float64.
	ParamAdamEpsilon = "adam_epsilon"

	// ParamAdamWeightDecay defaults to 0.0. See AdamConfig.WeightDecay.
	ParamAdamWeightDecay = "adam_weight_decay"

	// ParamAdamBeta1 is the moving average coefficient for the gradient (momentum), the numerator.
	// The default value is 0.9
	ParamAdamBeta1 = "adam_beta1"

	// ParamAdamBeta2 is the moving average coefficient for the variance, the denominator.
	// The default value is 0.999
	ParamAdamBeta2 = "adam_beta2"
)

// Adam optimization is a stochastic gradient descent method based on an adaptive estimation of first-order and
// second-order moments. According to [Kingma et al., 2014](http://arxiv.org/abs/1412.6980),
// the method is "*computationally efficient, has little memory requirement, invariant to diagonal rescaling of
// gradients, and is well suited for problems that are large in terms of data/parameters*".
//
// It returns a configuration object that can be used to set its parameters. Once configured, call AdamConfig.Done,
// and it will return an optimizer.Interface that can be used with the `train.Trainer` or directly in a custom
// optimization loop.
//
// See [AdamConfig.FromContext] to configure it from the context hyperparameters.
func Adam() *AdamConfig {
	return &AdamConfig{
		learningRate: -1, // < 0 means use the default.
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-7,
	}
}

// RMSProp is an optimizer that divides the learning rate for a weight by a running average
// of the recent gradients magnitudes (L2) for that weight.
//
// It uses Adam to implement it -- it's somewhat equivalent to an Adam without the 1st moment
// of the gradients.
func RMSProp() *AdamConfig {
	c := Adam()
	c.rmsProp = true
	return c
}

// AdamConfig holds the configuration for an Adam configuration, create using Adam(), and once configured
// call Done to create an Adam-based optimizer.Interface.
type AdamConfig struct {
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
	adamax       bool    // Works as Adamax.
	weightDecay  float64 // Works as AdamW.
	rmsProp      bool    // Works as RMSProp.
}

// FromContext will configure Adam with hyperparameters set in the given context.
// E.g.: "adam_epsilon" (see [ParamAdamEpsilon]) is used to set [AdamConfig.Epsilon].
func (c *AdamConfig) FromContext(ctx *context.Context) *AdamConfig {
	c.Epsilon(context.GetParamOr(ctx, ParamAdamEpsilon, c.epsilon))
	c.WeightDecay(context.GetParamOr(ctx, ParamAdamWeightDecay, c.weightDecay))
	c.Betas(context.GetParamOr(ctx, ParamAdamBeta1, c.beta1), context.GetParamOr(ctx, ParamAdamBeta2, c.beta2))
	return c
}

// LearningRate sets the base learning rate as a floating point value -- eventually scheduled by the
// cosine schedule.
//
// Default is either the value of ParamLearningRate ("learning_rate") parameter in Context if defined,
// or 0.001 if not.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Betas sets the two moving averages constants (default to 0.9 and 0.999, respectively).
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon used on the denominator as a small constant for stability.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// Adamax configure Adam to use a L-infinity (== max, which gives the name) for the second moment, instead of L2,
// as described in the same Adam paper.
func (c *AdamConfig) Adamax() *AdamConfig {
	c.adamax = true
	return c
}

// WeightDecay configure optimizer to work as AdamW, with the given static weight decay.
// This is because L2 regularization doesn't work well with Adam.
//
// Defaults to the value given in the ParamAdamWeightDecay hyperparameter.
func (c *AdamConfig) WeightDecay(weightDecay float64) *AdamConfig {
	c.weightDecay = weightDecay
	return c
}

// Done will finish the configuration and construct an optimizer.Interface that implements Adam to specification.
func (c *AdamConfig) Done() Interface {
	if c.beta1 < 0 || c.beta1 >= 1 || c.beta2 < 0 || c.beta2 >= 1 {
		Panicf("Adam betas must be in the range [0, 1), got beta1=%g, beta2=%g", c.beta1, c.beta2)
	}
	return &adam{config: c}
}

// adamMoments holds the moving averages for one parameter.
type adamMoments struct {
	m1, m2 float64
}

// adam implements the Adam family of optimizers, configured by AdamConfig.
type adam struct {
	config   *AdamConfig
	numSteps int64
	moments  map[*value.Value]*adamMoments
}

// UpdateParameters implements optimizers.Interface.
func (o *adam) UpdateParameters(ctx *context.Context, params []*value.Value, step int64) {
	c := o.config
	if o.moments == nil {
		o.moments = make(map[*value.Value]*adamMoments, len(params))
	}
	learningRate := c.learningRate
	if learningRate < 0 {
		learningRate = context.GetParamOr(ctx, ParamLearningRate, AdamDefaultLearningRate)
	}
	learningRate = ScheduledLearningRate(ctx, learningRate, step)

	// Adam keeps its own step counter for the bias correction.
	o.numSteps++
	debias1 := 1 - math.Pow(c.beta1, float64(o.numSteps))
	debias2 := 1 - math.Pow(c.beta2, float64(o.numSteps))

	for _, p := range params {
		moments, found := o.moments[p]
		if !found {
			moments = &adamMoments{}
			o.moments[p] = moments
		}
		grad := p.Grad
		moments.m1 = c.beta1*moments.m1 + (1-c.beta1)*grad
		var update float64
		switch {
		case c.adamax:
			moments.m2 = max(c.beta2*moments.m2, math.Abs(grad))
			update = (moments.m1 / debias1) / (moments.m2 + c.epsilon)
		case c.rmsProp:
			moments.m2 = c.beta2*moments.m2 + (1-c.beta2)*grad*grad
			update = grad / (math.Sqrt(moments.m2/debias2) + c.epsilon)
		default:
			moments.m2 = c.beta2*moments.m2 + (1-c.beta2)*grad*grad
			update = (moments.m1 / debias1) / (math.Sqrt(moments.m2/debias2) + c.epsilon)
		}
		if c.weightDecay > 0 {
			update += c.weightDecay * p.Data
		}
		applyStep(ctx, p, learningRate*update)
	}
}

// Clear resets the moments and the step counter.
func (o *adam) Clear() {
	o.moments = nil
	o.numSteps = 0
}
