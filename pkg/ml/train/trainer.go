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

// Package train holds tools to help run a training loop: the Trainer, which executes one training step
// (forward, loss, backward, optimizer update) and evaluations, and the Loop, that runs the Trainer
// over a Dataset, calling hooks along the way.
package train

import (
	"io"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/nn"
	"github.com/gomlx/scalargrad/pkg/ml/train/losses"
	"github.com/gomlx/scalargrad/pkg/ml/train/metrics"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Model trained by the Trainer: it maps the inputs of one example to its predictions, and
// it exposes its trainable parameters.
type Model interface {
	nn.Module

	// Call the model on the inputs of one example, building the expression graph of the predictions.
	Call(inputs []float64) []*value.Value
}

// Trainer is a helper object to orchestrate a training step and evaluation.
//
// Given the inputs and labels of a batch, TrainStep builds the expression graph of the model
// predictions and loss, runs the backward pass and asks the optimizer to update the parameters.
//
// It also keeps track of metrics for training and evaluation.
type Trainer struct {
	ctx       *context.Context
	model     Model
	lossFn    losses.LossFn
	optimizer optimizers.Interface

	// trainMetrics and evalMetrics include the loss metrics prepended by NewTrainer.
	trainMetrics, evalMetrics []metrics.Interface

	// globalStep is the number of optimizer updates applied so far.
	globalStep int64

	numAccumulatingSteps, accumulatedSteps int
}

// NewTrainer constructs a trainer that can be used for training steps and evaluation.
//
// Args:
//   - ctx: holds the hyperparameters used by the loss, optimizer and by the model. It can be nil,
//     in which case an empty context is created.
//   - model: the model being trained.
//   - lossFn: the loss function, that should return a scalar to be minimized. If nil, it is selected
//     from the context with losses.FromContext.
//   - optimizer: the optimizer to use. If nil, it is selected from the context with optimizers.FromContext.
//   - trainMetrics: additional metrics to track during training. The batch loss and its moving average are
//     always included first.
//   - evalMetrics: additional metrics to track during evaluation. The mean loss is always included first.
func NewTrainer(ctx *context.Context, model Model, lossFn losses.LossFn, optimizer optimizers.Interface,
	trainMetrics, evalMetrics []metrics.Interface) *Trainer {
	if ctx == nil {
		ctx = context.New()
	}
	if model == nil {
		Panicf("train.NewTrainer() requires a model")
	}
	if lossFn == nil {
		lossFn = losses.FromContext(ctx)
	}
	if optimizer == nil {
		optimizer = optimizers.FromContext(ctx)
	}
	r := &Trainer{
		ctx:                  ctx,
		model:                model,
		lossFn:               lossFn,
		optimizer:            optimizer,
		numAccumulatingSteps: 1,
	}
	r.trainMetrics = append([]metrics.Interface{
		metrics.NewBaseMetric("Batch Loss", "batch", metrics.LossMetricType, metrics.LossFn, nil),
		metrics.NewMovingAverageLoss("Moving Average Loss", "~loss", 0.01),
	}, trainMetrics...)
	r.evalMetrics = append([]metrics.Interface{
		metrics.NewMeanLoss("Mean Loss", "#loss"),
	}, evalMetrics...)
	return r
}

// Context returns the context used by the Trainer.
func (r *Trainer) Context() *context.Context {
	return r.ctx
}

// Model returns the model being trained.
func (r *Trainer) Model() Model {
	return r.model
}

// Optimizer returns the optimizer used by the Trainer.
func (r *Trainer) Optimizer() optimizers.Interface {
	return r.optimizer
}

// GlobalStep returns the number of optimizer updates applied so far.
func (r *Trainer) GlobalStep() int64 {
	return r.globalStep
}

// SetGlobalStep sets the number of optimizer updates applied so far, e.g. when resuming training
// from a checkpoint.
func (r *Trainer) SetGlobalStep(globalStep int64) {
	r.globalStep = globalStep
}

// TrainMetrics returns the train metrics objects. The first is always the batch loss, and the second its
// moving average.
func (r *Trainer) TrainMetrics() []metrics.Interface {
	return r.trainMetrics
}

// EvalMetrics returns the eval metrics objects. The first is always the mean loss.
func (r *Trainer) EvalMetrics() []metrics.Interface {
	return r.evalMetrics
}

// ResetTrainMetrics call Metrics.Reset on all train metrics. Usually called before a training session.
func (r *Trainer) ResetTrainMetrics() {
	for _, m := range r.trainMetrics {
		m.Reset()
	}
}

// ResetEvalMetrics call Metrics.Reset on all eval metrics. Usually called before an evaluation.
func (r *Trainer) ResetEvalMetrics() {
	for _, m := range r.evalMetrics {
		m.Reset()
	}
}

// AccumulateGradients configures the trainer to accumulate the gradients of `n` consecutive train steps
// before applying them (their mean) with the optimizer. The default is 1, an update at every step.
//
// The global step is only incremented when the gradients are applied.
func (r *Trainer) AccumulateGradients(n int) error {
	if n < 1 {
		return errors.Errorf("Trainer.AccumulateGradients(%d): number of steps must be >= 1", n)
	}
	if r.accumulatedSteps > 0 {
		return errors.Errorf("Trainer.AccumulateGradients(%d): %d steps already accumulated, cannot change now",
			n, r.accumulatedSteps)
	}
	r.numAccumulatingSteps = n
	return nil
}

// NumAccumulatingSteps returns the number of steps whose gradients are accumulated before being
// applied. See AccumulateGradients.
func (r *Trainer) NumAccumulatingSteps() int {
	return r.numAccumulatingSteps
}

// checkBatch panics if the batch is empty or if its inputs and labels have different lengths.
func checkBatch(inputs, labels [][]float64) {
	if len(inputs) == 0 {
		Panicf("empty batch given to the trainer")
	}
	if len(inputs) != len(labels) {
		Panicf("batch has %d inputs but %d labels -- they must match", len(inputs), len(labels))
	}
}

// forward calls the model on each example of the batch.
func (r *Trainer) forward(inputs [][]float64) [][]*value.Value {
	predictions := make([][]*value.Value, len(inputs))
	for ii, example := range inputs {
		predictions[ii] = r.model.Call(example)
	}
	return predictions
}

// TrainStep runs one step of training on the given batch: it zeroes the gradients (unless they are
// being accumulated), calls the model, the loss, runs the backward pass from the loss and then
// updates the parameters with the optimizer.
//
// It returns the value of each of the TrainMetrics, the first one being the batch loss.
//
// Errors (panics) raised by the model, loss or optimizer are returned as errors.
func (r *Trainer) TrainStep(inputs, labels [][]float64) (metricsValues []float64, err error) {
	err = TryCatch[error](func() { metricsValues = r.trainStep(inputs, labels) })
	if err != nil {
		err = errors.WithMessagef(err, "Trainer.TrainStep(GlobalStep=%d)", r.globalStep)
	}
	return
}

func (r *Trainer) trainStep(inputs, labels [][]float64) []float64 {
	checkBatch(inputs, labels)
	params := r.model.Parameters()
	if r.accumulatedSteps == 0 {
		value.ZeroGrads(params)
	}
	predictions := r.forward(inputs)
	loss := r.lossFn(labels, predictions)
	loss.Backward()
	r.accumulatedSteps++
	if r.accumulatedSteps >= r.numAccumulatingSteps {
		if r.numAccumulatingSteps > 1 {
			// Apply the mean of the accumulated gradients.
			for _, p := range params {
				p.Grad /= float64(r.numAccumulatingSteps)
			}
		}
		r.globalStep++
		r.optimizer.UpdateParameters(r.ctx, params, r.globalStep)
		r.accumulatedSteps = 0
	}
	if klog.V(2).Enabled() {
		klog.Infof("TrainStep: global step %d, batch size %d, loss %g", r.globalStep, len(inputs), loss.Data)
	}
	return r.updateMetrics(r.trainMetrics, labels, predictions, loss.Data)
}

func (r *Trainer) updateMetrics(ms []metrics.Interface, labels [][]float64, predictions [][]*value.Value,
	loss float64) []float64 {
	values := make([]float64, len(ms))
	for ii, m := range ms {
		values[ii] = m.Update(labels, predictions, loss)
	}
	return values
}

// EvalStep runs the model and loss on one batch and updates the eval metrics. Parameters are not changed.
//
// It returns the current value of each of the EvalMetrics.
func (r *Trainer) EvalStep(inputs, labels [][]float64) (metricsValues []float64, err error) {
	err = TryCatch[error](func() {
		checkBatch(inputs, labels)
		predictions := r.forward(inputs)
		loss := r.lossFn(labels, predictions)
		metricsValues = r.updateMetrics(r.evalMetrics, labels, predictions, loss.Data)
	})
	if err != nil {
		err = errors.WithMessagef(err, "Trainer.EvalStep()")
	}
	return
}

// Eval returns the computation of loss and metrics over the given dataset. The dataset has to be finite
// (yield io.EOF at the end). The eval metrics are reset at the start, and the dataset is reset at the end.
//
// It returns the final value of each of the EvalMetrics, the first one being the mean loss.
func (r *Trainer) Eval(ds Dataset) (metricsValues []float64, err error) {
	r.ResetEvalMetrics()
	defer ds.Reset()
	count := 0
	for {
		inputs, labels, yieldErr := ds.Yield()
		if yieldErr == io.EOF {
			break
		}
		if yieldErr != nil {
			return nil, errors.WithMessagef(yieldErr, "Trainer.Eval: failed reading dataset %q", ds.Name())
		}
		metricsValues, err = r.EvalStep(inputs, labels)
		if err != nil {
			return nil, errors.WithMessagef(err, "Trainer.Eval on dataset %q, batch #%d", ds.Name(), count)
		}
		count++
	}
	if count == 0 {
		return nil, errors.Errorf("Trainer.Eval: dataset %q yielded no batches", ds.Name())
	}
	return metricsValues, nil
}

// Predict returns the model's predictions for the inputs of one example.
func (r *Trainer) Predict(inputs []float64) (predictions []float64, err error) {
	err = TryCatch[error](func() {
		outputs := r.model.Call(inputs)
		predictions = make([]float64, len(outputs))
		for ii, output := range outputs {
			predictions[ii] = output.Data
		}
	})
	return
}
