package train

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/nn"
	"github.com/gomlx/scalargrad/pkg/ml/train/losses"
	"github.com/gomlx/scalargrad/pkg/ml/train/metrics"
	"github.com/gomlx/scalargrad/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceDataset yields batches of the given examples, in order.
type sliceDataset struct {
	name           string
	inputs, labels [][]float64
	batchSize      int
	infinite       bool
	next           int
}

func (ds *sliceDataset) Name() string { return ds.name }
func (ds *sliceDataset) Reset()       { ds.next = 0 }
func (ds *sliceDataset) Yield() (inputs, labels [][]float64, err error) {
	if ds.next >= len(ds.inputs) {
		if !ds.infinite {
			return nil, nil, io.EOF
		}
		ds.next = 0
	}
	end := min(ds.next+ds.batchSize, len(ds.inputs))
	inputs, labels = ds.inputs[ds.next:end], ds.labels[ds.next:end]
	ds.next = end
	return
}

// lineDataset returns examples of y = 2x + 1, for x in [-1, 1].
func lineDataset(batchSize int, infinite bool) *sliceDataset {
	ds := &sliceDataset{name: "line", batchSize: batchSize, infinite: infinite}
	for _, x := range []float64{-1, -0.5, 0, 0.5, 1} {
		ds.inputs = append(ds.inputs, []float64{x})
		ds.labels = append(ds.labels, []float64{2*x + 1})
	}
	return ds
}

// constantModel predicts the same parameter for any input.
type constantModel struct {
	p *value.Value
}

func (m *constantModel) Parameters() []*value.Value { return []*value.Value{m.p} }
func (m *constantModel) Call(_ []float64) []*value.Value {
	return []*value.Value{m.p}
}

func newLinearTrainer(t *testing.T) *Trainer {
	ctx := context.New()
	ctx.SetParam(context.ParamSeed, int64(3))
	ctx.SetParam(losses.ParamLoss, "mse")
	ctx.SetParam(optimizers.ParamLearningRate, 0.1)
	model := nn.NewMLP(ctx, 1, []int{1})
	trainer := NewTrainer(ctx, model, nil, nil, nil, []metrics.Interface{
		metrics.NewMeanAbsoluteError("Mean Absolute Error", "mae"),
	})
	require.Len(t, trainer.TrainMetrics(), 2)
	require.Len(t, trainer.EvalMetrics(), 2)
	return trainer
}

func TestTrainerAccumulateGradients(t *testing.T) {
	model := &constantModel{p: value.NewLabeled("prediction", 0)}
	learningRate := 0.1
	optimizer := optimizers.StochasticGradientDescent().
		WithDecay(false).WithLearningRate(learningRate).Done()
	trainer := NewTrainer(context.New(), model, losses.MeanAbsoluteError, optimizer, nil, nil)
	require.Error(t, trainer.AccumulateGradients(0))
	require.NoError(t, trainer.AccumulateGradients(3))
	numTrainerMetrics := len(trainer.TrainMetrics())

	inputs := [][]float64{{0}}
	labels := [][]float64{{10}}
	numSteps := 3
	for ii := range numSteps {
		metrics, err := trainer.TrainStep(inputs, labels)
		require.NoError(t, err)
		require.Len(t, metrics, numTrainerMetrics)

		// Since the gradient hasn't been applied yet, the loss should be 10.0.
		require.Equal(t, 10.0, metrics[0])
		if ii < numSteps-1 {
			// Gradients have not yet been applied:
			// - prediction is still 0.
			require.Equal(t, 0.0, model.p.Data)
			// - gradient is always -1, and it has accumulated ii+1 times.
			require.Equal(t, float64(-(ii + 1)), model.p.Grad)
			require.Equal(t, int64(0), trainer.GlobalStep())
			require.Error(t, trainer.AccumulateGradients(2))
		} else {
			// The mean gradient was -1, and we took one -learningRate in that direction.
			require.Equal(t, learningRate, model.p.Data)
			require.Equal(t, int64(1), trainer.GlobalStep())
		}
	}
}

func TestTrainStepErrors(t *testing.T) {
	trainer := newLinearTrainer(t)
	_, err := trainer.TrainStep(nil, nil)
	require.Error(t, err)
	_, err = trainer.TrainStep([][]float64{{1}}, [][]float64{{1}, {2}})
	require.Error(t, err)
	// Wrong number of labels is reported by the loss.
	_, err = trainer.TrainStep([][]float64{{1}}, [][]float64{{1, 2}})
	require.Error(t, err)
	assert.Equal(t, int64(0), trainer.GlobalStep())
}

func TestLoopRunSteps(t *testing.T) {
	trainer := newLinearTrainer(t)
	loop := NewLoop(trainer)

	var order []string
	var startCalled, endCalled int
	loop.OnStart("start", 0, func(loop *Loop, ds Dataset) error {
		startCalled++
		assert.Equal(t, "line", ds.Name())
		assert.Equal(t, 500, loop.EndStep)
		return nil
	})
	loop.OnStep("second", 1, func(loop *Loop, _ []float64) error {
		if loop.LoopStep == 0 {
			order = append(order, "second")
		}
		return nil
	})
	loop.OnStep("first", -1, func(loop *Loop, _ []float64) error {
		if loop.LoopStep == 0 {
			order = append(order, "first")
		}
		return nil
	})
	loop.OnEnd("end", 0, func(loop *Loop, metrics []float64) error {
		endCalled++
		assert.Len(t, metrics, 2)
		return nil
	})
	var nTimesSteps []int
	NTimesDuringLoop(loop, 10, "n-times", 0, func(loop *Loop, _ []float64) error {
		nTimesSteps = append(nTimesSteps, loop.LoopStep)
		return nil
	})
	everyN := 0
	EveryNSteps(loop, 100, "every-n", 0, func(*Loop, []float64) error {
		everyN++
		return nil
	})

	ds := lineDataset(5, true)
	metricsValues, err := loop.RunSteps(ds, 500)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 1, startCalled)
	assert.Equal(t, 1, endCalled)
	assert.Equal(t, 500, loop.LoopStep)
	assert.Equal(t, int64(500), trainer.GlobalStep())
	assert.Len(t, loop.TrainStepDurations, 500)
	assert.Equal(t, 5, everyN)
	require.NotEmpty(t, nTimesSteps)
	assert.GreaterOrEqual(t, len(nTimesSteps), 10)
	assert.LessOrEqual(t, len(nTimesSteps), 11)
	assert.Equal(t, 499, nTimesSteps[len(nTimesSteps)-1])
	assert.Less(t, metricsValues[0], 1e-4)

	// The model learned y = 2x + 1.
	prediction, err := trainer.Predict([]float64{3})
	require.NoError(t, err)
	assert.InDelta(t, 7.0, prediction[0], 1e-2)

	// Evaluation: mean loss and mean absolute error.
	evalDS := lineDataset(2, false)
	evalValues, err := trainer.Eval(evalDS)
	require.NoError(t, err)
	require.Len(t, evalValues, 2)
	assert.Less(t, evalValues[0], 1e-4)
	assert.Less(t, evalValues[1], 1e-2)
	// Eval resets the dataset at the end.
	_, _, err = evalDS.Yield()
	require.NoError(t, err)

	// A second run picks up where the first one stopped.
	_, err = loop.RunSteps(ds, 10)
	require.NoError(t, err)
	assert.Equal(t, 500, loop.StartStep)
	assert.Equal(t, 510, loop.LoopStep)
}

func TestLoopRunStepsDatasetEnd(t *testing.T) {
	loop := NewLoop(newLinearTrainer(t))
	_, err := loop.RunSteps(lineDataset(2, false), 10)
	require.ErrorContains(t, err, "reached Dataset end after 3 steps")
	assert.Equal(t, time.Millisecond, NewLoop(newLinearTrainer(t)).MedianTrainStepDuration())
}

func TestLoopRunEpochs(t *testing.T) {
	trainer := newLinearTrainer(t)
	loop := NewLoop(trainer)
	var endSteps []int
	loop.OnStep("end steps", 0, func(loop *Loop, _ []float64) error {
		endSteps = append(endSteps, loop.EndStep)
		return nil
	})
	exponentialCalls := 0
	ExponentialCallback(loop, 2, 2.0, true, "exponential", 0, func(*Loop, []float64) error {
		exponentialCalls++
		return nil
	})
	ds := lineDataset(2, false)
	_, err := loop.RunEpochs(ds, 3)
	require.NoError(t, err)
	// 3 batches per epoch.
	assert.Equal(t, 9, loop.LoopStep)
	assert.Equal(t, 9, loop.EndStep)
	assert.Equal(t, 3, loop.Epoch)
	assert.Equal(t, -1, endSteps[0])
	assert.Equal(t, 9, endSteps[len(endSteps)-1])
	// Called at steps 2 and 6, and at the end.
	assert.Equal(t, 3, exponentialCalls)

	assert.Panics(t, func() { ExponentialCallback(loop, 0, 2.0, false, "invalid", 0, nil) })
	assert.Panics(t, func() { EveryNSteps(loop, 0, "invalid", 0, nil) })
	assert.Panics(t, func() { NTimesDuringLoop(loop, 0, "invalid", 0, nil) })
}

func TestLoopInterruptions(t *testing.T) {
	// NaN loss interrupts training.
	model := &constantModel{p: value.New(math.NaN())}
	trainer := NewTrainer(nil, model, losses.SumSquaredError, nil, nil, nil)
	_, err := NewLoop(trainer).RunSteps(lineDataset(1, true), 10)
	require.ErrorContains(t, err, "NaN")

	// Errors from hooks are reported with the hook name.
	loop := NewLoop(newLinearTrainer(t))
	loop.OnStart("failing start", 0, func(*Loop, Dataset) error { return errors.New("boom") })
	_, err = loop.RunSteps(lineDataset(5, true), 10)
	require.ErrorContains(t, err, "failing start")

	loop = NewLoop(newLinearTrainer(t))
	PeriodicCallback(loop, 0, true, "failing periodic", 0, func(loop *Loop, _ []float64) error {
		return errors.Errorf("failed at step %d", loop.LoopStep)
	})
	_, err = loop.RunSteps(lineDataset(5, true), 10)
	require.ErrorContains(t, err, "failed at step 1")
}

func TestDatasetShortName(t *testing.T) {
	assert.Equal(t, "lin", DatasetShortName(lineDataset(1, false)))
	assert.Equal(t, "ab", DatasetShortName(&sliceDataset{name: "ab"}))
}
