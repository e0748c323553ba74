package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/scalargrad/examples/moons"
	"github.com/gomlx/scalargrad/pkg/ml/context/checkpoints"
	"github.com/gomlx/scalargrad/pkg/ml/datasets"
	"github.com/gomlx/scalargrad/pkg/ml/nn"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/gomlx/scalargrad/ui/commandline"
	"github.com/gomlx/scalargrad/ui/plots/margaid"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)

func runTrain(w io.Writer, args []string) error {
	ctx := moons.CreateDefaultContext()
	fs := newFlagSet("train")
	settings := commandline.CreateContextSettingsFlagSet(fs, ctx, "set")
	numSteps := fs.Int("steps", 0, fmt.Sprintf("Number of training steps. If > 0, it overrides the %q hyperparameter.",
		moons.ParamTrainSteps))
	plotPath := fs.String("plot", "", "If set, saves the plot of the training metrics as SVG to the given file.")
	pointsPath := fs.String("points", "", "If set, appends the plot points of the training metrics, as JSON lines, to the given file.")
	numPlotPoints := fs.Int("plot_points", 20, "Number of times during training to collect the metrics for -plot and -points.")
	dataPath := fs.String("data", "", "If set, trains on the CSV file (with a header) instead of the toy dataset.")
	labelColumns := fs.String("labels", "y", "Comma-separated names of the label columns in the -data CSV file.")
	batchSize := fs.Int("batch", 32, "Batch size used with -data.")
	normalize := fs.Bool("normalize", true, "Normalize the inputs of the -data CSV file to mean 0 and stddev 1.")
	progressBar := fs.Bool("progress", true, "Display a progress bar during training.")
	checkpointDir := fs.String("checkpoint", "", "If set, loads the model from the latest checkpoint in the given "+
		"directory, if there is one, and saves checkpoints during training. Training continues up to the number of steps.")
	checkpointKeep := fs.Int("checkpoint_keep", 3, "Number of checkpoints to keep, if -checkpoint is set. Use -1 to keep all.")
	checkpointPeriod := fs.Duration("checkpoint_period", time.Minute, "Period of time between checkpoints, if -checkpoint is set. "+
		"A checkpoint is also saved at the end of training.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paramsSet, err := commandline.ParseContextSettings(ctx, *settings)
	if err != nil {
		return err
	}
	if *numSteps > 0 {
		ctx.SetParam(moons.ParamTrainSteps, *numSteps)
		paramsSet = append(paramsSet, moons.ParamTrainSteps)
	}
	var checkpoint *checkpoints.Handler
	if *checkpointDir != "" {
		// Hyperparameters set in the command line take priority over the ones saved.
		checkpoint, err = checkpoints.Build(ctx).Dir(*checkpointDir).Keep(*checkpointKeep).
			ExcludeParams(paramsSet...).Done()
		if err != nil {
			return err
		}
	}
	if len(paramsSet) > 0 {
		_, _ = fmt.Fprintf(w, "Hyperparameters set:\n%s\n", commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}

	// Dataset: toy dataset or CSV.
	var ds *datasets.InMemoryDataset
	var evalDS train.Dataset
	numOutputs := 1
	if *dataPath == "" {
		ds = must.M1(moons.Dataset())
	} else {
		ds, err = datasets.LoadCSV(*dataPath, strings.Split(*labelColumns, ",")...)
		if err != nil {
			return err
		}
		ds.BatchSize(min(*batchSize, ds.NumExamples()), false).Shuffle()
		numOutputs = ds.NumLabels()
	}
	evalDS = ds.Copy()
	var trainDS train.Dataset = ds.Infinite(true)
	if *dataPath != "" && *normalize {
		mean, stddev, err := datasets.Normalization(evalDS)
		if err != nil {
			return err
		}
		datasets.ReplaceZerosByOnes(stddev)
		klog.V(1).Infof("normalization: mean=%v, stddev=%v", mean, stddev)
		trainDS = datasets.Normalize(trainDS, mean, stddev)
		evalDS = datasets.Normalize(evalDS, mean, stddev)
	}

	var svgPlots *margaid.Plots
	setup := func(loop *train.Loop) error {
		if checkpoint != nil {
			if err := checkpoint.AttachTo(loop.Trainer); err != nil {
				return err
			}
			train.PeriodicCallback(loop, *checkpointPeriod, true, "saving checkpoint", 100, checkpoint.OnStepFn)
		}
		_, _ = fmt.Fprintln(w, titleStyle.Render("Model"))
		_, _ = fmt.Fprintln(w, summaryTable(loop, trainDS))
		if *progressBar {
			commandline.AttachProgressBar(loop)
		}
		if *plotPath != "" || *pointsPath != "" {
			svgPlots = margaid.New(1024, 400, evalDS)
			if *pointsPath != "" {
				var err error
				if svgPlots, err = svgPlots.WithFile(*pointsPath); err != nil {
					return err
				}
			}
			if *plotPath != "" {
				svgPlots.WithSVGFile(*plotPath)
			}
			svgPlots.Attach(loop, *numPlotPoints)
		}
		return nil
	}
	trainer, err := moons.TrainOn(ctx, trainDS, ds.NumFeatures(), numOutputs, setup)
	if err != nil {
		return err
	}
	if checkpoint != nil {
		_, _ = fmt.Fprintf(w, "Checkpoint at global step %s saved in %q\n",
			humanize.Comma(trainer.GlobalStep()), checkpoint.Dir())
	}
	if svgPlots != nil && *plotPath != "" {
		_, _ = fmt.Fprintf(w, "Plot saved to %q\n", *plotPath)
	}

	if err := commandline.FprintEval(w, trainer, evalDS); err != nil {
		return err
	}
	if *dataPath == "" {
		predictions, err := moons.Predictions(trainer)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(w, titleStyle.Render("Predictions"))
		_, _ = fmt.Fprintln(w, predictionsTable(predictions))
	}
	return nil
}

// summaryTable returns a table with the model size and the training configuration.
func summaryTable(loop *train.Loop, ds train.Dataset) string {
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99")))
	trainer := loop.Trainer
	table.Row("dataset", ds.Name())
	table.Row("# parameters", humanize.Comma(int64(nn.NumParameters(trainer.Model()))))
	table.Row("initial global step", humanize.Comma(trainer.GlobalStep()))
	if mlp, ok := trainer.Model().(*nn.MLP); ok {
		table.Row("model", mlp.String())
	}
	return table.String()
}

// predictionsTable lists the toy dataset inputs, targets and predictions.
func predictionsTable(predictions []float64) string {
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		Headers("Inputs", "Target", "Prediction")
	for ii, input := range moons.Inputs {
		table.Row(fmt.Sprintf("%v", input), fmt.Sprintf("%g", moons.Targets[ii]), fmt.Sprintf("%.4f", predictions[ii]))
	}
	return table.String()
}
