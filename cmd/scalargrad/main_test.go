package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gomlx/scalargrad/examples/reference"
	"github.com/gomlx/scalargrad/ui/plots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseLines parses one float per output line.
func parseLines(t *testing.T, output string) []float64 {
	var values []float64
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		v, err := strconv.ParseFloat(line, 64)
		require.NoError(t, err)
		values = append(values, v)
	}
	return values
}

func TestRunReference(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runReference(&buf, nil))
	values := parseLines(t, buf.String())
	require.Len(t, values, 2)
	assert.InDelta(t, reference.ExpectedOutput, values[0], 1e-9)
	assert.InDelta(t, reference.ExpectedGradient, values[1], 1e-9)

	// Another input: no check.
	buf.Reset()
	require.NoError(t, runReference(&buf, []string{"-x=2"}))
	output, gradient := reference.Run(2)
	assert.Equal(t, []float64{output, gradient}, parseLines(t, buf.String()))

	// DOT output.
	dotPath := filepath.Join(t.TempDir(), "graph.dot")
	buf.Reset()
	require.NoError(t, runReference(&buf, []string{"-dot", dotPath}))
	contents, err := os.ReadFile(dotPath)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "digraph")

	require.Error(t, runReference(&buf, []string{"extra"}))
}

func TestFindCommand(t *testing.T) {
	cmd, rest, err := findCommand(nil)
	require.NoError(t, err)
	assert.Equal(t, "reference", cmd.name)
	assert.Empty(t, rest)

	cmd, rest, err = findCommand([]string{"-x=1"})
	require.NoError(t, err)
	assert.Equal(t, "reference", cmd.name)
	assert.Equal(t, []string{"-x=1"}, rest)

	cmd, rest, err = findCommand([]string{"train", "-steps=10"})
	require.NoError(t, err)
	assert.Equal(t, "train", cmd.name)
	assert.Equal(t, []string{"-steps=10"}, rest)

	_, _, err = findCommand([]string{"bogus"})
	require.ErrorContains(t, err, "bogus")
}

func TestRunVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runVersion(&buf, nil))
	assert.True(t, strings.HasPrefix(buf.String(), "scalargrad "+Version))
}

func TestRunMetrics(t *testing.T) {
	pointsPath := filepath.Join(t.TempDir(), "points.jsonl")
	writer, errReport := plots.CreatePointsWriter(pointsPath)
	for step := range 3 {
		writer <- plots.Point{MetricName: "Mean Loss on toy", Short: "#loss(toy)", MetricType: "loss",
			Step: float64(1000 * step), Value: 1.0 / float64(step+1), RunID: "run-a"}
		writer <- plots.Point{MetricName: "Sign Accuracy on toy", Short: "acc(toy)", MetricType: "accuracy",
			Step: float64(1000 * step), Value: 0.5, RunID: "run-a"}
	}
	close(writer)
	require.NoError(t, <-errReport)

	var buf bytes.Buffer
	require.NoError(t, runMetrics(&buf, []string{"-labels", pointsPath}))
	output := buf.String()
	assert.Contains(t, output, "#loss(toy)")
	assert.Contains(t, output, "Sign Accuracy on toy")
	assert.Contains(t, output, "50.00%")
	assert.Contains(t, output, "2,000")

	buf.Reset()
	require.NoError(t, runMetrics(&buf, []string{"-types=loss", pointsPath}))
	assert.NotContains(t, buf.String(), "50.00%")

	require.Error(t, runMetrics(&buf, []string{"-names=nothing", pointsPath}))
	require.Error(t, runMetrics(&buf, nil))
	require.Error(t, runMetrics(&buf, []string{filepath.Join(t.TempDir(), "missing.jsonl")}))
}

func TestRunTrain(t *testing.T) {
	dir := t.TempDir()
	plotPath := filepath.Join(dir, "plot.svg")
	pointsPath := filepath.Join(dir, "points.jsonl")
	var buf bytes.Buffer
	require.NoError(t, runTrain(&buf, []string{
		"-steps=50", "-progress=false", "-plot", plotPath, "-points", pointsPath, "-plot_points=5",
		"-set=learning_rate=0.01"}))
	output := buf.String()
	assert.Contains(t, output, "learning_rate")
	assert.Contains(t, output, "# parameters")
	assert.Contains(t, output, "Predictions")

	svg, err := os.ReadFile(plotPath)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
	points, err := plots.LoadPoints(pointsPath)
	require.NoError(t, err)
	require.NotEmpty(t, points)
	assert.NotEmpty(t, points[0].RunID)

	// Training on a CSV file.
	csvPath := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a,b,y\n0,1,1\n1,0,-1\n1,1,0\n0,0,0\n"), 0644))
	buf.Reset()
	require.NoError(t, runTrain(&buf, []string{"-steps=20", "-progress=false", "-data", csvPath, "-batch=2"}))
	assert.Contains(t, buf.String(), "data")
	assert.NotContains(t, buf.String(), "Predictions")

	require.Error(t, runTrain(&buf, []string{"-steps=10", "-progress=false", "-set=unknown_param=1"}))
}

func TestRunTrainCheckpoint(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ckpt")
	var buf bytes.Buffer
	require.NoError(t, runTrain(&buf, []string{"-steps=30", "-progress=false", "-checkpoint", dir}))
	assert.Contains(t, buf.String(), "Checkpoint at global step 30")

	// Continue training from the checkpoint, with the hidden dimensions saved in it.
	buf.Reset()
	require.NoError(t, runTrain(&buf, []string{"-steps=40", "-progress=false", "-checkpoint", dir,
		"-checkpoint_keep=1"}))
	assert.Contains(t, buf.String(), "Checkpoint at global step 40")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "step-00000040")

	// Changing the model shape is not compatible with the checkpoint.
	require.Error(t, runTrain(&buf, []string{"-steps=50", "-progress=false", "-checkpoint", dir,
		"-set=hidden_dims=5"}))
}
