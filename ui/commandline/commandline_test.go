// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/datasets"
	"github.com/gomlx/scalargrad/pkg/ml/layers/activations"
	"github.com/gomlx/scalargrad/pkg/ml/nn"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/gomlx/scalargrad/pkg/ml/train/losses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestContext() *context.Context {
	ctx := context.New()
	ctx.SetParam("x", 11.0)
	ctx.SetParam("y", 7)
	ctx.SetParam("z", false)
	ctx.SetParam("s", "foo")
	ctx.SetParam("list_int", []int{})
	ctx.SetParam("list_float", []float64{})
	ctx.SetParam("list_str", []string{})
	ctx.SetParam(activations.ParamActivation, activations.TypeRelu)
	return ctx
}

func TestParseContextSettings(t *testing.T) {
	ctx := createTestContext()

	paramsSet, err := ParseContextSettings(ctx, "x=13;/a/z=true;/a/b/y=3;s=bar;list_int=1,3,7;list_float=0.1,1.2,3e3;list_str=a,b;")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "/a/z", "/a/b/y", "s", "list_int", "list_float", "list_str"}, paramsSet)
	x, found := ctx.GetParam("x")
	assert.True(t, found)
	assert.Equal(t, 13.0, x.(float64))

	y, found := ctx.GetParam("y")
	assert.True(t, found)
	assert.Equal(t, 7, y)
	y, _ = ctx.In("a").GetParam("y")
	assert.Equal(t, 7, y)
	y, _ = ctx.In("a").In("b").GetParam("y")
	assert.Equal(t, 3, y)

	z, found := ctx.GetParam("z")
	assert.True(t, found)
	assert.False(t, z.(bool))
	z, _ = ctx.In("a").GetParam("z")
	assert.True(t, z.(bool))

	s, found := ctx.GetParam("s")
	assert.True(t, found)
	assert.Equal(t, "bar", s.(string))

	assert.Equal(t, []int{1, 3, 7}, context.GetParamOr(ctx, "list_int", []int{}))
	assert.Equal(t, []float64{0.1, 1.2, 3e3}, context.GetParamOr(ctx, "list_float", []float64{}))
	assert.Equal(t, []string{"a", "b"}, context.GetParamOr(ctx, "list_str", []string{}))

	// Types that implement encoding.TextUnmarshaler.
	_, err = ParseContextSettings(ctx, "activation=tanh")
	require.NoError(t, err)
	assert.Equal(t, activations.TypeTanh, context.GetParamOr(ctx, activations.ParamActivation, activations.TypeNone))
	_, err = ParseContextSettings(ctx, "activation=unknown")
	require.Error(t, err)

	// Parameter "q" is unknown.
	_, err = ParseContextSettings(ctx, "q=3")
	require.Error(t, err)

	// Parameter "q" is still unknown in root.
	ctx.In("c").SetParam("q", 13)
	_, err = ParseContextSettings(ctx, "q=3")
	require.Error(t, err)

	// Cannot set the wrong type of value.
	_, err = ParseContextSettings(ctx, "y=3.14")
	require.Error(t, err)
	_, err = ParseContextSettings(ctx, "list_int=1,x")
	require.Error(t, err)

	// Cannot parse setting with scope not absolute.
	_, err = ParseContextSettings(ctx, "a/abc=3.14")
	require.Error(t, err)

	// Missing "=".
	_, err = ParseContextSettings(ctx, "x")
	require.Error(t, err)
}

func TestParseContextSettingsFromFile(t *testing.T) {
	ctx := createTestContext()
	settingsPath := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(settingsPath, []byte("# Comment\nx=17\n\n/a/s=baz;y=1_000\n"), 0o644))
	paramsSet, err := ParseContextSettings(ctx, "file:"+settingsPath+";z=true")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "/a/s", "y", "z"}, paramsSet)
	assert.Equal(t, 17.0, context.GetParamOr(ctx, "x", 0.0))
	assert.Equal(t, 1000, context.GetParamOr(ctx, "y", 0))
	assert.Equal(t, "foo", context.GetParamOr(ctx, "s", ""))
	assert.Equal(t, "baz", context.GetParamOr(ctx.In("a"), "s", ""))

	modified := SprintModifiedContextSettings(ctx, append(paramsSet, "x"))
	assert.Contains(t, modified, `"/a/s": (string) baz`)
	assert.Contains(t, modified, `"x": (float64) 17`)
	assert.Contains(t, SprintContextSettings(ctx), `"/list_str"`)

	_, err = ParseContextSettings(ctx, "file:"+filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestCreateContextSettingsFlagSet(t *testing.T) {
	ctx := createTestContext()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	settings := CreateContextSettingsFlagSet(fs, ctx, "")
	require.NoError(t, fs.Parse([]string{"-set=x=3;/a/y=5"}))
	assert.Equal(t, "x=3;/a/y=5", *settings)
	assert.Contains(t, fs.Lookup("set").Usage, `"x": default value is 11`)
	paramsSet, err := ParseContextSettings(ctx, *settings)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "/a/y"}, paramsSet)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50ms", FormatDuration(1500*time.Microsecond))
	assert.Equal(t, "2.00s", FormatDuration(2*time.Second))
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}

// newLineTrainer returns a trainer of a linear model, and a dataset with y = 3x.
func newLineTrainer(t *testing.T) (*train.Trainer, *datasets.InMemoryDataset) {
	ctx := context.New()
	ctx.SetParam(losses.ParamLoss, "mse")
	model := nn.NewMLP(ctx, 1, []int{1})
	trainer := train.NewTrainer(ctx, model, nil, nil, nil, nil)
	ds, err := datasets.InMemory("line", [][]float64{{0}, {1}, {2}}, [][]float64{{0}, {3}, {6}})
	require.NoError(t, err)
	return trainer, ds
}

func TestFprintEval(t *testing.T) {
	trainer, ds := newLineTrainer(t)
	buf := &bytes.Buffer{}
	require.NoError(t, FprintEval(buf, trainer, ds))
	assert.Contains(t, buf.String(), "Results on line:")
	assert.Contains(t, buf.String(), "Mean Loss (#loss):")
}

func TestProgressBarPlain(t *testing.T) {
	trainer, ds := newLineTrainer(t)
	ds.Infinite(true)
	loop := train.NewLoop(trainer)
	buf := &bytes.Buffer{}
	attachProgressBar(loop, buf, true)
	_, err := loop.RunSteps(ds, 20)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "[step=19]")
	assert.Contains(t, buf.String(), "[~loss=")
}
