// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopes(t *testing.T) {
	ctx := New()
	assert.Equal(t, RootScope, ctx.Scope())
	ctxA := ctx.In("a")
	assert.Equal(t, "/a", ctxA.Scope())
	assert.Equal(t, "/a/layer_1", ctxA.Inf("layer_%d", 1).Scope())
	assert.Equal(t, "/x/y", ctx.InAbsPath("/x/y").Scope())
	assert.Equal(t, RootScope, ctx.Scope(), "In must not change the original reference")

	assert.Panics(t, func() { ctx.In("") })
	assert.Panics(t, func() { ctx.In("a/b") })
	assert.Panics(t, func() { ctx.InAbsPath("a") })

	scope, name := SplitScope("/a/b/learning_rate")
	assert.Equal(t, "/a/b", scope)
	assert.Equal(t, "learning_rate", name)
	scope, name = SplitScope("/seed")
	assert.Equal(t, RootScope, scope)
	assert.Equal(t, "seed", name)
	scope, name = SplitScope("seed")
	assert.Equal(t, "", scope)
	assert.Equal(t, "seed", name)

	assert.Equal(t, "/a/b/learning_rate", JoinScope("/a/b", "learning_rate"))
	assert.Equal(t, "/seed", JoinScope(RootScope, "seed"))
	assert.Equal(t, "seed", JoinScope("", "seed"))
}

func TestParams(t *testing.T) {
	ctx := New()
	ctx.SetParam("learning_rate", 0.1)
	ctx.SetParams(map[string]any{"steps": 100, "activation": "relu"})
	ctxLayer := ctx.In("layer_2")
	ctxLayer.SetParam("activation", "none")

	assert.Equal(t, "relu", GetParamOr(ctx, "activation", ""))
	assert.Equal(t, "none", GetParamOr(ctxLayer, "activation", ""))
	assert.Equal(t, "none", GetParamOr(ctxLayer.In("neuron_0"), "activation", ""))
	assert.Equal(t, 0.1, GetParamOr(ctxLayer, "learning_rate", 1.0))
	assert.Equal(t, 7, GetParamOr(ctx, "unknown", 7))

	// Conversion from int to float64.
	assert.Equal(t, 100.0, GetParamOr(ctx, "steps", 0.0))
	assert.Equal(t, int64(100), MustGetParam[int64](ctx, "steps"))
	assert.Panics(t, func() { MustGetParam[float64](ctx, "missing") })
	assert.Panics(t, func() { GetParamOr(ctx, "activation", 0.0) })
	assert.Panics(t, func() { GetParamOr(ctx, "steps", "") })

	ctxLayer.DeleteParam("activation")
	assert.Equal(t, "relu", GetParamOr(ctxLayer, "activation", ""))

	var keys []string
	ctx.EnumerateParams(func(scope, key string, value any) {
		keys = append(keys, scope+":"+key)
	})
	assert.Equal(t, []string{"/:activation", "/:learning_rate", "/:steps"}, keys)
}

func TestRandom(t *testing.T) {
	ctx := New()
	ctx.RngStateFromSeed(42)
	first := make([]float64, 10)
	for ii := range first {
		first[ii] = ctx.RandomUniform(-1, 1)
		require.GreaterOrEqual(t, first[ii], -1.0)
		require.Less(t, first[ii], 1.0)
	}

	// Same seed, same sequence, also from a sub-scope.
	ctx.RngStateFromSeed(42)
	for ii := range first {
		assert.Equal(t, first[ii], ctx.In("layer_0").RandomUniform(-1, 1))
	}

	seen := make(map[int]bool)
	for range 200 {
		n := ctx.RandomInt(-1, 1)
		require.GreaterOrEqual(t, n, -1)
		require.LessOrEqual(t, n, 1)
		seen[n] = true
	}
	assert.Len(t, seen, 3)
	assert.Panics(t, func() { ctx.RandomUniform(1, 0) })
	assert.Panics(t, func() { ctx.RandomInt(1, 0) })
}

func TestSeedParam(t *testing.T) {
	draw := func() float64 {
		ctx := New()
		ctx.SetParam(ParamSeed, 7)
		return ctx.In("a").RandomNormal(0, 1)
	}
	assert.Equal(t, draw(), draw())
}
