// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scoped_test

import (
	"testing"

	"github.com/gomlx/scalargrad/internal/scoped"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsGet(t *testing.T) {
	p := scoped.New("/")
	p.Set("/", "learning_rate", 0.1)
	p.Set("/", "activation", "relu")
	p.Set("/layer_2", "activation", "none")
	p.Set("/layer_2/neuron_0", "seed", 7)

	value, found := p.Get("/layer_2/neuron_0", "activation")
	require.True(t, found)
	assert.Equal(t, "none", value)

	value, found = p.Get("/layer_0/neuron_3", "activation")
	require.True(t, found)
	assert.Equal(t, "relu", value)

	value, found = p.Get("/layer_2/neuron_0", "learning_rate")
	require.True(t, found)
	assert.Equal(t, 0.1, value)

	_, found = p.Get("/layer_2", "seed")
	assert.False(t, found, "parameters must not leak to parent scopes")

	_, found = p.Get("/", "momentum")
	assert.False(t, found)

	p.Delete("/layer_2", "activation")
	value, _ = p.Get("/layer_2/neuron_0", "activation")
	assert.Equal(t, "relu", value)
}

func TestParamsCloneAndEnumerate(t *testing.T) {
	p := scoped.New("/")
	p.Set("/", "y", 20)
	p.Set("/", "x", 10)
	p.Set("/a/b", "x", 100)
	p.Set("/a", "y", 30)

	clone := p.Clone()
	clone.Set("/", "x", -1)
	value, _ := p.Get("/", "x")
	assert.Equal(t, 10, value, "changes to the clone must not affect the original")

	type entry struct {
		scope, key string
		value      int
	}
	var got []entry
	p.Enumerate(func(scope, key string, value any) {
		got = append(got, entry{scope, key, value.(int)})
	})
	want := []entry{
		{"/", "x", 10},
		{"/", "y", 20},
		{"/a", "y", 30},
		{"/a/b", "x", 100},
	}
	assert.Equal(t, want, got)
}
