// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopy(t *testing.T) {
	assert.Nil(t, Copy([]int{}))
	original := []int{1, 2, 3}
	cp := Copy(original)
	require.Equal(t, original, cp)
	cp[0] = 7
	assert.Equal(t, 1, original[0])
	assert.Equal(t, 3, Last(original))
	assert.Panics(t, func() { _ = Last([]int{}) })
}

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"sgd": 1, "adam": 2, "adamw": 3}
	assert.Equal(t, []string{"adam", "adamw", "sgd"}, SortedKeys(m))
	assert.Len(t, Keys(m), 3)
}

func TestMap(t *testing.T) {
	got := Map([]int{1, 20, 300}, strconv.Itoa)
	assert.Equal(t, []string{"1", "20", "300"}, got)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, time.Duration(0), Median([]time.Duration{}))
	durations := []time.Duration{5, 1, 3}
	assert.Equal(t, time.Duration(3), Median(durations))
	assert.Equal(t, []time.Duration{5, 1, 3}, durations, "Median must not reorder its input")
	assert.Equal(t, 3.0, Median([]float64{4, 1, 3, 2}))
	assert.Equal(t, []float64{7}, SliceWithValue(1, 7.0))
}
