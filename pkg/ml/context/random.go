// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"math/rand/v2"
	"time"

	. "github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// ParamSeed is the context parameter (an int) with the seed of the random number generator.
// It is read the first time a Random* method is used, if no seed was set with RngStateFromSeed.
// If not set, the RNG is seeded from the nanosecond clock.
const ParamSeed = "rng_seed"

// rngState is the random number generator shared by all scopes of a Context.
type rngState struct {
	seed uint64
	rng  *rand.Rand
}

func newRngState(seed uint64) *rngState {
	return &rngState{
		seed: seed,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// getRng returns the context random number generator, creating it if needed.
func (ctx *Context) getRng() *rand.Rand {
	if ctx.data.rng == nil {
		var seed uint64
		if seedParam, found := ctx.InAbsPath(RootScope).GetParam(ParamSeed); found && seedParam != nil {
			seed = uint64(MustGetParam[int64](ctx.InAbsPath(RootScope), ParamSeed))
			klog.V(1).Infof("context: random number generator seeded from %q=%d", ParamSeed, seed)
		} else {
			seed = uint64(time.Now().UnixNano())
			klog.V(1).Infof("context: random number generator seeded from clock (%d)", seed)
		}
		ctx.data.rng = newRngState(seed)
	}
	return ctx.data.rng.rng
}

// RngStateFromSeed initializes the context random number generator (RNG) with a static seed.
// If the RNG has already been created, it is reset.
func (ctx *Context) RngStateFromSeed(seed int64) {
	ctx.data.rng = newRngState(uint64(seed))
}

// RngStateReset resets the context random number generator (RNG) to a random seed based on
// the nanosecond clock.
func (ctx *Context) RngStateReset() {
	ctx.data.rng = newRngState(uint64(time.Now().UnixNano()))
}

// RandomUniform returns a pseudo-random number in the half-open interval [min, max).
func (ctx *Context) RandomUniform(min, max float64) float64 {
	if max < min {
		Panicf("Context.RandomUniform(min=%g, max=%g): max must be >= min", min, max)
	}
	return min + ctx.getRng().Float64()*(max-min)
}

// RandomInt returns a pseudo-random integer in the closed interval [min, max].
func (ctx *Context) RandomInt(min, max int) int {
	if max < min {
		Panicf("Context.RandomInt(min=%d, max=%d): max must be >= min", min, max)
	}
	return min + ctx.getRng().IntN(max-min+1)
}

// RandomNormal returns a pseudo-random number from a normal distribution with the given mean and
// standard deviation.
func (ctx *Context) RandomNormal(mean, stddev float64) float64 {
	return mean + ctx.getRng().NormFloat64()*stddev
}
