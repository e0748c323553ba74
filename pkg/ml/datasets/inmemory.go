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

package datasets

import (
	"encoding/gob"
	"io"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// InMemoryDataset represents a Dataset that is completely held in memory.
//
// It supports batching, shuffling (with and without replacement) and can be duplicated (only one copy
// of the underlying data is used).
//
// Finally, it supports serialization and deserialization, to accelerate loading of the data -- in case
// generating the original dataset is expensive.
type InMemoryDataset struct {
	// name of the dataset.
	name      string
	shortName string

	// inputs and labels for each example.
	inputs, labels [][]float64

	// muSampling serializes the sampling information, all the member variables below.
	muSampling sync.Mutex

	// batchSize to yield. If set to 0 yields only one example at a time.
	batchSize int

	// dropIncompleteBatch, when there are not enough remaining examples in the epoch.
	dropIncompleteBatch bool

	// next record to be sampled. If shuffle is given, this is an index in shuffle. If randomWithReplacement,
	// this is a count only.
	// If it is set to -1, it means the dataset has been exhausted already.
	next int

	// randomWithReplacement indicates that one should simply take a random entry every time.
	randomWithReplacement bool

	// shuffle holds the current shuffle if Shuffle was selected.
	shuffle []int

	// infinite sets whether to loop indefinitely.
	infinite bool

	// randomNumberGenerator used when random sampling, allows for deterministic random datasets.
	randomNumberGenerator *rand.Rand

	// takeN is the maximum number of batches to take, before forcing an end of epoch.
	// If <= 0, take as many as available (or continuously if InMemoryDataset.infinite=true)
	takeN int
}

var _ train.Dataset = (*InMemoryDataset)(nil)

func newRandomNumberGenerator() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// shortNameFor returns the default short name: the first 3 letters of the name.
func shortNameFor(name string) string {
	runes := []rune(name)
	if len(runes) > 3 {
		runes = runes[:3]
	}
	return string(runes)
}

// InMemory creates an InMemoryDataset from the static data given: `inputs[i]` are the features of the i-th
// example, and `labels[i]` its targets.
//
// It returns an error if there are no examples, if the number of inputs and labels differ, or if the
// examples don't all have the same number of features (or targets).
//
// The dataset is initially not shuffled and not batched (it yields one example at a time). You can
// configure how you want to use it with the other configuration methods.
//
// Example: a dataset with two examples, each with 2 features and 1 target.
//
//	mds, err := InMemory("test", [][]float64{{1, 2}, {3, 4}}, [][]float64{{3}, {7}})
func InMemory(name string, inputs, labels [][]float64) (mds *InMemoryDataset, err error) {
	if len(inputs) == 0 {
		err = errors.Errorf("InMemory(%q): dataset is empty", name)
		return
	}
	if len(inputs) != len(labels) {
		err = errors.Errorf("InMemory(%q): %d examples of inputs, but %d examples of labels -- they must match",
			name, len(inputs), len(labels))
		return
	}
	if len(inputs[0]) == 0 || len(labels[0]) == 0 {
		err = errors.Errorf("InMemory(%q): examples must have at least one feature and one label, got %d features and %d labels",
			name, len(inputs[0]), len(labels[0]))
		return
	}
	for ii := range inputs {
		if len(inputs[ii]) != len(inputs[0]) {
			err = errors.Errorf("InMemory(%q): inputs[0] has %d features, but inputs[%d] has %d -- all must be the same",
				name, len(inputs[0]), ii, len(inputs[ii]))
			return
		}
		if len(labels[ii]) != len(labels[0]) {
			err = errors.Errorf("InMemory(%q): labels[0] has %d values, but labels[%d] has %d -- all must be the same",
				name, len(labels[0]), ii, len(labels[ii]))
			return
		}
	}
	mds = &InMemoryDataset{
		name:                  name,
		shortName:             shortNameFor(name),
		inputs:                inputs,
		labels:                labels,
		randomNumberGenerator: newRandomNumberGenerator(),
	}
	return
}

// NumExamples held in memory.
func (mds *InMemoryDataset) NumExamples() int {
	return len(mds.inputs)
}

// NumFeatures returns the number of inputs of each example.
func (mds *InMemoryDataset) NumFeatures() int {
	return len(mds.inputs[0])
}

// NumLabels returns the number of labels of each example.
func (mds *InMemoryDataset) NumLabels() int {
	return len(mds.labels[0])
}

// Copy returns a copy of the dataset. It uses the same underlying data -- so very little memory is used.
//
// The copy comes configured by default with sequential reading (not random sampling), non-looping, and reset.
func (mds *InMemoryDataset) Copy() *InMemoryDataset {
	return &InMemoryDataset{
		name:                  mds.name,
		shortName:             mds.shortName,
		inputs:                mds.inputs,
		labels:                mds.labels,
		takeN:                 mds.takeN,
		randomNumberGenerator: newRandomNumberGenerator(),
	}
}

// Name implements `train.Dataset`
func (mds *InMemoryDataset) Name() string {
	return mds.name
}

// ShortName implements `train.HasShortName`
func (mds *InMemoryDataset) ShortName() string {
	return mds.shortName
}

// SetName sets the name of the dataset and optionally its ShortName, and returns the updated dataset.
func (mds *InMemoryDataset) SetName(name string, shortName ...string) *InMemoryDataset {
	mds.name = name
	if len(shortName) > 0 {
		mds.shortName = shortName[0]
	} else {
		mds.shortName = shortNameFor(name)
	}
	return mds
}

// Reset implements `train.Dataset`
func (mds *InMemoryDataset) Reset() {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()

	mds.next = 0
	if mds.shuffle != nil {
		mds.shuffleLocked()
	}
}

// indicesNextYield retrieve the indices for the next Yield call.
// It must be called with muSampling locked.
func (mds *InMemoryDataset) indicesNextYield() (indices []int) {
	if mds.next == -1 {
		return // dataset already exhausted.
	}
	numExamples := len(mds.inputs)
	n := mds.batchSize
	if n <= 0 {
		n = 1
	}
	indices = make([]int, 0, n)
	for mds.next < numExamples && len(indices) < n {
		if len(mds.shuffle) > 0 {
			indices = append(indices, mds.shuffle[mds.next])
		} else if mds.randomWithReplacement {
			indices = append(indices, mds.randomNumberGenerator.IntN(numExamples))
		} else {
			indices = append(indices, mds.next)
		}
		mds.next++
	}
	if len(indices) < n && mds.dropIncompleteBatch {
		// Drop the incomplete batch.
		indices = nil
	}
	if mds.next >= numExamples {
		mds.next = -1
	}
	if mds.takeN > 0 && mds.next >= mds.takeN*n {
		mds.next = -1
	}
	return
}

// Yield implements `train.Dataset`.
//
// Returns next batch's inputs and labels, or a single example if BatchSize is set to 0.
func (mds *InMemoryDataset) Yield() (inputs, labels [][]float64, err error) {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	if len(mds.inputs) == 0 {
		err = errors.Errorf("InMemoryDataset %q is empty", mds.name)
		return
	}
	indices := mds.indicesNextYield()
	if len(indices) == 0 {
		if !mds.infinite {
			// Dataset is already exhausted.
			err = io.EOF
			return
		}

		// If looping infinitely, automatically reset and pull new indices.
		mds.next = 0
		if mds.shuffle != nil {
			mds.shuffleLocked()
		}
		indices = mds.indicesNextYield()
		if len(indices) == 0 {
			klog.Errorf("InMemoryDataset %q configured for infinite loop, but reset failed to generate new examples!?",
				mds.name)
			err = io.EOF
			return
		}
	}
	inputs = make([][]float64, len(indices))
	labels = make([][]float64, len(indices))
	for ii, idx := range indices {
		inputs[ii] = mds.inputs[idx]
		labels[ii] = mds.labels[idx]
	}
	return
}

// RandomWithReplacement configures the InMemoryDataset to return random elements with replacement.
// If this is configured, Shuffle is canceled.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) RandomWithReplacement() *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.randomWithReplacement = true
	mds.shuffle = nil
	return mds
}

// Shuffle configures the InMemoryDataset to shuffle the order of the data. It returns random elements
// without replacement. If this is configured, RandomWithReplacement is canceled.
//
// At each call to Reset() it is reshuffled. It happens automatically if dataset is configured to loop.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) Shuffle() *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.randomWithReplacement = false
	mds.shuffleLocked()
	return mds
}

// shuffleLocked shuffles dataset yield order. It assumed muSampling is locked.
func (mds *InMemoryDataset) shuffleLocked() {
	numExamples := len(mds.inputs)
	if mds.shuffle == nil {
		mds.shuffle = make([]int, numExamples)
	}
	for ii := range numExamples {
		mds.shuffle[ii] = ii
	}
	mds.randomNumberGenerator.Shuffle(numExamples, func(i, j int) {
		mds.shuffle[i], mds.shuffle[j] = mds.shuffle[j], mds.shuffle[i]
	})
}

// BatchSize configures the InMemoryDataset to return batches of the given size. If dropIncompleteBatch is set
// to true, it will simply drop examples if there are not enough to fill a batch -- this can only happen on the
// last batch of an epoch. Otherwise, it will return a partially filled batch.
//
// If `n` is set to 0, it reverts back to yielding one example at a time.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) BatchSize(n int, dropIncompleteBatch bool) *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.batchSize = n
	mds.dropIncompleteBatch = dropIncompleteBatch
	return mds
}

// WithRand sets the random number generator (RNG) for shuffling or random sampling. This allows for repeatable
// deterministic random sampling, if one wants. The default is to use a randomly seeded RNG.
//
// If dataset is configured with Shuffle, this re-shuffles the dataset immediately.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) WithRand(rng *rand.Rand) *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.randomNumberGenerator = rng
	if mds.shuffle != nil {
		mds.shuffleLocked()
	}
	return mds
}

// Infinite sets whether the dataset should loop indefinitely. The default is `infinite = false`, which
// causes the dataset to going through the data only once before returning io.EOF.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) Infinite(infinite bool) *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.infinite = infinite
	return mds
}

// TakeN configures dataset to only take N batches before returning io.EOF.
// If set to 0 or -1, it takes as many as there is data.
// If configured, it automatically disables InMemoryDataset.Infinite
func (mds *InMemoryDataset) TakeN(n int) *InMemoryDataset {
	if n > 0 {
		mds.Infinite(false)
	}
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.takeN = n
	return mds
}

// GobSerialize in-memory content to the encoder.
//
// Only the underlying data is serialized. The sampling configuration is not serialized.
func (mds *InMemoryDataset) GobSerialize(encoder *gob.Encoder) (err error) {
	enc := func(data any) {
		if err != nil {
			return
		}
		err = encoder.Encode(data)
		if err != nil {
			err = errors.Wrapf(err, "failed to serialize InMemoryDataset %q", mds.name)
		}
	}
	enc(mds.name)
	enc(mds.shortName)
	enc(mds.inputs)
	enc(mds.labels)
	return
}

// GobDeserializeInMemory dataset from the decoder.
//
// No sampling configuration is recovered, and the InMemoryDataset created is sequential (no random sampling)
// that reads through only one epoch. The random number generator is also newly initialized (see
// InMemoryDataset.WithRand).
func GobDeserializeInMemory(decoder *gob.Decoder) (mds *InMemoryDataset, err error) {
	dec := func(data any) {
		if err != nil {
			return
		}
		err = decoder.Decode(data)
		if err != nil {
			err = errors.Wrapf(err, "failed to deserialize InMemoryDataset")
		}
	}
	var name, shortName string
	var inputs, labels [][]float64
	dec(&name)
	dec(&shortName)
	dec(&inputs)
	dec(&labels)
	if err != nil {
		return
	}
	mds, err = InMemory(name, inputs, labels)
	if err != nil {
		return
	}
	mds.shortName = shortName
	return
}

// Split returns two copies of the dataset: the first with the first `fraction` of the examples, the second
// with the remainder. It can be used to separate a validation set.
//
// Both copies share the underlying data and come configured with sequential reading.
func (mds *InMemoryDataset) Split(fraction float64) (first, second *InMemoryDataset, err error) {
	numExamples := len(mds.inputs)
	n := int(fraction * float64(numExamples))
	if n <= 0 || n >= numExamples {
		err = errors.Errorf("InMemoryDataset %q: split fraction %g of %d examples leaves one of the parts empty",
			mds.name, fraction, numExamples)
		return
	}
	first, second = mds.Copy(), mds.Copy()
	first.inputs, first.labels = slices.Clip(mds.inputs[:n]), slices.Clip(mds.labels[:n])
	second.inputs, second.labels = mds.inputs[n:], mds.labels[n:]
	return
}
