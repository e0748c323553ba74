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

// Package datasets is a collection of utility datasets (train.Dataset) that can be combined for
// preprocessing: `Take`, `InMemory`, `Map`, `FromCSV`.
//
// It also includes normalization tools.
package datasets

import (
	"fmt"
	"io"
	"math"

	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/pkg/errors"
)

// takeDataset implements a `train.Dataset` that only yields `take` batches.
type takeDataset struct {
	ds          train.Dataset
	count, take int
}

// Take returns a wrapper to `ds`, a `train.Dataset` that only yields `n` batches.
func Take(ds train.Dataset, n int) train.Dataset {
	return &takeDataset{
		ds:   ds,
		take: n,
	}
}

// Name implements train.Dataset. It returns the dataset name.
func (ds *takeDataset) Name() string {
	return fmt.Sprintf("%s [Take %d]", ds.ds.Name(), ds.take)
}

// Reset implements train.Dataset.
func (ds *takeDataset) Reset() {
	ds.ds.Reset()
	ds.count = 0
}

// Yield implements train.Dataset.
func (ds *takeDataset) Yield() (inputs, labels [][]float64, err error) {
	if ds.count >= ds.take {
		err = io.EOF
		return
	}
	ds.count++
	inputs, labels, err = ds.ds.Yield()
	return
}

// MapExampleFn is a normal Go function that applies a transformation to the inputs/labels of a batch.
// It must not modify the given slices in place: the source dataset may hold on to them.
type MapExampleFn func(inputs, labels [][]float64) (mappedInputs, mappedLabels [][]float64, err error)

// mapDataset implements a `train.Dataset` that maps a function to a wrapped dataset.
type mapDataset struct {
	ds    train.Dataset
	mapFn MapExampleFn
}

// Map maps a dataset through a transformation with a (normal Go) function.
func Map(ds train.Dataset, mapFn MapExampleFn) train.Dataset {
	return &mapDataset{ds: ds, mapFn: mapFn}
}

// Name implements train.Dataset.
func (ds *mapDataset) Name() string { return ds.ds.Name() }

// Reset implements train.Dataset.
func (ds *mapDataset) Reset() { ds.ds.Reset() }

// Yield implements train.Dataset.
func (ds *mapDataset) Yield() (inputs, labels [][]float64, err error) {
	inputs, labels, err = ds.ds.Yield()
	if err != nil {
		return
	}
	inputs, labels, err = ds.mapFn(inputs, labels)
	if err != nil {
		err = errors.WithMessagef(err, "while mapping dataset %q", ds.ds.Name())
	}
	return
}

// Normalization calculates the normalization parameters `mean` and `stddev` of each input feature,
// reading `ds` through one epoch. The dataset is reset before and after.
//
// These values can later be used for normalization by simply applying `(x - mean) / stddev`, see Normalize.
//
// Notice for any feature that happens to be constant, the `stddev` will be 0. If trying to normalize (divide)
// by that will result in an infinity. Use ReplaceZerosByOnes to avoid it.
func Normalization(ds train.Dataset) (mean, stddev []float64, err error) {
	ds.Reset()
	defer ds.Reset()
	var sum, sumSquares []float64
	count := 0
	for {
		var inputs [][]float64
		inputs, _, err = ds.Yield()
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			err = errors.WithMessagef(err, "while reading dataset %q for normalization", ds.Name())
			return
		}
		for _, example := range inputs {
			if sum == nil {
				sum = make([]float64, len(example))
				sumSquares = make([]float64, len(example))
			} else if len(example) != len(sum) {
				err = errors.Errorf("normalization of dataset %q: example #%d has %d features, but previous examples had %d",
					ds.Name(), count, len(example), len(sum))
				return
			}
			for ii, x := range example {
				sum[ii] += x
				sumSquares[ii] += x * x
			}
			count++
		}
	}
	if count == 0 {
		err = errors.Errorf("normalization of dataset %q: dataset is empty", ds.Name())
		return
	}
	mean = make([]float64, len(sum))
	stddev = make([]float64, len(sum))
	for ii := range sum {
		mean[ii] = sum[ii] / float64(count)
		variance := sumSquares[ii]/float64(count) - mean[ii]*mean[ii]
		stddev[ii] = math.Sqrt(max(variance, 0))
	}
	return
}

// ReplaceZerosByOnes replaces any zero values in x by one, in place, and returns x.
// This is useful if normalizing a value with a standard deviation of zero.
func ReplaceZerosByOnes(x []float64) []float64 {
	for ii, v := range x {
		if v == 0 {
			x[ii] = 1
		}
	}
	return x
}

// Normalize returns a dataset with the inputs of `ds` normalized as `(x - mean) / stddev`. Labels are unchanged.
func Normalize(ds train.Dataset, mean, stddev []float64) train.Dataset {
	return Map(ds, func(inputs, labels [][]float64) ([][]float64, [][]float64, error) {
		normalized := make([][]float64, len(inputs))
		for exampleIdx, example := range inputs {
			if len(example) != len(mean) {
				return nil, nil, errors.Errorf("cannot normalize example with %d features, normalization has %d",
					len(example), len(mean))
			}
			normalized[exampleIdx] = make([]float64, len(example))
			for ii, x := range example {
				normalized[exampleIdx][ii] = (x - mean[ii]) / stddev[ii]
			}
		}
		return normalized, labels, nil
	})
}
