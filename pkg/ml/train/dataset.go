/*
 *	Copyright 2025 Jan Pfeifer
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

package train

// Dataset for a train.Trainer provides the data, one batch at a time. A batch is a slice of examples,
// each example being a slice of float64 inputs and a slice of float64 labels.
//
// The Dataset interface allows for extensions by defining extra optional interfaces that
// a Dataset can implement. See HasShortName.
type Dataset interface {
	// Name identifies the dataset. Used for debugging, pretty-printing and plots.
	Name() string

	// Reset restarts the dataset from the beginning. Can be called after io.EOF is reached,
	// for instance when running another evaluation on a test dataset.
	Reset()

	// Yield one batch of examples or an error. `inputs` and `labels` must have the same length,
	// and `inputs[i]` is the input of the example whose target is `labels[i]`.
	//
	// The returned slices may be reused by the caller, they must not be modified by the dataset afterward.
	//
	// If using Loop.RunSteps for training having an infinite dataset stream is ok. But careful
	// not to use Loop.RunEpochs on a dataset configured to loop indefinitely.
	//
	// If the error is `io.EOF` the training/evaluation terminates normally, as it indicates end of data
	// for finite datasets -- maybe the end of the epoch.
	//
	// Any other errors should interrupt the training/evaluation and be returned to the user.
	Yield() (inputs, labels [][]float64, err error)
}

// HasShortName allows a dataset to specify a short name (used when displaying a short version of metric names).
// It defaults to the first 3 letters of the dataset name.
//
// It's optional.
type HasShortName interface {
	// ShortName returns the short name of the dataset.
	ShortName() string
}

// DatasetShortName returns the dataset's ShortName if it implements HasShortName, or
// the first 3 letters of its name otherwise.
func DatasetShortName(ds Dataset) string {
	if named, ok := ds.(HasShortName); ok {
		return named.ShortName()
	}
	name := []rune(ds.Name())
	if len(name) > 3 {
		name = name[:3]
	}
	return string(name)
}
