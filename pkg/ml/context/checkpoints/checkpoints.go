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

// Package checkpoints implements checkpoint management: saving and loading of the model parameters,
// the context hyperparameters and the trainer global step to a directory.
//
// The main object is the Handler, that should be created by calling Build, followed by the
// various options setting and finally calling Config.Done.
// Once created, if a previous saved checkpoint exists, it will immediately load the hyperparameters
// into the Context. The model parameters and the global step are loaded when the Handler is attached
// to a Trainer, with Handler.AttachTo.
// And as the model trains, one can call Handler.Save() at any time to save a new checkpoint --
// typically one will do that inside train.EveryNSteps().
//
// Example: After creating the Context, it checks if a checkpoint directory was set (`*flagCheckpoint`)
// and if yes, creates a checkpoints.Handler to save checkpoints every 100 steps, keeping the last
// `*flagCheckpointKeep` steps.
//
//	…
//	ctx := context.New()
//	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *flagSettings))
//	checkpoint := must.M1(checkpoints.Build(ctx).Dir(*flagCheckpoint).Keep(*flagCheckpointKeep).
//		ExcludeParams(paramsSet...).Done())
//	model := nn.NewMLP(ctx, numInputs, numOutputs)  // Uses the hyperparameters loaded.
//	trainer := train.NewTrainer(ctx, model, nil, nil, nil, nil)
//	must.M(checkpoint.AttachTo(trainer))  // Loads the parameters and the global step.
//	…
//	loop := train.NewLoop(trainer)
//	train.EveryNSteps(loop, 100, "checkpointing", 100, checkpoint.OnStepFn)
//	…
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/gomlx/scalargrad/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DirPermMode is the default directory creation permission (before umask) used.
var DirPermMode = os.FileMode(0770)

// Config for the checkpoints' Handler to be created. This is created with Build() and
// configured with the various methods. Once finished, call Done() and it will output
// a checkpoints.Handler that loads (if there are any previously saved checkpoints) and
// saves checkpoints.
type Config struct {
	ctx *context.Context
	err error
	dir string

	keep     int
	mustLoad bool

	includeParams   bool            // whether to includeParams in loading/saving.
	paramsToExclude map[string]bool // specific parameter names to exclude from loading.
}

// Build a configuration for building a checkpoints.Handler. After configuring the
// Config object returned, call `Done` to get the configured checkpoints.Handler.
//
// The new checkpoints.Handler will load the latest checkpoint in the directory set with Config.Dir,
// if it exists, otherwise it creates a new directory and can simply be used to save checkpoints.
func Build(ctx *context.Context) *Config {
	return &Config{
		ctx:             ctx,
		includeParams:   true,
		keep:            1,
		paramsToExclude: make(map[string]bool),
	}
}

// Load creates the configuration to load a checkpoint.
// It's identical to Build, except it will fail if the checkpoint does not already exist.
func Load(ctx *context.Context) *Config {
	c := Build(ctx)
	c.mustLoad = true
	return c
}

func (c *Config) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Dir sets the directory where to save / load the checkpoints. It is created if it doesn't exist,
// except when configured with Load.
func (c *Config) Dir(dir string) *Config {
	c.dir = dir
	fi, err := os.Stat(dir)
	if err != nil && !os.IsNotExist(err) {
		c.setError(errors.Wrapf(err, "failed to os.Stat(%q)", dir))
		return c
	}
	if err == nil {
		if !fi.IsDir() {
			c.setError(errors.Errorf("checkpoint directory %q exists but it's a normal file, not a directory", dir))
		}
		return c
	}
	if c.mustLoad {
		c.setError(errors.Wrapf(err, "checkpoint directory %q does not exist or cannot be accessed", dir))
		return c
	}
	if err = os.MkdirAll(dir, DirPermMode); err != nil {
		c.setError(errors.Wrapf(err, "trying to create dir %q", dir))
	}
	return c
}

// ExcludeAllParams configures Handler to exclude Context parameters (values usually
// read/written by Context.GetParam and context.SetParam) from being read.
//
// By default, Params are loaded and set into Context the moment Handler is created
// (when Done() is called), overriding values already present in the Context.
func (c *Config) ExcludeAllParams() *Config {
	c.includeParams = false
	return c
}

// ExcludeParams configures Handler to exclude certain Context parameters from being read.
// It can be called multiple times; each call adds new parameters to be excluded.
//
// Names without a scope (not starting with "/") are excluded in all scopes. Otherwise, the exclusion
// applies only to the specific scope. See context.JoinScope to merge scope and name.
//
// Typically, one excludes the parameters set in the command line, so they take priority over the ones
// saved in the checkpoint.
func (c *Config) ExcludeParams(paramsToExclude ...string) *Config {
	for _, name := range paramsToExclude {
		c.paramsToExclude[name] = true
	}
	return c
}

// Keep configures the number of checkpoint files to keep. If set to -1, it will never erase older checkpoints.
// The default is 1.
func (c *Config) Keep(n int) *Config {
	c.keep = n
	return c
}

// Done creates a Handler with the current configuration, and loads the latest checkpoint, if there
// is one. It returns an error if the configuration is invalid or if the checkpoint can't be read.
func (c *Config) Done() (*Handler, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.dir == "" {
		return nil, errors.Errorf("directory for checkpoints not configured")
	}
	h := &Handler{config: c, loadedParameters: make(map[string]float64)}
	checkpoints, err := h.ListCheckpoints()
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 && c.mustLoad {
		return nil, errors.Errorf("no checkpoints found in %q", c.dir)
	}
	h.checkpointsCount = maxCheckPointCountFromCheckpoints(checkpoints) + 1
	if len(checkpoints) > 0 {
		if err = h.loadCheckpointFromFile(xslices.Last(checkpoints)); err != nil {
			return nil, err
		}
		h.setParams()
	}
	return h, nil
}

// Handler handles saving and loading of checkpoints for a context.Context and a train.Trainer.
// See an example in the package documentation.
//
// Loading happens at its creation time, from the latest checkpoint: hyperparameters are immediately
// set in the context (if not Config.ExcludeAllParams), and the model parameters and global step
// are set when attaching the Handler to the Trainer with AttachTo.
//
// Saving of checkpoints is explicit, by calling Handler.Save(). Usually this is
// done by configuring train.Loop to call it using train.EveryNSteps or train.NTimesDuringLoop.
type Handler struct {
	config  *Config
	trainer *train.Trainer

	loaded           *serializedData
	loadedParameters map[string]float64

	checkpointsCount int
}

// serializedData is how the checkpoint is read and written from storage.
type serializedData struct {
	GlobalStep int64
	Params     []serializedParam
	Parameters []serializedParameter
}

// serializedParameter is the value of one trainable parameter of the model.
type serializedParameter struct {
	Name  string
	Value float64
}

// serializedParam represents a serialized context parameter.
// It includes the original ValueType, because Json decoder may
// not be capable of recovering the original type in anonymous (any) Value.
type serializedParam struct {
	Scope, Key string
	Value      any
	ValueType  string
}

// jsonDecodeTypeConvert attempts to convert the Value decoded by Json into
// the original ValueType.
//
// E.g.: Json decoder will decode all numbers to float64. So we cast it to the
// given ValueType.
func (p *serializedParam) jsonDecodeTypeConvert() {
	switch v := p.Value.(type) {
	case float64:
		switch p.ValueType {
		case "int":
			p.Value = int(v)
		case "int32":
			p.Value = int32(v)
		case "int64":
			p.Value = int64(v)
		case "float32":
			p.Value = float32(v)
		}
	case []any:
		switch p.ValueType {
		case "[]int":
			p.Value = xslices.Map(v, func(fAny any) int {
				f, _ := fAny.(float64) // Json decoder converts any numbers to float64.
				return int(f)
			})
		case "[]float64":
			p.Value = xslices.Map(v, func(fAny any) float64 {
				f, _ := fAny.(float64)
				return f
			})
		case "[]string":
			p.Value = xslices.Map(v, func(sAny any) string {
				s, _ := sAny.(string)
				return s
			})
		}
	}
}

// String implements Stringer.
func (h *Handler) String() string {
	return fmt.Sprintf("checkpoints.Handler(%q)", h.config.dir)
}

const (
	baseNamePrefix = "checkpoint-"

	// JsonNameSuffix for the checkpoint files returned by Handler.ListCheckpoints.
	JsonNameSuffix = ".json"
)

// newCheckpointBaseName returns the base name for the checkpoint file.
func (h *Handler) newCheckpointBaseName(globalStep int64) string {
	now := time.Now().Format("20060102-150405")
	baseName := fmt.Sprintf("%sn%07d-%s", baseNamePrefix, h.checkpointsCount, now)
	if globalStep > 0 {
		return fmt.Sprintf("%s-step-%08d", baseName, globalStep)
	}
	return fmt.Sprintf("%s-initial", baseName)
}

// ListCheckpoints returns the base file names of the checkpoints in the directory in time order (older first).
//
// The actual file names are these base names suffixed with JsonNameSuffix.
func (h *Handler) ListCheckpoints() (checkpoints []string, err error) {
	entries, err := os.ReadDir(h.config.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "%s listing checkpoints", h)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if !strings.HasPrefix(fileName, baseNamePrefix) || !strings.HasSuffix(fileName, JsonNameSuffix) {
			continue
		}
		checkpoints = append(checkpoints, strings.TrimSuffix(fileName, JsonNameSuffix))
	}
	sort.Strings(checkpoints)
	return checkpoints, nil
}

// HasCheckpoints returns whether there are any checkpoints saved.
func (h *Handler) HasCheckpoints() (bool, error) {
	list, err := h.ListCheckpoints()
	return len(list) > 0, err
}

var checkpointCountRegex = regexp.MustCompile(`^checkpoint-n(\d+)-`)

// maxCheckPointCountFromCheckpoints returns the largest `checkpointCount` in the saved
// checkpoints -- so the next checkpoint saved uses this count+1.
func maxCheckPointCountFromCheckpoints(checkpoints []string) int {
	maxId := -1
	for _, name := range checkpoints {
		matches := checkpointCountRegex.FindStringSubmatch(name)
		if len(matches) != 2 {
			continue
		}
		id, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		maxId = max(maxId, id)
	}
	return maxId
}

// loadCheckpointFromFile reads a specific checkpoint file.
func (h *Handler) loadCheckpointFromFile(baseName string) error {
	klog.V(1).Infof("loading checkpoint %q", baseName)
	fileName := filepath.Join(h.config.dir, baseName+JsonNameSuffix)
	f, err := os.Open(fileName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to open checkpoint file %s", h, fileName)
	}
	defer func() { _ = f.Close() }()
	var serialized *serializedData
	if err = json.NewDecoder(f).Decode(&serialized); err != nil {
		return errors.Wrapf(err, "%s: failed to decode checkpoint file %s", h, fileName)
	}
	if h.config.includeParams {
		for ii := range serialized.Params {
			serialized.Params[ii].jsonDecodeTypeConvert()
		}
	} else {
		serialized.Params = nil
	}
	h.loaded = serialized
	for _, p := range serialized.Parameters {
		h.loadedParameters[p.Name] = p.Value
	}
	return nil
}

// setParams sets the context hyperparameters with the values loaded, except the excluded ones.
func (h *Handler) setParams() {
	ctx := h.config.ctx
	for _, p := range h.loaded.Params {
		if h.config.paramsToExclude[p.Key] || h.config.paramsToExclude[context.JoinScope(p.Scope, p.Key)] {
			continue
		}
		ctx.InAbsPath(p.Scope).SetParam(p.Key, p.Value)
	}
}

// parameterName returns the name used to save the parameter: its label, or its position if it has none.
func parameterName(idx int, p *value.Value) string {
	if label := p.Label(); label != "" {
		return label
	}
	return fmt.Sprintf("#%d", idx)
}

// AttachTo attaches the Handler to the trainer: if a checkpoint was loaded, it sets the values
// of the model parameters and the global step of the trainer.
//
// It fails if a parameter of the model is not in the loaded checkpoint, which usually means the model
// was built with different hyperparameters. In that case neither the model nor the Handler are changed.
// Parameters in the checkpoint not used by the model are kept, and saved again by Save.
//
// AttachTo can only be called once successfully.
func (h *Handler) AttachTo(trainer *train.Trainer) error {
	if h.trainer != nil {
		return errors.Errorf("%s already attached to a Trainer, can not attach to another one", h)
	}
	if h.loaded == nil {
		h.trainer = trainer
		return nil
	}
	params := trainer.Model().Parameters()
	names := make([]string, len(params))
	for ii, p := range params {
		names[ii] = parameterName(ii, p)
		if _, found := h.loadedParameters[names[ii]]; !found {
			return errors.Errorf("%s: parameter %q not found in the checkpoint (with %d parameters, the model has %d), "+
				"was the model built with the same hyperparameters?", h, names[ii], len(h.loadedParameters), len(params))
		}
	}
	for ii, p := range params {
		p.Data = h.loadedParameters[names[ii]]
		delete(h.loadedParameters, names[ii])
	}
	if len(h.loadedParameters) > 0 {
		klog.Warningf("%s: %d parameters in the checkpoint are not used by the model, they will be saved as is",
			h, len(h.loadedParameters))
	}
	h.trainer = trainer
	trainer.SetGlobalStep(h.loaded.GlobalStep)
	klog.V(1).Infof("%s: loaded %d parameters at global step %d", h, len(params), h.loaded.GlobalStep)
	return nil
}

// LoadedGlobalStep returns the global step of the checkpoint loaded, or 0 if no checkpoint was loaded.
func (h *Handler) LoadedGlobalStep() int64 {
	if h.loaded == nil {
		return 0
	}
	return h.loaded.GlobalStep
}

// Save creates a new checkpoint with the current context hyperparameters, the model parameters and
// the global step of the attached trainer. Checkpoints in excess of Config.Keep are removed.
func (h *Handler) Save() error {
	if h == nil {
		return nil
	}
	if h.trainer == nil {
		return errors.Errorf("%s not attached to a train.Trainer yet", h)
	}
	globalStep := h.trainer.GlobalStep()
	serialized := &serializedData{GlobalStep: globalStep}
	if h.config.includeParams {
		h.config.ctx.EnumerateParams(func(scope, name string, value any) {
			serialized.Params = append(serialized.Params,
				serializedParam{Scope: scope, Key: name, Value: value, ValueType: fmt.Sprintf("%T", value)})
		})
	}
	for ii, p := range h.trainer.Model().Parameters() {
		serialized.Parameters = append(serialized.Parameters,
			serializedParameter{Name: parameterName(ii, p), Value: p.Data})
	}
	// Previously loaded parameters not used by the model.
	for _, name := range xslices.SortedKeys(h.loadedParameters) {
		serialized.Parameters = append(serialized.Parameters,
			serializedParameter{Name: name, Value: h.loadedParameters[name]})
	}

	baseName := h.newCheckpointBaseName(globalStep)
	h.checkpointsCount++
	fileName := filepath.Join(h.config.dir, baseName+JsonNameSuffix)
	f, err := os.Create(fileName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to create checkpoint file %s", h, fileName)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "\t")
	if err = enc.Encode(serialized); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "%s: failed to write checkpoint file %s", h, fileName)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "%s: failed to close checkpoint file %s", h, fileName)
	}
	return h.keepNCheckpoints()
}

// OnStepFn implements `train.OnStepFn`, and make it convenient to attach to a training loop.
// It simply calls save.
func (h *Handler) OnStepFn(_ *train.Loop, _ []float64) error {
	return h.Save()
}

// keepNCheckpoints removes the oldest checkpoints in excess of the configured number.
func (h *Handler) keepNCheckpoints() error {
	if h.config.keep < 0 {
		return nil
	}
	list, err := h.ListCheckpoints()
	if err != nil {
		return errors.WithMessagef(err, "%s failed to list saved checkpoints", h)
	}
	if len(list) <= h.config.keep {
		return nil
	}
	for _, baseName := range list[:len(list)-h.config.keep] {
		fileName := filepath.Join(h.config.dir, baseName+JsonNameSuffix)
		if err = os.Remove(fileName); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "%s failed to remove excess checkpoint file %q", h, fileName)
		}
	}
	return nil
}

// Dir returns the directory the Handler is configured to.
//
// It returns "" (empty) if the Handler is `nil`.
func (h *Handler) Dir() string {
	if h == nil {
		return ""
	}
	return h.config.dir
}
