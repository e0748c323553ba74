// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package context defines the Context, which holds the hyperparameters of a model and the random
// number generator used to initialize its parameters.
//
// Hyperparameters are scoped: a parameter set in scope "/layer_1" is visible in "/layer_1" and in
// its sub-scopes (e.g.: "/layer_1/neuron_0"), and overrides values set in the parent scopes.
//
// A Context value is a reference to the shared data (parameters and RNG) plus a current scope.
// Calling Context.In returns a new reference to the same data, in a sub-scope.
package context

import (
	"encoding"
	"fmt"
	"reflect"
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/internal/scoped"
)

const (
	// ScopeSeparator is used between levels of scope. Scope names cannot use this character.
	ScopeSeparator = "/"

	// RootScope is the scope at the very root.
	RootScope = ScopeSeparator
)

// Context holds the scoped hyperparameters and the random number generator of a model.
//
// It is not safe for concurrent use.
type Context struct {
	// scope is the current scope, a path separated by ScopeSeparator.
	scope string

	// data shared by all references to this Context.
	data *contextData
}

type contextData struct {
	params *scoped.Params
	rng    *rngState
}

// New returns a new empty Context, in the root scope.
func New() *Context {
	return &Context{
		scope: RootScope,
		data: &contextData{
			params: scoped.New(ScopeSeparator),
		},
	}
}

// copy creates a new reference to the same data.
func (ctx *Context) copy() *Context {
	ctx2 := *ctx
	return &ctx2
}

// Scope returns the full scope path.
func (ctx *Context) Scope() string {
	return ctx.scope
}

// In returns a new reference to the Context with the extra given scope. No ScopeSeparator ("/") is
// allowed in scope.
func (ctx *Context) In(scope string) *Context {
	if scope == "" {
		Panicf("cannot use empty scope for Context.In()")
	}
	if strings.Contains(scope, ScopeSeparator) {
		Panicf("cannot use separator %q in scope element %q", ScopeSeparator, scope)
	}
	var newScope string
	if ctx.scope == ScopeSeparator {
		newScope = ScopeSeparator + scope
	} else {
		newScope = ctx.scope + ScopeSeparator + scope
	}
	return ctx.InAbsPath(newScope)
}

// Inf returns a new reference to the Context with the extra given scope, formatted with fmt.Sprintf.
// It is a shortcut to Context.In combined with fmt.Sprintf.
func (ctx *Context) Inf(format string, args ...any) *Context {
	return ctx.In(fmt.Sprintf(format, args...))
}

// InAbsPath returns a new reference to the Context with the given absolute scope path.
func (ctx *Context) InAbsPath(scopePath string) *Context {
	if !strings.HasPrefix(scopePath, ScopeSeparator) {
		Panicf("absolute scope path must start with separator %q, instead got %q", ScopeSeparator, scopePath)
	}
	ctx2 := ctx.copy()
	ctx2.scope = scopePath
	return ctx2
}

// SplitScope splits a "/scope/path/name" into its scope ("/scope/path") and the name. If there is no
// leading ScopeSeparator, the scope is empty and the whole string is the name.
func SplitScope(scopeAndName string) (scope, name string) {
	if !strings.HasPrefix(scopeAndName, ScopeSeparator) {
		return "", scopeAndName
	}
	separationIdx := strings.LastIndex(scopeAndName, ScopeSeparator)
	name = scopeAndName[separationIdx+1:]
	if separationIdx == 0 {
		scope = RootScope
	} else {
		scope = scopeAndName[:separationIdx]
	}
	return
}

// JoinScope joins a scope and a name, the reverse of SplitScope.
func JoinScope(scope, name string) string {
	if scope == "" {
		return name
	}
	if strings.HasSuffix(scope, ScopeSeparator) {
		return scope + name
	}
	return scope + ScopeSeparator + name
}

// GetParam returns the value for the given param key, searching successively from
// the current scope back to the root scope ("/"), in case the key is not found.
//
// E.g: if current scope is "/a/b", it will search for the key in "/a/b" scope, then
// in "/a" and finally in "/", and return the first result found.
func (ctx *Context) GetParam(key string) (value any, found bool) {
	return ctx.data.params.Get(ctx.scope, key)
}

// SetParam sets the given param in the current scope. It will be visible (by GetParam)
// within this scope and descendant scopes (but not by other scopes).
func (ctx *Context) SetParam(key string, value any) {
	ctx.data.params.Set(ctx.scope, key, value)
}

// SetParams sets a collection of parameters in the current scope.
func (ctx *Context) SetParams(keyValues map[string]any) {
	for key, value := range keyValues {
		ctx.data.params.Set(ctx.scope, key, value)
	}
}

// DeleteParam removes the param from the current scope only.
func (ctx *Context) DeleteParam(key string) {
	ctx.data.params.Delete(ctx.scope, key)
}

// EnumerateParams enumerates all parameters for all scopes calls fn with their values.
func (ctx *Context) EnumerateParams(fn func(scope, key string, value any)) {
	ctx.data.params.Enumerate(fn)
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// MustGetParam is like GetParam, but panics if the parameter is not found, or if it is not of type T.
//
// It tries to cast the value to the given type. If it fails, it tries to convert the
// value to the given type (so an `int` will be converted to a `float64` transparently).
// If that also fails, an explaining exception is thrown.
func MustGetParam[T any](ctx *Context, key string) T {
	var t T
	valueAny, found := ctx.GetParam(key)
	if !found {
		Panicf("parameter %q (of type %T) not found in scope %q (and its parents)", key, t, ctx.Scope())
	}
	if value, ok := valueAny.(T); ok {
		return value
	}

	v := reflect.ValueOf(valueAny)
	typeOfT := reflect.TypeOf(t)
	valueT := reflect.New(typeOfT)
	if valueT.Type().Implements(textUnmarshalerType) && v.Kind() == reflect.String {
		if err := valueT.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(v.String())); err != nil {
			Panicf("can't UnmarshalText %s to %s", v.String(), typeOfT.String())
		}
		return valueT.Elem().Interface().(T)
	}
	if !v.IsValid() || !v.CanConvert(typeOfT) || (typeOfT.Kind() == reflect.String && v.Kind() != reflect.String) {
		Panicf("MustGetParam/GetParamOr[%T](ctx, %q): ctx(scope=%q)[%q]=(%T) %#v, and cannot be converted to %T",
			t, key, ctx.Scope(), key, valueAny, valueAny, t)
	}
	return v.Convert(typeOfT).Interface().(T)
}

// GetParamOr either returns the value for the given param key in the context `ctx`,
// searching successively from the current scope back to the root scope ("/"), or if the
// key is not found or the key is set to nil, it returns the given default value.
//
// It tries to cast the value to the given type. If it fails, it tries to convert the
// value to the given type (so an `int` will be converted to a `float64` transparently).
// If that also fails, an explaining exception is thrown.
func GetParamOr[T any](ctx *Context, key string, defaultValue T) T {
	valueAny, found := ctx.GetParam(key)
	if !found || valueAny == nil {
		return defaultValue
	}
	if value, ok := valueAny.(T); ok {
		return value
	}
	return MustGetParam[T](ctx, key)
}
