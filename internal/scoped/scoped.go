// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scoped provides a mapping from a string to any data type that is "scoped".
package scoped

import (
	"strings"

	"github.com/gomlx/scalargrad/pkg/support/xslices"
)

// Params provides a mapping from string to any data type that is "scoped":
//
//   - For every scope there is a map of string to data.
//   - Accessing a key triggers a search from the current scope up to the root scope, the
//     first result found is returned.
//
// Example: let's say the current Params hold:
//
//	Scope: "/": { "learning_rate": 0.1, "activation": "relu" }
//	Scope: "/layer_2": { "activation": "none" }
//
//	Params.Get("/layer_2/neuron_0", "activation") -> "none"
//	Params.Get("/layer_0", "activation") -> "relu"
//	Params.Get("/layer_0", "seed") -> Not found.
//
// The root scope is the Separator itself, and every other scope must start with it.
type Params struct {
	Separator  string
	scopeToMap map[string]map[string]any
}

// New create an empty Params.
func New(scopeSeparator string) *Params {
	return &Params{
		Separator:  scopeSeparator,
		scopeToMap: make(map[string]map[string]any),
	}
}

// Clone returns a deep copy of the Params.
func (p *Params) Clone() *Params {
	newParams := New(p.Separator)
	for scope, dataMap := range p.scopeToMap {
		newMap := make(map[string]any, len(dataMap))
		for key, value := range dataMap {
			newMap[key] = value
		}
		newParams.scopeToMap[scope] = newMap
	}
	return newParams
}

// Set sets the value for the given key, in the given scope.
func (p *Params) Set(scope, key string, value any) {
	dataMap := p.scopeToMap[scope]
	if dataMap == nil {
		dataMap = make(map[string]any)
		p.scopeToMap[scope] = dataMap
	}
	dataMap[key] = value
}

// Delete removes the key from the given scope only. Parent scopes are not touched.
func (p *Params) Delete(scope, key string) {
	delete(p.scopeToMap[scope], key)
}

// Get retrieves the value for the given key in the given scope or any parent scope.
// E.g: Get("/a/b", "myKey") will search for "myKey" in scopes "/a/b", "/a" and "/"
// consecutively until "myKey" is found.
//
// It returns the first value found if any, and whether some value was found.
func (p *Params) Get(scope, key string) (value any, found bool) {
	for {
		if dataMap := p.scopeToMap[scope]; dataMap != nil {
			if value, found = dataMap[key]; found {
				return
			}
		}
		if scope == p.Separator || scope == "" {
			return nil, false
		}
		scope = p.parent(scope)
	}
}

// parent returns the scope one level up, or the root scope.
func (p *Params) parent(scope string) string {
	idx := strings.LastIndex(scope, p.Separator)
	if idx <= 0 {
		return p.Separator
	}
	return scope[:idx]
}

// Enumerate enumerates all parameters stored, sorted by scope and then key, and calls the given closure with them.
func (p *Params) Enumerate(fn func(scope, key string, value any)) {
	for _, scope := range xslices.SortedKeys(p.scopeToMap) {
		keyValues := p.scopeToMap[scope]
		for _, key := range xslices.SortedKeys(keyValues) {
			fn(scope, key, keyValues[key])
		}
	}
}
