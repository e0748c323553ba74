// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package activations implements several common activations over scalar values, and includes a
// generic Apply method to apply an activation by its type.
//
// There is also FromName to convert an activation name (string) to its type, and ApplyFromContext
// that applies an activation based on the hyperparameter ParamActivation defined in a context.
package activations

import (
	"fmt"
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/scalargrad/pkg/core/value"
	"github.com/gomlx/scalargrad/pkg/ml/context"
)

const (
	// ParamActivation context hyperparameter defines the activation to use, for models using
	// ApplyFromContext. Available values are: `none`, `relu`, `leaky_relu`, `sigmoid`, `tanh` or
	// `swish`. The default is `relu`.
	ParamActivation = "activation"
)

// Type is an enum for the supported activation functions.
//
// It is converted to snake-format strings (e.g.: TypeLeakyRelu -> "leaky_relu"), and can be
// converted from a string with TypeString.
type Type int

const (
	TypeNone Type = iota
	TypeRelu
	TypeSigmoid
	TypeLeakyRelu
	TypeSwish
	TypeTanh
)

var typeNames = []string{"none", "relu", "sigmoid", "leaky_relu", "swish", "tanh"}

// String implements fmt.Stringer.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// TypeValues returns all valid activation types.
func TypeValues() []Type {
	values := make([]Type, len(typeNames))
	for ii := range values {
		values[ii] = Type(ii)
	}
	return values
}

// TypeString converts a name to the activation Type. The comparison is case-insensitive.
func TypeString(name string) (Type, error) {
	name = strings.ToLower(name)
	for ii, typeName := range typeNames {
		if typeName == name {
			return Type(ii), nil
		}
	}
	return TypeNone, fmt.Errorf("%q does not belong to activations.Type values", name)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, which allows the context to convert
// string hyperparameters to Type.
func (t *Type) UnmarshalText(text []byte) error {
	var err error
	*t, err = TypeString(string(text))
	return err
}

// ApplyFromContext picks an activation function from the context using [ParamActivation]
// parameter, and applies it to x.
//
// It defaults to "relu".
func ApplyFromContext(ctx *context.Context, x *value.Value) *value.Value {
	return Apply(FromContext(ctx), x)
}

// FromContext returns the activation set with ParamActivation in the context, either as a Type or as
// its name. It defaults to TypeRelu.
func FromContext(ctx *context.Context) Type {
	v, found := ctx.GetParam(ParamActivation)
	if !found || v == nil {
		return TypeRelu
	}
	switch activation := v.(type) {
	case Type:
		return activation
	case string:
		return FromName(activation)
	}
	Panicf("context parameter %q must be a string or an activations.Type, got %T", ParamActivation, v)
	return TypeNone
}

// Apply the given activation type.
// The TypeNone activation is a no-op.
//
// See TypeValues for valid values.
func Apply(activation Type, x *value.Value) *value.Value {
	switch activation {
	case TypeNone:
		return x
	case TypeRelu:
		return value.Relu(x)
	case TypeLeakyRelu:
		return LeakyRelu(x)
	case TypeSigmoid:
		return Sigmoid(x)
	case TypeTanh:
		return value.Tanh(x)
	case TypeSwish:
		return Swish(x)
	default:
		Panicf("Apply got invalid activation value %q: options are %v", activation, TypeValues())
	}
	return nil
}

// FromName converts the name of an activation to its type.
// It panics with a helpful message if name is invalid.
//
// And empty string is converted to TypeNone.
func FromName(activationName string) Type {
	if activationName == "" {
		return TypeNone
	}
	activation, err := TypeString(activationName)
	if err != nil {
		Panicf("invalid activation name %q: options are %v", activationName, TypeValues())
	}
	return activation
}

// LeakyReluAlpha is the slope used by LeakyRelu for negative inputs.
const LeakyReluAlpha = 0.3

// LeakyRelu activation function. It allows a small gradient when the unit is not active (x < 0).
//
// It returns `x if x >= 0; alpha*x if x < 0`, computed as `relu(x) - alpha*relu(-x)`.
func LeakyRelu(x *value.Value) *value.Value {
	return value.Sub(value.Relu(x), value.MulScalar(value.Relu(value.Neg(x)), LeakyReluAlpha))
}

// Sigmoid returns `1/(1+exp(-x))`.
func Sigmoid(x *value.Value) *value.Value {
	return value.ScalarDiv(1, value.AddScalar(value.Exp(value.Neg(x)), 1))
}

// Swish activation (or SiLU) returns `x * Sigmoid(x)`.
func Swish(x *value.Value) *value.Value {
	return value.Mul(x, Sigmoid(x))
}
