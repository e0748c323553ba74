// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package value

import "fmt"

// OpType identifies the operation that produced a Value.
//
// Only the primitive operations have an OpType: negation, subtraction and division are composed
// from them, the same way the expression graph would be written by hand.
type OpType int

const (
	// OpTypeNone is the OpType of leaf values.
	OpTypeNone OpType = iota
	OpTypeAdd
	OpTypeMul
	OpTypePow
	OpTypeRelu
	OpTypeTanh
	OpTypeExp
)

var opTypeSymbols = map[OpType]string{
	OpTypeNone: "",
	OpTypeAdd:  "+",
	OpTypeMul:  "*",
	OpTypePow:  "**",
	OpTypeRelu: "ReLU",
	OpTypeTanh: "tanh",
	OpTypeExp:  "exp",
}

// Symbol returns the short symbol used when printing the graph, e.g. "+" for OpTypeAdd.
func (op OpType) Symbol() string {
	symbol, found := opTypeSymbols[op]
	if !found {
		return fmt.Sprintf("OpType(%d)", int(op))
	}
	return symbol
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	switch op {
	case OpTypeNone:
		return "None"
	case OpTypeAdd:
		return "Add"
	case OpTypeMul:
		return "Mul"
	case OpTypePow:
		return "Pow"
	case OpTypeRelu:
		return "Relu"
	case OpTypeTanh:
		return "Tanh"
	case OpTypeExp:
		return "Exp"
	}
	return fmt.Sprintf("OpType(%d)", int(op))
}
