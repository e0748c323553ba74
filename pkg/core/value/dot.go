// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package value

import (
	"bufio"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// WriteDot writes the expression graph that produced v in Graphviz DOT format, from left (leaves)
// to right (v). Each Value is a record with its label, data and gradient, and each operation is
// an extra small node between the inputs and the output.
//
// Render it with e.g. `dot -Tsvg graph.dot -o graph.svg`.
func (v *Value) WriteDot(w io.Writer) error {
	buf := bufio.NewWriter(w)
	_, _ = fmt.Fprintln(buf, "digraph G {")
	_, _ = fmt.Fprintln(buf, "\trankdir=LR;")
	for _, node := range v.TopologicalOrder() {
		name := node.label
		if name == "" {
			name = fmt.Sprintf("#%d", node.id)
		}
		_, _ = fmt.Fprintf(buf, "\tv%d [shape=record, label=\"{ %s | data %.4f | grad %.4f }\"];\n",
			node.id, dotEscape(name), node.Data, node.Grad)
		if node.op == OpTypeNone {
			continue
		}
		opLabel := node.op.Symbol()
		if node.op == OpTypePow {
			opLabel = fmt.Sprintf("**%g", node.exponent)
		}
		_, _ = fmt.Fprintf(buf, "\tv%d_op [label=\"%s\"];\n", node.id, dotEscape(opLabel))
		_, _ = fmt.Fprintf(buf, "\tv%d_op -> v%d;\n", node.id, node.id)
		for _, input := range node.inputs {
			_, _ = fmt.Fprintf(buf, "\tv%d -> v%d_op;\n", input.id, node.id)
		}
	}
	_, _ = fmt.Fprintln(buf, "}")
	if err := buf.Flush(); err != nil {
		return errors.Wrapf(err, "failed to write DOT graph for %s", v)
	}
	return nil
}

// dotEscape escapes the characters that have a special meaning inside a DOT record label.
func dotEscape(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '"', '{', '}', '|', '<', '>', '\\':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
