package main

import (
	"fmt"
	"io"
	"os"

	"github.com/gomlx/scalargrad/examples/reference"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// checkTolerance is the tolerance used by -check to compare the results with the expected ones.
const checkTolerance = 1e-9

func runReference(w io.Writer, args []string) error {
	fs := newFlagSet("reference")
	x0 := fs.Float64("x", reference.DefaultInput, "Value of the input x.")
	check := fs.Bool("check", true,
		fmt.Sprintf("Fail if the results differ from y=%g and dy/dx=%g. Only used if -x is the default %g.",
			reference.ExpectedOutput, reference.ExpectedGradient, reference.DefaultInput))
	dotPath := fs.String("dot", "", "If set, writes the expression graph, after the backward pass, in Graphviz DOT format to the given file.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return errors.Errorf("unexpected arguments %q", fs.Args())
	}

	x, y := reference.Build(*x0)
	y.Backward()
	klog.V(1).Infof("reference graph has %d values", len(y.TopologicalOrder()))
	_, _ = fmt.Fprintln(w, y.Data)
	_, _ = fmt.Fprintln(w, x.Grad)

	if *dotPath != "" {
		if err := writeDot(*dotPath, y.WriteDot); err != nil {
			return err
		}
	}

	if *check && *x0 == reference.DefaultInput && !reference.Check(y.Data, x.Grad, checkTolerance) {
		return errors.Errorf("reference check failed: got y=%g and dy/dx=%g, expected y=%g and dy/dx=%g",
			y.Data, x.Grad, reference.ExpectedOutput, reference.ExpectedGradient)
	}
	return nil
}

func writeDot(path string, writeFn func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create DOT file %q", path)
	}
	if err = writeFn(f); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close DOT file %q", path)
	}
	klog.V(1).Infof("expression graph written to %q", path)
	return nil
}
