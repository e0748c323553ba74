// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line: a progress bar
// attached to the training loop, reporting of evaluations and parsing of hyperparameters settings.
package commandline

import (
	"fmt"
	"io"
	"os"

	"github.com/gomlx/scalargrad/pkg/ml/train"
)

// ReportEval reports on the command line the results of evaluating the datasets using trainer.Eval.
func ReportEval(trainer *train.Trainer, datasets ...train.Dataset) error {
	return FprintEval(os.Stdout, trainer, datasets...)
}

// FprintEval is like ReportEval, but writes the report to w.
func FprintEval(w io.Writer, trainer *train.Trainer, datasets ...train.Dataset) error {
	for _, ds := range datasets {
		_, _ = fmt.Fprintf(w, "Results on %s:\n", ds.Name())
		metricsValues, err := trainer.Eval(ds)
		if err != nil {
			return err
		}
		for metricIdx, metric := range trainer.EvalMetrics() {
			value := metricsValues[metricIdx]
			_, _ = fmt.Fprintf(w, "\t%s (%s): %s\n", metric.Name(), metric.ShortName(), metric.PrettyPrint(value))
		}
	}
	return nil
}
