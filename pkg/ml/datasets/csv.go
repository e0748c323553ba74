package datasets

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FromCSV reads a CSV file with a header line into an InMemoryDataset.
//
// The columns named in labelColumns become the labels of each example (in the order given), all other
// columns become its inputs (in the order of the file). Every value must be numeric.
func FromCSV(name string, r io.Reader, labelColumns ...string) (*InMemoryDataset, error) {
	if len(labelColumns) == 0 {
		return nil, errors.Errorf("FromCSV(%q): at least one label column must be given", name)
	}
	df := dataframe.ReadCSV(r, dataframe.HasHeader(true), dataframe.DefaultType(series.Float))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "FromCSV(%q): failed to parse CSV", name)
	}
	names := df.Names()
	for _, labelCol := range labelColumns {
		if !slices.Contains(names, labelCol) {
			return nil, errors.Errorf("FromCSV(%q): label column %q not found, columns are %q", name, labelCol, names)
		}
	}
	var inputColumns []string
	for _, colName := range names {
		if !slices.Contains(labelColumns, colName) {
			inputColumns = append(inputColumns, colName)
		}
	}
	if len(inputColumns) == 0 {
		return nil, errors.Errorf("FromCSV(%q): no input columns left after removing the labels %q", name, labelColumns)
	}
	numRows := df.Nrow()
	klog.V(1).Infof("FromCSV(%q): %d rows, inputs=%q, labels=%q", name, numRows, inputColumns, labelColumns)

	toExamples := func(columns []string) ([][]float64, error) {
		examples := make([][]float64, numRows)
		for rowNum := range examples {
			examples[rowNum] = make([]float64, len(columns))
		}
		for colNum, colName := range columns {
			col := df.Col(colName)
			if col.Err != nil {
				return nil, errors.Wrapf(col.Err, "column %q", colName)
			}
			for rowNum, v := range col.Float() {
				if math.IsNaN(v) {
					return nil, errors.Errorf("column %q, row %d: value %q is not a number",
						colName, rowNum+1, col.Elem(rowNum).String())
				}
				examples[rowNum][colNum] = v
			}
		}
		return examples, nil
	}
	inputs, err := toExamples(inputColumns)
	if err != nil {
		return nil, errors.WithMessagef(err, "FromCSV(%q) reading inputs", name)
	}
	labels, err := toExamples(labelColumns)
	if err != nil {
		return nil, errors.WithMessagef(err, "FromCSV(%q) reading labels", name)
	}
	return InMemory(name, inputs, labels)
}

// LoadCSV opens the CSV file in path and reads it with FromCSV. The dataset is named after the file.
func LoadCSV(path string, labelColumns ...string) (*InMemoryDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open CSV dataset")
	}
	defer func() { _ = f.Close() }()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return FromCSV(name, f, labelColumns...)
}
