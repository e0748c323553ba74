package main

import (
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/scalargrad/pkg/support/xslices"
	"github.com/gomlx/scalargrad/ui/plots"
	"github.com/pkg/errors"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).Padding(0, 1)
	oddRowStyle    = lipgloss.NewStyle().Padding(0, 1)
	evenRowStyle   = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
)

// runMetric identifies one column of the metrics table: a metric of one training run.
type runMetric struct{ RunID, Short, MetricType string }

func runMetrics(w io.Writer, args []string) error {
	fs := newFlagSet("metrics")
	namesFlag := fs.String("names", "", "Regular expression that if matches the name or short name, the metric is included.")
	typesFlag := fs.String("types", "", "Comma-separated list of metric types (e.g.: loss,accuracy) to include.")
	labelsFlag := fs.Bool("labels", false, "Also lists the metrics short names with their full description.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.Errorf("metrics requires exactly one points file, got %q", fs.Args())
	}
	points, err := plots.LoadPoints(fs.Arg(0))
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return errors.Errorf("no metrics found in %q", fs.Arg(0))
	}

	var namesMatcher *regexp.Regexp
	if *namesFlag != "" {
		namesMatcher, err = regexp.Compile(*namesFlag)
		if err != nil {
			return errors.Wrapf(err, "failed to compile -names=%q", *namesFlag)
		}
	}
	var types []string
	if *typesFlag != "" {
		types = strings.Split(*typesFlag, ",")
	}
	selected := func(p plots.Point) bool {
		if namesMatcher == nil && types == nil {
			return true
		}
		foundName := namesMatcher != nil && (namesMatcher.MatchString(p.MetricName) || namesMatcher.MatchString(p.Short))
		foundType := slices.Contains(types, p.MetricType)
		return foundName || foundType
	}

	shortToName := make(map[string]string)
	columnsSet := make(map[runMetric]bool)
	runs := make(map[string]bool)
	for _, p := range points {
		shortToName[p.Short] = p.MetricName
		if !selected(p) {
			continue
		}
		columnsSet[runMetric{p.RunID, p.Short, p.MetricType}] = true
		runs[p.RunID] = true
	}
	if len(columnsSet) == 0 {
		return errors.Errorf("no metrics in %q matched the -names and -types filters", fs.Arg(0))
	}

	if *labelsFlag {
		_, _ = fmt.Fprintln(w, titleStyle.Render("Metrics Labels"))
		table := newPlainTable()
		table.Headers("Short", "MetricName")
		for _, short := range xslices.SortedKeys(shortToName) {
			table.Row(short, shortToName[short])
		}
		_, _ = fmt.Fprintln(w, table.Render())
	}

	_, _ = fmt.Fprintln(w, titleStyle.Render("Metrics Table"))
	_, _ = fmt.Fprintln(w, metricsTable(plots.NewPoints(points), columnsSet, len(runs) > 1))
	return nil
}

// metricsTable renders one row per global step, and one column per selected metric.
// If multiRun is set, the column headers are prefixed with the (shortened) run id.
func metricsTable(points plots.Points, columnsSet map[runMetric]bool, multiRun bool) string {
	columns := xslices.Keys(columnsSet)
	slices.SortFunc(columns, func(a, b runMetric) int {
		if c := strings.Compare(a.Short, b.Short); c != 0 {
			return c
		}
		return strings.Compare(a.RunID, b.RunID)
	})
	columnIdx := make(map[runMetric]int, len(columns))
	header := make([]string, 1+len(columns))
	header[0] = "Global Step"
	for ii, column := range columns {
		columnIdx[column] = ii + 1
		header[ii+1] = column.Short
		if multiRun {
			header[ii+1] = fmt.Sprintf("%s: %s", shortRunID(column.RunID), column.Short)
		}
	}

	table := newPlainTable()
	table.Headers(header...)
	for _, step := range xslices.SortedKeys(points) {
		row := make([]string, len(header))
		row[0] = humanize.Comma(int64(step))
		found := false
		for _, p := range points[step] {
			idx, ok := columnIdx[runMetric{p.RunID, p.Short, p.MetricType}]
			if !ok {
				continue
			}
			found = true
			switch p.MetricType {
			case "accuracy":
				row[idx] = fmt.Sprintf("%.2f%%", 100.0*p.Value)
			default:
				row[idx] = fmt.Sprintf("%.3g", p.Value)
			}
		}
		if found {
			table.Row(row...)
		}
	}
	return table.Render()
}

func shortRunID(runID string) string {
	if runID == "" {
		return "-"
	}
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row == lgtable.HeaderRow:
				s = headerRowStyle
			case row%2 == 0:
				s = evenRowStyle
			default:
				s = oddRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			}
			return
		})
}
