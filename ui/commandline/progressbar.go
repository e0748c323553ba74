package commandline

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/scalargrad/pkg/ml/train"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value when it is called.
type ExtraMetricFn func() (name, value string)

// RefreshPeriod is the time between terminal updates.
var RefreshPeriod = time.Second * 3

// progressBar holds a progressbar being displayed.
type progressBar struct {
	out              io.Writer
	numSteps         int
	lastStepReported int
	bar              *progressbar.ProgressBar
	suffix           string
	plain            bool
	totalAmount      int

	// lipgloss-based rich and asynchronous display for the terminal.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// Write implements io.Writer, and appends the current suffix with metrics to each
// line. It is meant to be used as the writer for the enclosed progressbar.ProgressBar,
// so the progress bar and its suffix are written in the same line.
func (pBar *progressBar) Write(data []byte) (n int, err error) {
	n, err = pBar.out.Write(data)
	if err != nil {
		return n, err
	}
	_, err = io.WriteString(pBar.out, pBar.suffix)
	if err != nil {
		return 0, err
	}
	return
}

func (pBar *progressBar) onStart(loop *train.Loop, _ train.Dataset) error {
	pBar.lastStepReported = loop.LoopStep
	pBar.totalAmount = 0
	if loop.EndStep < 0 {
		pBar.numSteps = 1000 // Guess for now.
	} else {
		pBar.numSteps = loop.EndStep - loop.StartStep
	}
	pBar.bar = progressbar.NewOptions(pBar.numSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(!pBar.plain),
		progressbar.OptionEnableColorCodes(!pBar.plain),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar),
	)
	return nil
}

// stepsDescription returns the steps done so far, including the global step if it differs from the loop step.
func stepsDescription(loop *train.Loop) string {
	endStep := "?"
	if loop.EndStep >= 0 {
		endStep = humanize.Comma(int64(loop.EndStep))
	}
	if loop.Trainer.NumAccumulatingSteps() > 1 {
		return fmt.Sprintf("%s / %s of %s",
			humanize.Comma(loop.Trainer.GlobalStep()), humanize.Comma(int64(loop.LoopStep)), endStep)
	}
	return fmt.Sprintf("%s of %s", humanize.Comma(int64(loop.LoopStep)), endStep)
}

// plainSuffix formats the step and train metrics to be appended to the progress bar line.
func plainSuffix(loop *train.Loop, metrics []float64) string {
	trainMetrics := loop.Trainer.TrainMetrics()
	parts := make([]string, 0, len(trainMetrics)+2)
	parts = append(parts, fmt.Sprintf(" [step=%d]", loop.LoopStep))
	for metricIdx, metricObj := range trainMetrics {
		if metricIdx >= len(metrics) {
			break
		}
		parts = append(parts, fmt.Sprintf(" [%s=%s]", metricObj.ShortName(), metricObj.PrettyPrint(metrics[metricIdx])))
	}
	// Pad, to overwrite the remains of a longer previous line.
	parts = append(parts, "        ")
	return strings.Join(parts, "")
}

func (pBar *progressBar) onStep(loop *train.Loop, metrics []float64) error {
	if pBar.bar.IsFinished() {
		return nil
	}

	// Check whether there is something to update.
	amount := loop.LoopStep + 1 - pBar.lastStepReported // +1 because the current LoopStep is finished.
	if amount <= 0 {
		return nil
	}

	if pBar.plain {
		// The suffix is written along with the progressbar in progressBar.Write.
		pBar.suffix = plainSuffix(loop, metrics)
		_ = pBar.bar.Add(amount)

	} else {
		pBar.suffix = "\033[J" // Erase to the end of the line.

		// Enqueue an update to be asynchronously printed.
		trainMetrics := loop.Trainer.TrainMetrics()
		update := progressBarUpdate{
			amount:  amount,
			metrics: make([]string, 0, len(trainMetrics)+1),
		}
		update.metrics = append(update.metrics, stepsDescription(loop))
		for metricIdx, metricObj := range trainMetrics {
			update.metrics = append(update.metrics, metricObj.PrettyPrint(metrics[metricIdx]))
		}
		pBar.updates <- update
	}

	pBar.totalAmount += amount
	pBar.lastStepReported = loop.LoopStep + 1
	return nil
}

func (pBar *progressBar) onEnd(_ *train.Loop, _ []float64) error {
	if pBar.updates != nil {
		close(pBar.updates)
		pBar.asyncUpdatesDone.Wait()
		pBar.updates = nil
	}
	if pBar.termenv != nil {
		pBar.termenv.ShowCursor()
	}
	_, _ = fmt.Fprintln(pBar.out)
	return nil
}

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "scalargrad.ui.commandline.progressBar"

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

type progressBarUpdate struct {
	amount  int
	metrics []string
}

// maxUpdateFrequency is the time between updates to the terminal display of stats.
const maxUpdateFrequency = time.Millisecond * 200

// AttachProgressBar creates a commandline progress bar and attaches it to the Loop, so that
// everytime Loop is run, it will display a progress bar with progression and metrics.
//
// If the standard output is a terminal, the metrics are displayed in a table that is redrawn
// at each update. Otherwise, they are appended to the progress bar line.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out. They are only displayed on terminals.
func AttachProgressBar(loop *train.Loop, extraMetrics ...ExtraMetricFn) {
	isTerminal := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	attachProgressBar(loop, os.Stdout, !isTerminal, extraMetrics...)
}

func attachProgressBar(loop *train.Loop, out io.Writer, plain bool, extraMetrics ...ExtraMetricFn) {
	pBar := &progressBar{
		out:            out,
		plain:          plain,
		extraMetricFns: extraMetrics,
	}
	if !plain {
		pBar.termenv = termenv.NewOutput(out)
		pBar.statsStyle = lipgloss.NewStyle().PaddingLeft(8)
		pBar.statsTable = lgtable.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
			StyleFunc(func(row, col int) lipgloss.Style {
				if col == 0 {
					return rightAlignedStyle
				}
				return normalStyle
			})
		loop.OnStart(ProgressBarName+".async", -1, func(loop *train.Loop, _ train.Dataset) error {
			pBar.startAsyncUpdates(loop)
			return nil
		})
	}
	loop.OnStart(ProgressBarName, 0, pBar.onStart)
	// Update at least 1000 times during the loop or at least every RefreshPeriod.
	train.NTimesDuringLoop(loop, 1000, ProgressBarName, 0, pBar.onStep)
	train.PeriodicCallback(loop, RefreshPeriod, false, ProgressBarName, 0, pBar.onStep)
	loop.OnEnd(ProgressBarName, 0, pBar.onEnd)
}

// startAsyncUpdates starts the goroutine that draws the updates, so training is not slowed down
// by a slow terminal (e.g. over a remote connection). It is stopped by onEnd.
func (pBar *progressBar) startAsyncUpdates(loop *train.Loop) {
	pBar.isFirstOutput = true
	pBar.updates = make(chan progressBarUpdate, 100)
	pBar.asyncUpdatesDone.Add(1)
	go func() {
		defer pBar.asyncUpdatesDone.Done()
		for update := range pBar.updates {
			// Exhaust the updates in the buffer:
			amount := update.amount
		exhaust:
			for {
				select {
				case newUpdate, ok := <-pBar.updates:
					if !ok {
						break exhaust
					}
					amount += newUpdate.amount
					update = newUpdate
				default:
					break exhaust
				}
			}

			pBar.statsTable.Data(lgtable.NewStringData())
			if loop.Trainer.NumAccumulatingSteps() > 1 {
				pBar.statsTable.Row("Global/Train Steps", update.metrics[0])
			} else {
				pBar.statsTable.Row("Global Step", update.metrics[0])
			}
			pBar.statsTable.Row("Median train step duration", FormatDuration(loop.MedianTrainStepDuration()))
			for metricIdx, metricObj := range loop.Trainer.TrainMetrics() {
				pBar.statsTable.Row(metricObj.Name(), update.metrics[1+metricIdx])
			}
			for _, extraMetric := range pBar.extraMetricFns {
				name, value := extraMetric()
				pBar.statsTable.Row(name, value)
			}

			// Move the cursor back over the previous table, so it is overwritten.
			pBar.termenv.HideCursor()
			if !pBar.isFirstOutput {
				numLinesToBackup := len(update.metrics) + 2 + 2 + len(pBar.extraMetricFns)
				pBar.termenv.CursorPrevLine(numLinesToBackup)
			}
			pBar.isFirstOutput = false

			_, _ = fmt.Fprintln(pBar.out, pBar.statsStyle.Render(pBar.statsTable.String()))
			_ = pBar.bar.Add(amount) // Prints progress bar line.
			_, _ = fmt.Fprintln(pBar.out)
			pBar.termenv.ShowCursor()
			time.Sleep(maxUpdateFrequency)
		}
	}()
}
