// Package output prints human-friendly run progress and result tables.
package output

import (
	"fmt"
	"io"
	"time"

	"github.com/ethpandaops/visual-metrics/internal/aggregate"
	"github.com/ethpandaops/visual-metrics/internal/format"
	"github.com/ethpandaops/visual-metrics/internal/metrics"
	"github.com/ethpandaops/visual-metrics/internal/similarity"
	"github.com/ethpandaops/visual-metrics/internal/table"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Formatter provides clean, human-friendly output
type Formatter interface {
	PrintPhase(phase string)
	PrintProgress(message string, duration time.Duration)
	PrintSuccess(message string)
	PrintError(message string, err error)
	PrintJobResults()
	PrintSuites(suites []*aggregate.Suite)
	PrintSimilarity(res similarity.Result)
	PrintBaselineLoads()
	PrintSummary()
}

type formatter struct {
	writer io.Writer

	metrics    metrics.Collector
	jobs       *table.JobsFormatter
	suites     *table.SuitesFormatter
	similarity *table.SimilarityFormatter
	baselines  *table.BaselinesFormatter
	summary    *table.SummaryFormatter

	green *color.Color
	red   *color.Color
	blue  *color.Color
	gray  *color.Color
}

// NewFormatter creates a Formatter that reads run data from collector.
// threshold is the low-similarity threshold used to color scores.
func NewFormatter(log logrus.FieldLogger, writer io.Writer, collector metrics.Collector, threshold float64) Formatter {
	renderer := table.NewRenderer(log)

	return &formatter{
		writer:     writer,
		metrics:    collector,
		jobs:       table.NewJobsFormatter(log, renderer),
		suites:     table.NewSuitesFormatter(log, renderer),
		similarity: table.NewSimilarityFormatter(log, renderer, threshold),
		baselines:  table.NewBaselinesFormatter(log, renderer),
		summary:    table.NewSummaryFormatter(log, renderer),
		green:      color.New(color.FgGreen),
		red:        color.New(color.FgRed),
		blue:       color.New(color.FgBlue),
		gray:       color.New(color.FgHiBlack),
	}
}

// PrintPhase prints phase separator
func (f *formatter) PrintPhase(phase string) {
	_, _ = f.blue.Fprintf(f.writer, "\n▸ %s\n", phase)
}

// PrintProgress prints a step with its timing
func (f *formatter) PrintProgress(message string, duration time.Duration) {
	if duration > 0 {
		_, _ = f.gray.Fprintf(f.writer, "%s (%s)\n", message, format.Duration(duration))
		return
	}

	_, _ = fmt.Fprintf(f.writer, "%s\n", message)
}

// PrintSuccess prints a green message
func (f *formatter) PrintSuccess(message string) {
	_, _ = f.green.Fprintf(f.writer, "%s\n", message)
}

// PrintError prints a red message with error details
func (f *formatter) PrintError(message string, err error) {
	_, _ = f.red.Fprintf(f.writer, "%s", message)
	if err != nil {
		_, _ = f.red.Fprintf(f.writer, ": %v", err)
	}
	_, _ = fmt.Fprintf(f.writer, "\n")
}

func (f *formatter) PrintJobResults() {
	_, _ = fmt.Fprintln(f.writer, f.jobs.Format(f.metrics.GetJobMetrics()))
}

func (f *formatter) PrintSuites(suites []*aggregate.Suite) {
	_, _ = fmt.Fprintln(f.writer, f.suites.Format(suites))
}

func (f *formatter) PrintSimilarity(res similarity.Result) {
	_, _ = fmt.Fprintln(f.writer, f.similarity.Format(res))
}

// PrintBaselineLoads prints the baseline bundles fetched this run, if any.
func (f *formatter) PrintBaselineLoads() {
	loads := f.metrics.GetBaselineMetrics()
	if len(loads) == 0 {
		return
	}

	_, _ = fmt.Fprintln(f.writer, f.baselines.Format(loads))
}

func (f *formatter) PrintSummary() {
	_, _ = fmt.Fprintln(f.writer, f.summary.Format(f.metrics.GetSummary()))
}
