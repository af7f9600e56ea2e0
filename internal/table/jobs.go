package table

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethpandaops/visual-metrics/internal/format"
	"github.com/ethpandaops/visual-metrics/internal/metrics"
	"github.com/sirupsen/logrus"
)

const maxErrorWidth = 50

// JobsFormatter formats per-job results as a table.
type JobsFormatter struct {
	log      logrus.FieldLogger
	renderer Renderer
	colors   *ColorHelper
}

// NewJobsFormatter creates a new job results table formatter.
func NewJobsFormatter(log logrus.FieldLogger, renderer Renderer) *JobsFormatter {
	return &JobsFormatter{
		log:      log.WithField("component", "table.jobs_formatter"),
		renderer: renderer,
		colors:   NewColorHelper(),
	}
}

// Format renders job results followed by a section detailing each failure.
func (f *JobsFormatter) Format(jobs []metrics.JobResultMetric) string {
	if len(jobs) == 0 {
		return "No jobs executed"
	}

	var (
		headers = []string{"Job", "Test", "Video", "Status", "Duration", "Details"}
		rows    = make([][]string, 0, len(jobs))
		failed  = make([]metrics.JobResultMetric, 0)
	)

	for _, job := range jobs {
		var details string
		if !job.Passed {
			failed = append(failed, job)
			details = f.colors.Muted(format.Truncate(job.ErrorMessage, maxErrorWidth))
		}

		rows = append(rows, []string{
			strconv.Itoa(job.Seq),
			job.Test,
			format.ShortPath(job.Video),
			f.colors.FormatStatus(job.Passed),
			format.Duration(job.Duration),
			details,
		})
	}

	out := "\n" + f.colors.Header("▸ Job Results") + "\n\n" + f.renderer.RenderToString(headers, rows)

	if len(failed) > 0 {
		out += f.formatFailures(failed)
	}

	return out
}

func (f *JobsFormatter) formatFailures(failed []metrics.JobResultMetric) string {
	var builder strings.Builder

	builder.WriteString("\n\n" + f.colors.Header("▸ Failed Jobs") + "\n\n")

	for _, job := range failed {
		builder.WriteString(fmt.Sprintf("[JOB-%d] %s (%s)\n", job.Seq, job.Video, format.Duration(job.Duration)))

		msg := job.ErrorMessage
		if msg == "" {
			msg = "job failed (no details available)"
		}

		builder.WriteString(fmt.Sprintf("  %s: %s\n", f.colors.Failure("Error"), msg))
	}

	return builder.String()
}
