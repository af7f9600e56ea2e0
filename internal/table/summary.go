package table

import (
	"fmt"
	"strconv"

	"github.com/ethpandaops/visual-metrics/internal/format"
	"github.com/ethpandaops/visual-metrics/internal/metrics"
	"github.com/sirupsen/logrus"
)

// SummaryFormatter formats summary statistics as a table.
type SummaryFormatter struct {
	log      logrus.FieldLogger
	renderer Renderer
	colors   *ColorHelper
}

// NewSummaryFormatter creates a new summary table formatter.
func NewSummaryFormatter(log logrus.FieldLogger, renderer Renderer) *SummaryFormatter {
	return &SummaryFormatter{
		log:      log.WithField("component", "table.summary_formatter"),
		renderer: renderer,
		colors:   NewColorHelper(),
	}
}

// Format converts summary metrics into a formatted table string.
func (f *SummaryFormatter) Format(summary metrics.SummaryMetric) string {
	var passRate float64
	if summary.TotalJobs > 0 {
		passRate = float64(summary.PassedJobs) / float64(summary.TotalJobs) * 100.0
	}

	passedValue := fmt.Sprintf("%d (%s)", summary.PassedJobs, f.colors.FormatPercentage(passRate))
	if summary.PassedJobs == summary.TotalJobs {
		passedValue = f.colors.Success(fmt.Sprintf("%d (%.1f%%)", summary.PassedJobs, passRate))
	}

	failedValue := fmt.Sprintf("%d (%.1f%%)", summary.FailedJobs, 100.0-passRate)
	if summary.FailedJobs > 0 {
		failedValue = f.colors.Failure(failedValue)
	} else {
		failedValue = f.colors.Success(failedValue)
	}

	rows := [][]string{
		{"Total Jobs", f.colors.Bold(strconv.Itoa(summary.TotalJobs))},
		{"Passed", passedValue},
		{"Failed", failedValue},
		{"Total Duration", format.Duration(summary.TotalDuration)},
	}

	if loads := summary.CacheHits + summary.CacheMisses; loads > 0 {
		cacheValue := fmt.Sprintf("%.1f%% (%d/%d)", summary.CacheHitRate, summary.CacheHits, loads)

		switch {
		case summary.CacheHitRate == 100.0:
			cacheValue = f.colors.Success(cacheValue)
		case summary.CacheHitRate >= 50.0:
			cacheValue = f.colors.Warning(cacheValue)
		default:
			cacheValue = f.colors.Muted(cacheValue)
		}

		rows = append(rows,
			[]string{"Baseline Cache Hit Rate", cacheValue},
			[]string{"Baseline Data Loaded", format.Bytes(summary.TotalDataSize)},
		)
	}

	return "\n" + f.colors.Header("▸ Summary") + "\n\n" + f.renderer.RenderToString([]string{"Metric", "Value"}, rows)
}
