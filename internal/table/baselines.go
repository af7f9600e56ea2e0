package table

import (
	"github.com/ethpandaops/visual-metrics/internal/format"
	"github.com/ethpandaops/visual-metrics/internal/metrics"
	"github.com/sirupsen/logrus"
)

// BaselinesFormatter formats baseline bundle loads as a table.
type BaselinesFormatter struct {
	log      logrus.FieldLogger
	renderer Renderer
}

// NewBaselinesFormatter creates a new baseline loads table formatter.
func NewBaselinesFormatter(log logrus.FieldLogger, renderer Renderer) *BaselinesFormatter {
	return &BaselinesFormatter{
		log:      log.WithField("component", "table.baselines_formatter"),
		renderer: renderer,
	}
}

// Format renders one row per loaded bundle.
func (f *BaselinesFormatter) Format(loads []metrics.BaselineLoadMetric) string {
	if len(loads) == 0 {
		return "No baseline bundles loaded"
	}

	headers := []string{"Bundle", "Source", "Size", "Duration"}
	rows := make([][]string, 0, len(loads))

	for _, load := range loads {
		rows = append(rows, []string{
			load.Name,
			string(load.Source),
			format.Bytes(load.SizeBytes),
			format.Duration(load.Duration),
		})
	}

	return "\n▸ Baseline Bundles Loaded\n\n" + f.renderer.RenderToString(headers, rows)
}
