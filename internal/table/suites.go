package table

import (
	"strings"

	"github.com/ethpandaops/visual-metrics/internal/aggregate"
	"github.com/ethpandaops/visual-metrics/internal/format"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
)

// SuitesFormatter formats aggregated suites as a table.
type SuitesFormatter struct {
	log      logrus.FieldLogger
	renderer Renderer
	colors   *ColorHelper
}

// NewSuitesFormatter creates a new suites table formatter.
func NewSuitesFormatter(log logrus.FieldLogger, renderer Renderer) *SuitesFormatter {
	return &SuitesFormatter{
		log:      log.WithField("component", "table.suites_formatter"),
		renderer: renderer,
		colors:   NewColorHelper(),
	}
}

// Format renders one row per subtest.
func (f *SuitesFormatter) Format(suites []*aggregate.Suite) string {
	if len(suites) == 0 {
		return "No suites produced"
	}

	headers := []string{"Suite", "Subtest", "Value", "Replicates", "Unit", "Alert"}
	rows := make([][]string, 0)

	for _, suite := range suites {
		for _, st := range suite.Subtests {
			replicates := make([]string, 0, len(st.Replicates))
			for _, r := range st.Replicates {
				replicates = append(replicates, format.Number(r))
			}

			alert := ""
			if st.ShouldAlert {
				alert = f.colors.Warning("yes")
			}

			rows = append(rows, []string{
				suite.Name,
				st.Name,
				f.colors.Bold(format.Number(st.Value)),
				f.colors.Muted(strings.Join(replicates, ", ")),
				st.Unit,
				alert,
			})
		}
	}

	return "\n" + f.colors.Header("▸ Suites") + "\n\n" + f.renderer.RenderToString(headers, rows,
		WithColumnAlignment(
			tablewriter.ALIGN_LEFT,
			tablewriter.ALIGN_LEFT,
			tablewriter.ALIGN_RIGHT,
			tablewriter.ALIGN_LEFT,
			tablewriter.ALIGN_LEFT,
			tablewriter.ALIGN_LEFT,
		),
	)
}
