// Package perfherder builds, validates and writes the performance report.
package perfherder

import (
	"github.com/ethpandaops/visual-metrics/internal/aggregate"
	"github.com/ethpandaops/visual-metrics/internal/catalog"
)

const (
	// FrameworkName is the perfherder framework the report is filed under.
	FrameworkName = "browsertime"
	// ReportType is the perfherder report type.
	ReportType = "pageload"
	// Marker prefixes the report when it is echoed for log scraping.
	Marker = "PERFHERDER_DATA: "
)

// Framework names the harness that produced the data.
type Framework struct {
	Name string `json:"name"`
}

// Report is the perfherder performance artifact.
type Report struct {
	Framework   Framework           `json:"framework"`
	Application catalog.Application `json:"application"`
	Type        string              `json:"type"`
	Suites      []*aggregate.Suite  `json:"suites"`
}

// Summary lists how many jobs ran and how many failed.
type Summary struct {
	TotalJobs      int `json:"total_jobs"`
	SuccessfulRuns int `json:"successful_runs"`
	FailedRuns     int `json:"failed_runs"`
}

// NewReport assembles a report from aggregated suites.
func NewReport(app catalog.Application, suites []*aggregate.Suite) *Report {
	if suites == nil {
		suites = make([]*aggregate.Suite, 0)
	}

	return &Report{
		Framework:   Framework{Name: FrameworkName},
		Application: app,
		Type:        ReportType,
		Suites:      suites,
	}
}

// NewSummary derives the run summary from an aggregated result.
func NewSummary(res *aggregate.RunResult) Summary {
	return Summary{
		TotalJobs:      res.TotalJobs,
		SuccessfulRuns: res.SuccessfulRuns,
		FailedRuns:     res.FailedRuns,
	}
}
