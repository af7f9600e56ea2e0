package perfherder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const (
	reportFile  = "perfherder-data.json"
	summaryFile = "summary.json"
)

// Writer persists reports and summaries into an output directory.
type Writer struct {
	dir       string
	validator *Validator
	log       logrus.FieldLogger
}

// NewWriter creates a Writer for dir.
func NewWriter(log logrus.FieldLogger, dir string, validator *Validator) *Writer {
	return &Writer{
		dir:       dir,
		validator: validator,
		log:       log.WithField("component", "report_writer"),
	}
}

// ReportPath is where the report is written.
func (w *Writer) ReportPath() string {
	return filepath.Join(w.dir, reportFile)
}

// SummaryPath is where the run summary is written.
func (w *Writer) SummaryPath() string {
	return filepath.Join(w.dir, summaryFile)
}

// Write stores the summary, then validates the report and, if it conforms,
// stores it and echoes it to marker behind the PERFHERDER_DATA prefix. A
// report that fails validation is never written.
func (w *Writer) Write(report *Report, summary Summary, marker io.Writer) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	if err := w.WriteSummary(summary); err != nil {
		return err
	}

	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	if err := w.validator.Validate(raw); err != nil {
		return err
	}

	if err := os.WriteFile(w.ReportPath(), raw, 0o644); err != nil { //nolint:gosec // artifacts are world readable
		return fmt.Errorf("writing report: %w", err)
	}

	if marker != nil {
		if _, err := fmt.Fprintf(marker, "%s%s\n", Marker, raw); err != nil {
			return fmt.Errorf("echoing report: %w", err)
		}
	}

	w.log.WithFields(logrus.Fields{
		"path":   w.ReportPath(),
		"suites": len(report.Suites),
	}).Info("wrote perfherder data")

	return nil
}

// WriteSummary stores the run summary on its own.
func (w *Writer) WriteSummary(summary Summary) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	if err := os.WriteFile(w.SummaryPath(), raw, 0o644); err != nil { //nolint:gosec // artifacts are world readable
		return fmt.Errorf("writing summary: %w", err)
	}

	w.log.WithFields(logrus.Fields{
		"total":  summary.TotalJobs,
		"failed": summary.FailedRuns,
	}).Debug("wrote run summary")

	return nil
}
