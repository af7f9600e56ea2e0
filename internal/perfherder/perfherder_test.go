package perfherder

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/visual-metrics/internal/aggregate"
	"github.com/ethpandaops/visual-metrics/internal/catalog"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func sampleReport() *Report {
	return NewReport(catalog.Application{Name: "fenix", Version: "120.0"}, []*aggregate.Suite{
		{
			Name:         "amazon",
			Tags:         []string{"cold", "visual"},
			ExtraOptions: []string{"cold"},
			Subtests: []*aggregate.Subtest{
				{
					Name:          "SpeedIndex",
					Replicates:    []float64{1200, 1300},
					Value:         1250,
					LowerIsBetter: true,
					Unit:          "ms",
					ShouldAlert:   true,
				},
				{
					Name:       "Similarity",
					Replicates: []float64{0.98},
					Value:      0.98,
					Unit:       "a.u.",
				},
			},
		},
	})
}

func newValidator(t *testing.T) *Validator {
	t.Helper()

	v, err := NewValidator("")
	require.NoError(t, err)

	return v
}

func TestReport_RoundTripValidates(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(sampleReport())
	require.NoError(t, err)

	require.NoError(t, newValidator(t).Validate(raw))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, map[string]interface{}{"name": "browsertime"}, decoded["framework"])
	assert.Equal(t, "pageload", decoded["type"])
}

func TestReport_EmptySuitesEncodeAsArray(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(NewReport(catalog.Application{Name: "fenix"}, nil))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"suites":[]`)
	assert.NotContains(t, string(raw), `"version"`)
}

func TestValidator_RejectsCorruptReports(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		corrupt func(doc map[string]interface{})
	}{
		{
			name:    "missing framework",
			corrupt: func(doc map[string]interface{}) { delete(doc, "framework") },
		},
		{
			name:    "missing suites",
			corrupt: func(doc map[string]interface{}) { delete(doc, "suites") },
		},
		{
			name: "subtest without value",
			corrupt: func(doc map[string]interface{}) {
				suite := doc["suites"].([]interface{})[0].(map[string]interface{})
				delete(suite["subtests"].([]interface{})[0].(map[string]interface{}), "value")
			},
		},
		{
			name: "non numeric value",
			corrupt: func(doc map[string]interface{}) {
				suite := doc["suites"].([]interface{})[0].(map[string]interface{})
				suite["subtests"].([]interface{})[0].(map[string]interface{})["value"] = "fast"
			},
		},
		{
			name: "invalid tag",
			corrupt: func(doc map[string]interface{}) {
				suite := doc["suites"].([]interface{})[0].(map[string]interface{})
				suite["tags"] = []interface{}{"not a tag!"}
			},
		},
		{
			name:    "unknown framework",
			corrupt: func(doc map[string]interface{}) { doc["framework"] = map[string]interface{}{"name": "nope"} },
		},
	}

	v := newValidator(t)

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw, err := json.Marshal(sampleReport())
			require.NoError(t, err)

			var doc map[string]interface{}
			require.NoError(t, json.Unmarshal(raw, &doc))
			tt.corrupt(doc)

			corrupted, err := json.Marshal(doc)
			require.NoError(t, err)

			require.ErrorIs(t, v.Validate(corrupted), ErrSchemaViolation)
		})
	}
}

func TestNewValidator_Sources(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	v, err := NewValidator(filepath.Join(dir, "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "embedded", v.Source())

	strict := filepath.Join(dir, "strict.json")
	require.NoError(t, os.WriteFile(strict, []byte(`{"type": "object", "required": ["extra"]}`), 0o600))

	v, err = NewValidator(strict)
	require.NoError(t, err)
	assert.Equal(t, strict, v.Source())
	require.ErrorIs(t, v.Validate([]byte(`{}`)), ErrSchemaViolation)

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{not json`), 0o600))

	_, err = NewValidator(broken)
	require.Error(t, err)
}

func TestWriter_Write(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "artifacts")
	w := NewWriter(quietLogger(), dir, newValidator(t))

	var marker bytes.Buffer

	summary := Summary{TotalJobs: 3, SuccessfulRuns: 2, FailedRuns: 1}
	require.NoError(t, w.Write(sampleReport(), summary, &marker))

	raw, err := os.ReadFile(w.ReportPath())
	require.NoError(t, err)
	assert.Equal(t, Marker+string(raw)+"\n", marker.String())

	rawSummary, err := os.ReadFile(w.SummaryPath())
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_jobs": 3, "successful_runs": 2, "failed_runs": 1}`, string(rawSummary))
}

func TestWriter_InvalidReportIsNotWritten(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(quietLogger(), dir, newValidator(t))

	report := sampleReport()
	report.Framework.Name = "unknown"

	var marker bytes.Buffer

	err := w.Write(report, Summary{TotalJobs: 1, SuccessfulRuns: 1}, &marker)
	require.ErrorIs(t, err, ErrSchemaViolation)

	assert.NoFileExists(t, w.ReportPath())
	assert.FileExists(t, w.SummaryPath())
	assert.Empty(t, marker.String())
}

func TestNewSummary(t *testing.T) {
	t.Parallel()

	got := NewSummary(&aggregate.RunResult{TotalJobs: 2, SuccessfulRuns: 1, FailedRuns: 1})
	assert.Equal(t, Summary{TotalJobs: 2, SuccessfulRuns: 1, FailedRuns: 1}, got)
}
