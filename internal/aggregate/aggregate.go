// Package aggregate reduces per-job metric readings into perfherder suites.
package aggregate

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ethpandaops/visual-metrics/internal/runner"
	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"
)

const (
	progressSuffix = "Progress"
	visualTag      = "visual"
	unitMs         = "ms"
)

// shouldAlert lists the metrics whose regressions raise alerts.
var shouldAlert = map[string]bool{
	"ContentfulSpeedIndex": true,
	"FirstVisualChange":    true,
	"LastVisualChange":     true,
	"PerceptualSpeedIndex": true,
	"SpeedIndex":           true,
}

// ShouldAlert reports whether regressions in the named metric raise alerts.
// The match is case-sensitive.
func ShouldAlert(name string) bool {
	return shouldAlert[name]
}

// Subtest is one metric series within a suite.
type Subtest struct {
	Name          string    `json:"name"`
	Replicates    []float64 `json:"replicates"`
	Value         float64   `json:"value"`
	LowerIsBetter bool      `json:"lowerIsBetter"`
	Unit          string    `json:"unit"`
	ShouldAlert   bool      `json:"shouldAlert"`
}

// Suite groups the subtests of one test configuration.
type Suite struct {
	Name         string     `json:"name"`
	Tags         []string   `json:"tags"`
	ExtraOptions []string   `json:"extraOptions"`
	Subtests     []*Subtest `json:"subtests"`

	testName string
	index    map[string]*Subtest
}

// TestName returns the test the suite was built from, before any
// disambiguation of its name.
func (s *Suite) TestName() string {
	return s.testName
}

// Subtest returns the named subtest, or nil.
func (s *Suite) Subtest(name string) *Subtest {
	for _, st := range s.Subtests {
		if st.Name == name {
			return st
		}
	}
	return nil
}

// RunResult is the aggregated outcome of a run.
type RunResult struct {
	Suites         []*Suite
	TotalJobs      int
	SuccessfulRuns int
	FailedRuns     int
}

// Suite returns the suite with the given name, or nil.
func (r *RunResult) Suite(name string) *Suite {
	for _, s := range r.Suites {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// MergeSubtests appends subtests to the first suite. It reports false when
// there is no suite to merge into.
func (r *RunResult) MergeSubtests(subtests []*Subtest) bool {
	if len(r.Suites) == 0 {
		return false
	}

	r.Suites[0].Subtests = append(r.Suites[0].Subtests, subtests...)

	return true
}

// Aggregator folds job results into suites. It is a sequential reduce over
// results that have already been gathered.
type Aggregator struct {
	log logrus.FieldLogger
}

// NewAggregator creates an Aggregator.
func NewAggregator(log logrus.FieldLogger) *Aggregator {
	return &Aggregator{
		log: log.WithField("component", "aggregator"),
	}
}

// Aggregate builds suites from results. Results are ordered by job sequence
// first so output does not depend on completion order.
func (a *Aggregator) Aggregate(results []runner.Result) *RunResult {
	ordered := make([]runner.Result, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Job.Seq < ordered[j].Job.Seq
	})

	var (
		out      = &RunResult{TotalJobs: len(results)}
		byConfig = make(map[string]*Suite)
		byTest   = make(map[string][]*Suite)
		names    = make(map[string]struct{})
	)

	for _, res := range ordered {
		if !res.OK {
			out.FailedRuns++
			continue
		}
		out.SuccessfulRuns++

		key := configKey(res.Job.TestName, res.Job.ExtraOptions)

		suite, ok := byConfig[key]
		if !ok {
			suite = newSuite(res.Job.TestName, res.Job.ExtraOptions, byTest[res.Job.TestName], names)
			byConfig[key] = suite
			byTest[res.Job.TestName] = append(byTest[res.Job.TestName], suite)
			names[suite.Name] = struct{}{}
			out.Suites = append(out.Suites, suite)
		}

		for _, reading := range res.Metrics {
			if strings.HasSuffix(reading.Name, progressSuffix) {
				continue
			}

			value, ok := coerce(reading.Value)
			if !ok {
				a.log.WithFields(logrus.Fields{
					"name":  reading.Name,
					"value": reading.Value,
					"job":   res.Job.Seq,
				}).Error("Could not convert value")
			}

			suite.add(reading.Name, value)
		}
	}

	for _, suite := range out.Suites {
		for _, st := range suite.Subtests {
			median, err := stats.Median(st.Replicates)
			if err != nil {
				a.log.WithError(err).WithField("subtest", st.Name).Warn("could not compute median")
				continue
			}
			st.Value = median
		}
	}

	a.log.WithFields(logrus.Fields{
		"suites":     len(out.Suites),
		"successful": out.SuccessfulRuns,
		"failed":     out.FailedRuns,
	}).Info("aggregated results")

	return out
}

func (s *Suite) add(name string, value float64) {
	st, ok := s.index[name]
	if !ok {
		st = &Subtest{
			Name:          name,
			LowerIsBetter: true,
			Unit:          unitMs,
			ShouldAlert:   ShouldAlert(name),
		}
		s.index[name] = st
		s.Subtests = append(s.Subtests, st)
	}

	st.Replicates = append(st.Replicates, value)
}

func configKey(testName string, options []string) string {
	return testName + "\x00" + strings.Join(options, "\x00")
}

// newSuite creates the suite for a new (test, options) configuration. The
// first configuration of a test keeps the test name; later ones are suffixed
// with the options the first one lacks.
func newSuite(testName string, options []string, siblings []*Suite, taken map[string]struct{}) *Suite {
	opts := make([]string, len(options))
	copy(opts, options)

	tags := make([]string, 0, len(opts)+1)
	tags = append(tags, opts...)
	tags = append(tags, visualTag)

	name := testName
	if len(siblings) > 0 {
		suffix := difference(opts, siblings[0].ExtraOptions)
		if len(suffix) == 0 {
			suffix = opts
		}
		if len(suffix) == 0 {
			suffix = []string{"default"}
		}
		name = testName + "-" + strings.Join(suffix, "-")
	}

	unique := name
	for i := 2; ; i++ {
		if _, ok := taken[unique]; !ok {
			break
		}
		unique = fmt.Sprintf("%s-%d", name, i)
	}

	return &Suite{
		Name:         unique,
		Tags:         tags,
		ExtraOptions: opts,
		Subtests:     make([]*Subtest, 0),
		testName:     testName,
		index:        make(map[string]*Subtest),
	}
}

// difference returns the elements of a not in b, in a's order.
func difference(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, v := range b {
		in[v] = struct{}{}
	}

	var out []string
	for _, v := range a {
		if _, ok := in[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// coerce converts a reported value to an integer replicate. Fractions are
// truncated; anything non-numeric becomes 0 and ok is false.
func coerce(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return float64(i), true
		}
		if f, err := val.Float64(); err == nil && !math.IsInf(f, 0) {
			return math.Trunc(f), true
		}
	case float64:
		return math.Trunc(val), true
	case int:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return float64(i), true
		}
	}

	return 0, false
}
