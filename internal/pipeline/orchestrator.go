// Package pipeline runs a complete visual-metrics pass: it builds the job
// catalog, runs the metrics tool, aggregates results, scores similarity and
// writes the perfherder report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethpandaops/visual-metrics/internal/aggregate"
	"github.com/ethpandaops/visual-metrics/internal/archive"
	"github.com/ethpandaops/visual-metrics/internal/catalog"
	"github.com/ethpandaops/visual-metrics/internal/history"
	"github.com/ethpandaops/visual-metrics/internal/metrics"
	"github.com/ethpandaops/visual-metrics/internal/output"
	"github.com/ethpandaops/visual-metrics/internal/perfherder"
	"github.com/ethpandaops/visual-metrics/internal/runner"
	"github.com/ethpandaops/visual-metrics/internal/similarity"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// maxExitCode caps the failure count used as the process exit code.
const maxExitCode = 125

// liveOption marks a run that recorded live sites.
const liveOption = "live"

// Evaluator scores the new videos against their baselines.
type Evaluator interface {
	Evaluate(ctx context.Context, baselines similarity.Baselines, req similarity.Request) similarity.Result
}

// BaselineSource provides baseline videos between Start and Stop.
type BaselineSource interface {
	similarity.Baselines
	Start(ctx context.Context) error
	Stop() error
}

// OrchestratorConfig contains everything a run needs.
type OrchestratorConfig struct {
	Logger logrus.FieldLogger
	// Writer receives progress and result tables. Defaults to stdout.
	Writer io.Writer
	// Marker receives the PERFHERDER_DATA line. Nil disables it.
	Marker           io.Writer
	MetricsCollector metrics.Collector
	Catalog          catalog.Builder
	Pool             *runner.Pool
	Aggregator       *aggregate.Aggregator
	Report           *perfherder.Writer

	FetchDir     string
	ManifestPath string
	ArchivePath  string

	// Similarity and Baselines are both required to score similarity.
	Similarity          Evaluator
	Baselines           BaselineSource
	SimilarityThreshold float64
	Label               string

	// History is optional.
	History        history.Publisher
	PushgatewayURL string
}

// Outcome is what a run produced. Fields are filled in as far as the run got.
type Outcome struct {
	RunID      uuid.UUID
	Catalog    *catalog.Catalog
	Result     *aggregate.RunResult
	Similarity similarity.Result
	Report     *perfherder.Report
	Duration   time.Duration
}

// Failed returns the number of failed jobs.
func (o *Outcome) Failed() int {
	if o == nil || o.Result == nil {
		return 0
	}
	return o.Result.FailedRuns
}

// ExitCode maps a run to a process exit code: 1 when the run could not
// complete, otherwise the number of failed jobs capped at 125.
func ExitCode(out *Outcome, err error) int {
	if err != nil {
		return 1
	}

	return min(out.Failed(), maxExitCode)
}

// Orchestrator coordinates one visual-metrics run.
type Orchestrator struct {
	log            logrus.FieldLogger
	marker         io.Writer
	metrics        metrics.Collector
	formatter      output.Formatter
	catalog        catalog.Builder
	pool           *runner.Pool
	aggregator     *aggregate.Aggregator
	report         *perfherder.Writer
	fetchDir       string
	manifestPath   string
	archivePath    string
	similarity     Evaluator
	baselines      BaselineSource
	label          string
	history        history.Publisher
	pushgatewayURL string
}

// NewOrchestrator creates a new run orchestrator.
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	return &Orchestrator{
		log:            cfg.Logger.WithField("component", "orchestrator"),
		marker:         cfg.Marker,
		metrics:        cfg.MetricsCollector,
		formatter:      output.NewFormatter(cfg.Logger, writer, cfg.MetricsCollector, cfg.SimilarityThreshold),
		catalog:        cfg.Catalog,
		pool:           cfg.Pool,
		aggregator:     cfg.Aggregator,
		report:         cfg.Report,
		fetchDir:       cfg.FetchDir,
		manifestPath:   cfg.ManifestPath,
		archivePath:    cfg.ArchivePath,
		similarity:     cfg.Similarity,
		baselines:      cfg.Baselines,
		label:          cfg.Label,
		history:        cfg.History,
		pushgatewayURL: cfg.PushgatewayURL,
	}
}

// Start initializes the orchestrator's components.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.metrics.Start(ctx); err != nil {
		return fmt.Errorf("starting metrics collector: %w", err)
	}

	o.log.Debug("orchestrator started")

	return nil
}

// Stop releases the orchestrator's components.
func (o *Orchestrator) Stop() error {
	if err := o.metrics.Stop(); err != nil {
		return fmt.Errorf("stopping metrics collector: %w", err)
	}

	return nil
}

// Run executes the whole pipeline. Job failures are not errors: they are
// counted in the outcome. An error means the run could not produce a valid
// report.
func (o *Orchestrator) Run(ctx context.Context) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{RunID: uuid.New()}
	log := o.log.WithField("run_id", out.RunID.String())

	defer func() {
		out.Duration = time.Since(start)
	}()

	o.formatter.PrintPhase("Preparing jobs")

	if err := o.extract(ctx); err != nil {
		o.formatter.PrintError("Extracting results archive", err)
		return out, err
	}

	cat, err := o.catalog.Build(o.manifestPath)
	if err != nil {
		o.formatter.PrintError("Building job catalog", err)
		return out, fmt.Errorf("building job catalog: %w", err)
	}
	out.Catalog = cat

	o.formatter.PrintProgress(fmt.Sprintf("Built %d jobs", len(cat.Jobs)), time.Since(start))

	o.formatter.PrintPhase("Running visual metrics")

	runStart := time.Now()
	results := o.pool.Run(ctx, cat.Jobs)

	for i := range results {
		o.metrics.RecordJobResult(jobMetric(&results[i]))
	}

	out.Result = o.aggregator.Aggregate(results)

	o.formatter.PrintProgress(
		fmt.Sprintf("Ran %d jobs (%d failed)", out.Result.TotalJobs, out.Result.FailedRuns),
		time.Since(runStart),
	)

	if o.similarity != nil && o.baselines != nil {
		o.formatter.PrintPhase("Scoring similarity")
		out.Similarity = o.evaluate(ctx, cat, out.Result)
	}

	o.formatter.PrintJobResults()
	o.formatter.PrintSuites(out.Result.Suites)

	if o.similarity != nil && o.baselines != nil {
		o.formatter.PrintSimilarity(out.Similarity)
		o.formatter.PrintBaselineLoads()
	}

	out.Report = perfherder.NewReport(cat.Application, out.Result.Suites)

	if err := o.report.Write(out.Report, perfherder.NewSummary(out.Result), o.marker); err != nil {
		o.formatter.PrintError("Writing perfherder data", err)
		return out, fmt.Errorf("writing perfherder data: %w", err)
	}

	o.formatter.PrintSuccess("Wrote " + o.report.ReportPath())

	o.publish(ctx, out, start)
	o.push(ctx)

	o.formatter.PrintSummary()

	log.WithFields(logrus.Fields{
		"total":    out.Result.TotalJobs,
		"failed":   out.Result.FailedRuns,
		"duration": time.Since(start).String(),
	}).Info("run finished")

	return out, nil
}

// extract unpacks the results archive into the fetch dir when it exists.
func (o *Orchestrator) extract(ctx context.Context) error {
	if o.archivePath == "" {
		return nil
	}

	if _, err := os.Stat(o.archivePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			o.log.WithField("path", o.archivePath).Debug("no results archive, using fetch dir as is")
			return nil
		}
		return fmt.Errorf("checking results archive: %w", err)
	}

	start := time.Now()

	n, err := archive.ExtractTarGz(ctx, o.archivePath, o.fetchDir)
	if err != nil {
		return fmt.Errorf("extracting %s: %w", o.archivePath, err)
	}

	o.formatter.PrintProgress(fmt.Sprintf("Extracted %d files", n), time.Since(start))

	return nil
}

// evaluate scores similarity and merges the scores into the first suite.
// Failures are logged and leave the result empty.
func (o *Orchestrator) evaluate(ctx context.Context, cat *catalog.Catalog, res *aggregate.RunResult) similarity.Result {
	if err := o.baselines.Start(ctx); err != nil {
		o.log.WithError(err).Warn("could not start baseline source, skipping similarity")
		return similarity.Result{}
	}

	defer func() {
		if err := o.baselines.Stop(); err != nil {
			o.log.WithError(err).Warn("failed to stop baseline source")
		}
	}()

	sim := o.similarity.Evaluate(ctx, o.baselines, similarity.Request{
		Label:     o.label,
		NewVideos: cat.VideoPaths(),
		SkipLive:  cat.HasOption(liveOption),
	})

	if sim.Available() && !res.MergeSubtests(sim.Subtests()) {
		o.log.Warn("no suite to attach similarity metrics to")
	}

	return sim
}

// publish records the run in the history store. Errors never fail the run.
func (o *Orchestrator) publish(ctx context.Context, out *Outcome, started time.Time) {
	if o.history == nil {
		return
	}

	var result *multierror.Error

	if err := o.history.Start(ctx); err != nil {
		result = multierror.Append(result, err)
	} else {
		err := o.history.Publish(ctx, &history.Run{
			ID:          out.RunID,
			StartedAt:   started,
			FinishedAt:  time.Now(),
			Label:       o.label,
			Application: out.Catalog.Application,
			Result:      out.Result,
		})
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := o.history.Stop(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		o.log.WithError(err).Warn("failed to publish run history")
	}
}

// push sends the collected metrics to the pushgateway, best effort.
func (o *Orchestrator) push(ctx context.Context) {
	if o.pushgatewayURL == "" {
		return
	}

	if err := o.metrics.Push(ctx, o.pushgatewayURL, map[string]string{"label": o.label}); err != nil {
		o.log.WithError(err).Warn("failed to push metrics")
	}
}

func jobMetric(res *runner.Result) *metrics.JobResultMetric {
	m := &metrics.JobResultMetric{
		Seq:       res.Job.Seq,
		Test:      res.Job.TestName,
		Video:     res.Job.VideoPath,
		Passed:    res.OK,
		Duration:  res.Duration,
		Timestamp: time.Now(),
	}

	if res.Err != nil {
		m.ErrorMessage = res.Err.Error()
	}

	return m
}
