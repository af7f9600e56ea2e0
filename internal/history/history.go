// Package history stores run results in ClickHouse for trend analysis.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/ethpandaops/visual-metrics/internal/aggregate"
	"github.com/ethpandaops/visual-metrics/internal/catalog"
	"github.com/ethpandaops/visual-metrics/internal/clickhouse"
	"github.com/ethpandaops/visual-metrics/internal/migrations"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

const (
	runsTable    = "vismet_runs"
	resultsTable = "vismet_results"
)

var errNotStarted = errors.New("history publisher not started")

// Run is everything recorded about one pipeline execution.
type Run struct {
	ID          uuid.UUID
	StartedAt   time.Time
	FinishedAt  time.Time
	Label       string
	Application catalog.Application
	Result      *aggregate.RunResult
}

// ResultRow is one replicate of one subtest.
type ResultRow struct {
	RunID              uuid.UUID
	StartedAt          time.Time
	Label              string
	Application        string
	ApplicationVersion string
	Suite              string
	Subtest            string
	Unit               string
	LowerIsBetter      bool
	ShouldAlert        bool
	Value              float64
	ReplicateIndex     uint16
	Replicate          float64
}

// Rows flattens a run into one row per (suite, subtest, replicate).
func Rows(run *Run) []ResultRow {
	if run.Result == nil {
		return nil
	}

	var rows []ResultRow

	for _, suite := range run.Result.Suites {
		for _, st := range suite.Subtests {
			for i, rep := range st.Replicates {
				rows = append(rows, ResultRow{
					RunID:              run.ID,
					StartedAt:          run.StartedAt.UTC(),
					Label:              run.Label,
					Application:        run.Application.Name,
					ApplicationVersion: run.Application.Version,
					Suite:              suite.Name,
					Subtest:            st.Name,
					Unit:               st.Unit,
					LowerIsBetter:      st.LowerIsBetter,
					ShouldAlert:        st.ShouldAlert,
					Value:              st.Value,
					ReplicateIndex:     uint16(i), //nolint:gosec // replicate counts are tiny
					Replicate:          rep,
				})
			}
		}
	}

	return rows
}

// Publisher writes runs to the history store.
type Publisher interface {
	Start(ctx context.Context) error
	Publish(ctx context.Context, run *Run) error
	Stop() error
}

type publisher struct {
	dsn        string
	migrations migrations.Runner
	log        logrus.FieldLogger

	conn driver.Conn
}

// NewPublisher creates a ClickHouse-backed Publisher for dsn.
func NewPublisher(log logrus.FieldLogger, dsn string) Publisher {
	return &publisher{
		dsn:        dsn,
		migrations: migrations.NewRunner(log),
		log:        log.WithField("component", "history"),
	}
}

// Start connects and brings the schema up to date.
func (p *publisher) Start(ctx context.Context) error {
	opts, err := clickhouse.Options(p.dsn)
	if err != nil {
		return err
	}

	db := clickhouse.OpenDB(opts)
	defer db.Close()

	version, err := p.migrations.Up(ctx, db, opts.Auth.Database)
	if err != nil {
		return fmt.Errorf("migrating history schema: %w", err)
	}

	conn, err := clickhouse.Connect(ctx, opts)
	if err != nil {
		return err
	}

	p.conn = conn

	p.log.WithFields(logrus.Fields{
		"database":       opts.Auth.Database,
		"schema_version": version,
	}).Info("history store ready")

	return nil
}

// Publish inserts the run summary and every replicate.
func (p *publisher) Publish(ctx context.Context, run *Run) error {
	if p.conn == nil {
		return errNotStarted
	}

	if err := p.insertRun(ctx, run); err != nil {
		return err
	}

	rows := Rows(run)
	if len(rows) == 0 {
		return nil
	}

	batch, err := p.conn.PrepareBatch(ctx, "INSERT INTO "+resultsTable)
	if err != nil {
		return fmt.Errorf("preparing results batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.RunID,
			r.StartedAt,
			r.Label,
			r.Application,
			r.ApplicationVersion,
			r.Suite,
			r.Subtest,
			r.Unit,
			r.LowerIsBetter,
			r.ShouldAlert,
			r.Value,
			r.ReplicateIndex,
			r.Replicate,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("appending result row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending results batch: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"run_id": run.ID,
		"rows":   len(rows),
	}).Info("published run history")

	return nil
}

func (p *publisher) insertRun(ctx context.Context, run *Run) error {
	var total, ok, failed int
	if run.Result != nil {
		total, ok, failed = run.Result.TotalJobs, run.Result.SuccessfulRuns, run.Result.FailedRuns
	}

	batch, err := p.conn.PrepareBatch(ctx, "INSERT INTO "+runsTable)
	if err != nil {
		return fmt.Errorf("preparing runs batch: %w", err)
	}

	if err := batch.Append(
		run.ID,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.Label,
		run.Application.Name,
		run.Application.Version,
		uint32(total),  //nolint:gosec // job counts fit
		uint32(ok),     //nolint:gosec // job counts fit
		uint32(failed), //nolint:gosec // job counts fit
	); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("appending run row: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending runs batch: %w", err)
	}

	return nil
}

// Stop closes the connection.
func (p *publisher) Stop() error {
	var result *multierror.Error

	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing clickhouse connection: %w", err))
		}
		p.conn = nil
	}

	return result.ErrorOrNil()
}

// Compile-time interface compliance check
var _ Publisher = (*publisher)(nil)
