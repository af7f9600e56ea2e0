// Package migrations holds the history schema and applies it with golang-migrate.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/clickhouse"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

// MigrationsTable records applied schema versions.
const MigrationsTable = "vismet_schema_migrations"

//go:embed sql/*.sql
var files embed.FS

// Runner applies the embedded migrations.
type Runner interface {
	Up(ctx context.Context, db *sql.DB, database string) (uint, error)
}

type runner struct {
	log logrus.FieldLogger
}

// NewRunner creates a migration Runner.
func NewRunner(log logrus.FieldLogger) Runner {
	return &runner{
		log: log.WithField("component", "migrations"),
	}
}

// Up applies every pending migration and returns the resulting version.
func (r *runner) Up(ctx context.Context, db *sql.DB, database string) (uint, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	sourceDriver, err := iofs.New(files, "sql")
	if err != nil {
		return 0, fmt.Errorf("creating source driver: %w", err)
	}

	dbDriver, err := clickhouse.WithInstance(db, &clickhouse.Config{
		DatabaseName:          database,
		MigrationsTable:       MigrationsTable,
		MultiStatementEnabled: true,
		MultiStatementMaxSize: 1024 * 1024,
	})
	if err != nil {
		return 0, fmt.Errorf("creating clickhouse driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, database, dbDriver)
	if err != nil {
		return 0, fmt.Errorf("creating migrate instance: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			done <- fmt.Errorf("running migrations: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("migration canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return 0, err
		}
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("reading migration version: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"database": database,
		"version":  version,
		"dirty":    dirty,
	}).Debug("migrations applied")

	return version, nil
}

// Files lists the embedded migration file names.
func Files() ([]string, error) {
	entries, err := files.ReadDir("sql")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names, nil
}
