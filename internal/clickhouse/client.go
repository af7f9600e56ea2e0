// Package clickhouse opens ClickHouse connections for the history store.
package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const defaultDatabase = "default"

var errEmptyURL = errors.New("clickhouse url is empty")

// Options parses a clickhouse:// DSN and applies the connection settings
// the history store expects.
func Options(dsn string) (*clickhouse.Options, error) {
	if dsn == "" {
		return nil, errEmptyURL
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing clickhouse url: %w", err)
	}

	if opts.Auth.Database == "" {
		opts.Auth.Database = defaultDatabase
	}

	if opts.Settings == nil {
		opts.Settings = clickhouse.Settings{}
	}
	if _, ok := opts.Settings["max_execution_time"]; !ok {
		opts.Settings["max_execution_time"] = 60
	}

	opts.DialTimeout = 30 * time.Second
	opts.MaxOpenConns = 5
	opts.MaxIdleConns = 5
	opts.ConnMaxLifetime = 10 * time.Minute

	if opts.Compression == nil {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	return opts, nil
}

// Connect opens a native connection and pings it.
func Connect(ctx context.Context, opts *clickhouse.Options) (driver.Conn, error) {
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return conn, nil
}

// OpenDB returns a database/sql handle over the same options, used by the
// migration driver.
func OpenDB(opts *clickhouse.Options) *sql.DB {
	return clickhouse.OpenDB(opts)
}
