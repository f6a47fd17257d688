// Package database provides the PostgreSQL connection pool and schema
// migrations for the document matching service.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/helixir/docmatch-service/internal/config"
)

const (
	// HealthCheckTimeout is the maximum time to wait for a health check ping.
	HealthCheckTimeout = 5 * time.Second

	// applicationName tags every session in pg_stat_activity.
	applicationName = "docmatch-service"

	// schemaQuery reports whether both match store tables exist.
	schemaQuery = `SELECT to_regclass('docmatch') IS NOT NULL
		AND to_regclass('confidence_lookup') IS NOT NULL`
)

// HealthStatus values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus describes the reachability of the match store and whether its
// schema has been migrated.
type HealthStatus struct {
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	SchemaReady bool      `json:"schema_ready"`
	Pool        PoolStats `json:"pool"`
}

// PoolStats is a JSON-friendly snapshot of pgxpool statistics.
type PoolStats struct {
	Total       int32 `json:"total"`
	Acquired    int32 `json:"acquired"`
	Idle        int32 `json:"idle"`
	Constructed int32 `json:"constructing"`
	Max         int32 `json:"max"`
}

// DB wraps the pgx pool backing the match store.
type DB struct {
	pool   *pgxpool.Pool
	config *config.DatabaseConfig
	logger zerolog.Logger
}

// DBTX is satisfied by *DB, *pgxpool.Pool and pgx.Tx, so the match
// repository runs unchanged inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var _ DBTX = (*DB)(nil)

// New opens the connection pool and verifies it with a ping.
func New(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Int32("max_conns", cfg.MaxConns).
		Msg("match store connection pool established")

	return &DB{pool: pool, config: cfg, logger: logger}, nil
}

// Close closes the connection pool. It is safe on a zero DB.
func (db *DB) Close() {
	if db.pool == nil {
		return
	}
	db.pool.Close()
	db.logger.Info().Msg("match store connection pool closed")
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Health pings the database and checks that the match store tables exist.
// A reachable database without the tables reports StatusDegraded.
func (db *DB) Health(ctx context.Context) HealthStatus {
	stat := db.pool.Stat()
	health := HealthStatus{
		Pool: PoolStats{
			Total:       stat.TotalConns(),
			Acquired:    stat.AcquiredConns(),
			Idle:        stat.IdleConns(),
			Constructed: stat.ConstructingConns(),
			Max:         stat.MaxConns(),
		},
	}

	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	if err := db.pool.QueryRow(ctx, schemaQuery).Scan(&health.SchemaReady); err != nil {
		health.Status = StatusUnhealthy
		health.Error = err.Error()
		return health
	}
	if !health.SchemaReady {
		health.Status = StatusDegraded
		health.Error = "match store schema not migrated"
		return health
	}
	health.Status = StatusHealthy
	return health
}

// WithTransaction runs fn in a read-committed transaction. It commits when fn
// returns nil and rolls back on error or panic; fn's error is returned as is.
func (db *DB) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	err := pgx.BeginTxFunc(ctx, db.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
	if err != nil {
		db.logger.Debug().
			Err(err).
			Dur("elapsed", time.Since(start)).
			Msg("match store transaction rolled back")
	}
	return err
}

// Exec implements DBTX.
func (db *DB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return db.pool.Exec(ctx, sql, args...)
}

// QueryRow implements DBTX.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// Query implements DBTX.
func (db *DB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

// SendBatch implements DBTX.
func (db *DB) SendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults {
	return db.pool.SendBatch(ctx, batch)
}
