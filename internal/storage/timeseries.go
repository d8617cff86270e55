package storage

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewarden/gatewarden/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresTimeSeriesStore writes metric points to a PostgreSQL/Timescale
// table through a pgx pool.
type PostgresTimeSeriesStore struct {
	pool *pgxpool.Pool
}

// NewPostgresTimeSeriesStore connects, verifies reachability, and applies
// embedded schema migrations.
func NewPostgresTimeSeriesStore(ctx context.Context, connString string) (*PostgresTimeSeriesStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(connString); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresTimeSeriesStore{pool: pool}, nil
}

func runMigrations(connString string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, connString)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// WriteMetrics inserts the batch in one round trip. A failed insert is a
// write error for the whole call; retry policy lives with the caller's
// collaborator contract, not here.
func (s *PostgresTimeSeriesStore) WriteMetrics(ctx context.Context, sourceID string, points []models.MetricPoint) error {
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		labels, err := json.Marshal(p.Labels)
		if err != nil {
			return fmt.Errorf("%w: marshal labels for %s: %v", models.ErrWriteError, p.Name, err)
		}
		batch.Queue(
			`INSERT INTO metric_points (source_id, name, value, labels, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
			sourceID, p.Name, p.Value, labels, p.Timestamp,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range points {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("%w: insert metric points: %v", models.ErrWriteError, err)
		}
	}
	return nil
}

// Ping reports database reachability for health checks.
func (s *PostgresTimeSeriesStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresTimeSeriesStore) Close() {
	s.pool.Close()
}
