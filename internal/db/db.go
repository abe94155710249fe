// Package db is the PostgreSQL remote content store: a content-addressed
// blob table managed with embedded goose migrations.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vonshlovens/blockvault/internal/cas"
	"github.com/vonshlovens/blockvault/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// DB wraps the database connection pool
type DB struct {
	Pool   *pgxpool.Pool
	config *config.RemoteConfig
	Schema string
}

// Open creates a connection pool without waiting for a connection. Calls
// fail with cas.ErrUnavailable until the server can be reached.
func Open(ctx context.Context, cfg *config.RemoteConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{
		Pool:   pool,
		config: cfg,
		Schema: cfg.Schema,
	}, nil
}

// New creates a new database connection pool and checks the connection
func New(ctx context.Context, cfg *config.RemoteConfig) (*DB, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database",
		"host", cfg.Host,
		"database", cfg.Database,
		"schema", cfg.Schema)
	return db, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		slog.Info("database connection closed")
	}
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	if err := db.Pool.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// EnsureSchema creates the schema if it doesn't exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	if db.Schema == "" {
		return nil
	}

	// Schema names are sanitized identifiers, see config.SanitizeIdentifier
	_, err := db.Pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", db.Schema))
	if err != nil {
		return fmt.Errorf("failed to create schema %s: %w", db.Schema, err)
	}

	slog.Info("schema ready", "schema", db.Schema)
	return nil
}

// openGoose prepares goose for the embedded migrations and returns a
// database/sql handle for it
func (db *DB) openGoose() (*sql.DB, error) {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("failed to set dialect: %w", err)
	}
	if db.Schema != "" {
		goose.SetTableName(db.Schema + ".goose_db_version")
	}

	stdDB, err := sql.Open("pgx", db.config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open stdlib connection: %w", err)
	}
	return stdDB, nil
}

// RunMigrations executes all pending database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	stdDB, err := db.openGoose()
	if err != nil {
		return err
	}
	defer stdDB.Close()

	if err := goose.UpContext(ctx, stdDB, migrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("migrations completed successfully", "schema", db.Schema)
	return nil
}

// MigrationStatus logs the state of every migration
func (db *DB) MigrationStatus(ctx context.Context) error {
	stdDB, err := db.openGoose()
	if err != nil {
		return err
	}
	defer stdDB.Close()

	return goose.StatusContext(ctx, stdDB, migrationsDir)
}

// GetStatus summarizes the remote content store
func (db *DB) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{Connected: true}

	err := db.Pool.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)::BIGINT, MAX(created_at) FROM content_blobs",
	).Scan(&status.Blobs, &status.Bytes, &status.LastWrite)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize content blobs: %w", unavailable(err))
	}
	return status, nil
}

// unavailable marks errors that did not come from the server as transient.
// Server errors such as a missing table are returned unchanged.
func unavailable(err error) error {
	var pgErr *pgconn.PgError
	if err == nil || errors.As(err, &pgErr) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", cas.ErrUnavailable, err)
}
