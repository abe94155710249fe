package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vonshlovens/blockvault/internal/cas"
	"github.com/vonshlovens/blockvault/internal/config"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrations, migrationsDir)
	if err != nil {
		t.Fatalf("failed to read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one migration")
	}

	for _, e := range entries {
		data, err := fs.ReadFile(migrations, migrationsDir+"/"+e.Name())
		if err != nil {
			t.Fatalf("failed to read %s: %v", e.Name(), err)
		}
		content := string(data)
		if !strings.Contains(content, "-- +goose Up") || !strings.Contains(content, "-- +goose Down") {
			t.Errorf("%s is missing goose annotations", e.Name())
		}
	}
}

func TestUnavailable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"server error", &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}, false},
		{"wrapped server error", fmt.Errorf("query: %w", &pgconn.PgError{Code: "23505"}), false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"network", errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := unavailable(tt.err)
			if got := errors.Is(err, cas.ErrUnavailable); got != tt.transient {
				t.Errorf("unavailable(%v) transient = %v, want %v", tt.err, got, tt.transient)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("unavailable(%v) lost the original error", tt.err)
			}
		})
	}
}

// remoteFromEnv returns connection settings for an integration database,
// skipping the test when none is configured
func remoteFromEnv(t *testing.T) *config.RemoteConfig {
	t.Helper()
	host := os.Getenv("BLOCKVAULT_TEST_PG_HOST")
	if host == "" {
		t.Skip("BLOCKVAULT_TEST_PG_HOST not set")
	}
	return &config.RemoteConfig{
		Enabled:  true,
		Host:     host,
		Port:     5432,
		User:     os.Getenv("BLOCKVAULT_TEST_PG_USER"),
		Password: os.Getenv("BLOCKVAULT_TEST_PG_PASSWORD"),
		Database: os.Getenv("BLOCKVAULT_TEST_PG_DATABASE"),
		Schema:   config.SanitizeIdentifier(fmt.Sprintf("bv_test_%d", time.Now().UnixNano())),
		SSLMode:  "disable",
	}
}

func TestBlobsIntegration(t *testing.T) {
	cfg := remoteFromEnv(t)
	ctx := context.Background()

	database, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer database.Close()
	defer database.Pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+cfg.Schema+" CASCADE")

	if err := database.RunMigrations(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	blobs := database.Blobs()
	data := []byte(`{"noteId":"n1"}`)

	id, err := blobs.Put(ctx, data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if id != cas.ContentID(data) {
		t.Errorf("expected content id %s, got %s", cas.ContentID(data), id)
	}
	if _, err := blobs.Put(ctx, data); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, err := blobs.Get(ctx, id)
	if err != nil || string(got) != string(data) {
		t.Fatalf("get = %q, %v", got, err)
	}
	if ok, err := blobs.Head(ctx, id); err != nil || !ok {
		t.Errorf("head = %v, %v", ok, err)
	}

	status, err := database.GetStatus(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Blobs != 1 || status.Bytes != int64(len(data)) {
		t.Errorf("unexpected status %+v", status)
	}

	if err := blobs.Remove(ctx, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := blobs.Get(ctx, id); !errors.Is(err, cas.ErrNotFound) {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
}
