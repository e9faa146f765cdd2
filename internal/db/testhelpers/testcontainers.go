// Package testhelpers provides a disposable PostgreSQL container for
// integration tests. Tests using it skip automatically when Docker is
// unavailable.
package testhelpers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer holds the container and an open pool against it
type PostgresContainer struct {
	Container     *postgres.PostgresContainer
	ConnectionStr string
	Pool          *pgxpool.Pool
	t             *testing.T
}

// SetupTestDatabase starts a PostgreSQL container, or skips the test when
// Docker is not present.
func SetupTestDatabase(t *testing.T) *PostgresContainer {
	t.Helper()

	if os.Getenv("TRADEBRIDGE_SKIP_DB_TESTS") != "" {
		t.Skip("Skipping database integration tests (TRADEBRIDGE_SKIP_DB_TESTS set)")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tradebridge_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("Skipping: could not start PostgreSQL container (is Docker running?): %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to get connection string: %v", err)
	}

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to parse connection string: %v", err)
	}
	config.MaxConns = 5
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to ping database: %v", err)
	}

	tc := &PostgresContainer{
		Container:     container,
		ConnectionStr: connStr,
		Pool:          pool,
		t:             t,
	}

	t.Cleanup(func() {
		tc.Pool.Close()
		_ = tc.Container.Terminate(context.Background())
	})

	return tc
}

// ApplyMigrations executes every *.sql file in the directory in name order.
// Down migrations (suffix _down.sql) are skipped.
func (tc *PostgresContainer) ApplyMigrations(migrationsPath string) error {
	tc.t.Helper()

	ctx := context.Background()

	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.sql"))
	if err != nil {
		return fmt.Errorf("failed to list migration files: %w", err)
	}
	sort.Strings(files)

	for _, migrationFile := range files {
		name := filepath.Base(migrationFile)
		if len(name) > 9 && name[len(name)-9:] == "_down.sql" {
			continue
		}
		tc.t.Logf("Applying migration: %s", name)

		sqlBytes, err := os.ReadFile(migrationFile)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", name, err)
		}
		if _, err := tc.Pool.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}

	return nil
}

// TruncateAll clears mutable tables between test cases
func (tc *PostgresContainer) TruncateAll() error {
	tc.t.Helper()

	_, err := tc.Pool.Exec(context.Background(), `
		TRUNCATE trade_history_events, trades, commands, signals, ai_decisions,
		         symbol_performance_tracking, broker_symbols, news_events,
		         ticks, ohlc_bars, accounts
		RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}
	return nil
}
