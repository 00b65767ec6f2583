package tcpostgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JonMunkholm/laptiming/internal/config"
	"github.com/JonMunkholm/laptiming/internal/store"
	"github.com/JonMunkholm/laptiming/internal/store/migrate"
)

// tables in delete order (children first).
var tables = []string{
	"import_job", "lap", "result", "car_driver", "driver", "car_entry", "car_model",
	"car_class", "team", "session", "event", "circuit", "series",
}

// DatabaseURL returns TESTDB_URL when set, otherwise the URL of a container
// started for the test run.
func DatabaseURL(ctx context.Context) (string, error) {
	if url := os.Getenv("TESTDB_URL"); url != "" {
		return url, nil
	}

	port, err := nat.NewPort("tcp", "5432")
	if err != nil {
		return "", err
	}
	container, err := SetupPostgres(ctx,
		WithPort(port.Port()),
		WithInitialDatabase("postgres", "password", "postgres"),
		WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		WithName("laptiming-test"),
	)
	if err != nil {
		return "", err
	}
	containerPort, err := container.MappedPort(ctx, port)
	if err != nil {
		return "", err
	}
	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgresql://postgres:password@%s:%s/postgres", host, containerPort.Port()), nil
}

// SetupTestDb returns a migrated, empty database pool. The test is skipped
// in -short mode and when neither TESTDB_URL nor Docker is available.
func SetupTestDb(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	if os.Getenv("TESTDB_URL") == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
	}

	ctx := context.Background()
	url, err := DatabaseURL(ctx)
	if err != nil {
		t.Fatalf("start test database: %v", err)
	}
	if err := migrate.Up(url); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	pool, err := store.NewPool(ctx, config.DatabaseConfig{URL: url, MaxConns: 4, MinConns: 1})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(pool.Close)

	ClearAllTables(t, pool)
	return pool
}

// ClearAllTables deletes every row of the timing schema.
func ClearAllTables(t testing.TB, pool *pgxpool.Pool) {
	t.Helper()
	for _, table := range tables {
		if _, err := pool.Exec(context.Background(), "DELETE FROM "+table); err != nil {
			t.Fatalf("clear %s: %v", table, err)
		}
	}
}
