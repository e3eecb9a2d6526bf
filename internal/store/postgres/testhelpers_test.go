package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testDB is a migrated database in a throwaway container.
type testDB struct {
	*Client
	container testcontainers.Container
}

func setupTestDB(t *testing.T) *testDB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("smtbot"),
		tcpostgres.WithUsername("smtbot"),
		tcpostgres.WithPassword("smtbot"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("failed to get connection string: %v", err)
	}

	client, err := New(ctx, ClientConfig{DSN: connStr, MaxConns: 4})
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("failed to connect to test database: %v", err)
	}

	db := &testDB{Client: client, container: pgContainer}
	if _, err := client.RunMigrations(ctx); err != nil {
		db.cleanup(t)
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

func (db *testDB) cleanup(t *testing.T) {
	t.Helper()
	db.Close()
	if err := db.container.Terminate(context.Background()); err != nil {
		t.Errorf("failed to terminate container: %v", err)
	}
}

func (db *testDB) truncateAll(t *testing.T) {
	t.Helper()
	const query = `TRUNCATE TABLE price_history, tracked_items, positions,
		trading_settings, inventory_items, audit_log CASCADE`
	if _, err := db.Pool().Exec(context.Background(), query); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}
