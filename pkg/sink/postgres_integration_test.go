//go:build integration

package sink

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgresContainer starts PostgreSQL and returns its connection URL.
func setupPostgresContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "bina",
			"POSTGRES_PASSWORD": "bina",
			"POSTGRES_DB":       "bina",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return fmt.Sprintf("postgres://bina:bina@%s:%s/bina?sslmode=disable", host, port.Port())
}

func TestIntegration_PostgresMirror_Upsert(t *testing.T) {
	ctx := context.Background()
	mirror, err := NewPostgresMirror(ctx, setupPostgresContainer(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPostgresMirror() error: %v", err)
	}
	defer mirror.Close()

	if err := mirror.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error: %v", err)
	}
	if err := mirror.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() not idempotent: %v", err)
	}

	records := sampleRecords()
	if n, err := mirror.Upsert(ctx, records); err != nil || n != 2 {
		t.Fatalf("Upsert() = %d, %v", n, err)
	}

	records[0].Price = 900
	if n, err := mirror.Upsert(ctx, records[:1]); err != nil || n != 1 {
		t.Fatalf("second Upsert() = %d, %v", n, err)
	}

	var count int
	if err := mirror.pool.QueryRow(ctx, "SELECT COUNT(*) FROM bina_listings").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("rows = %d, want 2", count)
	}

	var price float64
	var category *string
	if err := mirror.pool.QueryRow(ctx, "SELECT price::float8, category_code FROM bina_listings WHERE id = $1", "101").Scan(&price, &category); err != nil {
		t.Fatal(err)
	}
	if price != 900 {
		t.Errorf("price = %v, want 900 after upsert", price)
	}
	if category == nil || *category != string(listing.CategoryNewBuild) {
		t.Errorf("category_code = %v, want new_build", category)
	}
}
