//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	port := nat.Port("5432/tcp")
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"POSTGRES_USER":     "loraclima",
			"POSTGRES_PASSWORD": "loraclima",
			"POSTGRES_DB":       "telemetry",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://loraclima:loraclima@%s:%s/telemetry?sslmode=disable", host, mapped.Port())
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	url := startPostgres(t)

	s, err := OpenPostgres(ctx, url, 2)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(s.Close)

	for i := 0; i < 5; i++ {
		if err := s.Put(ctx, instant("pg", time.Duration(i)*time.Minute, float64(i))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := s.Put(ctx, instant("pg", 0, 100)); err != nil {
		t.Fatalf("duplicate Put: %v", err)
	}

	items, pages := collect(t, s, QueryInput{SensorID: "pg"})
	if len(items) != 5 || pages != 3 {
		t.Fatalf("got %d items over %d pages; want 5 over 3", len(items), pages)
	}
	if items[0][FieldTemperature] != 0.0 {
		t.Errorf("duplicate write changed first reading: %v", items[0])
	}

	p, err := s.Query(ctx, QueryInput{SensorID: "pg", Descending: true, Limit: 1})
	if err != nil {
		t.Fatalf("Query desc: %v", err)
	}
	if len(p.Items) != 1 || p.Items[0][FieldTemperature] != 4.0 {
		t.Errorf("newest = %v", p.Items)
	}

	dev, err := s.Scan(ctx, "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(dev.Items) != 1 || sensorKey(dev.Items[0]) != "pg" {
		t.Errorf("devices = %v", dev.Items)
	}

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
