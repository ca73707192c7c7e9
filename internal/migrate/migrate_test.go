package migrate

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})
	return db
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		in      string
		version string
		name    string
		ok      bool
	}{
		{"0001_schema.sql", "0001", "schema", true},
		{"0012_seed_devices.sql", "0012", "seed_devices", true},
		{"1_schema.sql", "", "", false},
		{"0001_schema.txt", "", "", false},
		{"README.md", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, n, ok := parseMigrationFilename(tt.in)
			if v != tt.version || n != tt.name || ok != tt.ok {
				t.Errorf("got (%q, %q, %v); want (%q, %q, %v)", v, n, ok, tt.version, tt.name, tt.ok)
			}
		})
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	db := openMemDB(t)

	if err := Run(ctx, db); err != nil {
		t.Fatalf("Run: %v", err)
	}

	t.Run("creates tables and seeds devices", func(t *testing.T) {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM devices`).Scan(&n); err != nil {
			t.Fatalf("count devices: %v", err)
		}
		if n == 0 {
			t.Error("expected seeded devices")
		}
		if _, err := db.Exec(`SELECT sensor_id, ts, temperature, humidity, avg_t, min_h FROM readings`); err != nil {
			t.Errorf("readings table: %v", err)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		if err := Run(ctx, db); err != nil {
			t.Fatalf("second Run: %v", err)
		}
		all, err := Status(ctx, db)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if len(all) < 2 {
			t.Fatalf("Status returned %d migrations", len(all))
		}
		for _, m := range all {
			if !m.Applied {
				t.Errorf("migration %s_%s not applied", m.Version, m.Name)
			}
		}
		if all[0].Version > all[1].Version {
			t.Error("migrations not sorted by version")
		}
	})
}
