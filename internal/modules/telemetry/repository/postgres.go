package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loraclima-server/internal/modules/telemetry/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS devices (
  sensor_id  TEXT PRIMARY KEY,
  name       TEXT NOT NULL,
  location   TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS readings (
  sensor_id   TEXT NOT NULL,
  ts          TEXT NOT NULL,
  temperature DOUBLE PRECISION,
  humidity    DOUBLE PRECISION,
  avg_t       DOUBLE PRECISION,
  med_t       DOUBLE PRECISION,
  max_t       DOUBLE PRECISION,
  min_t       DOUBLE PRECISION,
  avg_h       DOUBLE PRECISION,
  med_h       DOUBLE PRECISION,
  max_h       DOUBLE PRECISION,
  min_h       DOUBLE PRECISION,
  PRIMARY KEY (sensor_id, ts)
);
`

const (
	pgReadingColumns = `sensor_id, ts, temperature, humidity, avg_t, med_t, max_t, min_t, avg_h, med_h, max_h, min_h`

	pgQueryAsc = `SELECT ` + pgReadingColumns + ` FROM readings
WHERE sensor_id = $1 AND ts >= $2 AND ($3 = '' OR ts > $3)
ORDER BY ts ASC LIMIT $4`

	pgQueryDesc = `SELECT ` + pgReadingColumns + ` FROM readings
WHERE sensor_id = $1 AND ts >= $2 AND ($3 = '' OR ts < $3)
ORDER BY ts DESC LIMIT $4`

	pgInsertReading = `INSERT INTO readings (` + pgReadingColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (sensor_id, ts) DO NOTHING`

	pgRegisterDevice = `INSERT INTO devices (sensor_id, name) VALUES ($1, $2) ON CONFLICT (sensor_id) DO NOTHING`

	pgScanDevices = `SELECT sensor_id, name, COALESCE(location, '') FROM devices
WHERE $1 = '' OR sensor_id > $1
ORDER BY sensor_id ASC LIMIT $2`
)

type PostgresStore struct {
	pool     *pgxpool.Pool
	pageSize int
}

// OpenPostgres connects, verifies the connection and creates the tables if needed.
func OpenPostgres(ctx context.Context, url string, pageSize int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PostgresStore{pool: pool, pageSize: pageSize}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Query(ctx context.Context, in QueryInput) (Page, error) {
	tok, err := decodeToken(in.StartToken)
	if err != nil {
		return Page{}, err
	}
	after := tok.After
	remaining := remainingLimit(in, tok)
	q := pgQueryAsc
	if in.Descending {
		q = pgQueryDesc
	}
	limit := pageLimit(remaining, s.pageSize)

	rows, err := s.pool.Query(ctx, q, in.SensorID, in.MinTimestamp, after, limit)
	if err != nil {
		return Page{}, fmt.Errorf("query readings: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var r types.Reading
		dest := []any{&r.SensorID, &r.Timestamp}
		for _, c := range readingColumns(&r) {
			dest = append(dest, c.Value)
		}
		if err := row.Scan(dest...); err != nil {
			return nil, err
		}
		return readingItem(r), nil
	})
	if err != nil {
		return Page{}, fmt.Errorf("scan readings: %w", err)
	}
	return finishPage(items, limit, remaining, timestampKey), nil
}

func (s *PostgresStore) Scan(ctx context.Context, token string) (Page, error) {
	tok, err := decodeToken(token)
	if err != nil {
		return Page{}, err
	}
	after := tok.After
	limit := s.pageSize + 1
	rows, err := s.pool.Query(ctx, pgScanDevices, after, limit)
	if err != nil {
		return Page{}, fmt.Errorf("scan devices: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var d types.Device
		if err := row.Scan(&d.SensorID, &d.Name, &d.Location); err != nil {
			return nil, err
		}
		return deviceItem(d), nil
	})
	if err != nil {
		return Page{}, fmt.Errorf("scan devices: %w", err)
	}
	return finishPage(items, limit, 0, sensorKey), nil
}

func (s *PostgresStore) Put(ctx context.Context, r types.Reading) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, pgRegisterDevice, r.SensorID, r.SensorID); err != nil {
			return fmt.Errorf("register device %s: %w", r.SensorID, err)
		}
		if _, err := tx.Exec(ctx, pgInsertReading, putArgs(r)...); err != nil {
			return fmt.Errorf("insert reading: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
