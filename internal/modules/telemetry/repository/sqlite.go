package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	"loraclima-server/internal/modules/telemetry/types"
)

//go:embed sql/query-readings-asc.sql
var queryReadingsAscSQL string

//go:embed sql/query-readings-desc.sql
var queryReadingsDescSQL string

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/register-device.sql
var registerDeviceSQL string

//go:embed sql/scan-devices.sql
var scanDevicesSQL string

const DefaultPageSize = 500

type SQLiteStore struct {
	db       *sql.DB
	pageSize int
}

// NewSQLiteStore expects the schema from internal/migrate to be applied.
func NewSQLiteStore(db *sql.DB, pageSize int) *SQLiteStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &SQLiteStore{db: db, pageSize: pageSize}
}

func (s *SQLiteStore) Query(ctx context.Context, in QueryInput) (Page, error) {
	tok, err := decodeToken(in.StartToken)
	if err != nil {
		return Page{}, err
	}
	after := tok.After
	remaining := remainingLimit(in, tok)
	q := queryReadingsAscSQL
	if in.Descending {
		q = queryReadingsDescSQL
	}
	limit := pageLimit(remaining, s.pageSize)

	rows, err := s.db.QueryContext(ctx, q, in.SensorID, in.MinTimestamp, after, after, limit)
	if err != nil {
		return Page{}, fmt.Errorf("query readings: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()

	items := make([]Item, 0, limit)
	for rows.Next() {
		var r types.Reading
		dest := []any{&r.SensorID, &r.Timestamp}
		for _, c := range readingColumns(&r) {
			dest = append(dest, c.Value)
		}
		if err := rows.Scan(dest...); err != nil {
			return Page{}, fmt.Errorf("scan reading: %w", err)
		}
		items = append(items, readingItem(r))
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate readings: %w", err)
	}
	return finishPage(items, limit, remaining, timestampKey), nil
}

func (s *SQLiteStore) Scan(ctx context.Context, token string) (Page, error) {
	tok, err := decodeToken(token)
	if err != nil {
		return Page{}, err
	}
	after := tok.After
	limit := s.pageSize + 1
	rows, err := s.db.QueryContext(ctx, scanDevicesSQL, after, after, limit)
	if err != nil {
		return Page{}, fmt.Errorf("scan devices: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close devices rows", "error", err)
		}
	}()

	items := make([]Item, 0, limit)
	for rows.Next() {
		var d types.Device
		if err := rows.Scan(&d.SensorID, &d.Name, &d.Location); err != nil {
			return Page{}, fmt.Errorf("scan device: %w", err)
		}
		items = append(items, deviceItem(d))
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate devices: %w", err)
	}
	return finishPage(items, limit, 0, sensorKey), nil
}

// Put registers the device on first sight and inserts the reading.
func (s *SQLiteStore) Put(ctx context.Context, r types.Reading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, registerDeviceSQL, r.SensorID, r.SensorID); err != nil {
		return fmt.Errorf("register device %s: %w", r.SensorID, err)
	}
	if _, err := tx.ExecContext(ctx, insertReadingSQL, putArgs(r)...); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
