package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// DefaultSlowStatement is the duration above which a statement is logged at warn level.
const DefaultSlowStatement = 250 * time.Millisecond

type TraceOptions struct {
	Logger *slog.Logger
	// Slow statements are logged at warn instead of debug.
	Slow time.Duration
}

type tracingConnector struct {
	dsn    string
	driver *sqlite3.SQLiteDriver
	opts   TraceOptions
}

type tracingConn struct {
	conn driver.Conn
	opts TraceOptions
}

type tracingStmt struct {
	stmt  driver.Stmt
	query string
	opts  TraceOptions
}

// NewTracingConnector opens sqlite3 connections whose statements are logged
// with their arguments, duration and outcome. Use it with sql.OpenDB.
func NewTracingConnector(dsn string, opts TraceOptions) driver.Connector {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Slow <= 0 {
		opts.Slow = DefaultSlowStatement
	}
	return &tracingConnector{dsn: dsn, driver: &sqlite3.SQLiteDriver{}, opts: opts}
}

func (c *tracingConnector) Driver() driver.Driver { return c.driver }

func (c *tracingConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.driver.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &tracingConn{conn: conn, opts: c.opts}, nil
}

func (c *tracingConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *tracingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		stmt driver.Stmt
		err  error
	)
	if prep, ok := c.conn.(driver.ConnPrepareContext); ok {
		stmt, err = prep.PrepareContext(ctx, query)
	} else {
		stmt, err = c.conn.Prepare(query)
	}
	if err != nil {
		c.opts.Logger.Debug("db prepare failed", "sql", query, "error", err)
		return nil, err
	}
	return &tracingStmt{stmt: stmt, query: query, opts: c.opts}, nil
}

func (c *tracingConn) Close() error { return c.conn.Close() }

func (c *tracingConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *tracingConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if beginTx, ok := c.conn.(driver.ConnBeginTx); ok {
		return beginTx.BeginTx(ctx, opts)
	}
	//nolint:staticcheck // SA1019 fallback for drivers without ConnBeginTx
	return c.conn.Begin()
}

func (s *tracingStmt) Close() error { return s.stmt.Close() }

func (s *tracingStmt) NumInput() int { return s.stmt.NumInput() }

func (s *tracingStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), valuesToNamed(args))
}

func (s *tracingStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var (
		res driver.Result
		err error
	)
	if execCtx, ok := s.stmt.(driver.StmtExecContext); ok {
		res, err = execCtx.ExecContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019 fallback for statements without StmtExecContext
		res, err = s.stmt.Exec(namedToValues(args))
	}
	s.trace(ctx, "exec", args, time.Since(start), err)
	return res, err
}

func (s *tracingStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), valuesToNamed(args))
}

func (s *tracingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var (
		rows driver.Rows
		err  error
	)
	if queryCtx, ok := s.stmt.(driver.StmtQueryContext); ok {
		rows, err = queryCtx.QueryContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019 fallback for statements without StmtQueryContext
		rows, err = s.stmt.Query(namedToValues(args))
	}
	s.trace(ctx, "query", args, time.Since(start), err)
	return rows, err
}

func (s *tracingStmt) trace(ctx context.Context, op string, args []driver.NamedValue, took time.Duration, err error) {
	level := slog.LevelDebug
	if took >= s.opts.Slow {
		level = slog.LevelWarn
	}
	attrs := []any{
		"op", op,
		"sql", s.query,
		"args", formatArgs(args),
		"duration_ms", took.Milliseconds(),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		attrs = append(attrs, "error", err)
	}
	s.opts.Logger.Log(ctx, level, "db statement", attrs...)
}

func valuesToNamed(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

func namedToValues(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i := range args {
		out[i] = args[i].Value
	}
	return out
}

func formatArgs(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		v := formatArg(a.Value)
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		out[i] = v
	}
	return out
}

func formatArg(v driver.Value) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}
