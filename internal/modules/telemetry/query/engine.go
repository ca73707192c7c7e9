// Package query answers time-window questions over the reading store.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"loraclima-server/internal/modules/telemetry/repository"
	"loraclima-server/internal/modules/telemetry/types"
)

var (
	ErrInvalidSensorSet = errors.New("sensor set must not be empty")
	ErrNotFound         = errors.New("no data")
)

// StoreError is a store failure while resolving one sensor.
type StoreError struct {
	SensorID string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error for sensor %s: %v", e.SensorID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Observer receives engine events. The metrics package implements it.
type Observer interface {
	StorePage(op string)
	WindowQuery(window string, outcome string)
}

type noopObserver struct{}

func (noopObserver) StorePage(string)           {}
func (noopObserver) WindowQuery(string, string) {}

type Options struct {
	// Location anchors "now" when a sensor has no stored reading.
	Location *time.Location
	// Concurrency bounds how many sensors of a multi query run at once.
	Concurrency int
	// Timeout bounds each individual store call.
	Timeout  time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
	Observer Observer
}

type Engine struct {
	store       repository.Store
	location    *time.Location
	concurrency int
	timeout     time.Duration
	now         func() time.Time
	logger      *slog.Logger
	observer    Observer
}

func New(store repository.Store, opts Options) *Engine {
	e := &Engine{
		store:       store,
		location:    opts.Location,
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		now:         opts.Now,
		logger:      opts.Logger,
		observer:    opts.Observer,
	}
	if e.location == nil {
		e.location = time.UTC
	}
	if e.concurrency <= 0 {
		e.concurrency = 4
	}
	if e.timeout <= 0 {
		e.timeout = 10 * time.Second
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.observer == nil {
		e.observer = noopObserver{}
	}
	return e
}

// MultiResult keys every requested sensor in Readings, even on failure.
type MultiResult struct {
	Readings map[string][]types.Reading
	Errors   map[string]error
}

// Window returns the readings of sensorID no older than the window, measured
// back from the sensor's newest stored reading, oldest first.
func (e *Engine) Window(ctx context.Context, sensorID string, w types.Window) ([]types.Reading, error) {
	d, err := w.Duration()
	if err != nil {
		return nil, err
	}
	out, err := e.window(ctx, sensorID, d)
	e.observer.WindowQuery(string(w), outcome(err))
	return out, err
}

// Multi runs Window for each distinct sensor. A failing sensor is reported in
// Errors and does not affect the others; the returned error is only for
// invalid input.
func (e *Engine) Multi(ctx context.Context, sensorIDs []string, w types.Window) (MultiResult, error) {
	d, err := w.Duration()
	if err != nil {
		return MultiResult{}, err
	}
	ids := dedupe(sensorIDs)
	if len(ids) == 0 {
		return MultiResult{}, ErrInvalidSensorSet
	}

	results := make([][]types.Reading, len(ids))
	errs := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i], errs[i] = e.window(gctx, id, d)
			e.observer.WindowQuery(string(w), outcome(errs[i]))
			return nil
		})
	}
	_ = g.Wait()

	res := MultiResult{
		Readings: make(map[string][]types.Reading, len(ids)),
		Errors:   make(map[string]error),
	}
	for i, id := range ids {
		if errs[i] != nil {
			e.logger.Warn("window query failed", "sensor_id", id, "window", string(w), "error", errs[i])
			res.Errors[id] = errs[i]
			res.Readings[id] = []types.Reading{}
			continue
		}
		res.Readings[id] = results[i]
	}
	return res, nil
}

// Latest returns the newest stored reading of sensorID.
func (e *Engine) Latest(ctx context.Context, sensorID string) (types.Reading, error) {
	it, ok, err := e.newest(ctx, sensorID)
	if err != nil {
		return types.Reading{}, err
	}
	if !ok {
		return types.Reading{}, ErrNotFound
	}
	return Normalize(it), nil
}

// Devices lists the registry, following every continuation token.
func (e *Engine) Devices(ctx context.Context) ([]types.Device, error) {
	out := []types.Device{}
	token := ""
	for {
		page, err := e.scan(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("scan devices: %w", err)
		}
		for _, it := range page.Items {
			out = append(out, types.Device{
				SensorID: stringField(it, repository.FieldSensorID),
				Name:     stringField(it, repository.FieldName),
				Location: stringField(it, repository.FieldLocation),
			})
		}
		if page.NextToken == "" {
			return out, nil
		}
		token = page.NextToken
	}
}

func (e *Engine) window(ctx context.Context, sensorID string, d time.Duration) ([]types.Reading, error) {
	ref, err := e.reference(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	cutoff := ref.Add(-d)

	in := repository.QueryInput{
		SensorID:     sensorID,
		MinTimestamp: types.FormatTimestamp(cutoff),
	}
	out := []types.Reading{}
	for {
		page, err := e.query(ctx, in)
		if err != nil {
			return nil, &StoreError{SensorID: sensorID, Err: err}
		}
		for _, it := range page.Items {
			r := Normalize(it)
			if t, err := r.Time(); err == nil && t.Before(cutoff) {
				continue
			}
			out = append(out, r)
		}
		if page.NextToken == "" {
			break
		}
		in.StartToken = page.NextToken
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })

	e.logger.Debug("window query",
		"sensor_id", sensorID,
		"reference", types.FormatTimestamp(ref),
		"cutoff", types.FormatTimestamp(cutoff),
		"count", len(out),
	)
	return out, nil
}

// reference resolves the instant a window is measured back from: the newest
// stored reading, else the current time observed in the configured zone.
func (e *Engine) reference(ctx context.Context, sensorID string) (time.Time, error) {
	it, ok, err := e.newest(ctx, sensorID)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		if t, err := Normalize(it).Time(); err == nil {
			return t, nil
		}
		e.logger.Warn("newest reading has unparseable timestamp, using wall clock", "sensor_id", sensorID)
	}
	return e.now().In(e.location).UTC(), nil
}

func (e *Engine) newest(ctx context.Context, sensorID string) (repository.Item, bool, error) {
	page, err := e.query(ctx, repository.QueryInput{SensorID: sensorID, Descending: true, Limit: 1})
	if err != nil {
		return nil, false, &StoreError{SensorID: sensorID, Err: err}
	}
	if len(page.Items) == 0 {
		return nil, false, nil
	}
	return page.Items[0], true, nil
}

func (e *Engine) query(ctx context.Context, in repository.QueryInput) (repository.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	e.observer.StorePage("query")
	return e.store.Query(ctx, in)
}

func (e *Engine) scan(ctx context.Context, token string) (repository.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	e.observer.StorePage("scan")
	return e.store.Scan(ctx, token)
}

// ParseSensorIDs splits a comma separated list, dropping blanks.
func ParseSensorIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
