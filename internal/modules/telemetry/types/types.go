package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null"
)

// TimestampLayout is the canonical stored form. Fixed width in UTC so that
// lexical order equals chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Reading is the superset record for both instant and aggregate samples.
// Absent numeric fields are invalid null.Floats, never zero.
type Reading struct {
	SensorID  string `json:"sensor_id"`
	Timestamp string `json:"timestamp"`

	Temperature null.Float `json:"temperature"`
	Humidity    null.Float `json:"humidity"`

	AvgTemperature    null.Float `json:"avg_temperature"`
	MedianTemperature null.Float `json:"median_temperature"`
	MaxTemperature    null.Float `json:"max_temperature"`
	MinTemperature    null.Float `json:"min_temperature"`
	AvgHumidity       null.Float `json:"avg_humidity"`
	MedianHumidity    null.Float `json:"median_humidity"`
	MaxHumidity       null.Float `json:"max_humidity"`
	MinHumidity       null.Float `json:"min_humidity"`
}

// IsAggregate reports whether any of the eight statistic fields is present.
func (r Reading) IsAggregate() bool {
	for _, f := range r.aggregateFields() {
		if f.Valid {
			return true
		}
	}
	return false
}

func (r Reading) aggregateFields() []null.Float {
	return []null.Float{
		r.AvgTemperature, r.MedianTemperature, r.MaxTemperature, r.MinTemperature,
		r.AvgHumidity, r.MedianHumidity, r.MaxHumidity, r.MinHumidity,
	}
}

// Time parses the reading timestamp.
func (r Reading) Time() (time.Time, error) {
	return ParseTimestamp(r.Timestamp)
}

type Device struct {
	SensorID string `json:"sensor_id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// FormatTimestamp renders t in the canonical stored form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts RFC3339 with any fractional precision. Timestamps
// without a zone designator are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// NormalizeTimestamp rewrites s into the canonical form, leaving it untouched
// when it cannot be parsed.
func NormalizeTimestamp(s string) string {
	t, err := ParseTimestamp(s)
	if err != nil {
		return s
	}
	return FormatTimestamp(t)
}

var ErrInvalidWindow = errors.New("invalid window (allowed: 1h, 24h, 7d, 30d)")

type Window string

const (
	Window1h  Window = "1h"
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

var windowDurations = map[Window]time.Duration{
	Window1h:  time.Hour,
	Window24h: 24 * time.Hour,
	Window7d:  7 * 24 * time.Hour,
	Window30d: 30 * 24 * time.Hour,
}

// Windows lists the accepted windows in ascending length.
func Windows() []Window {
	return []Window{Window1h, Window24h, Window7d, Window30d}
}

func ParseWindow(s string) (Window, error) {
	w := Window(strings.TrimSpace(s))
	if _, ok := windowDurations[w]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	return w, nil
}

func (w Window) Duration() (time.Duration, error) {
	d, ok := windowDurations[w]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, string(w))
	}
	return d, nil
}
