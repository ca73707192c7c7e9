package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/guregu/null"

	"loraclima-server/internal/modules/telemetry/types"
)

// Item is an untyped stored record. Absent columns are absent keys.
type Item = map[string]any

// Field names used in Items.
const (
	FieldSensorID          = "sensor_id"
	FieldTimestamp         = "timestamp"
	FieldTemperature       = "temperature"
	FieldHumidity          = "humidity"
	FieldAvgTemperature    = "avg_temperature"
	FieldMedianTemperature = "median_temperature"
	FieldMaxTemperature    = "max_temperature"
	FieldMinTemperature    = "min_temperature"
	FieldAvgHumidity       = "avg_humidity"
	FieldMedianHumidity    = "median_humidity"
	FieldMaxHumidity       = "max_humidity"
	FieldMinHumidity       = "min_humidity"
	FieldName              = "name"
	FieldLocation          = "location"
)

var ErrInvalidToken = errors.New("invalid continuation token")

type QueryInput struct {
	SensorID   string
	Descending bool
	// Limit caps the total number of items across all pages; 0 means no cap.
	Limit int
	// MinTimestamp keeps items with timestamp >= MinTimestamp (canonical form).
	MinTimestamp string
	StartToken   string
}

type Page struct {
	Items []Item
	// NextToken is empty on the last page.
	NextToken string
}

// Store is the narrow read/write boundary over a partitioned, sort-key
// ordered reading store. Partition key is the sensor id, sort key the
// canonical timestamp.
type Store interface {
	Query(ctx context.Context, in QueryInput) (Page, error)
	// Scan lists registered devices.
	Scan(ctx context.Context, token string) (Page, error)
	// Put stores r. Writing the same (sensor_id, timestamp) twice is a no-op.
	Put(ctx context.Context, r types.Reading) error
	Ping(ctx context.Context) error
}

// pageToken is the keyset cursor. Remaining carries what is left of a
// QueryInput.Limit so the cap holds across pages; 0 means uncapped.
type pageToken struct {
	After     string `json:"after"`
	Remaining int    `json:"remaining,omitempty"`
}

func encodeToken(after string, remaining int) string {
	b, _ := json.Marshal(pageToken{After: after, Remaining: remaining})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeToken(tok string) (pageToken, error) {
	if tok == "" {
		return pageToken{}, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return pageToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var pt pageToken
	if err := json.Unmarshal(b, &pt); err != nil || pt.After == "" || pt.Remaining < 0 {
		return pageToken{}, ErrInvalidToken
	}
	return pt, nil
}

// remainingLimit is the cap still in force: the token's count once paging
// has started, otherwise the caller's Limit.
func remainingLimit(in QueryInput, tok pageToken) int {
	if tok.Remaining > 0 && (in.Limit <= 0 || tok.Remaining < in.Limit) {
		return tok.Remaining
	}
	if in.Limit > 0 {
		return in.Limit
	}
	return 0
}

// pageLimit returns how many rows to fetch for one page: one more than the
// page size so the presence of a next page is known without a second query.
func pageLimit(remaining, pageSize int) int {
	n := pageSize
	if remaining > 0 && remaining < n {
		n = remaining
	}
	return n + 1
}

// finishPage trims the look-ahead row and sets the continuation token. No
// token is issued once remaining items have been returned.
// keyOf extracts the sort key of an item.
func finishPage(items []Item, fetched, remaining int, keyOf func(Item) string) Page {
	if len(items) < fetched {
		return Page{Items: items}
	}
	items = items[:fetched-1]
	left := 0
	if remaining > 0 {
		left = remaining - len(items)
		if left <= 0 {
			return Page{Items: items}
		}
	}
	return Page{Items: items, NextToken: encodeToken(keyOf(items[len(items)-1]), left)}
}

func timestampKey(it Item) string {
	s, _ := it[FieldTimestamp].(string)
	return s
}

func sensorKey(it Item) string {
	s, _ := it[FieldSensorID].(string)
	return s
}

func putFloat(it Item, key string, v null.Float) {
	if v.Valid {
		it[key] = v.Float64
	}
}

// readingColumns pairs the stored numeric columns with their item field.
func readingColumns(r *types.Reading) []struct {
	Field string
	Value *null.Float
} {
	return []struct {
		Field string
		Value *null.Float
	}{
		{FieldTemperature, &r.Temperature},
		{FieldHumidity, &r.Humidity},
		{FieldAvgTemperature, &r.AvgTemperature},
		{FieldMedianTemperature, &r.MedianTemperature},
		{FieldMaxTemperature, &r.MaxTemperature},
		{FieldMinTemperature, &r.MinTemperature},
		{FieldAvgHumidity, &r.AvgHumidity},
		{FieldMedianHumidity, &r.MedianHumidity},
		{FieldMaxHumidity, &r.MaxHumidity},
		{FieldMinHumidity, &r.MinHumidity},
	}
}

// readingItem converts a scanned row into an Item, leaving NULL columns out.
func readingItem(r types.Reading) Item {
	it := Item{FieldSensorID: r.SensorID, FieldTimestamp: r.Timestamp}
	for _, c := range readingColumns(&r) {
		putFloat(it, c.Field, *c.Value)
	}
	return it
}

func deviceItem(d types.Device) Item {
	it := Item{FieldSensorID: d.SensorID, FieldName: d.Name}
	if d.Location != "" {
		it[FieldLocation] = d.Location
	}
	return it
}

// putArgs returns the insert arguments in column order: sensor_id, ts, then
// the ten numeric columns.
func putArgs(r types.Reading) []any {
	args := []any{r.SensorID, types.NormalizeTimestamp(r.Timestamp)}
	for _, c := range readingColumns(&r) {
		args = append(args, *c.Value)
	}
	return args
}
