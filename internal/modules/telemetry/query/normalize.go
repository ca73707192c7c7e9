package query

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/guregu/null"

	"loraclima-server/internal/modules/telemetry/repository"
	"loraclima-server/internal/modules/telemetry/types"
)

// Older records used Spanish field names for instant samples and short
// names for aggregates.
var fieldAliases = map[string][]string{
	repository.FieldTimestamp:         {"ts", "time"},
	repository.FieldTemperature:       {"temperatura", "temp"},
	repository.FieldHumidity:          {"humedad", "hum"},
	repository.FieldAvgTemperature:    {"avgT"},
	repository.FieldMedianTemperature: {"medT"},
	repository.FieldMaxTemperature:    {"maxT"},
	repository.FieldMinTemperature:    {"minT"},
	repository.FieldAvgHumidity:       {"avgH"},
	repository.FieldMedianHumidity:    {"medH"},
	repository.FieldMaxHumidity:       {"maxH"},
	repository.FieldMinHumidity:       {"minH"},
}

func lookup(it repository.Item, field string) (any, bool) {
	if v, ok := it[field]; ok && v != nil {
		return v, true
	}
	for _, alias := range fieldAliases[field] {
		if v, ok := it[alias]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Normalize maps a stored record of either shape onto the superset Reading.
// Missing or non-numeric fields stay invalid, so a stored zero is
// distinguishable from an absent value.
func Normalize(it repository.Item) types.Reading {
	r := types.Reading{
		SensorID:  stringField(it, repository.FieldSensorID),
		Timestamp: types.NormalizeTimestamp(stringField(it, repository.FieldTimestamp)),
	}
	r.Temperature = floatField(it, repository.FieldTemperature)
	r.Humidity = floatField(it, repository.FieldHumidity)
	r.AvgTemperature = floatField(it, repository.FieldAvgTemperature)
	r.MedianTemperature = floatField(it, repository.FieldMedianTemperature)
	r.MaxTemperature = floatField(it, repository.FieldMaxTemperature)
	r.MinTemperature = floatField(it, repository.FieldMinTemperature)
	r.AvgHumidity = floatField(it, repository.FieldAvgHumidity)
	r.MedianHumidity = floatField(it, repository.FieldMedianHumidity)
	r.MaxHumidity = floatField(it, repository.FieldMaxHumidity)
	r.MinHumidity = floatField(it, repository.FieldMinHumidity)
	return r
}

func stringField(it repository.Item, field string) string {
	v, ok := lookup(it, field)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

func floatField(it repository.Item, field string) null.Float {
	v, ok := lookup(it, field)
	if !ok {
		return null.Float{}
	}
	f := toFloat(v)
	// NaN and Inf have no JSON encoding.
	if f.Valid && (math.IsNaN(f.Float64) || math.IsInf(f.Float64, 0)) {
		return null.Float{}
	}
	return f
}

func toFloat(v any) null.Float {
	switch t := v.(type) {
	case float64:
		return null.FloatFrom(t)
	case float32:
		return null.FloatFrom(float64(t))
	case int:
		return null.FloatFrom(float64(t))
	case int32:
		return null.FloatFrom(float64(t))
	case int64:
		return null.FloatFrom(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return null.Float{}
		}
		return null.FloatFrom(f)
	case string:
		return parseFloat(t)
	case []byte:
		return parseFloat(string(t))
	default:
		return null.Float{}
	}
}

func parseFloat(s string) null.Float {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return null.Float{}
	}
	return null.FloatFrom(f)
}
