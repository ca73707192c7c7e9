// Package codec decodes LoRaWAN sensor payloads.
//
// Instant payloads carry two big-endian uint16 values scaled by 100:
// temperature then humidity. Aggregate payloads carry eight such values in the
// order avgT, medT, maxT, minT, avgH, medH, maxH, minH and travel as a
// 32-digit hex string.
package codec

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
)

const (
	instantPayloadLen   = 4
	aggregatePayloadLen = 16
	aggregateHexLen     = aggregatePayloadLen * 2
	scale               = 100.0
)

var (
	ErrPayloadTooShort = errors.New("payload too short")
	ErrInvalidLength   = errors.New("invalid length")
)

// DecodeError reports which decode step failed. It unwraps to the cause so
// callers can match ErrPayloadTooShort or ErrInvalidLength with errors.Is.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return "decode " + e.Op + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

type Sample struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

type Aggregate struct {
	AvgTemperature    float64 `json:"avg_temperature"`
	MedianTemperature float64 `json:"median_temperature"`
	MaxTemperature    float64 `json:"max_temperature"`
	MinTemperature    float64 `json:"min_temperature"`
	AvgHumidity       float64 `json:"avg_humidity"`
	MedianHumidity    float64 `json:"median_humidity"`
	MaxHumidity       float64 `json:"max_humidity"`
	MinHumidity       float64 `json:"min_humidity"`
}

// Decode reads temperature and humidity from the first four bytes. Trailing
// bytes are ignored.
func Decode(data []byte) (Sample, error) {
	if len(data) < instantPayloadLen {
		return Sample{}, &DecodeError{Op: "payload", Err: fmt.Errorf("%w: got %d bytes, need %d", ErrPayloadTooShort, len(data), instantPayloadLen)}
	}
	return Sample{
		Temperature: scaled(data[0:2]),
		Humidity:    scaled(data[2:4]),
	}, nil
}

// DecodeAggregateHex decodes the 8-field aggregate from its hex form.
// Whitespace is ignored and case does not matter.
func DecodeAggregateHex(s string) (Aggregate, error) {
	cleaned := strings.ToLower(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s))
	if len(cleaned) != aggregateHexLen {
		return Aggregate{}, &DecodeError{Op: "aggregate", Err: fmt.Errorf("%w: got %d hex digits, need %d", ErrInvalidLength, len(cleaned), aggregateHexLen)}
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return Aggregate{}, &DecodeError{Op: "aggregate", Err: err}
	}
	return Aggregate{
		AvgTemperature:    scaled(raw[0:2]),
		MedianTemperature: scaled(raw[2:4]),
		MaxTemperature:    scaled(raw[4:6]),
		MinTemperature:    scaled(raw[6:8]),
		AvgHumidity:       scaled(raw[8:10]),
		MedianHumidity:    scaled(raw[10:12]),
		MaxHumidity:       scaled(raw[12:14]),
		MinHumidity:       scaled(raw[14:16]),
	}, nil
}

// DecodeAggregate decodes a raw 16-byte aggregate payload.
func DecodeAggregate(data []byte) (Aggregate, error) {
	return DecodeAggregateHex(hex.EncodeToString(data))
}

func scaled(b []byte) float64 {
	return float64(binary.BigEndian.Uint16(b)) / scale
}

func putScaled(b []byte, v float64) {
	n := math.Round(v * scale)
	switch {
	case n < 0:
		n = 0
	case n > math.MaxUint16:
		n = math.MaxUint16
	}
	binary.BigEndian.PutUint16(b, uint16(n))
}
