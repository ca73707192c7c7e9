package codec

import (
	"encoding/base64"
	"errors"
	"math"
	"testing"
	"time"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDecode(t *testing.T) {
	t.Run("big-endian scaled values", func(t *testing.T) {
		got, err := Decode([]byte{0x0F, 0xA0, 0x01, 0x2C})
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !approx(got.Temperature, 40.00) || !approx(got.Humidity, 3.00) {
			t.Errorf("got %+v; want temperature 40.00 humidity 3.00", got)
		}
	})

	t.Run("ignores trailing bytes", func(t *testing.T) {
		got, err := Decode([]byte{0x09, 0xC4, 0x13, 0x88, 0xFF, 0xFF})
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !approx(got.Temperature, 25.00) || !approx(got.Humidity, 50.00) {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		in := []byte{0xFF, 0xFF, 0x00, 0x01}
		a, _ := Decode(in)
		b, _ := Decode(in)
		if a != b {
			t.Errorf("non-deterministic decode: %+v vs %+v", a, b)
		}
		if !approx(a.Temperature, 655.35) || !approx(a.Humidity, 0.01) {
			t.Errorf("got %+v", a)
		}
	})

	for _, in := range [][]byte{nil, {}, {0x01}, {0x01, 0x02, 0x03}} {
		_, err := Decode(in)
		if !errors.Is(err, ErrPayloadTooShort) {
			t.Errorf("Decode(%x) err = %v; want ErrPayloadTooShort", in, err)
		}
		var de *DecodeError
		if !errors.As(err, &de) || de.Op != "payload" {
			t.Errorf("Decode(%x) err = %v; want *DecodeError op payload", in, err)
		}
	}
}

func TestDecodeAggregateHex(t *testing.T) {
	t.Run("field order", func(t *testing.T) {
		got, err := DecodeAggregateHex("09C409C609C809CA13881390139213 94")
		if err != nil {
			t.Fatalf("DecodeAggregateHex: %v", err)
		}
		want := Aggregate{
			AvgTemperature: 25.00, MedianTemperature: 25.02, MaxTemperature: 25.04, MinTemperature: 25.06,
			AvgHumidity: 50.00, MedianHumidity: 50.08, MaxHumidity: 50.10, MinHumidity: 50.12,
		}
		pairs := [][2]float64{
			{got.AvgTemperature, want.AvgTemperature},
			{got.MedianTemperature, want.MedianTemperature},
			{got.MaxTemperature, want.MaxTemperature},
			{got.MinTemperature, want.MinTemperature},
			{got.AvgHumidity, want.AvgHumidity},
			{got.MedianHumidity, want.MedianHumidity},
			{got.MaxHumidity, want.MaxHumidity},
			{got.MinHumidity, want.MinHumidity},
		}
		for i, p := range pairs {
			if !approx(p[0], p[1]) {
				t.Errorf("field %d = %v; want %v", i, p[0], p[1])
			}
		}
	})

	t.Run("case and whitespace insensitive", func(t *testing.T) {
		a, err := DecodeAggregateHex("09c4 09c6\t09c8\n09ca 1388 1390 1392 1394")
		if err != nil {
			t.Fatalf("DecodeAggregateHex: %v", err)
		}
		b, _ := DecodeAggregateHex("09C409C609C809CA1388139013921394")
		if a != b {
			t.Errorf("%+v != %+v", a, b)
		}
	})

	for _, in := range []string{"", "09C4", "09C409C609C809CA13881390139213940", "   "} {
		if _, err := DecodeAggregateHex(in); !errors.Is(err, ErrInvalidLength) {
			t.Errorf("DecodeAggregateHex(%q) err = %v; want ErrInvalidLength", in, err)
		}
	}

	t.Run("non-hex digits", func(t *testing.T) {
		_, err := DecodeAggregateHex("ZZC409C609C809CA1388139013921394")
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("err = %v; want *DecodeError", err)
		}
		if errors.Is(err, ErrInvalidLength) {
			t.Error("non-hex input must not report ErrInvalidLength")
		}
	})
}

func TestDecodeUplink(t *testing.T) {
	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	opts := UplinkOptions{DefaultSensorID: "fallback", AggregateFPort: 9, Now: func() time.Time { return fixed }}
	data := base64.StdEncoding.EncodeToString([]byte{0x0F, 0xA0, 0x01, 0x2C})

	t.Run("instant sample with envelope time", func(t *testing.T) {
		raw := []byte(`{"data":"` + data + `","time":"2025-03-04T00:00:00.5-05:00","deviceInfo":{"devEui":"AC1F09FFFE1397C9"}}`)
		r, err := DecodeUplink(raw, opts)
		if err != nil {
			t.Fatalf("DecodeUplink: %v", err)
		}
		if r.SensorID != "AC1F09FFFE1397C9" {
			t.Errorf("SensorID = %q; want devEui unchanged", r.SensorID)
		}
		if r.Timestamp != "2025-03-04T05:00:00.500000Z" {
			t.Errorf("Timestamp = %q", r.Timestamp)
		}
		if !r.Temperature.Valid || !approx(r.Temperature.Float64, 40) || !approx(r.Humidity.Float64, 3) {
			t.Errorf("reading = %+v", r)
		}
		if r.IsAggregate() {
			t.Error("instant sample marked aggregate")
		}
	})

	t.Run("falls back to processing time and default sensor", func(t *testing.T) {
		raw := []byte(`{"data":"` + data + `","time":"not a time"}`)
		r, err := DecodeUplink(raw, opts)
		if err != nil {
			t.Fatalf("DecodeUplink: %v", err)
		}
		if r.SensorID != "fallback" {
			t.Errorf("SensorID = %q", r.SensorID)
		}
		if r.Timestamp != "2025-03-04T05:06:07.000000Z" {
			t.Errorf("Timestamp = %q", r.Timestamp)
		}
	})

	t.Run("sensor id is kept verbatim apart from surrounding space", func(t *testing.T) {
		for _, eui := range []string{"Sensor-A", "ac1f09fffe1397c9", "AbCd"} {
			raw := []byte(`{"data":"` + data + `","deviceInfo":{"devEui":" ` + eui + ` "}}`)
			r, err := DecodeUplink(raw, opts)
			if err != nil {
				t.Fatalf("DecodeUplink(%q): %v", eui, err)
			}
			if r.SensorID != eui {
				t.Errorf("SensorID = %q; want %q", r.SensorID, eui)
			}
		}
	})

	t.Run("optional fields of the wrong type are ignored", func(t *testing.T) {
		cases := map[string]string{
			"numeric time":       `{"data":"` + data + `","time":1735689600}`,
			"object time":        `{"data":"` + data + `","time":{"s":1}}`,
			"string fPort":       `{"data":"` + data + `","fPort":"two"}`,
			"fractional fPort":   `{"data":"` + data + `","fPort":9.5}`,
			"array deviceInfo":   `{"data":"` + data + `","deviceInfo":[1,2]}`,
			"numeric devEui":     `{"data":"` + data + `","deviceInfo":{"devEui":42}}`,
			"null optional keys": `{"data":"` + data + `","time":null,"fPort":null,"deviceInfo":null}`,
		}
		for name, raw := range cases {
			t.Run(name, func(t *testing.T) {
				r, err := DecodeUplink([]byte(raw), opts)
				if err != nil {
					t.Fatalf("DecodeUplink: %v", err)
				}
				if r.Timestamp != "2025-03-04T05:06:07.000000Z" {
					t.Errorf("Timestamp = %q; want processing time", r.Timestamp)
				}
				if r.SensorID != "fallback" {
					t.Errorf("SensorID = %q; want fallback", r.SensorID)
				}
				if !approx(r.Temperature.Float64, 40) || r.IsAggregate() {
					t.Errorf("reading = %+v; want instant sample", r)
				}
			})
		}
	})

	t.Run("aggregate fPort", func(t *testing.T) {
		payload := []byte{0x09, 0xC4, 0x09, 0xC6, 0x09, 0xC8, 0x09, 0xCA, 0x13, 0x88, 0x13, 0x90, 0x13, 0x92, 0x13, 0x94}
		raw := []byte(`{"fPort":9,"data":"` + base64.StdEncoding.EncodeToString(payload) + `"}`)
		r, err := DecodeUplink(raw, opts)
		if err != nil {
			t.Fatalf("DecodeUplink: %v", err)
		}
		if !r.IsAggregate() || r.Temperature.Valid {
			t.Fatalf("reading = %+v; want aggregate only", r)
		}
		if !approx(r.MinHumidity.Float64, 50.12) {
			t.Errorf("MinHumidity = %v", r.MinHumidity.Float64)
		}
	})

	errCases := map[string]struct {
		raw  string
		want error
	}{
		"not json":         {raw: `{oops`},
		"missing data":     {raw: `{"time":"2025-01-01T00:00:00Z"}`, want: ErrMissingData},
		"bad base64":       {raw: `{"data":"!!!"}`},
		"non-string data":  {raw: `{"data":12}`},
		"short payload":    {raw: `{"data":"` + base64.StdEncoding.EncodeToString([]byte{1, 2}) + `"}`, want: ErrPayloadTooShort},
	}
	for name, tc := range errCases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeUplink([]byte(tc.raw), opts)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v; want *DecodeError", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("err = %v; want %v", err, tc.want)
			}
		})
	}
}

func TestEncodeEnvelope_roundTrip(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := EncodeEnvelope("dev1", at, Sample{Temperature: 21.37, Humidity: 120000})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	r, err := DecodeUplink(raw, UplinkOptions{})
	if err != nil {
		t.Fatalf("DecodeUplink: %v", err)
	}
	if !approx(r.Temperature.Float64, 21.37) {
		t.Errorf("Temperature = %v", r.Temperature.Float64)
	}
	if !approx(r.Humidity.Float64, 655.35) {
		t.Errorf("Humidity = %v; want clamped 655.35", r.Humidity.Float64)
	}
	if r.Timestamp != "2025-01-02T03:04:05.000000Z" {
		t.Errorf("Timestamp = %q", r.Timestamp)
	}
}
