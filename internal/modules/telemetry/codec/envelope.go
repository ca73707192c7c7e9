package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/guregu/null"

	"loraclima-server/internal/modules/telemetry/types"
)

var ErrMissingData = errors.New("missing data field")

// Envelope is the ChirpStack uplink event as published on
// application/<app>/device/<eui>/event/up. Optional fields that are absent or
// of an unexpected JSON type decode to their zero value.
type Envelope struct {
	Data       string     `json:"data"`
	Time       string     `json:"time,omitempty"`
	FPort      int        `json:"fPort,omitempty"`
	DeviceInfo DeviceInfo `json:"deviceInfo"`
}

type DeviceInfo struct {
	DevEUI     string `json:"devEui,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

type UplinkOptions struct {
	// DefaultSensorID is used when the envelope carries no devEui.
	DefaultSensorID string
	// AggregateFPort selects 16-byte aggregate decoding; 0 disables it.
	AggregateFPort int
	Now            func() time.Time
}

// wireEnvelope defers the optional fields so a malformed one costs only
// that field, not the reading.
type wireEnvelope struct {
	Data       string          `json:"data"`
	Time       json.RawMessage `json:"time"`
	FPort      json.RawMessage `json:"fPort"`
	DeviceInfo json.RawMessage `json:"deviceInfo"`
}

type wireDeviceInfo struct {
	DevEUI     json.RawMessage `json:"devEui"`
	DeviceName json.RawMessage `json:"deviceName"`
}

func optional[T any](raw json.RawMessage) T {
	var v T
	if len(raw) == 0 {
		return v
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero
	}
	return v
}

// DecodeEnvelope parses the JSON envelope and its base64 payload.
func DecodeEnvelope(raw []byte) (Envelope, []byte, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, nil, &DecodeError{Op: "envelope", Err: err}
	}
	info := optional[wireDeviceInfo](w.DeviceInfo)
	env := Envelope{
		Data:  w.Data,
		Time:  optional[string](w.Time),
		FPort: optional[int](w.FPort),
		DeviceInfo: DeviceInfo{
			DevEUI:     optional[string](info.DevEUI),
			DeviceName: optional[string](info.DeviceName),
		},
	}
	if strings.TrimSpace(env.Data) == "" {
		return Envelope{}, nil, &DecodeError{Op: "envelope", Err: ErrMissingData}
	}
	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(env.Data))
	if err != nil {
		return Envelope{}, nil, &DecodeError{Op: "base64", Err: err}
	}
	return env, payload, nil
}

// DecodeUplink turns a broker message into a Reading. The envelope time is
// used when present and parseable, otherwise opts.Now.
func DecodeUplink(raw []byte, opts UplinkOptions) (types.Reading, error) {
	env, payload, err := DecodeEnvelope(raw)
	if err != nil {
		return types.Reading{}, err
	}

	r := types.Reading{SensorID: strings.TrimSpace(env.DeviceInfo.DevEUI)}
	if r.SensorID == "" {
		r.SensorID = opts.DefaultSensorID
	}

	if ts, err := types.ParseTimestamp(env.Time); err == nil {
		r.Timestamp = types.FormatTimestamp(ts)
	} else {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		r.Timestamp = types.FormatTimestamp(now())
	}

	if opts.AggregateFPort > 0 && env.FPort == opts.AggregateFPort && len(payload) == aggregatePayloadLen {
		agg, err := DecodeAggregate(payload)
		if err != nil {
			return types.Reading{}, err
		}
		r.AvgTemperature = null.FloatFrom(agg.AvgTemperature)
		r.MedianTemperature = null.FloatFrom(agg.MedianTemperature)
		r.MaxTemperature = null.FloatFrom(agg.MaxTemperature)
		r.MinTemperature = null.FloatFrom(agg.MinTemperature)
		r.AvgHumidity = null.FloatFrom(agg.AvgHumidity)
		r.MedianHumidity = null.FloatFrom(agg.MedianHumidity)
		r.MaxHumidity = null.FloatFrom(agg.MaxHumidity)
		r.MinHumidity = null.FloatFrom(agg.MinHumidity)
		return r, nil
	}

	s, err := Decode(payload)
	if err != nil {
		return types.Reading{}, err
	}
	r.Temperature = null.FloatFrom(s.Temperature)
	r.Humidity = null.FloatFrom(s.Humidity)
	return r, nil
}

// EncodeEnvelope builds an uplink envelope for an instant sample. Values are
// clamped to the uint16 range after scaling.
func EncodeEnvelope(devEUI string, at time.Time, s Sample) ([]byte, error) {
	payload := make([]byte, instantPayloadLen)
	putScaled(payload[0:2], s.Temperature)
	putScaled(payload[2:4], s.Humidity)
	return json.Marshal(Envelope{
		Data:       base64.StdEncoding.EncodeToString(payload),
		Time:       at.UTC().Format(time.RFC3339Nano),
		DeviceInfo: DeviceInfo{DevEUI: devEUI},
	})
}
