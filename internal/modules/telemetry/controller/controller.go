package controller

import (
	"context"
	"net/http"

	"loraclima-server/internal/modules/telemetry/livebuffer"
	"loraclima-server/internal/modules/telemetry/query"
	"loraclima-server/internal/modules/telemetry/types"
)

// TelemetryService is the read side of the telemetry module.
type TelemetryService interface {
	Last(ctx context.Context, sensorID string) (types.Reading, error)
	Window(ctx context.Context, sensorID string, w types.Window) ([]types.Reading, error)
	Multi(ctx context.Context, sensorIDs []string, w types.Window) (query.MultiResult, error)
	Devices(ctx context.Context) ([]types.Device, error)
	Attach(withLast bool) *livebuffer.Listener
	Detach(id string) error
}

type TelemetryController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type telemetryControllerImpl struct {
	service         TelemetryService
	defaultSensorID string
}

func NewTelemetryController(service TelemetryService, defaultSensorID string) TelemetryController {
	return &telemetryControllerImpl{service: service, defaultSensorID: defaultSensorID}
}

func (c *telemetryControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sensors/data/last", c.handleLast)
	mux.HandleFunc("GET /api/sensors/data/list", c.handleList)
	mux.HandleFunc("GET /api/sensors/data/multi", c.handleMulti)
	mux.HandleFunc("GET /api/sensors/info", c.handleInfo)
	mux.HandleFunc("GET /api/sensors/live", c.handleLive)
}
