package telemetry

import (
	"net/http"

	"loraclima-server/internal/modules/telemetry/controller"
	"loraclima-server/internal/modules/telemetry/service"
)

func RegisterFeature(mux *http.ServeMux, svc *service.Service, defaultSensorID string) {
	telemetryController := controller.NewTelemetryController(svc, defaultSensorID)
	telemetryController.RegisterRoutes(mux)
}
