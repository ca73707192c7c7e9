package controller

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"loraclima-server/internal/modules/telemetry/query"
	"loraclima-server/internal/modules/telemetry/service"
	"loraclima-server/internal/modules/telemetry/types"
	"loraclima-server/internal/utils"
)

type multiResponse struct {
	Results map[string][]types.Reading `json:"results"`
	Errors  map[string]string          `json:"errors"`
}

func (c *telemetryControllerImpl) handleLast(w http.ResponseWriter, r *http.Request) {
	sensorID := strings.TrimSpace(r.URL.Query().Get("sensor_id"))
	reading, err := c.service.Last(r.Context(), sensorID)
	if errors.Is(err, service.ErrNoData) {
		utils.WriteError(w, http.StatusNotFound, "No data")
		return
	}
	if err != nil {
		slog.Error("last reading failed", "sensor_id", sensorID, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load last reading")
		return
	}
	utils.WriteJSON(w, http.StatusOK, reading)
}

func (c *telemetryControllerImpl) handleList(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, types.Window1h)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	sensorID := strings.TrimSpace(r.URL.Query().Get("sensor_id"))
	if sensorID == "" {
		sensorID = c.defaultSensorID
	}

	readings, err := c.service.Window(r.Context(), sensorID, window)
	if err != nil {
		slog.Error("window query failed", "sensor_id", sensorID, "window", window, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, readings)
}

func (c *telemetryControllerImpl) handleMulti(w http.ResponseWriter, r *http.Request) {
	ids, err := parseSensorIDs(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	window, err := parseWindow(r, types.Window24h)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := c.service.Multi(r.Context(), ids, window)
	if errors.Is(err, query.ErrInvalidSensorSet) {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("multi query failed", "ids", ids, "window", window, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := multiResponse{
		Results: res.Readings,
		Errors:  make(map[string]string, len(res.Errors)),
	}
	for id, e := range res.Errors {
		resp.Errors[id] = e.Error()
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (c *telemetryControllerImpl) handleInfo(w http.ResponseWriter, r *http.Request) {
	devices, err := c.service.Devices(r.Context())
	if err != nil {
		slog.Error("device listing failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, devices)
}
