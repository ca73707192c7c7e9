package controller

import (
	"errors"
	"net/http"
	"strings"

	"loraclima-server/internal/modules/telemetry/query"
	"loraclima-server/internal/modules/telemetry/types"
)

var errMissingIDs = errors.New("missing 'ids' (comma-separated sensor ids)")

// parseWindow reads ?window=, falling back to the legacy ?filter= name.
func parseWindow(r *http.Request, fallback types.Window) (types.Window, error) {
	q := r.URL.Query()
	s := strings.TrimSpace(q.Get("window"))
	if s == "" {
		s = strings.TrimSpace(q.Get("filter"))
	}
	if s == "" {
		return fallback, nil
	}
	return types.ParseWindow(s)
}

func parseSensorIDs(r *http.Request) ([]string, error) {
	ids := query.ParseSensorIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		return nil, errMissingIDs
	}
	return ids, nil
}
