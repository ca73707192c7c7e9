package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// ErrorBody is the JSON shape of every non-2xx API response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON encodes v before touching the response, so an unencodable value
// yields a clean 500 instead of a truncated body. Readings change with every
// uplink, so responses are marked uncacheable.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(ErrorBody{
			Error:   http.StatusText(status),
			Message: "failed to encode response",
		})
	}
	body = append(body, '\n')

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Debug("failed to write JSON response", "error", err)
	}
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{
		Error:   http.StatusText(status),
		Message: msg,
	})
}
