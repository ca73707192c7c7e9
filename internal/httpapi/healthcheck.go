package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"loraclima-server/internal/mqtt"
	"loraclima-server/internal/utils"
)

const healthcheckTimeout = 2 * time.Second

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerStatus reports the ingestion client's connection state.
type BrokerStatus interface {
	State() mqtt.State
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	store  Pinger
	broker BrokerStatus
}

func NewHealthchecker(store Pinger, broker BrokerStatus) healthchecker {
	return &healthcheckerImpl{store: store, broker: broker}
}

// handleHealthz fails only when the store is unreachable; a disconnected
// broker is reported but the HTTP surface keeps serving stored data.
func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthcheckTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		slog.Error("failed to check database connectivity", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}

	status := "ok"
	broker := "disabled"
	if h.broker != nil {
		st := h.broker.State()
		broker = st.String()
		if st != mqtt.StateSubscribed && st != mqtt.StateReceiving {
			status = "degraded"
		}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"status": status,
		"db":     "ok",
		"mqtt":   broker,
	})
}

func registerHealthcheck(mux *http.ServeMux, store Pinger, broker BrokerStatus) {
	healthchecker := NewHealthchecker(store, broker)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
