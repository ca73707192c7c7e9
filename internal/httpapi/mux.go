package httpapi

import (
	"net/http"
)

// NewMux registers the health and metrics endpoints; feature modules add
// their own routes.
func NewMux(store Pinger, broker BrokerStatus, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, store, broker)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}
