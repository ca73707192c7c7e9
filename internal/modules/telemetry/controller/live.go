package controller

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
	liveWriteWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLive streams every new reading to a websocket client. The first
// frame is the newest buffered reading, if any.
func (c *telemetryControllerImpl) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("live: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	listener := c.service.Attach(true)
	defer func() {
		if err := c.service.Detach(listener.ID); err != nil {
			slog.Warn("live: detach failed", "listener_id", listener.ID, "error", err)
		}
		slog.Debug("live: client gone", "listener_id", listener.ID, "dropped", listener.Dropped())
	}()
	slog.Debug("live: client attached", "listener_id", listener.ID, "remote", r.RemoteAddr)

	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	stop := make(chan struct{})
	var closeOnce sync.Once
	closeStop := func() { closeOnce.Do(func() { close(stop) }) }

	// Reader: only control frames are expected; any error ends the session.
	go func() {
		defer closeStop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case reading := <-listener.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(reading); err != nil {
				slog.Debug("live: write failed", "listener_id", listener.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			return
		case <-r.Context().Done():
			return
		}
	}
}
