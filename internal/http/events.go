package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/osval-do/USOP/internal/service/lifecycle"
	"github.com/osval-do/USOP/internal/ws"
)

const sseHeartbeatInterval = 15 * time.Second

type eventPayload struct {
	Service    string    `json:"service"`
	Transition string    `json:"transition"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	At         time.Time `json:"at"`
}

// HubObserver publishes committed transitions to the subscribers of each service.
func HubObserver(hub *ws.Hub, logger *slog.Logger) lifecycle.Observer {
	return lifecycle.ObserverFunc(func(_ context.Context, event lifecycle.Event) {
		payload := eventPayload{
			Service:    event.Service.ExtID,
			Transition: event.Transition,
			From:       string(event.Source),
			To:         string(event.Target),
			At:         event.At,
		}
		if err := hub.Publish(event.Service.ExtID, payload); err != nil {
			logger.Warn("publish transition event", "service_id", event.Service.ExtID, "error", err)
		}
	})
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request, serviceID string) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming disabled")
		return
	}
	if _, err := r.services.Get(req.Context(), serviceID); err != nil {
		writeServiceError(w, err)
		return
	}
	if strings.Contains(req.Header.Get("Accept"), "text/event-stream") {
		r.streamSSE(w, req, serviceID)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(serviceID, client)
	go func() {
		defer func() {
			r.hub.Unregister(serviceID, client)
			client.Close()
		}()
		client.Drain()
	}()
}

func (r *Router) streamSSE(w http.ResponseWriter, req *http.Request, serviceID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(serviceID, client)
	defer r.hub.Unregister(serviceID, client)

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			client.Close()
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}
