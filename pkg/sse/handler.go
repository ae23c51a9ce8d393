package sse

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Handler streams broker events to EventSource clients.
//
// Query parameters:
//
//	filter      comma-separated event types to deliver (default all)
//	lastEventId replay cursor; the Last-Event-ID header wins when both
//	            are present
//	session_id  opaque client session tag, echoed in logs; a UUID is
//	            assigned when absent
type Handler struct {
	broker    *Broker
	logger    *slog.Logger
	keepalive time.Duration
}

// NewHandler creates an event-stream handler over the broker.
func NewHandler(broker *Broker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		broker:    broker,
		logger:    logger,
		keepalive: KeepaliveInterval,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var types []string
	if filter := r.URL.Query().Get("filter"); filter != "" {
		for _, t := range strings.Split(filter, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get("lastEventId")
	}
	session := r.URL.Query().Get("session_id")
	if session == "" {
		session = uuid.NewString()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := h.broker.Subscribe(types, session, lastEventID)
	defer cancel()

	h.logger.Debug("event stream opened",
		"remote", r.RemoteAddr,
		"session", session,
		"filter", types,
		"lastEventId", lastEventID)

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("event stream closed", "remote", r.RemoteAddr, "session", session)
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, Keepalive); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			wire, err := Encode(ev)
			if err != nil {
				h.logger.Warn("dropping unencodable event", "id", ev.ID, "error", err)
				continue
			}
			if _, err := io.WriteString(w, wire); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
