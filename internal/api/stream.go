package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reelworks/montage/internal/events"
)

// keepaliveInterval is how often idle event streams send a ping so
// proxies do not reap the connection.
const keepaliveInterval = 15 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is bearer-authenticated; cross-origin UIs are expected.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventsSSE streams bus events as server-sent events. An
// optional ?project= filter restricts the feed to one workspace
// (process-wide events always pass).
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	projectFilter := r.URL.Query().Get("project")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !eventMatches(e, projectFilter) {
				continue
			}
			s.writeSSE(w, "event", e)
			flusher.Flush()
		}
	}
}

// handleEventsWS serves the same event feed over a websocket.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	projectFilter := r.URL.Query().Get("project")

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	// Reader goroutine: we never expect client messages, but reading
	// is how gorilla surfaces close frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !eventMatches(e, projectFilter) {
				continue
			}
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// eventMatches reports whether an event passes the project filter.
// Process-wide events (empty Project) always pass.
func eventMatches(e events.Event, projectFilter string) bool {
	if projectFilter == "" || e.Project == "" {
		return true
	}
	return e.Project == projectFilter
}
