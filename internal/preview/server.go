// Package preview serves the debug preview: the latest frame, live frame events over a
// websocket, health and metrics.
package preview

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/transit-panel/internal/backoff"
	"github.com/kjstillabower/transit-panel/internal/lifecycle"
	"github.com/kjstillabower/transit-panel/internal/observability"
	"github.com/kjstillabower/transit-panel/internal/scheduler"
)

// StatusSource reports the scheduler state after the latest tick. *runloop.Loop implements it.
type StatusSource interface {
	Status() (scheduler.Status, bool)
}

// Server routes preview and operational endpoints.
type Server struct {
	hub      *Hub
	status   StatusSource
	logger   *zap.Logger
	inflight *InFlightTracker
	router   *mux.Router

	healthMu   sync.Mutex
	healthPrev string
}

// NewServer builds the router. hub may be nil when nothing publishes frames (hardware mode).
func NewServer(hub *Hub, status StatusSource, logger *zap.Logger) *Server {
	s := &Server{
		hub:      hub,
		status:   status,
		logger:   observability.OrNop(logger),
		inflight: &InFlightTracker{},
	}

	r := mux.NewRouter()
	r.Use(CorrelationIDMiddleware(s.logger))
	r.Use(MetricsMiddleware(s.inflight))
	r.HandleFunc("/health", s.GetHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/frame.png", s.GetFrame).Methods(http.MethodGet)
	if hub != nil {
		r.HandleFunc("/ws", hub.ServeWS).Methods(http.MethodGet)
	}
	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// WaitForInFlight blocks until in-flight requests reach zero or ctx is done.
func (s *Server) WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	return s.inflight.WaitForZero(ctx, checkInterval)
}

// GetFrame handles GET /frame.png.
func (s *Server) GetFrame(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, r, http.StatusNotFound, "NO_PREVIEW", "preview is not enabled")
		return
	}
	data, ok := s.hub.LastFrame()
	if !ok {
		writeError(w, r, http.StatusNotFound, "NO_FRAME", "no frame committed yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	st, known := scheduler.Status{}, false
	if s.status != nil {
		st, known = s.status.Status()
	}
	result := computeHealth(st, known)

	s.healthMu.Lock()
	if s.healthPrev != "" && s.healthPrev != result.status {
		s.logger.Info("health status transition",
			zap.String("previous_status", s.healthPrev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	s.healthPrev = result.status
	s.healthMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "transit-panel",
		"phase":     lifecycle.Current().String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if known {
		resp["checks"] = map[string]string{
			"transit": st.Transit.String(),
			"weather": st.Weather.String(),
		}
		resp["committed"] = st.Committed
		resp["commitFailures"] = st.CommitFailures
		if st.Committed {
			resp["lastCommit"] = st.LastCommit.UTC().Format(time.RFC3339)
			resp["fingerprint"] = strconv.FormatUint(st.Fingerprint, 16)
		}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealth decides in order: shutting-down, starting, degraded, ok.
func computeHealth(st scheduler.Status, known bool) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if !known {
		return healthResult{"starting", http.StatusServiceUnavailable, "no_tick"}
	}
	if st.Transit == backoff.StateUnavailable {
		return healthResult{"degraded", http.StatusServiceUnavailable, "transit_unavailable"}
	}
	if st.Weather == backoff.StateUnavailable {
		return healthResult{"degraded", http.StatusServiceUnavailable, "weather_unavailable"}
	}
	if st.CommitFailures > 0 {
		return healthResult{"degraded", http.StatusServiceUnavailable, "commit_failing"}
	}
	return healthResult{"ok", http.StatusOK, ""}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {error: {code, message, requestId}}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	loggerFrom(r.Context()).Debug("request failed", zap.String("code", code))
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": CorrelationID(r.Context()),
		},
	})
}
