// Package api exposes the relay hub over HTTP: the public webhook intake
// under /webhook/{source} and the admin API under /api.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/relayhub"
	"github.com/xraph/relayhub/observability"
	"github.com/xraph/relayhub/ratelimit"
)

// DefaultMaxBodyBytes bounds inbound webhook bodies.
const DefaultMaxBodyBytes = 1 << 20

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// Config holds the optional collaborators of a Handler.
type Config struct {
	// Limiter throttles webhook intake per client IP. Nil disables limiting.
	Limiter ratelimit.Limiter

	Metrics *observability.Metrics

	// Gatherer backs GET /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer

	// MaxBodyBytes bounds webhook bodies. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Handler is the root HTTP handler.
type Handler struct {
	hub     *relayhub.Hub
	config  Config
	logger  *slog.Logger
	mux     *http.ServeMux
	handler http.Handler
}

// NewHandler creates the HTTP handler for hub.
func NewHandler(hub *relayhub.Hub, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NoOp{}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	h := &Handler{
		hub:    hub,
		config: cfg,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	h.registerRoutes()
	h.handler = h.requestID(h.panicRecovery(h.logging(h.mux)))
	return h
}

func (h *Handler) registerRoutes() {
	// Intake
	h.mux.HandleFunc("POST /webhook/{source}", h.ingest)

	// Events
	h.mux.HandleFunc("GET /api/events", h.listEvents)
	h.mux.HandleFunc("GET /api/events/{id}", h.getEvent)
	h.mux.HandleFunc("DELETE /api/events/{id}", h.deleteEvent)
	h.mux.HandleFunc("POST /api/events/{id}/replay", h.replayEvent)

	// Signature templates
	h.mux.HandleFunc("GET /api/signatures", h.listTemplates)
	h.mux.HandleFunc("POST /api/signatures", h.registerTemplate)
	h.mux.HandleFunc("PUT /api/signatures/{source}", h.updateTemplate)
	h.mux.HandleFunc("POST /api/signatures/{source}/test", h.testTemplate)

	// DLQ
	h.mux.HandleFunc("GET /api/dlq", h.listDLQ)
	h.mux.HandleFunc("POST /api/dlq/replay/batch", h.replayDLQBatch)
	h.mux.HandleFunc("POST /api/dlq/{id}/replay", h.replayDLQ)
	h.mux.HandleFunc("DELETE /api/dlq/{id}", h.deleteDLQ)
	h.mux.HandleFunc("DELETE /api/dlq", h.clearDLQ)

	// Operations
	h.mux.HandleFunc("GET /api/stats", h.getStats)
	h.mux.HandleFunc("GET /api/health", h.health)
	h.mux.Handle("GET /metrics", promhttp.HandlerFor(h.config.Gatherer, promhttp.HandlerOpts{}))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

type ctxKey struct{}

// RequestIDFrom returns the request ID stored by the handler, if any.
func RequestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, reqID)))
	})
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.InfoContext(r.Context(), "api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestIDFrom(r.Context()),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// clientIP returns the remote address without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service error onto its HTTP status.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "error", err, "request_id", RequestIDFrom(r.Context()))
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, relayhub.ErrEventNotFound),
		errors.Is(err, relayhub.ErrDLQNotFound),
		errors.Is(err, relayhub.ErrDLQOrphaned),
		errors.Is(err, relayhub.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, relayhub.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, relayhub.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, relayhub.ErrBadPayload),
		errors.Is(err, relayhub.ErrNoTarget),
		errors.Is(err, relayhub.ErrInvalidHeader),
		errors.Is(err, relayhub.ErrInvalidSource),
		errors.Is(err, relayhub.ErrTemplateNotReady):
		return http.StatusBadRequest
	case errors.Is(err, relayhub.ErrTemplateExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return defaultVal
	}
	return n
}

// queryBool returns a query parameter as *bool, nil when absent or invalid.
func queryBool(r *http.Request, key string) *bool {
	b, err := strconv.ParseBool(r.URL.Query().Get(key))
	if err != nil {
		return nil
	}
	return &b
}
