package api

import (
	"log/slog"
	"net/http"

	"github.com/loonworks/loonflow/ticket"
)

// Config holds configuration for the API layer.
type Config struct {
	// WriteRateLimit is the maximum number of mutating requests per
	// minute per IP. Defaults to 60 when zero.
	WriteRateLimit int

	// MetricsPath is where the Prometheus handler mounts. Empty disables
	// the endpoint.
	MetricsPath string
}

// NewRouter creates an http.Handler with all API v1 routes registered.
// It returns the router and the middleware whose Stop() releases the
// rate limiter's cleanup goroutine.
func NewRouter(svc *ticket.Service, metrics *ticket.Metrics, logger *slog.Logger, cfg Config) (http.Handler, *Middleware) {
	mux := http.NewServeMux()
	mw := NewMiddleware(metrics)
	writeRL := mw.RateLimit(cfg.WriteRateLimit)

	h := NewTicketHandler(svc, logger)

	get := func(pattern string, fn http.HandlerFunc) {
		mux.Handle("GET "+pattern, mw.Observe(pattern, mw.RequireUser(fn)))
	}
	write := func(method, pattern string, fn http.HandlerFunc) {
		mux.Handle(method+" "+pattern, mw.Observe(pattern, writeRL(mw.RequireUser(fn))))
	}

	get("/api/v1/tickets", h.List)
	write("POST", "/api/v1/tickets", h.Create)
	get("/api/v1/tickets/states", h.States)
	get("/api/v1/tickets/{id}", h.Get)
	write("DELETE", "/api/v1/tickets/{id}", h.Delete)
	get("/api/v1/tickets/{id}/transitions", h.Transitions)
	write("POST", "/api/v1/tickets/{id}/transitions", h.Handle)
	write("PUT", "/api/v1/tickets/{id}/state", h.UpdateState)
	get("/api/v1/tickets/{id}/flowlogs", h.FlowLogs)
	get("/api/v1/tickets/{id}/flowsteps", h.FlowSteps)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.MetricsPath != "" && metrics != nil {
		mux.Handle("GET "+cfg.MetricsPath, metrics.Handler())
	}

	return mw.RequestID(mux), mw
}
