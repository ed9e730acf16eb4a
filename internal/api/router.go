// Package api exposes the HTTP surface of the service: rule management,
// alert queries and lifecycle transitions, health, and Prometheus metrics.
// Dispatch is a plain ServeMux with per-handler method switches; every
// response is JSON.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/vigilsec/vigil/internal/auth"
	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/rules"
	"github.com/vigilsec/vigil/internal/store"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// healthCheckTimeout bounds the database ping inside /api/health.
const healthCheckTimeout = 5 * time.Second

// Router handles HTTP requests
type Router struct {
	mux       *http.ServeMux
	cfg       *config.Config
	store     *store.Store
	startTime time.Time
}

// NewRouter assembles the routes and wraps them in the error-handling
// middleware. The returned handler is ready to serve.
func NewRouter(cfg *config.Config, st *store.Store, engine *rules.Engine) http.Handler {
	r := &Router{
		mux:       http.NewServeMux(),
		cfg:       cfg,
		store:     st,
		startTime: time.Now(),
	}
	r.setupRoutes(engine)
	return ErrorHandler(r)
}

func (r *Router) setupRoutes(engine *rules.Engine) {
	ruleHandlers := NewRuleHandlers(r.store, engine)
	alertHandlers := NewAlertHandlers(r.store)

	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.HandleFunc("/api/version", r.handleVersion)
	r.mux.Handle("/metrics", promhttp.Handler())

	// ServeMux prefers the longest matching prefix, so the rules routes
	// win over the /api/alerts/ subtree they live under.
	r.mux.HandleFunc("/api/alerts/rules", r.guardWrites(ruleHandlers.HandleRules))
	r.mux.HandleFunc("/api/alerts/rules/", r.guardWrites(ruleHandlers.HandleRuleByID))
	r.mux.HandleFunc("/api/alerts", alertHandlers.HandleAlerts)
	r.mux.HandleFunc("/api/alerts/", r.guardWrites(alertHandlers.HandleAlertByID))
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if strings.HasPrefix(req.URL.Path, "/api/") {
		addSecurityHeaders(w)
	}

	start := time.Now()
	r.mux.ServeHTTP(w, req)

	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
}

func addSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Cache-Control", "no-store")
}

// guardWrites requires a valid API key on mutating methods when the key
// gate is enabled. Reads always pass through.
func (r *Router) guardWrites(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next(w, req)
			return
		}

		if !r.cfg.APIKeyEnabled {
			next(w, req)
			return
		}

		presented := req.Header.Get("X-API-Key")
		if presented == "" {
			if header := req.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
				presented = strings.TrimPrefix(header, "Bearer ")
			}
		}
		if !auth.VerifyKey(presented, r.cfg.APIKey) {
			writeErrorResponse(w, http.StatusUnauthorized, "unauthorized",
				"A valid API key is required", nil)
			return
		}
		next(w, req)
	}
}

// handleHealth reports service and database health plus a host resource
// snapshot. A failed database ping degrades the status and the HTTP code.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	dbStatus := "ok"
	httpStatus := http.StatusOK
	if err := r.store.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Health check could not reach the database")
		status = "degraded"
		dbStatus = "unreachable"
		httpStatus = http.StatusServiceUnavailable
	}

	health := map[string]interface{}{
		"status":         status,
		"database":       dbStatus,
		"timestamp":      time.Now().Unix(),
		"uptime_seconds": int64(time.Since(r.startTime).Seconds()),
	}
	// Host snapshot is best effort; health never fails because of it.
	if vm, err := mem.VirtualMemory(); err == nil {
		health["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		health["cpu_percent"] = percents[0]
	}

	writeJSON(w, httpStatus, health)
}

// handleVersion reports build information.
func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
	})
}
