package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vigilsec/vigil/internal/models"
	"github.com/vigilsec/vigil/internal/store"
)

// AlertHandlers serves alert queries and lifecycle transitions.
type AlertHandlers struct {
	store *store.Store
}

// NewAlertHandlers creates the alert endpoint handlers.
func NewAlertHandlers(st *store.Store) *AlertHandlers {
	return &AlertHandlers{store: st}
}

// HandleAlerts serves GET /api/alerts with the full filter set.
func (h *AlertHandlers) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := store.AlertFilter{DedupKey: q.Get("dedup_key")}

	var err error
	if filter.EventID, err = queryInt64Ptr(q, "event_id"); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	if filter.RuleID, err = queryInt64Ptr(q, "rule_id"); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	if raw := q.Get("status"); raw != "" {
		status := models.AlertStatus(strings.ToUpper(raw))
		if !status.Valid() {
			writeErrorResponse(w, http.StatusBadRequest, "validation_error",
				"unknown status "+strconv.Quote(raw), nil)
			return
		}
		filter.Status = &status
	}
	if raw := q.Get("severity"); raw != "" {
		severity, err := models.ParseSeverity(raw)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
		filter.Severity = &severity
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation_error",
				"since must be an RFC 3339 timestamp", nil)
			return
		}
		sinceUTC := since.UTC()
		filter.Since = &sinceUTC
	}
	if filter.Limit, err = queryInt(q, "limit", 0); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	if filter.Offset, err = queryInt(q, "offset", 0); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	alerts, err := h.store.ListAlerts(r.Context(), filter)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// HandleAlertByID routes /api/alerts/{id} and the lifecycle actions
// /api/alerts/{id}/acknowledge and /api/alerts/{id}/dismiss.
func (h *AlertHandlers) HandleAlertByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/alerts/"), "/")
	parts := strings.Split(rest, "/")

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error",
			"Alert id must be an integer", nil)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGet(w, r, id)
	case len(parts) == 1:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	case len(parts) == 2:
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleTransition(w, r, id, parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (h *AlertHandlers) handleGet(w http.ResponseWriter, r *http.Request, id int64) {
	alert, err := h.store.GetAlert(r.Context(), id)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *AlertHandlers) handleTransition(w http.ResponseWriter, r *http.Request, id int64, action string) {
	var (
		alert *models.Alert
		err   error
	)
	switch action {
	case "acknowledge":
		alert, err = h.store.MarkAcknowledged(r.Context(), id)
	case "dismiss":
		alert, err = h.store.MarkDismissed(r.Context(), id)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}
