package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vigilsec/vigil/internal/models"
	"github.com/vigilsec/vigil/internal/rules"
	"github.com/vigilsec/vigil/internal/store"
)

// defaultTestSampleSize caps how many recent events a dry run evaluates
// when the request names none.
const defaultTestSampleSize = 10

// RuleHandlers serves rule CRUD and the dry-run test endpoint.
type RuleHandlers struct {
	store  *store.Store
	engine *rules.Engine
}

// NewRuleHandlers creates the rule endpoint handlers.
func NewRuleHandlers(st *store.Store, engine *rules.Engine) *RuleHandlers {
	return &RuleHandlers{store: st, engine: engine}
}

// HandleRules routes the rule collection: GET lists, POST creates.
func (h *RuleHandlers) HandleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleCreate(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleRuleByID routes /api/alerts/rules/{id} and /api/alerts/rules/{id}/test.
func (h *RuleHandlers) HandleRuleByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/alerts/rules/"), "/")
	parts := strings.Split(rest, "/")

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error",
			"Rule id must be an integer", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "test" {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleTest(w, r, id)
		return
	}
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, id)
	case http.MethodPatch:
		h.handleUpdate(w, r, id)
	case http.MethodDelete:
		h.handleDelete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *RuleHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RuleFilter{}

	if raw := q.Get("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation_error",
				"enabled must be a boolean", nil)
			return
		}
		filter.Enabled = &enabled
	}
	if raw := q.Get("severity"); raw != "" {
		severity, err := models.ParseSeverity(raw)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
		filter.Severity = &severity
	}

	var err error
	if filter.Limit, err = queryInt(q, "limit", 0); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	if filter.Offset, err = queryInt(q, "offset", 0); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	ruleList, err := h.store.ListRules(r.Context(), filter)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ruleList,
		"count": len(ruleList),
	})
}

func (h *RuleHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var rule models.AlertRule
	if err := decodeJSON(w, r, &rule); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	if err := h.store.CreateRule(r.Context(), &rule); err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *RuleHandlers) handleGet(w http.ResponseWriter, r *http.Request, id int64) {
	rule, err := h.store.GetRule(r.Context(), id)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *RuleHandlers) handleUpdate(w http.ResponseWriter, r *http.Request, id int64) {
	rule, err := h.store.GetRule(r.Context(), id)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	// Patch semantics: decode over the stored rule so absent fields keep
	// their current values.
	if err := decodeJSON(w, r, rule); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	rule.ID = id

	if err := h.store.UpdateRule(r.Context(), rule); err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *RuleHandlers) handleDelete(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.store.DeleteRule(r.Context(), id); err != nil {
		writePipelineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ruleTestRequest struct {
	EventIDs []int64 `json:"event_ids,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	TestTime string  `json:"test_time,omitempty"`
}

// handleTest evaluates a stored rule against historical events without
// creating alerts.
func (h *RuleHandlers) handleTest(w http.ResponseWriter, r *http.Request, id int64) {
	rule, err := h.store.GetRule(r.Context(), id)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	var req ruleTestRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
	}

	now := h.engine.Now()
	if req.TestTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.TestTime)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "validation_error",
				"test_time must be an RFC 3339 timestamp", nil)
			return
		}
		now = parsed.UTC()
	}

	var events []models.Event
	if len(req.EventIDs) > 0 {
		events, err = h.store.GetEventsByIDs(r.Context(), req.EventIDs)
	} else {
		limit := req.Limit
		if limit <= 0 {
			limit = defaultTestSampleSize
		}
		events, err = h.store.GetRecentEvents(r.Context(), limit)
	}
	if err != nil {
		writePipelineError(w, err)
		return
	}

	samples := make([]rules.EventWithDetections, 0, len(events))
	for _, event := range events {
		detections, err := h.store.EventDetections(r.Context(), &event)
		if err != nil {
			writePipelineError(w, err)
			return
		}
		samples = append(samples, rules.EventWithDetections{Event: event, Detections: detections})
	}

	results := h.engine.TestRuleAgainstEvents(*rule, samples, now)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rule_id":   rule.ID,
		"rule_name": rule.Name,
		"tested_at": now.Format(time.RFC3339),
		"results":   results,
	})
}
