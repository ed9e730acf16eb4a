package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vigilsec/vigil/internal/models"
	"github.com/vigilsec/vigil/internal/rules"
	"github.com/vigilsec/vigil/internal/store"
)

var ruleRowColumns = []string{
	"id", "name", "description", "enabled", "severity", "conditions",
	"dedup_key_template", "cooldown_seconds", "channels", "created_at", "updated_at",
}

var eventRowColumns = []string{
	"id", "camera_id", "batch_id", "started_at", "ended_at",
	"risk_score", "risk_level", "summary", "reasoning", "detection_ids",
}

func ruleRow(id int64, name string) *sqlmock.Rows {
	return sqlmock.NewRows(ruleRowColumns).
		AddRow(id, name, "", true, "high",
			[]byte(`{"risk_threshold":70}`),
			"{camera_id}:{rule_id}", 300, []byte(`["email"]`), testTime, testTime)
}

func TestListRulesAppliesFilters(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alert_rules WHERE enabled = $1")).
		WithArgs(true, store.DefaultQueryLimit, 0).
		WillReturnRows(ruleRow(1, "perimeter"))

	rec := doRequest(handler, http.MethodGet, "/api/alerts/rules?enabled=true", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Rules []models.AlertRule `json:"rules"`
		Count int                `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Rules) != 1 || resp.Rules[0].Name != "perimeter" {
		t.Fatalf("resp = %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListRulesRejectsUnknownSeverity(t *testing.T) {
	handler, _ := newTestRouter(t)

	rec := doRequest(handler, http.MethodGet, "/api/alerts/rules?severity=urgent", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if apiErr := decodeAPIError(t, rec); apiErr.Code != "validation_error" {
		t.Fatalf("code = %q", apiErr.Code)
	}
}

func TestCreateRuleFillsServerFields(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO alert_rules")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(3), testTime, testTime))

	body := `{"name":"perimeter","severity":"high","enabled":true,"channels":["email"]}`
	rec := doRequest(handler, http.MethodPost, "/api/alerts/rules", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var rule models.AlertRule
	if err := json.NewDecoder(rec.Body).Decode(&rule); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rule.ID != 3 {
		t.Errorf("id = %d, want 3", rule.ID)
	}
	if rule.DedupKeyTemplate != models.DefaultDedupKeyTemplate {
		t.Errorf("dedup template = %q, want default", rule.DedupKeyTemplate)
	}
	if rule.CooldownSeconds != models.DefaultCooldownSeconds {
		t.Errorf("cooldown = %d, want default", rule.CooldownSeconds)
	}
}

func TestCreateRuleDuplicateNameConflicts(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO alert_rules")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_alert_rules_name"})

	body := `{"name":"perimeter","severity":"high","channels":["email"]}`
	rec := doRequest(handler, http.MethodPost, "/api/alerts/rules", body, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if apiErr := decodeAPIError(t, rec); apiErr.Code != "conflict" {
		t.Fatalf("code = %q", apiErr.Code)
	}
}

func TestCreateRuleInvalidSeverityIsBadRequest(t *testing.T) {
	handler, mock := newTestRouter(t)

	body := `{"name":"perimeter","severity":"urgent","channels":["email"]}`
	rec := doRequest(handler, http.MethodPost, "/api/alerts/rules", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if apiErr := decodeAPIError(t, rec); apiErr.Code != "validation_error" {
		t.Fatalf("code = %q", apiErr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database access: %v", err)
	}
}

func TestGetRuleNotFound(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alert_rules WHERE id = $1")).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	rec := doRequest(handler, http.MethodGet, "/api/alerts/rules/9", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if apiErr := decodeAPIError(t, rec); apiErr.Code != "not_found" {
		t.Fatalf("code = %q", apiErr.Code)
	}
}

func TestRuleIDMustBeNumeric(t *testing.T) {
	handler, _ := newTestRouter(t)

	rec := doRequest(handler, http.MethodGet, "/api/alerts/rules/perimeter", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPatchRuleKeepsUnsetFields(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alert_rules WHERE id = $1")).
		WithArgs(int64(4)).
		WillReturnRows(ruleRow(4, "perimeter"))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE alert_rules")).
		WithArgs(int64(4), "perimeter", "", true, "high", sqlmock.AnyArg(),
			"{camera_id}:{rule_id}", 900, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(testTime))

	rec := doRequest(handler, http.MethodPatch, "/api/alerts/rules/4", `{"cooldown_seconds":900}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var rule models.AlertRule
	if err := json.NewDecoder(rec.Body).Decode(&rule); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rule.Name != "perimeter" || rule.CooldownSeconds != 900 {
		t.Fatalf("rule = %+v", rule)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPatchRuleRejectsUnknownFields(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alert_rules WHERE id = $1")).
		WithArgs(int64(4)).
		WillReturnRows(ruleRow(4, "perimeter"))

	rec := doRequest(handler, http.MethodPatch, "/api/alerts/rules/4", `{"cool_down":900}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteRule(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM alert_rules WHERE id = $1")).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doRequest(handler, http.MethodDelete, "/api/alerts/rules/4", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestDeleteRuleNotFound(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM alert_rules WHERE id = $1")).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := doRequest(handler, http.MethodDelete, "/api/alerts/rules/4", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRuleDryRunReportsMatches(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alert_rules WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(ruleRow(7, "perimeter"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM events WHERE id IN ($1) ORDER BY id")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(eventRowColumns).
			AddRow(int64(42), "front_door", "batch-1", testTime.Add(-time.Minute), nil,
				85, "high", "person at the door", "", ""))

	rec := doRequest(handler, http.MethodPost, "/api/alerts/rules/7/test", `{"event_ids":[42]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		RuleID  int64                  `json:"rule_id"`
		Results []rules.RuleTestResult `json:"results"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RuleID != 7 || len(resp.Results) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	r := resp.Results[0]
	if !r.Matched || r.EventID != 42 {
		t.Fatalf("result = %+v", r)
	}
	if r.DedupKey != "front_door:7" {
		t.Errorf("dedup key = %q", r.DedupKey)
	}
}

func TestRuleDryRunDefaultsToRecentEvents(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alert_rules WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(ruleRow(7, "perimeter"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM events ORDER BY started_at DESC, id DESC LIMIT $1")).
		WithArgs(defaultTestSampleSize).
		WillReturnRows(sqlmock.NewRows(eventRowColumns))

	rec := doRequest(handler, http.MethodPost, "/api/alerts/rules/7/test", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []rules.RuleTestResult `json:"results"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("results = %+v, want none", resp.Results)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRuleDryRunRejectsBadTestTime(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alert_rules WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(ruleRow(7, "perimeter"))

	rec := doRequest(handler, http.MethodPost, "/api/alerts/rules/7/test", `{"test_time":"yesterday"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
