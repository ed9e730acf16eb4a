package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vigilsec/vigil/internal/models"
	"github.com/vigilsec/vigil/internal/store"
)

var alertRowColumns = []string{
	"id", "event_id", "rule_id", "severity", "status", "dedup_key",
	"channels", "metadata", "created_at", "delivered_at",
}

func alertRow(id int64, status string) *sqlmock.Rows {
	return sqlmock.NewRows(alertRowColumns).
		AddRow(id, int64(10), nil, "high", status, "front_door:1",
			[]byte(`["email"]`), []byte(`{}`), testTime, nil)
}

func TestListAlertsFiltersByStatusAndSeverity(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts WHERE status = $1 AND severity = $2")).
		WithArgs("PENDING", "high", store.DefaultQueryLimit, 0).
		WillReturnRows(alertRow(5, "PENDING"))

	rec := doRequest(handler, http.MethodGet, "/api/alerts?status=pending&severity=high", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Alerts []models.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Alerts) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Alerts[0].ID != 5 || resp.Alerts[0].Status != models.StatusPending {
		t.Fatalf("alert = %+v", resp.Alerts[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListAlertsRejectsUnknownStatus(t *testing.T) {
	handler, _ := newTestRouter(t)

	rec := doRequest(handler, http.MethodGet, "/api/alerts?status=SNOOZED", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if apiErr := decodeAPIError(t, rec); apiErr.Code != "validation_error" {
		t.Fatalf("code = %q", apiErr.Code)
	}
}

func TestListAlertsRejectsBadSince(t *testing.T) {
	handler, _ := newTestRouter(t)

	rec := doRequest(handler, http.MethodGet, "/api/alerts?since=yesterday", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetAlertByID(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(alertRow(5, "DELIVERED"))

	rec := doRequest(handler, http.MethodGet, "/api/alerts/5", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var alert models.Alert
	if err := json.NewDecoder(rec.Body).Decode(&alert); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alert.ID != 5 || alert.Status != models.StatusDelivered {
		t.Fatalf("alert = %+v", alert)
	}
}

func TestGetAlertNotFound(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts WHERE id = $1")).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	rec := doRequest(handler, http.MethodGet, "/api/alerts/99", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAlertIDMustBeNumeric(t *testing.T) {
	handler, _ := newTestRouter(t)

	rec := doRequest(handler, http.MethodGet, "/api/alerts/front_door", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAcknowledgeDeliveredAlert(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(alertRow(5, "DELIVERED"))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE alerts SET status = $2 WHERE id = $1 RETURNING status")).
		WithArgs(int64(5), "ACKNOWLEDGED").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("ACKNOWLEDGED"))
	mock.ExpectCommit()

	rec := doRequest(handler, http.MethodPost, "/api/alerts/5/acknowledge", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var alert models.Alert
	if err := json.NewDecoder(rec.Body).Decode(&alert); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alert.Status != models.StatusAcknowledged {
		t.Fatalf("status = %s", alert.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAcknowledgePendingAlertConflicts(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(alertRow(5, "PENDING"))
	mock.ExpectRollback()

	rec := doRequest(handler, http.MethodPost, "/api/alerts/5/acknowledge", "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if apiErr := decodeAPIError(t, rec); apiErr.Code != "conflict" {
		t.Fatalf("code = %q", apiErr.Code)
	}
}

func TestDismissPendingAlert(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(alertRow(5, "PENDING"))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE alerts SET status = $2 WHERE id = $1 RETURNING status")).
		WithArgs(int64(5), "DISMISSED").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("DISMISSED"))
	mock.ExpectCommit()

	rec := doRequest(handler, http.MethodPost, "/api/alerts/5/dismiss", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestTransitionMissingAlertIs404(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	rec := doRequest(handler, http.MethodPost, "/api/alerts/99/dismiss", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUnknownAlertActionIs404(t *testing.T) {
	handler, mock := newTestRouter(t)

	rec := doRequest(handler, http.MethodPost, "/api/alerts/5/snooze", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database access: %v", err)
	}
}
