package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vigilsec/vigil/internal/errors"
	"github.com/vigilsec/vigil/internal/models"
)

var alertRowColumns = []string{
	"id", "event_id", "rule_id", "severity", "status", "dedup_key",
	"channels", "metadata", "created_at", "delivered_at",
}

func alertRow(id int64, status string) *sqlmock.Rows {
	return sqlmock.NewRows(alertRowColumns).
		AddRow(id, int64(10), nil, "high", status, "front:1",
			[]byte(`["email"]`), []byte(`{}`), time.Now().UTC(), nil)
}

func TestMarkDeliveredStampsDeliveredAt(t *testing.T) {
	s, mock := newMockStore(t)
	deliveredAt := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(alertRow(5, "PENDING"))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE alerts SET status = $2, delivered_at = now() WHERE id = $1 RETURNING status, delivered_at")).
		WithArgs(int64(5), "DELIVERED").
		WillReturnRows(sqlmock.NewRows([]string{"status", "delivered_at"}).AddRow("DELIVERED", deliveredAt))
	mock.ExpectCommit()

	alert, err := s.MarkDelivered(context.Background(), 5)
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if alert.Status != models.StatusDelivered {
		t.Fatalf("status = %s", alert.Status)
	}
	if alert.DeliveredAt == nil || !alert.DeliveredAt.Equal(deliveredAt) {
		t.Fatalf("delivered_at = %v", alert.DeliveredAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkDismissedIsIdempotentOnDismissed(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(alertRow(5, "DISMISSED"))
	mock.ExpectCommit()

	alert, err := s.MarkDismissed(context.Background(), 5)
	if err != nil {
		t.Fatalf("MarkDismissed on DISMISSED: %v", err)
	}
	if alert.Status != models.StatusDismissed {
		t.Fatalf("status = %s", alert.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkAcknowledgedRejectsPendingAlert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(alertRow(5, "PENDING"))
	mock.ExpectRollback()

	_, err := s.MarkAcknowledged(context.Background(), 5)
	if !errors.IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransitionUnknownAlert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(alertRowColumns))
	mock.ExpectRollback()

	_, err := s.MarkDelivered(context.Background(), 99)
	if !errors.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestListAlertsClampsLimit(t *testing.T) {
	s, mock := newMockStore(t)

	status := models.StatusPending
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3")).
		WithArgs("PENDING", MaxQueryLimit, 0).
		WillReturnRows(sqlmock.NewRows(alertRowColumns))

	_, err := s.ListAlerts(context.Background(), AlertFilter{Status: &status, Limit: 5000, Offset: -3})
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateAlertMetadataMergesPatch(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb")).
		WithArgs(int64(5), []byte(`{"delivery_abandoned":true}`)).
		WillReturnRows(sqlmock.NewRows(alertRowColumns).
			AddRow(int64(5), int64(10), nil, "high", "PENDING", "front:1",
				[]byte(`["email"]`), []byte(`{"delivery_abandoned":true,"delivery_attempts":3}`),
				time.Now().UTC(), nil))

	alert, err := s.UpdateAlertMetadata(context.Background(), 5, models.JSONMap{"delivery_abandoned": true})
	if err != nil {
		t.Fatalf("UpdateAlertMetadata: %v", err)
	}
	if v, ok := alert.Metadata["delivery_abandoned"].(bool); !ok || !v {
		t.Fatalf("metadata = %v", alert.Metadata)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetUndeliveredOrdersOldestFirst(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at ASC, id ASC")).
		WithArgs("PENDING").
		WillReturnRows(sqlmock.NewRows(alertRowColumns))

	if _, err := s.GetUndelivered(context.Background(), time.Time{}); err != nil {
		t.Fatalf("GetUndelivered: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
