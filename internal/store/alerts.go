package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vigilsec/vigil/internal/errors"
	"github.com/vigilsec/vigil/internal/models"
)

const alertColumns = `id, event_id, rule_id, severity, status, dedup_key, channels, metadata, created_at, delivered_at`

// AlertFilter narrows ListAlerts. Nil fields match everything. Since
// restricts to alerts created at or after the given instant.
type AlertFilter struct {
	EventID  *int64
	RuleID   *int64
	Status   *models.AlertStatus
	Severity *models.Severity
	DedupKey string
	Since    *time.Time
	Limit    int
	Offset   int
}

// GetAlert fetches one alert by id.
func (s *Store) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	const op = "store.GetAlert"
	var alert models.Alert
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	if err := s.db.GetContext(ctx, &alert, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf(op, fmt.Sprintf("alert %d", id))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &alert, nil
}

// ListAlerts returns alerts matching the filter, newest first, ties broken
// by id descending.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	const op = "store.ListAlerts"

	var preds []string
	var args []interface{}
	if filter.EventID != nil {
		args = append(args, *filter.EventID)
		preds = append(preds, fmt.Sprintf("event_id = $%d", len(args)))
	}
	if filter.RuleID != nil {
		args = append(args, *filter.RuleID)
		preds = append(preds, fmt.Sprintf("rule_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		preds = append(preds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Severity != nil {
		args = append(args, *filter.Severity)
		preds = append(preds, fmt.Sprintf("severity = $%d", len(args)))
	}
	if filter.DedupKey != "" {
		args = append(args, filter.DedupKey)
		preds = append(preds, fmt.Sprintf("dedup_key = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		preds = append(preds, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	args = append(args, clampLimit(filter.Limit), clampOffset(filter.Offset))
	query := fmt.Sprintf(
		`SELECT %s FROM alerts%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		alertColumns, whereClause(preds), len(args)-1, len(args))

	alerts := []models.Alert{}
	if err := s.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return alerts, nil
}

// GetUndelivered returns PENDING alerts that have never been delivered,
// oldest first so the reaper drains them in FIFO order. A non-zero before
// restricts to alerts created at or before that instant.
func (s *Store) GetUndelivered(ctx context.Context, before time.Time) ([]models.Alert, error) {
	const op = "store.GetUndelivered"

	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE status = $1 AND delivered_at IS NULL`
	args := []interface{}{models.StatusPending}
	if !before.IsZero() {
		args = append(args, before)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at ASC, id ASC"

	alerts := []models.Alert{}
	if err := s.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return alerts, nil
}

// GetRecent returns the most recently created alerts across all states.
func (s *Store) GetRecent(ctx context.Context, limit int) ([]models.Alert, error) {
	const op = "store.GetRecent"
	alerts := []models.Alert{}
	query := `SELECT ` + alertColumns + ` FROM alerts ORDER BY created_at DESC, id DESC LIMIT $1`
	if err := s.db.SelectContext(ctx, &alerts, query, clampLimit(limit)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return alerts, nil
}

// GetAbandoned returns alerts the reaper gave up on, newest first.
func (s *Store) GetAbandoned(ctx context.Context, limit int) ([]models.Alert, error) {
	const op = "store.GetAbandoned"
	alerts := []models.Alert{}
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE (metadata->>'delivery_abandoned')::boolean IS TRUE
		ORDER BY created_at DESC, id DESC LIMIT $1`
	if err := s.db.SelectContext(ctx, &alerts, query, clampLimit(limit)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return alerts, nil
}

// CountUndelivered reports how many PENDING alerts await delivery.
func (s *Store) CountUndelivered(ctx context.Context) (int, error) {
	const op = "store.CountUndelivered"
	var n int
	query := `SELECT COUNT(*) FROM alerts WHERE status = $1 AND delivered_at IS NULL`
	if err := s.db.GetContext(ctx, &n, query, models.StatusPending); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// MarkDelivered transitions an alert to DELIVERED and stamps delivered_at
// in the same statement. Re-issuing on an already DELIVERED alert is a
// no-op success.
func (s *Store) MarkDelivered(ctx context.Context, id int64) (*models.Alert, error) {
	return s.transition(ctx, "store.MarkDelivered", id, models.StatusDelivered)
}

// MarkAcknowledged transitions a DELIVERED alert to ACKNOWLEDGED.
func (s *Store) MarkAcknowledged(ctx context.Context, id int64) (*models.Alert, error) {
	return s.transition(ctx, "store.MarkAcknowledged", id, models.StatusAcknowledged)
}

// MarkDismissed transitions a PENDING or ACKNOWLEDGED alert to DISMISSED.
func (s *Store) MarkDismissed(ctx context.Context, id int64) (*models.Alert, error) {
	return s.transition(ctx, "store.MarkDismissed", id, models.StatusDismissed)
}

// transition applies one edge of the lifecycle graph under a row lock so
// concurrent mutations serialize. Re-entering the current state succeeds
// without touching the row; any other off-graph move is rejected.
func (s *Store) transition(ctx context.Context, op string, id int64, target models.AlertStatus) (*models.Alert, error) {
	var alert models.Alert
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &alert, query, id); err != nil {
			if stderrors.Is(err, sql.ErrNoRows) {
				return errors.NotFoundf(op, fmt.Sprintf("alert %d", id))
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		if alert.Status == target {
			return nil
		}
		if !models.CanTransition(alert.Status, target) {
			return errors.InvalidTransition(op, string(alert.Status), string(target))
		}

		if target == models.StatusDelivered {
			row := tx.QueryRowxContext(ctx,
				`UPDATE alerts SET status = $2, delivered_at = now() WHERE id = $1 RETURNING status, delivered_at`,
				id, target)
			if err := row.Scan(&alert.Status, &alert.DeliveredAt); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			return nil
		}

		row := tx.QueryRowxContext(ctx,
			`UPDATE alerts SET status = $2 WHERE id = $1 RETURNING status`,
			id, target)
		if err := row.Scan(&alert.Status); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// UpdateAlertMetadata merges the patch into the alert's metadata map at
// the top level. Existing keys not named in the patch are preserved.
func (s *Store) UpdateAlertMetadata(ctx context.Context, id int64, patch models.JSONMap) (*models.Alert, error) {
	const op = "store.UpdateAlertMetadata"
	if len(patch) == 0 {
		return s.GetAlert(ctx, id)
	}

	var alert models.Alert
	query := `UPDATE alerts
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb
		WHERE id = $1
		RETURNING ` + alertColumns
	if err := s.db.GetContext(ctx, &alert, query, id, patch); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf(op, fmt.Sprintf("alert %d", id))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &alert, nil
}

// CheckDuplicate is the read-only companion to the dedup gate for paths
// that never create alerts. The gate owns the authoritative check.
func (s *Store) CheckDuplicate(ctx context.Context, dedupKey string, cooldownSeconds int, now time.Time) (bool, error) {
	const op = "store.CheckDuplicate"
	if err := models.ValidateDedupKey(dedupKey); err != nil {
		return false, errors.Validationf(op, "%v", err)
	}
	if cooldownSeconds <= 0 {
		return false, nil
	}

	cutoff := now.Add(-time.Duration(cooldownSeconds) * time.Second)
	var n int
	query := `SELECT COUNT(*) FROM alerts
		WHERE dedup_key = $1 AND status != $2 AND created_at > $3`
	if err := s.db.GetContext(ctx, &n, query, dedupKey, models.StatusDismissed, cutoff); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}
