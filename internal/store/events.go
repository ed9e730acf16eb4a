package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/vigilsec/vigil/internal/errors"
	"github.com/vigilsec/vigil/internal/models"
)

const eventColumns = `id, camera_id, batch_id, started_at, ended_at, risk_score, risk_level, summary, reasoning, detection_ids`

// InsertEvent persists a finalized event and fills in its id.
func (s *Store) InsertEvent(ctx context.Context, event *models.Event) error {
	const op = "store.InsertEvent"
	if err := event.Validate(); err != nil {
		return errors.Validationf(op, "%v", err)
	}

	query := `
		INSERT INTO events (camera_id, batch_id, started_at, ended_at, risk_score, risk_level, summary, reasoning, detection_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := s.db.QueryRowxContext(ctx, query,
		event.CameraID, event.BatchID, event.StartedAt, event.EndedAt,
		event.RiskScore, event.RiskLevel, event.Summary, event.Reasoning,
		event.DetectionIDs,
	).Scan(&event.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetEvent fetches one event by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	const op = "store.GetEvent"
	var event models.Event
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	if err := s.db.GetContext(ctx, &event, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf(op, fmt.Sprintf("event %d", id))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &event, nil
}

// GetRecentEvents returns the most recently started events, newest first.
func (s *Store) GetRecentEvents(ctx context.Context, limit int) ([]models.Event, error) {
	const op = "store.GetRecentEvents"
	events := []models.Event{}
	query := `SELECT ` + eventColumns + ` FROM events ORDER BY started_at DESC, id DESC LIMIT $1`
	if err := s.db.SelectContext(ctx, &events, query, clampLimit(limit)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return events, nil
}

// GetEventsByIDs fetches the named events; ids that do not exist are
// silently dropped from the result.
func (s *Store) GetEventsByIDs(ctx context.Context, ids []int64) ([]models.Event, error) {
	const op = "store.GetEventsByIDs"
	if len(ids) == 0 {
		return []models.Event{}, nil
	}

	query, args, err := sqlx.In(`SELECT `+eventColumns+` FROM events WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	events := []models.Event{}
	if err := s.db.SelectContext(ctx, &events, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return events, nil
}

// EventDetections loads the detections referenced by the event's serialized
// id list. A missing, empty, or malformed list yields an empty slice; the
// pipeline treats those events as having no detections.
func (s *Store) EventDetections(ctx context.Context, event *models.Event) ([]models.Detection, error) {
	ids, err := event.ParseDetectionIDs()
	if err != nil {
		log.Warn().
			Err(err).
			Int64("event_id", event.ID).
			Msg("Event has malformed detection id list, treating as empty")
		return []models.Detection{}, nil
	}
	if len(ids) == 0 {
		return []models.Detection{}, nil
	}
	return s.DetectionsByIDs(ctx, ids)
}
