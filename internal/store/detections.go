package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vigilsec/vigil/internal/errors"
	"github.com/vigilsec/vigil/internal/models"
)

// InsertDetection persists a detection and fills in its id. The bounding
// box, when present, is stored as JSONB.
func (s *Store) InsertDetection(ctx context.Context, det *models.Detection) error {
	const op = "store.InsertDetection"
	if err := det.Validate(); err != nil {
		return errors.Validationf(op, "%v", err)
	}

	var box []byte
	if det.Box != nil {
		b, err := json.Marshal(det.Box)
		if err != nil {
			return errors.Validationf(op, "marshal bounding box: %v", err)
		}
		box = b
	}

	query := `
		INSERT INTO detections (camera_id, detected_at, object_class, confidence, bounding_box, enrichment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := s.db.QueryRowxContext(ctx, query,
		det.CameraID, det.DetectedAt, det.ObjectClass, det.Confidence, box, det.Enrichment,
	).Scan(&det.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetDetection fetches one detection by id.
func (s *Store) GetDetection(ctx context.Context, id int64) (*models.Detection, error) {
	const op = "store.GetDetection"
	row := s.db.QueryRowxContext(ctx,
		`SELECT id, camera_id, detected_at, object_class, confidence, bounding_box, enrichment
		 FROM detections WHERE id = $1`, id)
	det, err := scanDetection(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf(op, fmt.Sprintf("detection %d", id))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return det, nil
}

// DetectionsByIDs fetches the named detections in id order. Ids that do
// not exist are dropped rather than treated as errors; callers decide
// whether a shorter result matters.
func (s *Store) DetectionsByIDs(ctx context.Context, ids []int64) ([]models.Detection, error) {
	const op = "store.DetectionsByIDs"
	if len(ids) == 0 {
		return []models.Detection{}, nil
	}

	query, args, err := sqlx.In(
		`SELECT id, camera_id, detected_at, object_class, confidence, bounding_box, enrichment
		 FROM detections WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	detections := []models.Detection{}
	for rows.Next() {
		det, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		detections = append(detections, *det)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return detections, nil
}

// rowScanner covers both sqlx.Row and sqlx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDetection(row rowScanner) (*models.Detection, error) {
	var det models.Detection
	var box []byte
	if err := row.Scan(
		&det.ID, &det.CameraID, &det.DetectedAt, &det.ObjectClass,
		&det.Confidence, &box, &det.Enrichment,
	); err != nil {
		return nil, err
	}
	if len(box) > 0 {
		var b models.BoundingBox
		if err := json.Unmarshal(box, &b); err != nil {
			return nil, fmt.Errorf("unmarshal bounding box: %w", err)
		}
		det.Box = &b
	}
	return &det, nil
}
