package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/vigilsec/vigil/internal/errors"
	"github.com/vigilsec/vigil/internal/models"
)

const cameraColumns = `id, name, folder_path, status, created_at, last_seen_at`

// UpsertCamera inserts a camera or updates its mutable fields if the id
// already exists.
func (s *Store) UpsertCamera(ctx context.Context, camera *models.Camera) error {
	const op = "store.UpsertCamera"
	if err := camera.Validate(); err != nil {
		return errors.Validationf(op, "%v", err)
	}
	if camera.Status == "" {
		camera.Status = models.CameraUnknown
	}

	query := `
		INSERT INTO cameras (id, name, folder_path, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    folder_path = EXCLUDED.folder_path,
		    status = EXCLUDED.status
		RETURNING created_at`
	if err := s.db.QueryRowxContext(ctx, query,
		camera.ID, camera.Name, camera.FolderPath, camera.Status,
	).Scan(&camera.CreatedAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetCamera fetches one camera by id.
func (s *Store) GetCamera(ctx context.Context, id string) (*models.Camera, error) {
	const op = "store.GetCamera"
	var camera models.Camera
	query := `SELECT ` + cameraColumns + ` FROM cameras WHERE id = $1`
	if err := s.db.GetContext(ctx, &camera, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf(op, "camera "+id)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &camera, nil
}

// ListCameras returns all cameras ordered by id.
func (s *Store) ListCameras(ctx context.Context) ([]models.Camera, error) {
	const op = "store.ListCameras"
	cameras := []models.Camera{}
	query := `SELECT ` + cameraColumns + ` FROM cameras ORDER BY id`
	if err := s.db.SelectContext(ctx, &cameras, query); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cameras, nil
}

// TouchCamera records activity from a camera, updating status and last_seen_at.
func (s *Store) TouchCamera(ctx context.Context, id string, status models.CameraStatus, seenAt time.Time) error {
	const op = "store.TouchCamera"
	res, err := s.db.ExecContext(ctx,
		`UPDATE cameras SET status = $2, last_seen_at = $3 WHERE id = $1`,
		id, status, seenAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, "camera "+id)
	}
	return nil
}

// DeleteCamera removes a camera and, via cascade, its detections and events.
func (s *Store) DeleteCamera(ctx context.Context, id string) error {
	const op = "store.DeleteCamera"
	res, err := s.db.ExecContext(ctx, `DELETE FROM cameras WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, "camera "+id)
	}
	return nil
}
