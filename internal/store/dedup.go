package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/vigilsec/vigil/internal/errors"
	"github.com/vigilsec/vigil/internal/models"
)

// Clock yields the gate's notion of current time, injected so tests can
// drive the cooldown window deterministically.
type Clock interface {
	NowUTC() time.Time
}

type systemClock struct{}

func (systemClock) NowUTC() time.Time { return time.Now().UTC() }

// CheckResult reports whether a dedup key is inside its cooldown window.
type CheckResult struct {
	Duplicate        bool  `json:"duplicate"`
	ExistingID       int64 `json:"existing_id,omitempty"`
	SecondsRemaining int   `json:"seconds_remaining,omitempty"`
}

// CreateParams carries the fields of a prospective alert through the gate.
type CreateParams struct {
	EventID         int64
	RuleID          *int64
	Severity        models.Severity
	DedupKey        string
	Channels        models.ChannelList
	Metadata        models.JSONMap
	CooldownSeconds int
}

// Gate enforces the dedup invariant: within a cooldown window, at most one
// non-dismissed alert exists per dedup key, even under concurrent
// pipelines. The database serializes contenders through a transaction-scoped
// advisory lock on the key.
type Gate struct {
	store *Store
	clock Clock
}

// NewGate creates a gate over the store. A nil clock uses the system clock.
func NewGate(store *Store, clock Clock) *Gate {
	if clock == nil {
		clock = systemClock{}
	}
	return &Gate{store: store, clock: clock}
}

// Check reports whether a non-dismissed alert with the same dedup key was
// created inside the cooldown window. The window is left-open: an alert
// created exactly cooldown seconds ago is not a duplicate. Cooldown zero
// disables dedup.
func (g *Gate) Check(ctx context.Context, dedupKey string, cooldownSeconds int) (CheckResult, error) {
	const op = "dedup.Check"
	if err := models.ValidateDedupKey(dedupKey); err != nil {
		return CheckResult{}, errors.Validationf(op, "%v", err)
	}
	if cooldownSeconds <= 0 {
		return CheckResult{}, nil
	}

	now := g.clock.NowUTC()
	var existing struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := g.store.db.GetContext(ctx, &existing, duplicateQuery,
		dedupKey, models.StatusDismissed, cutoff(now, cooldownSeconds))
	if stderrors.Is(err, sql.ErrNoRows) {
		return CheckResult{}, nil
	}
	if err != nil {
		return CheckResult{}, fmt.Errorf("%s: %w", op, err)
	}

	return CheckResult{
		Duplicate:        true,
		ExistingID:       existing.ID,
		SecondsRemaining: secondsRemaining(now, existing.CreatedAt, cooldownSeconds),
	}, nil
}

// CreateIfNotDuplicate atomically checks the cooldown window and inserts a
// new PENDING alert when it is clear. When a duplicate exists the existing
// alert is returned with isNew=false. The advisory lock closes the race
// between two workers deciding "no duplicate" for the same key.
func (g *Gate) CreateIfNotDuplicate(ctx context.Context, params CreateParams) (*models.Alert, bool, error) {
	const op = "dedup.CreateIfNotDuplicate"
	if err := models.ValidateDedupKey(params.DedupKey); err != nil {
		return nil, false, errors.Validationf(op, "%v", err)
	}
	if !params.Severity.Valid() {
		return nil, false, errors.Validationf(op, "unknown severity %q", params.Severity)
	}
	if params.Channels == nil {
		params.Channels = models.ChannelList{}
	}
	if params.Metadata == nil {
		params.Metadata = models.JSONMap{}
	}

	var alert models.Alert
	isNew := false
	err := g.store.inTx(ctx, func(tx *sqlx.Tx) error {
		if params.CooldownSeconds > 0 {
			if _, err := tx.ExecContext(ctx,
				`SELECT pg_advisory_xact_lock(hashtext($1))`, params.DedupKey); err != nil {
				return fmt.Errorf("%s: acquire advisory lock: %w", op, err)
			}

			now := g.clock.NowUTC()
			var existing struct {
				ID        int64     `db:"id"`
				CreatedAt time.Time `db:"created_at"`
			}
			err := tx.GetContext(ctx, &existing, duplicateQuery,
				params.DedupKey, models.StatusDismissed, cutoff(now, params.CooldownSeconds))
			switch {
			case err == nil:
				if err := tx.GetContext(ctx, &alert,
					`SELECT `+alertColumns+` FROM alerts WHERE id = $1`, existing.ID); err != nil {
					return fmt.Errorf("%s: load existing alert: %w", op, err)
				}
				log.Debug().
					Str("dedup_key", params.DedupKey).
					Int64("existing_id", existing.ID).
					Int("seconds_remaining", secondsRemaining(now, existing.CreatedAt, params.CooldownSeconds)).
					Msg("Alert suppressed inside cooldown window")
				return nil
			case stderrors.Is(err, sql.ErrNoRows):
				// Window is clear; fall through to the insert.
			default:
				return fmt.Errorf("%s: %w", op, err)
			}
		}

		query := `
			INSERT INTO alerts (event_id, rule_id, severity, status, dedup_key, channels, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at`
		if err := tx.QueryRowxContext(ctx, query,
			params.EventID, params.RuleID, params.Severity, models.StatusPending,
			params.DedupKey, params.Channels, params.Metadata,
		).Scan(&alert.ID, &alert.CreatedAt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		alert.EventID = params.EventID
		alert.RuleID = params.RuleID
		alert.Severity = params.Severity
		alert.Status = models.StatusPending
		alert.DedupKey = params.DedupKey
		alert.Channels = params.Channels
		alert.Metadata = params.Metadata
		isNew = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &alert, isNew, nil
}

// duplicateQuery finds the newest non-dismissed alert for a key created
// strictly after the window cutoff.
const duplicateQuery = `
	SELECT id, created_at FROM alerts
	WHERE dedup_key = $1 AND status != $2 AND created_at > $3
	ORDER BY created_at DESC, id DESC
	LIMIT 1`

func cutoff(now time.Time, cooldownSeconds int) time.Time {
	return now.Add(-time.Duration(cooldownSeconds) * time.Second)
}

// secondsRemaining is how long until the window around createdAt frees,
// rounded up and never negative.
func secondsRemaining(now, createdAt time.Time, cooldownSeconds int) int {
	remaining := time.Duration(cooldownSeconds)*time.Second - now.Sub(createdAt)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}
