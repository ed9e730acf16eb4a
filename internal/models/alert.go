package models

import (
	"fmt"
	"regexp"
	"time"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusPending      AlertStatus = "PENDING"
	StatusDelivered    AlertStatus = "DELIVERED"
	StatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	StatusDismissed    AlertStatus = "DISMISSED"
)

// Valid reports whether s is a recognized lifecycle state.
func (s AlertStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusAcknowledged, StatusDismissed:
		return true
	}
	return false
}

// CanTransition reports whether from→to is an edge of the lifecycle graph.
// Re-entering the current state is handled by callers as an idempotent no-op,
// not as a transition.
func CanTransition(from, to AlertStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusDelivered || to == StatusDismissed
	case StatusDelivered:
		return to == StatusAcknowledged
	case StatusAcknowledged:
		return to == StatusDismissed
	}
	return false
}

// MaxDedupKeyLen bounds the dedup key column.
const MaxDedupKeyLen = 512

var dedupKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.\:]+$`)

// ValidateDedupKey enforces the dedup key format: non-empty, at most
// MaxDedupKeyLen characters, drawn from [A-Za-z0-9_-.:].
func ValidateDedupKey(key string) error {
	if key == "" {
		return fmt.Errorf("dedup key is empty")
	}
	if len(key) > MaxDedupKeyLen {
		return fmt.Errorf("dedup key exceeds %d characters", MaxDedupKeyLen)
	}
	if !dedupKeyPattern.MatchString(key) {
		return fmt.Errorf("dedup key %q contains invalid characters", key)
	}
	return nil
}

// Alert is a persisted, deduplicated notification obligation derived from
// one event and (usually) one rule.
type Alert struct {
	ID          int64       `json:"id" db:"id"`
	EventID     int64       `json:"event_id" db:"event_id"`
	RuleID      *int64      `json:"rule_id,omitempty" db:"rule_id"`
	Severity    Severity    `json:"severity" db:"severity"`
	Status      AlertStatus `json:"status" db:"status"`
	DedupKey    string      `json:"dedup_key" db:"dedup_key"`
	Channels    ChannelList `json:"channels" db:"channels"`
	Metadata    JSONMap     `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	DeliveredAt *time.Time  `json:"delivered_at,omitempty" db:"delivered_at"`
}

// Validate checks the alert's invariants.
func (a Alert) Validate() error {
	if a.EventID == 0 {
		return fmt.Errorf("alert has no event id")
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", a.Severity)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("unknown status %q", a.Status)
	}
	if err := ValidateDedupKey(a.DedupKey); err != nil {
		return err
	}
	return a.Channels.Validate()
}
