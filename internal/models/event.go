package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RiskLevel is the coarse classification attached to an event by the ingest
// pipeline alongside the numeric risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Event is a temporal grouping of detections from one camera with a risk
// assessment produced by the ingest pipeline.
type Event struct {
	ID           int64      `json:"id" db:"id"`
	CameraID     string     `json:"camera_id" db:"camera_id"`
	BatchID      string     `json:"batch_id" db:"batch_id"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	RiskScore    *int       `json:"risk_score,omitempty" db:"risk_score"`
	RiskLevel    *RiskLevel `json:"risk_level,omitempty" db:"risk_level"`
	Summary      string     `json:"summary,omitempty" db:"summary"`
	Reasoning    string     `json:"reasoning,omitempty" db:"reasoning"`
	DetectionIDs string     `json:"detection_ids,omitempty" db:"detection_ids"`
}

// Validate checks the event's invariants.
func (e Event) Validate() error {
	if e.CameraID == "" {
		return fmt.Errorf("event has no camera id")
	}
	if e.EndedAt != nil && e.EndedAt.Before(e.StartedAt) {
		return fmt.Errorf("event ended before it started")
	}
	if e.RiskScore != nil && (*e.RiskScore < 0 || *e.RiskScore > 100) {
		return fmt.Errorf("risk score %d outside [0,100]", *e.RiskScore)
	}
	return nil
}

// ParseDetectionIDs decodes the serialized detection-id list. A missing or
// empty payload yields no ids; malformed JSON or a non-list payload yields
// no ids and the parse error so callers can log and continue.
func (e Event) ParseDetectionIDs() ([]int64, error) {
	if e.DetectionIDs == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(e.DetectionIDs), &ids); err != nil {
		return nil, fmt.Errorf("detection id list for event %d: %w", e.ID, err)
	}
	return ids, nil
}
