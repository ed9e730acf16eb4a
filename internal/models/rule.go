package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChannelKind names a notification transport.
type ChannelKind string

const (
	ChannelEmail   ChannelKind = "email"
	ChannelWebhook ChannelKind = "webhook"
	ChannelPush    ChannelKind = "push"
)

// Valid reports whether k is a recognized transport.
func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelEmail, ChannelWebhook, ChannelPush:
		return true
	}
	return false
}

// ChannelList is the set of transports configured on a rule or alert,
// stored in a JSONB column.
type ChannelList []ChannelKind

// Value implements driver.Valuer.
func (l ChannelList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *ChannelList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ChannelList", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, l)
}

// Validate rejects channel lists containing unrecognized transports.
func (l ChannelList) Validate() error {
	for _, k := range l {
		if !k.Valid() {
			return fmt.Errorf("unknown channel %q", k)
		}
	}
	return nil
}

// Schedule restricts a rule to a recurring time window. Zero fields widen
// the window: no days means every day, no start/end means all day.
type Schedule struct {
	Timezone  string   `json:"timezone,omitempty"`
	Days      []string `json:"days,omitempty"`
	StartTime string   `json:"start_time,omitempty"`
	EndTime   string   `json:"end_time,omitempty"`
}

// Conditions are the optional predicates of a rule; every nil field is
// vacuously satisfied. All non-nil fields must match for the rule to fire.
type Conditions struct {
	RiskThreshold *int      `json:"risk_threshold,omitempty"`
	CameraIDs     []string  `json:"camera_ids,omitempty"`
	ObjectTypes   []string  `json:"object_types,omitempty"`
	MinConfidence *float64  `json:"min_confidence,omitempty"`
	ZoneIDs       []string  `json:"zone_ids,omitempty"`
	Schedule      *Schedule `json:"schedule,omitempty"`
}

// Empty reports whether no condition is configured at all.
func (c *Conditions) Empty() bool {
	if c == nil {
		return true
	}
	return c.RiskThreshold == nil && len(c.CameraIDs) == 0 && len(c.ObjectTypes) == 0 &&
		c.MinConfidence == nil && len(c.ZoneIDs) == 0 && c.Schedule == nil
}

// Value implements driver.Valuer.
func (c *Conditions) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *Conditions) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Conditions", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, c)
}

// Defaults applied when a rule omits the corresponding field.
const (
	DefaultDedupKeyTemplate = "{camera_id}:{rule_id}"
	DefaultCooldownSeconds  = 300
)

// AlertRule is a user-authored predicate over events and detections.
type AlertRule struct {
	ID               int64       `json:"id" db:"id"`
	Name             string      `json:"name" db:"name"`
	Description      string      `json:"description,omitempty" db:"description"`
	Enabled          bool        `json:"enabled" db:"enabled"`
	Severity         Severity    `json:"severity" db:"severity"`
	Conditions       *Conditions `json:"conditions,omitempty" db:"conditions"`
	DedupKeyTemplate string      `json:"dedup_key_template" db:"dedup_key_template"`
	CooldownSeconds  int         `json:"cooldown_seconds" db:"cooldown_seconds"`
	Channels         ChannelList `json:"channels" db:"channels"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// ApplyDefaults fills the dedup template and cooldown when unset.
func (r *AlertRule) ApplyDefaults() {
	if strings.TrimSpace(r.DedupKeyTemplate) == "" {
		r.DedupKeyTemplate = DefaultDedupKeyTemplate
	}
	if r.CooldownSeconds == 0 {
		r.CooldownSeconds = DefaultCooldownSeconds
	}
}

// Cooldown returns the rule's cooldown as a duration.
func (r AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// Validate checks the rule's invariants.
func (r AlertRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name is empty")
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	if r.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown %d is negative", r.CooldownSeconds)
	}
	if err := r.Channels.Validate(); err != nil {
		return err
	}
	if r.Conditions != nil {
		if t := r.Conditions.RiskThreshold; t != nil && (*t < 0 || *t > 100) {
			return fmt.Errorf("risk threshold %d outside [0,100]", *t)
		}
		if m := r.Conditions.MinConfidence; m != nil && (*m < 0 || *m > 1) {
			return fmt.Errorf("min confidence %v outside [0,1]", *m)
		}
	}
	return nil
}
