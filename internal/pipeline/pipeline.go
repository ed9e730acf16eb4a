// Package pipeline drives events through rule evaluation, the dedup gate,
// alert persistence, and notification delivery. ProcessEvent is the single
// entry point for the ingest layer; ProcessUndelivered is the reaper body
// that redrives alerts whose delivery did not complete.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/models"
	"github.com/vigilsec/vigil/internal/notify"
	"github.com/vigilsec/vigil/internal/rules"
	"github.com/vigilsec/vigil/internal/store"
)

// Storage is the persistence surface the coordinator drives.
type Storage interface {
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	EventDetections(ctx context.Context, event *models.Event) ([]models.Detection, error)
	RulesForCamera(ctx context.Context, cameraID string) ([]models.AlertRule, error)
	GetUndelivered(ctx context.Context, before time.Time) ([]models.Alert, error)
	CountUndelivered(ctx context.Context) (int, error)
	MarkDelivered(ctx context.Context, id int64) (*models.Alert, error)
	UpdateAlertMetadata(ctx context.Context, id int64, patch models.JSONMap) (*models.Alert, error)
}

// AlertGate admits new alerts subject to the cooldown window.
type AlertGate interface {
	CreateIfNotDuplicate(ctx context.Context, params store.CreateParams) (*models.Alert, bool, error)
}

// Deliverer fans an alert out to its notification channels.
type Deliverer interface {
	DeliverAlert(ctx context.Context, alert models.Alert, rule *models.AlertRule, explicit []models.ChannelKind) notify.DeliveryResult
}

// Summary reports one pipeline pass over a single event.
type Summary struct {
	EventID    int64               `json:"event_id"`
	RunID      string              `json:"run_id"`
	Triggered  int                 `json:"triggered"`
	Created    int                 `json:"created"`
	Suppressed int                 `json:"suppressed"`
	Delivered  int                 `json:"delivered"`
	AlertIDs   []int64             `json:"alert_ids,omitempty"`
	Skipped    []rules.SkippedRule `json:"skipped,omitempty"`
}

// Coordinator owns the event-to-notification flow.
type Coordinator struct {
	store        Storage
	gate         AlertGate
	orchestrator Deliverer
	engine       *rules.Engine

	graceSeconds int
	maxAttempts  int
}

// NewCoordinator wires the pipeline stages together.
func NewCoordinator(st Storage, gate AlertGate, orchestrator Deliverer, engine *rules.Engine, cfg *config.Config) *Coordinator {
	return &Coordinator{
		store:        st,
		gate:         gate,
		orchestrator: orchestrator,
		engine:       engine,
		graceSeconds: cfg.ReaperGraceSeconds,
		maxAttempts:  cfg.ReaperMaxAttempts,
	}
}

// ProcessEvent runs one finalized event through the pipeline and reports
// what happened. It never returns an error to the caller: failures are
// logged, reflected in the summary, and the pass continues wherever it can.
//
// Alert creation commits per rule, so a pass interrupted mid-delivery
// leaves PENDING alerts that ProcessUndelivered will pick up.
func (c *Coordinator) ProcessEvent(ctx context.Context, eventID int64) Summary {
	runID := ulid.Make().String()
	logger := log.With().Str("run_id", runID).Int64("event_id", eventID).Logger()

	hookPassStarted()
	defer hookPassFinished()
	defer hookEventProcessed()

	summary := Summary{EventID: eventID, RunID: runID}

	event, err := c.store.GetEvent(ctx, eventID)
	if err != nil {
		logger.Error().Err(err).Msg("Pipeline pass aborted, event not loadable")
		summary.Skipped = append(summary.Skipped, rules.SkippedRule{Reason: storeErrorReason(err)})
		return summary
	}

	// Missing or dangling detection ids degrade to an empty list.
	detections, err := c.store.EventDetections(ctx, event)
	if err != nil {
		logger.Warn().Err(err).Msg("Detections not loadable, continuing with none")
		detections = nil
	}

	ruleSet, err := c.store.RulesForCamera(ctx, event.CameraID)
	if err != nil {
		logger.Error().Err(err).Msg("Pipeline pass aborted, rules not loadable")
		summary.Skipped = append(summary.Skipped, rules.SkippedRule{Reason: storeErrorReason(err)})
		return summary
	}
	if len(ruleSet) == 0 {
		logger.Debug().Str("camera_id", event.CameraID).Msg("No applicable rules for camera")
		return summary
	}

	result := c.engine.Evaluate(ruleSet, *event, detections, c.engine.Now())
	summary.Triggered = len(result.Triggered)
	summary.Skipped = append(summary.Skipped, result.Skipped...)
	for range result.Skipped {
		hookAlertSuppressed("evaluation_error")
	}

	for _, trig := range result.Triggered {
		c.handleTriggered(ctx, logger, event, trig, &summary)
	}

	logger.Info().
		Int("triggered", summary.Triggered).
		Int("created", summary.Created).
		Int("suppressed", summary.Suppressed).
		Int("delivered", summary.Delivered).
		Int("skipped", len(summary.Skipped)).
		Msg("Pipeline pass complete")
	return summary
}

// handleTriggered creates and delivers the alert for one triggered rule.
func (c *Coordinator) handleTriggered(ctx context.Context, logger zerolog.Logger, event *models.Event, trig rules.TriggeredRule, summary *Summary) {
	ruleID := trig.Rule.ID
	metadata := models.JSONMap{
		"camera_id": event.CameraID,
		"rule_name": trig.Rule.Name,
	}
	if len(trig.MatchedConditions) > 0 {
		metadata["matched_conditions"] = trig.MatchedConditions
	}

	alert, isNew, err := c.gate.CreateIfNotDuplicate(ctx, store.CreateParams{
		EventID:         event.ID,
		RuleID:          &ruleID,
		Severity:        trig.Severity,
		DedupKey:        trig.DedupKey,
		Channels:        trig.Rule.Channels,
		Metadata:        metadata,
		CooldownSeconds: trig.Rule.CooldownSeconds,
	})
	if err != nil {
		logger.Error().Err(err).Int64("rule_id", ruleID).Msg("Alert creation failed")
		summary.Skipped = append(summary.Skipped, rules.SkippedRule{
			RuleID:   ruleID,
			RuleName: trig.Rule.Name,
			Reason:   storeErrorReason(err),
		})
		return
	}
	if !isNew {
		summary.Suppressed++
		hookAlertSuppressed("duplicate_within_cooldown")
		logger.Debug().
			Str("dedup_key", trig.DedupKey).
			Int64("existing_alert_id", alert.ID).
			Msg("Duplicate suppressed by cooldown")
		return
	}

	summary.Created++
	summary.AlertIDs = append(summary.AlertIDs, alert.ID)
	hookAlertFired(trig.Rule.Name, string(trig.Severity))
	logger.Info().
		Int64("alert_id", alert.ID).
		Str("rule", trig.Rule.Name).
		Str("severity", string(trig.Severity)).
		Str("dedup_key", trig.DedupKey).
		Msg("Alert created")

	result := c.orchestrator.DeliverAlert(ctx, *alert, &trig.Rule, nil)
	if c.applyDeliveryResult(ctx, logger, alert.ID, result) {
		summary.Delivered++
	}
}

// applyDeliveryResult translates one orchestration result into store state:
// full success transitions the alert to DELIVERED, partial failure records
// the outcomes in metadata and leaves the alert PENDING, and a disabled
// master switch changes nothing.
func (c *Coordinator) applyDeliveryResult(ctx context.Context, logger zerolog.Logger, alertID int64, result notify.DeliveryResult) bool {
	if result.Disabled {
		return false
	}
	if result.AllSuccessful {
		if _, err := c.store.MarkDelivered(ctx, alertID); err != nil {
			logger.Error().Err(err).Int64("alert_id", alertID).Msg("Could not mark alert delivered")
			return false
		}
		return true
	}
	if len(result.Outcomes) > 0 {
		patch := models.JSONMap{"delivery_outcomes": result.Outcomes}
		if _, err := c.store.UpdateAlertMetadata(ctx, alertID, patch); err != nil {
			logger.Warn().Err(err).Int64("alert_id", alertID).Msg("Could not record delivery outcomes")
		}
	}
	return false
}

// ProcessUndelivered redrives PENDING alerts older than the grace interval.
// Each failed redrive increments the delivery_attempts counter; once the
// counter reaches the configured maximum the alert is flagged
// delivery_abandoned and left PENDING for operators.
func (c *Coordinator) ProcessUndelivered(ctx context.Context) (redriven, delivered int) {
	logger := log.With().Str("run_id", ulid.Make().String()).Logger()

	before := c.engine.Now().Add(-time.Duration(c.graceSeconds) * time.Second)
	alerts, err := c.store.GetUndelivered(ctx, before)
	if err != nil {
		logger.Error().Err(err).Msg("Reaper could not list undelivered alerts")
		return 0, 0
	}

	for _, alert := range alerts {
		if isAbandoned(alert.Metadata) {
			continue
		}

		result := c.orchestrator.DeliverAlert(ctx, alert, nil, nil)
		if result.Disabled {
			// Master switch is off; every remaining alert would be
			// skipped the same way.
			break
		}
		redriven++

		if result.AllSuccessful {
			if _, err := c.store.MarkDelivered(ctx, alert.ID); err != nil {
				logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("Could not mark alert delivered")
				continue
			}
			delivered++
			continue
		}

		attempts := attemptCount(alert.Metadata) + 1
		patch := models.JSONMap{"delivery_attempts": attempts}
		if len(result.Outcomes) > 0 {
			patch["delivery_outcomes"] = result.Outcomes
		}
		if attempts >= c.maxAttempts {
			patch["delivery_abandoned"] = true
			logger.Warn().
				Int64("alert_id", alert.ID).
				Int("attempts", attempts).
				Msg("Alert delivery abandoned after max attempts")
		}
		if _, err := c.store.UpdateAlertMetadata(ctx, alert.ID, patch); err != nil {
			logger.Warn().Err(err).Int64("alert_id", alert.ID).Msg("Could not record delivery attempt")
		}
	}

	if n, err := c.store.CountUndelivered(ctx); err == nil {
		hookUndelivered(n)
	}

	logger.Debug().
		Int("candidates", len(alerts)).
		Int("redriven", redriven).
		Int("delivered", delivered).
		Msg("Reaper pass complete")
	return redriven, delivered
}

func storeErrorReason(err error) string {
	return fmt.Sprintf("store_error:%v", err)
}

func isAbandoned(metadata models.JSONMap) bool {
	abandoned, ok := metadata["delivery_abandoned"].(bool)
	return ok && abandoned
}

// attemptCount tolerates both in-process ints and JSON round-tripped
// float64 values.
func attemptCount(metadata models.JSONMap) int {
	switch v := metadata["delivery_attempts"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
