package rules

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilsec/vigil/internal/models"
)

// Condition names reported in match results.
const (
	CondRiskThreshold = "risk_threshold"
	CondCameraIDs     = "camera_ids"
	CondObjectTypes   = "object_types"
	CondMinConfidence = "min_confidence"
	CondSchedule      = "schedule"
)

// conditionsMatch applies the rule's conditions with AND semantics. A rule
// with no conditions matches unconditionally. The returned list names the
// conditions that were configured and satisfied.
func conditionsMatch(rule models.AlertRule, event models.Event, detections []models.Detection, now time.Time) (bool, []string) {
	c := rule.Conditions
	if c.Empty() {
		return true, nil
	}

	var matched []string

	if c.RiskThreshold != nil {
		// A missing risk score never satisfies the threshold, even zero.
		if event.RiskScore == nil || *event.RiskScore < *c.RiskThreshold {
			return false, nil
		}
		matched = append(matched, CondRiskThreshold)
	}

	if len(c.CameraIDs) > 0 {
		if !contains(c.CameraIDs, event.CameraID) {
			return false, nil
		}
		matched = append(matched, CondCameraIDs)
	}

	if len(c.ObjectTypes) > 0 {
		if !anyDetectionClass(detections, c.ObjectTypes) {
			return false, nil
		}
		matched = append(matched, CondObjectTypes)
	}

	if c.MinConfidence != nil {
		if !anyDetectionConfidence(detections, *c.MinConfidence) {
			return false, nil
		}
		matched = append(matched, CondMinConfidence)
	}

	if len(c.ZoneIDs) > 0 {
		// Zone membership is not part of the domain model yet; log and
		// never block.
		log.Debug().
			Str("rule", rule.Name).
			Strs("zone_ids", c.ZoneIDs).
			Msg("Rule has zone_ids condition, which is diagnostic-only")
	}

	if c.Schedule != nil {
		if !scheduleMatches(rule.Name, c.Schedule, now) {
			return false, nil
		}
		matched = append(matched, CondSchedule)
	}

	return true, matched
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func containsFold(list []string, value string) bool {
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

func anyDetectionClass(detections []models.Detection, classes []string) bool {
	for _, d := range detections {
		if d.ObjectClass == "" {
			continue
		}
		if containsFold(classes, d.ObjectClass) {
			return true
		}
	}
	return false
}

func anyDetectionConfidence(detections []models.Detection, min float64) bool {
	for _, d := range detections {
		if d.Confidence != nil && *d.Confidence >= min {
			return true
		}
	}
	return false
}
