package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vigilsec/vigil/internal/models"
)

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// BuildDedupKey expands a rule's dedup-key template against the event and
// detections. Recognized placeholders are camera_id, rule_id, object_type
// and risk_level; a template with any other placeholder falls back to the
// default template with a warning. The produced key is validated; expansion
// of the same inputs is deterministic.
func BuildDedupKey(rule models.AlertRule, event models.Event, detections []models.Detection) (string, error) {
	template := strings.TrimSpace(rule.DedupKeyTemplate)
	if template == "" {
		template = models.DefaultDedupKeyTemplate
	}

	values := placeholderValues(rule, event, detections)

	if unknown := unknownPlaceholders(template, values); len(unknown) > 0 {
		log.Warn().
			Str("rule", rule.Name).
			Str("template", template).
			Strs("placeholders", unknown).
			Msg("Unknown placeholders in dedup key template, using default template")
		template = models.DefaultDedupKeyTemplate
	}

	key := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.Trim(m, "{}")
		return values[name]
	})

	if err := models.ValidateDedupKey(key); err != nil {
		return "", fmt.Errorf("dedup key %q from template %q: %w", key, template, err)
	}
	return key, nil
}

func placeholderValues(rule models.AlertRule, event models.Event, detections []models.Detection) map[string]string {
	objectType := "unknown"
	if len(detections) > 0 {
		objectType = detections[0].ObjectClass
	}
	riskLevel := "unknown"
	if event.RiskLevel != nil {
		riskLevel = string(*event.RiskLevel)
	}
	return map[string]string{
		"camera_id":   event.CameraID,
		"rule_id":     strconv.FormatInt(rule.ID, 10),
		"object_type": objectType,
		"risk_level":  riskLevel,
	}
}

func unknownPlaceholders(template string, values map[string]string) []string {
	var unknown []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if _, ok := values[match[1]]; !ok {
			unknown = append(unknown, match[1])
		}
	}
	return unknown
}
