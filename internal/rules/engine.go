// Package rules evaluates declarative alert rules against events and their
// detections. The engine is stateless; the only ambient input is the clock,
// which is injected so tests can drive time deterministically.
package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilsec/vigil/internal/models"
)

// TriggeredRule is a rule that matched an event, tagged with the dedup key
// derived for it.
type TriggeredRule struct {
	Rule              models.AlertRule `json:"rule"`
	Severity          models.Severity  `json:"severity"`
	MatchedConditions []string         `json:"matched_conditions,omitempty"`
	DedupKey          string           `json:"dedup_key"`
}

// SkippedRule records a rule that could not be evaluated.
type SkippedRule struct {
	RuleID   int64  `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Reason   string `json:"reason"`
}

// EvalResult is the outcome of evaluating a rule set against one event.
type EvalResult struct {
	Triggered []TriggeredRule
	Skipped   []SkippedRule
}

// EventWithDetections pairs an event with its loaded detections for the
// rule-testing operation.
type EventWithDetections struct {
	Event      models.Event
	Detections []models.Detection
}

// RuleTestResult reports how one rule fared against one event.
type RuleTestResult struct {
	EventID           int64    `json:"event_id"`
	Matched           bool     `json:"matched"`
	MatchedConditions []string `json:"matched_conditions,omitempty"`
	DedupKey          string   `json:"dedup_key,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// Engine evaluates rule sets. It owns no state beyond the injected clock.
type Engine struct {
	clock Clock
}

// NewEngine creates an engine. A nil clock uses the system clock.
func NewEngine(clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	return &Engine{clock: clock}
}

// Now returns the engine's current evaluation time.
func (e *Engine) Now() time.Time {
	return e.clock.NowUTC()
}

// Evaluate runs every rule against the event and returns the triggered
// subset sorted by severity descending, ties broken by rule name ascending.
// A failure inside any single rule is trapped and reported in Skipped;
// other rules continue.
func (e *Engine) Evaluate(ruleSet []models.AlertRule, event models.Event, detections []models.Detection, now time.Time) EvalResult {
	var result EvalResult

	for _, rule := range ruleSet {
		triggered, err := e.evaluateRule(rule, event, detections, now)
		if err != nil {
			log.Warn().
				Err(err).
				Str("rule", rule.Name).
				Int64("event_id", event.ID).
				Msg("Rule evaluation failed, skipping rule")
			result.Skipped = append(result.Skipped, SkippedRule{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Reason:   fmt.Sprintf("evaluation_error:%v", err),
			})
			continue
		}
		if triggered != nil {
			result.Triggered = append(result.Triggered, *triggered)
		}
	}

	sort.SliceStable(result.Triggered, func(i, j int) bool {
		ri, rj := result.Triggered[i].Severity.Rank(), result.Triggered[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return result.Triggered[i].Rule.Name < result.Triggered[j].Rule.Name
	})

	return result
}

// evaluateRule applies one rule. Panics are trapped so a malformed rule
// cannot take down the batch.
func (e *Engine) evaluateRule(rule models.AlertRule, event models.Event, detections []models.Detection, now time.Time) (triggered *TriggeredRule, err error) {
	defer func() {
		if r := recover(); r != nil {
			triggered = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	matched, conditions := conditionsMatch(rule, event, detections, now)
	if !matched {
		return nil, nil
	}

	key, err := BuildDedupKey(rule, event, detections)
	if err != nil {
		return nil, err
	}

	return &TriggeredRule{
		Rule:              rule,
		Severity:          rule.Severity,
		MatchedConditions: conditions,
		DedupKey:          key,
	}, nil
}

// TestRuleAgainstEvents dry-runs one rule against a batch of events without
// touching the dedup gate. Used by the rule-testing API.
func (e *Engine) TestRuleAgainstEvents(rule models.AlertRule, events []EventWithDetections, now time.Time) []RuleTestResult {
	results := make([]RuleTestResult, 0, len(events))
	for _, ed := range events {
		triggered, err := e.evaluateRule(rule, ed.Event, ed.Detections, now)
		r := RuleTestResult{EventID: ed.Event.ID}
		switch {
		case err != nil:
			r.Error = fmt.Sprintf("evaluation_error:%v", err)
		case triggered != nil:
			r.Matched = true
			r.MatchedConditions = triggered.MatchedConditions
			r.DedupKey = triggered.DedupKey
		}
		results = append(results, r)
	}
	return results
}
