package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/vigilsec/vigil/internal/errors"
	"github.com/vigilsec/vigil/internal/models"
)

const ruleColumns = `id, name, description, enabled, severity, conditions, dedup_key_template, cooldown_seconds, channels, created_at, updated_at`

// RuleFilter narrows ListRules. Nil fields match everything.
type RuleFilter struct {
	Enabled  *bool
	Severity *models.Severity
	Limit    int
	Offset   int
}

// CreateRule validates, applies defaults, and inserts a new rule. A
// duplicate name maps to a conflict error.
func (s *Store) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	const op = "store.CreateRule"
	rule.ApplyDefaults()
	if err := rule.Validate(); err != nil {
		return errors.Validationf(op, "%v", err)
	}

	query := `
		INSERT INTO alert_rules (name, description, enabled, severity, conditions, dedup_key_template, cooldown_seconds, channels)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	err := s.db.QueryRowxContext(ctx, query,
		rule.Name, rule.Description, rule.Enabled, rule.Severity,
		rule.Conditions, rule.DedupKeyTemplate, rule.CooldownSeconds, rule.Channels,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflictf(op, "rule name %q already exists", rule.Name)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetRule fetches one rule by id.
func (s *Store) GetRule(ctx context.Context, id int64) (*models.AlertRule, error) {
	const op = "store.GetRule"
	var rule models.AlertRule
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = $1`
	if err := s.db.GetContext(ctx, &rule, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf(op, fmt.Sprintf("rule %d", id))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &rule, nil
}

// GetRuleByName fetches one rule by its unique name.
func (s *Store) GetRuleByName(ctx context.Context, name string) (*models.AlertRule, error) {
	const op = "store.GetRuleByName"
	var rule models.AlertRule
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE name = $1`
	if err := s.db.GetContext(ctx, &rule, query, name); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFoundf(op, "rule "+name)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &rule, nil
}

// UpdateRule replaces all mutable fields of an existing rule and bumps
// updated_at.
func (s *Store) UpdateRule(ctx context.Context, rule *models.AlertRule) error {
	const op = "store.UpdateRule"
	rule.ApplyDefaults()
	if err := rule.Validate(); err != nil {
		return errors.Validationf(op, "%v", err)
	}

	query := `
		UPDATE alert_rules
		SET name = $2, description = $3, enabled = $4, severity = $5,
		    conditions = $6, dedup_key_template = $7, cooldown_seconds = $8,
		    channels = $9, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`
	err := s.db.QueryRowxContext(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.Enabled, rule.Severity,
		rule.Conditions, rule.DedupKeyTemplate, rule.CooldownSeconds, rule.Channels,
	).Scan(&rule.UpdatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.NotFoundf(op, fmt.Sprintf("rule %d", rule.ID))
		}
		if isUniqueViolation(err) {
			return errors.Conflictf(op, "rule name %q already exists", rule.Name)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteRule removes a rule. Alerts that reference it keep their rows with
// rule_id set to null by the schema's ON DELETE SET NULL.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	const op = "store.DeleteRule"
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf(op, fmt.Sprintf("rule %d", id))
	}
	return nil
}

// ListRules returns rules matching the filter, newest first.
func (s *Store) ListRules(ctx context.Context, filter RuleFilter) ([]models.AlertRule, error) {
	const op = "store.ListRules"

	var preds []string
	var args []interface{}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		preds = append(preds, fmt.Sprintf("enabled = $%d", len(args)))
	}
	if filter.Severity != nil {
		args = append(args, *filter.Severity)
		preds = append(preds, fmt.Sprintf("severity = $%d", len(args)))
	}

	args = append(args, clampLimit(filter.Limit), clampOffset(filter.Offset))
	query := fmt.Sprintf(
		`SELECT %s FROM alert_rules%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		ruleColumns, whereClause(preds), len(args)-1, len(args))

	rules := []models.AlertRule{}
	if err := s.db.SelectContext(ctx, &rules, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rules, nil
}

// EnabledRules returns every enabled rule ordered by severity descending.
func (s *Store) EnabledRules(ctx context.Context) ([]models.AlertRule, error) {
	const op = "store.EnabledRules"
	rules := []models.AlertRule{}
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE enabled = TRUE ORDER BY ` + severityRankSQL + ` DESC, name ASC`
	if err := s.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rules, nil
}

// RulesForCamera returns the enabled rules applicable to a camera: rules
// whose camera_ids condition is absent or empty apply to every camera,
// otherwise the camera must be a member. Ordered by severity descending,
// ties by name.
func (s *Store) RulesForCamera(ctx context.Context, cameraID string) ([]models.AlertRule, error) {
	const op = "store.RulesForCamera"
	rules := []models.AlertRule{}
	query := `
		SELECT ` + ruleColumns + `
		FROM alert_rules
		WHERE enabled = TRUE
		  AND (conditions IS NULL
		       OR COALESCE(jsonb_array_length(conditions->'camera_ids'), 0) = 0
		       OR conditions->'camera_ids' @> to_jsonb($1::text))
		ORDER BY ` + severityRankSQL + ` DESC, name ASC`
	if err := s.db.SelectContext(ctx, &rules, query, cameraID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rules, nil
}
