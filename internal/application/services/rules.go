package services

import (
	"fmt"

	"github.com/ovsrestd/backend/internal/domain/schema"
	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	apperrors "github.com/ovsrestd/backend/pkg/errors"
	"github.com/ovsrestd/backend/pkg/expression"
)

// RuleEvaluator checks table-level rules against a candidate row
type RuleEvaluator struct {
	engine *expression.Engine
}

// NewRuleEvaluator creates a new RuleEvaluator. Rules can call EMPTY(col),
// which is true when the column is absent from the row.
func NewRuleEvaluator(engine *expression.Engine) *RuleEvaluator {
	if engine == nil {
		engine = expression.NewEngine()
	}
	engine.RegisterFunction("EMPTY", func(params ...interface{}) (interface{}, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("EMPTY requires 1 argument")
		}
		return replica.IsEmpty(params[0]), nil
	})
	return &RuleEvaluator{engine: engine}
}

// Check evaluates every rule of t against row. A rule whose condition holds
// yields a validation error carrying the rule's message.
func (re *RuleEvaluator) Check(t *schema.Table, row map[string]any) apperrors.ValidationErrors {
	var errs apperrors.ValidationErrors
	for _, rule := range t.Rules {
		hit, err := re.engine.EvaluateBool(rule.Condition, row)
		if err != nil {
			errs = append(errs, apperrors.NewValidationError("", fmt.Sprintf("rule %q failed: %v", rule.Condition, err)))
			continue
		}
		if hit {
			errs = append(errs, apperrors.NewValidationError("", rule.Message))
		}
	}
	return errs
}

// Validate compiles every rule in the schema
func (re *RuleEvaluator) Validate(s *schema.Schema) error {
	for _, name := range s.TableNames() {
		for _, rule := range s.Tables[name].Rules {
			if err := re.engine.Validate(rule.Condition); err != nil {
				return fmt.Errorf("table %s rule %q: %w", name, rule.Condition, err)
			}
		}
	}
	return nil
}
