// Package store provides the persistence boundary for automation rules and
// execution history. The engine only sees the RuleStore and ExecutionStore
// interfaces, so the in-memory reference implementation and the database
// implementation are interchangeable.
package store

import (
	"context"
	"errors"

	"trackwise/internal/models"
)

// ErrNotFound is returned when a rule or execution id is unknown.
var ErrNotFound = errors.New("not found")

// RuleStore is a keyed repository of automation rules. Get and List return
// copies; mutating a returned rule never affects the stored one.
type RuleStore interface {
	Get(ctx context.Context, id string) (*models.AutomationRule, error)
	List(ctx context.Context, filter models.RuleFilter) ([]models.AutomationRule, error)
	Put(ctx context.Context, rule *models.AutomationRule) error
	Delete(ctx context.Context, id string) error
}

// ExecutionStore is the bounded, newest-first execution history.
type ExecutionStore interface {
	Append(ctx context.Context, exec *models.Execution) error
	Get(ctx context.Context, id string) (*models.Execution, error)
	List(ctx context.Context, filter models.ExecutionFilter) ([]models.Execution, error)
}

// ruleMatches applies a RuleFilter to one rule.
func ruleMatches(rule *models.AutomationRule, filter models.RuleFilter) bool {
	if filter.Enabled != nil && rule.Enabled != *filter.Enabled {
		return false
	}
	if filter.ProjectKey != "" && len(rule.ProjectKeys) > 0 {
		found := false
		for _, key := range rule.ProjectKeys {
			if key == filter.ProjectKey {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Trigger != "" {
		found := false
		for _, trig := range rule.Triggers {
			if trig.Type == filter.Trigger {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func executionMatches(exec *models.Execution, filter models.ExecutionFilter) bool {
	if filter.RuleID != "" && exec.RuleID != filter.RuleID {
		return false
	}
	if filter.Status != "" && exec.Status != filter.Status {
		return false
	}
	return true
}
