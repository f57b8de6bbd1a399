package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"trackwise/internal/metrics"
	"trackwise/internal/models"
	"trackwise/internal/smartvalue"
	"trackwise/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AutomationEngine owns the rule registry and the execution lifecycle.
// All mutation of shared state goes through the injected stores; every
// execution works on a snapshot of its rule read once at start.
type AutomationEngine struct {
	rules     store.RuleStore
	history   store.ExecutionStore
	executor  *ActionExecutor
	validator *RuleValidator
	evaluator *smartvalue.Evaluator
	logger    *logrus.Logger
	feed      *ExecutionFeed
}

// NewAutomationEngine wires the engine from its collaborators.
func NewAutomationEngine(rules store.RuleStore, history store.ExecutionStore, executor *ActionExecutor, validator *RuleValidator, evaluator *smartvalue.Evaluator, logger *logrus.Logger) *AutomationEngine {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationEngine{
		rules:     rules,
		history:   history,
		executor:  executor,
		validator: validator,
		evaluator: evaluator,
		logger:    logger,
	}
}

// SetFeed attaches an optional live execution feed. Finished executions
// are published to it.
func (e *AutomationEngine) SetFeed(feed *ExecutionFeed) {
	e.feed = feed
}

// CreateRule validates and stores a new rule.
func (e *AutomationEngine) CreateRule(ctx context.Context, rule *models.AutomationRule) (*models.AutomationRule, error) {
	if rule == nil {
		return nil, &ValidationError{Errors: []string{"rule is required"}}
	}
	result := e.validator.Validate(rule)
	if !result.Valid {
		return nil, &ValidationError{Errors: result.Errors}
	}
	for _, warning := range result.Warnings {
		e.logger.Warnf("rule %q: %s", rule.Name, warning)
	}

	now := time.Now().UTC()
	rule.ID = uuid.New().String()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.ExecutionCount = 0
	rule.FailureCount = 0
	rule.LastExecuted = nil

	if err := e.rules.Put(ctx, rule); err != nil {
		return nil, fmt.Errorf("store rule: %w", err)
	}
	e.logger.Infof("automation: rule %q created (%s)", rule.Name, rule.ID)
	return rule, nil
}

// UpdateRule merges the update over the existing rule, re-validates and
// bumps UpdatedAt.
func (e *AutomationEngine) UpdateRule(ctx context.Context, id string, update *models.RuleUpdate) (*models.AutomationRule, error) {
	rule, err := e.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	if update != nil {
		if update.Name != nil {
			rule.Name = *update.Name
		}
		if update.Description != nil {
			rule.Description = *update.Description
		}
		if update.Enabled != nil {
			rule.Enabled = *update.Enabled
		}
		if update.ProjectKeys != nil {
			rule.ProjectKeys = update.ProjectKeys
		}
		if update.Triggers != nil {
			rule.Triggers = update.Triggers
		}
		if update.Conditions != nil {
			rule.Conditions = *update.Conditions
		}
		if update.Actions != nil {
			rule.Actions = update.Actions
		}
	}

	result := e.validator.Validate(rule)
	if !result.Valid {
		return nil, &ValidationError{Errors: result.Errors}
	}

	rule.UpdatedAt = time.Now().UTC()
	if err := e.rules.Put(ctx, rule); err != nil {
		return nil, fmt.Errorf("store rule: %w", err)
	}
	return rule, nil
}

// DeleteRule removes a rule. Existing execution records keep its id as a
// detached value.
func (e *AutomationEngine) DeleteRule(ctx context.Context, id string) error {
	err := e.rules.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Resource: "rule", ID: id}
	}
	return err
}

// GetRule fetches one rule by id.
func (e *AutomationEngine) GetRule(ctx context.Context, id string) (*models.AutomationRule, error) {
	rule, err := e.rules.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Resource: "rule", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// GetRules lists rules matching the filter.
func (e *AutomationEngine) GetRules(ctx context.Context, filter models.RuleFilter) ([]models.AutomationRule, error) {
	return e.rules.List(ctx, filter)
}

// ValidateRule delegates to the rule validator.
func (e *AutomationEngine) ValidateRule(rule *models.AutomationRule) *ValidationResult {
	return e.validator.Validate(rule)
}

// ExecuteRule fires one rule against the given context and returns its
// execution record. Every firing yields a record; the worst case is
// COMPLETED with failed actions or FAILED with a partial trail.
func (e *AutomationEngine) ExecuteRule(ctx context.Context, ruleID string, ectx *models.ExecutionContext, triggeredBy string) (*models.Execution, error) {
	rule, err := e.rules.Get(ctx, ruleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Resource: "rule", ID: ruleID}
	}
	if err != nil {
		return nil, err
	}

	exec := &models.Execution{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		Status:      models.ExecutionPending,
		TriggeredAt: time.Now().UTC(),
		TriggeredBy: triggeredBy,
		Context:     ectx,
		Results:     []models.ActionResult{},
	}

	start := time.Now()
	exec.Status = models.ExecutionRunning
	e.logger.Infof("automation: executing rule %q (%s)", rule.Name, rule.ID)

	e.resolveContextTemplates(ectx)

	if e.conditionsPass(rule.Conditions, ectx) {
		e.runActions(ctx, rule, exec, ectx)
	} else {
		// A condition mismatch is not an error; the firing completes with
		// an empty result set.
		exec.Status = models.ExecutionCompleted
		e.logger.Debugf("automation: rule %q conditions not met", rule.Name)
	}
	if exec.Status == models.ExecutionRunning {
		exec.Status = models.ExecutionCompleted
	}
	exec.DurationMS = time.Since(start).Milliseconds()

	e.finishExecution(ctx, rule.ID, exec)
	return exec, nil
}

// resolveContextTemplates runs the evaluator over the templated payload
// fields of the context.
func (e *AutomationEngine) resolveContextTemplates(ectx *models.ExecutionContext) {
	if ectx == nil || e.evaluator == nil {
		return
	}
	if ectx.TriggerData != nil {
		ectx.TriggerData = e.evaluator.ProcessObject(ectx.TriggerData, ectx).(map[string]interface{})
	}
	if ectx.WebhookData != nil {
		ectx.WebhookData = e.evaluator.ProcessObject(ectx.WebhookData, ectx).(map[string]interface{})
	}
}

func (e *AutomationEngine) runActions(ctx context.Context, rule *models.AutomationRule, exec *models.Execution, ectx *models.ExecutionContext) {
	actions := make([]models.Action, len(rule.Actions))
	copy(actions, rule.Actions)
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Order < actions[j].Order })

	for _, action := range actions {
		result := e.executor.Execute(ctx, action, ectx)
		exec.Results = append(exec.Results, result)
		if result.Status == models.ActionFailed && !action.ContinueOnError {
			exec.Status = models.ExecutionFailed
			exec.Error = result.Message
			break
		}
	}
}

// finishExecution updates the rule counters, appends to the bounded
// history and publishes to the live feed. Failures here are logged, not
// surfaced: the execution record itself is already complete.
func (e *AutomationEngine) finishExecution(ctx context.Context, ruleID string, exec *models.Execution) {
	if fresh, err := e.rules.Get(ctx, ruleID); err == nil {
		fresh.ExecutionCount++
		if exec.Status == models.ExecutionFailed {
			fresh.FailureCount++
		}
		now := exec.TriggeredAt
		fresh.LastExecuted = &now
		if err := e.rules.Put(ctx, fresh); err != nil {
			e.logger.Warnf("automation: update rule counters: %v", err)
		}
	}

	if err := e.history.Append(ctx, exec); err != nil {
		e.logger.Warnf("automation: record execution: %v", err)
	}

	metrics.IncExecution(string(exec.Status))
	if e.feed != nil {
		e.feed.Publish(exec)
	}
}

// conditionsPass combines conditions via each condition's operator: an AND
// group short-circuits on the first failure, an OR member succeeds the
// whole group on its first match. No conditions is vacuously true.
func (e *AutomationEngine) conditionsPass(conditions []models.Condition, ectx *models.ExecutionContext) bool {
	result := true
	for _, cond := range conditions {
		matched := e.matchCondition(cond, ectx)
		if cond.Operator == models.OperatorOr {
			if matched {
				return true
			}
			result = false
			continue
		}
		if !matched {
			return false
		}
	}
	return result
}

func (e *AutomationEngine) matchCondition(cond models.Condition, ectx *models.ExecutionContext) bool {
	switch cond.Type {
	case models.ConditionFieldMatch:
		field := e.evaluator.ProcessString(stringValue(cond.Config["field"]), ectx)
		expected := e.evaluator.ProcessString(stringValue(cond.Config["value"]), ectx)
		op := stringValue(cond.Config["operator"])
		return compareValues(field, op, expected)
	case models.ConditionProjectMatch:
		if ectx == nil || ectx.ProjectKey == "" {
			return false
		}
		projects, ok := cond.Config["projects"].([]interface{})
		if !ok {
			return false
		}
		for _, p := range projects {
			if stringValue(p) == ectx.ProjectKey {
				return true
			}
		}
		return false
	default:
		e.logger.Warnf("automation: unsupported condition type %q", cond.Type)
		return false
	}
}

func stringValue(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func compareValues(actual, op, expected string) bool {
	switch op {
	case "", "eq", "equals":
		return actual == expected
	case "neq", "not_equals":
		return actual != expected
	case "contains":
		return strings.Contains(actual, expected)
	case "not_contains":
		return !strings.Contains(actual, expected)
	case "gt", "lt":
		a, errA := strconv.ParseFloat(actual, 64)
		b, errB := strconv.ParseFloat(expected, 64)
		if errA != nil || errB != nil {
			return false
		}
		if op == "gt" {
			return a > b
		}
		return a < b
	default:
		return false
	}
}

// GetExecutions lists execution history, newest first.
func (e *AutomationEngine) GetExecutions(ctx context.Context, filter models.ExecutionFilter) ([]models.Execution, error) {
	return e.history.List(ctx, filter)
}

// GetExecution fetches one execution record.
func (e *AutomationEngine) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	exec, err := e.history.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Resource: "execution", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// GetMetrics aggregates execution outcomes from history, not from the
// duplicated rule counters. An empty ruleID aggregates across all rules.
func (e *AutomationEngine) GetMetrics(ctx context.Context, ruleID string) (*models.RuleMetrics, error) {
	executions, err := e.history.List(ctx, models.ExecutionFilter{RuleID: ruleID})
	if err != nil {
		return nil, err
	}

	m := &models.RuleMetrics{FailureReasons: map[string]int{}}
	if len(executions) == 0 {
		return m, nil
	}

	var completed int
	var totalDuration int64
	for i := range executions {
		exec := &executions[i]
		m.ExecutionCount++
		totalDuration += exec.DurationMS
		if exec.Status == models.ExecutionCompleted {
			completed++
		}
		if exec.Status == models.ExecutionFailed && exec.Error != "" {
			m.FailureReasons[exec.Error]++
		}
		if m.LastExecution == nil || exec.TriggeredAt.After(*m.LastExecution) {
			ts := exec.TriggeredAt
			m.LastExecution = &ts
		}
	}
	m.SuccessRate = float64(completed) / float64(m.ExecutionCount)
	m.AverageDurationMS = float64(totalDuration) / float64(m.ExecutionCount)
	return m, nil
}

// HandleEvent fires every enabled rule whose trigger matches the event.
// Rule firings are independent; one failing never blocks the rest.
func (e *AutomationEngine) HandleEvent(ctx context.Context, evt models.Event) []*models.Execution {
	enabled := true
	rules, err := e.rules.List(ctx, models.RuleFilter{Enabled: &enabled, Trigger: evt.Type})
	if err != nil {
		e.logger.Warnf("automation: load rules for event %s: %v", evt.Type, err)
		return nil
	}

	var executions []*models.Execution
	for i := range rules {
		rule := &rules[i]
		if !ruleTriggeredBy(rule, evt) {
			continue
		}
		ectx := contextFromEvent(evt)
		exec, err := e.ExecuteRule(ctx, rule.ID, ectx, "event:"+string(evt.Type))
		if err != nil {
			e.logger.Warnf("automation: rule %s on event %s: %v", rule.ID, evt.Type, err)
			continue
		}
		executions = append(executions, exec)
	}
	return executions
}

// ruleTriggeredBy checks the event against each trigger of the rule,
// including per-trigger config constraints.
func ruleTriggeredBy(rule *models.AutomationRule, evt models.Event) bool {
	if len(rule.ProjectKeys) > 0 && evt.ProjectKey != "" {
		found := false
		for _, key := range rule.ProjectKeys {
			if key == evt.ProjectKey {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, trig := range rule.Triggers {
		if trig.Type != evt.Type {
			continue
		}
		if triggerConfigMatches(trig, evt) {
			return true
		}
	}
	return false
}

func triggerConfigMatches(trig models.Trigger, evt models.Event) bool {
	if projects, ok := trig.Config["projects"].([]interface{}); ok && len(projects) > 0 {
		found := false
		for _, p := range projects {
			if stringValue(p) == evt.ProjectKey {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if from := stringValue(trig.Config["from"]); from != "" && from != evt.From {
		return false
	}
	if to := stringValue(trig.Config["to"]); to != "" && to != evt.To {
		return false
	}
	if field := stringValue(trig.Config["field"]); field != "" && field != evt.Field {
		return false
	}
	return true
}

func contextFromEvent(evt models.Event) *models.ExecutionContext {
	trigger := map[string]interface{}{"event": string(evt.Type)}
	if evt.Field != "" {
		trigger["field"] = evt.Field
	}
	if evt.From != "" {
		trigger["from"] = evt.From
	}
	if evt.To != "" {
		trigger["to"] = evt.To
	}
	return &models.ExecutionContext{
		IssueKey:    evt.IssueKey,
		ProjectKey:  evt.ProjectKey,
		UserID:      evt.UserID,
		WebhookData: evt.Payload,
		TriggerData: trigger,
	}
}
