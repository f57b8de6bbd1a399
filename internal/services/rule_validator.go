package services

import (
	"fmt"
	"sort"

	"trackwise/internal/models"
	"trackwise/internal/smartvalue"

	"github.com/sirupsen/logrus"
)

const maxRuleNameLength = 255

// ValidationResult is the outcome of validating a rule definition. Valid
// means "well-formed", not "guaranteed to succeed": a transition name may
// still be absent from a workflow, discoverable only at execution time.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// RuleValidator performs structural and semantic validation of rule
// definitions. It never touches the network.
type RuleValidator struct {
	logger *logrus.Logger
}

// NewRuleValidator creates a validator.
func NewRuleValidator(logger *logrus.Logger) *RuleValidator {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleValidator{logger: logger}
}

// Validate checks a rule definition. Duplicate or gapped action orders are
// warnings; everything else listed is an error.
func (v *RuleValidator) Validate(rule *models.AutomationRule) *ValidationResult {
	result := &ValidationResult{}

	if rule == nil {
		result.Errors = append(result.Errors, "rule is required")
		return result
	}

	if rule.Name == "" {
		result.Errors = append(result.Errors, "rule name is required")
	} else if len(rule.Name) > maxRuleNameLength {
		result.Errors = append(result.Errors, fmt.Sprintf("rule name exceeds %d characters", maxRuleNameLength))
	}

	if len(rule.Triggers) == 0 {
		result.Errors = append(result.Errors, "rule needs at least one trigger")
	}
	for i, trig := range rule.Triggers {
		v.validateTrigger(i, trig, result)
	}

	for i, cond := range rule.Conditions {
		v.validateCondition(i, cond, result)
	}

	if len(rule.Actions) == 0 {
		result.Errors = append(result.Errors, "rule needs at least one action")
	}
	for i, action := range rule.Actions {
		if err := ValidateActionConfig(action); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("action %d: %v", i, err))
		}
		v.validateExpressions(fmt.Sprintf("action %d", i), action.Config, result)
	}
	v.checkActionOrders(rule.Actions, result)

	result.Valid = len(result.Errors) == 0
	return result
}

func (v *RuleValidator) validateTrigger(i int, trig models.Trigger, result *ValidationResult) {
	required := map[models.TriggerType][]string{
		models.TriggerIssueCreated:      nil,
		models.TriggerIssueUpdated:      nil,
		models.TriggerIssueTransitioned: nil,
		models.TriggerFieldChanged:      {"field"},
		models.TriggerScheduled:         {"cron"},
		models.TriggerWebhook:           {"url"},
	}
	keys, known := required[trig.Type]
	if !known {
		result.Errors = append(result.Errors, fmt.Sprintf("trigger %d: unsupported type %q", i, trig.Type))
		return
	}
	for _, key := range keys {
		if _, ok := trig.Config[key]; !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("trigger %d (%s): config field %q is required", i, trig.Type, key))
		}
	}
	v.validateExpressions(fmt.Sprintf("trigger %d", i), trig.Config, result)
}

func (v *RuleValidator) validateCondition(i int, cond models.Condition, result *ValidationResult) {
	switch cond.Type {
	case models.ConditionFieldMatch:
		for _, key := range []string{"field", "operator", "value"} {
			if _, ok := cond.Config[key]; !ok {
				result.Errors = append(result.Errors, fmt.Sprintf("condition %d (field_match): config field %q is required", i, key))
			}
		}
	case models.ConditionProjectMatch:
		if _, ok := cond.Config["projects"]; !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("condition %d (project_match): config field \"projects\" is required", i))
		}
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("condition %d: unsupported type %q", i, cond.Type))
	}

	switch cond.Operator {
	case "", models.OperatorAnd, models.OperatorOr:
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("condition %d: operator must be AND or OR, got %q", i, cond.Operator))
	}

	v.validateExpressions(fmt.Sprintf("condition %d", i), cond.Config, result)
}

// validateExpressions walks string-valued config fields (nested maps and
// sequences included) and syntax-checks every smart-value placeholder.
func (v *RuleValidator) validateExpressions(where string, value interface{}, result *ValidationResult) {
	switch val := value.(type) {
	case string:
		for _, expr := range smartvalue.Placeholders(val) {
			if err := smartvalue.ValidateExpression(expr); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", where, err))
			}
		}
	case map[string]interface{}:
		for _, item := range val {
			v.validateExpressions(where, item, result)
		}
	case []interface{}:
		for _, item := range val {
			v.validateExpressions(where, item, result)
		}
	}
}

func (v *RuleValidator) checkActionOrders(actions []models.Action, result *ValidationResult) {
	if len(actions) < 2 {
		return
	}
	orders := make([]int, len(actions))
	for i, action := range actions {
		orders[i] = action.Order
	}
	sort.Ints(orders)
	for i := 1; i < len(orders); i++ {
		if orders[i] == orders[i-1] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("duplicate action order %d", orders[i]))
		} else if orders[i] > orders[i-1]+1 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("gap in action orders between %d and %d", orders[i-1], orders[i]))
		}
	}
}
