package models

import (
	"time"

	"trackwise/internal/tracker"
)

// TriggerType enumerates the upstream events a rule can react to.
type TriggerType string

const (
	TriggerIssueCreated      TriggerType = "issue_created"
	TriggerIssueUpdated      TriggerType = "issue_updated"
	TriggerIssueTransitioned TriggerType = "issue_transitioned"
	TriggerFieldChanged      TriggerType = "field_changed"
	TriggerScheduled         TriggerType = "scheduled"
	TriggerWebhook           TriggerType = "webhook"
)

// ConditionType enumerates the predicate kinds gating rule actions.
type ConditionType string

const (
	ConditionFieldMatch   ConditionType = "field_match"
	ConditionProjectMatch ConditionType = "project_match"
)

// ConditionOperator combines a condition with its siblings.
type ConditionOperator string

const (
	OperatorAnd ConditionOperator = "AND"
	OperatorOr  ConditionOperator = "OR"
)

// ActionType enumerates the side-effecting operations a rule can perform.
type ActionType string

const (
	ActionUpdateIssue       ActionType = "update_issue"
	ActionTransitionIssue   ActionType = "transition_issue"
	ActionCreateIssue       ActionType = "create_issue"
	ActionAddComment        ActionType = "add_comment"
	ActionAssignIssue       ActionType = "assign_issue"
	ActionNotify            ActionType = "notify"
	ActionWebhookCall       ActionType = "webhook_call"
	ActionBulkOperation     ActionType = "bulk_operation"
	ActionCreateSubtask     ActionType = "create_subtask"
	ActionLinkIssues        ActionType = "link_issues"
	ActionUpdateCustomField ActionType = "update_custom_field"
)

// Trigger is a declarative filter describing which upstream event a rule
// reacts to. Config shape depends on the type (project/issue-type filters,
// from/to status, cron schedule, webhook url+secret, field from/to value).
type Trigger struct {
	Type   TriggerType            `json:"type"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// Condition is a predicate evaluated against the firing context. Operator
// combines it with its siblings.
type Condition struct {
	Type     ConditionType          `json:"type"`
	Config   map[string]interface{} `json:"config,omitempty"`
	Operator ConditionOperator      `json:"operator,omitempty"`
}

// Action is one side-effecting operation against the issue tracker.
type Action struct {
	Type            ActionType             `json:"type"`
	Config          map[string]interface{} `json:"config,omitempty"`
	Order           int                    `json:"order"`
	ContinueOnError bool                   `json:"continueOnError"`
}

// AutomationRule is a stored automation rule definition.
type AutomationRule struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	Enabled        bool        `json:"enabled"`
	ProjectKeys    []string    `json:"projectKeys,omitempty"`
	Triggers       []Trigger   `json:"triggers"`
	Conditions     []Condition `json:"conditions,omitempty"`
	Actions        []Action    `json:"actions"`
	CreatedBy      string      `json:"createdBy,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	ExecutionCount int         `json:"executionCount"`
	FailureCount   int         `json:"failureCount"`
	LastExecuted   *time.Time  `json:"lastExecuted,omitempty"`
}

// RuleUpdate carries the mergeable fields of a rule update. Nil fields are
// left untouched.
type RuleUpdate struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	Enabled     *bool        `json:"enabled,omitempty"`
	ProjectKeys []string     `json:"projectKeys,omitempty"`
	Triggers    []Trigger    `json:"triggers,omitempty"`
	Conditions  *[]Condition `json:"conditions,omitempty"`
	Actions     []Action     `json:"actions,omitempty"`
}

// ExecutionContext is the ephemeral context a rule fires against. The
// Issue/Project/User snapshots are optional, injected by the caller;
// smart-value paths beyond the bare keys require them.
type ExecutionContext struct {
	IssueKey    string                 `json:"issueKey,omitempty"`
	ProjectKey  string                 `json:"projectKey,omitempty"`
	UserID      string                 `json:"userId,omitempty"`
	WebhookData map[string]interface{} `json:"webhookData,omitempty"`
	TriggerData map[string]interface{} `json:"triggerData,omitempty"`

	Issue   *tracker.Issue   `json:"issue,omitempty"`
	Project *tracker.Project `json:"project,omitempty"`
	User    *tracker.User    `json:"user,omitempty"`
}

// ActionStatus is the outcome of one action.
type ActionStatus string

const (
	ActionSuccess ActionStatus = "success"
	ActionFailed  ActionStatus = "failed"
)

// ActionResult records the outcome of a single executed action.
type ActionResult struct {
	ActionType ActionType   `json:"actionType"`
	Status     ActionStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
	Data       interface{}  `json:"data,omitempty"`
	DurationMS int64        `json:"duration"`
}

// ExecutionStatus is the lifecycle state of a rule execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// Execution is one concrete firing record of a rule. RuleID is a plain
// value; deleting the rule leaves the record intact. Immutable once the
// status is terminal.
type Execution struct {
	ID          string            `json:"id"`
	RuleID      string            `json:"ruleId"`
	Status      ExecutionStatus   `json:"status"`
	TriggeredAt time.Time         `json:"triggeredAt"`
	TriggeredBy string            `json:"triggeredBy,omitempty"`
	DurationMS  int64             `json:"duration"`
	Context     *ExecutionContext `json:"context,omitempty"`
	Results     []ActionResult    `json:"results"`
	Error       string            `json:"error,omitempty"`
}

// BulkItemError records one failed item of a bulk operation.
type BulkItemError struct {
	ItemKey   string    `json:"itemKey"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// BulkOperationProgress tracks a bulk operation across its batches.
type BulkOperationProgress struct {
	ID              string          `json:"id"`
	RuleID          string          `json:"ruleId,omitempty"`
	TotalItems      int             `json:"totalItems"`
	ProcessedItems  int             `json:"processedItems"`
	SuccessfulItems int             `json:"successfulItems"`
	FailedItems     int             `json:"failedItems"`
	Status          string          `json:"status"`
	StartedAt       time.Time       `json:"startedAt"`
	Errors          []BulkItemError `json:"errors,omitempty"`
}

// RuleFilter narrows GetRules.
type RuleFilter struct {
	Enabled    *bool
	ProjectKey string
	Trigger    TriggerType
}

// ExecutionFilter narrows GetExecutions.
type ExecutionFilter struct {
	RuleID string
	Status ExecutionStatus
	Limit  int
}

// RuleMetrics aggregates execution outcomes for one rule or for all rules,
// computed from history rather than the rule counters.
type RuleMetrics struct {
	ExecutionCount    int            `json:"executionCount"`
	SuccessRate       float64        `json:"successRate"`
	AverageDurationMS float64        `json:"averageDuration"`
	LastExecution     *time.Time     `json:"lastExecution,omitempty"`
	FailureReasons    map[string]int `json:"failureReasons,omitempty"`
}

// Event is an upstream tracker event handed to the engine for rule
// dispatch.
type Event struct {
	Type       TriggerType            `json:"type"`
	IssueKey   string                 `json:"issueKey,omitempty"`
	ProjectKey string                 `json:"projectKey,omitempty"`
	UserID     string                 `json:"userId,omitempty"`
	Field      string                 `json:"field,omitempty"`
	From       string                 `json:"from,omitempty"`
	To         string                 `json:"to,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}
