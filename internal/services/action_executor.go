package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"trackwise/internal/models"
	"trackwise/internal/smartvalue"
	"trackwise/internal/tracker"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultBulkBatchSize = 50
	defaultBulkMaxIssues = 100
	bulkHardLimit        = 1000
)

// ExecutorConfig tunes the action executor.
type ExecutorConfig struct {
	BulkBatchSize  int
	BulkMaxIssues  int
	WebhookTimeout time.Duration
}

// ActionExecutor executes single automation actions against the tracker
// and returns normalized results. It never lets an error escape as an
// error value to the engine; every outcome is an ActionResult.
type ActionExecutor struct {
	client     tracker.API
	httpClient *http.Client
	evaluator  *smartvalue.Evaluator
	logger     *logrus.Logger

	bulkBatchSize int
	bulkMaxIssues int
}

// NewActionExecutor creates an executor over the given tracker client.
func NewActionExecutor(client tracker.API, evaluator *smartvalue.Evaluator, logger *logrus.Logger, cfg *ExecutorConfig) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = &ExecutorConfig{}
	}
	batch := cfg.BulkBatchSize
	if batch <= 0 {
		batch = defaultBulkBatchSize
	}
	maxIssues := cfg.BulkMaxIssues
	if maxIssues <= 0 {
		maxIssues = defaultBulkMaxIssues
	}
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ActionExecutor{
		client:        client,
		httpClient:    &http.Client{Timeout: timeout},
		evaluator:     evaluator,
		logger:        logger,
		bulkBatchSize: batch,
		bulkMaxIssues: maxIssues,
	}
}

// Execute runs one action and measures its duration. Smart values in the
// action config are resolved against the context before dispatch. All
// failures, including panics from config type surprises, are folded into a
// failed ActionResult.
func (e *ActionExecutor) Execute(ctx context.Context, action models.Action, ectx *models.ExecutionContext) (result models.ActionResult) {
	start := time.Now()
	result = models.ActionResult{ActionType: action.Type, Status: models.ActionSuccess}

	defer func() {
		if r := recover(); r != nil {
			result.Status = models.ActionFailed
			result.Message = fmt.Sprintf("action panicked: %v", r)
		}
		result.DurationMS = time.Since(start).Milliseconds()
	}()

	handler, ok := actionHandlers[action.Type]
	if !ok {
		result.Status = models.ActionFailed
		result.Message = fmt.Sprintf("unsupported action type: %s", action.Type)
		return result
	}

	cfg := action.Config
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	if err := handler.validate(cfg); err != nil {
		result.Status = models.ActionFailed
		result.Message = err.Error()
		return result
	}

	if e.evaluator != nil {
		cfg = e.evaluator.ProcessObject(cfg, ectx).(map[string]interface{})
	}

	data, message, err := handler.run(ctx, e, cfg, ectx)
	result.Data = data
	result.Message = message
	if err != nil {
		result.Status = models.ActionFailed
		result.Message = err.Error()
		e.logger.Warnf("action %s failed: %v", action.Type, err)
	}
	return result
}

// actionHandler is the per-kind capability object: validate required
// config before any network call, then execute.
type actionHandler interface {
	validate(cfg map[string]interface{}) error
	run(ctx context.Context, e *ActionExecutor, cfg map[string]interface{}, ectx *models.ExecutionContext) (data interface{}, message string, err error)
}

// actionHandlers is the closed registry of supported action kinds. The
// rule validator checks config shapes against the same handlers.
var actionHandlers = map[models.ActionType]actionHandler{
	models.ActionUpdateIssue:       updateIssueAction{},
	models.ActionTransitionIssue:   transitionIssueAction{},
	models.ActionCreateIssue:       createIssueAction{},
	models.ActionAddComment:        addCommentAction{},
	models.ActionAssignIssue:       assignIssueAction{},
	models.ActionNotify:            notifyAction{},
	models.ActionWebhookCall:       webhookCallAction{},
	models.ActionBulkOperation:     bulkOperationAction{},
	models.ActionCreateSubtask:     createSubtaskAction{},
	models.ActionLinkIssues:        linkIssuesAction{},
	models.ActionUpdateCustomField: updateCustomFieldAction{},
}

func cfgString(cfg map[string]interface{}, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func cfgMap(cfg map[string]interface{}, key string) map[string]interface{} {
	if v, ok := cfg[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

func cfgInt(cfg map[string]interface{}, key string) int {
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func requireKeys(cfg map[string]interface{}, keys ...string) error {
	for _, key := range keys {
		if _, ok := cfg[key]; !ok {
			return fmt.Errorf("config field %q is required", key)
		}
	}
	return nil
}

func issueKeyFrom(cfg map[string]interface{}, ectx *models.ExecutionContext) (string, error) {
	if key := cfgString(cfg, "issueKey"); key != "" {
		return key, nil
	}
	if ectx != nil && ectx.IssueKey != "" {
		return ectx.IssueKey, nil
	}
	return "", fmt.Errorf("no issue key in action config or execution context")
}

type updateIssueAction struct{}

func (updateIssueAction) validate(cfg map[string]interface{}) error {
	if cfgMap(cfg, "fields") == nil {
		return fmt.Errorf("update_issue requires a fields object")
	}
	return nil
}

func (updateIssueAction) run(ctx context.Context, e *ActionExecutor, cfg map[string]interface{}, ectx *models.ExecutionContext) (interface{}, string, error) {
	key, err := issueKeyFrom(cfg, ectx)
	if err != nil {
		return nil, "", err
	}
	fields := cfgMap(cfg, "fields")
	if _, err := e.client.Put(ctx, "/rest/api/2/issue/"+url.PathEscape(key), map[string]interface{}{"fields": fields}); err != nil {
		return nil, "", fmt.Errorf("update issue %s: %w", key, err)
	}
	return map[string]interface{}{"issueKey": key, "fields": fields}, fmt.Sprintf("issue %s updated", key), nil
}

type transitionIssueAction struct{}

func (transitionIssueAction) validate(cfg map[string]interface{}) error {
	if cfgString(cfg, "transitionId") == "" && cfgString(cfg, "transitionName") == "" {
		return fmt.Errorf("transition_issue requires transitionId or transitionName")
	}
	return nil
}

func (transitionIssueAction) run(ctx context.Context, e *ActionExecutor, cfg map[string]interface{}, ectx *models.ExecutionContext) (interface{}, string, error) {
	key, err := issueKeyFrom(cfg, ectx)
	if err != nil {
		return nil, "", err
	}

	transitionID := cfgString(cfg, "transitionId")
	if transitionID == "" {
		name := cfgString(cfg, "transitionName")
		transitions, err := tracker.GetTransitions(ctx, e.client, key)
		if err != nil {
			return nil, "", fmt.Errorf("list transitions for %s: %w", key, err)
		}
		for _, t := range transitions {
			if t.Name == name {
				transitionID = t.ID
				break
			}
		}
		if transitionID == "" {
			return nil, "", fmt.Errorf("transition %q not found for issue %s", name, key)
		}
	}

	body := map[string]interface{}{"transition": map[string]interface{}{"id": transitionID}}
	if _, err := e.client.Post(ctx, "/rest/api/2/issue/"+url.PathEscape(key)+"/transitions", body); err != nil {
		return nil, "", fmt.Errorf("transition issue %s: %w", key, err)
	}
	return map[string]interface{}{"issueKey": key, "transitionId": transitionID},
		fmt.Sprintf("issue %s transitioned", key), nil
}

type createIssueAction struct{}

func (createIssueAction) validate(cfg map[string]interface{}) error {
	return requireKeys(cfg, "projectKey", "summary")
}

func (createIssueAction) run(ctx context.Context, e *ActionExecutor, cfg map[string]interface{}, ectx *models.ExecutionContext) (interface{}, string, error) {
	issueType := cfgString(cfg, "issueType")
	if issueType == "" {
		issueType = "Task"
	}
	fields := map[string]interface{}{
		"project":   map[string]interface{}{"key": cfgString(cfg, "projectKey")},
		"summary":   cfgString(cfg, "summary"),
		"issuetype": map[string]interface{}{"name": issueType},
	}
	if desc := cfgString(cfg, "description"); desc != "" {
		fields["description"] = desc
	}
	raw, err := e.client.Post(ctx, "/rest/api/2/issue", map[string]interface{}{"fields": fields})
	if err != nil {
		return nil, "", fmt.Errorf("create issue: %w", err)
	}
	var created tracker.CreatedIssue
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, "", fmt.Errorf("decode created issue: %w", err)
	}
	return created, fmt.Sprintf("issue %s created", created.Key), nil
}

type addCommentAction struct{}

func (addCommentAction) validate(cfg map[string]interface{}) error {
	return requireKeys(cfg, "comment")
}

func (addCommentAction) run(ctx context.Context, e *ActionExecutor, cfg map[string]interface{}, ectx *models.ExecutionContext) (interface{}, string, error) {
	key, err := issueKeyFrom(cfg, ectx)
	if err != nil {
		return nil, "", err
	}
	body := cfgString(cfg, "comment")
	if _, err := e.client.Post(ctx, "/rest/api/2/issue/"+url.PathEscape(key)+"/comment", map[string]interface{}{"body": body}); err != nil {
		return nil, "", fmt.Errorf("add comment to %s: %w", key, err)
	}
	return map[string]interface{}{"issueKey": key, "comment": body},
		fmt.Sprintf("comment added to %s: %s", key, body), nil
}

type assignIssueAction struct{}

func (assignIssueAction) validate(cfg map[string]interface{}) error {
	return requireKeys(cfg, "accountId")
}

func (assignIssueAction) run(ctx context.Context, e *ActionExecutor, cfg map[string]interface{}, ectx *models.ExecutionContext) (interface{}, string, error) {
	key, err := issueKeyFrom(cfg, ectx)
	if err != nil {
		return nil, "", err
	}
	accountID := cfgString(cfg, "accountId")
	if _, err := e.client.Put(ctx, "/rest/api/2/issue/"+url.PathEscape(key)+"/assignee", map[string]interface{}{"accountId": accountID}); err != nil {
		return nil, "", fmt.Errorf("assign issue %s: %w", key, err)
	}
	return map[string]interface{}{"issueKey": key, "accountId": accountID},
		fmt.Sprintf("issue %s assigned to %s", key, accountID), nil
}

type notifyAction struct{}

func (notifyAction) validate(cfg map[string]interface{}) error {
	return requireKeys(cfg, "message")
}

func (notifyAction) run(_ context.Context, e *ActionExecutor, cfg map[string]interface{}, ectx *models.ExecutionContext) (interface{}, string, error) {
	message := cfgString(cfg, "message")
	e.logger.Infof("automation notify: %s", message)
	return map[string]interface{}{"message": message}, message, nil
}

type webhookCallAction struct{}

func (webhookCallAction) validate(cfg map[string]interface{}) error {
	return requireKeys(cfg, "url")
}

func (webhookCallAction) run(ctx context.Context, e *ActionExecutor, cfg map[string]interface{}, ectx *models.ExecutionContext) (interface{}, string, error) {
	endpoint := cfgString(cfg, "url")
	method := cfgString(cfg, "method")
	if method == "" {
		method = http.MethodPost
	}

	payload := cfg["payload"]
	if payload == nil {
		var issueKey, projectKey, userID string
		if ectx != nil {
			issueKey, projectKey, userID = ectx.IssueKey, ectx.ProjectKey, ectx.UserID
		}
		payload = map[string]interface{}{
			"issueKey":   issueKey,
			"projectKey": projectKey,
			"userId":     userID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		}
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers := cfgMap(cfg, "headers"); headers != nil {
		for name, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(name, s)
			}
		}
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("webhook call: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	data := map[string]interface{}{"statusCode": resp.StatusCode, "response": string(respBody)}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return data, fmt.Sprintf("webhook %s returned %d", endpoint, resp.StatusCode), nil
}

type bulkOperationAction struct{}

func (bulkOperationAction) validate(cfg map[string]interface{}) error {
	if err := requireKeys(cfg, "jql"); err != nil {
		return err
	}
	if cfgMap(cfg, "fields") == nil {
		return fmt.Errorf("bulk_operation requires a fields object")
	}
	return nil
}

// run fans the configured field update across every matched issue. A
// per-item failure is recorded and counted, never aborts the remaining
// items; the action as a whole fails iff any item failed.
func (bulkOperationAction) run(ctx context.Context, e *ActionExecutor, cfg map[string]interface{}, ectx *models.ExecutionContext) (interface{}, string, error) {
	maxIssues := cfgInt(cfg, "maxIssues")
	if maxIssues <= 0 {
		maxIssues = e.bulkMaxIssues
	}
	if maxIssues > bulkHardLimit {
		maxIssues = bulkHardLimit
	}
	batchSize := cfgInt(cfg, "batchSize")
	if batchSize <= 0 {
		batchSize = e.bulkBatchSize
	}

	result, err := tracker.SearchIssues(ctx, e.client, cfgString(cfg, "jql"), maxIssues)
	if err != nil {
		return nil, "", fmt.Errorf("bulk search: %w", err)
	}
	issues := result.Issues
	if len(issues) > maxIssues {
		issues = issues[:maxIssues]
	}

	progress := &models.BulkOperationProgress{
		ID:         uuid.New().String(),
		TotalItems: len(issues),
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}
	fields := cfgMap(cfg, "fields")

	for start := 0; start < len(issues); start += batchSize {
		end := start + batchSize
		if end > len(issues) {
			end = len(issues)
		}
		for _, issue := range issues[start:end] {
			progress.ProcessedItems++
			_, err := e.client.Put(ctx, "/rest/api/2/issue/"+url.PathEscape(issue.Key), map[string]interface{}{"fields": fields})
			if err != nil {
				progress.FailedItems++
				progress.Errors = append(progress.Errors, models.BulkItemError{
					ItemKey:   issue.Key,
					Error:     err.Error(),
					Timestamp: time.Now().UTC(),
				})
				e.logger.Warnf("bulk operation: update %s failed: %v", issue.Key, err)
				continue
			}
			progress.SuccessfulItems++
		}
	}

	progress.Status = "completed"
	message := fmt.Sprintf("bulk operation processed %d issues (%d succeeded, %d failed)",
		progress.ProcessedItems, progress.SuccessfulItems, progress.FailedItems)
	if progress.FailedItems > 0 {
		progress.Status = "completed_with_errors"
		return progress, message, fmt.Errorf("%s", message)
	}
	return progress, message, nil
}

type createSubtaskAction struct{}

func (createSubtaskAction) validate(cfg map[string]interface{}) error {
	return requireKeys(cfg, "summary")
}

func (createSubtaskAction) run(ctx context.Context, e *ActionExecutor, cfg map[string]interface{}, ectx *models.ExecutionContext) (interface{}, string, error) {
	parent := cfgString(cfg, "parentIssueKey")
	if parent == "" {
		var err error
		parent, err = issueKeyFrom(cfg, ectx)
		if err != nil {
			return nil, "", fmt.Errorf("create_subtask: %w", err)
		}
	}
	projectKey := cfgString(cfg, "projectKey")
	if projectKey == "" && ectx != nil {
		projectKey = ectx.ProjectKey
	}
	if projectKey == "" {
		return nil, "", fmt.Errorf("create_subtask: no project key in config or context")
	}

	fields := map[string]interface{}{
		"project":   map[string]interface{}{"key": projectKey},
		"parent":    map[string]interface{}{"key": parent},
		"summary":   cfgString(cfg, "summary"),
		"issuetype": map[string]interface{}{"name": "Sub-task"},
	}
	if desc := cfgString(cfg, "description"); desc != "" {
		fields["description"] = desc
	}
	raw, err := e.client.Post(ctx, "/rest/api/2/issue", map[string]interface{}{"fields": fields})
	if err != nil {
		return nil, "", fmt.Errorf("create subtask under %s: %w", parent, err)
	}
	var created tracker.CreatedIssue
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, "", fmt.Errorf("decode created subtask: %w", err)
	}
	return created, fmt.Sprintf("subtask %s created under %s", created.Key, parent), nil
}

type linkIssuesAction struct{}

func (linkIssuesAction) validate(cfg map[string]interface{}) error {
	return requireKeys(cfg, "outwardIssue")
}

func (linkIssuesAction) run(ctx context.Context, e *ActionExecutor, cfg map[string]interface{}, ectx *models.ExecutionContext) (interface{}, string, error) {
	inward := cfgString(cfg, "inwardIssue")
	if inward == "" {
		var err error
		inward, err = issueKeyFrom(cfg, ectx)
		if err != nil {
			return nil, "", fmt.Errorf("link_issues: %w", err)
		}
	}
	outward := cfgString(cfg, "outwardIssue")
	linkType := cfgString(cfg, "linkType")
	if linkType == "" {
		linkType = "Relates"
	}

	body := map[string]interface{}{
		"type":         map[string]interface{}{"name": linkType},
		"inwardIssue":  map[string]interface{}{"key": inward},
		"outwardIssue": map[string]interface{}{"key": outward},
	}
	if _, err := e.client.Post(ctx, "/rest/api/2/issueLink", body); err != nil {
		return nil, "", fmt.Errorf("link %s to %s: %w", inward, outward, err)
	}
	return map[string]interface{}{"inwardIssue": inward, "outwardIssue": outward, "linkType": linkType},
		fmt.Sprintf("linked %s to %s (%s)", inward, outward, linkType), nil
}

type updateCustomFieldAction struct{}

func (updateCustomFieldAction) validate(cfg map[string]interface{}) error {
	if err := requireKeys(cfg, "fieldId"); err != nil {
		return err
	}
	return requireKeys(cfg, "value")
}

func (updateCustomFieldAction) run(ctx context.Context, e *ActionExecutor, cfg map[string]interface{}, ectx *models.ExecutionContext) (interface{}, string, error) {
	key, err := issueKeyFrom(cfg, ectx)
	if err != nil {
		return nil, "", err
	}
	fieldID := cfgString(cfg, "fieldId")
	body := map[string]interface{}{"fields": map[string]interface{}{fieldID: cfg["value"]}}
	if _, err := e.client.Put(ctx, "/rest/api/2/issue/"+url.PathEscape(key), body); err != nil {
		return nil, "", fmt.Errorf("update custom field %s on %s: %w", fieldID, key, err)
	}
	return map[string]interface{}{"issueKey": key, "fieldId": fieldID, "value": cfg["value"]},
		fmt.Sprintf("field %s updated on %s", fieldID, key), nil
}

// ValidateActionConfig checks an action's config against its kind's
// required shape without executing anything. Used by the rule validator.
func ValidateActionConfig(action models.Action) error {
	handler, ok := actionHandlers[action.Type]
	if !ok {
		return fmt.Errorf("unsupported action type: %s", action.Type)
	}
	cfg := action.Config
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	return handler.validate(cfg)
}
