package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"trackwise/internal/models"
	"trackwise/internal/smartvalue"

	"github.com/sirupsen/logrus"
)

// fakeTracker is an in-memory tracker.API double. respond decides the
// outcome per call; calls records "METHOD path" in order.
type fakeTracker struct {
	mu      sync.Mutex
	calls   []string
	bodies  []interface{}
	respond func(method, path string, body interface{}) (json.RawMessage, error)
}

func (f *fakeTracker) record(method, path string, body interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method+" "+path)
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(method, path, body)
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeTracker) Get(_ context.Context, path string) (json.RawMessage, error) {
	return f.record(http.MethodGet, path, nil)
}
func (f *fakeTracker) Post(_ context.Context, path string, body interface{}) (json.RawMessage, error) {
	return f.record(http.MethodPost, path, body)
}
func (f *fakeTracker) Put(_ context.Context, path string, body interface{}) (json.RawMessage, error) {
	return f.record(http.MethodPut, path, body)
}
func (f *fakeTracker) Delete(_ context.Context, path string) (json.RawMessage, error) {
	return f.record(http.MethodDelete, path, nil)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestExecutor(ft *fakeTracker) *ActionExecutor {
	logger := quietLogger()
	return NewActionExecutor(ft, smartvalue.New(logger), logger, nil)
}

func TestExecute_AddCommentWithSmartValue(t *testing.T) {
	ft := &fakeTracker{}
	ex := newTestExecutor(ft)

	result := ex.Execute(context.Background(), models.Action{
		Type:   models.ActionAddComment,
		Config: map[string]interface{}{"comment": "{{issue.key}} created"},
	}, &models.ExecutionContext{IssueKey: "PROJ-1"})

	if result.Status != models.ActionSuccess {
		t.Fatalf("expected success, got %s: %s", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "PROJ-1") {
		t.Errorf("message should contain issue key, got %q", result.Message)
	}
	if len(ft.calls) != 1 || ft.calls[0] != "POST /rest/api/2/issue/PROJ-1/comment" {
		t.Errorf("unexpected calls: %v", ft.calls)
	}
	body := ft.bodies[0].(map[string]interface{})
	if body["body"] != "PROJ-1 created" {
		t.Errorf("comment body: %v", body)
	}
	if result.DurationMS < 0 {
		t.Errorf("duration should be measured")
	}
}

func TestExecute_ValidationFailsBeforeNetwork(t *testing.T) {
	ft := &fakeTracker{}
	ex := newTestExecutor(ft)

	result := ex.Execute(context.Background(), models.Action{
		Type:   models.ActionAddComment,
		Config: map[string]interface{}{},
	}, &models.ExecutionContext{IssueKey: "PROJ-1"})

	if result.Status != models.ActionFailed {
		t.Fatal("expected failure for missing comment")
	}
	if !strings.Contains(result.Message, "comment") {
		t.Errorf("message should name the missing field, got %q", result.Message)
	}
	if len(ft.calls) != 0 {
		t.Errorf("no network call expected, got %v", ft.calls)
	}
}

func TestExecute_UnsupportedActionType(t *testing.T) {
	ex := newTestExecutor(&fakeTracker{})
	result := ex.Execute(context.Background(), models.Action{Type: "summon_dragon"}, nil)
	if result.Status != models.ActionFailed || !strings.Contains(result.Message, "unsupported action type") {
		t.Fatalf("got %+v", result)
	}
}

func TestExecute_TransitionByName(t *testing.T) {
	ft := &fakeTracker{
		respond: func(method, path string, _ interface{}) (json.RawMessage, error) {
			if method == http.MethodGet && strings.HasSuffix(path, "/transitions") {
				return json.RawMessage(`{"transitions":[{"id":"31","name":"Done"},{"id":"21","name":"In Progress"}]}`), nil
			}
			return json.RawMessage(`{}`), nil
		},
	}
	ex := newTestExecutor(ft)
	ctx := &models.ExecutionContext{IssueKey: "PROJ-7"}

	result := ex.Execute(context.Background(), models.Action{
		Type:   models.ActionTransitionIssue,
		Config: map[string]interface{}{"transitionName": "Done"},
	}, ctx)
	if result.Status != models.ActionSuccess {
		t.Fatalf("expected success, got %s: %s", result.Status, result.Message)
	}
	if ft.calls[1] != "POST /rest/api/2/issue/PROJ-7/transitions" {
		t.Errorf("calls: %v", ft.calls)
	}
	post := ft.bodies[1].(map[string]interface{})
	transition := post["transition"].(map[string]interface{})
	if transition["id"] != "31" {
		t.Errorf("resolved wrong transition id: %v", transition)
	}

	// Exact-match scan: an absent name is a terminal failure for the action.
	result = ex.Execute(context.Background(), models.Action{
		Type:   models.ActionTransitionIssue,
		Config: map[string]interface{}{"transitionName": "Closed"},
	}, ctx)
	if result.Status != models.ActionFailed {
		t.Fatal("expected failure for unknown transition name")
	}
	if !strings.Contains(result.Message, "not found") {
		t.Errorf("message should contain %q, got %q", "not found", result.Message)
	}
}

func TestExecute_WebhookCall(t *testing.T) {
	var received struct {
		method string
		header string
		body   map[string]interface{}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.method = r.Method
		received.header = r.Header.Get("X-Token")
		_ = json.NewDecoder(r.Body).Decode(&received.body)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	ex := newTestExecutor(&fakeTracker{})
	result := ex.Execute(context.Background(), models.Action{
		Type: models.ActionWebhookCall,
		Config: map[string]interface{}{
			"url":     srv.URL,
			"headers": map[string]interface{}{"X-Token": "secret"},
		},
	}, &models.ExecutionContext{IssueKey: "PROJ-1", ProjectKey: "PROJ", UserID: "acc-1"})

	if result.Status != models.ActionSuccess {
		t.Fatalf("expected success: %s", result.Message)
	}
	if received.method != http.MethodPost || received.header != "secret" {
		t.Errorf("request not as configured: %+v", received)
	}
	// Default payload carries the context identity fields and a timestamp.
	if received.body["issueKey"] != "PROJ-1" || received.body["projectKey"] != "PROJ" || received.body["userId"] != "acc-1" {
		t.Errorf("default payload: %v", received.body)
	}
	if received.body["timestamp"] == nil {
		t.Error("default payload should carry a timestamp")
	}
	data := result.Data.(map[string]interface{})
	if data["statusCode"] != http.StatusOK || data["response"] != `{"ok":true}` {
		t.Errorf("response not captured: %v", data)
	}
}

func TestExecute_WebhookCall_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	ex := newTestExecutor(&fakeTracker{})
	result := ex.Execute(context.Background(), models.Action{
		Type:   models.ActionWebhookCall,
		Config: map[string]interface{}{"url": srv.URL},
	}, nil)

	if result.Status != models.ActionFailed {
		t.Fatal("non-2xx response must fail the action")
	}
	if !strings.Contains(result.Message, "502") {
		t.Errorf("message should carry the status, got %q", result.Message)
	}
}

func bulkSearchResponse(keys ...string) json.RawMessage {
	issues := make([]map[string]interface{}, len(keys))
	for i, key := range keys {
		issues[i] = map[string]interface{}{"id": fmt.Sprint(i + 1), "key": key, "fields": map[string]interface{}{}}
	}
	raw, _ := json.Marshal(map[string]interface{}{"total": len(keys), "issues": issues})
	return raw
}

func TestExecute_BulkOperation_PartialFailure(t *testing.T) {
	ft := &fakeTracker{
		respond: func(method, path string, _ interface{}) (json.RawMessage, error) {
			if method == http.MethodPost && strings.HasSuffix(path, "/search") {
				return bulkSearchResponse("PROJ-1", "PROJ-2", "PROJ-3"), nil
			}
			if method == http.MethodPut && strings.HasSuffix(path, "PROJ-2") {
				return nil, fmt.Errorf("field cannot be set")
			}
			return json.RawMessage(`{}`), nil
		},
	}
	ex := newTestExecutor(ft)

	result := ex.Execute(context.Background(), models.Action{
		Type: models.ActionBulkOperation,
		Config: map[string]interface{}{
			"jql":    "project = PROJ",
			"fields": map[string]interface{}{"priority": map[string]interface{}{"name": "High"}},
		},
	}, nil)

	// Per-item failures make the whole action fail, but the progress data
	// is reported either way.
	if result.Status != models.ActionFailed {
		t.Fatalf("expected failed status, got %s", result.Status)
	}
	progress := result.Data.(*models.BulkOperationProgress)
	if progress.SuccessfulItems != 2 || progress.FailedItems != 1 {
		t.Fatalf("counts: %+v", progress)
	}
	if progress.SuccessfulItems+progress.FailedItems != progress.TotalItems {
		t.Fatalf("success+failure must equal total: %+v", progress)
	}
	if len(progress.Errors) != 1 || progress.Errors[0].ItemKey != "PROJ-2" {
		t.Fatalf("error entry should be keyed to PROJ-2: %+v", progress.Errors)
	}
	if progress.Errors[0].Timestamp.IsZero() {
		t.Error("error entry should carry a timestamp")
	}
	if progress.ID == "" {
		t.Error("progress should have an id")
	}
}

func TestExecute_BulkOperation_AllSucceed(t *testing.T) {
	ft := &fakeTracker{
		respond: func(method, path string, _ interface{}) (json.RawMessage, error) {
			if method == http.MethodPost && strings.HasSuffix(path, "/search") {
				return bulkSearchResponse("A-1", "A-2"), nil
			}
			return json.RawMessage(`{}`), nil
		},
	}
	ex := newTestExecutor(ft)

	result := ex.Execute(context.Background(), models.Action{
		Type: models.ActionBulkOperation,
		Config: map[string]interface{}{
			"jql":    "project = A",
			"fields": map[string]interface{}{"labels": []interface{}{"triaged"}},
		},
	}, nil)

	if result.Status != models.ActionSuccess {
		t.Fatalf("expected success, got %s: %s", result.Status, result.Message)
	}
	progress := result.Data.(*models.BulkOperationProgress)
	if progress.SuccessfulItems != 2 || progress.FailedItems != 0 || progress.Status != "completed" {
		t.Fatalf("progress: %+v", progress)
	}
}

func TestExecute_BulkOperation_MaxIssuesBound(t *testing.T) {
	var searchBody map[string]interface{}
	ft := &fakeTracker{
		respond: func(method, path string, body interface{}) (json.RawMessage, error) {
			if method == http.MethodPost && strings.HasSuffix(path, "/search") {
				searchBody = body.(map[string]interface{})
				return bulkSearchResponse(), nil
			}
			return json.RawMessage(`{}`), nil
		},
	}
	ex := newTestExecutor(ft)

	result := ex.Execute(context.Background(), models.Action{
		Type: models.ActionBulkOperation,
		Config: map[string]interface{}{
			"jql":       "project = A",
			"maxIssues": float64(5000),
			"fields":    map[string]interface{}{"labels": []interface{}{"x"}},
		},
	}, nil)
	if result.Status != models.ActionSuccess {
		t.Fatalf("expected success: %s", result.Message)
	}
	if searchBody["maxResults"] != 1000 {
		t.Errorf("search must be bounded to 1000, got %v", searchBody["maxResults"])
	}
}

func TestExecute_UpdateAndCustomField(t *testing.T) {
	ft := &fakeTracker{}
	ex := newTestExecutor(ft)
	ctx := &models.ExecutionContext{IssueKey: "PROJ-9"}

	result := ex.Execute(context.Background(), models.Action{
		Type:   models.ActionUpdateIssue,
		Config: map[string]interface{}{"fields": map[string]interface{}{"summary": "new"}},
	}, ctx)
	if result.Status != models.ActionSuccess {
		t.Fatalf("update_issue: %s", result.Message)
	}

	result = ex.Execute(context.Background(), models.Action{
		Type:   models.ActionUpdateCustomField,
		Config: map[string]interface{}{"fieldId": "customfield_10010", "value": "abc"},
	}, ctx)
	if result.Status != models.ActionSuccess {
		t.Fatalf("update_custom_field: %s", result.Message)
	}
	body := ft.bodies[1].(map[string]interface{})
	fields := body["fields"].(map[string]interface{})
	if fields["customfield_10010"] != "abc" {
		t.Errorf("custom field body: %v", body)
	}
}

func TestExecute_TrackerErrorBecomesFailedResult(t *testing.T) {
	ft := &fakeTracker{
		respond: func(method, path string, _ interface{}) (json.RawMessage, error) {
			return nil, fmt.Errorf("tracker error [500]: boom")
		},
	}
	ex := newTestExecutor(ft)

	result := ex.Execute(context.Background(), models.Action{
		Type:   models.ActionAssignIssue,
		Config: map[string]interface{}{"accountId": "acc-1"},
	}, &models.ExecutionContext{IssueKey: "PROJ-1"})

	if result.Status != models.ActionFailed {
		t.Fatal("tracker errors must fold into a failed result")
	}
	if !strings.Contains(result.Message, "boom") {
		t.Errorf("message should carry the cause, got %q", result.Message)
	}
}
