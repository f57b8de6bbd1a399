package smartvalue

import (
	"errors"
	"testing"
	"time"

	"trackwise/internal/models"
	"trackwise/internal/tracker"

	"github.com/sirupsen/logrus"
)

func newTestEvaluator() *Evaluator {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(logger)
}

func issueContext() *models.ExecutionContext {
	return &models.ExecutionContext{
		IssueKey:   "PROJ-1",
		ProjectKey: "PROJ",
		UserID:     "acc-42",
		Issue: &tracker.Issue{
			Key: "PROJ-1",
			Fields: tracker.IssueFields{
				Summary:     "Fix login crash",
				Description: "Crashes on empty password",
				Status:      &tracker.IssueStatus{Name: "In Progress"},
				Priority:    &tracker.Priority{Name: "High"},
				Assignee:    &tracker.User{DisplayName: "Ada", EmailAddress: "ada@example.com"},
				Reporter:    &tracker.User{DisplayName: "Bob", EmailAddress: "bob@example.com"},
				Created:     "2026-01-02T03:04:05.000+0000",
			},
		},
		Project: &tracker.Project{Key: "PROJ", Name: "Project One", Lead: &tracker.User{DisplayName: "Lena"}},
		User:    &tracker.User{AccountID: "acc-42", DisplayName: "Ada", EmailAddress: "ada@example.com"},
	}
}

func TestEvaluate_IssuePaths(t *testing.T) {
	e := newTestEvaluator()
	ctx := issueContext()

	tests := []struct {
		expr string
		want string
	}{
		{"issue.key", "PROJ-1"},
		{"issue.summary", "Fix login crash"},
		{"issue.description", "Crashes on empty password"},
		{"issue.status", "In Progress"},
		{"issue.priority", "High"},
		{"issue.assignee.displayName", "Ada"},
		{"issue.assignee.emailAddress", "ada@example.com"},
		{"issue.reporter.displayName", "Bob"},
		{"issue.created", "2026-01-02T03:04:05.000+0000"},
		{"project.key", "PROJ"},
		{"project.name", "Project One"},
		{"project.lead.displayName", "Lena"},
		{"user.accountId", "acc-42"},
		{"user.displayName", "Ada"},
	}
	for _, tt := range tests {
		got, err := e.Evaluate(tt.expr, ctx)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEvaluate_MissingContext(t *testing.T) {
	e := newTestEvaluator()

	_, err := e.Evaluate("issue.key", &models.ExecutionContext{})
	var missing *MissingContextError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingContextError, got %v", err)
	}

	// Key resolves from context; deeper paths need the snapshot.
	_, err = e.Evaluate("issue.summary", &models.ExecutionContext{IssueKey: "PROJ-1"})
	var notFound *PropertyNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected PropertyNotFoundError, got %v", err)
	}
}

func TestEvaluate_Literals(t *testing.T) {
	e := newTestEvaluator()

	got, err := e.Evaluate("'literal text'", nil)
	if err != nil || got != "literal text" {
		t.Fatalf("quoted literal: got %v, %v", got, err)
	}
	got, err = e.Evaluate("42.5", nil)
	if err != nil || got != 42.5 {
		t.Fatalf("number literal: got %v, %v", got, err)
	}
	got, err = e.Evaluate("true", nil)
	if err != nil || got != true {
		t.Fatalf("bool literal: got %v, %v", got, err)
	}
	got, err = e.Evaluate("null", nil)
	if err != nil || got != nil {
		t.Fatalf("null literal: got %v, %v", got, err)
	}
	// Unrecognized forms fall back to their own text rather than failing.
	got, err = e.Evaluate("  something else  ", nil)
	if err != nil || got != "something else" {
		t.Fatalf("text fallback: got %v, %v", got, err)
	}
}

func TestEvaluate_NowArithmetic(t *testing.T) {
	e := newTestEvaluator()
	base := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	e.SetClock(func() time.Time { return base })

	got, err := e.Evaluate("now.plusDays(1)", nil)
	if err != nil {
		t.Fatalf("plusDays: %v", err)
	}
	if got.(time.Time) != base.AddDate(0, 0, 1) {
		t.Errorf("plusDays(1): got %v", got)
	}
	if got.(time.Time).Sub(base) != 24*time.Hour {
		t.Errorf("plusDays(1) should be exactly 24h after base")
	}

	got, err = e.Evaluate("now.minusHours(3)", nil)
	if err != nil {
		t.Fatalf("minusHours: %v", err)
	}
	if got.(time.Time) != base.Add(-3*time.Hour) {
		t.Errorf("minusHours(3): got %v", got)
	}

	got, err = e.Evaluate(`now.format("yyyy-MM-dd")`, nil)
	if err != nil || got != "2026-03-14" {
		t.Fatalf("format date: got %v, %v", got, err)
	}
	got, err = e.Evaluate(`now.format("HH:mm:ss")`, nil)
	if err != nil || got != "10:30:00" {
		t.Fatalf("format time: got %v, %v", got, err)
	}

	var unsupported *UnsupportedExpressionError
	if _, err := e.Evaluate("now.plusMonths(1)", nil); !errors.As(err, &unsupported) {
		t.Errorf("expected UnsupportedExpressionError for plusMonths, got %v", err)
	}
}

func TestEvaluate_WebhookTraversal(t *testing.T) {
	e := newTestEvaluator()
	ctx := &models.ExecutionContext{
		WebhookData: map[string]interface{}{
			"payload": map[string]interface{}{"user": map[string]interface{}{"name": "ada"}},
		},
		TriggerData: map[string]interface{}{"event": "issue_created"},
	}

	got, err := e.Evaluate("webhook.payload.user.name", ctx)
	if err != nil || got != "ada" {
		t.Fatalf("webhook traversal: got %v, %v", got, err)
	}
	got, err = e.Evaluate("trigger.event", ctx)
	if err != nil || got != "issue_created" {
		t.Fatalf("trigger traversal: got %v, %v", got, err)
	}

	var notFound *PropertyNotFoundError
	if _, err := e.Evaluate("webhook.payload.missing", ctx); !errors.As(err, &notFound) {
		t.Errorf("expected PropertyNotFoundError, got %v", err)
	}
}

func TestProcessString(t *testing.T) {
	e := newTestEvaluator()
	ctx := issueContext()

	got := e.ProcessString("Issue {{issue.key}}: {{issue.summary}}", ctx)
	if got != "Issue PROJ-1: Fix login crash" {
		t.Errorf("got %q", got)
	}

	// Placeholder-free strings come back unchanged, repeatedly.
	plain := "no placeholders here"
	for i := 0; i < 3; i++ {
		if got := e.ProcessString(plain, ctx); got != plain {
			t.Fatalf("iteration %d: got %q", i, got)
		}
	}

	// A failing expression keeps its placeholder verbatim and does not
	// abort the surrounding substitutions.
	got = e.ProcessString("{{issue.key}} / {{webhook.missing}}", ctx)
	if got != "PROJ-1 / {{webhook.missing}}" {
		t.Errorf("got %q", got)
	}

	if got := e.ProcessString("{{'literal text'}}", nil); got != "literal text" {
		t.Errorf("quoted literal round trip: got %q", got)
	}
}

func TestProcessObject(t *testing.T) {
	e := newTestEvaluator()
	ctx := issueContext()

	in := map[string]interface{}{
		"summary of {{issue.key}}": "{{issue.summary}}",
		"nested": []interface{}{"{{project.key}}", 7, true},
		"count":  3,
	}
	out := e.ProcessObject(in, ctx).(map[string]interface{})

	if out["summary of PROJ-1"] != "Fix login crash" {
		t.Errorf("map key/value: %v", out)
	}
	nested := out["nested"].([]interface{})
	if nested[0] != "PROJ" || nested[1] != 7 || nested[2] != true {
		t.Errorf("sequence: %v", nested)
	}
	if out["count"] != 3 {
		t.Errorf("scalar passthrough: %v", out["count"])
	}
}

func TestConvertToString(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"plain", "plain"},
		{true, "true"},
		{float64(3), "3"},
		{2.5, "2.5"},
		{ts, "2026-01-02T03:04:05Z"},
		{map[string]interface{}{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		if got := ConvertToString(tt.in); got != tt.want {
			t.Errorf("ConvertToString(%v): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateExpression(t *testing.T) {
	valid := []string{
		"issue.key", "project.name", "user.accountId",
		"now", "now.plusDays(3)", `now.format("yyyy-MM-dd")`,
		"webhook.a.b", "trigger.event",
		"'quoted'", "42", "true", "null", "freeform text",
	}
	for _, expr := range valid {
		if err := ValidateExpression(expr); err != nil {
			t.Errorf("ValidateExpression(%q) = %v, want nil", expr, err)
		}
	}

	invalid := []string{
		"", "now.plusDays(3", `now.format("yyyy")`, "now.tomorrow", `'unterminated`,
	}
	for _, expr := range invalid {
		if err := ValidateExpression(expr); err == nil {
			t.Errorf("ValidateExpression(%q) = nil, want error", expr)
		}
	}
}

func TestPlaceholders(t *testing.T) {
	exprs := Placeholders("a {{issue.key}} b {{ now }} c")
	if len(exprs) != 2 || exprs[0] != "issue.key" || exprs[1] != "now" {
		t.Errorf("got %v", exprs)
	}
	if got := Placeholders("nothing"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
