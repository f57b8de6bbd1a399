// Package smartvalue implements the {{...}} template-expression language
// rule authors write against. The evaluator is a pure function over the
// supplied execution context and never performs network I/O; issue fields
// beyond the bare key must be pre-populated into the context snapshot by
// the caller.
package smartvalue

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"trackwise/internal/models"

	"github.com/sirupsen/logrus"
)

// MissingContextError reports an expression that needs a context field the
// caller did not supply.
type MissingContextError struct {
	Field string
}

func (e *MissingContextError) Error() string {
	return fmt.Sprintf("missing context field: %s", e.Field)
}

// PropertyNotFoundError reports an absent nested path.
type PropertyNotFoundError struct {
	Path string
}

func (e *PropertyNotFoundError) Error() string {
	return fmt.Sprintf("property not found: %s", e.Path)
}

// UnsupportedExpressionError reports an unknown expression form.
type UnsupportedExpressionError struct {
	Expr string
}

func (e *UnsupportedExpressionError) Error() string {
	return fmt.Sprintf("unsupported expression: %s", e.Expr)
}

var (
	placeholderRe = regexp.MustCompile(`\{\{(.+?)\}\}`)
	numberRe      = regexp.MustCompile(`^\d+(\.\d+)?$`)
	nowArithRe    = regexp.MustCompile(`^now\.(plusDays|minusDays|plusHours|minusHours)\((\d+)\)$`)
	nowFormatRe   = regexp.MustCompile(`^now\.format\("([^"]*)"\)$`)
)

// exprKind is the closed set of expression forms. Anything that does not
// classify falls back to kindText, which echoes the trimmed expression.
type exprKind int

const (
	kindIssue exprKind = iota
	kindProject
	kindUser
	kindNow
	kindWebhook
	kindTrigger
	kindQuoted
	kindNumber
	kindBool
	kindNull
	kindText
)

func classify(expr string) exprKind {
	switch {
	case strings.HasPrefix(expr, "issue."):
		return kindIssue
	case strings.HasPrefix(expr, "project."):
		return kindProject
	case strings.HasPrefix(expr, "user."):
		return kindUser
	case expr == "now" || strings.HasPrefix(expr, "now."):
		return kindNow
	case strings.HasPrefix(expr, "webhook."):
		return kindWebhook
	case strings.HasPrefix(expr, "trigger."):
		return kindTrigger
	case len(expr) >= 2 && (expr[0] == '\'' || expr[0] == '"') && expr[len(expr)-1] == expr[0]:
		return kindQuoted
	case numberRe.MatchString(expr):
		return kindNumber
	case expr == "true" || expr == "false":
		return kindBool
	case expr == "null":
		return kindNull
	default:
		return kindText
	}
}

// Evaluator resolves smart-value expressions against an execution context.
type Evaluator struct {
	logger *logrus.Logger
	now    func() time.Time
}

// New creates an evaluator. A nil logger falls back to the logrus default.
func New(logger *logrus.Logger) *Evaluator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Evaluator{logger: logger, now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// ProcessString resolves every {{expr}} placeholder in s. A failing
// expression leaves its placeholder verbatim; one bad expression never
// aborts the rest.
func (e *Evaluator) ProcessString(s string, ctx *models.ExecutionContext) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])
		val, err := e.Evaluate(expr, ctx)
		if err != nil {
			e.logger.Warnf("smart value %q: %v", expr, err)
			return match
		}
		return ConvertToString(val)
	})
}

// ProcessObject recursively resolves placeholders inside strings, map keys
// and values, and sequence elements. Other scalars pass through unchanged.
func (e *Evaluator) ProcessObject(v interface{}, ctx *models.ExecutionContext) interface{} {
	switch val := v.(type) {
	case string:
		return e.ProcessString(val, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[e.ProcessString(k, ctx)] = e.ProcessObject(item, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = e.ProcessObject(item, ctx)
		}
		return out
	default:
		return v
	}
}

// Evaluate resolves a single expression (without the {{ }} delimiters).
func (e *Evaluator) Evaluate(expr string, ctx *models.ExecutionContext) (interface{}, error) {
	expr = strings.TrimSpace(expr)
	switch classify(expr) {
	case kindIssue:
		return e.resolveIssue(strings.TrimPrefix(expr, "issue."), ctx)
	case kindProject:
		return e.resolveProject(strings.TrimPrefix(expr, "project."), ctx)
	case kindUser:
		return e.resolveUser(strings.TrimPrefix(expr, "user."), ctx)
	case kindNow:
		return e.resolveNow(expr)
	case kindWebhook:
		if ctx == nil || ctx.WebhookData == nil {
			return nil, &MissingContextError{Field: "webhookData"}
		}
		return traverse(ctx.WebhookData, strings.TrimPrefix(expr, "webhook."))
	case kindTrigger:
		if ctx == nil || ctx.TriggerData == nil {
			return nil, &MissingContextError{Field: "triggerData"}
		}
		return traverse(ctx.TriggerData, strings.TrimPrefix(expr, "trigger."))
	case kindQuoted:
		return expr[1 : len(expr)-1], nil
	case kindNumber:
		n, err := strconv.ParseFloat(expr, 64)
		if err != nil {
			return nil, &UnsupportedExpressionError{Expr: expr}
		}
		return n, nil
	case kindBool:
		return expr == "true", nil
	case kindNull:
		return nil, nil
	default:
		// Graceful fallback: unrecognized forms resolve to their own text.
		return expr, nil
	}
}

func (e *Evaluator) resolveIssue(path string, ctx *models.ExecutionContext) (interface{}, error) {
	if ctx == nil || ctx.IssueKey == "" {
		return nil, &MissingContextError{Field: "issueKey"}
	}
	if path == "key" {
		return ctx.IssueKey, nil
	}
	if ctx.Issue == nil {
		return nil, &PropertyNotFoundError{Path: "issue." + path}
	}
	f := ctx.Issue.Fields
	switch path {
	case "summary":
		return f.Summary, nil
	case "description":
		return f.Description, nil
	case "status":
		if f.Status == nil {
			return nil, &PropertyNotFoundError{Path: "issue.status"}
		}
		return f.Status.Name, nil
	case "priority":
		if f.Priority == nil {
			return nil, &PropertyNotFoundError{Path: "issue.priority"}
		}
		return f.Priority.Name, nil
	case "assignee.displayName", "assignee.emailAddress":
		if f.Assignee == nil {
			return nil, &PropertyNotFoundError{Path: "issue." + path}
		}
		if strings.HasSuffix(path, "displayName") {
			return f.Assignee.DisplayName, nil
		}
		return f.Assignee.EmailAddress, nil
	case "reporter.displayName", "reporter.emailAddress":
		if f.Reporter == nil {
			return nil, &PropertyNotFoundError{Path: "issue." + path}
		}
		if strings.HasSuffix(path, "displayName") {
			return f.Reporter.DisplayName, nil
		}
		return f.Reporter.EmailAddress, nil
	case "created":
		return f.Created, nil
	case "updated":
		return f.Updated, nil
	default:
		return nil, &PropertyNotFoundError{Path: "issue." + path}
	}
}

func (e *Evaluator) resolveProject(path string, ctx *models.ExecutionContext) (interface{}, error) {
	if ctx == nil || ctx.ProjectKey == "" {
		return nil, &MissingContextError{Field: "projectKey"}
	}
	if path == "key" {
		return ctx.ProjectKey, nil
	}
	if ctx.Project == nil {
		return nil, &PropertyNotFoundError{Path: "project." + path}
	}
	switch path {
	case "name":
		return ctx.Project.Name, nil
	case "lead.displayName", "lead.emailAddress":
		if ctx.Project.Lead == nil {
			return nil, &PropertyNotFoundError{Path: "project." + path}
		}
		if strings.HasSuffix(path, "displayName") {
			return ctx.Project.Lead.DisplayName, nil
		}
		return ctx.Project.Lead.EmailAddress, nil
	default:
		return nil, &PropertyNotFoundError{Path: "project." + path}
	}
}

func (e *Evaluator) resolveUser(path string, ctx *models.ExecutionContext) (interface{}, error) {
	if ctx == nil || ctx.UserID == "" {
		return nil, &MissingContextError{Field: "userId"}
	}
	if path == "accountId" {
		return ctx.UserID, nil
	}
	if ctx.User == nil {
		return nil, &PropertyNotFoundError{Path: "user." + path}
	}
	switch path {
	case "displayName":
		return ctx.User.DisplayName, nil
	case "emailAddress":
		return ctx.User.EmailAddress, nil
	default:
		return nil, &PropertyNotFoundError{Path: "user." + path}
	}
}

func (e *Evaluator) resolveNow(expr string) (interface{}, error) {
	now := e.now()
	if expr == "now" {
		return now, nil
	}
	if m := nowArithRe.FindStringSubmatch(expr); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, &UnsupportedExpressionError{Expr: expr}
		}
		switch m[1] {
		case "plusDays":
			return now.AddDate(0, 0, n), nil
		case "minusDays":
			return now.AddDate(0, 0, -n), nil
		case "plusHours":
			return now.Add(time.Duration(n) * time.Hour), nil
		case "minusHours":
			return now.Add(-time.Duration(n) * time.Hour), nil
		}
	}
	if m := nowFormatRe.FindStringSubmatch(expr); m != nil {
		layout, ok := dateLayout(m[1])
		if !ok {
			return nil, &UnsupportedExpressionError{Expr: expr}
		}
		return now.Format(layout), nil
	}
	return nil, &UnsupportedExpressionError{Expr: expr}
}

// dateLayout maps the supported date-format patterns onto Go layouts.
func dateLayout(pattern string) (string, bool) {
	switch pattern {
	case "yyyy-MM-dd":
		return "2006-01-02", true
	case "HH:mm:ss":
		return "15:04:05", true
	default:
		return "", false
	}
}

func traverse(data map[string]interface{}, path string) (interface{}, error) {
	var current interface{} = data
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, &PropertyNotFoundError{Path: path}
		}
		current, ok = m[segment]
		if !ok {
			return nil, &PropertyNotFoundError{Path: path}
		}
	}
	return current, nil
}

// ConvertToString projects an evaluated value into text for substitution.
func ConvertToString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// Placeholders returns the inner expressions of every {{...}} placeholder
// found in s.
func Placeholders(s string) []string {
	var exprs []string
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		exprs = append(exprs, strings.TrimSpace(m[1]))
	}
	return exprs
}

// ValidateExpression is a structural pre-check: balanced delimiters and a
// recognized prefix or literal shape. It never touches a context, so
// validity means "well-formed", not "guaranteed to resolve".
func ValidateExpression(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &UnsupportedExpressionError{Expr: expr}
	}
	if strings.Count(expr, "(") != strings.Count(expr, ")") {
		return fmt.Errorf("unbalanced parentheses in %q", expr)
	}
	if strings.Count(expr, `"`)%2 != 0 || strings.Count(expr, "'")%2 != 0 {
		return fmt.Errorf("unbalanced quotes in %q", expr)
	}
	if classify(expr) == kindNow && expr != "now" {
		if !nowArithRe.MatchString(expr) && !nowFormatRe.MatchString(expr) {
			return &UnsupportedExpressionError{Expr: expr}
		}
		if m := nowFormatRe.FindStringSubmatch(expr); m != nil {
			if _, ok := dateLayout(m[1]); !ok {
				return &UnsupportedExpressionError{Expr: expr}
			}
		}
	}
	return nil
}
