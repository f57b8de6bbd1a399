// Package mcp exposes the automation engine to AI assistants over the
// Model Context Protocol using the mcp-go library. The server
// communicates via stdin/stdout using JSON-RPC 2.0.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"trackwise/internal/models"
	"trackwise/internal/services"
	"trackwise/internal/tracker"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
)

// Version is set at build time via ldflags.
var Version = "1.0.0"

// Server wraps an MCP server around the automation engine and the
// tracker client.
type Server struct {
	engine    *services.AutomationEngine
	client    tracker.API
	logger    *logrus.Logger
	mcpServer *server.MCPServer
}

// NewServer creates the MCP server and registers all tools.
func NewServer(engine *services.AutomationEngine, client tracker.API, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		engine: engine,
		client: client,
		logger: logger,
	}

	s.mcpServer = server.NewMCPServer(
		"trackwise",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// Serve runs the server over stdio until the client disconnects.
func (s *Server) Serve() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("create_rule",
		mcp.WithDescription("Create an automation rule. The rule is validated before it is stored."),
		mcp.WithString("rule", mcp.Required(), mcp.Description("The rule as a JSON object: name, enabled, triggers, conditions, actions")),
	), s.handleCreateRule)

	s.mcpServer.AddTool(mcp.NewTool("list_rules",
		mcp.WithDescription("List automation rules, optionally filtered."),
		mcp.WithString("project", mcp.Description("Only rules scoped to this project key")),
		mcp.WithString("trigger", mcp.Description("Only rules with this trigger type")),
		mcp.WithBoolean("enabled", mcp.Description("Only rules with this enabled state")),
	), s.handleListRules)

	s.mcpServer.AddTool(mcp.NewTool("get_rule",
		mcp.WithDescription("Fetch a single automation rule by id."),
		mcp.WithString("rule_id", mcp.Required(), mcp.Description("The rule id")),
	), s.handleGetRule)

	s.mcpServer.AddTool(mcp.NewTool("update_rule",
		mcp.WithDescription("Apply a partial update to an automation rule. Omitted fields are left unchanged."),
		mcp.WithString("rule_id", mcp.Required(), mcp.Description("The rule id")),
		mcp.WithString("update", mcp.Required(), mcp.Description("The fields to change as a JSON object")),
	), s.handleUpdateRule)

	s.mcpServer.AddTool(mcp.NewTool("delete_rule",
		mcp.WithDescription("Delete an automation rule. Execution history is kept."),
		mcp.WithString("rule_id", mcp.Required(), mcp.Description("The rule id")),
	), s.handleDeleteRule)

	s.mcpServer.AddTool(mcp.NewTool("execute_rule",
		mcp.WithDescription("Fire an automation rule manually with the given context."),
		mcp.WithString("rule_id", mcp.Required(), mcp.Description("The rule id")),
		mcp.WithString("context", mcp.Description("Execution context as a JSON object: issueKey, projectKey, userId, webhookData, triggerData")),
	), s.handleExecuteRule)

	s.mcpServer.AddTool(mcp.NewTool("validate_rule",
		mcp.WithDescription("Validate a rule definition without storing it. Returns errors and warnings."),
		mcp.WithString("rule", mcp.Required(), mcp.Description("The rule as a JSON object")),
	), s.handleValidateRule)

	s.mcpServer.AddTool(mcp.NewTool("list_executions",
		mcp.WithDescription("List execution history, newest first."),
		mcp.WithString("rule_id", mcp.Description("Only executions of this rule")),
		mcp.WithString("status", mcp.Description("Only executions with this status: PENDING, RUNNING, COMPLETED, FAILED")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of records to return")),
	), s.handleListExecutions)

	s.mcpServer.AddTool(mcp.NewTool("rule_metrics",
		mcp.WithDescription("Aggregate execution metrics for one rule, or for all rules when rule_id is omitted."),
		mcp.WithString("rule_id", mcp.Description("The rule id")),
	), s.handleRuleMetrics)

	s.mcpServer.AddTool(mcp.NewTool("get_issue",
		mcp.WithDescription("Fetch a tracker issue by key."),
		mcp.WithString("issue_key", mcp.Required(), mcp.Description("The issue key, e.g. PROJ-123")),
	), s.handleGetIssue)

	s.mcpServer.AddTool(mcp.NewTool("search_issues",
		mcp.WithDescription("Search tracker issues with a JQL query."),
		mcp.WithString("jql", mcp.Required(), mcp.Description("The JQL query")),
		mcp.WithNumber("max_results", mcp.Description("Maximum number of issues to return, default 50")),
	), s.handleSearchIssues)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleCreateRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("rule")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var rule models.AutomationRule
	if err := json.Unmarshal([]byte(raw), &rule); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("decode rule: %v", err)), nil
	}

	created, err := s.engine.CreateRule(ctx, &rule)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(created)
}

func (s *Server) handleListRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := models.RuleFilter{
		ProjectKey: req.GetString("project", ""),
		Trigger:    models.TriggerType(req.GetString("trigger", "")),
	}
	args := req.GetArguments()
	if v, ok := args["enabled"].(bool); ok {
		filter.Enabled = &v
	}

	rules, err := s.engine.GetRules(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rules)
}

func (s *Server) handleGetRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("rule_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rule, err := s.engine.GetRule(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rule)
}

func (s *Server) handleUpdateRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("rule_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("update")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var update models.RuleUpdate
	if err := json.Unmarshal([]byte(raw), &update); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("decode update: %v", err)), nil
	}

	rule, err := s.engine.UpdateRule(ctx, id, &update)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rule)
}

func (s *Server) handleDeleteRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("rule_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.engine.DeleteRule(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("rule %s deleted", id)), nil
}

func (s *Server) handleExecuteRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("rule_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ectx := &models.ExecutionContext{}
	if raw := req.GetString("context", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), ectx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("decode context: %v", err)), nil
		}
	}

	exec, err := s.engine.ExecuteRule(ctx, id, ectx, "mcp")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(exec)
}

func (s *Server) handleValidateRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("rule")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var rule models.AutomationRule
	if err := json.Unmarshal([]byte(raw), &rule); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("decode rule: %v", err)), nil
	}
	return jsonResult(s.engine.ValidateRule(&rule))
}

func (s *Server) handleListExecutions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := models.ExecutionFilter{
		RuleID: req.GetString("rule_id", ""),
		Status: models.ExecutionStatus(req.GetString("status", "")),
		Limit:  req.GetInt("limit", 0),
	}
	executions, err := s.engine.GetExecutions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(executions)
}

func (s *Server) handleRuleMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	metrics, err := s.engine.GetMetrics(ctx, req.GetString("rule_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(metrics)
}

func (s *Server) handleGetIssue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("issue_key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	issue, err := tracker.GetIssue(ctx, s.client, key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(issue)
}

func (s *Server) handleSearchIssues(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jql, err := req.RequireString("jql")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxResults := req.GetInt("max_results", 50)
	if maxResults <= 0 {
		maxResults = 50
	}

	result, err := tracker.SearchIssues(ctx, s.client, jql, maxResults)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}
