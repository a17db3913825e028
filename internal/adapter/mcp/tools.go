package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/wardenhq/warden/internal/domain/decision"
	"github.com/wardenhq/warden/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.submitDecisionTool(),
		s.submitPlanTool(),
		s.submitCompletionTool(),
		s.taskReviewStatusTool(),
		s.precheckExecutionTool(),
	)
}

func (s *Server) submitDecisionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_decision",
		mcplib.WithDescription("Submit a decision checkpoint for review. Blocks until a verdict exists; deviation and scope-change decisions always escalate to a human."),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("The task this decision belongs to")),
		mcplib.WithString("agent", mcplib.Required(), mcplib.Description("Identifier of the submitting agent")),
		mcplib.WithString("category", mcplib.Required(), mcplib.Description("One of: pattern-choice, component-design, api-design, deviation, scope-change")),
		mcplib.WithString("summary", mcplib.Required(), mcplib.Description("One-line summary of the proposed choice")),
		mcplib.WithString("detail", mcplib.Description("Longer rationale for the choice")),
		mcplib.WithArray("components_affected", mcplib.WithStringItems(), mcplib.Description("Components the decision touches")),
		mcplib.WithArray("alternatives_considered", mcplib.WithStringItems(), mcplib.Description("Alternatives weighed before this choice")),
		mcplib.WithNumber("confidence", mcplib.Description("Agent's confidence in [0,1]")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSubmitDecision}
}

func (s *Server) submitPlanTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_plan_for_review",
		mcplib.WithDescription("Submit an implementation plan for review before starting work."),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("The task the plan covers")),
		mcplib.WithString("agent", mcplib.Description("Identifier of the submitting agent")),
		mcplib.WithString("summary", mcplib.Required(), mcplib.Description("One-line summary of the plan")),
		mcplib.WithString("detail", mcplib.Description("The plan itself")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSubmitPlan}
}

func (s *Server) submitCompletionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_completion_review",
		mcplib.WithDescription("Submit a completion report for review. Blocked automatically if the task's decision trail has unreviewed or blocked decisions."),
		mcplib.WithString("task_id", mcplib.Required(), mcplib.Description("The completed task")),
		mcplib.WithString("agent", mcplib.Description("Identifier of the submitting agent")),
		mcplib.WithString("summary", mcplib.Required(), mcplib.Description("One-line summary of what was done")),
		mcplib.WithString("detail", mcplib.Description("Full completion report")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSubmitCompletion}
}

func (s *Server) taskReviewStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_task_review_status",
		mcplib.WithDescription("Get the review status of a governed implementation item: whether it may execute and which blockers remain."),
		mcplib.WithString("impl_item_id", mcplib.Required(), mcplib.Description("The implementation item id")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleTaskReviewStatus}
}

func (s *Server) precheckExecutionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("precheck_execution",
		mcplib.WithDescription("Check the execution gate before running an implementation item. Call this first; a denial carries the feedback to relay."),
		mcplib.WithString("impl_item_id", mcplib.Required(), mcplib.Description("The implementation item id")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handlePrecheckExecution}
}

func (s *Server) handleSubmitDecision(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Checkpoints == nil {
		return mcplib.NewToolResultError("checkpoint service not configured"), nil
	}
	args := req.GetArguments()
	submit := decision.SubmitRequest{
		TaskID:                 stringArg(args, "task_id"),
		Agent:                  stringArg(args, "agent"),
		Category:               decision.Category(stringArg(args, "category")),
		Summary:                stringArg(args, "summary"),
		Detail:                 stringArg(args, "detail"),
		ComponentsAffected:     stringSliceArg(args, "components_affected"),
		AlternativesConsidered: stringSliceArg(args, "alternatives_considered"),
	}
	if v, ok := args["confidence"].(float64); ok {
		submit.Confidence = v
	}

	d, rev, err := s.deps.Checkpoints.SubmitDecision(ctx, submit)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("decision checkpoint failed", err), nil
	}
	data, err := json.Marshal(map[string]any{"decision": d, "review": rev})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal verdict", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleSubmitPlan(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Checkpoints == nil {
		return mcplib.NewToolResultError("checkpoint service not configured"), nil
	}
	args := req.GetArguments()
	result, err := s.deps.Checkpoints.SubmitPlan(ctx, service.PlanSubmission{
		TaskID:  stringArg(args, "task_id"),
		Agent:   stringArg(args, "agent"),
		Summary: stringArg(args, "summary"),
		Detail:  stringArg(args, "detail"),
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("plan checkpoint failed", err), nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal plan result", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleSubmitCompletion(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Checkpoints == nil {
		return mcplib.NewToolResultError("checkpoint service not configured"), nil
	}
	args := req.GetArguments()
	result, err := s.deps.Checkpoints.SubmitCompletion(ctx, service.CompletionSubmission{
		TaskID:  stringArg(args, "task_id"),
		Agent:   stringArg(args, "agent"),
		Summary: stringArg(args, "summary"),
		Detail:  stringArg(args, "detail"),
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("completion checkpoint failed", err), nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal completion result", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleTaskReviewStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Status == nil {
		return mcplib.NewToolResultError("status reader not configured"), nil
	}
	implItemID := stringArg(req.GetArguments(), "impl_item_id")
	if implItemID == "" {
		return mcplib.NewToolResultError("impl_item_id is required"), nil
	}
	status, err := s.deps.Status.TaskReviewStatus(ctx, implItemID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get review status for %s", implItemID), err,
		), nil
	}
	data, err := json.Marshal(status)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal status", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handlePrecheckExecution(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Gate == nil {
		return mcplib.NewToolResultError("gate service not configured"), nil
	}
	implItemID := stringArg(req.GetArguments(), "impl_item_id")
	if implItemID == "" {
		return mcplib.NewToolResultError("impl_item_id is required"), nil
	}
	d, err := s.deps.Gate.CheckExecution(ctx, implItemID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("gate check failed for %s", implItemID), err,
		), nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal gate decision", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// stringSliceArg reads an array argument; JSON decoding delivers []any.
func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
