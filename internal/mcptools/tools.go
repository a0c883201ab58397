package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fentz26/taskrelay/internal/models"
	"github.com/fentz26/taskrelay/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// TaskLister reads stored tasks. *store.Store satisfies it.
type TaskLister interface {
	ListTasks(ctx context.Context, f store.TaskFilter) ([]models.Task, error)
}

// SubmitTaskTool handles the submit_task MCP tool.
type SubmitTaskTool struct {
	client *Client
}

// NewSubmitTaskTool creates a SubmitTaskTool.
func NewSubmitTaskTool(c *Client) *SubmitTaskTool {
	return &SubmitTaskTool{client: c}
}

// Definition returns the MCP tool definition for submit_task.
func (t *SubmitTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("submit_task",
		mcp.WithDescription(
			"Submit a new task to the intake service. The task is classified into a project and stored; "+
				"set wait_seconds to receive the stored project and task id.",
		),
		mcp.WithString("description",
			mcp.Required(),
			mcp.Description("What needs to be done"),
		),
		mcp.WithString("priority",
			mcp.Description("Low, Medium, High or Critical"),
		),
		mcp.WithString("agent",
			mcp.Description("Target agent that receives the notification (default: user)"),
		),
		mcp.WithNumber("wait_seconds",
			mcp.Description("Seconds to wait for the intake notification (default: 0, do not wait)"),
		),
	)
}

// Handle processes the submit_task tool call.
func (t *SubmitTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	desc := strings.TrimSpace(req.GetString("description", ""))
	if desc == "" {
		return mcp.NewToolResultError("'description' is required"), nil
	}

	var priority models.Priority
	if p := req.GetString("priority", ""); p != "" {
		parsed, err := models.ParsePriority(p)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		priority = parsed
	}

	n, err := t.client.SubmitTask(ctx, Submission{
		Description: desc,
		Priority:    priority,
		Agent:       req.GetString("agent", ""),
		Wait:        time.Duration(req.GetFloat("wait_seconds", 0) * float64(time.Second)),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to submit task: %v", err)), nil
	}
	if n == nil {
		return mcp.NewToolResultText(fmt.Sprintf("Task submitted: %q", desc)), nil
	}
	if n.Status != "success" {
		return mcp.NewToolResultError(fmt.Sprintf("intake failed to store task: %s (project %s)", n.Error, n.Project)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s\nProject: %s\nTask ID: %s", n.Message, n.Project, n.TaskID)), nil
}

// ListTasksTool handles the list_tasks MCP tool.
type ListTasksTool struct {
	store TaskLister
}

// NewListTasksTool creates a ListTasksTool.
func NewListTasksTool(s TaskLister) *ListTasksTool {
	return &ListTasksTool{store: s}
}

// Definition returns the MCP tool definition for list_tasks.
func (t *ListTasksTool) Definition() mcp.Tool {
	return mcp.NewTool("list_tasks",
		mcp.WithDescription("List stored tasks, newest first."),
		mcp.WithString("project",
			mcp.Description("Only tasks classified into this project"),
		),
		mcp.WithString("status",
			mcp.Description("pending, running, completed or failed"),
		),
		mcp.WithString("agent",
			mcp.Description("Only tasks for this target agent"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of tasks (default: 20)"),
		),
	)
}

// Handle processes the list_tasks tool call.
func (t *ListTasksTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := t.store.ListTasks(ctx, store.TaskFilter{
		Status:      req.GetString("status", ""),
		Project:     req.GetString("project", ""),
		TargetAgent: req.GetString("agent", ""),
		Limit:       int(req.GetFloat("limit", 20)),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d task(s):\n", len(tasks))
	for _, task := range tasks {
		fmt.Fprintf(&b, "- [%s] %s (%s, %s) %s\n", task.Status, task.Description, task.Project, task.Priority, task.ID)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ServiceControlTool handles the service_control MCP tool.
type ServiceControlTool struct {
	client *Client
}

// NewServiceControlTool creates a ServiceControlTool.
func NewServiceControlTool(c *Client) *ServiceControlTool {
	return &ServiceControlTool{client: c}
}

// Definition returns the MCP tool definition for service_control.
func (t *ServiceControlTool) Definition() mcp.Tool {
	return mcp.NewTool("service_control",
		mcp.WithDescription("Ask a running service (mqtt_intake, project_worker) for its status or to shut down."),
		mcp.WithString("service",
			mcp.Required(),
			mcp.Description("Service name, e.g. mqtt_intake or project_worker"),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("status or shutdown"),
		),
		mcp.WithNumber("wait_seconds",
			mcp.Description("Seconds to wait for a status reply (default: 5)"),
		),
	)
}

// Handle processes the service_control tool call.
func (t *ServiceControlTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	service := req.GetString("service", "")
	command := req.GetString("command", "")
	if service == "" || command == "" {
		return mcp.NewToolResultError("'service' and 'command' are required"), nil
	}
	wait := time.Duration(req.GetFloat("wait_seconds", 5) * float64(time.Second))

	report, err := t.client.Control(ctx, service, command, wait)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("control %s: %v", service, err)), nil
	}
	if report == nil {
		return mcp.NewToolResultText(fmt.Sprintf("Sent %q to %s", strings.ToLower(command), service)), nil
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
