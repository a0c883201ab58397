package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fentz26/taskrelay/internal/bus"
	"github.com/fentz26/taskrelay/internal/models"
	"github.com/fentz26/taskrelay/internal/store"
	"github.com/fentz26/taskrelay/internal/topics"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestClient(t *testing.T) (*Client, *bus.MemoryBroker) {
	t.Helper()
	b := bus.NewMemoryBroker()
	t.Cleanup(func() { b.Disconnect(0) })
	return &Client{Bus: b, TopicPrefix: "mcp", DefaultAgent: "user"}, b
}

// fakeIntake answers every inbound task the way the intake service does.
func fakeIntake(t *testing.T, b *bus.MemoryBroker, project string, fail bool) {
	t.Helper()
	err := b.Subscribe(context.Background(), topics.IntakeFilter("mcp"), func(m bus.Message) {
		msg, err := models.ParseTaskIntake(m.Payload)
		if err != nil {
			return
		}
		agent := topics.TargetAgent(m.Topic, "user")
		n := models.Notification{Status: "success", Message: "Added new todo: " + msg.Description, Project: project, TaskID: "t-1"}
		topic := topics.TodoResponse(agent)
		if fail {
			n = models.Notification{Status: "error", Error: "database is locked", Project: project}
			topic = topics.ErrorResponse(agent)
		}
		payload, _ := json.Marshal(n)
		b.Publish(context.Background(), topic, payload)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
}

func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// ─── Client Tests ────────────────────────────────────────────────────────────

func TestSubmitTaskPublishes(t *testing.T) {
	c, b := newTestClient(t)
	got := make(chan bus.Message, 1)
	b.Subscribe(context.Background(), "mcp/claude", func(m bus.Message) { got <- m })

	n, err := c.SubmitTask(context.Background(), Submission{Description: " fix login bug ", Priority: models.PriorityHigh, Agent: "claude"})
	if err != nil {
		t.Fatalf("SubmitTask failed: %v", err)
	}
	if n != nil {
		t.Errorf("Expected no notification without wait, got %+v", n)
	}

	select {
	case m := <-got:
		msg, err := models.ParseTaskIntake(m.Payload)
		if err != nil {
			t.Fatalf("bad payload %q: %v", m.Payload, err)
		}
		if msg.Description != "fix login bug" || msg.Priority != models.PriorityHigh {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for published task")
	}
}

func TestSubmitTaskWaitsForNotification(t *testing.T) {
	c, b := newTestClient(t)
	fakeIntake(t, b, "auth-service", false)

	n, err := c.SubmitTask(context.Background(), Submission{Description: "fix login bug", Wait: 2 * time.Second})
	if err != nil {
		t.Fatalf("SubmitTask failed: %v", err)
	}
	if n.Status != "success" || n.Project != "auth-service" {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestSubmitTaskWaitsForError(t *testing.T) {
	c, b := newTestClient(t)
	fakeIntake(t, b, "auth-service", true)

	n, err := c.SubmitTask(context.Background(), Submission{Description: "fix login bug", Wait: 2 * time.Second})
	if err != nil {
		t.Fatalf("SubmitTask failed: %v", err)
	}
	if n.Status != "error" || n.Error == "" {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestSubmitTaskNoReply(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.SubmitTask(context.Background(), Submission{Description: "anyone?", Wait: 50 * time.Millisecond})
	if !errors.Is(err, ErrNoReply) {
		t.Errorf("Expected ErrNoReply, got %v", err)
	}
}

func TestSubmitTaskEmptyDescription(t *testing.T) {
	c, _ := newTestClient(t)

	if _, err := c.SubmitTask(context.Background(), Submission{Description: "  "}); !errors.Is(err, models.ErrPayload) {
		t.Errorf("Expected ErrPayload, got %v", err)
	}
}

func TestControlStatus(t *testing.T) {
	c, b := newTestClient(t)
	b.Subscribe(context.Background(), "project_worker/control", func(m bus.Message) {
		payload, _ := json.Marshal(models.StatusReport{Status: "running", Service: "project_worker"})
		b.Publish(context.Background(), topics.Status("project_worker"), payload)
	})

	report, err := c.Control(context.Background(), "project_worker", "STATUS", time.Second)
	if err != nil {
		t.Fatalf("Control failed: %v", err)
	}
	if report.Status != "running" || report.Service != "project_worker" {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestControlShutdownDoesNotWait(t *testing.T) {
	c, b := newTestClient(t)
	got := make(chan bus.Message, 1)
	b.Subscribe(context.Background(), "mqtt_intake/control", func(m bus.Message) { got <- m })

	report, err := c.Control(context.Background(), "mqtt_intake", "shutdown", time.Second)
	if err != nil || report != nil {
		t.Fatalf("Control = %+v, %v", report, err)
	}
	select {
	case m := <-got:
		var cmd models.ControlCommand
		json.Unmarshal(m.Payload, &cmd)
		if cmd.Command != "shutdown" {
			t.Errorf("command = %q, want shutdown", cmd.Command)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for control command")
	}
}

func TestControlUnknownCommand(t *testing.T) {
	c, _ := newTestClient(t)

	if _, err := c.Control(context.Background(), "mqtt_intake", "restart", 0); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
}

// ─── Tool Tests ──────────────────────────────────────────────────────────────

func TestSubmitTaskTool_Definition(t *testing.T) {
	c, _ := newTestClient(t)
	def := NewSubmitTaskTool(c).Definition()

	if def.Name != "submit_task" {
		t.Errorf("tool name = %q, want %q", def.Name, "submit_task")
	}
	for _, p := range []string{"description", "priority", "agent", "wait_seconds"} {
		if _, ok := def.InputSchema.Properties[p]; !ok {
			t.Errorf("missing %q parameter", p)
		}
	}
	if len(def.InputSchema.Required) != 1 || def.InputSchema.Required[0] != "description" {
		t.Errorf("required = %v, want [description]", def.InputSchema.Required)
	}
}

func TestSubmitTaskTool_Handle(t *testing.T) {
	c, b := newTestClient(t)
	fakeIntake(t, b, "omnispindle", false)
	tool := NewSubmitTaskTool(c)

	tests := []struct {
		name    string
		args    map[string]interface{}
		isError bool
		want    string
	}{
		{"missing description", map[string]interface{}{}, true, "'description' is required"},
		{"bad priority", map[string]interface{}{"description": "x", "priority": "urgent"}, true, "priority"},
		{"fire and forget", map[string]interface{}{"description": "add mcp tool"}, false, "Task submitted"},
		{"wait", map[string]interface{}{"description": "add mcp tool", "wait_seconds": float64(2)}, false, "Project: omnispindle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Handle(context.Background(), makeReq(tt.args))
			if err != nil {
				t.Fatalf("Handle returned error: %v", err)
			}
			if result.IsError != tt.isError {
				t.Errorf("IsError = %v, want %v (%s)", result.IsError, tt.isError, resultText(result))
			}
			if !strings.Contains(resultText(result), tt.want) {
				t.Errorf("result %q does not contain %q", resultText(result), tt.want)
			}
		})
	}
}

func TestListTasksTool_Handle(t *testing.T) {
	s := newTestStore(t)
	tool := NewListTasksTool(s)

	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if resultText(result) != "No tasks found." {
		t.Errorf("unexpected empty result %q", resultText(result))
	}

	for _, d := range []struct{ desc, project string }{
		{"fix login bug", "auth-service"},
		{"write blog post", "spindlewrit"},
	} {
		_, err := s.AddTask(context.Background(), models.EnrichedTaskRequest{
			Description: d.desc, Priority: models.PriorityMedium, ProjectName: d.project,
			TargetAgent: "user", Source: "mqtt_intake", ReceivedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("AddTask failed: %v", err)
		}
	}

	result, _ = tool.Handle(context.Background(), makeReq(map[string]interface{}{"project": "spindlewrit"}))
	text := resultText(result)
	if !strings.Contains(text, "1 task(s)") || !strings.Contains(text, "write blog post") {
		t.Errorf("unexpected filtered result %q", text)
	}
	if strings.Contains(text, "fix login bug") {
		t.Error("project filter not applied")
	}
}

func TestServiceControlTool_Handle(t *testing.T) {
	c, b := newTestClient(t)
	b.Subscribe(context.Background(), "mqtt_intake/control", func(m bus.Message) {
		payload, _ := json.Marshal(models.StatusReport{Status: "running", Service: "mqtt_intake"})
		b.Publish(context.Background(), topics.Status("mqtt_intake"), payload)
	})
	tool := NewServiceControlTool(c)

	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"service": "mqtt_intake", "command": "status", "wait_seconds": float64(2),
	}))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if result.IsError || !strings.Contains(resultText(result), `"status": "running"`) {
		t.Errorf("unexpected result %q", resultText(result))
	}

	result, _ = tool.Handle(context.Background(), makeReq(map[string]interface{}{"service": "mqtt_intake"}))
	if !result.IsError {
		t.Error("Expected error for missing command")
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	c, _ := newTestClient(t)
	if s := New("test", c, newTestStore(t)); s == nil {
		t.Fatal("New returned nil server")
	}
}
