package topics

import "testing"

func TestTargetAgent(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"mcp/claude", "claude"},
		{"mcp/user", "user"},
		{"mcp", "user"},
		{"mcp/", "user"},
		{"mcp/a/b", "a"},
	}

	for _, tt := range tests {
		if got := TargetAgent(tt.topic, "user"); got != tt.want {
			t.Errorf("TargetAgent(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{ClassifyResponseFor("abc"), "response/project/classify/abc"},
		{IntakeFilter("mcp"), "mcp/+"},
		{IntakeFor("mcp", "claude"), "mcp/claude"},
		{TodoResponse("user"), "response/user/todo"},
		{ErrorResponse("user"), "response/user/error"},
		{Control("mqtt_intake"), "mqtt_intake/control"},
		{Metrics("project_worker"), "metrics/response/project_worker"},
		{Status("mqtt_intake"), "response/mqtt_intake/status"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
