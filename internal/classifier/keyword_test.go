package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fentz26/taskrelay/internal/models"
)

func TestKeywordClassifier(t *testing.T) {
	k := NewKeywordClassifier(nil, nil)

	tests := []struct {
		name        string
		description string
		want        string
	}{
		{"mcp server", "Add a new tool to the MCP server", "omnispindle"},
		{"rust worker", "swarm todo worker crashes on mqtt reconnect", "swarmonomicon"},
		{"balena", "Flash the balena gateway before regression run", "regressiontestkit"},
		{"docker", "Write a docker compose file for deployment", "docker_implementation"},
		{"punctuation", "update the docs.", "documentation"},
		{"no match", "buy milk", "madness_interactive"},
		{"substring is not a word", "the macosx build", "madness_interactive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := k.Classify(context.Background(), models.ClassificationRequest{Description: tt.description, RequestID: "r1"})
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if resp.ProjectName != tt.want {
				t.Errorf("project = %s, want %s (%s)", resp.ProjectName, tt.want, resp.Reasoning)
			}
			if resp.RequestID != "r1" {
				t.Errorf("request id not echoed: %q", resp.RequestID)
			}
			if resp.Confidence <= 0 || resp.Confidence > 1 {
				t.Errorf("confidence out of range: %v", resp.Confidence)
			}
		})
	}
}

func TestKeywordClassifierConfidenceGrows(t *testing.T) {
	k := NewKeywordClassifier(nil, nil)
	one, _ := k.Classify(context.Background(), models.ClassificationRequest{Description: "fix the mcp thing"})
	two, _ := k.Classify(context.Background(), models.ClassificationRequest{Description: "omnispindle mcp server bug"})

	if two.Confidence <= one.Confidence {
		t.Errorf("expected more matches to raise confidence: %v vs %v", two.Confidence, one.Confidence)
	}
	if !strings.Contains(two.Reasoning, "omnispindle") {
		t.Errorf("reasoning should list matched keywords: %s", two.Reasoning)
	}
}

func TestKeywordClassifierSkipsDisabledProjects(t *testing.T) {
	cfg := DefaultConfig()
	reg, _ := cfg.Registry()
	reg.Disable("omnispindle")
	k := NewKeywordClassifier(cfg, reg)

	resp, _ := k.Classify(context.Background(), models.ClassificationRequest{Description: "omnispindle"})
	if resp.ProjectName != "madness_interactive" {
		t.Errorf("disabled project must not be chosen, got %s", resp.ProjectName)
	}
}

func TestKeywordClassifierPattern(t *testing.T) {
	cfg := &Config{
		DefaultProject: "a",
		Projects:       []Project{{Name: "a", Enabled: true}, {Name: "b", Enabled: true}},
		Rules:          []Rule{{Project: "b", Pattern: `ticket-\d+`}},
	}
	k := NewKeywordClassifier(cfg, nil)

	resp, _ := k.Classify(context.Background(), models.ClassificationRequest{Description: "close ticket-42"})
	if resp.ProjectName != "b" {
		t.Errorf("project = %s, want b", resp.ProjectName)
	}
}

func TestKeywordClassifierMinConfidence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConfidence = 0.9
	k := NewKeywordClassifier(cfg, nil)

	resp, _ := k.Classify(context.Background(), models.ClassificationRequest{Description: "fix the mcp thing"})
	if resp.ProjectName != cfg.DefaultProject {
		t.Errorf("weak match should fall back to default, got %s", resp.ProjectName)
	}
}

func TestKeywordClassifierEmpty(t *testing.T) {
	k := NewKeywordClassifier(nil, nil)
	_, err := k.Classify(context.Background(), models.ClassificationRequest{Description: "  "})
	if !errors.Is(err, ErrEmptyDescription) {
		t.Errorf("Expected ErrEmptyDescription, got %v", err)
	}
}

func TestContainsWord(t *testing.T) {
	tests := []struct {
		text, keyword string
		want          bool
	}{
		{"fix the mcp server", "mcp", true},
		{"fix the mcp server", "mcp server", true},
		{"(docker) image", "docker", true},
		{"dockerfile", "docker", false},
	}
	for _, tt := range tests {
		if got := containsWord(tt.text, tt.keyword); got != tt.want {
			t.Errorf("containsWord(%q, %q) = %v, want %v", tt.text, tt.keyword, got, tt.want)
		}
	}
}
