package classifier

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.DefaultProject != "madness_interactive" {
		t.Errorf("Expected defaults, got %s", cfg.DefaultProject)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classifier.yaml")
	data := `
default_project: inbox
min_confidence: 0.4
projects:
  - name: inbox
    enabled: true
  - name: infra
    description: Infrastructure
    priority: 50
    enabled: true
rules:
  - project: infra
    keywords: [terraform, k8s]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Projects) != 2 || len(cfg.Rules) != 1 {
		t.Errorf("Expected file contents to replace defaults, got %d projects / %d rules", len(cfg.Projects), len(cfg.Rules))
	}
	if cfg.MinConfidence != 0.4 {
		t.Errorf("min_confidence = %v, want 0.4", cfg.MinConfidence)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DefaultProject: "a",
			Projects:       []Project{{Name: "a", Enabled: true}},
			Rules:          []Rule{{Project: "a", Keywords: []string{"x"}}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no projects", func(c *Config) { c.Projects = nil }},
		{"unknown default", func(c *Config) { c.DefaultProject = "zzz" }},
		{"rule for unknown project", func(c *Config) { c.Rules[0].Project = "zzz" }},
		{"empty rule", func(c *Config) { c.Rules[0].Keywords = nil }},
		{"bad confidence", func(c *Config) { c.MinConfidence = 2 }},
		{"empty project name", func(c *Config) { c.Projects = append(c.Projects, Project{}) }},
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	c := base()
	c.Projects = nil
	if err := c.Validate(); !errors.Is(err, ErrNoProjects) {
		t.Errorf("Expected ErrNoProjects, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg, err := DefaultConfig().Registry()
	if err != nil {
		t.Fatalf("Registry failed: %v", err)
	}
	if reg.Count() != 16 {
		t.Errorf("Expected 16 projects, got %d", reg.Count())
	}
	if !reg.IsValid("omnispindle") {
		t.Error("omnispindle should be valid")
	}
	if reg.IsValid("auth-service") {
		t.Error("unregistered project should be invalid")
	}

	if err := reg.Disable("omnispindle"); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if reg.IsValid("omnispindle") {
		t.Error("disabled project should be invalid")
	}
	if len(reg.GetEnabled()) != 15 {
		t.Errorf("Expected 15 enabled projects, got %d", len(reg.GetEnabled()))
	}
	if err := reg.Enable("nope"); err == nil {
		t.Error("Expected error enabling unknown project")
	}
	if err := reg.Register(Project{}); err == nil {
		t.Error("Expected error registering unnamed project")
	}

	list := reg.List()
	for i := 1; i < len(list); i++ {
		if list[i-1].Priority < list[i].Priority {
			t.Fatalf("List not sorted by priority: %s(%d) before %s(%d)",
				list[i-1].Name, list[i-1].Priority, list[i].Name, list[i].Priority)
		}
	}
}
