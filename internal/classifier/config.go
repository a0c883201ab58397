package classifier

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the classification rule set.
type Config struct {
	// DefaultProject is used whenever no rule matches or the match is not
	// a registered project.
	DefaultProject string `yaml:"default_project"`
	// MinConfidence below which the default project is used instead.
	MinConfidence float64 `yaml:"min_confidence"`
	// Projects lists the valid classification targets.
	Projects []Project `yaml:"projects"`
	// Rules map keywords to projects.
	Rules []Rule `yaml:"rules"`
}

// Rule defines a keyword-based classification rule.
type Rule struct {
	// Project the rule votes for.
	Project string `yaml:"project"`
	// Keywords trigger this rule when found in the task description.
	Keywords []string `yaml:"keywords"`
	// Pattern is an optional regex pattern for matching.
	Pattern string `yaml:"pattern,omitempty"`
}

// DefaultConfig returns the built-in project list and rules.
func DefaultConfig() *Config {
	return &Config{
		DefaultProject: "madness_interactive",
		MinConfidence:  0.5,
		Projects: []Project{
			{Name: "madness_interactive", Description: "Parent project of chaos", Priority: 10, Enabled: true},
			{Name: "regressiontestkit", Description: "Parent repo for work projects; Balena device testing in python", Priority: 80, Enabled: true},
			{Name: "omnispindle", Description: "MCP server for managing AI todo list in python", Priority: 90, Enabled: true},
			{Name: "todomill_projectorium", Description: "Todo list management dashboard on Node-RED", Priority: 70, Enabled: true},
			{Name: "swarmonomicon", Description: "Todo worker and generation project in rust", Priority: 90, Enabled: true},
			{Name: "hammerspoon", Description: "MacOS automation and workspace management", Priority: 60, Enabled: true},
			{Name: "lab_management", Description: "Lab management general project", Priority: 40, Enabled: true},
			{Name: "cogwyrm", Description: "Mobile app for Tasker interfacing with the madness network", Priority: 60, Enabled: true},
			{Name: "docker_implementation", Description: "Tasks to do with docker and deployment", Priority: 50, Enabled: true},
			{Name: "documentation", Description: "Documentation for all projects", Priority: 30, Enabled: true},
			{Name: "eventghost", Description: "Event handling and monitoring automation, being rewritten in Rust", Priority: 55, Enabled: true},
			{Name: "hammerghost", Description: "MacOS automation menu in hammerspoon based on eventghost", Priority: 65, Enabled: true},
			{Name: "quality_assurance", Description: "Quality assurance tasks", Priority: 35, Enabled: true},
			{Name: "spindlewrit", Description: "Writing and documentation project", Priority: 45, Enabled: true},
			{Name: "node_red_contrib_file_template", Description: "Node-RED contrib replacing the HTML template node for file management", Priority: 75, Enabled: true},
			{Name: "inventorium", Description: "Madnessinteractive.cc website and todo dashboard in React", Priority: 70, Enabled: true},
		},
		Rules: []Rule{
			{Project: "omnispindle", Keywords: []string{"omnispindle", "mcp", "mcp server", "todo server"}},
			{Project: "swarmonomicon", Keywords: []string{"swarmonomicon", "swarm", "todo worker", "rust worker", "mqtt"}},
			{Project: "regressiontestkit", Keywords: []string{"regressiontestkit", "rtk", "balena", "regression", "gateway", "phoenix"}},
			{Project: "todomill_projectorium", Keywords: []string{"todomill", "node-red dashboard", "projectorium"}},
			{Project: "node_red_contrib_file_template", Keywords: []string{"node-red", "contrib", "template node"}},
			{Project: "inventorium", Keywords: []string{"inventorium", "website", "react", "madnessinteractive.cc"}},
			{Project: "hammerspoon", Keywords: []string{"hammerspoon", "macos", "workspace", "lua"}},
			{Project: "hammerghost", Keywords: []string{"hammerghost", "menu bar", "menubar"}},
			{Project: "eventghost", Keywords: []string{"eventghost", "event handling", "monitoring"}},
			{Project: "cogwyrm", Keywords: []string{"cogwyrm", "tasker", "android", "mobile"}},
			{Project: "docker_implementation", Keywords: []string{"docker", "container", "compose", "deploy", "deployment"}},
			{Project: "documentation", Keywords: []string{"documentation", "docs", "readme"}},
			{Project: "quality_assurance", Keywords: []string{"qa", "quality", "test plan"}},
			{Project: "spindlewrit", Keywords: []string{"spindlewrit", "writing", "blog", "essay"}},
			{Project: "lab_management", Keywords: []string{"lab", "inventory", "equipment"}},
		},
	}
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadConfigFromHome loads configuration from ~/.taskrelay/classifier.yaml.
func LoadConfigFromHome() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	path := filepath.Join(home, ".taskrelay", "classifier.yaml")
	return LoadConfig(path)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Projects) == 0 {
		return ErrNoProjects
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1")
	}

	known := make(map[string]bool, len(c.Projects))
	for _, p := range c.Projects {
		if p.Name == "" {
			return fmt.Errorf("project name cannot be empty")
		}
		known[p.Name] = true
	}
	if !known[c.DefaultProject] {
		return fmt.Errorf("default_project %q is not a configured project", c.DefaultProject)
	}
	for i, r := range c.Rules {
		if !known[r.Project] {
			return fmt.Errorf("rule %d references unknown project %q", i, r.Project)
		}
		if len(r.Keywords) == 0 && r.Pattern == "" {
			return fmt.Errorf("rule %d needs keywords or a pattern", i)
		}
	}
	return nil
}

// Registry builds a project registry from the configured projects.
func (c *Config) Registry() (*Registry, error) {
	reg := NewRegistry()
	if err := reg.RegisterAll(c.Projects); err != nil {
		return nil, err
	}
	return reg, nil
}
