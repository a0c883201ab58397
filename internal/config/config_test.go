package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Intake.ClassifyTimeout.D() != 30*time.Second {
		t.Errorf("classify timeout = %s, want 30s", cfg.Intake.ClassifyTimeout.D())
	}
	if cfg.Intake.TaskSlots != 1 || cfg.Intake.EnhancementSlots != 1 || cfg.Classifier.Slots != 5 {
		t.Errorf("unexpected slot defaults %+v / %+v", cfg.Intake, cfg.Classifier)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Broker.Port != 1883 {
		t.Errorf("Expected default port, got %d", cfg.Broker.Port)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
broker:
  host: broker.local
  port: 8883
intake:
  task_slots: 4
  classify_timeout: 5s
  fallback_topic: false
metrics:
  interval: "60"
shutdown:
  grace: 2s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Broker.Host != "broker.local" || cfg.Broker.Port != 8883 {
		t.Errorf("broker = %s:%d", cfg.Broker.Host, cfg.Broker.Port)
	}
	if cfg.Intake.TaskSlots != 4 || cfg.Intake.ClassifyTimeout.D() != 5*time.Second || cfg.Intake.FallbackTopic {
		t.Errorf("unexpected intake config %+v", cfg.Intake)
	}
	if cfg.Metrics.Interval.D() != time.Minute {
		t.Errorf("metrics interval = %s, want 1m", cfg.Metrics.Interval.D())
	}
	if cfg.Shutdown.Grace.D() != 2*time.Second {
		t.Errorf("grace = %s, want 2s", cfg.Shutdown.Grace.D())
	}
	// untouched fields keep their defaults
	if cfg.Intake.DefaultProject != "madness_interactive" {
		t.Errorf("default project lost: %q", cfg.Intake.DefaultProject)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("intake:\n  classify_timeout: soon\n"), 0o600)

	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected parse error for bad duration")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MQTT_HOST":      "mqtt.local",
		"AWSIP":          "10.0.0.5",
		"AWSPORT":        "3003",
		"MQTT_USERNAME":  "bot",
		"MQTT_PASSWORD":  "secret",
		"MQTT_CLIENT_ID": "intake-2",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Broker.Host != "10.0.0.5" || cfg.Broker.Port != 3003 {
		t.Errorf("AWSIP/AWSPORT should win: %s:%d", cfg.Broker.Host, cfg.Broker.Port)
	}
	if cfg.Broker.Username != "bot" || cfg.Broker.Password != "secret" {
		t.Error("credentials not applied")
	}
	if cfg.IntakeClientID() != "intake-2" || cfg.ClassifierClientID() != "intake-2" {
		t.Error("client id override not applied")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("override must keep config valid: %v", err)
	}

	env = map[string]string{"AWSPORT": "nope"}
	if err := DefaultConfig().ApplyEnv(lookup); err == nil {
		t.Error("Expected error for non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty host", func(c *Config) { c.Broker.Host = "" }},
		{"bad port", func(c *Config) { c.Broker.Port = 0 }},
		{"bad qos", func(c *Config) { c.Broker.QoS = 3 }},
		{"same client ids", func(c *Config) { c.Classifier.ClientID = c.Intake.ClientID }},
		{"wildcard prefix", func(c *Config) { c.Intake.TopicPrefix = "mcp/+" }},
		{"zero slots", func(c *Config) { c.Intake.TaskSlots = 0 }},
		{"zero timeout", func(c *Config) { c.Intake.ClassifyTimeout = 0 }},
		{"no default project", func(c *Config) { c.Intake.DefaultProject = "" }},
		{"no attempts", func(c *Config) { c.Subscribe.Attempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
