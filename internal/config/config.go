// Package config loads process configuration for the taskrelay services
// from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML accepts "30s" style strings or plain seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// Config is the full process configuration.
type Config struct {
	Broker     BrokerConfig     `yaml:"broker"`
	Intake     IntakeConfig     `yaml:"intake"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Shutdown   ShutdownConfig   `yaml:"shutdown"`
	Subscribe  SubscribeConfig  `yaml:"subscribe"`
	Store      StoreConfig      `yaml:"store"`
}

// BrokerConfig holds MQTT connection parameters.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// ClientID, when set, replaces the client id of whichever service runs.
	ClientID       string   `yaml:"client_id"`
	KeepAlive      Duration `yaml:"keep_alive"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	CleanSession   bool     `yaml:"clean_session"`
	QoS            byte     `yaml:"qos"`
}

// IntakeConfig configures the intake service.
type IntakeConfig struct {
	ClientID         string   `yaml:"client_id"`
	Service          string   `yaml:"service"`
	TopicPrefix      string   `yaml:"topic_prefix"`
	TaskSlots        int      `yaml:"task_slots"`
	EnhancementSlots int      `yaml:"enhancement_slots"`
	ClassifyTimeout  Duration `yaml:"classify_timeout"`
	DefaultProject   string   `yaml:"default_project"`
	DefaultAgent     string   `yaml:"default_agent"`
	// FallbackTopic keeps listening on the shared, unkeyed response topic.
	FallbackTopic bool `yaml:"fallback_topic"`
	InboxSize     int  `yaml:"inbox_size"`
}

// ClassifierConfig configures the classification worker.
type ClassifierConfig struct {
	ClientID       string   `yaml:"client_id"`
	Service        string   `yaml:"service"`
	Slots          int      `yaml:"slots"`
	ComputeTimeout Duration `yaml:"compute_timeout"`
	RulesPath      string   `yaml:"rules_path"`
}

// MetricsConfig configures the periodic reporter.
type MetricsConfig struct {
	Interval Duration `yaml:"interval"`
}

// ShutdownConfig configures the stop sequence.
type ShutdownConfig struct {
	Grace Duration `yaml:"grace"`
}

// SubscribeConfig configures startup subscribe retries.
type SubscribeConfig struct {
	Attempts int      `yaml:"attempts"`
	Backoff  Duration `yaml:"backoff"`
}

// StoreConfig configures the task database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:           "localhost",
			Port:           1883,
			KeepAlive:      Duration(30 * time.Second),
			ConnectTimeout: Duration(10 * time.Second),
			CleanSession:   true,
			QoS:            2,
		},
		Intake: IntakeConfig{
			ClientID:         "mqtt_intake",
			Service:          "mqtt_intake",
			TopicPrefix:      "mcp",
			TaskSlots:        1,
			EnhancementSlots: 1,
			ClassifyTimeout:  Duration(30 * time.Second),
			DefaultProject:   "madness_interactive",
			DefaultAgent:     "user",
			FallbackTopic:    true,
			InboxSize:        64,
		},
		Classifier: ClassifierConfig{
			ClientID:       "project_worker",
			Service:        "project_worker",
			Slots:          5,
			ComputeTimeout: Duration(20 * time.Second),
			RulesPath:      filepath.Join(homeDir(), ".taskrelay", "classifier.yaml"),
		},
		Metrics:   MetricsConfig{Interval: Duration(300 * time.Second)},
		Shutdown:  ShutdownConfig{Grace: Duration(time.Second)},
		Subscribe: SubscribeConfig{Attempts: 3, Backoff: Duration(time.Second)},
		Store:     StoreConfig{Path: filepath.Join(homeDir(), ".taskrelay", "tasks.db")},
	}
}

// LoadConfig loads configuration from a YAML file and applies environment
// overrides. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromHome loads configuration from ~/.taskrelay/config.yaml.
func LoadConfigFromHome() (*Config, error) {
	return LoadConfig(filepath.Join(homeDir(), ".taskrelay", "config.yaml"))
}

// ApplyEnv overrides broker settings from the deployment environment.
// AWSIP/AWSPORT take precedence over MQTT_HOST/MQTT_PORT.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, key := range []string{"MQTT_HOST", "AWSIP"} {
		if v, ok := lookup(key); ok && v != "" {
			c.Broker.Host = v
		}
	}
	for _, key := range []string{"MQTT_PORT", "AWSPORT"} {
		if v, ok := lookup(key); ok && v != "" {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			c.Broker.Port = port
		}
	}
	if v, ok := lookup("MQTT_USERNAME"); ok {
		c.Broker.Username = v
	}
	if v, ok := lookup("MQTT_PASSWORD"); ok {
		c.Broker.Password = v
	}
	if v, ok := lookup("MQTT_CLIENT_ID"); ok && v != "" {
		c.Broker.ClientID = v
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return fmt.Errorf("broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port %d out of range", c.Broker.Port)
	}
	if c.Broker.QoS > 2 {
		return fmt.Errorf("broker.qos must be 0, 1 or 2")
	}
	if c.Intake.ClientID == c.Classifier.ClientID {
		return fmt.Errorf("intake and classifier need distinct client ids")
	}
	if strings.ContainsAny(c.Intake.TopicPrefix, "+#/") || c.Intake.TopicPrefix == "" {
		return fmt.Errorf("intake.topic_prefix must be a single topic level")
	}
	if c.Intake.TaskSlots < 1 || c.Intake.EnhancementSlots < 1 || c.Classifier.Slots < 1 {
		return fmt.Errorf("slot counts must be at least 1")
	}
	if c.Intake.ClassifyTimeout.D() <= 0 {
		return fmt.Errorf("intake.classify_timeout must be positive")
	}
	if c.Intake.DefaultProject == "" {
		return fmt.Errorf("intake.default_project is required")
	}
	if c.Subscribe.Attempts < 1 {
		return fmt.Errorf("subscribe.attempts must be at least 1")
	}
	if c.Metrics.Interval.D() <= 0 {
		return fmt.Errorf("metrics.interval must be positive")
	}
	return nil
}

// IntakeClientID returns the broker client id for the intake service.
func (c *Config) IntakeClientID() string {
	if c.Broker.ClientID != "" {
		return c.Broker.ClientID
	}
	return c.Intake.ClientID
}

// ClassifierClientID returns the broker client id for the classification worker.
func (c *Config) ClassifierClientID() string {
	if c.Broker.ClientID != "" {
		return c.Broker.ClientID
	}
	return c.Classifier.ClientID
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
