package cluster

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig holds configuration for the agent process.
type AgentConfig struct {
	// CoordinatorURL is the base URL of the coordinator's HTTP API.
	CoordinatorURL string `yaml:"coordinator_url"`

	// WorkerID fixes the identity. Empty generates hostname-<salt>.
	WorkerID string `yaml:"worker_id"`

	// TaskRunner names the runner: "default" or "command".
	TaskRunner string `yaml:"task_runner"`

	// Command is the argv of the command runner.
	Command []string `yaml:"command"`

	// Capabilities are extra tags on top of the platform tags.
	Capabilities []string `yaml:"capabilities"`

	PollInterval time.Duration `yaml:"poll_interval"`

	// HeartbeatInterval overrides the coordinator's suggestion when set.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// TaskTimeout bounds one task. Zero means no limit.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// RequestTimeout bounds one call to the coordinator.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// WorkDir is the parent of per-task scratch directories.
	WorkDir string `yaml:"work_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultAgentConfig returns an AgentConfig with sensible defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		CoordinatorURL: "http://localhost:5000",
		TaskRunner:     "default",
		PollInterval:   2 * time.Second,
		RequestTimeout: 10 * time.Second,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Validate checks the configuration for values the agent cannot run with.
func (c AgentConfig) Validate() error {
	if c.CoordinatorURL == "" {
		return errors.New("cluster: coordinator_url is required")
	}
	if c.PollInterval <= 0 {
		return errors.New("cluster: poll_interval must be positive")
	}
	if c.TaskTimeout < 0 || c.HeartbeatInterval < 0 {
		return errors.New("cluster: task_timeout and heartbeat_interval must not be negative")
	}
	return nil
}

// LoadAgentConfig builds an AgentConfig from defaults, the optional YAML
// file at path, and environment overrides, in that order.
func LoadAgentConfig(path string) (AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("cluster: read agent config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("cluster: parse agent config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *AgentConfig) applyEnv() error {
	envString("COORDINATOR_URL", &c.CoordinatorURL)
	envString("WORKER_ID", &c.WorkerID)
	envString("TASK_RUNNER", &c.TaskRunner)
	envString("WORK_DIR", &c.WorkDir)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)

	if v := os.Getenv("TASK_COMMAND"); v != "" {
		c.Command = strings.Fields(v)
	}
	if v := os.Getenv("WORKER_CAPABILITIES"); v != "" {
		c.Capabilities = strings.Split(v, ",")
	}

	for _, e := range []struct {
		key string
		dst *time.Duration
	}{
		{"POLL_INTERVAL", &c.PollInterval},
		{"HEARTBEAT_INTERVAL", &c.HeartbeatInterval},
		{"TASK_TIMEOUT", &c.TaskTimeout},
		{"REQUEST_TIMEOUT", &c.RequestTimeout},
	} {
		if err := envDuration(e.key, e.dst); err != nil {
			return err
		}
	}
	return nil
}
