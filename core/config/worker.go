package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML duration strings
// ("5s", "2m30s"). Bare numbers are rejected; yaml.v3 would otherwise read
// them as nanoseconds, which is never what a config author means.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q (use a unit, e.g. \"30s\"): %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// WorkerConfig is the remote worker's configuration, loaded from a YAML file.
// It carries everything the poller and executor need: where the control plane
// lives, how to authenticate, the signing public key, and the filesystem
// rules the executor enforces.
type WorkerConfig struct {
	Worker struct {
		ID string `yaml:"id"`
	} `yaml:"worker"`

	Server struct {
		URL               string   `yaml:"url"`
		Token             string   `yaml:"token"`
		PollInterval      Duration `yaml:"poll_interval"`
		HeartbeatInterval Duration `yaml:"heartbeat_interval"`
		Timeout           Duration `yaml:"timeout"`
	} `yaml:"server"`

	Security struct {
		PublicKeyPath     string   `yaml:"public_key_path"`
		ForbiddenPatterns []string `yaml:"forbidden_patterns"`
	} `yaml:"security"`

	Capabilities []Capability `yaml:"capabilities"`

	Execution struct {
		TaskFile         string   `yaml:"task_file"`
		CompletionMarker string   `yaml:"completion_marker"`
		MarkerPoll       Duration `yaml:"marker_poll"`
	} `yaml:"execution"`
}

type Capability struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
}

func LoadWorker(path string) (WorkerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("reading worker config: %w", err)
	}

	var cfg WorkerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return WorkerConfig{}, fmt.Errorf("parsing worker config: %w", err)
	}

	if cfg.Worker.ID == "" {
		return WorkerConfig{}, fmt.Errorf("worker.id is required")
	}
	if cfg.Server.URL == "" {
		return WorkerConfig{}, fmt.Errorf("server.url is required")
	}
	if cfg.Security.PublicKeyPath == "" {
		return WorkerConfig{}, fmt.Errorf("security.public_key_path is required")
	}

	if cfg.Server.PollInterval == 0 {
		cfg.Server.PollInterval = Duration(5 * time.Second)
	}
	if cfg.Server.HeartbeatInterval == 0 {
		cfg.Server.HeartbeatInterval = Duration(30 * time.Second)
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = Duration(35 * time.Second)
	}
	if cfg.Execution.TaskFile == "" {
		cfg.Execution.TaskFile = "TASK.md"
	}
	if cfg.Execution.CompletionMarker == "" {
		cfg.Execution.CompletionMarker = ".task_completed"
	}
	if cfg.Execution.MarkerPoll == 0 {
		cfg.Execution.MarkerPoll = Duration(time.Second)
	}

	return cfg, nil
}
