package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models .timeledger/config.yaml.
type Config struct {
	Project struct {
		Default string `yaml:"default"`
	} `yaml:"project"`
	Tasks struct {
		MergeOnFinish bool `yaml:"merge_on_finish"`
	} `yaml:"tasks"`
	Reports struct {
		Dir string `yaml:"dir"`
	} `yaml:"reports"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret      string `yaml:"jwt_secret"`
		AllowAnonymous bool   `yaml:"allow_anonymous"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one outbound notification target.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Project.Default) == "" {
		return fmt.Errorf("config.project.default is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".timeledger", "config.yaml")
}

// GenerateDefault returns the default config YAML written by init.
func GenerateDefault(projectName string) string {
	return fmt.Sprintf(defaultTemplate, projectName)
}

// LoadOptional returns defaults when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default("timeledger"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectName string) *Config {
	var cfg Config
	cfg.Project.Default = projectName
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectName))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  # Project used when --project is not given.
  default: %s

tasks:
  # When true, "tl finish" folds a task into the first existing task of
  # the same name instead of appending a new row.
  merge_on_finish: false

reports:
  # Directory for "tl report --out" and "tl save" when --dir is not given.
  dir: .

server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  # HS256 secret for bearer tokens. Leave empty and set allow_anonymous
  # for an open local API.
  jwt_secret: ""
  allow_anonymous: true

# Outbound event notifications. Each hook receives the event JSON.
# webhooks:
#   - url: https://example.test/hooks/timeledger
#     secret: hunter2
#     events: [task_finished, project_absorbed]
#     timeout_seconds: 5
`
