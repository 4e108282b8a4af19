package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models leadline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Pipeline struct {
		// AutoHandoff moves completed leads to accounts_pending inside the
		// same transaction, clearing the owner.
		AutoHandoff bool `yaml:"auto_handoff"`
		// DefaultClaimStatus is the status a claim moves an unowned
		// accounts_pending lead to when the request names none.
		DefaultClaimStatus string `yaml:"default_claim_status"`
	} `yaml:"pipeline"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	switch c.Pipeline.DefaultClaimStatus {
	case "ready_for_class", "pending_but_ready":
	default:
		return fmt.Errorf("config.pipeline.default_claim_status must be ready_for_class or pending_but_ready")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "leadline.yml")
}

// Load reads and validates config from the workspace, falling back to
// defaults if the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/v0"
	cfg.Pipeline.AutoHandoff = true
	cfg.Pipeline.DefaultClaimStatus = "ready_for_class"
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Fields absent
// from the document keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML for `ll config init`.
func GenerateDefault() string {
	return `server:
  addr: ":8080"
  base_path: /v0

auth:
  jwt_secret: ""
  allow_legacy_actor_header: false

pipeline:
  auto_handoff: true
  default_claim_status: ready_for_class

webhooks: []
`
}
