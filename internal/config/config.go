package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models vibeline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret       string `yaml:"jwt_secret"`
		SessionTTLHours int    `yaml:"session_ttl_hours"`
		AdminEmail      string `yaml:"admin_email"`
	} `yaml:"auth"`
	Store struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
		ReadRetries    int `yaml:"read_retries"`
	} `yaml:"store"`
	LLM struct {
		BaseURL        string `yaml:"base_url"`
		Model          string `yaml:"model"`
		TokenEnv       string `yaml:"token_env"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"llm"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// StoreTimeout returns the per-operation store deadline.
func (c *Config) StoreTimeout() time.Duration {
	if c.Store.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}

// SessionTTL returns the lifetime of freshly minted sessions.
func (c *Config) SessionTTL() time.Duration {
	if c.Auth.SessionTTLHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(c.Auth.SessionTTLHours) * time.Hour
}

// LLMTimeout bounds text-generation calls.
func (c *Config) LLMTimeout() time.Duration {
	if c.LLM.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run vl init to generate one", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Auth.SessionTTLHours < 0 {
		return fmt.Errorf("config.auth.session_ttl_hours must not be negative")
	}
	if c.Store.TimeoutSeconds < 0 {
		return fmt.Errorf("config.store.timeout_seconds must not be negative")
	}
	if c.Store.ReadRetries < 0 || c.Store.ReadRetries > 5 {
		return fmt.Errorf("config.store.read_retries must be between 0 and 5")
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
	return filepath.Join(workspace, "vibeline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
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

const defaultTemplate = `server:
  addr: 127.0.0.1:8787
  base_path: /api/v1

auth:
  jwt_secret: ""
  session_ttl_hours: 72
  admin_email: admin@vibeline.local

store:
  timeout_seconds: 5
  read_retries: 2

llm:
  base_url: ""
  model: gpt-4o-mini
  token_env: VIBELINE_LLM_TOKEN
  timeout_seconds: 30

webhooks: []
`
