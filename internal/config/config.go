package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FoundryConfig represents the top-level foundry.yml configuration.
type FoundryConfig struct {
	Version  string        `yaml:"version"`
	Instance string        `yaml:"instance,omitempty"` // Namespace for all Redis keys (default: "default")
	RedisURL string        `yaml:"redis_url,omitempty"`
	Oracle   *OracleConfig `yaml:"oracle,omitempty"`
	Policy   *PolicyConfig `yaml:"policy,omitempty"`
	Server   *ServerConfig `yaml:"server,omitempty"`
	Audit    *AuditConfig  `yaml:"audit,omitempty"`
}

// OracleConfig selects and tunes the language model backing the agents.
type OracleConfig struct {
	Provider    string  `yaml:"provider"` // "anthropic" or "stub"
	Model       string  `yaml:"model,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env,omitempty"` // Env var holding the API key (default: ANTHROPIC_API_KEY)
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

// PolicyConfig holds the supervisor's routing constants.
type PolicyConfig struct {
	SafetyThreshold  *float64 `yaml:"safety_threshold,omitempty"`
	EmpathyThreshold *float64 `yaml:"empathy_threshold,omitempty"`
	MaxIterations    *int     `yaml:"max_iterations,omitempty"` // Refinement cycle ceiling per run (default: 3)
}

// ServerConfig configures the HTTP API surface.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// AuditConfig enables the optional Postgres audit trail.
type AuditConfig struct {
	PostgresURL string `yaml:"postgres_url,omitempty"`
}

// Default returns a configuration suitable for local development: local
// Redis, stub oracle, stock policy.
func Default() *FoundryConfig {
	cfg := &FoundryConfig{Version: "1.0"}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// Validate performs strict validation on the configuration and fills in
// defaults for omitted sections.
func (c *FoundryConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = "default"
	}
	if c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379"
	}

	if c.Oracle == nil {
		c.Oracle = &OracleConfig{}
	}
	if err := c.Oracle.validate(); err != nil {
		return err
	}

	if c.Policy == nil {
		c.Policy = &PolicyConfig{}
	}
	if err := c.Policy.validate(); err != nil {
		return err
	}

	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	return nil
}

func (o *OracleConfig) validate() error {
	if o.Provider == "" {
		o.Provider = "stub"
	}
	if o.Provider != "anthropic" && o.Provider != "stub" {
		return fmt.Errorf("invalid oracle provider: %s (must be 'anthropic' or 'stub')", o.Provider)
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if o.MaxTokens < 0 {
		return fmt.Errorf("oracle.max_tokens must be >= 0, got %d", o.MaxTokens)
	}
	if o.Temperature < 0 || o.Temperature > 1 {
		return fmt.Errorf("oracle.temperature must be between 0.0 and 1.0, got %g", o.Temperature)
	}
	return nil
}

func (p *PolicyConfig) validate() error {
	if p.SafetyThreshold == nil {
		v := 0.8
		p.SafetyThreshold = &v
	}
	if p.EmpathyThreshold == nil {
		v := 0.8
		p.EmpathyThreshold = &v
	}
	if p.MaxIterations == nil {
		v := 3
		p.MaxIterations = &v
	}

	if *p.SafetyThreshold < 0 || *p.SafetyThreshold > 1 {
		return fmt.Errorf("policy.safety_threshold must be between 0.0 and 1.0, got %g", *p.SafetyThreshold)
	}
	if *p.EmpathyThreshold < 0 || *p.EmpathyThreshold > 1 {
		return fmt.Errorf("policy.empathy_threshold must be between 0.0 and 1.0, got %g", *p.EmpathyThreshold)
	}
	if *p.MaxIterations < 1 {
		return fmt.Errorf("policy.max_iterations must be >= 1, got %d", *p.MaxIterations)
	}
	return nil
}

// APIKey resolves the oracle API key from the configured environment
// variable. Empty means no credentials; callers fall back to the stub.
func (o *OracleConfig) APIKey() string {
	return os.Getenv(o.APIKeyEnv)
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *FoundryConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Load reads and validates foundry.yml from the specified path.
func Load(path string) (*FoundryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config FoundryConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
