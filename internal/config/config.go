// ABOUTME: Configuration loading and parsing for sourcing-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable that overrides the config location.
const EnvPath = "SOURCING_CONFIG"

// Config represents the complete sourcing-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	LLM      LLMConfig      `yaml:"llm" toml:"llm"`
	Search   SearchConfig   `yaml:"search" toml:"search"`
	Progress ProgressConfig `yaml:"progress" toml:"progress"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing" toml:"tracing"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr    string   `yaml:"http_addr" toml:"http_addr"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`

	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`
	StreamTimeout   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	StreamTimeoutRaw   string `yaml:"stream_timeout" toml:"stream_timeout"`
}

// DatabaseConfig selects the session store.
type DatabaseConfig struct {
	// Driver is "sqlite" (pure Go), "sqlite3" (cgo) or "bolt" (embedded key/value).
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// LLMConfig configures the OpenAI-compatible model endpoint
type LLMConfig struct {
	APIKey         string  `yaml:"api_key" toml:"api_key"`
	BaseURL        string  `yaml:"base_url" toml:"base_url"`
	Model          string  `yaml:"model" toml:"model"`
	EmbeddingModel string  `yaml:"embedding_model" toml:"embedding_model"`
	MaxRounds      int     `yaml:"max_rounds" toml:"max_rounds"`
	MaxTokens      int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature    float32 `yaml:"temperature" toml:"temperature"`
	MaxRetries     int     `yaml:"max_retries" toml:"max_retries"`
	ToolBudget     int     `yaml:"tool_budget" toml:"tool_budget"`
}

// SearchConfig configures the catalog database. An empty DSN runs the
// assistant without catalog tools.
type SearchConfig struct {
	DSN       string  `yaml:"dsn" toml:"dsn"`
	Dimension int     `yaml:"dimension" toml:"dimension"`
	MinScore  float64 `yaml:"min_score" toml:"min_score"`
}

// ProgressConfig holds progress channel lifetimes
type ProgressConfig struct {
	TTL           time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	TTLRaw           string `yaml:"ttl" toml:"ttl"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// AuthConfig holds authentication configuration. With no secret the
// X-User-ID header is trusted.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	Issuer    string `yaml:"issuer" toml:"issuer"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// TracingConfig configures OTLP trace export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint" toml:"endpoint"`
	ServiceName  string  `yaml:"service_name" toml:"service_name"`
	Environment  string  `yaml:"environment" toml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate" toml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure" toml:"insecure"`
}

// DefaultPath returns $SOURCING_CONFIG, else $XDG_CONFIG_HOME/sourcing/gateway.yaml
// (falling back to ~/.config).
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "sourcing", "gateway.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sourcing", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.StreamTimeout == 0 {
		c.Server.StreamTimeout = 5 * time.Minute
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.LLM.ToolBudget == 0 {
		c.LLM.ToolBudget = 6
	}
	if c.Search.Dimension == 0 {
		c.Search.Dimension = 1536
	}
	if c.Progress.TTL == 0 {
		c.Progress.TTL = time.Hour
	}
	if c.Progress.SweepInterval == 0 {
		c.Progress.SweepInterval = 10 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "sourcing-gateway"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3", "bolt":
	default:
		return fmt.Errorf("database.driver must be sqlite, sqlite3 or bolt, got %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if c.LLM.ToolBudget < 0 {
		return fmt.Errorf("llm.tool_budget must not be negative")
	}

	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return fmt.Errorf("search.min_score must be between 0 and 1")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be between 0 and 1")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"server.stream_timeout", cfg.Server.StreamTimeoutRaw, &cfg.Server.StreamTimeout},
		{"progress.ttl", cfg.Progress.TTLRaw, &cfg.Progress.TTL},
		{"progress.sweep_interval", cfg.Progress.SweepIntervalRaw, &cfg.Progress.SweepInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
