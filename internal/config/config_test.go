// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, durations, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalYAML = `
database:
  path: "./test.db"
llm:
  api_key: "sk-test"
`

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: "127.0.0.1:9090"
  cors_origins: ["http://localhost:3000"]
  shutdown_timeout: "3s"
  stream_timeout: "2m"

database:
  driver: "sqlite3"
  path: "./test.db"

llm:
  api_key: "sk-test"
  base_url: "http://localhost:4010/v1"
  model: "gpt-4o"
  max_rounds: 4
  tool_budget: 3
  temperature: 0.2

search:
  dsn: "postgres://catalog@localhost/catalog?sslmode=disable"
  dimension: 8
  min_score: 0.3

progress:
  ttl: "30m"
  sweep_interval: "1m"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  issuer: "sourcing"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true

tracing:
  endpoint: "localhost:4317"
  sampling_rate: 0.5
  insecure: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Server.StreamTimeout)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 4, cfg.LLM.MaxRounds)
	assert.Equal(t, 3, cfg.LLM.ToolBudget)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 8, cfg.Search.Dimension)
	assert.Equal(t, 30*time.Minute, cfg.Progress.TTL)
	assert.Equal(t, time.Minute, cfg.Progress.SweepInterval)
	assert.Equal(t, "sourcing", cfg.Auth.Issuer)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "localhost:4317", cfg.Tracing.Endpoint)
	assert.InDelta(t, 0.5, cfg.Tracing.SamplingRate, 1e-9)
	assert.True(t, cfg.Tracing.Insecure)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "gateway.yaml", minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.StreamTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 6, cfg.LLM.ToolBudget)
	assert.Equal(t, 1536, cfg.Search.Dimension)
	assert.Equal(t, time.Hour, cfg.Progress.TTL)
	assert.Equal(t, 10*time.Minute, cfg.Progress.SweepInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "sourcing-gateway", cfg.Tracing.ServiceName)
	assert.Empty(t, cfg.Search.DSN)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_TOML(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")
	path := writeConfig(t, "gateway.toml", `
[server]
http_addr = ":7000"
stream_timeout = "90s"

[database]
path = "/var/lib/sourcing/sessions.db"

[llm]
api_key = "${TEST_OPENAI_KEY}"
tool_budget = 2

[progress]
ttl = "15m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.HTTPAddr)
	assert.Equal(t, 90*time.Second, cfg.Server.StreamTimeout)
	assert.Equal(t, "/var/lib/sourcing/sessions.db", cfg.Database.Path)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
	assert.Equal(t, 2, cfg.LLM.ToolBudget)
	assert.Equal(t, 15*time.Minute, cfg.Progress.TTL)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PATH", "/data/sessions.db")
	t.Setenv("TEST_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := Load(writeConfig(t, "gateway.yaml", `
database:
  path: "${TEST_DB_PATH}"
llm:
  api_key: "sk-test"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
search:
  dsn: "${TEST_UNSET_DSN}"
`))
	require.NoError(t, err)
	assert.Equal(t, "/data/sessions.db", cfg.Database.Path)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Auth.JWTSecret)
	assert.Empty(t, cfg.Search.DSN, "unset variables expand to empty")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"invalid yaml", "gateway.yaml", "server: [unclosed", "parsing config file"},
		{"invalid toml", "gateway.toml", "[server\nhttp_addr = 1", "parsing config file"},
		{"bad duration", "gateway.yaml", minimalYAML + "progress:\n  ttl: \"soon\"\n", "progress.ttl"},
		{"negative duration", "gateway.yaml", minimalYAML + "server:\n  shutdown_timeout: \"-1s\"\n", "must be positive"},
		{"missing db path", "gateway.yaml", "llm:\n  api_key: k\n", "database.path is required"},
		{"missing api key", "gateway.yaml", "database:\n  path: x.db\n", "llm.api_key is required"},
		{"bad driver", "gateway.yaml", "database:\n  path: x.db\n  driver: postgres\nllm:\n  api_key: k\n", "database.driver"},
		{"short secret", "gateway.yaml", minimalYAML + "auth:\n  jwt_secret: short\n", "auth.jwt_secret"},
		{"bad log format", "gateway.yaml", minimalYAML + "logging:\n  format: xml\n", "logging.format"},
		{"bad log level", "gateway.yaml", minimalYAML + "logging:\n  level: loud\n", "logging.level"},
		{"bad sampling", "gateway.yaml", minimalYAML + "tracing:\n  sampling_rate: 2\n", "tracing.sampling_rate"},
		{"bad min score", "gateway.yaml", minimalYAML + "search:\n  min_score: 1.5\n", "search.min_score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_A", "alpha")
	assert.Equal(t, "x=alpha y= z=$PLAIN", expandEnvVars("x=${TEST_A} y=${TEST_NOT_SET} z=$PLAIN"))
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvPath, "/etc/sourcing.yaml")
	assert.Equal(t, "/etc/sourcing.yaml", DefaultPath())

	t.Setenv(EnvPath, "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "sourcing", "gateway.yaml"), DefaultPath())
}
