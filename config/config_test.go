package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffreydebolt/Flowcoach2-sub000/workflow"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "flowcoach.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "*", cfg.Registry.Prefix)
	assert.Equal(t, 100, cfg.Engine.MaxStepExecutions)
	assert.Equal(t, workflow.Duration(24*time.Hour), cfg.Session.TTL)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
session:
  ttl: 2h
  database: /tmp/flowcoach.db
engine:
  max_step_executions: 25
registry:
  prefix: "!"
gtd:
  default_project: Work
  review_interval: 72h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, workflow.Duration(2*time.Hour), cfg.Session.TTL)
	assert.Equal(t, "/tmp/flowcoach.db", cfg.Session.Database)
	assert.Equal(t, 25, cfg.Engine.MaxStepExecutions)
	assert.Equal(t, "!", cfg.Registry.Prefix)
	assert.Equal(t, "Work", cfg.GTD.DefaultProject)
	assert.Equal(t, workflow.Duration(72*time.Hour), cfg.GTD.ReviewInterval)
	// untouched values keep their defaults
	assert.Equal(t, workflow.Duration(time.Hour), cfg.Session.CleanupInterval)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "logging: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvDatabase, "file:test.db")
	t.Setenv(EnvDefinitions, "mem://localhost/defs")
	t.Setenv(EnvMaxStepExecs, "7")
	t.Setenv(EnvAnthropicAPIKey, "sk-test")

	cfg, err := Load(writeConfig(t, "llm:\n  provider: anthropic\n"))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "file:test.db", cfg.Session.Database)
	assert.Equal(t, "mem://localhost/defs", cfg.Definitions)
	assert.Equal(t, 7, cfg.Engine.MaxStepExecutions)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestApplyEnvKeepsExplicitAPIKey(t *testing.T) {
	cfg := Default()
	cfg.LLM = LLMConfig{Provider: ProviderOpenAI, APIKey: "from-file"}

	env := map[string]string{EnvOpenAIAPIKey: "from-env"}
	require.NoError(t, cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	assert.Equal(t, "from-file", cfg.LLM.APIKey)
}

func TestApplyEnvRejectsBadNumber(t *testing.T) {
	cfg := Default()

	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == EnvMaxStepExecs {
			return "many", true
		}

		return "", false
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvMaxStepExecs)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"zero ttl", func(c *Config) { c.Session.TTL = 0 }, "session.ttl"},
		{"zero step limit", func(c *Config) { c.Engine.MaxStepExecutions = 0 }, "max_step_executions"},
		{"blank prefix", func(c *Config) { c.Registry.Prefix = " " }, "registry.prefix"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "mistral" }, "llm.provider"},
		{"missing api key", func(c *Config) { c.LLM.Provider = ProviderAnthropic }, "llm.api_key"},
		{"zero review interval", func(c *Config) { c.GTD.ReviewInterval = 0 }, "gtd.review_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateReportsEveryError(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "xml"
	cfg.Engine.MaxStepExecutions = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
	assert.Contains(t, err.Error(), "max_step_executions")
}

func TestNewLogger(t *testing.T) {
	logger, err := LoggingConfig{Level: "debug", Format: "text"}.NewLogger(os.Stderr)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = LoggingConfig{Level: "verbose"}.NewLogger(os.Stderr)
	require.Error(t, err)
}
