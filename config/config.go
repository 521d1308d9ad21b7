package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeffreydebolt/Flowcoach2-sub000/logging"
	"github.com/jeffreydebolt/Flowcoach2-sub000/workflow"
)

// Environment variables that override file values.
const (
	EnvLogLevel        = "FLOWCOACH_LOG_LEVEL"
	EnvDatabase        = "FLOWCOACH_DB"
	EnvDefinitions     = "FLOWCOACH_DEFINITIONS"
	EnvMaxStepExecs    = "FLOWCOACH_MAX_STEP_EXECUTIONS"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
)

// LLM providers.
const (
	ProviderNone      = ""
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config is the process configuration of FlowCoach.
type Config struct {
	Logging     LoggingConfig  `yaml:"logging"`
	Session     SessionConfig  `yaml:"session"`
	Engine      EngineConfig   `yaml:"engine"`
	Registry    RegistryConfig `yaml:"registry"`
	LLM         LLMConfig      `yaml:"llm"`
	GTD         GTDConfig      `yaml:"gtd"`
	Definitions string         `yaml:"definitions,omitempty"`
}

// LoggingConfig selects level and format of the process logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source,omitempty"`
}

// SessionConfig configures the context store.
type SessionConfig struct {
	TTL             workflow.Duration `yaml:"ttl"`
	CleanupInterval workflow.Duration `yaml:"cleanup_interval"`
	// Database is a SQLite DSN. Empty keeps contexts in memory only.
	Database string `yaml:"database,omitempty"`
}

// EngineConfig bounds workflow executions.
type EngineConfig struct {
	MaxStepExecutions int               `yaml:"max_step_executions"`
	StateSaveTimeout  workflow.Duration `yaml:"state_save_timeout"`
	RetainCompleted   workflow.Duration `yaml:"retain_completed"`
}

// RegistryConfig configures command routing.
type RegistryConfig struct {
	Prefix         string `yaml:"prefix"`
	StrictCommands bool   `yaml:"strict_commands,omitempty"`
}

// LLMConfig selects the optional model that assists planning.
type LLMConfig struct {
	Provider  string `yaml:"provider,omitempty"`
	Model     string `yaml:"model,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	MaxTokens int64  `yaml:"max_tokens,omitempty"`
}

// GTDConfig tunes the reference agents.
type GTDConfig struct {
	DefaultProject string            `yaml:"default_project"`
	ReviewInterval workflow.Duration `yaml:"review_interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Session: SessionConfig{
			TTL:             workflow.Duration(24 * time.Hour),
			CleanupInterval: workflow.Duration(time.Hour),
		},
		Engine: EngineConfig{
			MaxStepExecutions: 100,
			StateSaveTimeout:  workflow.Duration(5 * time.Second),
			RetainCompleted:   workflow.Duration(24 * time.Hour),
		},
		Registry: RegistryConfig{Prefix: "*"},
		GTD: GTDConfig{
			DefaultProject: "Inbox",
			ReviewInterval: workflow.Duration(7 * 24 * time.Hour),
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides values from the environment. lookup is os.LookupEnv
// outside tests. The provider API key only applies to the selected provider.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}

	if v, ok := lookup(EnvDatabase); ok {
		c.Session.Database = v
	}

	if v, ok := lookup(EnvDefinitions); ok {
		c.Definitions = v
	}

	if v, ok := lookup(EnvMaxStepExecs); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxStepExecs, err)
		}

		c.Engine.MaxStepExecutions = n
	}

	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case ProviderAnthropic:
			c.LLM.APIKey, _ = lookup(EnvAnthropicAPIKey)
		case ProviderOpenAI:
			c.LLM.APIKey, _ = lookup(EnvOpenAIAPIKey)
		}
	}

	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'text', got %q", c.Logging.Format))
	}

	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}

	if c.Engine.MaxStepExecutions <= 0 {
		errs = append(errs, errors.New("engine.max_step_executions must be positive"))
	}

	if strings.TrimSpace(c.Registry.Prefix) == "" || strings.ContainsAny(c.Registry.Prefix, " \t\n") {
		errs = append(errs, fmt.Errorf("registry.prefix must be a non-blank token, got %q", c.Registry.Prefix))
	}

	switch c.LLM.Provider {
	case ProviderNone:
	case ProviderAnthropic, ProviderOpenAI:
		if c.LLM.APIKey == "" {
			errs = append(errs, fmt.Errorf("llm.api_key is required for provider %q", c.LLM.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be 'anthropic' or 'openai', got %q", c.LLM.Provider))
	}

	if c.GTD.ReviewInterval <= 0 {
		errs = append(errs, errors.New("gtd.review_interval must be positive"))
	}

	return errors.Join(errs...)
}

// NewLogger builds the process logger writing to out.
func (c LoggingConfig) NewLogger(out io.Writer) (*logging.FlowLogger, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	return logging.NewLogger(&logging.LoggerConfig{
		Level:       level,
		Format:      strings.ToLower(c.Format),
		Output:      out,
		AddSource:   c.AddSource,
		Component:   "flowcoach",
		CustomAttrs: map[string]any{},
	}), nil
}
