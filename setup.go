package flowcoach

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/jeffreydebolt/Flowcoach2-sub000/catalog"
	"github.com/jeffreydebolt/Flowcoach2-sub000/config"
	"github.com/jeffreydebolt/Flowcoach2-sub000/engine"
	"github.com/jeffreydebolt/Flowcoach2-sub000/gtd"
	"github.com/jeffreydebolt/Flowcoach2-sub000/logging"
	"github.com/jeffreydebolt/Flowcoach2-sub000/model"
	anthropicmodel "github.com/jeffreydebolt/Flowcoach2-sub000/model/anthropic"
	openaimodel "github.com/jeffreydebolt/Flowcoach2-sub000/model/openai"
	"github.com/jeffreydebolt/Flowcoach2-sub000/session/sqlite"
)

// FromConfig builds a FlowCoach from process configuration:
//   - cfg.Session.Database opens a SQLite backend for contexts and
//     workflow snapshots
//   - cfg.Definitions loads agent overrides and extra workflows from a
//     catalog URL
//   - cfg.LLM selects the model used for planning suggestions and free text
//
// optFns run last and may override anything derived from cfg.
func FromConfig(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*FlowCoach, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var logger logging.Logger = logging.NoOpLogger{}

	probe := Options{}
	for _, fn := range optFns {
		fn(&probe)
	}

	if probe.Logger != nil {
		logger = probe.Logger
	}

	var setup []func(o *Options)

	setup = append(setup, func(o *Options) {
		o.EngineConfig = engine.Config{
			MaxStepExecutions: cfg.Engine.MaxStepExecutions,
			StateSaveTimeout:  time.Duration(cfg.Engine.StateSaveTimeout),
		}
		o.Prefix = cfg.Registry.Prefix
		o.StrictCommands = cfg.Registry.StrictCommands
		o.SessionTTL = time.Duration(cfg.Session.TTL)
		o.Logger = logger
		o.GTD = append(o.GTD, func(g *gtd.Options) {
			g.DefaultProject = cfg.GTD.DefaultProject
			g.ReviewInterval = time.Duration(cfg.GTD.ReviewInterval)
		})
	})

	if cfg.Session.Database != "" {
		backend, err := sqlite.Open(cfg.Session.Database)
		if err != nil {
			return nil, fmt.Errorf("open session database: %w", err)
		}

		backend.SetStateTTL(time.Duration(cfg.Engine.RetainCompleted))

		logger.Info("session database opened", "dsn", cfg.Session.Database)

		setup = append(setup, func(o *Options) {
			o.Backend = backend
			o.StateRecorder = backend
			o.Closers = append(o.Closers, backend)
		})
	}

	if cfg.Definitions != "" {
		defs, err := catalog.New(func(o *catalog.Options) { o.Logger = logger }).Load(ctx, cfg.Definitions)
		if err != nil {
			return nil, fmt.Errorf("load definitions from %s: %w", cfg.Definitions, err)
		}

		logger.Info("definitions loaded", "url", cfg.Definitions, "agents", len(defs.Agents), "workflows", len(defs.Workflows))

		overrides := defs.AgentOverrides()

		setup = append(setup, func(o *Options) {
			o.Workflows = append(o.Workflows, defs.Workflows...)
			o.GTD = append(o.GTD, func(g *gtd.Options) { g.Overrides = overrides })
		})
	}

	llm, err := NewModel(cfg.LLM)
	if err != nil {
		return nil, err
	}

	if llm != nil {
		logger.Info("language model enabled", "provider", llm.Info().Provider, "model", llm.Info().Name)

		setup = append(setup, func(o *Options) {
			o.Assistant = llm
			o.GTD = append(o.GTD, func(g *gtd.Options) { g.Model = llm })
		})
	}

	return New(append(setup, optFns...)...)
}

// NewModel returns the model selected by cfg, or nil when no provider is
// configured.
func NewModel(cfg config.LLMConfig) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderAnthropic:
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			o.APIKey = cfg.APIKey
			if cfg.Model != "" {
				o.Model = anthropic.Model(cfg.Model)
			}

			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
		}), nil
	case config.ProviderOpenAI:
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			o.APIKey = cfg.APIKey
			if cfg.Model != "" {
				o.Model = cfg.Model
			}

			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
