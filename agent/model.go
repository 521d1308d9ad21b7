package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
	"github.com/jeffreydebolt/Flowcoach2-sub000/logging"
	"github.com/jeffreydebolt/Flowcoach2-sub000/model"
)

// AskCommand is bound automatically when a ModelAgent definition declares it.
const AskCommand = "ask"

// GenerateCapability lets workflows ask the model using the "prompt" (or
// "user_input") context field.
const GenerateCapability = "generate"

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	Instruction Instruction
	// CanHandle claims free text for the model. Nil claims every message,
	// which makes the agent a catch-all when registered last.
	CanHandle Predicate
	// OutputKey stores the reply in the context update when set.
	OutputKey string
	MaxTokens int64
	Timeout   time.Duration
	Logger    logging.Logger
}

// ModelAgent answers free text by asking a language model. The instruction
// is rendered against the conversation context and sent as the system prompt.
type ModelAgent struct {
	*Base
	llm         model.Model
	instruction Instruction
	outputKey   string
	maxTokens   int64
	timeout     time.Duration
	logger      logging.Logger
}

// NewModelAgent creates a model-backed agent from def.
func NewModelAgent(def Definition, llm model.Model, optFns ...func(o *ModelAgentOptions)) (*ModelAgent, error) {
	if llm == nil {
		return nil, fmt.Errorf("%w: model agent %s needs a model", core.ErrInvalidDefinition, def.ID)
	}

	opts := ModelAgentOptions{
		Instruction: NewInstructionFromText(fmt.Sprintf("You are %s, a helpful GTD productivity coach. Keep answers short and actionable.", def.AgentInfo().Name)),
		Timeout:     30 * time.Second,
		MaxTokens:   512,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	m := &ModelAgent{
		llm:         llm,
		instruction: opts.Instruction,
		outputKey:   opts.OutputKey,
		maxTokens:   opts.MaxTokens,
		timeout:     opts.Timeout,
		logger:      opts.Logger,
	}

	predicate := opts.CanHandle
	if predicate == nil {
		predicate = func(core.Message) bool { return true }
	}

	commands := map[string]CommandHandler{}

	for _, c := range def.Commands {
		if strings.EqualFold(c.Name, AskCommand) {
			commands[AskCommand] = func(ctx context.Context, args string, _ core.Message, convCtx core.Context) (core.Response, error) {
				return m.reply(ctx, args, convCtx)
			}
		}
	}

	base, err := New(def, func(o *Options) {
		o.Commands = commands
		o.Capabilities = map[string]CapabilityHandler{GenerateCapability: m.generate}
		o.CanHandle = predicate
		o.OnMessage = func(ctx context.Context, msg core.Message, convCtx core.Context) (core.Response, error) {
			return m.reply(ctx, msg.Text, convCtx)
		}
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	m.Base = base

	return m, nil
}

func (m *ModelAgent) generate(ctx context.Context, convCtx core.Context) (core.Response, error) {
	prompt := convCtx.String("prompt")
	if prompt == "" {
		prompt = convCtx.String(core.KeyUserInput)
	}

	return m.reply(ctx, prompt, convCtx)
}

func (m *ModelAgent) reply(ctx context.Context, prompt string, convCtx core.Context) (core.Response, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return core.Response{Type: core.ResponseMessage, Message: "What would you like to talk about?"}, nil
	}

	system, err := m.instruction.Resolve(convCtx)
	if err != nil {
		return core.Response{}, fmt.Errorf("resolve instruction: %w", err)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)

		defer cancel()
	}

	start := time.Now()
	resp, err := m.llm.Generate(ctx, model.Request{System: system, Prompt: prompt, MaxTokens: m.maxTokens})
	m.logCall(resp, time.Since(start), err)

	if err != nil {
		return core.Response{}, fmt.Errorf("generate reply: %w", err)
	}

	out := core.Response{Type: core.ResponseMessage, Message: strings.TrimSpace(resp.Text)}
	if m.outputKey != "" {
		out.ContextUpdate = map[string]any{m.outputKey: out.Message}
	}

	return out, nil
}

type llmLogger interface {
	LogLLMCall(model string, tokens int, dur time.Duration, success bool, err error)
}

func (m *ModelAgent) logCall(resp model.Response, d time.Duration, err error) {
	info := m.llm.Info()

	if l, ok := m.logger.(llmLogger); ok {
		tokens := 0
		if resp.Usage != nil {
			tokens = resp.Usage.TotalTokens
		}

		l.LogLLMCall(info.Name, tokens, d, err == nil, err)

		return
	}

	if err != nil {
		m.logger.Error("LLM call failed", "model", info.Name, "provider", info.Provider, "duration", d, "error", err)
		return
	}

	m.logger.Info("LLM call completed", "model", info.Name, "provider", info.Provider, "duration", d)
}
