// Package llm provides the text generation client persona agents use
// for summaries and analysis. Generation degrades gracefully: dry runs,
// disabled endpoints and missing credentials all yield a deterministic
// stub instead of an error.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/quartet-labs/quartet/internal/config"
)

// Generator produces text completions for agent prompts.
type Generator interface {
	// Model names the model answered by this generator
	Model() string

	// Generate returns a completion for the prompt
	Generate(ctx context.Context, prompt string) (string, error)
}

// stubHeadLimit caps how much of the prompt the stub echoes back.
const stubHeadLimit = 160

// StubGenerator produces deterministic offline responses.
type StubGenerator struct {
	model  string
	reason string
}

// NewStubGenerator creates the stub used for dry runs and disabled
// endpoints.
func NewStubGenerator(model string) *StubGenerator {
	return &StubGenerator{model: model, reason: "stubbed response"}
}

// NewMissingKeyGenerator creates the stub used when no API key is
// configured.
func NewMissingKeyGenerator(model string) *StubGenerator {
	return &StubGenerator{model: model, reason: "missing api key"}
}

// Model implements Generator.
func (g *StubGenerator) Model() string { return g.model }

// Generate echoes the head of the prompt back, tagged with the stub
// reason and model so downstream output is traceable.
func (g *StubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	return fmt.Sprintf("[%s for model %s] %s", g.reason, g.model, promptHead(prompt)), nil
}

// OpenAIGenerator calls an OpenAI-compatible chat endpoint.
type OpenAIGenerator struct {
	llm         *openai.LLM
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// NewOpenAIGenerator builds a client for the configured endpoint.
func NewOpenAIGenerator(cfg config.OpenAIConfig) (*OpenAIGenerator, error) {
	opts := []openai.Option{
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey()),
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}

	return &OpenAIGenerator{
		llm:         client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxOutputTokens,
		timeout:     cfg.Timeout.Duration(),
	}, nil
}

// Model implements Generator.
func (g *OpenAIGenerator) Model() string { return g.model }

// Generate implements Generator. Each call carries its own deadline so
// a stalled endpoint cannot hang the pipeline.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	completion, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt,
		llms.WithTemperature(g.temperature),
		llms.WithMaxTokens(g.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}
	return strings.TrimSpace(completion), nil
}

// NewFromConfig selects the generator for a run. Dry runs and disabled
// endpoints get the offline stub, a missing API key gets the missing-key
// stub, and client construction failures fall back to the stub rather
// than aborting the run.
func NewFromConfig(cfg config.OpenAIConfig, dryRun bool, log *zap.Logger) Generator {
	if log == nil {
		log = zap.NewNop()
	}

	if dryRun || !cfg.Enabled {
		return NewStubGenerator(cfg.Model)
	}
	if cfg.APIKey() == "" {
		log.Warn("no API key configured, model calls are stubbed",
			zap.String("model", cfg.Model),
			zap.String("api_key_env", cfg.APIKeyEnv))
		return NewMissingKeyGenerator(cfg.Model)
	}

	gen, err := NewOpenAIGenerator(cfg)
	if err != nil {
		log.Warn("model client unavailable, falling back to stub",
			zap.String("model", cfg.Model),
			zap.Error(err))
		return NewStubGenerator(cfg.Model)
	}
	return gen
}

// promptHead returns the first line of the prompt, capped for log
// friendliness.
func promptHead(prompt string) string {
	head := strings.TrimSpace(prompt)
	if i := strings.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if len(head) > stubHeadLimit {
		head = head[:stubHeadLimit]
	}
	return head
}
