// Package llm adapts an OpenAI-compatible chat completion API to the loop's
// generation port and translates model output into action requests.
package llm

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"refinery/internal/config"
	"refinery/internal/logging"
	"refinery/internal/loop"
)

const systemPrompt = `You are a code modification agent. You propose exactly one action per turn,
as a single JSON object and nothing else. Schema:
{
  "action": "write" | "patch" | "noop",
  "reason": "<one sentence>",
  "confidence": 0.0-1.0,
  "files": [
    {"path": "relative/path", "content": "<full new content>"}          // write
    {"path": "relative/path", "hunks": [{"old_start": 1, "old_lines": 2,
      "new_start": 1, "new_lines": 3, "content": "<replacement lines>"}],
      "expected_hash": "<sha256 of the file you patched, optional>"}    // patch
  ]
}
Use "noop" with an empty files array when no change is warranted.`

// OpenAIBackend implements loop.GenerationBackend over any OpenAI-compatible
// endpoint. High-risk tasks are routed to the stronger model; generation runs
// at temperature zero so retries stay comparable.
type OpenAIBackend struct {
	client      *openai.Client
	model       string
	strongModel string
	logger      logging.Logger
}

// NewOpenAIBackend reads the API key from the environment variable named in
// the config and builds a client against the configured base URL.
func NewOpenAIBackend(cfg config.Config, logger logging.Logger) (*OpenAIBackend, error) {
	key := os.Getenv(cfg.LLMAPIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("API key environment variable %s is not set", cfg.LLMAPIKeyEnv)
	}
	clientCfg := openai.DefaultConfig(key)
	if cfg.LLMBaseURL != "" {
		clientCfg.BaseURL = cfg.LLMBaseURL
	}
	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.LLMModel,
		strongModel: cfg.LLMStrongModel,
		logger:      logging.OrNop(logger),
	}, nil
}

// Select routes a task to a model by risk tier.
func (b *OpenAIBackend) Select(task *loop.Task) (loop.ModelHandle, error) {
	model := b.model
	if task.Spec.RiskTier == loop.RiskHigh && b.strongModel != "" {
		model = b.strongModel
	}
	if model == "" {
		return loop.ModelHandle{}, fmt.Errorf("no model configured")
	}
	return loop.ModelHandle{Name: model, Provider: "openai"}, nil
}

// Generate runs one chat completion. Context cancellation and deadlines are
// honored by the underlying client.
func (b *OpenAIBackend) Generate(ctx context.Context, model loop.ModelHandle, prompt string) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model.Name,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", model.Name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion (%s): empty response", model.Name)
	}
	b.logger.Debug("completion from %s: %d prompt tokens, %d completion tokens",
		model.Name, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}
