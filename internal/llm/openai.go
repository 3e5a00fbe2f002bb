// ABOUTME: OpenAI-compatible chat completion client
// ABOUTME: Wraps sashabaranov/go-openai with per-model temperature and token settings

package llm

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig describes one model endpoint. BaseURL may point at any
// OpenAI-compatible server (SiliconFlow, DeepSeek, a local runtime).
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAIClient implements Client against an OpenAI-compatible API.
type OpenAIClient struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *slog.Logger
}

// NewOpenAIClient creates a client for one configured model.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger.With("component", "llm", "model", cfg.Model),
	}
}

// ModelName identifies the configured model.
func (c *OpenAIClient) ModelName() string {
	return c.cfg.Model
}

// Generate runs one chat completion. Reasoning is taken from the provider's
// reasoning field when present, otherwise from a <think> block prefix.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (*Result, error) {
	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if c.cfg.Temperature > 0 {
		req.Temperature = c.cfg.Temperature
	}
	if c.cfg.MaxTokens > 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	msg := resp.Choices[0].Message
	content, reasoning := SplitThink(msg.Content)
	if msg.ReasoningContent != "" {
		reasoning = msg.ReasoningContent
	}
	if content == "" {
		return nil, ErrEmptyResponse
	}

	c.logger.Debug("completion finished",
		"finish_reason", resp.Choices[0].FinishReason,
		"content_len", len(content),
	)
	return &Result{Content: content, Reasoning: reasoning, Model: c.cfg.Model}, nil
}
