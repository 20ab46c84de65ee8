package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"zeroledger/internal/apperr"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicClient generates through the Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	logger    *zap.Logger
	modelName string
}

// NewAnthropicClient creates an Anthropic client. SDK retries are disabled;
// retrying is the caller's policy.
func NewAnthropicClient(cfg ProviderConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "claude-3-5-haiku-latest"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	logger.Info("Anthropic client initialized", zap.String("model", cfg.ModelName))

	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		logger:    logger,
		modelName: cfg.ModelName,
	}, nil
}

func (c *AnthropicClient) Name() string  { return string(ProviderAnthropic) }
func (c *AnthropicClient) Model() string { return c.modelName }
func (c *AnthropicClient) Close() error  { return nil }

// Generate sends one Messages request.
func (c *AnthropicClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	maxTokens := int64(prompt.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelName),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: prompt.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
		Temperature: anthropic.Float(float64(prompt.Temperature)),
	})
	if err != nil {
		c.logger.Warn("Anthropic API error", zap.Error(err))
		return "", anthropicError(err)
	}

	for _, block := range message.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", apperr.ServiceContract(c.Name(), "no text content in response", nil)
}

// GetModelInfo returns model information
func (c *AnthropicClient) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": c.Name(),
		"model":    c.modelName,
	}
}

func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		// 529 is Anthropic's "overloaded" status.
		return apperr.FromStatus(string(ProviderAnthropic), apiErr.StatusCode, apiErr.Error())
	}
	return transportError(string(ProviderAnthropic), err)
}
