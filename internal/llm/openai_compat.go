// Package llm talks to the text-generation providers used for resolution
// suggestions.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"zeroledger/internal/apperr"
)

const (
	groqBaseURL       = "https://api.groq.com/openai/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenAICompatClient speaks the OpenAI chat completions protocol. Groq and
// OpenRouter both expose it.
type OpenAICompatClient struct {
	name       string
	apiKey     string
	baseURL    string
	modelName  string
	headers    map[string]string
	httpClient *http.Client
	logger     *zap.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewGroqClient creates a Groq client
func NewGroqClient(cfg ProviderConfig, logger *zap.Logger) (*OpenAICompatClient, error) {
	if cfg.ModelName == "" {
		cfg.ModelName = "llama-3.3-70b-versatile"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = groqBaseURL
	}
	return newOpenAICompatClient(string(ProviderGroq), cfg, nil, logger)
}

// NewOpenRouterClient creates an OpenRouter client
func NewOpenRouterClient(cfg ProviderConfig, logger *zap.Logger) (*OpenAICompatClient, error) {
	if cfg.ModelName == "" {
		cfg.ModelName = "meta-llama/llama-3.3-70b-instruct"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openRouterBaseURL
	}
	headers := map[string]string{
		"HTTP-Referer": "https://github.com/zeroledger",
		"X-Title":      "ZeroLedger",
	}
	return newOpenAICompatClient(string(ProviderOpenRouter), cfg, headers, logger)
}

func newOpenAICompatClient(name string, cfg ProviderConfig, headers map[string]string, logger *zap.Logger) (*OpenAICompatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger.Info("OpenAI-compatible client initialized",
		zap.String("provider", name),
		zap.String("model", cfg.ModelName))

	return &OpenAICompatClient{
		name:       name,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		modelName:  cfg.ModelName,
		headers:    headers,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

func (c *OpenAICompatClient) Name() string  { return c.name }
func (c *OpenAICompatClient) Model() string { return c.modelName }
func (c *OpenAICompatClient) Close() error  { return nil }

// Generate sends one chat completion. It does not retry.
func (c *OpenAICompatClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	reqBody := chatRequest{
		Model: c.modelName,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Generation request failed", zap.String("provider", c.name), zap.Error(err))
		return "", transportError(c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Transient(c.name, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Generation API error",
			zap.String("provider", c.name),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return "", apperr.FromStatus(c.name, resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", apperr.ServiceContract(c.name, "failed to parse response", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", apperr.ServiceContract(c.name, "empty choices", nil)
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if content == "" {
		return "", apperr.ServiceContract(c.name, "empty completion", nil)
	}

	c.logger.Debug("Generation completed",
		zap.String("provider", c.name),
		zap.Int("total_tokens", chatResp.Usage.TotalTokens))

	return content, nil
}

// GetModelInfo returns model information
func (c *OpenAICompatClient) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": c.name,
		"model":    c.modelName,
		"base_url": c.baseURL,
	}
}

// transportError maps a failed round trip onto the error taxonomy. Caller
// cancellation is passed through untouched.
func transportError(service string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s request cancelled: %w", service, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.Transient(service, 0, fmt.Errorf("request timed out: %w", err))
	}
	return apperr.Transient(service, 0, err)
}
