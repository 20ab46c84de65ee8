package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"zeroledger/internal/apperr"
)

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	ProviderGemini     ProviderType = "gemini"
	ProviderGroq       ProviderType = "groq"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderAnthropic  ProviderType = "anthropic"
)

// Prompt is one generation request: a system instruction and a single user
// turn.
type Prompt struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// ProviderConfig holds configuration for the generation provider
type ProviderConfig struct {
	Type      ProviderType  `yaml:"type"`
	APIKey    string        `yaml:"api_key"`
	ModelName string        `yaml:"model_name"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	// Rate limiting per provider
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Provider interface for any LLM provider. Generate returns typed errors from
// internal/apperr so callers can tell transient failures from permanent ones.
type Provider interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
	Name() string
	Model() string
	Close() error
	GetModelInfo() map[string]interface{}
}

// RateLimitedProvider wraps a provider with a token bucket
type RateLimitedProvider struct {
	provider Provider
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewRateLimitedProvider wraps a provider with rate limiting. A non-positive
// requestsPerMinute disables the limit.
func NewRateLimitedProvider(provider Provider, requestsPerMinute int, logger *zap.Logger) *RateLimitedProvider {
	limit := rate.Inf
	burst := 1
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
		burst = max(1, requestsPerMinute/10)
	}
	return &RateLimitedProvider{
		provider: provider,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
	}
}

func (p *RateLimitedProvider) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("rate limit wait: %w", ctxErr)
		}
		// The next token lies beyond the deadline: same as a 429 from upstream.
		p.logger.Debug("Rate limit exceeded", zap.String("provider", p.provider.Name()), zap.Error(err))
		return "", apperr.Transient(p.provider.Name(), http.StatusTooManyRequests, err)
	}
	return p.provider.Generate(ctx, prompt)
}

func (p *RateLimitedProvider) Name() string  { return p.provider.Name() }
func (p *RateLimitedProvider) Model() string { return p.provider.Model() }
func (p *RateLimitedProvider) Close() error  { return p.provider.Close() }

func (p *RateLimitedProvider) GetModelInfo() map[string]interface{} {
	info := p.provider.GetModelInfo()
	info["rate_limit_per_second"] = float64(p.limiter.Limit())
	return info
}

// NewProvider builds the configured provider wrapped in its rate limiter.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (*RateLimitedProvider, error) {
	var (
		provider Provider
		err      error
	)

	switch cfg.Type {
	case ProviderGroq:
		provider, err = NewGroqClient(cfg, logger)
	case ProviderOpenRouter:
		provider, err = NewOpenRouterClient(cfg, logger)
	case ProviderGemini:
		provider, err = NewGeminiClient(context.Background(), cfg, logger)
	case ProviderAnthropic:
		provider, err = NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Provider initialized",
		zap.String("type", string(cfg.Type)),
		zap.String("model", provider.Model()),
		zap.Int("rate_limit", cfg.RequestsPerMinute))

	return NewRateLimitedProvider(provider, cfg.RequestsPerMinute, logger), nil
}
