package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"zeroledger/internal/apperr"
)

// GeminiClient wraps the Gemini API client
type GeminiClient struct {
	client    *genai.Client
	logger    *zap.Logger
	modelName string
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.0-flash"
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	logger.Info("Gemini client initialized", zap.String("model", cfg.ModelName))

	return &GeminiClient{
		client:    client,
		logger:    logger,
		modelName: cfg.ModelName,
	}, nil
}

func (c *GeminiClient) Name() string  { return string(ProviderGemini) }
func (c *GeminiClient) Model() string { return c.modelName }

// Close closes the Gemini client
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// Generate runs one GenerateContent call.
func (c *GeminiClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	// GenerativeModel carries per-request settings, so each call gets its own.
	model := c.client.GenerativeModel(c.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(prompt.System)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr(prompt.Temperature),
		TopP:        genai.Ptr[float32](0.9),
	}
	if prompt.MaxTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr(int32(prompt.MaxTokens))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt.User))
	if err != nil {
		c.logger.Warn("Gemini API error", zap.Error(err))
		return "", geminiError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", apperr.ServiceContract(c.Name(), "empty response", nil)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", apperr.ServiceContract(c.Name(), "unexpected response type", nil)
	}
	return content, nil
}

// GetModelInfo returns model information
func (c *GeminiClient) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": c.Name(),
		"model":    c.modelName,
	}
}

// geminiError classifies errors from either the REST or the gRPC transport.
func geminiError(err error) error {
	service := string(ProviderGemini)

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("gemini request cancelled: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient(service, 0, err)
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return apperr.ServiceContract(service, "response blocked", err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return apperr.FromStatus(service, gerr.Code, gerr.Message)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return apperr.Transient(service, 0, err)
		case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition:
			return apperr.Permanent(service, 0, err)
		}
	}

	return apperr.Transient(service, 0, err)
}
