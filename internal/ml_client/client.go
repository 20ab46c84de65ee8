package ml_client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"zeroledger/internal/apperr"
)

const serviceName = "classifier"

// Client is a client for the sub-issue classifier service API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClassifyRequest represents a single narrative classification request
type ClassifyRequest struct {
	Text         string `json:"text"`
	ModelVersion string `json:"model_version,omitempty"`
}

// ClassifyResponse represents the classification result
type ClassifyResponse struct {
	Label        string   `json:"label"`
	Confidence   *float64 `json:"confidence"`
	ModelVersion string   `json:"model_version"`
}

// ModelInfo represents model information
type ModelInfo struct {
	ServiceName string   `json:"service_name"`
	Model       string   `json:"model"`
	Version     string   `json:"version"`
	Labels      []string `json:"labels"`
	Device      string   `json:"device"`
	MaxLength   int      `json:"max_length"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
	Message     string `json:"message"`
}

// NewClient creates a new classifier service client. timeout bounds each HTTP
// exchange; retry policies add their own per-attempt deadline on top.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Classify classifies a single narrative
func (c *Client) Classify(ctx context.Context, text, modelVersion string) (*ClassifyResponse, error) {
	jsonData, err := json.Marshal(ClassifyRequest{Text: text, ModelVersion: modelVersion})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/classify", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result ClassifyResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	if result.Label == "" || result.Confidence == nil {
		return nil, apperr.ServiceContract(serviceName, "response is missing label or confidence", nil)
	}

	return &result, nil
}

// HealthCheck checks if the classifier service is healthy
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result HealthResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetModelInfo retrieves information about the loaded model
func (c *Client) GetModelInfo(ctx context.Context) (*ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/model/info", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result ModelInfo
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do sends req and decodes a 200 answer into out. Transport failures and
// retryable statuses come back as transient errors, bodies that do not decode
// as contract violations.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.FromStatus(serviceName, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.ServiceContract(serviceName, "failed to decode response", err)
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to send request: %w", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.Transient(serviceName, 0, fmt.Errorf("request timed out: %w", err))
	}
	return apperr.Transient(serviceName, 0, fmt.Errorf("failed to send request: %w", err))
}
