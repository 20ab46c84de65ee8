package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zeroledger/internal/apperr"
)

func newTestGroq(t *testing.T, handler http.HandlerFunc) *OpenAICompatClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewGroqClient(ProviderConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Timeout: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestOpenAICompatGenerate(t *testing.T) {
	c := newTestGroq(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama-3.3-70b-versatile", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "policy text", req.Messages[0].Content)
		assert.Equal(t, "I was charged twice", req.Messages[1].Content)
		assert.InDelta(t, 0.1, req.Temperature, 1e-6)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Refund the duplicate charge.  "}}],"usage":{"total_tokens":42}}`))
	})

	out, err := c.Generate(context.Background(), Prompt{
		System:      "policy text",
		User:        "I was charged twice",
		Temperature: 0.1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Refund the duplicate charge.", out)
}

func TestOpenAICompatErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		contract  bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"rate"}`, true, false},
		{"unavailable", http.StatusServiceUnavailable, ``, true, false},
		{"unauthorized", http.StatusUnauthorized, `{"error":"key"}`, false, false},
		{"malformed request", http.StatusBadRequest, `{"error":"bad"}`, false, false},
		{"malformed response", http.StatusOK, `{"choices":`, false, true},
		{"no choices", http.StatusOK, `{"choices":[]}`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestGroq(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Generate(context.Background(), Prompt{System: "s", User: "u"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, apperr.IsTransient(err))
			assert.Equal(t, tt.contract, apperr.IsContract(err))
		})
	}
}

func TestOpenRouterSendsAttributionHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ZeroLedger", r.Header.Get("X-Title"))
		assert.NotEmpty(t, r.Header.Get("HTTP-Referer"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenRouterClient(ProviderConfig{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "openrouter", c.Name())

	out, err := c.Generate(context.Background(), Prompt{User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestNewClientsRequireAPIKey(t *testing.T) {
	_, err := NewGroqClient(ProviderConfig{}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewAnthropicClient(ProviderConfig{}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewGeminiClient(context.Background(), ProviderConfig{}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewProvider(ProviderConfig{Type: "mystery"}, zap.NewNop())
	assert.Error(t, err)
}
