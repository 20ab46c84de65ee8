package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zeroledger/internal/apperr"
	"zeroledger/internal/llm"
)

const minimalYAML = `
classifier:
  url: http://classifier:8001
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.InDelta(t, 0.60, cfg.Classifier.Threshold, 1e-9)
	assert.Equal(t, llm.ProviderGroq, cfg.Generation.Provider.Type)
	assert.InDelta(t, 0.1, cfg.Generation.Temperature, 1e-6)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 8*time.Second, cfg.Retry.MaxDelay)
	assert.Len(t, cfg.Labels, 11)
	assert.Equal(t, "sub_issue", cfg.Aggregation.Dimension)
	assert.Contains(t, cfg.Prompt.SystemTemplate, "{{.LabelName}}")
}

func TestParseDecodesDurationsAndLabels(t *testing.T) {
	cfg, err := Parse([]byte(`
classifier:
  url: http://classifier
  threshold: 0.75
cache:
  classification_ttl: 24h
  resolution_ttl: 90m
retry:
  base_delay: 500ms
labels:
  - id: A
    name: Alpha
    policy: alpha policy
    fallback: alpha fallback
`))
	require.NoError(t, err)

	assert.InDelta(t, 0.75, cfg.Classifier.Threshold, 1e-9)
	assert.Equal(t, 24*time.Hour, cfg.Cache.ClassificationTTL)
	assert.Equal(t, 90*time.Minute, cfg.Cache.ResolutionTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	require.Len(t, cfg.Labels, 1)
	assert.Equal(t, "alpha policy", cfg.Labels[0].Policy)
}

func TestParseKeepsExplicitZeroes(t *testing.T) {
	cfg, err := Parse([]byte(`
classifier:
  url: http://classifier
  threshold: 0
generation:
  temperature: 0
retry:
  jitter: 0s
schedule:
  lookback: 0
`))
	require.NoError(t, err)

	assert.Zero(t, cfg.Classifier.Threshold)
	assert.Zero(t, cfg.Generation.Temperature)
	assert.Zero(t, cfg.Retry.Jitter)
	assert.Zero(t, cfg.Schedule.Lookback)

	cfg, err = Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Jitter)
	assert.Equal(t, int64(256), cfg.Schedule.Lookback)
}

func TestParseExpandsSecrets(t *testing.T) {
	t.Setenv("TEST_GROQ_KEY", "gsk-secret")

	cfg, err := Parse([]byte(minimalYAML + `
generation:
  provider:
    type: groq
    api_key: ${TEST_GROQ_KEY}
`))
	require.NoError(t, err)
	assert.Equal(t, "gsk-secret", cfg.Generation.Provider.APIKey)
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]string{
		"missing classifier": `database: {type: sqlite}`,
		"bad threshold":      minimalYAML + "  threshold: 1.5\n",
		"bad dimension":      minimalYAML + "aggregation: {dimension: zip}\n",
		"negative lookback":  minimalYAML + "schedule: {lookback: -1}\n",
		"bad provider":       minimalYAML + "generation: {provider: {type: bard}}\n",
		"redis without addr": minimalYAML + "cache: {backend: redis}\n",
		"reserved label":     minimalYAML + "labels: [{id: NEEDS_REVIEW, name: x}]\n",
		"duplicate label":    minimalYAML + "labels: [{id: A, name: x, policy: p}, {id: A, name: y, policy: p}]\n",
		"label no policy":    minimalYAML + "labels: [{id: A, name: x}]\n",
		"auth without key":   minimalYAML + "auth: {enabled: true}\n",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, apperr.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestLoadConfigReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://classifier:8001", cfg.Classifier.URL)

	_, err = LoadConfig(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}

func TestDefaultLabelsHavePolicies(t *testing.T) {
	for _, l := range DefaultLabels() {
		assert.NotEmpty(t, l.Policy, l.ID)
		assert.NotEmpty(t, l.Fallback, l.ID)
	}
}

func TestShippedConfigIsValid(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yml")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 168*time.Hour, cfg.Cache.ResolutionTTL)
	assert.Equal(t, 0.60, cfg.Classifier.Threshold)
	assert.Len(t, cfg.Labels, 11)
	assert.Equal(t, "@every 1m", cfg.Schedule.Ingest)
}
