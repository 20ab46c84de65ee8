package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"zeroledger/internal/apperr"
	"zeroledger/internal/llm"
	"zeroledger/internal/models"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		Mode            string        `yaml:"mode"` // gin mode: debug, release, test
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`

	Database struct {
		Type string `yaml:"type"` // "sqlite" or "postgres"
		URL  string `yaml:"url"`  // SQLite path or PostgreSQL URL
	} `yaml:"database"`

	Cache struct {
		Backend           string        `yaml:"backend"` // "memory" or "redis"
		ClassificationTTL time.Duration `yaml:"classification_ttl"`
		ResolutionTTL     time.Duration `yaml:"resolution_ttl"`
		Redis             struct {
			Address  string `yaml:"address"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Classifier struct {
		URL          string        `yaml:"url"`
		Model        string        `yaml:"model"`
		ModelVersion string        `yaml:"model_version"`
		Threshold    float64       `yaml:"threshold"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"classifier"`

	Generation struct {
		Provider    llm.ProviderConfig `yaml:"provider"`
		Temperature float32            `yaml:"temperature"`
		MaxTokens   int                `yaml:"max_tokens"`
	} `yaml:"generation"`

	Retry struct {
		MaxAttempts    int           `yaml:"max_attempts"`
		BaseDelay      time.Duration `yaml:"base_delay"`
		MaxDelay       time.Duration `yaml:"max_delay"`
		Multiplier     float64       `yaml:"multiplier"`
		Jitter         time.Duration `yaml:"jitter"`
		AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	} `yaml:"retry"`

	CircuitBreaker struct {
		FailureThreshold int           `yaml:"failure_threshold"`
		SuccessThreshold int           `yaml:"success_threshold"`
		Cooldown         time.Duration `yaml:"cooldown"`
	} `yaml:"circuit_breaker"`

	Labels []models.Label `yaml:"labels"`

	Prompt struct {
		SystemTemplate string `yaml:"system_template"`
	} `yaml:"prompt"`

	Aggregation struct {
		Dimension string `yaml:"dimension"` // "sub_issue" or "product"
		Workers   int    `yaml:"workers"`
	} `yaml:"aggregation"`

	Schedule struct {
		Ingest    string `yaml:"ingest"`
		Reconcile string `yaml:"reconcile"`
		BatchSize int    `yaml:"batch_size"`
		Lookback  int64  `yaml:"lookback"`
	} `yaml:"schedule"`

	Auth struct {
		Enabled   bool          `yaml:"enabled"`
		JWTSecret string        `yaml:"jwt_secret"`
		Issuer    string        `yaml:"issuer"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	Alerts struct {
		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   int64  `yaml:"chat_id"`
		} `yaml:"telegram"`
	} `yaml:"alerts"`
}

// LoadConfig loads configuration from a YAML file. .env files are read first
// so ${VAR} references in secrets resolve.
func LoadConfig(configPath string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes, expands, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	config := seeded()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.expandEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// seeded returns a Config carrying defaults for fields where zero is a
// meaningful setting. Decoding overwrites them only when the key is present.
func seeded() *Config {
	c := &Config{}
	c.Classifier.Threshold = 0.60
	c.Generation.Temperature = 0.1
	c.Retry.Jitter = 250 * time.Millisecond
	c.Schedule.Lookback = 256
	return c
}

func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// expandEnv resolves ${VAR} references in secret-bearing fields.
func (c *Config) expandEnv() {
	c.Database.URL = os.ExpandEnv(c.Database.URL)
	c.Cache.Redis.Address = os.ExpandEnv(c.Cache.Redis.Address)
	c.Cache.Redis.Password = os.ExpandEnv(c.Cache.Redis.Password)
	c.Classifier.URL = os.ExpandEnv(c.Classifier.URL)
	c.Generation.Provider.APIKey = os.ExpandEnv(c.Generation.Provider.APIKey)
	c.Auth.JWTSecret = os.ExpandEnv(c.Auth.JWTSecret)
	c.Alerts.Telegram.BotToken = os.ExpandEnv(c.Alerts.Telegram.BotToken)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.URL == "" && c.Database.Type == "sqlite" {
		c.Database.URL = "./data/zeroledger.db"
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "zeroledger"
	}

	if c.Classifier.Model == "" {
		c.Classifier.Model = "distilbert-cfpb-subissue"
	}
	if c.Classifier.ModelVersion == "" {
		c.Classifier.ModelVersion = "v1"
	}
	if c.Classifier.Timeout == 0 {
		c.Classifier.Timeout = 10 * time.Second
	}

	if c.Generation.Provider.Type == "" {
		c.Generation.Provider.Type = llm.ProviderGroq
	}
	if c.Generation.Provider.Timeout == 0 {
		c.Generation.Provider.Timeout = 30 * time.Second
	}
	if c.Generation.MaxTokens == 0 {
		c.Generation.MaxTokens = 1024
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 8 * time.Second
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}
	if c.Retry.AttemptTimeout == 0 {
		c.Retry.AttemptTimeout = 30 * time.Second
	}

	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.SuccessThreshold == 0 {
		c.CircuitBreaker.SuccessThreshold = 1
	}
	if c.CircuitBreaker.Cooldown == 0 {
		c.CircuitBreaker.Cooldown = 30 * time.Second
	}

	if len(c.Labels) == 0 {
		c.Labels = DefaultLabels()
	}
	if c.Prompt.SystemTemplate == "" {
		c.Prompt.SystemTemplate = DefaultSystemTemplate
	}

	if c.Aggregation.Dimension == "" {
		c.Aggregation.Dimension = "sub_issue"
	}
	if c.Aggregation.Workers == 0 {
		c.Aggregation.Workers = 4
	}

	if c.Schedule.Ingest == "" {
		c.Schedule.Ingest = "@every 1m"
	}
	if c.Schedule.Reconcile == "" {
		c.Schedule.Reconcile = "@every 1h"
	}
	if c.Schedule.BatchSize == 0 {
		c.Schedule.BatchSize = 5000
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "zeroledger"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 12 * time.Hour
	}
}

// Validate reports the first configuration defect as a ConfigurationError.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return apperr.Configuration("database.type", fmt.Sprintf("unsupported database %q", c.Database.Type))
	}
	if c.Database.URL == "" {
		return apperr.Configuration("database.url", "required")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Address == "" {
			return apperr.Configuration("cache.redis.address", "required for the redis backend")
		}
	default:
		return apperr.Configuration("cache.backend", fmt.Sprintf("unsupported backend %q", c.Cache.Backend))
	}
	if c.Cache.ClassificationTTL < 0 || c.Cache.ResolutionTTL < 0 {
		return apperr.Configuration("cache", "ttl must not be negative")
	}

	if c.Classifier.URL == "" {
		return apperr.Configuration("classifier.url", "required")
	}
	if c.Classifier.Threshold < 0 || c.Classifier.Threshold > 1 {
		return apperr.Configuration("classifier.threshold", "must be within [0, 1]")
	}

	switch c.Generation.Provider.Type {
	case llm.ProviderGroq, llm.ProviderOpenRouter, llm.ProviderGemini, llm.ProviderAnthropic:
	default:
		return apperr.Configuration("generation.provider.type", fmt.Sprintf("unsupported provider %q", c.Generation.Provider.Type))
	}

	if c.Retry.MaxAttempts < 1 {
		return apperr.Configuration("retry.max_attempts", "must be at least 1")
	}
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return apperr.Configuration("retry.base_delay", "must not exceed retry.max_delay")
	}

	if err := validateLabels(c.Labels); err != nil {
		return err
	}

	switch c.Aggregation.Dimension {
	case "sub_issue", "product":
	default:
		return apperr.Configuration("aggregation.dimension", fmt.Sprintf("unsupported dimension %q", c.Aggregation.Dimension))
	}
	if c.Aggregation.Workers < 1 {
		return apperr.Configuration("aggregation.workers", "must be at least 1")
	}
	if c.Schedule.Lookback < 0 {
		return apperr.Configuration("schedule.lookback", "must not be negative")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return apperr.Configuration("auth.jwt_secret", "required when auth is enabled")
	}
	if c.Alerts.Telegram.Enabled && (c.Alerts.Telegram.BotToken == "" || c.Alerts.Telegram.ChatID == 0) {
		return apperr.Configuration("alerts.telegram", "bot_token and chat_id are required when enabled")
	}

	return nil
}

func validateLabels(labels []models.Label) error {
	if len(labels) == 0 {
		return apperr.Configuration("labels", "at least one label is required")
	}
	seen := make(map[string]struct{}, len(labels))
	for i, l := range labels {
		key := fmt.Sprintf("labels[%d]", i)
		if l.ID == "" || l.Name == "" {
			return apperr.Configuration(key, "id and name are required")
		}
		if l.ID == models.NeedsReviewLabel {
			return apperr.Configuration(key, models.NeedsReviewLabel+" is reserved")
		}
		if strings.TrimSpace(l.Policy) == "" {
			return apperr.Configuration(key, fmt.Sprintf("label %q has no policy", l.ID))
		}
		if _, dup := seen[l.ID]; dup {
			return apperr.Configuration(key, fmt.Sprintf("duplicate label id %q", l.ID))
		}
		seen[l.ID] = struct{}{}
	}
	return nil
}
