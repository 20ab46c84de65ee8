package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"zeroledger/internal/aggregation"
	"zeroledger/internal/alert"
	"zeroledger/internal/cache"
	"zeroledger/internal/circuitbreaker"
	"zeroledger/internal/config"
	"zeroledger/internal/handler"
	"zeroledger/internal/llm"
	"zeroledger/internal/middleware"
	"zeroledger/internal/ml_client"
	"zeroledger/internal/processor"
	"zeroledger/internal/repository"
	"zeroledger/internal/resolver"
	"zeroledger/internal/retry"
	"zeroledger/internal/router"
	"zeroledger/internal/server"
	"zeroledger/internal/service"
	"zeroledger/internal/telemetry"
)

const (
	cacheSweepInterval = time.Minute
	alertTimeout       = 10 * time.Second
	modelCheckTimeout  = 5 * time.Second
)

type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *sqlx.DB
	memory    *cache.MemoryBackend
	closers   []func() error
	processor *processor.Processor
	server    *server.Server
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	metrics := telemetry.New(nil)
	notifier := a.buildNotifier()

	db, err := repository.Open(cfg.Database.Type, cfg.Database.URL, logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	if err := repository.Migrate(db, logger); err != nil {
		a.Close()
		return nil, err
	}
	complaints := repository.NewComplaintRepository(db, logger)
	events := repository.NewTriageEventRepository(db, logger)

	store, err := a.buildCache(metrics)
	if err != nil {
		a.Close()
		return nil, err
	}

	policy := retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseDelay:      cfg.Retry.BaseDelay,
		MaxDelay:       cfg.Retry.MaxDelay,
		Multiplier:     cfg.Retry.Multiplier,
		Jitter:         cfg.Retry.Jitter,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
		IsRetryable:    retry.DefaultIsRetryable,
	}
	breakerAlerts := alert.NewAsync(notifier, alertTimeout, logger)
	a.closers = append(a.closers, func() error {
		breakerAlerts.Wait()
		return nil
	})
	classifierBreaker := a.newBreaker("classifier", metrics, breakerAlerts)
	generatorBreaker := a.newBreaker("generator", metrics, breakerAlerts)

	mlClient := ml_client.NewClient(cfg.Classifier.URL, cfg.Classifier.Timeout)
	rtr := router.New(mlClient, store, classifierBreaker, policy, router.Config{
		Model:        cfg.Classifier.Model,
		ModelVersion: cfg.Classifier.ModelVersion,
		Threshold:    cfg.Classifier.Threshold,
		Labels:       cfg.Labels,
	}, metrics, logger)
	if err := a.checkClassifier(mlClient); err != nil {
		a.Close()
		return nil, err
	}

	provider, err := llm.NewProvider(cfg.Generation.Provider, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("generation provider: %w", err)
	}
	a.closers = append(a.closers, provider.Close)

	res, err := resolver.New(provider, rtr, store, generatorBreaker, policy, resolver.Config{
		Labels:         cfg.Labels,
		SystemTemplate: cfg.Prompt.SystemTemplate,
		Temperature:    cfg.Generation.Temperature,
		MaxTokens:      cfg.Generation.MaxTokens,
	}, metrics, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	engine := aggregation.NewEngine(complaints, aggregation.Options{
		Dimension: aggregation.Dimension(cfg.Aggregation.Dimension),
		Workers:   cfg.Aggregation.Workers,
	}, notifier, metrics, logger)

	a.processor, err = processor.NewProcessor(complaints, engine, processor.Config{
		IngestSchedule:    cfg.Schedule.Ingest,
		ReconcileSchedule: cfg.Schedule.Reconcile,
		BatchSize:         cfg.Schedule.BatchSize,
		Lookback:          cfg.Schedule.Lookback,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	triage := service.NewTriageService(rtr, res, complaints, events, engine, metrics, logger)

	var auth *middleware.JWTAuth
	if cfg.Auth.Enabled {
		auth = middleware.NewJWTAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	}

	a.server = server.NewServer(server.Options{
		Port:            cfg.Server.Port,
		Mode:            cfg.Server.Mode,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, server.Deps{
		Triage:  triage,
		Health:  handler.NewHealthHandler(mlClient, classifierBreaker, generatorBreaker),
		Models:  handler.NewModelsHandler(mlClient, provider),
		Metrics: metrics,
		Auth:    auth,
	}, logger)

	logger.Info("Application initialized",
		zap.String("database", cfg.Database.Type),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("provider", provider.Name()),
		zap.String("model", provider.Model()),
		zap.Int("labels", len(cfg.Labels)),
		zap.Bool("auth", cfg.Auth.Enabled))
	return a, nil
}

// checkClassifier compares the classifier's label set with the configured
// one. An unreachable classifier only warns; the router degrades per request.
func (a *app) checkClassifier(client *ml_client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), modelCheckTimeout)
	defer cancel()

	info, err := client.GetModelInfo(ctx)
	if err != nil {
		a.logger.Warn("Classifier unreachable at startup", zap.String("url", a.cfg.Classifier.URL), zap.Error(err))
		return nil
	}
	if err := router.CheckModel(info, a.cfg.Labels); err != nil {
		return err
	}
	a.logger.Info("Classifier model verified",
		zap.String("model", info.Model),
		zap.String("version", info.Version),
		zap.Int("labels", len(info.Labels)))
	return nil
}

// Run starts the batch processor and serves HTTP until ctx is cancelled.
func (a *app) Run(ctx context.Context) error {
	if a.memory != nil {
		go a.memory.RunSweeper(ctx, cacheSweepInterval, a.logger)
	}
	if err := a.processor.Start(ctx); err != nil {
		return err
	}
	return a.server.Run(ctx)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to release resource", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *app) buildNotifier() alert.Notifier {
	notifiers := alert.Multi{alert.NewLogNotifier(a.logger)}

	tg := a.cfg.Alerts.Telegram
	if !tg.Enabled {
		return notifiers
	}
	telegram, err := alert.NewTelegramNotifier(tg.BotToken, tg.ChatID, a.logger)
	if err != nil {
		a.logger.Warn("Failed to initialize Telegram alerts, continuing without them", zap.Error(err))
		return notifiers
	}
	return append(notifiers, telegram)
}

func (a *app) buildCache(metrics *telemetry.Metrics) (*cache.Store, error) {
	opts := cache.Options{
		TTL: map[cache.Kind]time.Duration{
			cache.KindClassification: a.cfg.Cache.ClassificationTTL,
			cache.KindResolution:     a.cfg.Cache.ResolutionTTL,
		},
		Metrics: metrics,
		Logger:  a.logger,
	}

	if a.cfg.Cache.Backend == "redis" {
		r := a.cfg.Cache.Redis
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Address:  r.Address,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("Using Redis cache", zap.String("address", r.Address))
		return cache.New(cache.NewRedisBackend(client, r.Prefix), opts), nil
	}

	a.memory = cache.NewMemoryBackend()
	return cache.New(a.memory, opts), nil
}

// newBreaker wires state changes to the breaker gauge and, on opening, to
// the alert notifier.
func (a *app) newBreaker(name string, metrics *telemetry.Metrics, notifier *alert.Async) *circuitbreaker.Breaker {
	metrics.SetBreakerState(name, int(circuitbreaker.StateClosed))
	return circuitbreaker.New(circuitbreaker.Config{
		Name:             name,
		FailureThreshold: a.cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: a.cfg.CircuitBreaker.SuccessThreshold,
		Timeout:          a.cfg.CircuitBreaker.Cooldown,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.SetBreakerState(name, int(to))
			a.logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if to != circuitbreaker.StateOpen {
				return
			}
			// Runs inside the request that tripped the breaker.
			_ = notifier.Notify(context.Background(), alert.Alert{
				Source:   "circuit_breaker/" + name,
				Severity: alert.SeverityWarning,
				Summary:  fmt.Sprintf("Circuit breaker %s opened", name),
				Detail:   fmt.Sprintf("Calls to %s are short-circuited for %s.", name, a.cfg.CircuitBreaker.Cooldown),
				At:       time.Now(),
			})
		},
	})
}
