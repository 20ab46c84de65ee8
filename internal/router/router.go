// Package router turns classifier answers into accepted or abstained
// classification results, memoized per narrative fingerprint.
package router

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"zeroledger/internal/apperr"
	"zeroledger/internal/cache"
	"zeroledger/internal/circuitbreaker"
	"zeroledger/internal/ml_client"
	"zeroledger/internal/models"
	"zeroledger/internal/normalizer"
	"zeroledger/internal/retry"
	"zeroledger/internal/telemetry"
)

const serviceName = "classifier"

// needsReviewName is the display name of the abstention label.
const needsReviewName = "Needs review"

// Classifier is the external sub-issue model.
type Classifier interface {
	Classify(ctx context.Context, text, modelVersion string) (*ml_client.ClassifyResponse, error)
}

// Config holds the classifier identity and the confidence policy.
type Config struct {
	Model        string
	ModelVersion string
	Threshold    float64
	Labels       []models.Label
}

// Router applies the confidence policy to classifier answers.
type Router struct {
	classifier Classifier
	store      *cache.Store
	breaker    *circuitbreaker.Breaker
	policy     retry.Policy
	cfg        Config
	labels     map[string]models.Label
	metrics    *telemetry.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a Router.
func New(
	classifier Classifier,
	store *cache.Store,
	breaker *circuitbreaker.Breaker,
	policy retry.Policy,
	cfg Config,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) *Router {
	labels := make(map[string]models.Label, len(cfg.Labels))
	for _, l := range cfg.Labels {
		labels[l.ID] = l
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.RecordRetry(serviceName)
		logger.Warn("Retrying classifier request",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	return &Router{
		classifier: classifier,
		store:      store,
		breaker:    breaker,
		policy:     policy,
		cfg:        cfg,
		labels:     labels,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Fingerprint is the cache key Classify uses for narrative.
func (r *Router) Fingerprint(narrative string) string {
	return normalizer.Fingerprint(narrative, r.cfg.Model, r.cfg.ModelVersion)
}

// Labels returns the configured label set in configuration order.
func (r *Router) Labels() []models.Label {
	out := make([]models.Label, len(r.cfg.Labels))
	copy(out, r.cfg.Labels)
	return out
}

// Label looks up a configured label by id.
func (r *Router) Label(id string) (models.Label, bool) {
	l, ok := r.labels[id]
	return l, ok
}

// Classify returns the classification for narrative. Identical narratives
// (after normalization) under the same model identity reach the classifier
// once; abstentions are memoized like acceptances.
func (r *Router) Classify(ctx context.Context, narrative string) (*models.ClassificationResult, error) {
	if strings.TrimSpace(narrative) == "" {
		return nil, apperr.Validation("narrative", "empty narrative")
	}

	fp := r.Fingerprint(narrative)
	result, hit, err := cache.GetOrCompute(ctx, r.store, cache.KindClassification, fp,
		func(ctx context.Context) (models.ClassificationResult, bool, error) {
			res, err := r.compute(ctx, fp, narrative)
			if err != nil {
				return models.ClassificationResult{}, false, err
			}
			return res, true, nil
		})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Classification served",
		zap.String("fingerprint", fp),
		zap.String("label", result.Label),
		zap.Bool("cache_hit", hit))
	return &result, nil
}

func (r *Router) compute(ctx context.Context, fp, narrative string) (models.ClassificationResult, error) {
	var resp *ml_client.ClassifyResponse

	_, err := r.policy.Do(ctx, func(ctx context.Context) error {
		return r.breaker.Execute(ctx, func(ctx context.Context) error {
			start := time.Now()
			var callErr error
			resp, callErr = r.classifier.Classify(ctx, narrative, r.cfg.ModelVersion)
			r.metrics.RecordExternalCall(serviceName, outcome(callErr), time.Since(start))
			return callErr
		})
	})
	if err != nil {
		if circuitbreaker.IsOpen(err) {
			return models.ClassificationResult{}, apperr.Transient(serviceName, 0, err)
		}
		r.logger.Error("Classifier request failed", zap.String("fingerprint", fp), zap.Error(err))
		return models.ClassificationResult{}, fmt.Errorf("classify: %w", err)
	}

	label, ok := r.labels[resp.Label]
	if !ok {
		r.logger.Error("Classifier returned unknown label",
			zap.String("fingerprint", fp), zap.String("label", resp.Label))
		return models.ClassificationResult{}, apperr.ServiceContract(serviceName,
			fmt.Sprintf("label %q is not in the configured label set", resp.Label), nil)
	}
	confidence := *resp.Confidence
	if confidence < 0 || confidence > 1 {
		r.logger.Error("Classifier returned out-of-range confidence",
			zap.String("fingerprint", fp), zap.Float64("confidence", confidence))
		return models.ClassificationResult{}, apperr.ServiceContract(serviceName,
			fmt.Sprintf("confidence %v is outside [0, 1]", confidence), nil)
	}

	version := resp.ModelVersion
	if version == "" {
		version = r.cfg.ModelVersion
	}

	result := models.ClassificationResult{
		Fingerprint:  fp,
		Label:        label.ID,
		LabelName:    label.Name,
		Confidence:   confidence,
		Model:        r.cfg.Model,
		ModelVersion: version,
		Decision:     models.DecisionAccepted,
		ClassifiedAt: r.now().UTC(),
	}
	if confidence < r.cfg.Threshold {
		result.Decision = models.DecisionAbstained
		result.RawLabel = label.ID
		result.Label = models.NeedsReviewLabel
		result.LabelName = needsReviewName
	}

	r.metrics.RecordClassification(string(result.Decision))
	return result, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case apperr.IsTransient(err):
		return "transient"
	case apperr.IsContract(err):
		return "contract"
	default:
		return "error"
	}
}

// CheckModel fails when the classifier advertises a label set that differs
// from labels. A model that advertises no labels passes.
func CheckModel(info *ml_client.ModelInfo, labels []models.Label) error {
	if info == nil || len(info.Labels) == 0 {
		return nil
	}
	want := make([]string, 0, len(labels))
	for _, l := range labels {
		want = append(want, l.ID)
	}
	got := slices.Clone(info.Labels)
	slices.Sort(want)
	slices.Sort(got)
	if !slices.Equal(want, got) {
		return apperr.Configuration("labels", fmt.Sprintf("classifier %s serves labels %v, configured %v", info.Model, got, want))
	}
	return nil
}
