// Package resolver produces policy-grounded resolution suggestions for
// accepted classifications and degrades to static fallbacks when the
// generation provider is unavailable.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"zeroledger/internal/apperr"
	"zeroledger/internal/cache"
	"zeroledger/internal/circuitbreaker"
	"zeroledger/internal/llm"
	"zeroledger/internal/models"
	"zeroledger/internal/normalizer"
	"zeroledger/internal/retry"
	"zeroledger/internal/telemetry"
)

const defaultFallback = "A tailored suggestion is not available right now. The complaint has been routed for manual review under the applicable policy."

// Generator is the subset of llm.Provider the resolver needs.
type Generator interface {
	Generate(ctx context.Context, prompt llm.Prompt) (string, error)
	Name() string
	Model() string
}

// Classifications yields the authoritative classification of a narrative.
// The router satisfies it; repeated calls are served from the cache.
type Classifications interface {
	Classify(ctx context.Context, narrative string) (*models.ClassificationResult, error)
}

// Config holds the label policies and prompt settings.
type Config struct {
	Labels         []models.Label
	SystemTemplate string
	Temperature    float32
	MaxTokens      int
}

// Resolver is the resolution orchestrator.
type Resolver struct {
	generator       Generator
	classifications Classifications
	store           *cache.Store
	breaker         *circuitbreaker.Breaker
	policy          retry.Policy
	tmpl            *template.Template
	labels          map[string]models.Label
	cfg             Config
	metrics         *telemetry.Metrics
	logger          *zap.Logger
	now             func() time.Time
}

// New creates a Resolver. The system template is rendered for every label
// up front: an unparseable template, a label without a policy, or a template
// naming an unknown field is a ConfigurationError. A nil classifications
// source trusts the classification handed to Resolve.
func New(
	generator Generator,
	classifications Classifications,
	store *cache.Store,
	breaker *circuitbreaker.Breaker,
	policy retry.Policy,
	cfg Config,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) (*Resolver, error) {
	tmpl, err := parseTemplate(cfg.SystemTemplate)
	if err != nil {
		return nil, err
	}

	labels := make(map[string]models.Label, len(cfg.Labels))
	for _, l := range cfg.Labels {
		labels[l.ID] = l
		if l.ID == models.NeedsReviewLabel {
			continue
		}
		if strings.TrimSpace(l.Policy) == "" {
			return nil, apperr.Configuration("labels."+l.ID+".policy", "no policy template for label")
		}
		if _, err := renderSystemPrompt(tmpl, l); err != nil {
			return nil, err
		}
	}

	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.RecordRetry(generator.Name())
		logger.Warn("Retrying generation request",
			zap.String("provider", generator.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	return &Resolver{
		generator:       generator,
		classifications: classifications,
		store:           store,
		breaker:         breaker,
		policy:          policy,
		tmpl:            tmpl,
		labels:          labels,
		cfg:             cfg,
		metrics:         metrics,
		logger:          logger,
		now:             time.Now,
	}, nil
}

// Resolve returns a resolution for an accepted classification. Generation
// outages never surface as errors: the record carries status fallback or
// error and the label's static text instead. Only successful generations are
// cached.
func (r *Resolver) Resolve(ctx context.Context, complaint models.ComplaintRecord, classification *models.ClassificationResult) (*models.ResolutionRecord, error) {
	if !classification.Accepted() {
		return nil, apperr.Precondition("resolution requires an accepted classification")
	}
	if strings.TrimSpace(complaint.Narrative) == "" {
		return nil, apperr.Validation("narrative", "empty narrative")
	}
	if r.classifications != nil {
		confirmed, err := r.confirm(ctx, complaint.Narrative, classification)
		if err != nil {
			return nil, err
		}
		classification = confirmed
	}

	label, ok := r.labels[classification.Label]
	if !ok {
		return nil, apperr.Configuration("labels", fmt.Sprintf("label %q is not configured", classification.Label))
	}
	if strings.TrimSpace(label.Policy) == "" {
		return nil, apperr.Configuration("labels."+label.ID+".policy", "no policy template for label")
	}

	system, err := renderSystemPrompt(r.tmpl, label)
	if err != nil {
		return nil, err
	}
	prompt := llm.Prompt{
		System:      system,
		User:        complaint.Narrative,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	}

	fp := r.Fingerprint(complaint.Narrative, label.ID, system)
	record, hit, err := cache.GetOrCompute(ctx, r.store, cache.KindResolution, fp,
		func(ctx context.Context) (models.ResolutionRecord, bool, error) {
			rec := r.generate(ctx, fp, label, prompt)
			return rec, rec.Status == models.ResolutionSuccess, nil
		})
	if err != nil {
		return nil, err
	}

	if !hit {
		r.metrics.RecordResolution(string(record.Status))
	}
	record.ComplaintID = complaint.ID
	return &record, nil
}

// confirm replaces a caller-supplied classification with the recorded one
// for narrative. A claim that disagrees on fingerprint or label, or a
// narrative whose recorded result abstained, is a PreconditionError.
func (r *Resolver) confirm(ctx context.Context, narrative string, claimed *models.ClassificationResult) (*models.ClassificationResult, error) {
	recorded, err := r.classifications.Classify(ctx, narrative)
	if err != nil {
		return nil, err
	}
	if !recorded.Accepted() {
		return nil, apperr.Precondition("narrative is classified as needing review")
	}
	if claimed.Fingerprint != recorded.Fingerprint || claimed.Label != recorded.Label {
		r.logger.Warn("Rejected classification that does not match the narrative",
			zap.String("claimed_fingerprint", claimed.Fingerprint),
			zap.String("claimed_label", claimed.Label),
			zap.String("fingerprint", recorded.Fingerprint))
		return nil, apperr.Precondition("classification does not match the narrative")
	}
	return recorded, nil
}

// Fingerprint keys a resolution by narrative, label, provider identity and
// the rendered system prompt, so template or policy edits miss the cache.
func (r *Resolver) Fingerprint(narrative, labelID, systemPrompt string) string {
	return normalizer.Fingerprint(narrative,
		labelID,
		r.generator.Name(),
		r.generator.Model(),
		normalizer.Digest(systemPrompt),
	)
}

func (r *Resolver) generate(ctx context.Context, fp string, label models.Label, prompt llm.Prompt) models.ResolutionRecord {
	rec := models.ResolutionRecord{
		Fingerprint: fp,
		Label:       label.ID,
		LabelName:   label.Name,
		Provider:    r.generator.Name(),
		Model:       r.generator.Model(),
	}

	var text string
	attempts, err := r.policy.Do(ctx, func(ctx context.Context) error {
		return r.breaker.Execute(ctx, func(ctx context.Context) error {
			start := time.Now()
			var genErr error
			text, genErr = r.generator.Generate(ctx, prompt)
			r.metrics.RecordExternalCall(r.generator.Name(), outcome(genErr), time.Since(start))
			return genErr
		})
	})
	rec.Attempts = attempts
	rec.CreatedAt = r.now().UTC()

	switch {
	case err == nil:
		rec.Text = text
		rec.Status = models.ResolutionSuccess
	case circuitbreaker.IsOpen(err) || apperr.IsTransient(err) || errors.Is(err, context.DeadlineExceeded):
		r.logger.Warn("Generation unavailable, serving fallback",
			zap.String("fingerprint", fp),
			zap.String("label", label.ID),
			zap.Int("attempts", attempts),
			zap.Error(err))
		rec.Text = fallbackText(label)
		rec.Status = models.ResolutionFallback
	default:
		r.logger.Error("Generation failed",
			zap.String("fingerprint", fp),
			zap.String("label", label.ID),
			zap.Error(err))
		rec.Text = fallbackText(label)
		rec.Status = models.ResolutionError
		rec.Error = err.Error()
	}
	return rec
}

func fallbackText(label models.Label) string {
	if strings.TrimSpace(label.Fallback) != "" {
		return label.Fallback
	}
	return defaultFallback
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
