package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zeroledger/internal/apperr"
	"zeroledger/internal/cache"
	"zeroledger/internal/circuitbreaker"
	"zeroledger/internal/ml_client"
	"zeroledger/internal/models"
	"zeroledger/internal/retry"
)

type fakeClassifier struct {
	calls atomic.Int32
	fn    func(call int32) (*ml_client.ClassifyResponse, error)
}

func (f *fakeClassifier) Classify(_ context.Context, _, _ string) (*ml_client.ClassifyResponse, error) {
	return f.fn(f.calls.Add(1))
}

func answer(label string, confidence float64) func(int32) (*ml_client.ClassifyResponse, error) {
	return func(int32) (*ml_client.ClassifyResponse, error) {
		return &ml_client.ClassifyResponse{Label: label, Confidence: &confidence, ModelVersion: "v3"}, nil
	}
}

var testLabels = []models.Label{
	{ID: "LABEL_6", Name: "Investigation took more than 30 days"},
	{ID: "LABEL_7", Name: "Debt is not yours"},
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestRouter(c Classifier) *Router {
	store := cache.New(cache.NewMemoryBackend(), cache.Options{})
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "classifier", FailureThreshold: 10})
	policy := retry.DefaultPolicy().WithSleep(noSleep)

	return New(c, store, breaker, policy, Config{
		Model:        "distilbert",
		ModelVersion: "v3",
		Threshold:    0.60,
		Labels:       testLabels,
	}, nil, zap.NewNop())
}

func TestClassifyIsIdempotent(t *testing.T) {
	fc := &fakeClassifier{fn: answer("LABEL_7", 0.91)}
	r := newTestRouter(fc)
	ctx := context.Background()

	first, err := r.Classify(ctx, "A collector calls me about a debt that is not mine")
	require.NoError(t, err)
	second, err := r.Classify(ctx, "a collector calls me   about a debt that is NOT mine")
	require.NoError(t, err)

	assert.Equal(t, int32(1), fc.calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, "LABEL_7", first.Label)
	assert.Equal(t, "Debt is not yours", first.LabelName)
	assert.Equal(t, models.DecisionAccepted, first.Decision)
	assert.Len(t, first.Fingerprint, 64)
}

func TestClassifyConcurrentCallersShareOneRequest(t *testing.T) {
	release := make(chan struct{})
	fc := &fakeClassifier{fn: func(int32) (*ml_client.ClassifyResponse, error) {
		<-release
		c := 0.8
		return &ml_client.ClassifyResponse{Label: "LABEL_6", Confidence: &c}, nil
	}}
	r := newTestRouter(fc)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Classify(context.Background(), "dispute open for 45 days")
			assert.NoError(t, err)
			assert.Equal(t, "LABEL_6", res.Label)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fc.calls.Load())
}

func TestClassifyThresholdBoundary(t *testing.T) {
	tests := []struct {
		confidence float64
		decision   models.Decision
		label      string
	}{
		{0.60, models.DecisionAccepted, "LABEL_6"},
		{0.5999, models.DecisionAbstained, models.NeedsReviewLabel},
		{0.0, models.DecisionAbstained, models.NeedsReviewLabel},
		{1.0, models.DecisionAccepted, "LABEL_6"},
	}

	for _, tt := range tests {
		r := newTestRouter(&fakeClassifier{fn: answer("LABEL_6", tt.confidence)})

		res, err := r.Classify(context.Background(), "narrative")
		require.NoError(t, err)
		assert.Equal(t, tt.decision, res.Decision, "confidence %v", tt.confidence)
		assert.Equal(t, tt.label, res.Label, "confidence %v", tt.confidence)
		assert.InDelta(t, tt.confidence, res.Confidence, 1e-12)
	}
}

func TestAbstentionIsCached(t *testing.T) {
	fc := &fakeClassifier{fn: answer("LABEL_6", 0.3)}
	r := newTestRouter(fc)

	res, err := r.Classify(context.Background(), "unclear narrative")
	require.NoError(t, err)
	assert.False(t, res.Accepted())
	assert.Equal(t, "LABEL_6", res.RawLabel)

	_, err = r.Classify(context.Background(), "unclear narrative")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fc.calls.Load())
}

func TestClassifyContractViolations(t *testing.T) {
	tests := map[string]func(int32) (*ml_client.ClassifyResponse, error){
		"unknown label":      answer("LABEL_99", 0.9),
		"confidence above 1": answer("LABEL_6", 1.2),
		"negative":           answer("LABEL_6", -0.1),
	}

	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			fc := &fakeClassifier{fn: fn}
			r := newTestRouter(fc)

			_, err := r.Classify(context.Background(), "narrative")
			require.Error(t, err)
			assert.True(t, apperr.IsContract(err))

			_, _ = r.Classify(context.Background(), "narrative")
			assert.Equal(t, int32(2), fc.calls.Load(), "contract violations are neither retried nor cached")
		})
	}
}

func TestClassifyRetriesTransientFailures(t *testing.T) {
	fc := &fakeClassifier{fn: func(call int32) (*ml_client.ClassifyResponse, error) {
		if call < 3 {
			return nil, apperr.Transient("classifier", 503, errors.New("warming up"))
		}
		return answer("LABEL_7", 0.7)(call)
	}}
	r := newTestRouter(fc)

	res, err := r.Classify(context.Background(), "narrative")
	require.NoError(t, err)
	assert.Equal(t, "LABEL_7", res.Label)
	assert.Equal(t, int32(3), fc.calls.Load())
}

func TestClassifyExhaustedRetriesSurfaceTransient(t *testing.T) {
	fc := &fakeClassifier{fn: func(int32) (*ml_client.ClassifyResponse, error) {
		return nil, apperr.Transient("classifier", 0, errors.New("timeout"))
	}}
	r := newTestRouter(fc)

	_, err := r.Classify(context.Background(), "narrative")
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
	assert.Equal(t, int32(3), fc.calls.Load())
}

func TestClassifyRejectsEmptyNarrative(t *testing.T) {
	fc := &fakeClassifier{fn: answer("LABEL_6", 0.9)}
	_, err := newTestRouter(fc).Classify(context.Background(), "   ")
	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, fc.calls.Load())
}

func TestFingerprintDependsOnModelIdentity(t *testing.T) {
	r1 := newTestRouter(&fakeClassifier{fn: answer("LABEL_6", 0.9)})
	r2 := newTestRouter(&fakeClassifier{fn: answer("LABEL_6", 0.9)})
	r2.cfg.ModelVersion = "v4"

	assert.NotEqual(t, r1.Fingerprint("same text"), r2.Fingerprint("same text"))
}

func TestCheckModel(t *testing.T) {
	tests := []struct {
		name    string
		info    *ml_client.ModelInfo
		wantErr bool
	}{
		{"nil info", nil, false},
		{"no labels advertised", &ml_client.ModelInfo{Model: "distilbert"}, false},
		{"same labels other order", &ml_client.ModelInfo{Labels: []string{"LABEL_7", "LABEL_6"}}, false},
		{"missing label", &ml_client.ModelInfo{Labels: []string{"LABEL_6"}}, true},
		{"extra label", &ml_client.ModelInfo{Labels: []string{"LABEL_6", "LABEL_7", "LABEL_8"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckModel(tt.info, testLabels)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var cfgErr *apperr.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "labels", cfgErr.Key)
		})
	}
}
