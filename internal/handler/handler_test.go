package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zeroledger/internal/apperr"
	"zeroledger/internal/circuitbreaker"
	"zeroledger/internal/ml_client"
	"zeroledger/internal/models"
	"zeroledger/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTriage struct {
	classifyErr error
	resolveErr  error
	gotRaws     []models.RawRecord
	snapshot    *models.AggregateSnapshot
	complaints  map[string]models.ComplaintRecord
	events      []models.TriageEvent
	gotMonths   int
}

func (f *fakeTriage) Classify(_ context.Context, complaintID, narrative string) (*models.ClassificationResult, error) {
	if f.classifyErr != nil {
		return nil, f.classifyErr
	}
	return &models.ClassificationResult{ComplaintID: complaintID, Label: "LABEL_1", Confidence: 0.9, Decision: models.DecisionAccepted}, nil
}

func (f *fakeTriage) Resolve(_ context.Context, complaint models.ComplaintRecord, c *models.ClassificationResult) (*models.ResolutionRecord, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return &models.ResolutionRecord{ComplaintID: complaint.ID, Label: c.Label, Text: "advice", Status: models.ResolutionFallback}, nil
}

func (f *fakeTriage) Triage(ctx context.Context, complaintID, narrative string) (*service.TriageResult, error) {
	c, err := f.Classify(ctx, complaintID, narrative)
	if err != nil {
		return nil, err
	}
	return &service.TriageResult{Classification: c}, nil
}

func (f *fakeTriage) IngestComplaints(_ context.Context, raws []models.RawRecord) (*service.IngestReport, error) {
	f.gotRaws = raws
	return &service.IngestReport{Received: len(raws), Accepted: len(raws), Rejected: []service.Rejection{}}, nil
}

func (f *fakeTriage) Snapshot() *models.AggregateSnapshot { return f.snapshot }

func (f *fakeTriage) Trend(category string, months int) models.CategoryTrend {
	f.gotMonths = months
	return models.CategoryTrend{Category: category, Total: 2, Months: []models.MonthCount{{Month: "2026-04", Count: 2}}}
}

func (f *fakeTriage) Complaint(_ context.Context, id string) (*models.ComplaintRecord, error) {
	rec, ok := f.complaints[id]
	if !ok {
		return nil, apperr.NotFound("complaint", id)
	}
	return &rec, nil
}

func (f *fakeTriage) Events(_ context.Context, complaintID string) ([]models.TriageEvent, error) {
	out := []models.TriageEvent{}
	for _, e := range f.events {
		if e.ComplaintID == complaintID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeTriage) Coverage(context.Context) (*service.Coverage, error) {
	return &service.Coverage{Stored: 10, Aggregated: 7, Pending: 3, SnapshotID: "snap-1"}, nil
}

func (f *fakeTriage) Outcomes(context.Context) (*service.Outcomes, error) {
	return &service.Outcomes{
		Classification: map[string]int{"accepted": 4, "abstained": 1},
		Resolution:     map[string]int{"success": 3, "fallback": 1},
	}, nil
}

func (f *fakeTriage) Labels() []models.Label {
	return []models.Label{{ID: "LABEL_0", Name: "Debt is not yours", Policy: "secret policy"}}
}

func newTestRouter(svc Triage) *gin.Engine {
	r := gin.New()
	api := r.Group("/api/v1")
	NewTriageHandler(svc, zap.NewNop()).RegisterRoutes(api)
	NewAnalyticsHandler(svc).RegisterRoutes(api)
	return r
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestClassifyEndpoint(t *testing.T) {
	r := newTestRouter(&fakeTriage{})

	w := do(r, http.MethodPost, "/api/v1/classify", gin.H{"complaint_id": "C-1", "narrative": "charged twice"})
	require.Equal(t, http.StatusOK, w.Code)

	var got models.ClassificationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "C-1", got.ComplaintID)
	assert.Equal(t, "LABEL_1", got.Label)

	w = do(r, http.MethodPost, "/api/v1/classify", gin.H{"complaint_id": "C-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.Validation("narrative", "empty"), http.StatusBadRequest},
		{"transient", apperr.Transient("classifier", 503, errors.New("down")), http.StatusServiceUnavailable},
		{"contract", apperr.ServiceContract("classifier", "label missing", nil), http.StatusBadGateway},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeTriage{classifyErr: tt.err})
			w := do(r, http.MethodPost, "/api/v1/triage", gin.H{"narrative": "text"})
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestResolveEndpoint(t *testing.T) {
	svc := &fakeTriage{}
	r := newTestRouter(svc)

	body := gin.H{
		"complaint":      gin.H{"id": "C-9", "narrative": "fees"},
		"classification": gin.H{"label": "LABEL_1", "decision": "accepted", "confidence": 0.8},
	}
	w := do(r, http.MethodPost, "/api/v1/resolve", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"fallback"`)
	assert.Contains(t, w.Body.String(), `"complaint_id":"C-9"`)

	svc.resolveErr = apperr.Precondition("resolution requires an accepted classification")
	w = do(r, http.MethodPost, "/api/v1/resolve", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/api/v1/resolve", gin.H{"complaint": gin.H{"narrative": "fees"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestEndpoint(t *testing.T) {
	svc := &fakeTriage{}
	r := newTestRouter(svc)

	w := do(r, http.MethodPost, "/api/v1/complaints", []gin.H{
		{"id": "C-1", "narrative": "a", "state": "CA", "timely_response": "Yes"},
		{"id": "C-2", "narrative": "b", "state": "New York", "timely_response": false},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, svc.gotRaws, 2)
	assert.Equal(t, "CA", svc.gotRaws[0].Region)
	assert.Equal(t, false, svc.gotRaws[1].TimelyResponse)

	w = do(r, http.MethodPost, "/api/v1/complaints", []gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLabelsHidePolicy(t *testing.T) {
	w := do(newTestRouter(&fakeTriage{}), http.MethodGet, "/api/v1/labels", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Debt is not yours")
	assert.NotContains(t, w.Body.String(), "secret policy")
}

func testSnapshot() *models.AggregateSnapshot {
	return &models.AggregateSnapshot{
		ID:           "snap-1",
		AsOf:         time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		TotalRecords: 6,
		Categories: []models.CategoryCount{
			{Category: "Fees", Count: 3},
			{Category: "Card", Count: 2},
			{Category: "Unspecified", Count: 1},
		},
		Timely:   models.TimelyStats{Timely: 4, Late: 1, Unknown: 1, Rate: 0.8},
		Regions:  []models.RegionStat{{Code: "AK", Name: "Alaska"}, {Code: "CA", Name: "California", Complaints: 5}},
		Unmapped: 1,
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	r := newTestRouter(&fakeTriage{snapshot: testSnapshot()})

	w := do(r, http.MethodGet, "/api/v1/analytics/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"snap-1"`)

	w = do(r, http.MethodGet, "/api/v1/analytics/categories?top=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cats struct {
		SnapshotID string                 `json:"snapshot_id"`
		Categories []models.CategoryCount `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cats))
	assert.Equal(t, "snap-1", cats.SnapshotID)
	assert.Len(t, cats.Categories, 2)

	w = do(r, http.MethodGet, "/api/v1/analytics/categories?top=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/v1/analytics/timely", nil)
	assert.Contains(t, w.Body.String(), `"rate":0.8`)

	w = do(r, http.MethodGet, "/api/v1/analytics/regions", nil)
	assert.Contains(t, w.Body.String(), `"unmapped":1`)
	assert.Contains(t, w.Body.String(), `"code":"AK"`)
}

type fakeClassifierHealth struct {
	res *ml_client.HealthResponse
	err error
}

func (f fakeClassifierHealth) HealthCheck(context.Context) (*ml_client.HealthResponse, error) {
	return f.res, f.err
}

func TestHealthEndpoint(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "generator", FailureThreshold: 1})

	r := gin.New()
	h := NewHealthHandler(fakeClassifierHealth{res: &ml_client.HealthResponse{Status: "ok", ModelLoaded: true}}, breaker)
	r.GET("/health", h.HealthCheck)

	w := do(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"name":"generator"`)

	_ = breaker.Execute(context.Background(), func(context.Context) error {
		return apperr.Transient("generator", 503, errors.New("down"))
	})
	w = do(r, http.MethodGet, "/health", nil)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
	assert.Contains(t, w.Body.String(), `"state":"open"`)

	r = gin.New()
	r.GET("/health", NewHealthHandler(fakeClassifierHealth{err: errors.New("connection refused")}).HealthCheck)
	w = do(r, http.MethodGet, "/health", nil)
	assert.Contains(t, w.Body.String(), `"reachable":false`)
}

func TestComplaintEndpoints(t *testing.T) {
	svc := &fakeTriage{
		complaints: map[string]models.ComplaintRecord{"C-1": {ID: "C-1", Narrative: "charged twice", Region: "CA"}},
		events: []models.TriageEvent{
			{ComplaintID: "C-1", Kind: models.EventClassification, Outcome: "accepted"},
			{ComplaintID: "C-2", Kind: models.EventClassification, Outcome: "abstained"},
		},
	}
	r := newTestRouter(svc)

	w := do(r, http.MethodGet, "/api/v1/complaints/C-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"narrative":"charged twice"`)

	w = do(r, http.MethodGet, "/api/v1/complaints/C-404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/v1/complaints/C-1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		ComplaintID string               `json:"complaint_id"`
		Events      []models.TriageEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "C-1", body.ComplaintID)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "accepted", body.Events[0].Outcome)

	w = do(r, http.MethodGet, "/api/v1/complaints/C-9/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"events":[]`)
}

func TestTrendEndpoint(t *testing.T) {
	svc := &fakeTriage{}
	r := newTestRouter(svc)

	w := do(r, http.MethodGet, "/api/v1/analytics/categories/Fees/trend", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 12, svc.gotMonths)
	var trend models.CategoryTrend
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trend))
	assert.Equal(t, "Fees", trend.Category)
	assert.Equal(t, 2, trend.Total)

	w = do(r, http.MethodGet, "/api/v1/analytics/categories/Fees/trend?months=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, svc.gotMonths)

	for _, bad := range []string{"0", "121", "-1", "abc"} {
		w = do(r, http.MethodGet, "/api/v1/analytics/categories/Fees/trend?months="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestCoverageAndOutcomesEndpoints(t *testing.T) {
	r := newTestRouter(&fakeTriage{})

	w := do(r, http.MethodGet, "/api/v1/analytics/coverage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pending":3`)
	assert.Contains(t, w.Body.String(), `"snapshot_id":"snap-1"`)

	w = do(r, http.MethodGet, "/api/v1/analytics/outcomes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out service.Outcomes
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 4, out.Classification["accepted"])
	assert.Equal(t, 1, out.Resolution["fallback"])
}

func TestResetBreakerEndpoint(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "generator", FailureThreshold: 1, Timeout: time.Hour})
	_ = breaker.Execute(context.Background(), func(context.Context) error {
		return apperr.Transient("generator", 503, errors.New("down"))
	})
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	r := gin.New()
	h := NewHealthHandler(fakeClassifierHealth{res: &ml_client.HealthResponse{Status: "ok", ModelLoaded: true}}, breaker)
	r.POST("/breakers/:name/reset", h.ResetBreaker)

	w := do(r, http.MethodPost, "/breakers/classifier/reset", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	w = do(r, http.MethodPost, "/breakers/generator/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"closed"`)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}

type fakeClassifierInfo struct {
	info *ml_client.ModelInfo
	err  error
}

func (f fakeClassifierInfo) GetModelInfo(context.Context) (*ml_client.ModelInfo, error) {
	return f.info, f.err
}

type fakeGeneratorInfo map[string]interface{}

func (f fakeGeneratorInfo) GetModelInfo() map[string]interface{} { return f }

func TestModelsEndpoint(t *testing.T) {
	generator := fakeGeneratorInfo{"provider": "groq", "model": "llama-3.1-8b-instant"}

	r := gin.New()
	NewModelsHandler(fakeClassifierInfo{info: &ml_client.ModelInfo{Model: "distilbert", Labels: []string{"LABEL_0"}}}, generator).RegisterRoutes(r)
	w := do(r, http.MethodGet, "/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"model":"distilbert"`)
	assert.Contains(t, w.Body.String(), `"provider":"groq"`)

	r = gin.New()
	NewModelsHandler(fakeClassifierInfo{err: errors.New("connection refused")}, generator).RegisterRoutes(r)
	w = do(r, http.MethodGet, "/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reachable":false`)
	assert.Contains(t, w.Body.String(), "connection refused")
}
