package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"zeroledger/internal/aggregation"
	"zeroledger/internal/apperr"
	"zeroledger/internal/models"
	"zeroledger/internal/normalizer"
	"zeroledger/internal/repository"
	"zeroledger/internal/telemetry"
)

// Classifier is satisfied by *router.Router.
type Classifier interface {
	Classify(ctx context.Context, narrative string) (*models.ClassificationResult, error)
	Labels() []models.Label
}

// Resolver is satisfied by *resolver.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, complaint models.ComplaintRecord, classification *models.ClassificationResult) (*models.ResolutionRecord, error)
}

// Aggregator is satisfied by *aggregation.Engine.
type Aggregator interface {
	Current() *aggregation.Snapshot
	Ingest(records []models.ComplaintRecord) *aggregation.Snapshot
}

// TriageResult is the combined answer of classify and resolve. Resolution is
// nil when the classification abstained.
type TriageResult struct {
	Classification *models.ClassificationResult `json:"classification"`
	Resolution     *models.ResolutionRecord     `json:"resolution,omitempty"`
}

// Rejection explains why one submitted record was not stored.
type Rejection struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// IngestReport summarizes a complaint submission.
type IngestReport struct {
	Received   int         `json:"received"`
	Accepted   int         `json:"accepted"`
	Duplicates int         `json:"duplicates"`
	Rejected   []Rejection `json:"rejected"`
	SnapshotID string      `json:"snapshot_id"`
}

// Coverage compares the stored corpus with what the snapshot has counted.
type Coverage struct {
	Stored     int    `json:"stored"`
	Aggregated int    `json:"aggregated"`
	Pending    int    `json:"pending"`
	SnapshotID string `json:"snapshot_id"`
}

// Outcomes counts audit events per outcome.
type Outcomes struct {
	Classification map[string]int `json:"classification"`
	Resolution     map[string]int `json:"resolution"`
}

// TriageService ties the classification router, the resolution orchestrator
// and the aggregation engine to the persistent corpus and audit trail.
type TriageService struct {
	classifier Classifier
	resolver   Resolver
	complaints repository.ComplaintRepository
	events     repository.TriageEventRepository
	aggregator Aggregator
	metrics    *telemetry.Metrics
	logger     *zap.Logger
}

func NewTriageService(
	classifier Classifier,
	resolver Resolver,
	complaints repository.ComplaintRepository,
	events repository.TriageEventRepository,
	aggregator Aggregator,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) *TriageService {
	return &TriageService{
		classifier: classifier,
		resolver:   resolver,
		complaints: complaints,
		events:     events,
		aggregator: aggregator,
		metrics:    metrics,
		logger:     logger,
	}
}

func (s *TriageService) Labels() []models.Label {
	return s.classifier.Labels()
}

// Classify classifies a narrative and records the outcome in the audit trail.
func (s *TriageService) Classify(ctx context.Context, complaintID, narrative string) (*models.ClassificationResult, error) {
	result, err := s.classifier.Classify(ctx, narrative)
	if err != nil {
		return nil, err
	}
	result.ComplaintID = complaintID
	s.audit(ctx, models.ClassificationEvent(result))
	return result, nil
}

// Resolve produces a resolution for an accepted classification and records
// the outcome in the audit trail.
func (s *TriageService) Resolve(ctx context.Context, complaint models.ComplaintRecord, classification *models.ClassificationResult) (*models.ResolutionRecord, error) {
	resolution, err := s.resolver.Resolve(ctx, complaint, classification)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, models.ResolutionEvent(resolution))
	return resolution, nil
}

// Triage classifies then, when the classification was accepted, resolves.
func (s *TriageService) Triage(ctx context.Context, complaintID, narrative string) (*TriageResult, error) {
	classification, err := s.Classify(ctx, complaintID, narrative)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	out := &TriageResult{Classification: classification}
	if !classification.Accepted() {
		return out, nil
	}

	complaint := models.ComplaintRecord{ID: complaintID, Narrative: narrative}
	resolution, err := s.Resolve(ctx, complaint, classification)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	out.Resolution = resolution
	return out, nil
}

// IngestComplaints normalizes raw records, stores the valid ones and applies
// the newly stored records to the aggregate snapshot. Invalid records are
// reported per index; they never fail the batch.
func (s *TriageService) IngestComplaints(ctx context.Context, raws []models.RawRecord) (*IngestReport, error) {
	report := &IngestReport{Received: len(raws), Rejected: []Rejection{}}

	valid := make([]models.ComplaintRecord, 0, len(raws))
	for i, raw := range raws {
		rec, err := normalizer.Normalize(raw)
		if err != nil {
			report.Rejected = append(report.Rejected, Rejection{Index: i, ID: raw.ID, Reason: err.Error()})
			continue
		}
		valid = append(valid, rec)
	}

	inserted, err := s.complaints.Insert(ctx, valid)
	if err != nil {
		return nil, fmt.Errorf("store complaints: %w", err)
	}
	report.Accepted = len(inserted)
	report.Duplicates = len(valid) - len(inserted)

	snap := s.aggregator.Ingest(inserted)
	report.SnapshotID = snap.View().ID

	s.metrics.RecordIngest(len(inserted), len(report.Rejected))
	s.logger.Info("Complaints ingested",
		zap.Int("received", report.Received),
		zap.Int("accepted", report.Accepted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("rejected", len(report.Rejected)))
	return report, nil
}

// Snapshot returns the current aggregate view.
func (s *TriageService) Snapshot() *models.AggregateSnapshot {
	return s.aggregator.Current().View()
}

// Trend returns the monthly volume of category from the current snapshot.
func (s *TriageService) Trend(category string, months int) models.CategoryTrend {
	return s.aggregator.Current().Trend(category, months)
}

// Complaint returns a stored complaint.
func (s *TriageService) Complaint(ctx context.Context, id string) (*models.ComplaintRecord, error) {
	rec, err := s.complaints.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("complaint", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get complaint: %w", err)
	}
	return rec, nil
}

// Events returns the audit trail of a complaint, oldest first.
func (s *TriageService) Events(ctx context.Context, complaintID string) ([]models.TriageEvent, error) {
	if s.events == nil {
		return []models.TriageEvent{}, nil
	}
	events, err := s.events.ListByComplaint(ctx, complaintID)
	if err != nil {
		return nil, fmt.Errorf("list triage events: %w", err)
	}
	if events == nil {
		events = []models.TriageEvent{}
	}
	return events, nil
}

// Coverage reports how far the snapshot trails the stored corpus.
func (s *TriageService) Coverage(ctx context.Context) (*Coverage, error) {
	view := s.aggregator.Current().View()
	stored, err := s.complaints.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count complaints: %w", err)
	}
	return &Coverage{
		Stored:     stored,
		Aggregated: view.TotalRecords,
		Pending:    max(0, stored-view.TotalRecords),
		SnapshotID: view.ID,
	}, nil
}

// Outcomes summarizes the audit trail by decision and resolution status.
func (s *TriageService) Outcomes(ctx context.Context) (*Outcomes, error) {
	if s.events == nil {
		return &Outcomes{Classification: map[string]int{}, Resolution: map[string]int{}}, nil
	}
	classification, err := s.events.CountByOutcome(ctx, models.EventClassification)
	if err != nil {
		return nil, fmt.Errorf("count classification outcomes: %w", err)
	}
	resolution, err := s.events.CountByOutcome(ctx, models.EventResolution)
	if err != nil {
		return nil, fmt.Errorf("count resolution outcomes: %w", err)
	}
	return &Outcomes{Classification: classification, Resolution: resolution}, nil
}

func (s *TriageService) audit(ctx context.Context, event models.TriageEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, &event); err != nil {
		s.logger.Warn("Failed to record triage event",
			zap.String("kind", string(event.Kind)),
			zap.String("fingerprint", event.Fingerprint),
			zap.Error(err))
	}
}
