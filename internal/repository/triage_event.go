package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"zeroledger/internal/models"
)

// TriageEventRepository is the audit trail of classification and resolution
// outcomes.
type TriageEventRepository interface {
	Record(ctx context.Context, event *models.TriageEvent) error
	ListByComplaint(ctx context.Context, complaintID string) ([]models.TriageEvent, error)
	CountByOutcome(ctx context.Context, kind models.EventKind) (map[string]int, error)
}

type triageEventRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewTriageEventRepository(db *sqlx.DB, logger *zap.Logger) TriageEventRepository {
	return &triageEventRepository{db: db, logger: logger, now: time.Now}
}

func (r *triageEventRepository) Record(ctx context.Context, event *models.TriageEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now().UTC()
	}

	query := r.db.Rebind(`INSERT INTO triage_events (complaint_id, kind, fingerprint, label, outcome, confidence, model, detail, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := r.db.QueryRowxContext(ctx, query,
		event.ComplaintID, string(event.Kind), event.Fingerprint, event.Label,
		event.Outcome, event.Confidence, event.Model, event.Detail, event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to record triage event: %w", err)
	}
	return nil
}

func (r *triageEventRepository) ListByComplaint(ctx context.Context, complaintID string) ([]models.TriageEvent, error) {
	var events []models.TriageEvent
	query := r.db.Rebind(`SELECT id, complaint_id, kind, fingerprint, label, outcome, confidence, model, detail, created_at
	          FROM triage_events WHERE complaint_id = ? ORDER BY id`)
	if err := r.db.SelectContext(ctx, &events, query, complaintID); err != nil {
		return nil, fmt.Errorf("failed to list triage events: %w", err)
	}
	return events, nil
}

func (r *triageEventRepository) CountByOutcome(ctx context.Context, kind models.EventKind) (map[string]int, error) {
	query := r.db.Rebind(`SELECT outcome, COUNT(*) FROM triage_events WHERE kind = ? GROUP BY outcome`)
	rows, err := r.db.QueryxContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to count triage events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan triage event count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
