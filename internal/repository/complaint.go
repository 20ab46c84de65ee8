package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"zeroledger/internal/models"
)

// ComplaintRepository stores the normalized corpus. Seq is assigned on
// insert and gives the batch processor a monotonic cursor.
type ComplaintRepository interface {
	Insert(ctx context.Context, records []models.ComplaintRecord) ([]models.ComplaintRecord, error)
	GetByID(ctx context.Context, id string) (*models.ComplaintRecord, error)
	ListAll(ctx context.Context) ([]models.ComplaintRecord, error)
	ListAfter(ctx context.Context, seq int64, limit int) ([]models.ComplaintRecord, error)
	MaxSeq(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int, error)
}

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const complaintColumns = `seq, id, narrative, normalized_narrative, submitted_at, region, company, product, sub_issue, timely`

type complaintRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewComplaintRepository(db *sqlx.DB, logger *zap.Logger) ComplaintRepository {
	return &complaintRepository{db: db, logger: logger}
}

// Insert stores records in one transaction and returns those that were new.
// Records whose ID already exists are skipped.
func (r *complaintRepository) Insert(ctx context.Context, records []models.ComplaintRecord) ([]models.ComplaintRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := r.db.Rebind(`INSERT INTO complaints (id, narrative, normalized_narrative, submitted_at, region, company, product, sub_issue, timely)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT (id) DO NOTHING
	          RETURNING seq`)

	inserted := make([]models.ComplaintRecord, 0, len(records))
	for _, rec := range records {
		var seq int64
		err := tx.QueryRowxContext(ctx, query,
			rec.ID, rec.Narrative, rec.NormalizedNarrative, rec.SubmittedAt.UTC(),
			rec.Region, rec.Company, rec.Product, rec.SubIssue, int(rec.Timely),
		).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert complaint %s: %w", rec.ID, err)
		}
		rec.Seq = seq
		inserted = append(inserted, rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert: %w", err)
	}

	r.logger.Debug("Complaints stored",
		zap.Int("submitted", len(records)),
		zap.Int("inserted", len(inserted)))
	return inserted, nil
}

func (r *complaintRepository) GetByID(ctx context.Context, id string) (*models.ComplaintRecord, error) {
	var rec models.ComplaintRecord
	query := r.db.Rebind(`SELECT ` + complaintColumns + ` FROM complaints WHERE id = ?`)
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get complaint: %w", err)
	}
	return &rec, nil
}

func (r *complaintRepository) ListAll(ctx context.Context) ([]models.ComplaintRecord, error) {
	var records []models.ComplaintRecord
	query := `SELECT ` + complaintColumns + ` FROM complaints ORDER BY seq`
	if err := r.db.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("failed to list complaints: %w", err)
	}
	return records, nil
}

func (r *complaintRepository) ListAfter(ctx context.Context, seq int64, limit int) ([]models.ComplaintRecord, error) {
	var records []models.ComplaintRecord
	query := r.db.Rebind(`SELECT ` + complaintColumns + ` FROM complaints WHERE seq > ? ORDER BY seq LIMIT ?`)
	if err := r.db.SelectContext(ctx, &records, query, seq, limit); err != nil {
		return nil, fmt.Errorf("failed to list complaints after %d: %w", seq, err)
	}
	return records, nil
}

func (r *complaintRepository) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.db.GetContext(ctx, &seq, `SELECT COALESCE(MAX(seq), 0) FROM complaints`); err != nil {
		return 0, fmt.Errorf("failed to get max seq: %w", err)
	}
	return seq, nil
}

func (r *complaintRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM complaints`); err != nil {
		return 0, fmt.Errorf("failed to count complaints: %w", err)
	}
	return n, nil
}
