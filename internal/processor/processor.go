// Package processor runs the scheduled batch jobs: pulling newly stored
// complaints into the aggregate snapshot and reconciling the snapshot
// against a full recompute.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"zeroledger/internal/aggregation"
	"zeroledger/internal/apperr"
	"zeroledger/internal/models"
)

// Complaints is the cursor-based view of the corpus.
type Complaints interface {
	ListAfter(ctx context.Context, seq int64, limit int) ([]models.ComplaintRecord, error)
	MaxSeq(ctx context.Context) (int64, error)
}

// Engine is satisfied by *aggregation.Engine.
type Engine interface {
	Refresh(ctx context.Context) (*aggregation.Snapshot, error)
	Current() *aggregation.Snapshot
	Ingest(records []models.ComplaintRecord) *aggregation.Snapshot
	Reconcile(ctx context.Context) error
}

// Config holds the job schedules in robfig/cron syntax ("@every 1m",
// "0 * * * *").
type Config struct {
	IngestSchedule    string
	ReconcileSchedule string
	BatchSize         int
	JobTimeout        time.Duration
	// Lookback is how many seqs below the cursor each ingest run re-reads.
	// Concurrent inserts can commit out of seq order on Postgres, leaving a
	// row below a cursor that already moved past it. 0 disables.
	Lookback int64
}

// Processor owns the cron scheduler and the ingest cursor.
type Processor struct {
	complaints Complaints
	engine     Engine
	cfg        Config
	logger     *zap.Logger

	cron *cron.Cron

	mu     sync.Mutex
	cursor int64
}

func NewProcessor(complaints Complaints, engine Engine, cfg Config, logger *zap.Logger) (*Processor, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	for _, schedule := range []string{cfg.IngestSchedule, cfg.ReconcileSchedule} {
		if schedule == "" {
			continue
		}
		if _, err := cron.ParseStandard(schedule); err != nil {
			return nil, apperr.Configuration("schedule", fmt.Sprintf("invalid schedule %q: %v", schedule, err))
		}
	}

	cl := cronLogger{logger: logger.Sugar()}
	return &Processor{
		complaints: complaints,
		engine:     engine,
		cfg:        cfg,
		logger:     logger,
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}, nil
}

// Start builds the initial snapshot, registers the jobs and starts the
// scheduler. The scheduler stops when ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	// The cursor is read before the refresh so nothing stored in between is
	// skipped; records seen twice are deduplicated by the engine.
	seq, err := p.complaints.MaxSeq(ctx)
	if err != nil {
		return fmt.Errorf("read ingest cursor: %w", err)
	}
	if _, err := p.engine.Refresh(ctx); err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}
	p.setCursor(seq)

	if p.cfg.IngestSchedule != "" {
		if _, err := p.cron.AddFunc(p.cfg.IngestSchedule, func() { p.runIngest(ctx) }); err != nil {
			return fmt.Errorf("schedule ingest: %w", err)
		}
	}
	if p.cfg.ReconcileSchedule != "" {
		if _, err := p.cron.AddFunc(p.cfg.ReconcileSchedule, func() { p.runReconcile(ctx) }); err != nil {
			return fmt.Errorf("schedule reconcile: %w", err)
		}
	}

	p.cron.Start()
	p.logger.Info("Batch processor started",
		zap.String("ingest_schedule", p.cfg.IngestSchedule),
		zap.String("reconcile_schedule", p.cfg.ReconcileSchedule),
		zap.Int64("cursor", seq))

	go func() {
		<-ctx.Done()
		<-p.cron.Stop().Done()
		p.logger.Info("Batch processor stopped")
	}()
	return nil
}

// Cursor returns the highest complaint seq applied by the ingest job.
func (p *Processor) Cursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func (p *Processor) setCursor(seq int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq > p.cursor {
		p.cursor = seq
	}
}

// IngestPending applies every complaint stored after the cursor, page by
// page, plus late commits within the lookback window, and returns how many
// records were read.
func (p *Processor) IngestPending(ctx context.Context) (int, error) {
	total, err := p.ingestLate(ctx)
	if err != nil {
		return total, err
	}
	for {
		cursor := p.Cursor()
		page, err := p.complaints.ListAfter(ctx, cursor, p.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("list complaints after %d: %w", cursor, err)
		}
		if len(page) == 0 {
			return total, nil
		}

		p.engine.Ingest(page)
		p.setCursor(page[len(page)-1].Seq)
		total += len(page)

		if len(page) < p.cfg.BatchSize {
			return total, nil
		}
	}
}

// ingestLate applies records in (cursor-Lookback, cursor] that the current
// snapshot does not hold yet.
func (p *Processor) ingestLate(ctx context.Context) (int, error) {
	cursor := p.Cursor()
	if p.cfg.Lookback <= 0 || cursor == 0 {
		return 0, nil
	}

	current := p.engine.Current()
	var late []models.ComplaintRecord
	for seq := max(0, cursor-p.cfg.Lookback); seq < cursor; {
		page, err := p.complaints.ListAfter(ctx, seq, p.cfg.BatchSize)
		if err != nil {
			return 0, fmt.Errorf("list complaints after %d: %w", seq, err)
		}
		for _, r := range page {
			if r.Seq <= cursor && !current.Contains(r.ID) {
				late = append(late, r)
			}
		}
		if len(page) < p.cfg.BatchSize {
			break
		}
		seq = page[len(page)-1].Seq
	}

	if len(late) > 0 {
		p.engine.Ingest(late)
		p.logger.Warn("Ingested complaints committed behind the cursor",
			zap.Int("count", len(late)),
			zap.Int64("cursor", cursor))
	}
	return len(late), nil
}

func (p *Processor) runIngest(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	n, err := p.IngestPending(ctx)
	if err != nil {
		p.logger.Error("Ingest job failed", zap.Int("ingested", n), zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("Ingest job completed",
			zap.Int("ingested", n),
			zap.Int64("cursor", p.Cursor()),
			zap.Duration("took", time.Since(start)))
	}
}

func (p *Processor) runReconcile(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	err := p.engine.Reconcile(ctx)
	var inconsistency *apperr.AggregationInconsistency
	switch {
	case err == nil:
	case errors.As(err, &inconsistency):
		// Already alerted and repaired by the engine.
		p.logger.Warn("Reconcile repaired snapshot drift", zap.String("detail", inconsistency.Detail))
	default:
		p.logger.Error("Reconcile job failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
