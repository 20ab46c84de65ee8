package aggregation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"zeroledger/internal/alert"
	"zeroledger/internal/apperr"
	"zeroledger/internal/models"
	"zeroledger/internal/telemetry"
)

// Source supplies the full corpus for refresh and reconciliation.
type Source interface {
	ListAll(ctx context.Context) ([]models.ComplaintRecord, error)
}

// Engine publishes the current snapshot. Readers never block: they load the
// pointer and see either the old or the new snapshot in full. Writers are
// serialized so increments are never lost.
type Engine struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex

	source   Source
	opts     Options
	notifier alert.Notifier
	metrics  *telemetry.Metrics
	logger   *zap.Logger
}

func NewEngine(source Source, opts Options, notifier alert.Notifier, metrics *telemetry.Metrics, logger *zap.Logger) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		source:   source,
		opts:     opts,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
	e.current.Store(Empty(opts))
	return e
}

// Current returns the published snapshot.
func (e *Engine) Current() *Snapshot {
	return e.current.Load()
}

// Refresh rebuilds the snapshot from the whole corpus and publishes it.
func (e *Engine) Refresh(ctx context.Context) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.source.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	start := time.Now()
	snap, err := Recompute(ctx, records, e.opts)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordSnapshotBuild("recompute", time.Since(start), snap.view.TotalRecords)
	e.current.Store(snap)

	e.logger.Info("Snapshot refreshed",
		zap.String("snapshot_id", snap.view.ID),
		zap.Int("records", snap.view.TotalRecords))
	return snap, nil
}

// Ingest applies new records to the current snapshot. Records already
// counted are ignored.
func (e *Engine) Ingest(records []models.ComplaintRecord) *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	prior := e.current.Load()
	if len(records) == 0 {
		return prior
	}

	start := time.Now()
	next := ApplyIncrement(prior, records, e.opts)
	if next == prior {
		return prior
	}
	e.metrics.RecordSnapshotBuild("increment", time.Since(start), next.view.TotalRecords)
	e.current.Store(next)

	e.logger.Debug("Snapshot incremented",
		zap.String("snapshot_id", next.view.ID),
		zap.Int("added", next.view.TotalRecords-prior.view.TotalRecords))
	return next
}

// Reconcile recomputes the snapshot from the corpus and checks it against
// the incrementally maintained one. Only complaints the current snapshot has
// counted take part in the comparison, so records that reached the corpus
// but not yet the engine do not count as drift. The recomputed snapshot over
// the whole corpus is installed either way. On divergence an
// *apperr.AggregationInconsistency is returned after alerting.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.source.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}

	current := e.current.Load()
	counted := make([]models.ComplaintRecord, 0, len(records))
	for _, r := range records {
		if current.Contains(r.ID) {
			counted = append(counted, r)
		}
	}

	start := time.Now()
	expected, err := Recompute(ctx, counted, e.opts)
	if err != nil {
		return err
	}
	full := expected
	if len(counted) != len(records) {
		if full, err = Recompute(ctx, records, e.opts); err != nil {
			return err
		}
	}
	e.metrics.RecordSnapshotBuild("reconcile", time.Since(start), full.view.TotalRecords)

	diff := Diff(current, expected)
	e.current.Store(full)

	if diff == "" {
		e.logger.Info("Snapshot reconciled",
			zap.String("snapshot_id", full.view.ID),
			zap.Int("records", full.view.TotalRecords))
		return nil
	}

	e.metrics.RecordInconsistency()
	inconsistency := &apperr.AggregationInconsistency{Detail: diff}
	e.logger.Error("Snapshot diverged from recompute",
		zap.String("detail", diff),
		zap.String("replaced_snapshot_id", current.view.ID),
		zap.String("snapshot_id", full.view.ID))

	if e.notifier != nil {
		notifyErr := e.notifier.Notify(ctx, alert.Alert{
			Source:   "aggregation",
			Severity: alert.SeverityCritical,
			Summary:  "Aggregate snapshot diverged from full recompute",
			Detail:   diff,
			At:       e.opts.Now(),
		})
		if notifyErr != nil {
			e.logger.Warn("Failed to deliver inconsistency alert", zap.Error(notifyErr))
		}
	}
	return inconsistency
}
