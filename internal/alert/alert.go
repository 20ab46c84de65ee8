// Package alert delivers operational alerts: aggregation inconsistencies and
// circuit breakers opening.
package alert

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a single operational event.
type Alert struct {
	Source   string
	Severity Severity
	Summary  string
	Detail   string
	At       time.Time
}

// Notifier delivers alerts. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, a Alert) error {
	fields := []zap.Field{
		zap.String("source", a.Source),
		zap.String("severity", string(a.Severity)),
		zap.String("detail", a.Detail),
		zap.Time("at", a.At),
	}
	if a.Severity == SeverityCritical {
		n.logger.Error(a.Summary, fields...)
	} else {
		n.logger.Warn(a.Summary, fields...)
	}
	return nil
}

// Multi fans an alert out to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Async hands alerts to a background goroutine so Notify never blocks the
// caller. Each delivery gets its own timeout; failures are logged.
type Async struct {
	next    Notifier
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewAsync(next Notifier, timeout time.Duration, logger *zap.Logger) *Async {
	return &Async{next: next, timeout: timeout, logger: logger}
}

func (n *Async) Notify(_ context.Context, a Alert) error {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.next.Notify(ctx, a); err != nil {
			n.logger.Warn("Failed to deliver alert",
				zap.String("source", a.Source),
				zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every pending delivery has finished.
func (n *Async) Wait() {
	n.wg.Wait()
}
