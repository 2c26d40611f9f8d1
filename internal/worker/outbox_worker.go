package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/remote"
	"fintrack/internal/storage"
)

const (
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second

	// delivered rows are kept this long for inspection before purging
	deliveredRetention = 7 * 24 * time.Hour
)

// Delivery outcomes, also used as metric labels.
const (
	OutcomeDone    = "done"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Outbox is the part of the SQLite repository the worker drives.
type Outbox interface {
	GetPendingSave(ctx context.Context, id string) (storage.PendingSave, error)
	DuePendingSaves(ctx context.Context, now time.Time, limit int) ([]storage.PendingSave, error)
	CountPendingSaves(ctx context.Context) (int, error)
	MarkSaveDone(ctx context.Context, id, remoteID string) error
	MarkSaveRetry(ctx context.Context, id string, cause error, next time.Time) error
	MarkSaveFailed(ctx context.Context, id string, cause error) error
	PurgeDelivered(ctx context.Context, before time.Time) (int, error)
}

// RecordSaver is satisfied by remote.Client.
type RecordSaver interface {
	SaveRecord(ctx context.Context, rec remote.NewRecord) (string, error)
}

type Config struct {
	BatchSize   int
	MaxAttempts int
	Interval    time.Duration
	Metrics     metrics.Collector
	Logger      *log.Logger
}

// OutboxWorker replays saves that could not reach the data service.
type OutboxWorker struct {
	outbox      Outbox
	saver       RecordSaver
	batchSize   int
	maxAttempts int
	interval    time.Duration
	metrics     metrics.Collector
	logger      *log.Logger
	now         func() time.Time

	// serializes deliveries so the AMQP consumer and the poll never send the same row twice
	mu sync.Mutex
}

func NewOutboxWorker(outbox Outbox, saver RecordSaver, cfg Config) *OutboxWorker {
	w := &OutboxWorker{
		outbox:      outbox,
		saver:       saver,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		interval:    cfg.Interval,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         time.Now,
	}
	if w.batchSize <= 0 {
		w.batchSize = 10
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 8
	}
	if w.interval <= 0 {
		w.interval = 30 * time.Second
	}
	if w.metrics == nil {
		w.metrics = metrics.NoOpCollector{}
	}
	if w.logger == nil {
		w.logger = log.Discard()
	}
	w.logger = w.logger.WithComponent(log.ComponentWorker)
	return w
}

// Backoff is the delay before the next try after `attempt` failed tries:
// 1s doubling, capped at 30s.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		return maxBackoff
	}
	d := baseBackoff << attempt
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// HandleMessage processes one AMQP wake-up. Only storage errors are
// returned, so the broker requeues the message; everything else is
// settled in the outbox and the poll picks up retries.
func (w *OutboxWorker) HandleMessage(ctx context.Context, msg *amqp.PendingSaveMessage) error {
	outcome, err := w.deliver(ctx, msg.ID)
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.WarnContext(ctx, "Pending save from message not found", log.FieldPendingID, msg.ID)
		return nil
	}
	if err != nil {
		return err
	}
	w.logger.DebugContext(ctx, "Pending save message handled", log.FieldPendingID, msg.ID, "outcome", outcome)
	return nil
}

// ProcessDue drains up to limit due saves and reports how many were delivered.
// It is the backup path for lost or never-published messages.
func (w *OutboxWorker) ProcessDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = w.batchSize
	}
	due, err := w.outbox.DuePendingSaves(ctx, w.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("get due pending saves: %w", err)
	}

	delivered := 0
	for _, ps := range due {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		outcome, err := w.deliver(ctx, ps.ID)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to process pending save", log.FieldPendingID, ps.ID, log.FieldError, err)
			continue
		}
		if outcome == OutcomeDone {
			delivered++
		}
	}

	if len(due) > 0 {
		w.logger.InfoContext(ctx, "Processed due pending saves",
			log.FieldCount, len(due),
			"delivered", delivered)
	}
	w.recordDepth(ctx)
	return delivered, nil
}

// StartupCheck drains a larger batch once, to recover from worker downtime.
func (w *OutboxWorker) StartupCheck(ctx context.Context) error {
	n, err := w.ProcessDue(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup outbox check: %w", err)
	}
	w.logger.InfoContext(ctx, "Startup outbox check completed", "delivered", n)
	return nil
}

// Run polls the outbox every interval until ctx is done. Delivered rows
// older than a week are purged once a day.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	purge := time.NewTicker(24 * time.Hour)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessDue(ctx, 0); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Periodic outbox drain failed", log.FieldError, err)
			}
		case <-purge.C:
			n, err := w.outbox.PurgeDelivered(ctx, w.now().Add(-deliveredRetention))
			if err != nil {
				w.logger.ErrorContext(ctx, "Purging delivered saves failed", log.FieldError, err)
				continue
			}
			w.logger.InfoContext(ctx, "Purged delivered saves", log.FieldCount, n)
		}
	}
}

func (w *OutboxWorker) deliver(ctx context.Context, id string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ps, err := w.outbox.GetPendingSave(ctx, id)
	if err != nil {
		return "", err
	}
	if ps.Status != storage.StatusPending || ps.NextAttemptAt.After(w.now()) {
		return OutcomeSkipped, nil
	}

	var rec remote.NewRecord
	if err := json.Unmarshal(ps.Payload, &rec); err != nil {
		return w.settle(ctx, ps, OutcomeFailed, fmt.Errorf("decode payload: %w", err))
	}

	remoteID, err := w.saver.SaveRecord(ctx, rec)
	if err == nil {
		if err := w.outbox.MarkSaveDone(ctx, ps.ID, remoteID); err != nil {
			return "", err
		}
		w.metrics.RecordOutboxDelivery(OutcomeDone)
		w.logger.InfoContext(ctx, "Pending save delivered",
			log.FieldPendingID, ps.ID,
			log.FieldUserID, ps.UserID,
			log.FieldRecordID, remoteID)
		return OutcomeDone, nil
	}

	if remote.IsTemporary(err) && ps.Attempts+1 < w.maxAttempts {
		return w.settle(ctx, ps, OutcomeRetry, err)
	}
	return w.settle(ctx, ps, OutcomeFailed, err)
}

func (w *OutboxWorker) settle(ctx context.Context, ps storage.PendingSave, outcome string, cause error) (string, error) {
	var err error
	if outcome == OutcomeRetry {
		next := w.now().Add(Backoff(ps.Attempts))
		err = w.outbox.MarkSaveRetry(ctx, ps.ID, cause, next)
	} else {
		err = w.outbox.MarkSaveFailed(ctx, ps.ID, cause)
	}
	if err != nil {
		return "", err
	}

	w.metrics.RecordOutboxDelivery(outcome)
	w.logger.WarnContext(ctx, "Pending save not delivered",
		log.FieldPendingID, ps.ID,
		log.FieldAttempt, ps.Attempts+1,
		"outcome", outcome,
		log.FieldError, cause)
	return outcome, nil
}

func (w *OutboxWorker) recordDepth(ctx context.Context) {
	n, err := w.outbox.CountPendingSaves(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "Could not count pending saves", log.FieldError, err)
		return
	}
	w.metrics.RecordOutboxDepth(n)
}
