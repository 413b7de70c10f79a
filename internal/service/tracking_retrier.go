package service

import (
	"alcyxob/coaching-app/internal/logger"
	"alcyxob/coaching-app/internal/outbox"
	"alcyxob/coaching-app/internal/repository"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const drainTimeout = time.Minute

// TrackingRetrier replays generation records whose first write failed.
type TrackingRetrier struct {
	queue   outbox.Queue
	records repository.GenerationRecordRepository
	log     *slog.Logger
}

func NewTrackingRetrier(queue outbox.Queue, records repository.GenerationRecordRepository, log *slog.Logger) *TrackingRetrier {
	return &TrackingRetrier{
		queue:   queue,
		records: records,
		log:     logger.OrDefault(log).With(slog.String("component", "tracking-retrier")),
	}
}

// DrainResult counts what one pass did.
type DrainResult struct {
	Stored   int
	Requeued int
}

// Drain makes one pass over the records queued when it starts. A record
// that already exists counts as stored. Records that still fail go back to
// the end of the queue.
func (r *TrackingRetrier) Drain(ctx context.Context) (DrainResult, error) {
	const op = "service.TrackingRetrier.Drain"

	var res DrainResult
	n, err := r.queue.Len(ctx)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}

	for i := int64(0); i < n; i++ {
		rec, err := r.queue.Dequeue(ctx)
		if err != nil {
			return res, fmt.Errorf("%s: %w", op, err)
		}
		if rec == nil {
			break
		}

		_, err = r.records.Create(ctx, rec)
		if err == nil || errors.Is(err, repository.ErrDuplicate) {
			res.Stored++
			continue
		}

		r.log.Warn("generation record still not stored",
			slog.String("record_id", rec.ID.Hex()), logger.Err(err))
		if qerr := r.queue.Enqueue(context.WithoutCancel(ctx), rec); qerr != nil {
			return res, fmt.Errorf("%s: requeue %s: %w", op, rec.ID.Hex(), qerr)
		}
		res.Requeued++
	}

	if res.Stored > 0 || res.Requeued > 0 {
		r.log.Info("outbox drained", slog.Int("stored", res.Stored), slog.Int("requeued", res.Requeued))
	}
	return res, nil
}

// Schedule registers Drain on c under the given cron spec, e.g. "@every 5m".
func (r *TrackingRetrier) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if _, err := r.Drain(ctx); err != nil {
			r.log.Error("outbox drain failed", logger.Err(err))
		}
	})
}
