package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/LeventeLantos/contact-relay/internal/cache"
	"github.com/LeventeLantos/contact-relay/internal/model"
	"github.com/LeventeLantos/contact-relay/internal/queue"
)

var ErrDrainRunning = errors.New("drain already running")

type EntryWriter interface {
	Insert(ctx context.Context, entry model.QueueEntry) (model.PersistedMessage, error)
}

type DrainQueue interface {
	Snapshot() ([]model.QueueEntry, error)
	Commit(o queue.Outcome, maxAttempts int) ([]model.DeadLetter, error)
}

type DrainResult struct {
	Pending      int   `json:"pending"`
	Delivered    int   `json:"delivered"`
	Retained     int   `json:"retained"`
	DeadLettered int   `json:"deadLettered"`
	Notified     bool  `json:"notified"`
	NotifyErr    error `json:"-"`
}

// Drainer moves queued contact messages into the message store. Each entry
// is written on its own; failures stay queued for the next run. Successful
// entries are announced in one notification and then dropped from the queue
// whether or not the notification went out.
type Drainer struct {
	queue  DrainQueue
	writer EntryWriter
	log    *slog.Logger

	notifier     Notifier
	cache        cache.DeliveryCache
	maxAttempts  int
	writeTimeout time.Duration

	running atomic.Bool
	now     func() time.Time
}

func NewDrainer(q DrainQueue, w EntryWriter, logger *slog.Logger) *Drainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Drainer{
		queue:        q,
		writer:       w,
		log:          logger.With("component", "drainer"),
		writeTimeout: 30 * time.Second,
		now:          time.Now,
	}
}

func (d *Drainer) WithNotifier(n Notifier) *Drainer {
	d.notifier = n
	return d
}

func (d *Drainer) WithCache(c cache.DeliveryCache) *Drainer {
	d.cache = c
	return d
}

// WithMaxAttempts sets how many failed writes an entry gets before it is
// dead-lettered. 0 retries forever.
func (d *Drainer) WithMaxAttempts(n int) *Drainer {
	d.maxAttempts = n
	return d
}

func (d *Drainer) WithWriteTimeout(t time.Duration) *Drainer {
	if t > 0 {
		d.writeTimeout = t
	}
	return d
}

func (d *Drainer) IsRunning() bool {
	return d.running.Load()
}

// Tick adapts Run to the scheduler.
func (d *Drainer) Tick(ctx context.Context) {
	if _, err := d.Run(ctx); err != nil && !errors.Is(err, ErrDrainRunning) {
		d.log.Error("drain cycle failed", "error", err)
	}
}

// Run performs one drain cycle. It returns ErrDrainRunning if another cycle
// is in progress, and a queue write error if the outcome could not be
// committed (the entries are then retried, which may duplicate rows).
func (d *Drainer) Run(ctx context.Context) (DrainResult, error) {
	if !d.running.CompareAndSwap(false, true) {
		return DrainResult{}, ErrDrainRunning
	}
	defer d.running.Store(false)

	var res DrainResult

	entries, err := d.queue.Snapshot()
	if err != nil {
		d.log.Warn("queue read failed", "error", err)
	}
	res.Pending = len(entries)
	if len(entries) == 0 {
		return res, nil
	}

	outcome := queue.Outcome{Failed: make(map[string]string)}
	var delivered []model.QueueEntry

	for _, e := range entries {
		if ctx.Err() != nil {
			d.log.Info("drain interrupted, leaving remaining entries queued", "remaining", len(entries)-len(outcome.Delivered)-len(outcome.Failed))
			break
		}

		if d.seenBefore(ctx, e) {
			d.log.Info("entry already stored, dropping from queue", "entry_id", e.ID)
			outcome.Delivered = append(outcome.Delivered, e.ID)
			continue
		}

		msg, err := d.write(ctx, e)
		if err != nil {
			d.log.Warn("failed to store queued message", "entry_id", e.ID, "attempt", e.Attempts+1, "error", err)
			outcome.Failed[e.ID] = err.Error()
			continue
		}

		d.remember(ctx, e, msg)
		outcome.Delivered = append(outcome.Delivered, e.ID)
		delivered = append(delivered, e)
	}

	res.Delivered = len(outcome.Delivered)

	if len(delivered) > 0 && d.notifier != nil {
		if err := d.notify(ctx, delivered); err != nil {
			res.NotifyErr = &NotificationError{Err: err}
			d.log.Error("failed to send notification", "count", len(delivered), "error", err)
		} else {
			res.Notified = true
			d.log.Info("notification sent", "count", len(delivered))
		}
	}

	dead, err := d.queue.Commit(outcome, d.maxAttempts)
	if err != nil {
		return res, err
	}

	res.DeadLettered = len(dead)
	res.Retained = len(outcome.Failed) - len(dead)
	for _, l := range dead {
		d.log.Error("entry moved to dead-letter list, operator action required",
			"entry_id", l.ID,
			"email", l.Email,
			"attempts", l.Attempts,
			"reason", l.Reason,
		)
	}

	d.log.Info("drain cycle finished",
		"pending", res.Pending,
		"delivered", res.Delivered,
		"retained", res.Retained,
		"dead_lettered", res.DeadLettered,
	)
	return res, nil
}

// write and notify outlive a cancelled drain context so an insert already
// started is not counted as a failure and stored entries still get announced.
func (d *Drainer) write(ctx context.Context, e model.QueueEntry) (model.PersistedMessage, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.writeTimeout)
	defer cancel()
	return d.writer.Insert(ctx, e)
}

func (d *Drainer) notify(ctx context.Context, entries []model.QueueEntry) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.writeTimeout)
	defer cancel()
	return d.notifier.Notify(ctx, entries)
}

// seenBefore reports whether the cache says e was stored by an earlier run.
// Cache errors count as "not seen".
func (d *Drainer) seenBefore(ctx context.Context, e model.QueueEntry) bool {
	if d.cache == nil {
		return false
	}
	ok, err := d.cache.Delivered(ctx, e.ID)
	if err != nil {
		d.log.Warn("delivery cache lookup failed", "entry_id", e.ID, "error", err)
		return false
	}
	return ok
}

func (d *Drainer) remember(ctx context.Context, e model.QueueEntry, msg model.PersistedMessage) {
	if d.cache == nil {
		return
	}
	if err := d.cache.MarkDelivered(context.WithoutCancel(ctx), e.ID, msg.ID, d.now()); err != nil {
		d.log.Warn("delivery cache write failed", "entry_id", e.ID, "error", err)
	}
}
