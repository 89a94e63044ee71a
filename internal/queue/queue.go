package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/contact-relay/internal/model"
)

// Queue holds contact submissions that have not reached the message store
// yet, plus the dead-letter list for entries that ran out of attempts.
type Queue struct {
	entries *Document[model.QueueEntry]
	dead    *Document[model.DeadLetter]
	log     *slog.Logger

	requeueMu sync.Mutex

	now   func() time.Time
	newID func() string
}

func New(queuePath, deadLetterPath string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "queue")
	return &Queue{
		entries: NewDocument[model.QueueEntry](queuePath, logger),
		dead:    NewDocument[model.DeadLetter](deadLetterPath, logger),
		log:     logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Ensure creates both documents if missing. Call it before serving traffic.
func (q *Queue) Ensure() error {
	if err := q.entries.Ensure(); err != nil {
		return err
	}
	return q.dead.Ensure()
}

// Enqueue stamps the submission and appends it. It returns only after the
// queue document has been written.
func (q *Queue) Enqueue(sub model.Submission) (model.QueueEntry, error) {
	entry := model.QueueEntry{
		ID:        q.newID(),
		Name:      sub.Name,
		Email:     sub.Email,
		Message:   sub.Message,
		CreatedAt: q.now().UTC(),
	}

	err := q.entries.Update(func(items []model.QueueEntry) ([]model.QueueEntry, error) {
		return append(items, entry), nil
	})
	if err != nil {
		return model.QueueEntry{}, err
	}
	return entry, nil
}

// Pending returns the queued entries. A *ReadError comes back with an empty
// slice and is safe to log and ignore.
func (q *Queue) Pending() ([]model.QueueEntry, error) {
	return q.entries.Load()
}

var errUnchanged = errors.New("unchanged")

// Snapshot returns the queued entries for a drain pass. Entries persisted
// without an ID get one assigned first, since Commit matches by ID. The
// document is only rewritten when that happens.
func (q *Queue) Snapshot() ([]model.QueueEntry, error) {
	var snap []model.QueueEntry
	err := q.entries.Update(func(items []model.QueueEntry) ([]model.QueueEntry, error) {
		changed := false
		for i := range items {
			if items[i].ID == "" {
				items[i].ID = q.newID()
				changed = true
			}
		}
		snap = append([]model.QueueEntry(nil), items...)
		if !changed {
			return nil, errUnchanged
		}
		return items, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return snap, err
	}
	return snap, nil
}

func (q *Queue) DeadLetters() ([]model.DeadLetter, error) {
	return q.dead.Load()
}

// Outcome is the result of one drain pass, keyed by entry ID.
type Outcome struct {
	Delivered []string
	Failed    map[string]string
}

// Commit applies a drain outcome to the current queue: delivered entries are
// removed, failed ones get their attempt counter bumped, and entries that
// reached maxAttempts (if > 0) move to the dead-letter list. Entries that are
// not part of the outcome, such as ones enqueued while the drain ran, are
// left untouched.
func (q *Queue) Commit(o Outcome, maxAttempts int) ([]model.DeadLetter, error) {
	delivered := make(map[string]struct{}, len(o.Delivered))
	for _, id := range o.Delivered {
		delivered[id] = struct{}{}
	}

	var dead []model.DeadLetter
	err := q.entries.Update(func(items []model.QueueEntry) ([]model.QueueEntry, error) {
		dead = nil
		retained := make([]model.QueueEntry, 0, len(items))
		var exhausted []model.QueueEntry

		for _, e := range items {
			if _, ok := delivered[e.ID]; ok {
				continue
			}
			if reason, ok := o.Failed[e.ID]; ok {
				e.Attempts++
				e.LastError = reason
				if maxAttempts > 0 && e.Attempts >= maxAttempts {
					exhausted = append(exhausted, e)
					continue
				}
			}
			retained = append(retained, e)
		}

		if len(exhausted) == 0 {
			return retained, nil
		}

		now := q.now().UTC()
		letters := make([]model.DeadLetter, 0, len(exhausted))
		for _, e := range exhausted {
			letters = append(letters, model.DeadLetter{
				QueueEntry:     e,
				DeadLetteredAt: now,
				Reason:         fmt.Sprintf("gave up after %d attempts: %s", e.Attempts, e.LastError),
			})
		}

		// Written before the queue so a crash in between duplicates rather
		// than drops.
		if err := q.dead.Update(func(cur []model.DeadLetter) ([]model.DeadLetter, error) {
			return append(cur, letters...), nil
		}); err != nil {
			q.log.Error("dead-letter write failed, keeping entries queued", "error", err, "count", len(letters))
			return append(retained, exhausted...), nil
		}

		dead = letters
		return retained, nil
	})
	if err != nil {
		return nil, err
	}
	return dead, nil
}

// Requeue moves every dead letter back to the queue with a fresh attempt
// budget and returns how many were moved.
func (q *Queue) Requeue() (int, error) {
	q.requeueMu.Lock()
	defer q.requeueMu.Unlock()

	letters, err := q.dead.Load()
	if err != nil {
		q.log.Warn("dead-letter read failed", "error", err)
	}
	if len(letters) == 0 {
		return 0, nil
	}

	moved := make(map[string]struct{}, len(letters))
	err = q.entries.Update(func(items []model.QueueEntry) ([]model.QueueEntry, error) {
		for _, l := range letters {
			e := l.QueueEntry
			e.Attempts = 0
			items = append(items, e)
			moved[e.ID] = struct{}{}
		}
		return items, nil
	})
	if err != nil {
		return 0, err
	}

	err = q.dead.Update(func(cur []model.DeadLetter) ([]model.DeadLetter, error) {
		kept := cur[:0]
		for _, l := range cur {
			if _, ok := moved[l.ID]; !ok {
				kept = append(kept, l)
			}
		}
		return kept, nil
	})
	if err != nil {
		return len(letters), fmt.Errorf("entries requeued but dead-letter list not cleared: %w", err)
	}
	return len(letters), nil
}
