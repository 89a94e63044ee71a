package service

import (
	"context"
	"log/slog"

	"github.com/LeventeLantos/contact-relay/internal/model"
)

type Enqueuer interface {
	Enqueue(sub model.Submission) (model.QueueEntry, error)
}

// ContactService accepts contact form submissions. Content is not checked
// here; the only way Submit fails is if the queue could not be written.
type ContactService struct {
	queue Enqueuer
	log   *slog.Logger
}

func NewContactService(q Enqueuer, logger *slog.Logger) *ContactService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContactService{queue: q, log: logger.With("component", "intake")}
}

func (s *ContactService) Submit(ctx context.Context, sub model.Submission) (model.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return model.QueueEntry{}, err
	}

	entry, err := s.queue.Enqueue(sub)
	if err != nil {
		s.log.Error("failed to enqueue contact submission", "error", err)
		return model.QueueEntry{}, err
	}

	s.log.Info("contact submission queued", "entry_id", entry.ID, "created_at", entry.CreatedAt)
	return entry, nil
}
