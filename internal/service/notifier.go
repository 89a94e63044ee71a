package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeventeLantos/contact-relay/internal/model"
)

type Notifier interface {
	Notify(ctx context.Context, entries []model.QueueEntry) error
}

type NamedNotifier interface {
	Notifier
	Name() string
}

// NotificationError wraps the failures of one batch notification.
type NotificationError struct {
	Err error
}

func (e *NotificationError) Error() string { return "notification failed: " + e.Err.Error() }

func (e *NotificationError) Unwrap() error { return e.Err }

// MultiNotifier sends the batch through every channel. All channels are
// tried even if one fails.
type MultiNotifier []NamedNotifier

func (m MultiNotifier) Notify(ctx context.Context, entries []model.QueueEntry) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, entries); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}
