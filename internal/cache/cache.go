package cache

import (
	"context"
	"time"
)

// DeliveryCache remembers which queue entries already reached the message
// store, so a drain that lost its queue write does not insert them again.
type DeliveryCache interface {
	MarkDelivered(ctx context.Context, entryID string, messageID int64, deliveredAt time.Time) error
	Delivered(ctx context.Context, entryID string) (bool, error)
}
