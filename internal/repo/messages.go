package repo

import (
	"context"
	"time"

	"github.com/LeventeLantos/contact-relay/internal/model"
)

type MessageRepository interface {
	Insert(ctx context.Context, entry model.QueueEntry) (model.PersistedMessage, error)
	ListRecent(ctx context.Context, limit, offset int) ([]model.PersistedMessage, error)
}

// Pinger is what the liveness prober needs from the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ServerInfo struct {
	Now     time.Time `json:"currentTime"`
	Version string    `json:"dbVersion"`
}
