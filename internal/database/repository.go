package database

import (
	"context"

	"github.com/npezzotti/go-cloudclip/internal/types"
)

// MessageLedger is the durable record of every room's history. It is shared
// by all rooms and must be safe for concurrent use.
type MessageLedger interface {
	Ping(ctx context.Context) error
	// CreateMessage persists msg and returns its id. Ids increase
	// monotonically and are unique across rooms.
	CreateMessage(ctx context.Context, msg types.Message) (int64, error)
	DeleteMessages(ctx context.Context, ids ...int64) error
	// ListMessages returns a room's messages ordered by (created_at, id).
	ListMessages(ctx context.Context, room string) ([]types.Message, error)
	Close() error
}
