package database

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/npezzotti/go-cloudclip/internal/types"
)

// MemoryLedger keeps messages in process memory.
type MemoryLedger struct {
	mu     sync.Mutex
	nextId int64
	rows   map[int64]types.Message
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{rows: make(map[int64]types.Message)}
}

func (l *MemoryLedger) Ping(context.Context) error { return nil }

func (l *MemoryLedger) Close() error { return nil }

func (l *MemoryLedger) CreateMessage(_ context.Context, msg types.Message) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextId++
	msg.Id = l.nextId
	l.rows[msg.Id] = msg

	return msg.Id, nil
}

func (l *MemoryLedger) DeleteMessages(_ context.Context, ids ...int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range ids {
		delete(l.rows, id)
	}

	return nil
}

func (l *MemoryLedger) ListMessages(_ context.Context, room string) ([]types.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var messages []types.Message
	for _, m := range l.rows {
		if m.Room == room {
			messages = append(messages, m)
		}
	}

	slices.SortFunc(messages, func(a, b types.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Id, b.Id)
	})

	return messages, nil
}
