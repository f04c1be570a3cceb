package server

import (
	"cmp"
	"slices"
	"time"

	"github.com/npezzotti/go-cloudclip/internal/types"
)

// HistoryLog is a room's bounded message record. It holds no lock; the
// owning RoomHub serializes access.
type HistoryLog struct {
	limit    int
	messages []types.Message
}

func NewHistoryLog(limit int) *HistoryLog {
	if limit < 1 {
		limit = 1
	}
	return &HistoryLog{limit: limit}
}

func compareMessages(a, b types.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Id, b.Id)
}

// Append inserts msg and evicts the chronologically oldest entries beyond
// the limit, returning them oldest first.
func (l *HistoryLog) Append(msg types.Message) []types.Message {
	l.messages = append(l.messages, msg)
	// keep (createdAt, id) order even when timestamps arrive out of order
	slices.SortStableFunc(l.messages, compareMessages)

	excess := len(l.messages) - l.limit
	if excess <= 0 {
		return nil
	}

	evicted := slices.Clone(l.messages[:excess])
	l.messages = slices.Delete(l.messages, 0, excess)
	return evicted
}

// Snapshot returns a copy of the log, oldest first.
func (l *HistoryLog) Snapshot() []types.Message {
	return slices.Clone(l.messages)
}

func (l *HistoryLog) Get(id int64) (types.Message, bool) {
	for _, m := range l.messages {
		if m.Id == id {
			return m, true
		}
	}
	return types.Message{}, false
}

func (l *HistoryLog) Latest() (types.Message, bool) {
	if len(l.messages) == 0 {
		return types.Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

func (l *HistoryLog) RemoveById(id int64) (types.Message, bool) {
	for i, m := range l.messages {
		if m.Id == id {
			l.messages = slices.Delete(l.messages, i, i+1)
			return m, true
		}
	}
	return types.Message{}, false
}

// Clear empties the log and returns everything it held, oldest first.
func (l *HistoryLog) Clear() []types.Message {
	all := l.messages
	l.messages = nil
	return all
}

// RemoveByFile drops the file messages that reference blob uuid.
func (l *HistoryLog) RemoveByFile(uuid string) []types.Message {
	var removed []types.Message
	l.messages = slices.DeleteFunc(l.messages, func(m types.Message) bool {
		if m.IsFile() && m.File.UUID == uuid {
			removed = append(removed, m)
			return true
		}
		return false
	})
	return removed
}

// RemoveExpired drops file messages whose blobs have expired at now.
func (l *HistoryLog) RemoveExpired(now time.Time) []types.Message {
	var expired []types.Message
	l.messages = slices.DeleteFunc(l.messages, func(m types.Message) bool {
		if m.Expired(now) {
			expired = append(expired, m)
			return true
		}
		return false
	})
	return expired
}

func (l *HistoryLog) Len() int {
	return len(l.messages)
}

func (l *HistoryLog) Limit() int {
	return l.limit
}
