package server

import (
	"testing"
	"time"

	"github.com/npezzotti/go-cloudclip/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func textAt(id int64, offset time.Duration) types.Message {
	return types.Message{Id: id, Kind: types.KindText, Room: "r", CreatedAt: epoch.Add(offset), Content: "m"}
}

func fileAt(id int64, offset, ttl time.Duration) types.Message {
	m := textAt(id, offset)
	m.Kind = types.KindFile
	m.Content = ""
	m.File = &types.FileInfo{UUID: "blob-" + string(rune('a'+id)), DisplayName: "f.png", ByteSize: 3,
		ExpiresAt: epoch.Add(offset + ttl)}
	return m
}

func ids(msgs []types.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Id)
	}
	return out
}

func TestNewHistoryLog_MinimumLimit(t *testing.T) {
	assert.Equal(t, 1, NewHistoryLog(0).Limit())
	assert.Equal(t, 1, NewHistoryLog(-5).Limit())
	assert.Equal(t, 50, NewHistoryLog(50).Limit())
}

func TestHistoryLog_Append(t *testing.T) {
	tcs := []struct {
		name        string
		limit       int
		appends     []types.Message
		wantIds     []int64
		wantEvicted []int64
	}{
		{
			name:    "under limit",
			limit:   3,
			appends: []types.Message{textAt(1, 0), textAt(2, time.Second)},
			wantIds: []int64{1, 2},
		},
		{
			name:        "evicts oldest",
			limit:       2,
			appends:     []types.Message{textAt(1, 0), textAt(2, time.Second), textAt(3, 2*time.Second)},
			wantIds:     []int64{2, 3},
			wantEvicted: []int64{1},
		},
		{
			name:    "orders by timestamp",
			limit:   3,
			appends: []types.Message{textAt(5, 2*time.Second), textAt(6, 0), textAt(7, time.Second)},
			wantIds: []int64{6, 7, 5},
		},
		{
			name:    "equal timestamps fall back to id",
			limit:   3,
			appends: []types.Message{textAt(9, 0), textAt(8, 0)},
			wantIds: []int64{8, 9},
		},
		{
			name:        "late arrival older than everything is evicted",
			limit:       1,
			appends:     []types.Message{textAt(2, time.Second), textAt(1, 0)},
			wantIds:     []int64{2},
			wantEvicted: []int64{1},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			l := NewHistoryLog(tc.limit)

			var evicted []types.Message
			for _, m := range tc.appends {
				evicted = append(evicted, l.Append(m)...)
				assert.LessOrEqual(t, l.Len(), tc.limit)
			}

			assert.Equal(t, tc.wantIds, ids(l.Snapshot()))
			if tc.wantEvicted == nil {
				assert.Empty(t, evicted)
			} else {
				assert.Equal(t, tc.wantEvicted, ids(evicted))
			}
		})
	}
}

func TestHistoryLog_LimitOne(t *testing.T) {
	l := NewHistoryLog(1)

	assert.Empty(t, l.Append(textAt(1, 0)))
	evicted := l.Append(textAt(2, time.Second))
	require.Len(t, evicted, 1)
	assert.Equal(t, int64(1), evicted[0].Id)

	latest, ok := l.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(2), latest.Id)
}

func TestHistoryLog_SnapshotIsCopy(t *testing.T) {
	l := NewHistoryLog(5)
	l.Append(textAt(1, 0))

	snap := l.Snapshot()
	snap[0].Id = 99

	got, ok := l.Get(1)
	assert.True(t, ok)
	assert.Equal(t, int64(1), got.Id)
}

func TestHistoryLog_GetLatestRemove(t *testing.T) {
	l := NewHistoryLog(5)

	_, ok := l.Latest()
	assert.False(t, ok, "empty log has no latest")

	l.Append(textAt(1, 0))
	l.Append(textAt(2, time.Second))

	_, ok = l.Get(3)
	assert.False(t, ok)

	removed, ok := l.RemoveById(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), removed.Id)

	_, ok = l.RemoveById(1)
	assert.False(t, ok, "second removal finds nothing")
	assert.Equal(t, []int64{2}, ids(l.Snapshot()))
}

func TestHistoryLog_Clear(t *testing.T) {
	l := NewHistoryLog(5)
	l.Append(textAt(1, 0))
	l.Append(fileAt(2, time.Second, time.Hour))
	l.Append(fileAt(3, 2*time.Second, time.Hour))

	cleared := l.Clear()
	assert.Equal(t, []int64{1, 2, 3}, ids(cleared), "text messages are returned too")
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Clear())
}

func TestHistoryLog_RemoveByFile(t *testing.T) {
	l := NewHistoryLog(5)
	l.Append(textAt(1, 0))
	l.Append(fileAt(2, time.Second, time.Hour))
	l.Append(fileAt(3, 2*time.Second, time.Hour))

	target, ok := l.Get(3)
	require.True(t, ok)

	removed := l.RemoveByFile(target.File.UUID)
	assert.Equal(t, []int64{3}, ids(removed))
	assert.Equal(t, []int64{1, 2}, ids(l.Snapshot()))

	assert.Empty(t, l.RemoveByFile(target.File.UUID))
	assert.Empty(t, l.RemoveByFile("missing"))
}

func TestHistoryLog_RemoveExpired(t *testing.T) {
	l := NewHistoryLog(5)
	l.Append(textAt(1, 0))
	l.Append(fileAt(2, 0, time.Minute))
	l.Append(fileAt(3, 0, time.Hour))

	assert.Empty(t, l.RemoveExpired(epoch.Add(30*time.Second)))

	expired := l.RemoveExpired(epoch.Add(time.Minute))
	assert.Equal(t, []int64{2}, ids(expired))
	assert.Equal(t, []int64{1, 3}, ids(l.Snapshot()))
}
