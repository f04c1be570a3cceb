package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/npezzotti/go-cloudclip/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgers(t *testing.T) map[string]MessageLedger {
	t.Helper()

	ledgers := map[string]MessageLedger{
		"memory": NewMemoryLedger(),
	}

	sq, err := NewSqliteLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err, "expected sqlite ledger to open")
	t.Cleanup(func() { sq.Close() })
	ledgers["sqlite"] = sq

	if dsn := os.Getenv("CLOUDCLIP_TEST_DSN"); dsn != "" {
		pg, err := NewPgLedger(dsn)
		require.NoError(t, err, "expected postgres ledger to open")
		t.Cleanup(func() { pg.Close() })
		ledgers["postgres"] = pg
	}

	return ledgers
}

func TestLedger_CreateListDelete(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000).UTC()

	for name, l := range newLedgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			room := "ledger-" + name + "-" + time.Now().Format("150405.000000")

			text := types.Message{
				Kind:      types.KindText,
				Room:      room,
				CreatedAt: base.Add(time.Second),
				SenderIP:  "10.0.0.1",
				UserAgent: "curl/8.0",
				Content:   "hello",
			}
			file := types.Message{
				Kind:      types.KindFile,
				Room:      room,
				CreatedAt: base,
				SenderIP:  "10.0.0.2",
				File: &types.FileInfo{
					UUID:        "0b4e7a0e-5d4c-4c1d-9c9a-3f3f3f3f3f3f",
					DisplayName: "photo.png",
					ByteSize:    42,
					ExpiresAt:   base.Add(time.Hour),
					BlobURL:     "http://localhost/api/file/0b4e7a0e-5d4c-4c1d-9c9a-3f3f3f3f3f3f/photo.png",
				},
			}

			textId, err := l.CreateMessage(ctx, text)
			require.NoError(t, err)
			fileId, err := l.CreateMessage(ctx, file)
			require.NoError(t, err)
			assert.Greater(t, fileId, textId, "expected ids to increase")

			other := text
			other.Room = room + "-other"
			otherId, err := l.CreateMessage(ctx, other)
			require.NoError(t, err)
			assert.Greater(t, otherId, fileId, "expected ids to be unique across rooms")

			msgs, err := l.ListMessages(ctx, room)
			require.NoError(t, err)
			require.Len(t, msgs, 2, "expected only messages of the requested room")

			// ordered by created time, not insertion
			assert.Equal(t, fileId, msgs[0].Id)
			assert.Equal(t, textId, msgs[1].Id)

			require.NotNil(t, msgs[0].File, "expected file info to round trip")
			assert.Equal(t, file.File.UUID, msgs[0].File.UUID)
			assert.Equal(t, file.File.DisplayName, msgs[0].File.DisplayName)
			assert.Equal(t, file.File.ByteSize, msgs[0].File.ByteSize)
			assert.True(t, file.File.ExpiresAt.Equal(msgs[0].File.ExpiresAt), "expected expiry to round trip")
			assert.Equal(t, "hello", msgs[1].Content)
			assert.Nil(t, msgs[1].File)
			assert.True(t, text.CreatedAt.Equal(msgs[1].CreatedAt), "expected created time to round trip")

			require.NoError(t, l.DeleteMessages(ctx, fileId, textId))
			require.NoError(t, l.DeleteMessages(ctx), "expected empty delete to be a no-op")

			msgs, err = l.ListMessages(ctx, room)
			require.NoError(t, err)
			assert.Empty(t, msgs)

			require.NoError(t, l.DeleteMessages(ctx, otherId))
		})
	}
}

func TestLedger_Ping(t *testing.T) {
	for name, l := range newLedgers(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, l.Ping(context.Background()))
		})
	}
}

func TestNewSqliteLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := NewSqliteLedger(path)
	require.NoError(t, err)
	id, err := l.CreateMessage(context.Background(), types.Message{Kind: types.KindText, Room: "r", CreatedAt: time.Now(), Content: "persisted"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = NewSqliteLedger(path)
	require.NoError(t, err, "expected migrations to be idempotent")
	defer l.Close()

	msgs, err := l.ListMessages(context.Background(), "r")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].Id)
}
