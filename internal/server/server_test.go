package server

import (
	"context"
	"testing"
	"time"

	"github.com/npezzotti/go-cloudclip/internal/auth"
	"github.com/npezzotti/go-cloudclip/internal/blob"
	"github.com/npezzotti/go-cloudclip/internal/database"
	"github.com/npezzotti/go-cloudclip/internal/testutil"
	"github.com/npezzotti/go-cloudclip/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, opts Options, blobs blob.Store) *Dispatcher {
	t.Helper()

	if blobs == nil {
		blobs = blob.NewMemoryStore()
	}
	d := NewDispatcher(testutil.TestLogger(t), opts, database.NewMemoryLedger(), blobs, auth.NewGate("", ""), newTestStats())
	go d.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.Shutdown(ctx)
	})

	return d
}

func TestDispatcher_Resolve(t *testing.T) {
	d := newTestDispatcher(t, testOptions(), nil)

	def, err := d.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultRoom, def.Name())

	again, err := d.Resolve("default")
	require.NoError(t, err)
	assert.Same(t, def, again)

	other, err := d.Resolve("work")
	require.NoError(t, err)
	assert.NotSame(t, def, other)
}

func TestDispatcher_Rooms(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t, testOptions(), nil)

	_, err := d.Publish(ctx, "zeta", textRequest("z"))
	require.NoError(t, err)
	require.NoError(t, d.Join(ctx, "", newTestSession(t, "a", sendQueueSize), ""))

	assert.Equal(t, []types.RoomInfo{
		{Name: "default", Sessions: 1, Messages: 0},
		{Name: "zeta", Sessions: 0, Messages: 1},
	}, d.Rooms(ctx))
}

func TestDispatcher_RoomOperations(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t, testOptions(), nil)

	msg, err := d.Publish(ctx, "r", textRequest("hello"))
	require.NoError(t, err)

	got, err := d.Lookup(ctx, "r", 0)
	require.NoError(t, err)
	assert.Equal(t, msg.Id, got.Id)

	_, err = d.Lookup(ctx, "other", msg.Id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.Revoke(ctx, "r", msg.Id, ""))
	assert.ErrorIs(t, d.Revoke(ctx, "r", msg.Id, ""), ErrNotFound)
	require.NoError(t, d.RevokeAll(ctx, "r", ""))

	file, err := d.Publish(ctx, "r", fileRequest("a.txt", "abc"))
	require.NoError(t, err)
	assert.ErrorIs(t, d.RevokeFile(ctx, "other", file.File.UUID, ""), ErrNotFound)
	require.NoError(t, d.RevokeFile(ctx, "r", file.File.UUID, ""))
	_, err = d.Lookup(ctx, "r", file.Id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDispatcher_IdleUnloadRestoresHistory(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.IdleTimeout = 50 * time.Millisecond
	d := newTestDispatcher(t, opts, nil)

	first, err := d.Resolve("idle")
	require.NoError(t, err)
	_, err = d.Publish(ctx, "idle", textRequest("kept"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := first.Info(ctx)
		return err == errRoomClosed
	}, 2*time.Second, 10*time.Millisecond, "expected idle room to unload")

	msg, err := d.Lookup(ctx, "idle", 0)
	require.NoError(t, err)
	assert.Equal(t, "kept", msg.Content)

	second, err := d.Resolve("idle")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestDispatcher_SessionKeepsRoomLoaded(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.IdleTimeout = 20 * time.Millisecond
	d := newTestDispatcher(t, opts, nil)

	require.NoError(t, d.Join(ctx, "busy", newTestSession(t, "a", sendQueueSize), ""))
	h, err := d.Resolve("busy")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	again, err := d.Resolve("busy")
	require.NoError(t, err)
	assert.Same(t, h, again)
}

func TestDispatcher_Shutdown(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(testutil.TestLogger(t), testOptions(), database.NewMemoryLedger(), blob.NewMemoryStore(),
		auth.NewGate("", ""), newTestStats())
	go d.Run()

	s := newTestSession(t, "a", sendQueueSize)
	require.NoError(t, d.Join(ctx, "r", s, ""))

	require.NoError(t, d.Shutdown(ctx))
	require.NoError(t, d.Shutdown(ctx), "second shutdown is a no-op")

	select {
	case <-s.stop:
	default:
		t.Error("expected sessions to be closed on shutdown")
	}

	_, err := d.Resolve("r")
	assert.ErrorIs(t, err, ErrShuttingDown)
	_, err = d.Publish(ctx, "r", textRequest("late"))
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.Empty(t, d.Rooms(ctx))
}

func TestDispatcher_SweepsExpiredBlobs(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.SweepInterval = 10 * time.Millisecond
	blobs := blob.NewMemoryStore()
	newTestDispatcher(t, opts, blobs)

	_, err := blobs.Put(ctx, []byte("x"), blob.Metadata{TTL: time.Millisecond})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return blobs.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcher_Config(t *testing.T) {
	d := NewDispatcher(testutil.TestLogger(t), DefaultOptions(), database.NewMemoryLedger(), blob.NewMemoryStore(),
		auth.NewGate("pw", ""), newTestStats())

	assert.Equal(t, ConfigEvent{
		Version: Version,
		Server:  ServerConfig{History: 50},
		Text:    TextConfig{Limit: 4096},
		File:    FileConfig{Expire: 3600, Chunk: 2097152, Limit: 104857600},
		Auth:    true,
	}, d.Config())
}
