package server

import (
	"context"
	"errors"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-cloudclip/internal/auth"
	"github.com/npezzotti/go-cloudclip/internal/blob"
	"github.com/npezzotti/go-cloudclip/internal/database"
	"github.com/npezzotti/go-cloudclip/internal/stats"
	"github.com/npezzotti/go-cloudclip/internal/types"
)

const (
	Version = "go-cloudclip-1.0.0"

	metricRooms = "Rooms"
)

// Options are the limits and timings every room hub runs with.
type Options struct {
	Version          string
	HistoryLimit     int
	TextLimit        int
	FileLimit        int64
	FileChunk        int64
	FileExpire       time.Duration
	BlobWriteTimeout time.Duration
	IdleTimeout      time.Duration
	SweepInterval    time.Duration
}

func DefaultOptions() Options {
	return Options{
		Version:          Version,
		HistoryLimit:     50,
		TextLimit:        4096,
		FileLimit:        100 << 20,
		FileChunk:        2 << 20,
		FileExpire:       time.Hour,
		BlobWriteTimeout: 10 * time.Second,
		IdleTimeout:      time.Minute,
		SweepInterval:    5 * time.Minute,
	}
}

// Dispatcher maps room names onto running hubs, starting them on first use.
type Dispatcher struct {
	log    *log.Logger
	opts   Options
	ledger database.MessageLedger
	blobs  blob.Store
	gate   *auth.Gate
	stats  stats.StatsProvider

	roomsLock sync.Mutex
	rooms     map[string]*RoomHub
	closed    bool

	stop chan struct{}
	done chan struct{}
}

func NewDispatcher(logger *log.Logger, opts Options, ledger database.MessageLedger, blobs blob.Store,
	gate *auth.Gate, su stats.StatsProvider) *Dispatcher {
	su.RegisterMetric(metricRooms)
	su.RegisterMetric(metricSessions)
	su.RegisterMetric(metricPublished)
	su.RegisterMetric(metricEvicted)
	su.RegisterMetric(metricRevoked)
	su.RegisterMetric(metricExpired)

	return &Dispatcher{
		log:    logger,
		opts:   opts,
		ledger: ledger,
		blobs:  blobs,
		gate:   gate,
		stats:  su,
		rooms:  make(map[string]*RoomHub),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Resolve returns the hub for name, creating it if needed. An empty name
// resolves to the default room.
func (d *Dispatcher) Resolve(name string) (*RoomHub, error) {
	name = types.NormalizeRoom(strings.TrimSpace(name))

	d.roomsLock.Lock()
	defer d.roomsLock.Unlock()

	if d.closed {
		return nil, ErrShuttingDown
	}

	if h, ok := d.rooms[name]; ok {
		return h, nil
	}

	h := &RoomHub{
		name:     name,
		opts:     d.opts,
		log:      d.log,
		ledger:   d.ledger,
		blobs:    d.blobs,
		gate:     d.gate,
		stats:    d.stats,
		history:  NewHistoryLog(d.opts.HistoryLimit),
		sessions: NewSessionRegistry(),
		reqChan:  make(chan *hubRequest),
		unload:   d.unloadRoom,
		exit:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      Now,
	}
	d.rooms[name] = h
	d.stats.Incr(metricRooms)

	go h.start()

	return h, nil
}

func (d *Dispatcher) unloadRoom(h *RoomHub) bool {
	d.roomsLock.Lock()
	defer d.roomsLock.Unlock()

	if d.closed || d.rooms[h.name] != h {
		return false
	}

	delete(d.rooms, h.name)
	d.stats.Decr(metricRooms)
	d.log.Printf("unloaded room %q, %d rooms loaded", h.name, len(d.rooms))
	return true
}

// withRoom runs fn against the room's hub, retrying on a fresh hub if the
// one it got was unloaded in the meantime.
func (d *Dispatcher) withRoom(room string, fn func(*RoomHub) error) error {
	for {
		h, err := d.Resolve(room)
		if err != nil {
			return err
		}

		err = fn(h)
		if !errors.Is(err, errRoomClosed) {
			return err
		}
	}
}

func (d *Dispatcher) Join(ctx context.Context, room string, s *Session, token string) error {
	return d.withRoom(room, func(h *RoomHub) error {
		return h.Join(ctx, s, token)
	})
}

func (d *Dispatcher) Publish(ctx context.Context, room string, req PublishRequest) (types.Message, error) {
	var msg types.Message
	err := d.withRoom(room, func(h *RoomHub) error {
		var err error
		msg, err = h.Publish(ctx, req)
		return err
	})
	return msg, err
}

func (d *Dispatcher) Revoke(ctx context.Context, room string, id int64, token string) error {
	return d.withRoom(room, func(h *RoomHub) error {
		return h.Revoke(ctx, id, token)
	})
}

func (d *Dispatcher) RevokeAll(ctx context.Context, room, token string) error {
	return d.withRoom(room, func(h *RoomHub) error {
		return h.RevokeAll(ctx, token)
	})
}

func (d *Dispatcher) RevokeFile(ctx context.Context, room, uuid, token string) error {
	return d.withRoom(room, func(h *RoomHub) error {
		return h.RevokeFile(ctx, uuid, token)
	})
}

func (d *Dispatcher) Lookup(ctx context.Context, room string, id int64) (types.Message, error) {
	var msg types.Message
	err := d.withRoom(room, func(h *RoomHub) error {
		var err error
		msg, err = h.Lookup(ctx, id)
		return err
	})
	return msg, err
}

// Rooms describes the rooms currently loaded, sorted by name.
func (d *Dispatcher) Rooms(ctx context.Context) []types.RoomInfo {
	d.roomsLock.Lock()
	hubs := make([]*RoomHub, 0, len(d.rooms))
	for _, h := range d.rooms {
		hubs = append(hubs, h)
	}
	d.roomsLock.Unlock()

	infos := make([]types.RoomInfo, 0, len(hubs))
	for _, h := range hubs {
		info, err := h.Info(ctx)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}

	slices.SortFunc(infos, func(a, b types.RoomInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return infos
}

// Config is the config event sent to joining sessions.
func (d *Dispatcher) Config() ConfigEvent {
	return newConfigEvent(d.opts, d.gate)
}

// Run sweeps expired blobs from stores that support it until Shutdown.
func (d *Dispatcher) Run() {
	defer close(d.done)

	sweeper, ok := d.blobs.(blob.Sweeper)
	if !ok {
		<-d.stop
		return
	}

	ticker := time.NewTicker(d.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), d.opts.BlobWriteTimeout)
			n, err := sweeper.Sweep(ctx, time.Now())
			cancel()
			if err != nil {
				d.log.Printf("sweep expired blobs: %v", err)
			} else if n > 0 {
				d.log.Printf("swept %d expired blobs", n)
			}
		case <-d.stop:
			return
		}
	}
}

// Shutdown stops every room, closing their sessions, and the sweeper.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.log.Println("shutting down rooms")

	d.roomsLock.Lock()
	if d.closed {
		d.roomsLock.Unlock()
		return nil
	}
	d.closed = true
	hubs := make([]*RoomHub, 0, len(d.rooms))
	for _, h := range d.rooms {
		hubs = append(hubs, h)
	}
	d.rooms = make(map[string]*RoomHub)
	d.roomsLock.Unlock()

	for _, h := range hubs {
		close(h.exit)
	}

	close(d.stop)

	for _, h := range hubs {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}
