package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/npezzotti/go-cloudclip/internal/auth"
	"github.com/npezzotti/go-cloudclip/internal/blob"
	"github.com/npezzotti/go-cloudclip/internal/database"
	"github.com/npezzotti/go-cloudclip/internal/stats"
	"github.com/npezzotti/go-cloudclip/internal/types"
)

const (
	metricSessions  = "Sessions"
	metricPublished = "MessagesPublished"
	metricEvicted   = "MessagesEvicted"
	metricRevoked   = "MessagesRevoked"
	metricExpired   = "MessagesExpired"
)

// PublishRequest is a validated-at-the-edge publish. Limits are enforced
// again by the hub.
type PublishRequest struct {
	Kind      types.MessageKind
	Content   string
	File      *FileUpload
	SenderIP  string
	UserAgent string
	Token     string
	// BaseURL prefixes blob URLs, e.g. "https://clip.example.com/api".
	BaseURL string
}

type FileUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// hubRequest carries one operation to the actor. Tokens are checked on the
// caller's goroutine before a request is sent.
type hubRequest struct {
	join       *Session
	leave      *Session
	publish    *PublishRequest
	revoke     *int64
	revokeAll  bool
	revokeFile *string
	lookup     *int64
	info       bool
	reply      chan hubReply
}

type hubReply struct {
	msg  types.Message
	info types.RoomInfo
	err  error
}

// RoomHub owns one room's history and sessions. All mutations run on the
// goroutine started by start, one request at a time.
type RoomHub struct {
	name     string
	opts     Options
	log      *log.Logger
	ledger   database.MessageLedger
	blobs    blob.Store
	gate     *auth.Gate
	stats    stats.StatsProvider
	history  *HistoryLog
	sessions *SessionRegistry
	reqChan  chan *hubRequest
	// killTimer unloads the room once it has been empty for IdleTimeout
	killTimer *time.Timer
	// unload asks the dispatcher to forget this hub; false means keep running
	unload func(*RoomHub) bool
	exit   chan struct{}
	done   chan struct{}
	now    func() time.Time
}

func (h *RoomHub) Name() string {
	return h.name
}

func (h *RoomHub) start() {
	defer close(h.done)

	h.log.Printf("starting room %q", h.name)
	h.restore()

	h.killTimer = time.NewTimer(h.opts.IdleTimeout)
	defer h.killTimer.Stop()

	sweep := time.NewTicker(h.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case req := <-h.reqChan:
			req.reply <- h.handle(req)
		case <-sweep.C:
			h.pruneExpired()
		case <-h.killTimer.C:
			if h.handleRoomTimeout() {
				return
			}
		case <-h.exit:
			h.handleRoomExit()
			return
		}
	}
}

func (h *RoomHub) handle(req *hubRequest) hubReply {
	switch {
	case req.join != nil:
		return hubReply{err: h.handleJoin(req.join)}
	case req.leave != nil:
		h.handleLeave(req.leave)
		return hubReply{}
	case req.publish != nil:
		msg, err := h.handlePublish(req.publish)
		return hubReply{msg: msg, err: err}
	case req.revoke != nil:
		return hubReply{err: h.handleRevoke(*req.revoke)}
	case req.revokeAll:
		h.handleRevokeAll()
		return hubReply{}
	case req.revokeFile != nil:
		return hubReply{err: h.handleRevokeFile(*req.revokeFile)}
	case req.lookup != nil:
		msg, err := h.handleLookup(*req.lookup)
		return hubReply{msg: msg, err: err}
	case req.info:
		return hubReply{info: h.roomInfo()}
	}

	return hubReply{err: fmt.Errorf("empty request")}
}

// send hands req to the actor and waits for the outcome. Once the actor has
// accepted a request it always replies, so only the hand-off observes ctx.
func (h *RoomHub) send(ctx context.Context, req *hubRequest) hubReply {
	req.reply = make(chan hubReply, 1)

	select {
	case h.reqChan <- req:
	case <-h.done:
		return hubReply{err: errRoomClosed}
	case <-ctx.Done():
		return hubReply{err: ctx.Err()}
	}

	return <-req.reply
}

func (h *RoomHub) Join(ctx context.Context, s *Session, token string) error {
	if err := h.gate.Check(token); err != nil {
		return err
	}
	return h.send(ctx, &hubRequest{join: s}).err
}

func (h *RoomHub) Leave(ctx context.Context, s *Session) error {
	return h.send(ctx, &hubRequest{leave: s}).err
}

func (h *RoomHub) Publish(ctx context.Context, req PublishRequest) (types.Message, error) {
	if err := h.gate.Check(req.Token); err != nil {
		return types.Message{}, err
	}
	reply := h.send(ctx, &hubRequest{publish: &req})
	return reply.msg, reply.err
}

func (h *RoomHub) Revoke(ctx context.Context, id int64, token string) error {
	if err := h.gate.Check(token); err != nil {
		return err
	}
	return h.send(ctx, &hubRequest{revoke: &id}).err
}

func (h *RoomHub) RevokeAll(ctx context.Context, token string) error {
	if err := h.gate.Check(token); err != nil {
		return err
	}
	return h.send(ctx, &hubRequest{revokeAll: true}).err
}

// RevokeFile removes the file messages that reference blob uuid, deleting
// the blob with them. ErrNotFound means no message in the room refers to it.
func (h *RoomHub) RevokeFile(ctx context.Context, uuid, token string) error {
	if err := h.gate.Check(token); err != nil {
		return err
	}
	return h.send(ctx, &hubRequest{revokeFile: &uuid}).err
}

// Lookup returns message id, or the newest message when id is zero.
func (h *RoomHub) Lookup(ctx context.Context, id int64) (types.Message, error) {
	reply := h.send(ctx, &hubRequest{lookup: &id})
	return reply.msg, reply.err
}

func (h *RoomHub) Info(ctx context.Context) (types.RoomInfo, error) {
	reply := h.send(ctx, &hubRequest{info: true})
	return reply.info, reply.err
}

// restore reloads the room's history from the ledger, applying the current
// history limit.
func (h *RoomHub) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.BlobWriteTimeout)
	defer cancel()

	msgs, err := h.ledger.ListMessages(ctx, h.name)
	if err != nil {
		h.log.Printf("room %q: restore history: %v", h.name, err)
		return
	}

	var evicted []types.Message
	for _, m := range msgs {
		evicted = append(evicted, h.history.Append(m)...)
	}

	if len(evicted) > 0 {
		h.log.Printf("room %q: dropping %d messages over the history limit", h.name, len(evicted))
		h.discard(evicted)
	}
	if h.history.Len() > 0 {
		h.log.Printf("room %q: restored %d messages", h.name, h.history.Len())
	}
}

func newConfigEvent(opts Options, gate *auth.Gate) ConfigEvent {
	return ConfigEvent{
		Version: opts.Version,
		Server:  ServerConfig{History: opts.HistoryLimit},
		Text:    TextConfig{Limit: opts.TextLimit},
		File: FileConfig{
			Expire: int64(opts.FileExpire / time.Second),
			Chunk:  opts.FileChunk,
			Limit:  opts.FileLimit,
		},
		Auth: gate.Enabled(),
	}
}

func (h *RoomHub) handleJoin(s *Session) error {
	// stop the kill timer since we have a new session
	h.killTimer.Stop()
	h.pruneExpired()

	s.hub = h
	s.Room = h.name
	h.sessions.Add(s)
	h.stats.Incr(metricSessions)

	// config, then backlog, then who else is here; nothing live may overtake these
	ok := s.queueEvent(newConfigEvent(h.opts, h.gate))
	if snapshot := h.history.Snapshot(); ok && len(snapshot) > 0 {
		backlog := make(ReceiveMultiEvent, 0, len(snapshot))
		for _, m := range snapshot {
			backlog = append(backlog, backlogEvent(m))
		}
		ok = s.queueEvent(backlog)
	}
	for _, other := range h.sessions.List() {
		if !ok {
			break
		}
		if other != s {
			ok = s.queueEvent(other.connectEvent())
		}
	}

	if !ok {
		h.removeSession(s)
		return ErrSessionOverflow
	}

	h.log.Printf("session %q joined room %q (%d sessions)", s.Id, h.name, h.sessions.Count())
	h.broadcast(s.connectEvent(), s)
	return nil
}

func (h *RoomHub) handleLeave(s *Session) {
	if _, ok := h.sessions.Get(s.Id); !ok {
		return
	}

	h.removeSession(s)
	h.log.Printf("session %q left room %q", s.Id, h.name)
	h.broadcast(DisconnectEvent{Id: s.Id}, nil)
}

func (h *RoomHub) removeSession(s *Session) {
	if h.sessions.Remove(s.Id) == nil {
		return
	}

	s.Close()
	h.stats.Decr(metricSessions)

	// if the session is the last one in the room, start the kill timer
	if h.sessions.Count() == 0 {
		h.killTimer.Reset(h.opts.IdleTimeout)
	}
}

func (h *RoomHub) validate(req *PublishRequest) error {
	switch req.Kind {
	case types.KindText:
		if req.Content == "" {
			return ErrEmptyContent
		}
		if utf8.RuneCountInString(req.Content) > h.opts.TextLimit {
			return ErrPayloadTooLarge
		}
	case types.KindFile:
		if req.File == nil || len(req.File.Data) == 0 || strings.TrimSpace(req.File.Name) == "" {
			return ErrEmptyContent
		}
		if int64(len(req.File.Data)) > h.opts.FileLimit {
			return ErrPayloadTooLarge
		}
	default:
		return fmt.Errorf("unknown message kind %q", req.Kind)
	}

	return nil
}

func (h *RoomHub) handlePublish(req *PublishRequest) (types.Message, error) {
	if err := h.validate(req); err != nil {
		return types.Message{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.BlobWriteTimeout)
	defer cancel()

	msg := types.Message{
		Kind:      req.Kind,
		Room:      h.name,
		CreatedAt: h.now(),
		SenderIP:  req.SenderIP,
		UserAgent: req.UserAgent,
		Content:   req.Content,
	}

	// the blob must exist before anything refers to it
	if req.Kind == types.KindFile {
		name := strings.TrimSpace(req.File.Name)
		info, err := h.blobs.Put(ctx, req.File.Data, blob.Metadata{
			ContentType: req.File.ContentType,
			DisplayName: name,
			TTL:         h.opts.FileExpire,
		})
		if err != nil {
			h.log.Printf("room %q: store blob %q: %v", h.name, name, err)
			return types.Message{}, storageError(err)
		}

		msg.Content = ""
		msg.File = &types.FileInfo{
			UUID:        info.UUID,
			DisplayName: name,
			ByteSize:    info.Size,
			ExpiresAt:   info.ExpiresAt,
			BlobURL:     FileURL(req.BaseURL, info.UUID, name),
		}
	}

	id, err := h.ledger.CreateMessage(ctx, msg)
	if err != nil {
		h.log.Printf("room %q: save message: %v", h.name, err)
		if msg.File != nil {
			h.deleteBlob(msg.File.UUID)
		}
		return types.Message{}, storageError(err)
	}
	msg.Id = id
	h.stats.Incr(metricPublished)

	if evicted := h.history.Append(msg); len(evicted) > 0 {
		h.discard(evicted)
		for range evicted {
			h.stats.Incr(metricEvicted)
		}
	}

	h.broadcast(NewReceiveEvent(msg), nil)
	return msg, nil
}

func (h *RoomHub) handleRevoke(id int64) error {
	msg, ok := h.history.RemoveById(id)
	if !ok {
		return ErrNotFound
	}

	h.discard([]types.Message{msg})
	h.stats.Incr(metricRevoked)
	h.broadcast(RevokeEvent{Id: msg.Id}, nil)
	return nil
}

func (h *RoomHub) handleRevokeAll() {
	cleared := h.history.Clear()
	if len(cleared) > 0 {
		h.discard(cleared)
	}

	h.log.Printf("room %q: cleared %d messages", h.name, len(cleared))
	h.broadcast(ClearAllEvent{Room: h.name}, nil)
}

func (h *RoomHub) handleRevokeFile(uuid string) error {
	removed := h.history.RemoveByFile(uuid)
	if len(removed) == 0 {
		return ErrNotFound
	}

	h.discard(removed)
	for _, m := range removed {
		h.stats.Incr(metricRevoked)
		h.broadcast(RevokeEvent{Id: m.Id}, nil)
	}
	return nil
}

func (h *RoomHub) handleLookup(id int64) (types.Message, error) {
	h.pruneExpired()

	var (
		msg types.Message
		ok  bool
	)
	if id == 0 {
		msg, ok = h.history.Latest()
	} else {
		msg, ok = h.history.Get(id)
	}

	if !ok {
		return types.Message{}, ErrNotFound
	}
	return msg, nil
}

func (h *RoomHub) roomInfo() types.RoomInfo {
	return types.RoomInfo{
		Name:     h.name,
		Sessions: h.sessions.Count(),
		Messages: h.history.Len(),
	}
}

// pruneExpired drops file messages whose blobs have expired and tells the
// room they are gone.
func (h *RoomHub) pruneExpired() {
	expired := h.history.RemoveExpired(h.now())
	if len(expired) == 0 {
		return
	}

	h.discard(expired)
	for _, m := range expired {
		h.stats.Incr(metricExpired)
		h.broadcast(RevokeEvent{Id: m.Id}, nil)
	}
}

// discard deletes messages that already left the history from the ledger,
// along with their blobs. Failures are logged; the history bound holds
// regardless.
func (h *RoomHub) discard(msgs []types.Message) {
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.Id)
		if m.IsFile() {
			h.deleteBlob(m.File.UUID)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.BlobWriteTimeout)
	defer cancel()

	if err := h.ledger.DeleteMessages(ctx, ids...); err != nil {
		h.log.Printf("room %q: delete messages %v: %v", h.name, ids, err)
	}
}

func (h *RoomHub) deleteBlob(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.BlobWriteTimeout)
	defer cancel()

	if err := h.blobs.Delete(ctx, id); err != nil {
		h.log.Printf("room %q: delete blob %q: %v", h.name, id, err)
	}
}

// broadcast queues e for every session but skip. Sessions that cannot take
// the frame are dropped and their departure is announced in turn.
func (h *RoomHub) broadcast(e Event, skip *Session) {
	frame, err := Encode(e)
	if err != nil {
		h.log.Printf("room %q: encode %s: %v", h.name, e.Name(), err)
		return
	}

	var failed []*Session
	for _, s := range h.sessions.List() {
		if s == skip {
			continue
		}
		if !s.queueMessage(frame) {
			failed = append(failed, s)
		}
	}

	for _, s := range failed {
		if _, ok := h.sessions.Get(s.Id); !ok {
			continue
		}
		h.log.Printf("room %q: dropping unresponsive session %q", h.name, s.Id)
		h.removeSession(s)
		h.broadcast(DisconnectEvent{Id: s.Id}, nil)
	}
}

func (h *RoomHub) handleRoomTimeout() bool {
	if h.sessions.Count() > 0 {
		return false
	}

	h.log.Printf("room %q timed out", h.name)
	if h.unload != nil && h.unload(h) {
		return true
	}

	h.killTimer.Reset(h.opts.IdleTimeout)
	return false
}

func (h *RoomHub) handleRoomExit() {
	h.log.Printf("room %q is exiting", h.name)
	for _, s := range h.sessions.List() {
		h.removeSession(s)
	}
}

func storageError(err error) error {
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return errors.Join(ErrStorageUnavailable, err)
}

// FileURL builds the download URL of a blob.
func FileURL(baseURL, id, name string) string {
	return strings.TrimRight(baseURL, "/") + "/file/" + id + "/" + url.PathEscape(name)
}

// NewReceiveEvent describes m the way sessions receive it.
func NewReceiveEvent(m types.Message) ReceiveEvent {
	e := ReceiveEvent{
		Id:        m.Id,
		Type:      string(m.Kind),
		Room:      m.Room,
		Timestamp: m.CreatedAt.Unix(),
		SenderIP:  m.SenderIP,
	}

	if m.IsFile() {
		e.FileName = m.File.DisplayName
		e.Size = m.File.ByteSize
		e.UUID = m.File.UUID
		e.URL = m.File.BlobURL
		if !m.File.ExpiresAt.IsZero() {
			e.Expire = m.File.ExpiresAt.Unix()
		}
	} else {
		e.Content = m.Content
	}

	return e
}

// backlogEvent is receiveEvent with the file's class icon in front of its name.
func backlogEvent(m types.Message) ReceiveEvent {
	e := NewReceiveEvent(m)
	if m.IsFile() {
		e.FileName = classifyFile(m.File.DisplayName).icon + " " + e.FileName
	}
	return e
}
