package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-cloudclip/internal/types"
	"github.com/teris-io/shortid"
)

const (
	writeWait        = 10 * time.Second
	defaultHeartbeat = 60 * time.Second
	maxMessageSize   = 4096
	sendQueueSize    = 256
)

// Session is one live WebSocket connection in a room. The hub only ever
// queues encoded frames; the Write pump owns the connection's writer.
type Session struct {
	Id          string
	Room        string
	IP          string
	ConnectedAt time.Time
	Device      types.DeviceMeta

	conn      *websocket.Conn
	hub       *RoomHub
	log       *log.Logger
	send      chan []byte
	stop      chan struct{}
	stopOnce  sync.Once
	heartbeat time.Duration
}

func NewSession(conn *websocket.Conn, ip, userAgent string, heartbeat time.Duration, l *log.Logger) (*Session, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	return &Session{
		Id:          id,
		IP:          ip,
		ConnectedAt: Now(),
		Device:      ParseDevice(userAgent),
		conn:        conn,
		log:         l,
		send:        make(chan []byte, sendQueueSize),
		stop:        make(chan struct{}),
		heartbeat:   heartbeat,
	}, nil
}

func (s *Session) pingInterval() time.Duration {
	return (s.heartbeat * 9) / 10
}

// Write drains the send queue onto the connection and pings the peer.
func (s *Session) Write() {
	ticker := time.NewTicker(s.pingInterval())
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			if !s.writeFrame(websocket.TextMessage, frame) {
				return
			}
		case <-s.stop:
			// flush what the hub already queued, then say goodbye
			for {
				select {
				case frame := <-s.send:
					if !s.writeFrame(websocket.TextMessage, frame) {
						return
					}
				default:
					s.writeFrame(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case <-ticker.C:
			if !s.writeFrame(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// Read consumes inbound frames. Their content is ignored; any frame, pong
// included, counts as a heartbeat and pushes the read deadline forward.
func (s *Session) Read() {
	defer func() {
		s.conn.Close()
		s.leave()
	}()

	alive := func() {
		s.conn.SetReadDeadline(time.Now().Add(s.heartbeat))
	}

	s.conn.SetReadLimit(maxMessageSize)
	alive()
	s.conn.SetPongHandler(func(string) error { alive(); return nil })
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Printf("session %q: read: %v", s.Id, err)
			}
			return
		}
		alive()
	}
}

func (s *Session) leave() {
	if s.hub == nil {
		return
	}

	if err := s.hub.Leave(context.Background(), s); err != nil && !errors.Is(err, errRoomClosed) {
		s.log.Printf("session %q: leave room %q: %v", s.Id, s.Room, err)
	}
}

func (s *Session) writeFrame(msgType int, frame []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := s.conn.WriteMessage(msgType, frame); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			s.log.Printf("session %q: write: %v", s.Id, err)
		}
		return false
	}

	return true
}

// queueMessage never blocks; a full queue means the peer is not keeping up.
func (s *Session) queueMessage(frame []byte) bool {
	select {
	case <-s.stop:
		return false
	default:
	}

	select {
	case s.send <- frame:
	default:
		s.log.Printf("session %q: send queue full", s.Id)
		return false
	}

	return true
}

func (s *Session) queueEvent(e Event) bool {
	frame, err := Encode(e)
	if err != nil {
		s.log.Printf("session %q: encode %s: %v", s.Id, e.Name(), err)
		return false
	}
	return s.queueMessage(frame)
}

// Close stops the session's pumps. Safe to call more than once.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// SendForbidden writes a forbidden frame straight to the connection. Used
// before the session has joined a room, when no pump is running yet.
func (s *Session) SendForbidden() error {
	frame, err := Encode(ForbiddenEvent{})
	if err != nil {
		return err
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}

	return s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "forbidden"))
}

func (s *Session) connectEvent() ConnectEvent {
	return ConnectEvent{
		Id:      s.Id,
		Type:    s.Device.Type,
		Device:  s.Device.Device,
		OS:      s.Device.OS,
		Browser: s.Device.Browser,
	}
}
