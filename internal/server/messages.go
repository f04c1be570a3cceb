package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event names on the wire.
const (
	EventConfig       = "config"
	EventReceive      = "receive"
	EventReceiveMulti = "receiveMulti"
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventRevoke       = "revoke"
	EventClearAll     = "clearAll"
	EventForbidden    = "forbidden"
)

var ErrUnknownEvent = errors.New("unknown event")

// Event is one of the frames pushed to sessions. Every frame is encoded as
// {"event": Name(), "data": <event>}.
type Event interface {
	Name() string
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type rawEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type ConfigEvent struct {
	Version string       `json:"version"`
	Server  ServerConfig `json:"server"`
	Text    TextConfig   `json:"text"`
	File    FileConfig   `json:"file"`
	Auth    bool         `json:"auth"`
}

type ServerConfig struct {
	History int `json:"history"`
}

type TextConfig struct {
	Limit int `json:"limit"`
}

// FileConfig carries expire in seconds and chunk/limit in bytes.
type FileConfig struct {
	Expire int64 `json:"expire"`
	Chunk  int64 `json:"chunk"`
	Limit  int64 `json:"limit"`
}

type ReceiveEvent struct {
	Id        int64  `json:"id"`
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	FileName  string `json:"name,omitempty"`
	Size      int64  `json:"size,omitempty"`
	UUID      string `json:"uuid,omitempty"`
	URL       string `json:"url,omitempty"`
	Expire    int64  `json:"expire,omitempty"`
	Room      string `json:"room"`
	Timestamp int64  `json:"timestamp"`
	SenderIP  string `json:"senderIP"`
}

// ReceiveMultiEvent replays a backlog, oldest first.
type ReceiveMultiEvent []ReceiveEvent

type ConnectEvent struct {
	Id      string `json:"id"`
	Type    string `json:"type"`
	Device  string `json:"device"`
	OS      string `json:"os"`
	Browser string `json:"browser"`
}

type DisconnectEvent struct {
	Id string `json:"id"`
}

type RevokeEvent struct {
	Id int64 `json:"id"`
}

type ClearAllEvent struct {
	Room string `json:"room"`
}

// ForbiddenEvent tells a client its token was rejected.
type ForbiddenEvent struct{}

func (ConfigEvent) Name() string       { return EventConfig }
func (ReceiveEvent) Name() string      { return EventReceive }
func (ReceiveMultiEvent) Name() string { return EventReceiveMulti }
func (ConnectEvent) Name() string      { return EventConnect }
func (DisconnectEvent) Name() string   { return EventDisconnect }
func (RevokeEvent) Name() string       { return EventRevoke }
func (ClearAllEvent) Name() string     { return EventClearAll }
func (ForbiddenEvent) Name() string    { return EventForbidden }

func Encode(e Event) ([]byte, error) {
	data := any(e)
	if batch, ok := e.(ReceiveMultiEvent); ok && batch == nil {
		data = ReceiveMultiEvent{}
	}
	return json.Marshal(envelope{Event: e.Name(), Data: data})
}

func Decode(raw []byte) (Event, error) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var e Event
	switch env.Event {
	case EventConfig:
		e = &ConfigEvent{}
	case EventReceive:
		e = &ReceiveEvent{}
	case EventReceiveMulti:
		e = &ReceiveMultiEvent{}
	case EventConnect:
		e = &ConnectEvent{}
	case EventDisconnect:
		e = &DisconnectEvent{}
	case EventRevoke:
		e = &RevokeEvent{}
	case EventClearAll:
		e = &ClearAllEvent{}
	case EventForbidden:
		return ForbiddenEvent{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if err := json.Unmarshal(env.Data, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Event, err)
	}

	return deref(e), nil
}

func deref(e Event) Event {
	switch v := e.(type) {
	case *ConfigEvent:
		return *v
	case *ReceiveEvent:
		return *v
	case *ReceiveMultiEvent:
		return *v
	case *ConnectEvent:
		return *v
	case *DisconnectEvent:
		return *v
	case *RevokeEvent:
		return *v
	case *ClearAllEvent:
		return *v
	}
	return e
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
