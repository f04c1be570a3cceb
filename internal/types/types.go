package types

import (
	"time"
)

// DefaultRoom is the room used when a request names none.
const DefaultRoom = "default"

type MessageKind string

const (
	KindText MessageKind = "text"
	KindFile MessageKind = "file"
)

// Message is an immutable history entry. Id is assigned by the ledger and is
// unique across all rooms.
type Message struct {
	Id        int64       `json:"id"`
	Kind      MessageKind `json:"kind"`
	Room      string      `json:"room"`
	CreatedAt time.Time   `json:"created_at"`
	SenderIP  string      `json:"sender_ip"`
	UserAgent string      `json:"user_agent"`
	Content   string      `json:"content,omitempty"`
	File      *FileInfo   `json:"file,omitempty"`
}

func (m Message) IsFile() bool {
	return m.Kind == KindFile && m.File != nil
}

// Expired reports whether a file message's blob has outlived its TTL.
func (m Message) Expired(now time.Time) bool {
	return m.IsFile() && !m.File.ExpiresAt.IsZero() && !m.File.ExpiresAt.After(now)
}

type FileInfo struct {
	UUID        string    `json:"uuid"`
	DisplayName string    `json:"display_name"`
	ByteSize    int64     `json:"byte_size"`
	ExpiresAt   time.Time `json:"expires_at"`
	BlobURL     string    `json:"blob_url"`
}

type DeviceMeta struct {
	Type         string `json:"type"`
	Device       string `json:"device"`
	OS           string `json:"os"`
	Browser      string `json:"browser"`
	RawUserAgent string `json:"-"`
}

type RoomInfo struct {
	Name     string `json:"name"`
	Sessions int    `json:"sessions"`
	Messages int    `json:"messages"`
}

// NormalizeRoom maps an absent room name onto DefaultRoom.
func NormalizeRoom(name string) string {
	if name == "" {
		return DefaultRoom
	}
	return name
}
