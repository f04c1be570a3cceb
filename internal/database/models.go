package database

import (
	"time"

	"github.com/npezzotti/go-cloudclip/internal/types"
)

// Message is the row shape of the messages table. Times are unix millis so
// both dialects scan them the same way.
type Message struct {
	Id             int64
	Room           string
	Kind           string
	Content        string
	FileUUID       string
	FileName       string
	FileSize       int64
	FileURL        string
	FileExpiresAt  int64
	SenderIP       string
	UserAgent      string
	CreatedAtMilli int64
}

func messageRow(msg types.Message) Message {
	row := Message{
		Id:             msg.Id,
		Room:           msg.Room,
		Kind:           string(msg.Kind),
		Content:        msg.Content,
		SenderIP:       msg.SenderIP,
		UserAgent:      msg.UserAgent,
		CreatedAtMilli: msg.CreatedAt.UnixMilli(),
	}

	if msg.File != nil {
		row.FileUUID = msg.File.UUID
		row.FileName = msg.File.DisplayName
		row.FileSize = msg.File.ByteSize
		row.FileURL = msg.File.BlobURL
		if !msg.File.ExpiresAt.IsZero() {
			row.FileExpiresAt = msg.File.ExpiresAt.UnixMilli()
		}
	}

	return row
}

func (m Message) toMessage() types.Message {
	msg := types.Message{
		Id:        m.Id,
		Kind:      types.MessageKind(m.Kind),
		Room:      m.Room,
		CreatedAt: time.UnixMilli(m.CreatedAtMilli).UTC(),
		SenderIP:  m.SenderIP,
		UserAgent: m.UserAgent,
		Content:   m.Content,
	}

	if msg.Kind == types.KindFile {
		msg.File = &types.FileInfo{
			UUID:        m.FileUUID,
			DisplayName: m.FileName,
			ByteSize:    m.FileSize,
			BlobURL:     m.FileURL,
		}
		if m.FileExpiresAt != 0 {
			msg.File.ExpiresAt = time.UnixMilli(m.FileExpiresAt).UTC()
		}
	}

	return msg
}
