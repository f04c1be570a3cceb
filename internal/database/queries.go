package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/npezzotti/go-cloudclip/internal/types"
)

const (
	createMessageQuery = "INSERT INTO messages (room, kind, content, file_uuid, file_name, file_size, file_url, " +
		"file_expires_at_unix_ms, sender_ip, user_agent, created_at_unix_ms) " +
		"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id"
	listMessagesQuery = "SELECT id, room, kind, content, file_uuid, file_name, file_size, file_url, " +
		"file_expires_at_unix_ms, sender_ip, user_agent, created_at_unix_ms " +
		"FROM messages WHERE room = $1 ORDER BY created_at_unix_ms ASC, id ASC"
)

func (db *SQLLedger) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *SQLLedger) CreateMessage(ctx context.Context, msg types.Message) (int64, error) {
	row := messageRow(msg)

	var id int64
	err := db.conn.QueryRowContext(ctx, db.rebind(createMessageQuery),
		row.Room,
		row.Kind,
		row.Content,
		row.FileUUID,
		row.FileName,
		row.FileSize,
		row.FileURL,
		row.FileExpiresAt,
		row.SenderIP,
		row.UserAgent,
		row.CreatedAtMilli,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}

	return id, nil
}

func (db *SQLLedger) DeleteMessages(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := "DELETE FROM messages WHERE id IN (" + strings.Join(placeholders, ", ") + ")"
	if _, err := db.conn.ExecContext(ctx, db.rebind(query), args...); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	return nil
}

func (db *SQLLedger) ListMessages(ctx context.Context, room string) ([]types.Message, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(listMessagesQuery), room)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.Id,
			&m.Room,
			&m.Kind,
			&m.Content,
			&m.FileUUID,
			&m.FileName,
			&m.FileSize,
			&m.FileURL,
			&m.FileExpiresAt,
			&m.SenderIP,
			&m.UserAgent,
			&m.CreatedAtMilli,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		messages = append(messages, m.toMessage())
	}

	return messages, rows.Err()
}
