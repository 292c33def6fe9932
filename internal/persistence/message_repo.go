package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/skobkin/nctalk/internal/talk"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Insert stores m unless it is already cached. It reports whether a row was
// written. The room row is created on demand.
func (r *MessageRepo) Insert(ctx context.Context, m talk.Message) (bool, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO rooms(token, updated_at) VALUES(?, 0)
	`, m.Token); err != nil {
		return false, fmt.Errorf("ensure room for message: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages(room_token, message_id, actor_id, actor_type, actor_name, body, system_kind, at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, m.Token, m.ID, m.ActorID, m.ActorType, m.ActorDisplayName, m.Text, m.SystemMessage, m.Timestamp)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message rows affected: %w", err)
	}

	return n > 0, nil
}

// ListRecentByRoom returns up to limit newest messages of a room, oldest first.
func (r *MessageRepo) ListRecentByRoom(ctx context.Context, token string, limit int) ([]talk.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT room_token, message_id, actor_id, actor_type, actor_name, body, system_kind, at
		FROM messages
		WHERE room_token = ?
		ORDER BY message_id DESC
		LIMIT ?
	`, token, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages by room: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []talk.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages by room: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out, nil
}

// Prune keeps the newest keep messages per room and deletes the rest.
func (r *MessageRepo) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE rowid IN (
			SELECT rowid FROM (
				SELECT rowid, ROW_NUMBER() OVER (PARTITION BY room_token ORDER BY message_id DESC) AS rn
				FROM messages
			)
			WHERE rn > ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune messages rows affected: %w", err)
	}

	return n, nil
}

func scanMessage(scanner interface {
	Scan(dest ...any) error
}) (talk.Message, error) {
	var m talk.Message
	if err := scanner.Scan(&m.Token, &m.ID, &m.ActorID, &m.ActorType, &m.ActorDisplayName, &m.Text, &m.SystemMessage, &m.Timestamp); err != nil {
		return talk.Message{}, fmt.Errorf("scan message: %w", err)
	}

	return m, nil
}
