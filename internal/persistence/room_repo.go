package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RoomRecord is the cached state of one room.
type RoomRecord struct {
	Token          string
	DisplayName    string
	LastRead       int64
	LastCommonRead int64
	UpdatedAt      time.Time
}

type RoomRepo struct {
	db *sql.DB
}

func NewRoomRepo(db *sql.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// Upsert stores r. Cursor columns only move forward and an empty display
// name keeps the stored one.
func (r *RoomRepo) Upsert(ctx context.Context, rec RoomRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rooms(token, display_name, last_read, last_common_read, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			display_name = CASE
				WHEN excluded.display_name <> '' THEN excluded.display_name
				ELSE rooms.display_name
			END,
			last_read = MAX(rooms.last_read, excluded.last_read),
			last_common_read = MAX(rooms.last_common_read, excluded.last_common_read),
			updated_at = MAX(rooms.updated_at, excluded.updated_at)
	`, rec.Token, rec.DisplayName, rec.LastRead, rec.LastCommonRead, toUnixMillis(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}

	return nil
}

// Get returns the cached room, or ok=false when it was never stored.
func (r *RoomRepo) Get(ctx context.Context, token string) (RoomRecord, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT token, display_name, last_read, last_common_read, updated_at
		FROM rooms
		WHERE token = ?
	`, token)
	rec, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RoomRecord{}, false, nil
	}
	if err != nil {
		return RoomRecord{}, false, err
	}

	return rec, true, nil
}

func (r *RoomRepo) List(ctx context.Context) ([]RoomRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token, display_name, last_read, last_common_read, updated_at
		FROM rooms
		ORDER BY updated_at DESC, token
	`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make([]RoomRecord, 0)
	for rows.Next() {
		rec, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}

	return out, nil
}

// Delete drops the room and its cached messages.
func (r *RoomRepo) Delete(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM rooms WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	return nil
}

func scanRoom(scanner interface {
	Scan(dest ...any) error
}) (RoomRecord, error) {
	var (
		rec       RoomRecord
		updatedMs int64
	)
	if err := scanner.Scan(&rec.Token, &rec.DisplayName, &rec.LastRead, &rec.LastCommonRead, &updatedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RoomRecord{}, err
		}

		return RoomRecord{}, fmt.Errorf("scan room: %w", err)
	}
	rec.UpdatedAt = fromUnixMillis(updatedMs)

	return rec, nil
}
