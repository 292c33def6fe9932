package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; user_version records how many ran.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		token            TEXT PRIMARY KEY,
		display_name     TEXT NOT NULL DEFAULT '',
		last_read        INTEGER NOT NULL DEFAULT 0,
		last_common_read INTEGER NOT NULL DEFAULT 0,
		updated_at       INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS messages (
		room_token   TEXT NOT NULL REFERENCES rooms(token) ON DELETE CASCADE,
		message_id   INTEGER NOT NULL,
		actor_id     TEXT NOT NULL DEFAULT '',
		actor_type   TEXT NOT NULL DEFAULT '',
		actor_name   TEXT NOT NULL DEFAULT '',
		body         TEXT NOT NULL,
		system_kind  TEXT NOT NULL DEFAULT '',
		at           INTEGER NOT NULL,
		PRIMARY KEY (room_token, message_id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room_at ON messages(room_token, at);`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, i+1)); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("bump schema version to %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
