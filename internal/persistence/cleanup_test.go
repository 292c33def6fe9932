package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/skobkin/nctalk/internal/talk"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestClearDatabase_ClearsAllTables(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if err := NewRoomRepo(db).Upsert(ctx, RoomRecord{Token: "abc", DisplayName: "General"}); err != nil {
		t.Fatalf("seed rooms: %v", err)
	}
	if _, err := NewMessageRepo(db).Insert(ctx, talk.Message{ID: 1, Token: "abc", Text: "hello", Timestamp: 10}); err != nil {
		t.Fatalf("seed messages: %v", err)
	}

	if err := ClearDatabase(ctx, db); err != nil {
		t.Fatalf("clear database: %v", err)
	}

	for _, table := range []string{"messages", "rooms"} {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Fatalf("count rows in %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("expected %s to be empty after clear, got %d rows", table, count)
		}
	}
}

func TestClearDatabase_RejectsNilDB(t *testing.T) {
	if err := ClearDatabase(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestOpen_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "app.db")

	for i := 0; i < 2; i++ {
		db, err := Open(ctx, path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		var version int
		if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
			t.Fatalf("read version: %v", err)
		}
		if version != len(migrations) {
			t.Fatalf("expected schema version %d, got %d", len(migrations), version)
		}
		_ = db.Close()
	}
}
