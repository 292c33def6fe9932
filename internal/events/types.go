package events

import (
	"time"

	"github.com/skobkin/nctalk/internal/talk"
)

// Health is the sync state of a room shown in the UI.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthUpdating Health = "updating"
	HealthDegraded Health = "degraded"
)

// LineKind distinguishes rendered stream entries.
type LineKind int

const (
	LineMessage LineKind = iota + 1
	LineDateSeparator
)

// RoomLine is one entry of a room's ordered message stream.
type RoomLine struct {
	Token   string
	Kind    LineKind
	At      time.Time
	Text    string
	Message talk.Message
	// History marks lines replayed from cache or the initial backfill.
	History bool
}

// HealthChanged is published whenever a room's health transitions.
type HealthChanged struct {
	Token     string
	Health    Health
	Err       string
	Timestamp time.Time
}

// CursorAdvanced is published after a poll moved a room's read markers.
type CursorAdvanced struct {
	Token          string
	DisplayName    string
	LastRead       int64
	LastCommonRead int64
	Timestamp      time.Time
}

// RoomJoined announces a newly registered room.
type RoomJoined struct {
	Token       string
	DisplayName string
}

// RoomLeft announces a room whose synchronizer was torn down.
type RoomLeft struct {
	Token string
}

// FocusChanged announces which room is visible; empty means none.
type FocusChanged struct {
	Token string
}

// TaskFailed reports a supervised task that ended with an unhandled error.
type TaskFailed struct {
	TaskID string
	Name   string
	Err    string
	At     time.Time
}
