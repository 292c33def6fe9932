package talk

import (
	"context"
	"time"
)

// Conversation is one joined room as reported by the conversation list.
type Conversation struct {
	Token          string
	DisplayName    string
	Type           int
	UnreadMessages int
}

// Message is a single chat message of a conversation.
type Message struct {
	ID               int64
	Token            string
	ActorID          string
	ActorType        string
	ActorDisplayName string
	Text             string
	Timestamp        int64
	SystemMessage    string
}

// Cursor holds the read markers returned alongside a message page.
type Cursor struct {
	LastGiven      int64
	LastCommonRead int64
}

// MessagesPage is one response of the chat endpoint.
type MessagesPage struct {
	Messages []Message
	Cursor   Cursor
}

// MessagesRequest selects messages newer than SinceID. With WaitForNew the
// server holds the request open for up to Timeout until something arrives.
// A zero SinceID without WaitForNew fetches the most recent history.
type MessagesRequest struct {
	Token      string
	SinceID    int64
	WaitForNew bool
	Timeout    time.Duration
	Limit      int
}

// Participant is a member of a conversation.
type Participant struct {
	ActorID     string
	ActorType   string
	DisplayName string
	Status      string
}

// User is the authenticated account.
type User struct {
	ID          string
	DisplayName string
}

// Service is the remote messaging API used by the sync engine.
// Implementations must be safe for concurrent use.
type Service interface {
	CurrentUser(ctx context.Context) (User, error)
	GetConversations(ctx context.Context) ([]Conversation, error)
	GetConversationMessages(ctx context.Context, req MessagesRequest) (MessagesPage, error)
	GetConversationParticipants(ctx context.Context, token string) ([]Participant, error)
	SendMessage(ctx context.Context, token, text string) error
}
