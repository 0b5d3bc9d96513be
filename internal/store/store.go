package store

import (
	"context"
	"time"
)

// Store is the boundary to the domain database. The fan-out core never
// broadcasts an event for a row that was not committed first: every
// Create call returns the persisted row, and its id is carried verbatim
// in the broadcast payload so clients can deduplicate.
type Store interface {
	CreateMessage(ctx context.Context, roomID, senderID, content, messageType string) (Message, error)
	MarkMessageRead(ctx context.Context, messageID string) error

	CreateComment(ctx context.Context, streamID, userID, text string) (Comment, error)
	CreateReaction(ctx context.Context, streamID, userID, reactionType string) (Reaction, error)

	GetStream(ctx context.Context, streamID string) (Stream, error)
	GetOrCreateViewer(ctx context.Context, streamID, userID string) (Viewer, error)
	MarkViewerLeft(ctx context.Context, streamID, userID string) error

	CreateNotification(ctx context.Context, n NewNotification) (Notification, error)
	GetPreferences(ctx context.Context, userID string) (Preferences, error)
}

type Message struct {
	ID          string
	RoomID      string
	SenderID    string
	Content     string
	MessageType string
	IsRead      bool
	CreatedAt   time.Time
}

type Comment struct {
	ID        string
	StreamID  string
	UserID    string
	Text      string
	CreatedAt time.Time
}

type Reaction struct {
	ID           string
	StreamID     string
	UserID       string
	ReactionType string
	CreatedAt    time.Time
}

// Stream statuses as tracked by the main backend.
const (
	StreamStatusWaiting = "waiting"
	StreamStatusLive    = "live"
	StreamStatusEnded   = "ended"
)

type Stream struct {
	ID         string
	StreamerID string
	Status     string
	CreatedAt  time.Time
}

// Accepting returns whether the stream still admits viewers.
func (s Stream) Accepting() bool {
	return s.Status == StreamStatusLive || s.Status == StreamStatusWaiting
}

type Viewer struct {
	ID       string
	StreamID string
	UserID   string
	JoinedAt time.Time
	LeftAt   time.Time
	IsActive bool
}

type NewNotification struct {
	RecipientID string
	SenderID    string
	Type        string
	ObjectType  string
	ObjectID    string
}

type Notification struct {
	ID          string
	RecipientID string
	SenderID    string
	Type        string
	ObjectType  string
	ObjectID    string
	IsRead      bool
	CreatedAt   time.Time
}
