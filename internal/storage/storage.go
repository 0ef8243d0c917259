package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a unique constraint would be violated.
var ErrConflict = errors.New("storage: conflict")

// User represents a persisted account record.
type User struct {
	ID        string
	Name      string
	Email     string
	Image     string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conversation is a direct chat between participants. ParticipantIDs keeps
// the order the conversation was created with.
type Conversation struct {
	ID             string
	ParticipantIDs []string
	ReservationID  string
	LastMessageAt  time.Time
	CreatedAt      time.Time
}

// Message is a single chat line. Sender is populated on reads.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
	Sender         *User
}

// Notification is an inbox entry for one user.
type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Message   string
	Data      map[string]interface{}
	Read      bool
	CreatedAt time.Time
}

// Store defines persistence operations used by the relay's collaborators.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// FindConversationsWithParticipants returns every conversation that
	// includes all of the given users, regardless of its total size.
	FindConversationsWithParticipants(ctx context.Context, userIDs ...string) ([]Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error

	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	LastMessage(ctx context.Context, conversationID string) (*Message, error)

	SaveNotification(ctx context.Context, n *Notification) error
	GetNotification(ctx context.Context, id string) (*Notification, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error)
	SetNotificationRead(ctx context.Context, id string, read bool) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotification(ctx context.Context, id string) error
}

// HasParticipant reports whether userID takes part in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the first participant that is not userID.
func (c Conversation) OtherParticipant(userID string) (string, bool) {
	for _, id := range c.ParticipantIDs {
		if id != userID {
			return id, true
		}
	}
	return "", false
}
