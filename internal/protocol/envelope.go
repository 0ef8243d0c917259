package protocol

import (
	"encoding/json"
	"time"
)

// Event names a websocket frame. Names are shared with browser clients and
// must not change.
type Event string

const (
	EventJoinUserRoom      Event = "join-user-room"
	EventJoinConversation  Event = "join-conversation"
	EventLeaveConversation Event = "leave-conversation"
	EventTypingStart       Event = "typing-start"
	EventTypingStop        Event = "typing-stop"
	EventUserOnline        Event = "user-online"
	EventUserOffline       Event = "user-offline"

	EventNewMessage      Event = "new-message"
	EventUserTyping      Event = "user-typing"
	EventNewNotification Event = "new-notification"
	EventUserStatus      Event = "user-status"
	EventError           Event = "error"
)

// Frame wraps every payload sent over the websocket.
type Frame struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TypingStart is sent by a client while its user is composing.
type TypingStart struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}

// TypingStop is sent by a client when its user stops composing.
type TypingStop struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// TypingEvent is relayed to the other members of a conversation room.
type TypingEvent struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// UserSummary is the public projection of a user.
type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Message is a chat message as seen by clients.
type Message struct {
	ID             string       `json:"id"`
	Content        string       `json:"content"`
	SenderID       string       `json:"senderId"`
	ConversationID string       `json:"conversationId"`
	CreatedAt      time.Time    `json:"createdAt"`
	Sender         *UserSummary `json:"sender,omitempty"`
}

// Notification is an inbox entry as seen by clients.
type Notification struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Read      bool                   `json:"read"`
	CreatedAt time.Time              `json:"createdAt"`
}

// UserStatus announces a presence change.
type UserStatus struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ErrorPayload is returned to a connection whose frame was rejected.
type ErrorPayload struct {
	Message string `json:"message"`
}
