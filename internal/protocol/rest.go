package protocol

import "time"

// RegisterRequest creates an account.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Image    string `json:"image,omitempty"`
}

// LoginRequest exchanges credentials for a token.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse returns a bearer token and the caller's profile.
type AuthResponse struct {
	Token     string      `json:"token"`
	ExpiresAt int64       `json:"expiresAt"`
	User      UserSummary `json:"user"`
}

// Conversation is a conversation enriched for the caller.
type Conversation struct {
	ID               string       `json:"id"`
	ParticipantIDs   []string     `json:"participantIds"`
	ReservationID    string       `json:"reservationId,omitempty"`
	LastMessageAt    time.Time    `json:"lastMessageAt"`
	CreatedAt        time.Time    `json:"createdAt"`
	OtherParticipant *UserSummary `json:"otherParticipant"`
	LastMessage      *Message     `json:"lastMessage"`
}

// UpdateNotificationRequest toggles the read flag.
type UpdateNotificationRequest struct {
	Read *bool `json:"read"`
}

// SuccessResponse acknowledges a write without a body.
type SuccessResponse struct {
	Success bool  `json:"success"`
	Updated int64 `json:"updated,omitempty"`
}
