package server

import "strings"

const (
	userRoomPrefix         = "user:"
	conversationRoomPrefix = "conversation:"
)

// UserRoom names the personal inbox room of a user.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// ConversationRoom names the channel of a conversation.
func ConversationRoom(conversationID string) string {
	return conversationRoomPrefix + conversationID
}

func trimmed(values ...*string) bool {
	for _, v := range values {
		*v = strings.TrimSpace(*v)
		if *v == "" {
			return false
		}
	}
	return true
}
