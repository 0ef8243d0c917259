package client

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/fenggwsx/StayChat/internal/protocol"
)

func formatMessage(msg protocol.Message, selfID string) string {
	name := msg.SenderID
	if msg.Sender != nil && strings.TrimSpace(msg.Sender.Name) != "" {
		name = msg.Sender.Name
	}
	if msg.SenderID != "" && msg.SenderID == selfID {
		name = "you"
	}
	body := strings.TrimSpace(msg.Content)
	if body == "" {
		body = "(empty)"
	}
	return fmt.Sprintf("[%s] %s: %s", formatClock(msg.CreatedAt), name, body)
}

func formatNotification(n protocol.Notification) string {
	marker := "[ ]"
	if n.Read {
		marker = "[x]"
	}
	line := fmt.Sprintf("%s %s %s", marker, formatClock(n.CreatedAt), n.Title)
	if n.Message != "" {
		line += ": " + truncate(n.Message, 60)
	}
	return line
}

// conversationLabel names a conversation after the other participant.
func conversationLabel(conv protocol.Conversation) string {
	if p := conv.OtherParticipant; p != nil {
		if p.Name != "" {
			return p.Name
		}
		return p.ID
	}
	return conv.ID
}

// truncate shortens s to at most width terminal cells, single line.
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "...")
}
