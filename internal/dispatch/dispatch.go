// Package dispatch bridges the write path to the relay: it persists messages
// and notifications, then triggers best-effort live fan-out.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/fenggwsx/StayChat/internal/protocol"
	"github.com/fenggwsx/StayChat/internal/storage"
)

const (
	// NotificationTypeMessage marks inbox entries created for chat messages.
	NotificationTypeMessage = "message"
	previewLimit            = 100
	previewSuffix           = "..."
)

var (
	ErrValidation = errors.New("dispatch: validation failed")
	ErrNotFound   = errors.New("dispatch: not found")
	ErrForbidden  = errors.New("dispatch: forbidden")
)

// Publisher is the live fan-out side of the relay.
type Publisher interface {
	RelayNewMessage(msg protocol.Message, conversationID string) error
	RelayNotification(n protocol.Notification, recipientUserID string) error
}

// SendMessageRequest is the body of a message write. Either ConversationID
// or ReceiverID must be set; ConversationID wins when both are.
type SendMessageRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId,omitempty"`
	ReceiverID     string `json:"receiverId,omitempty"`
	ReservationID  string `json:"reservationId,omitempty"`
}

// CreateNotificationRequest is the body of a direct notification write.
type CreateNotificationRequest struct {
	UserID  string                 `json:"userId"`
	Type    string                 `json:"type"`
	Title   string                 `json:"title"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Coordinator persists through the store and then relays. Storage errors
// fail the call; relay errors never do.
type Coordinator struct {
	store storage.Store
	relay Publisher
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

// NewCoordinator wires a coordinator. relay may be nil, in which case
// nothing is pushed live.
func NewCoordinator(store storage.Store, relay Publisher, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		store: store,
		relay: relay,
		log:   log.With().Str("component", "dispatch").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return ulid.Make().String() },
	}
}

// SendMessage resolves the conversation, stores the message, touches the
// conversation, notifies the other participant and relays both.
func (c *Coordinator) SendMessage(ctx context.Context, sender *storage.User, req SendMessageRequest) (protocol.Message, error) {
	if sender == nil || sender.ID == "" {
		return protocol.Message{}, fmt.Errorf("%w: sender required", ErrValidation)
	}
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if strings.TrimSpace(req.Content) == "" {
		return protocol.Message{}, fmt.Errorf("%w: content required", ErrValidation)
	}
	if req.ConversationID == "" && req.ReceiverID == "" {
		return protocol.Message{}, fmt.Errorf("%w: conversationId or receiverId required", ErrValidation)
	}

	conv, err := c.resolveConversation(ctx, sender.ID, req)
	if err != nil {
		return protocol.Message{}, err
	}

	now := c.now()
	stored := storage.Message{
		ID:             c.newID(),
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		Content:        req.Content,
		CreatedAt:      now,
		Sender:         sender,
	}
	if err := c.store.SaveMessage(ctx, &stored); err != nil {
		return protocol.Message{}, fmt.Errorf("save message: %w", err)
	}
	if err := c.store.TouchConversation(ctx, conv.ID, now); err != nil {
		return protocol.Message{}, fmt.Errorf("touch conversation: %w", err)
	}

	msg := protocol.FromMessage(stored)

	var notification *protocol.Notification
	recipient, ok := conv.OtherParticipant(sender.ID)
	if ok {
		n, err := c.saveMessageNotification(ctx, sender, conv, stored, req.ReservationID, recipient)
		if err != nil {
			return protocol.Message{}, err
		}
		notification = &n
	}

	c.publish("new-message", func(p Publisher) error {
		return p.RelayNewMessage(msg, conv.ID)
	})
	if notification != nil {
		c.publish("new-notification", func(p Publisher) error {
			return p.RelayNotification(*notification, recipient)
		})
	}
	return msg, nil
}

// CreateNotification stores an arbitrary notification and relays it to the
// recipient's user room.
func (c *Coordinator) CreateNotification(ctx context.Context, req CreateNotificationRequest) (protocol.Notification, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || strings.TrimSpace(req.Type) == "" || strings.TrimSpace(req.Title) == "" {
		return protocol.Notification{}, fmt.Errorf("%w: userId, type and title required", ErrValidation)
	}
	stored := storage.Notification{
		ID:        c.newID(),
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Data:      req.Data,
		CreatedAt: c.now(),
	}
	if err := c.store.SaveNotification(ctx, &stored); err != nil {
		return protocol.Notification{}, fmt.Errorf("save notification: %w", err)
	}
	n := protocol.FromNotification(stored)
	c.publish("new-notification", func(p Publisher) error {
		return p.RelayNotification(n, req.UserID)
	})
	return n, nil
}

func (c *Coordinator) resolveConversation(ctx context.Context, senderID string, req SendMessageRequest) (*storage.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := c.store.GetConversation(ctx, req.ConversationID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, req.ConversationID)
		}
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		if !conv.HasParticipant(senderID) {
			return nil, fmt.Errorf("%w: not a participant of %s", ErrForbidden, conv.ID)
		}
		return conv, nil
	}

	if req.ReceiverID == senderID {
		return nil, fmt.Errorf("%w: cannot message yourself", ErrValidation)
	}
	return c.findOrCreatePair(ctx, senderID, req.ReceiverID, req.ReservationID)
}

// findOrCreatePair only reuses conversations with exactly the two users.
// Anything else, including a conversation that lost or gained a
// participant, is ignored and a new canonical pair is created.
func (c *Coordinator) findOrCreatePair(ctx context.Context, a, b, reservationID string) (*storage.Conversation, error) {
	candidates, err := c.store.FindConversationsWithParticipants(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	for i := range candidates {
		if len(candidates[i].ParticipantIDs) == 2 {
			return &candidates[i], nil
		}
	}

	participants := []string{a, b}
	sort.Strings(participants)
	now := c.now()
	conv := &storage.Conversation{
		ID:             c.newID(),
		ParticipantIDs: participants,
		ReservationID:  reservationID,
		LastMessageAt:  now,
		CreatedAt:      now,
	}
	if err := c.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	c.log.Debug().Str("conversation_id", conv.ID).Strs("participants", participants).Msg("conversation created")
	return conv, nil
}

func (c *Coordinator) saveMessageNotification(ctx context.Context, sender *storage.User, conv *storage.Conversation, msg storage.Message, reservationID, recipient string) (protocol.Notification, error) {
	data := map[string]interface{}{
		"conversationId": conv.ID,
		"messageId":      msg.ID,
		"senderId":       sender.ID,
		"senderName":     sender.Name,
	}
	if reservationID == "" {
		reservationID = conv.ReservationID
	}
	if reservationID != "" {
		data["reservationId"] = reservationID
	}

	stored := storage.Notification{
		ID:        c.newID(),
		UserID:    recipient,
		Type:      NotificationTypeMessage,
		Title:     "New message from " + sender.Name,
		Message:   Preview(msg.Content),
		Data:      data,
		CreatedAt: msg.CreatedAt,
	}
	if err := c.store.SaveNotification(ctx, &stored); err != nil {
		return protocol.Notification{}, fmt.Errorf("save notification: %w", err)
	}
	return protocol.FromNotification(stored), nil
}

// publish runs one relay call. Failures and panics are logged and dropped:
// the data is already stored and recipients will see it on their next fetch.
func (c *Coordinator) publish(event string, fn func(Publisher) error) {
	if c.relay == nil {
		c.log.Warn().Str("event", event).Msg("relay unavailable, skipping live push")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("event", event).Msg("relay panicked")
		}
	}()
	if err := fn(c.relay); err != nil {
		c.log.Warn().Err(err).Str("event", event).Msg("relay failed")
	}
}

// Preview shortens content to the notification preview length, counted in
// characters, appending an ellipsis when anything was cut.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLimit]) + previewSuffix
}
