package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fenggwsx/StayChat/internal/storage"
)

// ErrEmptyPayload is returned when a frame carries no data.
var ErrEmptyPayload = errors.New("protocol: empty payload")

// Encode marshals a complete frame for event with the given payload.
func Encode(event Event, payload interface{}) ([]byte, error) {
	frame := Frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		frame.Data = data
	}
	return json.Marshal(frame)
}

// DecodeFrame parses a raw websocket message.
func DecodeFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return frame, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Event == "" {
		return frame, errors.New("decode frame: missing event")
	}
	return frame, nil
}

// Decode unmarshals the frame data into out.
func (f Frame) Decode(out interface{}) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(f.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	return nil
}

// ID extracts a bare identifier payload such as the userId of
// join-user-room. Objects carrying the id under key are accepted as well.
func (f Frame) ID(key string) (string, error) {
	if len(f.Data) == 0 {
		return "", ErrEmptyPayload
	}
	var id string
	if err := json.Unmarshal(f.Data, &id); err != nil {
		var obj map[string]interface{}
		if objErr := json.Unmarshal(f.Data, &obj); objErr != nil {
			return "", fmt.Errorf("decode %s payload: %w", f.Event, err)
		}
		id, _ = obj[key].(string)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyPayload
	}
	return id, nil
}

// FromUser projects a stored user for clients.
func FromUser(u *storage.User) *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Name: u.Name, Image: u.Image}
}

// FromMessage projects a stored message for clients.
func FromMessage(m storage.Message) Message {
	return Message{
		ID:             m.ID,
		Content:        m.Content,
		SenderID:       m.SenderID,
		ConversationID: m.ConversationID,
		CreatedAt:      m.CreatedAt,
		Sender:         FromUser(m.Sender),
	}
}

// FromNotification projects a stored notification for clients. Data is
// never null on the wire.
func FromNotification(n storage.Notification) Notification {
	data := n.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	return Notification{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      data,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}
