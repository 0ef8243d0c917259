package client

import (
	"strings"

	"github.com/fenggwsx/StayChat/internal/protocol"
)

// TypingRoster tracks who else is typing in the open conversation.
type TypingRoster struct {
	self  string
	order []string
	names map[string]string
}

// NewTypingRoster returns a roster that ignores events about selfID.
func NewTypingRoster(selfID string) *TypingRoster {
	return &TypingRoster{self: selfID, names: make(map[string]string)}
}

// Apply folds one user-typing event into the roster. A start without a
// display name is treated as a stop.
func (r *TypingRoster) Apply(ev protocol.TypingEvent) {
	if ev.UserID == "" || ev.UserID == r.self {
		return
	}
	if ev.IsTyping && ev.UserName != "" {
		if _, ok := r.names[ev.UserID]; !ok {
			r.order = append(r.order, ev.UserID)
		}
		r.names[ev.UserID] = ev.UserName
		return
	}
	r.drop(ev.UserID)
}

// Reset forgets everyone, e.g. when switching conversations.
func (r *TypingRoster) Reset() {
	r.order = nil
	r.names = make(map[string]string)
}

// Names lists typists in the order they started.
func (r *TypingRoster) Names() []string {
	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.names[id])
	}
	return out
}

// String renders the indicator line, empty when nobody is typing.
func (r *TypingRoster) String() string {
	names := r.Names()
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	default:
		return strings.Join(names, ", ") + " are typing..."
	}
}

func (r *TypingRoster) drop(userID string) {
	if _, ok := r.names[userID]; !ok {
		return
	}
	delete(r.names, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
