package client

import "github.com/fenggwsx/StayChat/internal/protocol"

// Inbox holds the user's notifications, newest first.
type Inbox struct {
	items []protocol.Notification
}

// NewInbox seeds the inbox with a fetched page (already newest first).
func NewInbox(page []protocol.Notification) *Inbox {
	items := make([]protocol.Notification, len(page))
	copy(items, page)
	return &Inbox{items: items}
}

// Add prepends a pushed notification, replacing any copy with the same id.
func (b *Inbox) Add(n protocol.Notification) {
	b.Remove(n.ID)
	b.items = append([]protocol.Notification{n}, b.items...)
}

// Items returns a copy of the notifications.
func (b *Inbox) Items() []protocol.Notification {
	out := make([]protocol.Notification, len(b.items))
	copy(out, b.items)
	return out
}

// Unread counts notifications not yet read.
func (b *Inbox) Unread() int {
	n := 0
	for _, item := range b.items {
		if !item.Read {
			n++
		}
	}
	return n
}

// MarkRead flags one notification; it reports whether id was present.
func (b *Inbox) MarkRead(id string) bool {
	for i := range b.items {
		if b.items[i].ID == id {
			b.items[i].Read = true
			return true
		}
	}
	return false
}

// MarkAllRead flags every notification and returns how many changed.
func (b *Inbox) MarkAllRead() int {
	changed := 0
	for i := range b.items {
		if !b.items[i].Read {
			b.items[i].Read = true
			changed++
		}
	}
	return changed
}

// Remove deletes the notification id, reporting whether it was present.
func (b *Inbox) Remove(id string) bool {
	for i := range b.items {
		if b.items[i].ID == id {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}
