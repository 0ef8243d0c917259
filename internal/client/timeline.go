package client

import (
	"time"

	"github.com/fenggwsx/StayChat/internal/protocol"
)

// EntryState tags a timeline entry as locally pending or server confirmed.
type EntryState int

const (
	Pending EntryState = iota
	Confirmed
)

// Entry is one row of a conversation timeline. Pending entries are keyed by
// TempID; confirmed entries by Message.ID.
type Entry struct {
	State   EntryState
	TempID  string
	Message protocol.Message
}

// Key returns the identifier the entry is reconciled by.
func (e Entry) Key() string {
	if e.State == Pending {
		return e.TempID
	}
	return e.Message.ID
}

// Timeline is the visible message list of one conversation. Methods return
// a new Timeline and never modify the receiver's backing array.
type Timeline struct {
	entries []Entry
}

// NewTimeline seeds a timeline with fetched history.
func NewTimeline(history []protocol.Message) Timeline {
	var t Timeline
	for _, msg := range history {
		t = t.Receive(msg)
	}
	return t
}

// Entries returns a copy of the rows in display order.
func (t Timeline) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len reports the number of rows.
func (t Timeline) Len() int {
	return len(t.entries)
}

// AddPending appends an optimistic entry for content the user just sent.
func (t Timeline) AddPending(tempID string, draft protocol.Message) Timeline {
	if tempID == "" || t.indexOf(Pending, tempID) >= 0 {
		return t
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now()
	}
	return t.with(append(t.clone(), Entry{State: Pending, TempID: tempID, Message: draft}))
}

// Confirm replaces the pending entry tempID with the server's message, then
// drops any later entry carrying the same final id, such as a relay echo
// that arrived before the REST response.
func (t Timeline) Confirm(tempID string, msg protocol.Message) Timeline {
	entries := t.clone()
	confirmed := Entry{State: Confirmed, Message: msg}

	if i := indexOf(entries, Pending, tempID); i >= 0 {
		entries[i] = confirmed
	} else if indexOf(entries, Confirmed, msg.ID) < 0 {
		entries = append(entries, confirmed)
	}
	return t.with(dedupe(entries))
}

// Fail removes the pending entry tempID.
func (t Timeline) Fail(tempID string) Timeline {
	i := t.indexOf(Pending, tempID)
	if i < 0 {
		return t
	}
	return t.with(remove(t.clone(), i))
}

// Receive appends a relayed message unless an entry already carries its id.
func (t Timeline) Receive(msg protocol.Message) Timeline {
	if msg.ID == "" || t.indexOf(Confirmed, msg.ID) >= 0 {
		return t
	}
	return t.with(append(t.clone(), Entry{State: Confirmed, Message: msg}))
}

func (t Timeline) indexOf(state EntryState, key string) int {
	return indexOf(t.entries, state, key)
}

func (t Timeline) clone() []Entry {
	out := make([]Entry, len(t.entries), len(t.entries)+1)
	copy(out, t.entries)
	return out
}

func (t Timeline) with(entries []Entry) Timeline {
	return Timeline{entries: entries}
}

func indexOf(entries []Entry, state EntryState, key string) int {
	if key == "" {
		return -1
	}
	for i, e := range entries {
		if e.State == state && e.Key() == key {
			return i
		}
	}
	return -1
}

func remove(entries []Entry, i int) []Entry {
	return append(entries[:i], entries[i+1:]...)
}

// dedupe keeps the first confirmed entry for each id.
func dedupe(entries []Entry) []Entry {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if e.State == Confirmed {
			if _, ok := seen[e.Message.ID]; ok {
				continue
			}
			seen[e.Message.ID] = struct{}{}
		}
		out = append(out, e)
	}
	return out
}
