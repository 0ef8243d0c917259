package server

import (
	"sync"
	"time"
)

// DefaultTypingQuietPeriod is how long a typing indicator survives without
// renewed activity.
const DefaultTypingQuietPeriod = 2 * time.Second

type typingKey struct {
	conversationID string
	userID         string
}

type typingEntry struct {
	lastActivity time.Time
	origin       *Conn
	timer        *time.Timer
	generation   uint64
}

// TypingExpiry describes an indicator whose quiet period elapsed.
type TypingExpiry struct {
	ConversationID string
	UserID         string
	// Origin is the connection that issued the last start.
	Origin *Conn
}

// TypingTracker holds per (conversation, user) typing state. An entry exists
// only while Active; stopping or expiring deletes it. Every entry owns at
// most one timer and stale timers are recognized by generation.
type TypingTracker struct {
	mu       sync.Mutex
	quiet    time.Duration
	entries  map[typingKey]*typingEntry
	onExpire func(TypingExpiry)
	closed   bool
	now      func() time.Time
}

// NewTypingTracker builds a tracker calling onExpire once per elapsed quiet
// period. onExpire runs on the timer goroutine without the tracker lock held.
func NewTypingTracker(quiet time.Duration, onExpire func(TypingExpiry)) *TypingTracker {
	if quiet <= 0 {
		quiet = DefaultTypingQuietPeriod
	}
	return &TypingTracker{
		quiet:    quiet,
		entries:  make(map[typingKey]*typingEntry),
		onExpire: onExpire,
		now:      time.Now,
	}
}

// Start marks the key Active and restarts its quiet timer.
func (t *TypingTracker) Start(conversationID, userID string, origin *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	key := typingKey{conversationID: conversationID, userID: userID}
	entry, ok := t.entries[key]
	if !ok {
		entry = &typingEntry{}
		t.entries[key] = entry
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.generation++
	entry.lastActivity = t.now()
	entry.origin = origin

	generation := entry.generation
	entry.timer = time.AfterFunc(t.quiet, func() {
		t.expire(key, generation)
	})
}

// Stop returns the key to Idle immediately. It reports whether the key was Active.
func (t *TypingTracker) Stop(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{conversationID: conversationID, userID: userID}
	entry, ok := t.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.entries, key)
	return true
}

// Active reports whether the key is currently Active.
func (t *TypingTracker) Active(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{conversationID: conversationID, userID: userID}]
	return ok
}

// LastActivity returns when the key was last started.
func (t *TypingTracker) LastActivity(conversationID, userID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[typingKey{conversationID: conversationID, userID: userID}]
	if !ok {
		return time.Time{}, false
	}
	return entry.lastActivity, true
}

// Len returns the number of Active keys.
func (t *TypingTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close cancels every pending timer. Later starts are ignored.
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for key, entry := range t.entries {
		entry.timer.Stop()
		delete(t.entries, key)
	}
}

func (t *TypingTracker) expire(key typingKey, generation uint64) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok || entry.generation != generation {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	origin := entry.origin
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(TypingExpiry{ConversationID: key.conversationID, UserID: key.userID, Origin: origin})
	}
}
