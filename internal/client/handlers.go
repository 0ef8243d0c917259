package client

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fenggwsx/StayChat/internal/protocol"
)

// relayMsg carries one session callback into the bubbletea loop.
type relayMsg struct {
	message      *protocol.Message
	typing       *protocol.TypingEvent
	notification *protocol.Notification
	presence     *protocol.UserStatus
	status       *Status
	failure      string
}

func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// bridge subscribes to the session and forwards events to the UI channel.
// Events are dropped when the UI falls behind rather than stalling the
// session's read loop.
func (a *App) bridge(session *Session) {
	forward := func(m relayMsg) {
		select {
		case a.events <- m:
		default:
			a.log.Warn().Msg("ui event queue full; dropping relay event")
		}
	}
	a.cleanups = append(a.cleanups,
		session.OnNewMessage(func(m protocol.Message) { forward(relayMsg{message: &m}) }),
		session.OnTyping(func(ev protocol.TypingEvent) { forward(relayMsg{typing: &ev}) }),
		session.OnNotification(func(n protocol.Notification) { forward(relayMsg{notification: &n}) }),
		session.OnUserStatus(func(st protocol.UserStatus) { forward(relayMsg{presence: &st}) }),
		session.OnStatus(func(st Status) { forward(relayMsg{status: &st}) }),
		session.OnError(func(reason string) { forward(relayMsg{failure: reason}) }),
	)
}

func (a *App) handleAuthResult(msg authResultMsg) tea.Cmd {
	if msg.err != nil {
		a.logErrorf("Authentication failed: %v", msg.err)
		return nil
	}
	a.user = msg.resp.User
	a.roster = NewTypingRoster(a.user.ID)
	a.logf("Authenticated as %s", a.user.Name)
	a.log.Info().Str("user_id", a.user.ID).Msg("authenticated")

	if a.session != nil {
		for _, cleanup := range a.cleanups {
			cleanup()
		}
		a.cleanups = nil
		old := a.session
		go func() { _ = old.Close() }()
	}
	a.session = NewSession(SessionOptions{
		URL:          a.api.WebSocketURL(),
		Token:        a.api.Token(),
		ReconnectMin: a.cfg.ReconnectMin,
		ReconnectMax: a.cfg.ReconnectMax,
		Logger:       a.log,
	})
	a.bridge(a.session)
	a.active = nil
	a.timeline = NewTimeline(nil)
	return tea.Batch(a.connectCmd(a.session, a.user.ID), a.conversationsCmd(), a.notificationsCmd())
}

func (a *App) handleConnectResult(msg connectResultMsg) tea.Cmd {
	if msg.session != a.session {
		return nil
	}
	if msg.err != nil {
		a.logErrorf("Relay connection failed: %v", msg.err)
		return nil
	}
	a.logf("Connected to relay")
	session := msg.session
	return func() tea.Msg {
		_ = session.SetPresence(protocol.StatusOnline)
		return nil
	}
}

func (a *App) handleConversations(msg conversationsMsg) {
	if msg.err != nil {
		a.logErrorf("Loading conversations failed: %v", msg.err)
		return
	}
	a.conversations = msg.list
	if a.active != nil {
		for _, conv := range msg.list {
			if conv.ID == a.active.ID {
				c := conv
				a.active = &c
			}
		}
	}
	a.updateViewportContent()
}

func (a *App) handleHistory(msg historyMsg) {
	if a.active == nil || a.active.ID != msg.conversationID {
		return
	}
	if msg.err != nil {
		a.logErrorf("Loading history failed: %v", msg.err)
		return
	}
	merged := NewTimeline(msg.messages)
	for _, e := range a.timeline.Entries() {
		if e.State == Pending {
			merged = merged.AddPending(e.TempID, e.Message)
		} else {
			merged = merged.Receive(e.Message)
		}
	}
	a.timeline = merged
	a.updateViewportContent()
}

func (a *App) handleNotifications(msg notificationsMsg) {
	if msg.err != nil {
		a.logErrorf("Loading notifications failed: %v", msg.err)
		return
	}
	a.inbox = NewInbox(msg.list)
	a.updateViewportContent()
}

func (a *App) handleSendResult(msg sendResultMsg) tea.Cmd {
	if msg.err != nil {
		if msg.tempID != "" {
			a.timeline = a.timeline.Fail(msg.tempID)
			a.updateViewportContent()
		}
		var httpErr *HTTPError
		if errors.As(msg.err, &httpErr) && httpErr.Message != "" {
			a.logErrorf("Message failed: %s", httpErr.Message)
		} else {
			a.logErrorf("Message failed: %v", msg.err)
		}
		return nil
	}

	if a.active != nil && a.active.ID == msg.msg.ConversationID {
		a.timeline = a.timeline.Confirm(msg.tempID, msg.msg)
		a.updateViewportContent()
	}
	a.touchConversation(msg.msg)
	if !msg.direct {
		return nil
	}
	a.logf("Message delivered")
	if conv, ok := a.findConversation(msg.msg.ConversationID); ok {
		return a.openConversation(conv)
	}
	return a.conversationsCmd()
}

func (a *App) handleReadAll(msg readAllResultMsg) {
	if msg.err != nil {
		a.logErrorf("Mark all read failed: %v", msg.err)
		return
	}
	a.inbox.MarkAllRead()
	a.logf("Marked %d notifications read", msg.updated)
	a.updateViewportContent()
}

func (a *App) handleRelay(msg relayMsg) tea.Cmd {
	switch {
	case msg.message != nil:
		m := *msg.message
		if a.active != nil && a.active.ID == m.ConversationID {
			a.timeline = a.timeline.Receive(m)
			a.updateViewportContent()
		}
		if !a.touchConversation(m) {
			return a.conversationsCmd()
		}
	case msg.typing != nil:
		a.roster.Apply(*msg.typing)
	case msg.notification != nil:
		n := *msg.notification
		a.inbox.Add(n)
		a.logf("%s: %s", n.Title, n.Message)
		if a.view == viewNotifications {
			a.updateViewportContent()
		}
		if conversationID, _ := n.Data["conversationId"].(string); conversationID != "" {
			if _, known := a.findConversation(conversationID); !known {
				return a.conversationsCmd()
			}
		}
	case msg.presence != nil:
		a.logf("%s is %s", a.displayName(msg.presence.UserID), msg.presence.Status)
	case msg.status != nil:
		return a.handleStatus(*msg.status)
	case msg.failure != "":
		a.logErrorf("Relay: %s", msg.failure)
	}
	return nil
}

// handleStatus re-joins the open conversation after a reconnect; the relay
// only restores the user room on its own.
func (a *App) handleStatus(status Status) tea.Cmd {
	previous := a.status
	a.status = status
	switch status {
	case StatusReconnecting:
		a.roster.Reset()
		a.logErrorf("Relay connection lost; reconnecting ...")
	case StatusConnected:
		if previous != StatusReconnecting {
			return nil
		}
		a.logf("Relay connection restored")
		if a.active == nil || a.session == nil {
			return nil
		}
		session, convID := a.session, a.active.ID
		return tea.Batch(func() tea.Msg {
			_ = session.JoinConversation(convID)
			_ = session.SetPresence(protocol.StatusOnline)
			return nil
		}, a.historyCmd(convID))
	}
	return nil
}

// touchConversation moves the conversation of msg to the top of the list,
// reporting false when it is not known locally.
func (a *App) touchConversation(msg protocol.Message) bool {
	for i, conv := range a.conversations {
		if conv.ID != msg.ConversationID {
			continue
		}
		m := msg
		conv.LastMessage = &m
		conv.LastMessageAt = msg.CreatedAt
		rest := append(a.conversations[:i:i], a.conversations[i+1:]...)
		a.conversations = append([]protocol.Conversation{conv}, rest...)
		if a.view == viewConversations {
			a.updateViewportContent()
		}
		return true
	}
	return false
}

func (a *App) displayName(userID string) string {
	if userID == a.user.ID {
		return "You"
	}
	for _, conv := range a.conversations {
		if conv.OtherParticipant != nil && conv.OtherParticipant.ID == userID && conv.OtherParticipant.Name != "" {
			return conv.OtherParticipant.Name
		}
	}
	return userID
}
