package client

import (
	"context"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/fenggwsx/StayChat/internal/dispatch"
	"github.com/fenggwsx/StayChat/internal/protocol"
)

type authResultMsg struct {
	resp protocol.AuthResponse
	err  error
}

type connectResultMsg struct {
	session *Session
	err     error
}

type conversationsMsg struct {
	list []protocol.Conversation
	err  error
}

type historyMsg struct {
	conversationID string
	messages       []protocol.Message
	err            error
}

type notificationsMsg struct {
	list []protocol.Notification
	err  error
}

type sendResultMsg struct {
	tempID string
	direct bool
	msg    protocol.Message
	err    error
}

type readAllResultMsg struct {
	updated int64
	err     error
}

type typingTickMsg struct{}

func (a *App) handleSubmit(value string) tea.Cmd {
	if strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		return a.executeCommand(value)
	}
	return a.sendChatMessage(value)
}

func (a *App) executeCommand(raw string) tea.Cmd {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}

	cmd := strings.TrimPrefix(fields[0], string(a.cfg.CommandPrefix))
	var cmds []tea.Cmd

	switch cmd {
	case "help":
		a.setView(viewHelp)
	case "chat":
		a.setView(viewChat)
	case "login":
		if len(fields) < 3 {
			a.logErrorf("Usage: /login <email> <password>")
			break
		}
		password := strings.Join(fields[2:], " ")
		a.logf("Logging in as %s ...", fields[1])
		cmds = append(cmds, a.loginCmd(fields[1], password))
	case "register":
		if len(fields) < 4 {
			a.logErrorf("Usage: /register <name> <email> <password>")
			break
		}
		req := protocol.RegisterRequest{Name: fields[1], Email: fields[2], Password: strings.Join(fields[3:], " ")}
		a.logf("Registering %s ...", req.Email)
		cmds = append(cmds, a.registerCmd(req))
	case "convs":
		if !a.requireLogin() {
			break
		}
		a.setView(viewConversations)
		cmds = append(cmds, a.conversationsCmd())
	case "open":
		if len(fields) < 2 {
			a.logErrorf("Usage: /open <n|conversationId>")
			break
		}
		if !a.requireLogin() {
			break
		}
		conv, ok := a.findConversation(fields[1])
		if !ok {
			a.logErrorf("No conversation %s; use /convs to refresh", fields[1])
			break
		}
		cmds = append(cmds, a.openConversation(conv))
	case "dm":
		if len(fields) < 3 {
			a.logErrorf("Usage: /dm <userId> <text>")
			break
		}
		if !a.requireLogin() {
			break
		}
		text := strings.TrimSpace(strings.Join(fields[2:], " "))
		a.logf("Sending to %s ...", fields[1])
		cmds = append(cmds, a.sendCmd("", true, dispatch.SendMessageRequest{Content: text, ReceiverID: fields[1]}))
	case "notifications":
		if !a.requireLogin() {
			break
		}
		a.setView(viewNotifications)
		cmds = append(cmds, a.notificationsCmd())
	case "read-all":
		if !a.requireLogin() {
			break
		}
		cmds = append(cmds, a.readAllCmd())
	case "quit", "exit":
		cmds = append(cmds, a.quit())
	default:
		a.logErrorf("Command %s not implemented", fields[0])
	}

	a.updateViewportContent()
	return tea.Batch(cmds...)
}

func (a *App) requireLogin() bool {
	if a.api.Token() == "" || a.user.ID == "" {
		a.logErrorf("Log in first (use /login or /register)")
		return false
	}
	return true
}

// findConversation resolves a 1-based list position or a conversation id.
func (a *App) findConversation(ref string) (protocol.Conversation, bool) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(a.conversations) {
		return a.conversations[n-1], true
	}
	for _, conv := range a.conversations {
		if conv.ID == ref {
			return conv, true
		}
	}
	return protocol.Conversation{}, false
}

// openConversation swaps room membership and loads history. Membership is
// requested before the fetch so nothing sent in between is missed.
func (a *App) openConversation(conv protocol.Conversation) tea.Cmd {
	stop := a.stopTyping()
	session := a.session
	var previous string
	if a.active != nil {
		previous = a.active.ID
	}
	a.active = &conv
	a.timeline = NewTimeline(nil)
	a.roster.Reset()
	a.setView(viewChat)
	a.logf("Opened conversation with %s", conversationLabel(conv))

	swap := func() tea.Msg {
		if session == nil {
			return nil
		}
		if previous != "" && previous != conv.ID {
			_ = session.LeaveConversation(previous)
		}
		_ = session.JoinConversation(conv.ID)
		return nil
	}
	return tea.Sequence(stop, swap, a.historyCmd(conv.ID))
}

func (a *App) sendChatMessage(content string) tea.Cmd {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if !a.requireLogin() {
		return nil
	}
	if a.active == nil {
		a.logErrorf("Open a conversation first (use /convs and /open <n>)")
		return nil
	}
	if a.view != viewChat {
		a.setView(viewChat)
	}

	tempID := uuid.NewString()
	sender := a.user
	a.timeline = a.timeline.AddPending(tempID, protocol.Message{
		Content:        content,
		SenderID:       sender.ID,
		ConversationID: a.active.ID,
		Sender:         &sender,
	})
	a.updateViewportContent()

	req := dispatch.SendMessageRequest{Content: content, ConversationID: a.active.ID}
	return tea.Batch(a.stopTyping(), a.sendCmd(tempID, false, req))
}

func (a *App) loginCmd(email, password string) tea.Cmd {
	api := a.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := api.Login(ctx, email, password)
		return authResultMsg{resp: resp, err: err}
	}
}

func (a *App) registerCmd(req protocol.RegisterRequest) tea.Cmd {
	api := a.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := api.Register(ctx, req)
		return authResultMsg{resp: resp, err: err}
	}
}

func (a *App) connectCmd(session *Session, userID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		err := session.Connect(ctx, userID)
		return connectResultMsg{session: session, err: err}
	}
}

func (a *App) conversationsCmd() tea.Cmd {
	api := a.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		list, err := api.Conversations(ctx)
		return conversationsMsg{list: list, err: err}
	}
}

func (a *App) historyCmd(conversationID string) tea.Cmd {
	api := a.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		messages, err := api.Messages(ctx, conversationID, "")
		return historyMsg{conversationID: conversationID, messages: messages, err: err}
	}
}

func (a *App) notificationsCmd() tea.Cmd {
	api := a.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		list, err := api.Notifications(ctx)
		return notificationsMsg{list: list, err: err}
	}
}

func (a *App) sendCmd(tempID string, direct bool, req dispatch.SendMessageRequest) tea.Cmd {
	api := a.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		msg, err := api.SendMessage(ctx, req)
		return sendResultMsg{tempID: tempID, direct: direct, msg: msg, err: err}
	}
}

func (a *App) readAllCmd() tea.Cmd {
	api := a.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		updated, err := api.MarkAllNotificationsRead(ctx)
		return readAllResultMsg{updated: updated, err: err}
	}
}

func defaultCommands() []commandSpec {
	return []commandSpec{
		{trigger: "/login", usage: "/login <email> <password>", description: "Authenticate with existing credentials"},
		{trigger: "/register", usage: "/register <name> <email> <password>", description: "Create an account"},
		{trigger: "/convs", usage: "/convs", description: "List conversations"},
		{trigger: "/open", usage: "/open <n|id>", description: "Open a conversation"},
		{trigger: "/dm", usage: "/dm <userId> <text>", description: "Message a user directly"},
		{trigger: "/notifications", usage: "/notifications", description: "Show notifications"},
		{trigger: "/read-all", usage: "/read-all", description: "Mark every notification read"},
		{trigger: "/chat", usage: "/chat", description: "Switch to chat view"},
		{trigger: "/help", usage: "/help", description: "Show command help"},
		{trigger: "/quit", usage: "/quit", description: "Exit the client"},
	}
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	return t.Local().Format("15:04")
}
