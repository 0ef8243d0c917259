package client

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/fenggwsx/StayChat/internal/config"
	"github.com/fenggwsx/StayChat/internal/logging"
	"github.com/fenggwsx/StayChat/internal/protocol"
)

type view int

const (
	viewChat view = iota
	viewConversations
	viewNotifications
	viewHelp
)

func (v view) String() string {
	switch v {
	case viewConversations:
		return "conversations"
	case viewNotifications:
		return "notifications"
	case viewHelp:
		return "help"
	default:
		return "chat"
	}
}

type logLevel int

const (
	logLevelInfo logLevel = iota
	logLevelError
)

type logLine struct {
	label string
	body  string
	level logLevel
}

type commandSpec struct {
	trigger     string
	usage       string
	description string
}

type styleSet struct {
	title         lipgloss.Style
	view          lipgloss.Style
	statusOnline  lipgloss.Style
	statusOffline lipgloss.Style
	label         lipgloss.Style
	value         lipgloss.Style
	logLabel      lipgloss.Style
	logBody       lipgloss.Style
	logLabelError lipgloss.Style
	logBodyError  lipgloss.Style
	help          lipgloss.Style
	pending       lipgloss.Style
	typing        lipgloss.Style
}

const (
	requestTimeout   = 5 * time.Second
	typingRenewEvery = time.Second
	typingIdleAfter  = 1500 * time.Millisecond
	eventBuffer      = 256
)

// App is the bubbletea model of the terminal client.
type App struct {
	cfg config.ClientConfig
	log zerolog.Logger
	api *API

	session  *Session
	cleanups []func()
	events   chan tea.Msg

	user          protocol.UserSummary
	conversations []protocol.Conversation
	active        *protocol.Conversation
	timeline      Timeline
	roster        *TypingRoster
	inbox         *Inbox
	status        Status

	typing        bool
	lastKeystroke time.Time
	lastTypingAt  time.Time

	view       view
	viewport   viewport.Model
	input      textinput.Model
	helper     help.Model
	styles     styleSet
	commands   []commandSpec
	width      int
	height     int
	showHelp   bool
	helpView   string
	helpHeight int
	logLine    logLine
}

// NewApp builds the client model. api targets cfg.ServerURL.
func NewApp(cfg config.ClientConfig, api *API, log zerolog.Logger) *App {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Type /help for commands"
	input.CharLimit = 2000
	input.Focus()

	a := &App{
		cfg:      cfg,
		log:      logging.Component(log, "tui"),
		api:      api,
		events:   make(chan tea.Msg, eventBuffer),
		roster:   NewTypingRoster(""),
		inbox:    NewInbox(nil),
		viewport: viewport.New(0, 0),
		input:    input,
		helper:   help.New(),
		styles:   buildStyles(),
		commands: defaultCommands(),
	}
	a.logf("Welcome to StayChat")
	a.updateViewportContent()
	return a
}

// Init logs in automatically when credentials are configured.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, waitForEvent(a.events)}
	if a.cfg.Email != "" && a.cfg.Password != "" {
		a.logf("Logging in as %s ...", a.cfg.Email)
		cmds = append(cmds, a.loginCmd(a.cfg.Email, a.cfg.Password))
	} else {
		a.logf("Use /login <email> <password> or /register <name> <email> <password>")
	}
	return tea.Batch(cmds...)
}

// Update dispatches keys, request results and relay events.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = m.Width, m.Height
		a.updateInputWidth()
		a.updateViewportSize()
		a.updateViewportContent()
		return a, nil
	case tea.KeyMsg:
		return a.handleKey(m)
	case authResultMsg:
		return a, a.handleAuthResult(m)
	case connectResultMsg:
		return a, a.handleConnectResult(m)
	case conversationsMsg:
		a.handleConversations(m)
		return a, nil
	case historyMsg:
		a.handleHistory(m)
		return a, nil
	case notificationsMsg:
		a.handleNotifications(m)
		return a, nil
	case sendResultMsg:
		return a, a.handleSendResult(m)
	case readAllResultMsg:
		a.handleReadAll(m)
		return a, nil
	case typingTickMsg:
		return a, a.handleTypingTick()
	case relayMsg:
		return a, tea.Batch(a.handleRelay(m), waitForEvent(a.events))
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return a, a.quit()
	case tea.KeyEnter:
		value := a.input.Value()
		a.input.SetValue("")
		a.updateHelp()
		a.updateViewportSize()
		if strings.TrimSpace(value) == "" {
			return a, nil
		}
		return a, a.handleSubmit(value)
	case tea.KeyTab:
		a.handleTabCompletion()
		a.updateHelp()
		a.updateViewportSize()
		return a, nil
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	case tea.KeyEsc:
		if a.view != viewChat {
			a.view = viewChat
			a.updateViewportContent()
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	a.updateHelp()
	a.updateViewportSize()
	return a, tea.Batch(cmd, a.noteKeystroke())
}

// noteKeystroke emits typing-start while the user composes a chat line,
// renewing it before the relay's quiet period runs out.
func (a *App) noteKeystroke() tea.Cmd {
	value := a.input.Value()
	if a.active == nil || a.session == nil || value == "" || strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		return nil
	}
	now := time.Now()
	a.lastKeystroke = now
	var cmds []tea.Cmd
	if !a.typing || now.Sub(a.lastTypingAt) >= typingRenewEvery {
		a.lastTypingAt = now
		session, convID, user := a.session, a.active.ID, a.user
		cmds = append(cmds, func() tea.Msg {
			_ = session.EmitTypingStart(convID, user.ID, user.Name)
			return nil
		})
	}
	if !a.typing {
		a.typing = true
		cmds = append(cmds, typingTick())
	}
	return tea.Batch(cmds...)
}

func (a *App) handleTypingTick() tea.Cmd {
	if !a.typing {
		return nil
	}
	if time.Since(a.lastKeystroke) < typingIdleAfter {
		return typingTick()
	}
	return a.stopTyping()
}

func (a *App) stopTyping() tea.Cmd {
	if !a.typing {
		return nil
	}
	a.typing = false
	if a.session == nil || a.active == nil {
		return nil
	}
	session, convID, userID := a.session, a.active.ID, a.user.ID
	return func() tea.Msg {
		_ = session.EmitTypingStop(convID, userID)
		return nil
	}
}

func typingTick() tea.Cmd {
	return tea.Tick(typingIdleAfter/3, func(time.Time) tea.Msg { return typingTickMsg{} })
}

func (a *App) quit() tea.Cmd {
	a.logf("Exiting client")
	stop := a.stopTyping()
	for _, cleanup := range a.cleanups {
		cleanup()
	}
	a.cleanups = nil
	session := a.session
	a.session = nil
	return tea.Sequence(stop, func() tea.Msg {
		if session != nil {
			_ = session.SetPresence(protocol.StatusOffline)
			_ = session.Close()
		}
		return tea.Quit()
	})
}
