package client

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	figure "github.com/common-nighthawk/go-figure"
	"github.com/mattn/go-runewidth"
)

var homeContent = buildHomeContent()

// View renders the terminal UI.
func (a *App) View() string {
	var b strings.Builder

	b.WriteString(a.viewport.View())
	b.WriteString("\n")

	b.WriteString(a.styles.typing.Render(a.roster.String()))
	b.WriteString("\n")

	if a.showHelp && a.helpView != "" {
		b.WriteString(a.styles.help.Render(a.helpView))
		b.WriteString("\n")
	}

	b.WriteString(a.input.View())
	b.WriteString("\n")
	b.WriteString(a.logLineView())
	b.WriteString("\n")
	b.WriteString(a.statusLine())

	return b.String()
}

func (a *App) setView(v view) {
	if a.view == v {
		return
	}
	a.view = v
	a.updateViewportContent()
}

func (a *App) updateViewportContent() {
	width := a.viewport.Width
	if width <= 0 {
		width = a.width
	}
	switch a.view {
	case viewChat:
		if a.active == nil {
			a.viewport.SetContent(homeContent)
			return
		}
		if a.timeline.Len() == 0 {
			a.viewport.SetContent("No messages yet. Type and press Enter to send.")
			return
		}
		a.viewport.SetContent(strings.Join(wrapLines(a.renderTimeline(), width), "\n"))
		a.viewport.GotoBottom()
	case viewConversations:
		a.viewport.SetContent(strings.Join(wrapLines(a.renderConversations(), width), "\n"))
		a.viewport.GotoTop()
	case viewNotifications:
		a.viewport.SetContent(strings.Join(wrapLines(a.renderNotifications(), width), "\n"))
		a.viewport.GotoTop()
	case viewHelp:
		a.viewport.SetContent(a.renderHelpView())
	}
}

func (a *App) renderTimeline() []string {
	entries := a.timeline.Entries()
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := formatMessage(e.Message, a.user.ID)
		if e.State == Pending {
			line = a.styles.pending.Render(line + " (sending)")
		}
		lines = append(lines, line)
	}
	return lines
}

func (a *App) renderConversations() []string {
	if len(a.conversations) == 0 {
		return []string{"No conversations yet. Start one with /dm <userId> <text>."}
	}
	lines := make([]string, 0, len(a.conversations)+2)
	lines = append(lines, "Conversations (open with /open <n>)", "")
	for i, conv := range a.conversations {
		marker := " "
		if a.active != nil && a.active.ID == conv.ID {
			marker = "*"
		}
		preview := "(no messages)"
		if conv.LastMessage != nil {
			preview = truncate(conv.LastMessage.Content, 48)
		}
		lines = append(lines, fmt.Sprintf("%s%3d. %-20s %s  %s",
			marker, i+1, conversationLabel(conv), formatClock(conv.LastMessageAt), preview))
	}
	return lines
}

func (a *App) renderNotifications() []string {
	items := a.inbox.Items()
	if len(items) == 0 {
		return []string{"No notifications."}
	}
	lines := make([]string, 0, len(items)+2)
	lines = append(lines, fmt.Sprintf("Notifications (%d unread, /read-all to clear)", a.inbox.Unread()), "")
	for _, n := range items {
		lines = append(lines, formatNotification(n))
	}
	return lines
}

func (a *App) updateViewportSize() {
	if a.height == 0 {
		return
	}
	const fixed = 4
	height := a.height - fixed - a.helpHeight
	if height < 3 {
		height = 3
	}
	a.viewport.Height = height
	a.viewport.Width = a.width
}

func (a *App) updateInputWidth() {
	width := a.width
	if width <= 0 {
		width = 60
	}
	promptWidth := lipgloss.Width(a.input.Prompt)
	usable := width - promptWidth - 1
	if usable < 10 {
		usable = 10
	}
	a.input.Width = usable
}

func (a *App) updateHelp() {
	value := a.input.Value()
	if value == "" || !strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		a.showHelp = false
		a.helpView = ""
		a.helpHeight = 0
		return
	}

	token := value
	if idx := strings.IndexAny(value, " \t"); idx >= 0 {
		token = value[:idx]
	}

	bindings := a.matchingBindings(token)
	if len(bindings) == 0 {
		a.showHelp = false
		a.helpView = ""
		a.helpHeight = 0
		return
	}

	a.showHelp = true
	a.helper.Width = a.width
	rendered := strings.TrimRight(a.helper.View(dynamicKeyMap{keys: bindings}), "\n")
	a.helpView = rendered
	a.helpHeight = countLines(rendered)
}

func (a *App) matchingBindings(prefix string) []key.Binding {
	prefix = strings.ToLower(prefix)
	var bindings []key.Binding
	for _, c := range a.commands {
		if strings.HasPrefix(strings.ToLower(c.trigger), prefix) {
			bindings = append(bindings, key.NewBinding(
				key.WithKeys(c.usage),
				key.WithHelp(c.usage, c.description),
			))
		}
	}
	return bindings
}

func (a *App) statusLine() string {
	status := strings.ToUpper(a.status.String())

	user := "-"
	if a.user.Name != "" {
		user = a.user.Name
	}
	conv := "-"
	if a.active != nil {
		conv = conversationLabel(*a.active)
	}

	parts := []string{
		a.styles.title.Render("StayChat"),
		a.styles.view.Render(strings.ToUpper(a.view.String())),
		a.statusValueStyle(a.status).Render(status),
		a.styles.label.Render("Server") + ": " + a.styles.value.Render(a.cfg.ServerURL),
		a.styles.label.Render("User") + ": " + a.styles.value.Render(user),
		a.styles.label.Render("Chat") + ": " + a.styles.value.Render(conv),
		a.styles.label.Render("Unread") + ": " + a.styles.value.Render(strconv.Itoa(a.inbox.Unread())),
	}

	return strings.Join(parts, " | ")
}

func (a *App) statusValueStyle(status Status) lipgloss.Style {
	if status == StatusConnected {
		return a.styles.statusOnline
	}
	return a.styles.statusOffline
}

func (a *App) logLineView() string {
	labelStyle := a.styles.logLabel
	bodyStyle := a.styles.logBody
	if a.logLine.level == logLevelError {
		labelStyle = a.styles.logLabelError
		bodyStyle = a.styles.logBodyError
	}
	return labelStyle.Render(a.logLine.label) + " " + bodyStyle.Render(a.logLine.body)
}

func (a *App) logf(format string, args ...interface{}) {
	a.logLine = logLine{label: "INFO", body: fmt.Sprintf(format, args...), level: logLevelInfo}
	a.log.Debug().Msg(a.logLine.body)
}

func (a *App) logErrorf(format string, args ...interface{}) {
	a.logLine = logLine{label: "ERROR", body: fmt.Sprintf(format, args...), level: logLevelError}
	a.log.Warn().Msg(a.logLine.body)
}

func buildStyles() styleSet {
	base := lipgloss.NewStyle()
	return styleSet{
		title:         base.Foreground(lipgloss.Color("13")).Bold(true),
		view:          base.Foreground(lipgloss.Color("14")).Bold(true),
		statusOnline:  base.Foreground(lipgloss.Color("10")).Bold(true),
		statusOffline: base.Foreground(lipgloss.Color("9")).Bold(true),
		label:         base.Foreground(lipgloss.Color("8")),
		value:         base.Foreground(lipgloss.Color("15")),
		logLabel:      base.Foreground(lipgloss.Color("11")).Bold(true),
		logBody:       base.Foreground(lipgloss.Color("7")),
		logLabelError: base.Foreground(lipgloss.Color("9")).Bold(true),
		logBodyError:  base.Foreground(lipgloss.Color("9")),
		help:          base.Foreground(lipgloss.Color("12")),
		pending:       base.Foreground(lipgloss.Color("8")).Italic(true),
		typing:        base.Foreground(lipgloss.Color("8")).Italic(true),
	}
}

func (a *App) renderHelpView() string {
	var b strings.Builder
	b.WriteString("StayChat Commands\n\n")
	for _, c := range a.commands {
		b.WriteString(fmt.Sprintf("%-38s %s\n", c.usage, c.description))
	}
	b.WriteString("\nPgUp/PgDn scroll, Tab completes, Esc returns to chat.")
	return b.String()
}

func buildHomeContent() string {
	fig := figure.NewColorFigure("STAY CHAT", "3-d", "green", true)
	art := strings.TrimRight(fig.String(), "\n")
	info := []string{
		"Use /login or /register to sign in.",
		"Use /convs to list conversations and /open <n> to enter one.",
		"Use /dm <userId> <text> to start a new conversation.",
		"Use /notifications to browse your inbox.",
		"Use /help to browse all commands.",
	}

	var b strings.Builder
	b.WriteString(art)
	b.WriteString("\n\n")
	b.WriteString(strings.Join(info, "\n"))
	return b.String()
}

func wrapLines(lines []string, width int) []string {
	if width <= 0 {
		return lines
	}
	const minWidth = 10
	if width < minWidth {
		width = minWidth
	}

	wrapped := make([]string, 0, len(lines))
	for _, line := range lines {
		segment := line
		if segment == "" {
			wrapped = append(wrapped, "")
			continue
		}
		for len(segment) > 0 {
			if runewidth.StringWidth(segment) <= width {
				wrapped = append(wrapped, segment)
				break
			}
			cut := wrapCutIndex(segment, width)
			part := strings.TrimRight(segment[:cut], " ")
			if part == "" && cut > 0 {
				part = segment[:cut]
			}
			wrapped = append(wrapped, part)
			segment = strings.TrimLeft(segment[cut:], " ")
		}
	}
	return wrapped
}

func wrapCutIndex(s string, limit int) int {
	var width int
	lastSpace := -1
	for i, r := range s {
		rw := runewidth.RuneWidth(r)
		if width+rw > limit {
			if lastSpace >= 0 {
				return lastSpace + 1
			}
			if width == 0 {
				return i + len(string(r))
			}
			return i
		}
		width += rw
		if unicode.IsSpace(r) {
			lastSpace = i
		}
	}
	return len(s)
}

type dynamicKeyMap struct {
	keys []key.Binding
}

func (d dynamicKeyMap) ShortHelp() []key.Binding {
	return d.keys
}

func (d dynamicKeyMap) FullHelp() [][]key.Binding {
	if len(d.keys) == 0 {
		return [][]key.Binding{}
	}
	return [][]key.Binding{d.keys}
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
