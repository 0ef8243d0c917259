package client

import (
	"strconv"
	"strings"
)

// handleTabCompletion completes command names and the argument of /open.
func (a *App) handleTabCompletion() {
	value := a.input.Value()
	if value == "" {
		return
	}
	runes := []rune(value)
	if a.input.Position() != len(runes) {
		return
	}
	prefix := string(a.cfg.CommandPrefix)
	if !strings.HasPrefix(value, prefix) {
		return
	}

	fields := strings.Fields(value)
	trailingSpace := strings.HasSuffix(value, " ")

	var candidates []string
	var typed string
	switch {
	case len(fields) == 1 && !trailingSpace:
		typed = fields[0]
		for _, cmd := range a.commands {
			candidates = append(candidates, cmd.trigger)
		}
	case fields[0] == prefix+"open" && (len(fields) == 2 && !trailingSpace || len(fields) == 1 && trailingSpace):
		if len(fields) == 2 {
			typed = fields[1]
		}
		candidates = a.openCandidates()
	default:
		return
	}

	matches := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToLower(c), strings.ToLower(typed)) {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return
	}
	completion := longestCommonPrefix(matches)
	if len(completion) <= len(typed) {
		return
	}

	head := strings.TrimSuffix(value, typed)
	if len(matches) == 1 {
		completion += " "
	}
	a.input.SetValue(head + completion)
	a.input.CursorEnd()
}

// openCandidates offers list positions and ids for /open.
func (a *App) openCandidates() []string {
	out := make([]string, 0, 2*len(a.conversations))
	for i, conv := range a.conversations {
		out = append(out, strconv.Itoa(i+1), conv.ID)
	}
	return out
}

func longestCommonPrefix(values []string) string {
	if len(values) == 0 {
		return ""
	}
	prefix := values[0]
	for _, s := range values[1:] {
		for !strings.HasPrefix(s, prefix) {
			if prefix == "" {
				return ""
			}
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
