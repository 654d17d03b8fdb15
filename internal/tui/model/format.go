package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

// Since renders t relative to now ("3 minutes ago"). Zero times render empty.
func Since(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	if now.Sub(t) < time.Minute && !t.After(now) {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// Clock renders a message timestamp: time of day for today, date otherwise.
func Clock(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t, now = t.Local(), now.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("Jan 2 15:04")
}

// Badge renders an unread counter, empty for zero.
func Badge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "(99+)"
	default:
		return fmt.Sprintf("(%d)", n)
	}
}

// ContextLabel names what a conversation is about.
func ContextLabel(tc messenger.ThreadContext) string {
	switch {
	case tc.ListingID != "":
		return "listing " + tc.ListingID
	case tc.FlatmateID != "":
		return "flatmate " + tc.FlatmateID
	default:
		return ""
	}
}

// Preview flattens text to one line of at most max runes.
func Preview(text string, max int) string {
	s := strings.Join(strings.Fields(text), " ")
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

// Title renders a window title: name, context and unread badge.
func Title(w messenger.WindowSnapshot) string {
	parts := []string{w.DisplayName}
	if w.DisplayName == "" {
		parts[0] = w.PeerID
	}
	if c := ContextLabel(w.Context); c != "" {
		parts = append(parts, "· "+c)
	}
	if b := Badge(w.UnreadCount); b != "" {
		parts = append(parts, b)
	}
	return strings.Join(parts, " ")
}

// Sender labels the author of m as seen by self.
func Sender(m messenger.Message, self, peerName string) string {
	if m.SenderID == self {
		return "You"
	}
	if peerName != "" {
		return peerName
	}
	return m.SenderID
}

// ParseContext reads "listing:<id>" or "flatmate:<id>".
func ParseContext(s string) (messenger.ThreadContext, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || id == "" {
		return messenger.ThreadContext{}, fmt.Errorf("context %q: want listing:<id> or flatmate:<id>: %w", s, messenger.ErrInvalidContext)
	}
	switch strings.ToLower(kind) {
	case "listing":
		return messenger.ThreadContext{ListingID: id}, nil
	case "flatmate":
		return messenger.ThreadContext{FlatmateID: id}, nil
	default:
		return messenger.ThreadContext{}, fmt.Errorf("context %q: unknown kind %q: %w", s, kind, messenger.ErrInvalidContext)
	}
}
