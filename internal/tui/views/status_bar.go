package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/status"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/ui"
)

// StatusBar shows who is signed in, the feed link and the open windows.
type StatusBar struct {
	*tview.TextView
	theme    *ui.Theme
	instance string
	user     string
	link     status.State
	windows  int
	unread   int
	now      func() time.Time
}

// NewStatusBar creates a status bar for instance.
func NewStatusBar(theme *ui.Theme, instance string) *StatusBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	sb := &StatusBar{TextView: tv, theme: theme, instance: instance, link: status.Idle, now: time.Now}
	sb.render()
	return sb
}

// SetUser sets the signed-in user label.
func (sb *StatusBar) SetUser(label string) {
	sb.user = label
	sb.render()
}

// SetLink sets the feed link state.
func (sb *StatusBar) SetLink(s status.State) {
	sb.link = s
	sb.render()
}

// SetCounts sets the number of open windows and unread messages.
func (sb *StatusBar) SetCounts(windows, unread int) {
	sb.windows = windows
	sb.unread = unread
	sb.render()
}

// Refresh redraws the clock.
func (sb *StatusBar) Refresh() { sb.render() }

func (sb *StatusBar) render() {
	sb.Clear()
	linkColor := sb.theme.FlashWarnColor
	switch sb.link {
	case status.Live:
		linkColor = sb.theme.SelfColor
	case status.Closed:
		linkColor = sb.theme.FlashErrColor
	}
	muted := ui.Tag(sb.theme.MutedColor)
	line := fmt.Sprintf(" [%s::b]%s[-:-:-] [%s]@%s[-] | [%s]%s[-] | %d open",
		ui.Tag(sb.theme.TitleColor), tview.Escape(sb.user), muted, tview.Escape(sb.instance),
		ui.Tag(linkColor), strings.ToLower(string(sb.link)),
		sb.windows)
	if sb.unread > 0 {
		line += fmt.Sprintf(" | [%s]%d unread[-]", ui.Tag(sb.theme.UnreadColor), sb.unread)
	}
	line += fmt.Sprintf(" | [%s]%s[-]", muted, sb.now().Format("15:04"))
	_, _ = fmt.Fprint(sb, line)
}
