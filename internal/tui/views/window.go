package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/model"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/ui"
)

// WindowView renders one conversation window and its composer.
type WindowView struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	peer     string
	self     string
	onSend   func(peer, text string)
	now      func() time.Time
}

// NewWindowView creates an empty window view.
func NewWindowView(theme *ui.Theme) *WindowView {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.KeyColor)
	composer.SetTitle(" Compose (i) ")
	composer.SetTitleColor(theme.MutedColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	wv := &WindowView{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}
	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || wv.onSend == nil || wv.peer == "" {
			return
		}
		text := composer.GetText()
		if text == "" {
			return
		}
		composer.SetText("")
		wv.onSend(wv.peer, text)
	})
	wv.Show(nil, "")
	return wv
}

// SetOnSend sets the callback run when the composer submits text.
func (wv *WindowView) SetOnSend(fn func(peer, text string)) {
	wv.onSend = fn
}

// Peer returns the peer of the shown window.
func (wv *WindowView) Peer() string { return wv.peer }

// Show renders snap as seen by self. A nil snap shows the empty state.
// Switching to another peer clears the composer.
func (wv *WindowView) Show(snap *messenger.WindowSnapshot, self string) {
	wv.messages.Clear()
	if snap == nil {
		if wv.peer != "" {
			wv.composer.SetText("")
		}
		wv.peer = ""
		wv.messages.SetTitle(" No conversation ")
		_, _ = fmt.Fprintf(wv.messages, "\n  [%s]Select a thread and press Enter, or :open <user> listing:<id>[-]", ui.Tag(wv.theme.MutedColor))
		return
	}
	if snap.PeerID != wv.peer {
		wv.composer.SetText("")
	}
	wv.peer = snap.PeerID
	wv.self = self

	title := model.Title(*snap)
	if snap.State == messenger.Expanded {
		title += " [expanded]"
	}
	wv.messages.SetTitle(" " + tview.Escape(sanitizeForTerminal(title)) + " ")

	now := wv.now()
	muted := ui.Tag(wv.theme.MutedColor)
	if len(snap.Messages) == 0 {
		_, _ = fmt.Fprintf(wv.messages, "\n  [%s]No messages yet. Say hello.[-]", muted)
	}
	for _, m := range snap.Messages {
		color := wv.theme.PeerColor
		if m.SenderID == self {
			color = wv.theme.SelfColor
		}
		when := model.Clock(m.CreatedAt, now)
		if m.Pending {
			when = "sending…"
		}
		_, _ = fmt.Fprintf(wv.messages, "[%s::b]%s[-:-:-] [%s]%s[-]\n%s\n\n",
			ui.Tag(color), tview.Escape(sanitizeForTerminal(model.Sender(m, self, snap.DisplayName))),
			muted, when,
			tview.Escape(sanitizeForTerminal(m.Text)))
	}
	wv.messages.ScrollToEnd()
}

// SetFocused highlights the window border.
func (wv *WindowView) SetFocused(focused bool) {
	color := wv.theme.BorderColor
	if focused {
		color = wv.theme.BorderFocusColor
	}
	wv.messages.SetBorderColor(color)
	wv.composer.SetBorderColor(color)
}

// RestoreDraft puts text back into the composer unless the user typed meanwhile.
func (wv *WindowView) RestoreDraft(peer, text string) bool {
	if peer != wv.peer || wv.composer.GetText() != "" {
		return false
	}
	wv.composer.SetText(text)
	return true
}

// Messages returns the message area for focus management.
func (wv *WindowView) Messages() *tview.TextView { return wv.messages }

// Composer returns the composer for focus management.
func (wv *WindowView) Composer() *tview.InputField { return wv.composer }
