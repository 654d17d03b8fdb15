package ui

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/keys"
)

// HintBar shows the key bindings of the focused scope on one line.
type HintBar struct {
	*tview.TextView
	theme *Theme
}

// NewHintBar creates a hint bar.
func NewHintBar(theme *Theme) *HintBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &HintBar{TextView: tv, theme: theme}
}

// Update renders hints.
func (h *HintBar) Update(hints []keys.Hint) {
	h.Clear()
	kc := Tag(h.theme.KeyColor)
	mc := Tag(h.theme.MutedColor)
	for _, hint := range hints {
		_, _ = fmt.Fprintf(h, " [%s::b]<%s>[-:-:-] [%s]%s[-]", kc, tview.Escape(hint.Key), mc, hint.Help)
	}
}
