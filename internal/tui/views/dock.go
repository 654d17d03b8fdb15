package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/model"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/ui"
)

// Dock is the row of minimized windows, stacked by open time.
type Dock struct {
	*tview.TextView
	theme *ui.Theme
}

// NewDock creates an empty dock.
func NewDock(theme *ui.Theme) *Dock {
	tv := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	tv.SetBackgroundColor(theme.BgColor)
	return &Dock{TextView: tv, theme: theme}
}

// Update renders windows, highlighting focus.
func (d *Dock) Update(windows []messenger.WindowSnapshot, focus string) {
	d.Clear()
	fg := ui.Tag(d.theme.DockFg)
	for _, w := range windows {
		bg := d.theme.DockBg
		if w.PeerID == focus {
			bg = d.theme.DockFocusBg
		}
		name := w.DisplayName
		if name == "" {
			name = w.PeerID
		}
		if b := model.Badge(w.UnreadCount); b != "" {
			name += " " + b
		}
		_, _ = fmt.Fprintf(d, "[%s:%s] %s [-:-] ", fg, ui.Tag(bg), tview.Escape(sanitizeForTerminal(model.Preview(name, 24))))
	}
}
