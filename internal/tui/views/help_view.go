package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/keys"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/ui"
)

// HelpSection is one titled block of bindings.
type HelpSection struct {
	Title string
	Hints []keys.Hint
}

// HelpView displays the key and command reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help (Esc to close) ")
	tv.SetTitleColor(theme.TitleColor)
	return &HelpView{TextView: tv, theme: theme}
}

// Update renders sections.
func (hv *HelpView) Update(sections []HelpSection) {
	hv.Clear()
	kc := ui.Tag(hv.theme.KeyColor)
	for _, s := range sections {
		_, _ = fmt.Fprintf(hv, "\n  [::b]%s[-:-:-]\n\n", s.Title)
		for _, h := range s.Hints {
			_, _ = fmt.Fprintf(hv, "  [%s]%-28s[-] %s\n", kc, tview.Escape(h.Key), h.Help)
		}
	}
	hv.ScrollToBeginning()
}
