package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/api"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/model"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/ui"
)

// SearchView lists message search hits.
type SearchView struct {
	*tview.Table
	theme *ui.Theme
	hits  []api.SearchHit
	now   func() time.Time
}

// NewSearchView creates an empty results table.
func NewSearchView(theme *ui.Theme) *SearchView {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetTitleColor(theme.TitleColor)
	table.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.CursorFg).Background(theme.CursorBg))
	return &SearchView{Table: table, theme: theme, now: time.Now}
}

// Update shows the hits for query.
func (sv *SearchView) Update(query string, hits []api.SearchHit, self string) {
	sv.hits = hits
	sv.Clear()
	sv.SetTitle(fmt.Sprintf(" Search %q (%d) ", query, len(hits)))

	for col, h := range []string{" WITH", " FROM", " TEXT", " WHEN"} {
		sv.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.HeaderFg).
			SetAttributes(tcell.AttrBold))
	}
	now := sv.now()
	for i, hit := range hits {
		m := hit.Message.Domain()
		row := i + 1
		sv.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(hit.PeerID)).SetMaxWidth(20).SetTextColor(sv.theme.PeerColor))
		sv.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(model.Sender(m, self, ""))).SetMaxWidth(20).SetTextColor(sv.theme.MutedColor))
		sv.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(model.Preview(m.Text, 60)))).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.SetCell(row, 3, tview.NewTableCell(" "+model.Clock(m.CreatedAt, now)).SetAlign(tview.AlignRight).SetTextColor(sv.theme.MutedColor))
	}
	if len(hits) > 0 {
		sv.Select(1, 0)
	}
}

// Selected returns the hit under the cursor.
func (sv *SearchView) Selected() (api.SearchHit, bool) {
	row, _ := sv.GetSelection()
	idx := row - 1
	if idx < 0 || idx >= len(sv.hits) {
		return api.SearchHit{}, false
	}
	return sv.hits[idx], true
}
