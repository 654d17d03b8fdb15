package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/model"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/ui"
)

// Sidebar lists the user's threads, newest activity first.
type Sidebar struct {
	*tview.Table
	theme   *ui.Theme
	entries []messenger.ThreadListEntry
	visible []messenger.ThreadListEntry
	filter  string
	now     func() time.Time
}

// NewSidebar creates the thread list table.
func NewSidebar(theme *ui.Theme) *Sidebar {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.CursorFg).Background(theme.CursorBg))
	table.SetTitleColor(theme.TitleColor)
	table.SetTitle(" Messages ")

	return &Sidebar{Table: table, theme: theme, now: time.Now}
}

// Update replaces the entries, keeping the selected thread selected.
func (s *Sidebar) Update(entries []messenger.ThreadListEntry) {
	selected := s.SelectedThread()
	s.entries = entries
	s.render(selected)
}

// SetFilter shows only entries whose name, context or preview contains filter.
func (s *Sidebar) SetFilter(filter string) {
	s.filter = strings.TrimSpace(filter)
	s.render(s.SelectedThread())
}

// Filter returns the active filter.
func (s *Sidebar) Filter() string { return s.filter }

// Refresh re-renders relative times.
func (s *Sidebar) Refresh() {
	s.render(s.SelectedThread())
}

func (s *Sidebar) render(selectThread string) {
	s.Clear()
	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" ABOUT", 0},
		{" LAST MESSAGE", 2},
		{" WHEN", 0},
	}
	for col, h := range headers {
		s.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(s.theme.HeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	s.visible = s.visible[:0]
	now := s.now()
	selectRow := 1
	for _, e := range s.entries {
		name := e.DisplayName
		if name == "" {
			name = e.PeerID
		}
		about := model.ContextLabel(e.Context)
		if s.filter != "" && !containsFold(name, s.filter) && !containsFold(about, s.filter) && !containsFold(e.LastMessage, s.filter) {
			continue
		}
		s.visible = append(s.visible, e)
		row := len(s.visible)
		if e.ThreadID == selectThread {
			selectRow = row
		}

		color := s.theme.FgColor
		label := name
		if b := model.Badge(e.UnreadCount); b != "" {
			label = b + " " + name
			color = s.theme.UnreadColor
		}
		s.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(label))).SetExpansion(1).SetTextColor(color))
		s.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(about)).SetTextColor(s.theme.MutedColor))
		s.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(model.Preview(e.LastMessage, 40)))).SetExpansion(2).SetTextColor(s.theme.FgColor))
		s.SetCell(row, 3, tview.NewTableCell(" "+model.Since(e.LastMessageAt, now)).SetAlign(tview.AlignRight).SetTextColor(s.theme.MutedColor))
	}

	if s.filter != "" {
		s.SetTitle(fmt.Sprintf(" Messages (%d/%d) /%s ", len(s.visible), len(s.entries), s.filter))
	} else {
		s.SetTitle(fmt.Sprintf(" Messages (%d) ", len(s.entries)))
	}
	if len(s.visible) > 0 {
		s.Select(selectRow, 0)
	}
}

// Selected returns the entry under the cursor.
func (s *Sidebar) Selected() (messenger.ThreadListEntry, bool) {
	row, _ := s.GetSelection()
	idx := row - 1
	if idx < 0 || idx >= len(s.visible) {
		return messenger.ThreadListEntry{}, false
	}
	return s.visible[idx], true
}

// SelectedThread returns the thread id under the cursor.
func (s *Sidebar) SelectedThread() string {
	e, ok := s.Selected()
	if !ok {
		return ""
	}
	return e.ThreadID
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
