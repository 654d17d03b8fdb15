// Package model derives what the terminal client draws from window snapshots.
package model

import "github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"

// Layout is the arrangement of the window area for one frame.
type Layout struct {
	// Focus is the peer whose window receives window keys. It may name a
	// minimized window, which is then highlighted in the dock.
	Focus string
	// Main is the foreground window shown in the window area, nil when
	// every window is minimized or none is open.
	Main *messenger.WindowSnapshot
	// FullScreen is set when Main is expanded and hides the sidebar.
	FullScreen bool
	// Dock holds minimized windows stacked by open time.
	Dock []messenger.WindowSnapshot
}

// Arrange lays out windows (ordered by open time) around the requested focus.
// A focus that no longer exists falls back to the newest foreground window.
func Arrange(windows []messenger.WindowSnapshot, focus string) Layout {
	var l Layout
	focusIdx := -1
	for i, w := range windows {
		if w.PeerID == focus {
			focusIdx = i
		}
		if w.State == messenger.Minimized {
			l.Dock = append(l.Dock, w)
		}
	}

	mainIdx := -1
	if focusIdx >= 0 && windows[focusIdx].State.Foreground() {
		mainIdx = focusIdx
	} else {
		for i := len(windows) - 1; i >= 0; i-- {
			if windows[i].State.Foreground() {
				mainIdx = i
				break
			}
		}
	}
	if mainIdx >= 0 {
		w := windows[mainIdx]
		l.Main = &w
		l.FullScreen = w.State == messenger.Expanded
	}

	switch {
	case focusIdx >= 0:
		l.Focus = focus
	case l.Main != nil:
		l.Focus = l.Main.PeerID
	case len(l.Dock) > 0:
		l.Focus = l.Dock[len(l.Dock)-1].PeerID
	}
	return l
}

// Cycle returns the peer after focus in open order, wrapping around. step -1
// walks backwards. It returns "" when no window is open.
func Cycle(windows []messenger.WindowSnapshot, focus string, step int) string {
	n := len(windows)
	if n == 0 {
		return ""
	}
	idx := -1
	for i, w := range windows {
		if w.PeerID == focus {
			idx = i
			break
		}
	}
	if idx < 0 {
		if step < 0 {
			return windows[n-1].PeerID
		}
		return windows[0].PeerID
	}
	return windows[((idx+step)%n+n)%n].PeerID
}
