// Package ui holds the shared widgets and colors of the terminal client.
package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds the client's colors.
type Theme struct {
	BgColor          tcell.Color
	FgColor          tcell.Color
	MutedColor       tcell.Color
	BorderColor      tcell.Color
	BorderFocusColor tcell.Color
	TitleColor       tcell.Color
	HeaderFg         tcell.Color
	CursorFg         tcell.Color
	CursorBg         tcell.Color
	KeyColor         tcell.Color
	SelfColor        tcell.Color
	PeerColor        tcell.Color
	UnreadColor      tcell.Color
	PendingColor     tcell.Color
	DockFg           tcell.Color
	DockBg           tcell.Color
	DockFocusBg      tcell.Color
	FlashInfoColor   tcell.Color
	FlashWarnColor   tcell.Color
	FlashErrColor    tcell.Color
}

// DefaultTheme returns the dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:          tcell.ColorBlack,
		FgColor:          tcell.ColorWhiteSmoke,
		MutedColor:       tcell.ColorGray,
		BorderColor:      tcell.ColorTeal,
		BorderFocusColor: tcell.ColorAqua,
		TitleColor:       tcell.ColorGold,
		HeaderFg:         tcell.ColorWhite,
		CursorFg:         tcell.ColorBlack,
		CursorBg:         tcell.ColorAqua,
		KeyColor:         tcell.ColorDodgerBlue,
		SelfColor:        tcell.ColorMediumSpringGreen,
		PeerColor:        tcell.ColorLightSkyBlue,
		UnreadColor:      tcell.ColorOrange,
		PendingColor:     tcell.ColorGray,
		DockFg:           tcell.ColorBlack,
		DockBg:           tcell.ColorTeal,
		DockFocusBg:      tcell.ColorGold,
		FlashInfoColor:   tcell.ColorNavajoWhite,
		FlashWarnColor:   tcell.ColorOrange,
		FlashErrColor:    tcell.ColorOrangeRed,
	}
}

// Tag renders c for tview color tags.
func Tag(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
