package ui

import (
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode selects what a submitted prompt does.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
	PromptSearch
)

const historySize = 50

// Prompt is the one-line command, filter and search input. Each mode keeps
// its own history, recalled with Up and Down.
type Prompt struct {
	*tview.InputField
	mode     PromptMode
	history  map[PromptMode][]string
	cursor   int
	commands []string
	onSubmit func(mode PromptMode, text string)
	onCancel func()
}

// NewPrompt creates a prompt.
func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.KeyColor)
	input.SetAutocompleteStyles(theme.DockBg,
		tcell.StyleDefault.Foreground(theme.DockFg).Background(theme.DockBg),
		tcell.StyleDefault.Foreground(theme.CursorFg).Background(theme.CursorBg))

	p := &Prompt{InputField: input, history: make(map[PromptMode][]string)}
	input.SetAutocompleteFunc(p.complete)
	input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if len(p.complete(p.GetText())) > 0 {
			// Up and Down move through the suggestions.
			return ev
		}
		switch ev.Key() {
		case tcell.KeyUp:
			p.Recall(-1)
			return nil
		case tcell.KeyDown:
			p.Recall(1)
			return nil
		}
		return ev
	})
	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			p.Submit()
		case tcell.KeyEscape:
			p.SetText("")
			if p.onCancel != nil {
				p.onCancel()
			}
		}
	})
	return p
}

// SetOnSubmit sets the callback run on Enter.
func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

// SetOnCancel sets the callback run on Esc.
func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}

// SetCommands sets the command names offered while typing the first word
// of a command.
func (p *Prompt) SetCommands(names []string) {
	p.commands = append([]string(nil), names...)
	sort.Strings(p.commands)
}

// Activate clears the prompt and labels it for mode.
func (p *Prompt) Activate(mode PromptMode) {
	p.mode = mode
	p.cursor = len(p.history[mode])
	p.SetText("")
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
	case PromptFilter:
		p.SetLabel("/")
	case PromptSearch:
		p.SetLabel("search: ")
	}
}

// Mode returns the active mode.
func (p *Prompt) Mode() PromptMode {
	return p.mode
}

// Submit records the text in the mode's history and runs the submit callback.
func (p *Prompt) Submit() {
	text := p.GetText()
	p.SetText("")
	if t := strings.TrimSpace(text); t != "" {
		h := p.history[p.mode]
		if len(h) == 0 || h[len(h)-1] != t {
			h = append(h, t)
			if len(h) > historySize {
				h = h[len(h)-historySize:]
			}
			p.history[p.mode] = h
		}
	}
	p.cursor = len(p.history[p.mode])
	if p.onSubmit != nil {
		p.onSubmit(p.mode, text)
	}
}

// Recall moves through the mode's history: -1 for older, 1 for newer.
// Moving past the newest entry clears the input.
func (p *Prompt) Recall(step int) {
	h := p.history[p.mode]
	next := p.cursor + step
	if next < 0 || next > len(h) {
		return
	}
	p.cursor = next
	if next == len(h) {
		p.SetText("")
		return
	}
	p.SetText(h[next])
}

func (p *Prompt) complete(text string) []string {
	if p.mode != PromptCommand || text == "" || strings.ContainsAny(text, " \t") {
		return nil
	}
	var out []string
	for _, c := range p.commands {
		if strings.HasPrefix(c, text) && c != text {
			out = append(out, c)
		}
	}
	return out
}
