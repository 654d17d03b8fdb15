// Package keys maps key events to actions per focus scope.
package keys

import "github.com/gdamore/tcell/v2"

// Scopes the app dispatches key events in.
const (
	ScopeSidebar = "sidebar"
	ScopeWindow  = "window"
	ScopeSearch  = "search"
)

// Action represents a keybinding action.
type Action struct {
	Name    string
	Key     tcell.Key
	Rune    rune
	Label   string // shown in the hint bar, e.g. "m"
	Help    string
	Handler func()
	Hidden  bool
}

// Matches reports whether ev triggers this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Hint is a visible binding rendered in the hint bar.
type Hint struct {
	Key  string
	Help string
}

// Registry holds keybindings in registration order. Scoped bindings take
// precedence over global ones.
type Registry struct {
	global []*Action
	scoped map[string][]*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scoped: make(map[string][]*Action)}
}

// AddGlobal registers a binding active in every scope.
func (r *Registry) AddGlobal(a *Action) {
	r.global = append(r.global, a)
}

// Add registers a binding for one scope.
func (r *Registry) Add(scope string, a *Action) {
	r.scoped[scope] = append(r.scoped[scope], a)
}

// Hints returns the visible bindings of scope followed by the global ones.
func (r *Registry) Hints(scope string) []Hint {
	var hints []Hint
	for _, list := range [][]*Action{r.scoped[scope], r.global} {
		for _, a := range list {
			if !a.Hidden {
				hints = append(hints, Hint{Key: a.Label, Help: a.Help})
			}
		}
	}
	return hints
}

// HandleEvent runs the first binding of scope (then global) matching ev.
// It reports whether one matched.
func (r *Registry) HandleEvent(scope string, ev *tcell.EventKey) bool {
	for _, list := range [][]*Action{r.scoped[scope], r.global} {
		for _, a := range list {
			if a.Matches(ev) {
				if a.Handler != nil {
					a.Handler()
				}
				return true
			}
		}
	}
	return false
}
