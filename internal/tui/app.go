// Package tui is the terminal client: a thread sidebar, conversation windows
// and a dock of minimized windows, all rendered from messaging session
// snapshots published on the bus.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/status"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/client"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/keys"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/model"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/ui"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/tui/views"
)

const (
	sidebarWidth = 56
	searchLimit  = 50
	eventBuffer  = 256
	// rewatchEvery bounds how long the sidebar goes without a live watch.
	rewatchEvery = 10 * time.Second
	// relativeEvery is how often "n minutes ago" labels are redrawn.
	relativeEvery = 30 * time.Second
)

const (
	pageMain   = "main"
	pageSearch = "search"
	pageHelp   = "help"
)

// Options configures the terminal client.
type Options struct {
	Client   *client.Client
	Instance string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// App is the terminal client shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	registry *keys.Registry
	logger   *zap.Logger
	timeout  time.Duration

	bus     *bus.Bus
	events  *bus.Subscription
	feed    *client.Feed
	store   *client.Store
	session *messenger.Session
	flash   *ui.Flash

	pages     *tview.Pages
	body      *tview.Flex
	area      *tview.Flex
	root      *tview.Flex
	sidebar   *views.Sidebar
	window    *views.WindowView
	dock      *views.Dock
	search    *views.SearchView
	help      *views.HelpView
	prompt    *ui.Prompt
	flashBar  *ui.FlashBar
	hints     *ui.HintBar
	statusBar *views.StatusBar

	// Owned by the tview goroutine.
	focus      string
	fullScreen bool
	entries    []messenger.ThreadListEntry
	returnTo   tview.Primitive
	// totalUnread is the durable unread count, -1 until first loaded.
	totalUnread int
	// drafts holds failed sends for windows not shown when they failed.
	drafts map[string]string

	threadsReq chan struct{}
	resumeCh   chan struct{}
	rewatching atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New authenticates against the daemon and builds the client. It fails with
// messenger.ErrUnauthenticated when the client has no valid token.
func New(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = messenger.DefaultRequestTimeout
	}

	theme := ui.DefaultTheme()
	a := &App{
		app:         tview.NewApplication(),
		theme:       theme,
		registry:    keys.NewRegistry(),
		logger:      logger,
		timeout:     timeout,
		bus:         bus.New(),
		store:       opts.Client.Store(),
		flash:       ui.NewFlash(),
		sidebar:     views.NewSidebar(theme),
		window:      views.NewWindowView(theme),
		dock:        views.NewDock(theme),
		search:      views.NewSearchView(theme),
		help:        views.NewHelpView(theme),
		prompt:      ui.NewPrompt(theme),
		flashBar:    ui.NewFlashBar(theme),
		hints:       ui.NewHintBar(theme),
		statusBar:   views.NewStatusBar(theme, opts.Instance),
		drafts:      make(map[string]string),
		totalUnread: -1,
		threadsReq:  make(chan struct{}, 1),
		resumeCh:    make(chan struct{}, 1),
	}
	a.events = a.bus.Subscribe("", eventBuffer)

	a.feed = opts.Client.Feed(status.NewMachine(a.bus, "feed"), logger)
	a.feed.OnResume = func() {
		select {
		case a.resumeCh <- struct{}{}:
		default:
		}
	}

	session, err := messenger.NewSession(ctx, messenger.SessionConfig{
		Identity: opts.Client.Identity(),
		Store:    a.store,
		Feed:     a.feed,
		Profiles: a.store,
		Bus:      a.bus,
		Timeout:  timeout,
		Logger:   logger,
	})
	if err != nil {
		a.events.Close()
		a.feed.Close()
		return nil, err
	}
	a.session = session
	a.ctx, a.cancel = context.WithCancel(context.Background())

	u := session.User()
	label := u.DisplayID
	if label == "" {
		label = u.ID
	}
	a.statusBar.SetUser(label)

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	a.render()
	return a, nil
}

func (a *App) setupBindings() {
	r := a.registry
	key := func(name string, ch rune, help string, fn func()) *keys.Action {
		return &keys.Action{Name: name, Key: tcell.KeyRune, Rune: ch, Label: string(ch), Help: help, Handler: fn}
	}

	r.AddGlobal(&keys.Action{Name: "cycle", Key: tcell.KeyTab, Label: "Tab", Help: "next window", Handler: func() { a.cycle(1) }})
	r.AddGlobal(&keys.Action{Name: "cycle-back", Key: tcell.KeyBacktab, Label: "S-Tab", Help: "previous window", Handler: func() { a.cycle(-1) }, Hidden: true})
	r.AddGlobal(key("search", 's', "search", func() { a.showPrompt(ui.PromptSearch) }))
	r.AddGlobal(key("command", ':', "command", func() { a.showPrompt(ui.PromptCommand) }))
	r.AddGlobal(key("help", '?', "help", a.showHelp))
	r.AddGlobal(key("quit", 'q', "quit", a.Stop))

	r.Add(keys.ScopeSidebar, &keys.Action{Name: "open", Key: tcell.KeyEnter, Label: "Enter", Help: "open", Handler: a.openSelected})
	r.Add(keys.ScopeSidebar, key("filter", '/', "filter", func() { a.showPrompt(ui.PromptFilter) }))
	r.Add(keys.ScopeSidebar, key("refresh", 'r', "refresh", a.requestThreads))
	r.Add(keys.ScopeSidebar, &keys.Action{Name: "to-window", Key: tcell.KeyRight, Label: "→", Help: "window", Handler: a.focusWindow, Hidden: true})

	r.Add(keys.ScopeWindow, key("compose", 'i', "compose", a.focusComposer))
	r.Add(keys.ScopeWindow, &keys.Action{Name: "compose-enter", Key: tcell.KeyEnter, Label: "Enter", Help: "compose", Handler: a.focusComposer, Hidden: true})
	r.Add(keys.ScopeWindow, key("minimize", 'm', "minimize", a.minimize))
	r.Add(keys.ScopeWindow, key("expand", 'x', "expand", a.expand))
	r.Add(keys.ScopeWindow, key("close", 'c', "close", a.closeWindow))
	r.Add(keys.ScopeWindow, key("older", 'o', "older", a.loadOlder))
	r.Add(keys.ScopeWindow, key("reload", 'r', "reload", a.reload))
	r.Add(keys.ScopeWindow, &keys.Action{Name: "to-sidebar", Key: tcell.KeyEscape, Label: "Esc", Help: "threads", Handler: a.focusSidebar})

	r.Add(keys.ScopeSearch, &keys.Action{Name: "open-hit", Key: tcell.KeyEnter, Label: "Enter", Help: "open", Handler: a.openHit})
	r.Add(keys.ScopeSearch, &keys.Action{Name: "back", Key: tcell.KeyEscape, Label: "Esc", Help: "back", Handler: a.showMain})
}

func (a *App) setupCallbacks() {
	a.window.SetOnSend(a.send)
	a.prompt.SetOnSubmit(a.submitPrompt)
	a.prompt.SetOnCancel(a.hidePrompt)
	a.prompt.SetCommands([]string{"open", "search", "filter", "older", "reload", "help", "quit"})
}

func (a *App) setupLayout() {
	a.area = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.window, 0, 1, false).
		AddItem(a.dock, 0, 0, false)
	a.body = tview.NewFlex().
		AddItem(a.sidebar, sidebarWidth, 0, true).
		AddItem(a.area, 0, 1, false)

	a.pages = tview.NewPages().
		AddPage(pageMain, a.body, true, true).
		AddPage(pageSearch, a.search, true, false).
		AddPage(pageHelp, a.help, true, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.flashBar, 1, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.hints, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true).SetFocus(a.sidebar)
	a.app.SetInputCapture(a.capture)
}

// capture routes keys: text inputs get everything except Esc out of the
// composer; other widgets go through the registry first.
func (a *App) capture(ev *tcell.EventKey) *tcell.EventKey {
	focused := a.app.GetFocus()
	switch focused {
	case a.window.Composer():
		if ev.Key() == tcell.KeyEscape {
			a.focusWindow()
			return nil
		}
		return ev
	case a.prompt.InputField:
		return ev
	}
	if a.currentPage() == pageHelp {
		if ev.Key() == tcell.KeyEscape || (ev.Key() == tcell.KeyRune && ev.Rune() == 'q') {
			a.showMain()
			return nil
		}
		return ev
	}
	if a.registry.HandleEvent(a.scope(), ev) {
		a.updateHints()
		return nil
	}
	return ev
}

func (a *App) scope() string {
	switch a.app.GetFocus() {
	case a.search:
		return keys.ScopeSearch
	case a.window.Messages(), a.window.Composer():
		return keys.ScopeWindow
	default:
		return keys.ScopeSidebar
	}
}

func (a *App) currentPage() string {
	name, _ := a.pages.GetFrontPage()
	return name
}

// Run starts the event loops and blocks until the user quits.
func (a *App) Run() error {
	go a.loop()
	go a.threadsWorker()
	a.requestThreads()
	err := a.app.Run()
	a.shutdown()
	return err
}

// Stop ends Run.
func (a *App) Stop() {
	a.app.Stop()
}

func (a *App) shutdown() {
	a.cancel()
	a.session.Close()
	a.feed.Close()
	a.events.Close()
}

// post queues fn on the tview goroutine and redraws.
func (a *App) post(fn func()) {
	if a.ctx.Err() != nil {
		return
	}
	a.app.QueueUpdateDraw(fn)
}

func (a *App) loop() {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	lastRewatch, lastRelative := time.Now(), time.Now()
	for {
		select {
		case evt, ok := <-a.events.C:
			if !ok {
				return
			}
			a.handleEvent(evt)
		case <-a.resumeCh:
			go a.resume()
		case now := <-tick.C:
			if now.Sub(lastRewatch) >= rewatchEvery {
				lastRewatch = now
				go a.rewatch()
			}
			relative := now.Sub(lastRelative) >= relativeEvery
			if relative {
				lastRelative = now
			}
			a.post(func() {
				a.flashBar.Update(a.flash.Current())
				a.statusBar.Refresh()
				if relative {
					a.sidebar.Refresh()
				}
			})
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindWindowUpdated, bus.KindWindowClosed:
		a.post(a.render)
	case bus.KindThreadsChanged:
		a.requestThreads()
	case bus.KindSendFailed:
		f, ok := evt.Payload.(messenger.SendFailed)
		if !ok {
			return
		}
		a.post(func() {
			a.restoreDraft(f.Peer, f.Draft)
			a.fail(fmt.Errorf("send to %s failed: %w", f.Peer, f.Err))
		})
	case bus.KindFeedStatus:
		c, ok := evt.Payload.(status.StatusChange)
		if !ok {
			return
		}
		a.post(func() { a.statusBar.SetLink(c.To) })
	}
}

// requestThreads asks the worker for a sidebar rebuild; bursts coalesce.
func (a *App) requestThreads() {
	select {
	case a.threadsReq <- struct{}{}:
	default:
	}
}

func (a *App) threadsWorker() {
	for {
		select {
		case <-a.threadsReq:
		case <-a.ctx.Done():
			return
		}
		ctx, cancel := context.WithTimeout(a.ctx, a.timeout)
		entries, err := a.session.Threads(ctx)
		if err != nil {
			cancel()
			if a.ctx.Err() == nil {
				a.logger.Warn("thread list failed", zap.Error(err))
				a.post(func() { a.fail(err) })
			}
			continue
		}
		total, err := a.session.TotalUnread(ctx)
		cancel()
		if err != nil {
			a.logger.Debug("total unread failed", zap.Error(err))
			total = -1
		}
		a.post(func() {
			a.totalUnread = total
			a.entries = entries
			a.sidebar.Update(entries)
			a.render()
		})
	}
}

// resume reloads everything after the feed reconnected; inserts made while
// it was down are not replayed.
func (a *App) resume() {
	if err := a.session.Resync(a.ctx); err != nil {
		a.logger.Warn("resync after resume failed", zap.Error(err))
	}
	a.rewatch()
	a.requestThreads()
	a.post(func() { a.flash.Info("reconnected") })
}

func (a *App) rewatch() {
	if !a.rewatching.CompareAndSwap(false, true) {
		return
	}
	defer a.rewatching.Store(false)
	if err := a.session.Rewatch(); err != nil {
		a.logger.Debug("rewatch failed", zap.Error(err))
	}
}

// render lays out the window area from the current snapshots.
func (a *App) render() {
	wins := a.session.Windows().List()
	l := model.Arrange(wins, a.focus)
	a.focus = l.Focus

	a.window.Show(l.Main, a.session.User().ID)
	if draft, ok := a.drafts[a.window.Peer()]; ok && a.window.RestoreDraft(a.window.Peer(), draft) {
		delete(a.drafts, a.window.Peer())
	}
	for peer := range a.drafts {
		if _, ok := a.session.Windows().Get(peer); !ok {
			delete(a.drafts, peer)
		}
	}
	a.window.SetFocused(a.scope() == keys.ScopeWindow)
	a.dock.Update(l.Dock, l.Focus)
	dockHeight := 0
	if len(l.Dock) > 0 {
		dockHeight = 1
	}
	a.area.ResizeItem(a.dock, dockHeight, 0)

	if l.FullScreen != a.fullScreen {
		a.fullScreen = l.FullScreen
		width := sidebarWidth
		if l.FullScreen {
			width = 0
			if a.app.GetFocus() == a.sidebar {
				a.app.SetFocus(a.window.Messages())
			}
		}
		a.body.ResizeItem(a.sidebar, width, 0)
	}
	if l.Main == nil && a.scope() == keys.ScopeWindow && len(l.Dock) == 0 {
		a.app.SetFocus(a.sidebar)
	}

	a.statusBar.SetCounts(len(wins), a.unreadCount())
	a.updateHints()
}

// unreadCount prefers the durable total and falls back to the sidebar sum.
func (a *App) unreadCount() int {
	if a.totalUnread >= 0 {
		return a.totalUnread
	}
	n := 0
	for _, e := range a.entries {
		n += e.UnreadCount
	}
	return n
}

func (a *App) updateHints() {
	if a.app.GetFocus() == a.window.Composer() {
		a.hints.Update([]keys.Hint{{Key: "Enter", Help: "send"}, {Key: "Esc", Help: "done"}})
		return
	}
	a.hints.Update(a.registry.Hints(a.scope()))
}

// fail flashes err. Transient store failures are warnings the user can retry.
func (a *App) fail(err error) {
	if messenger.Retryable(err) {
		a.flash.Warn(err.Error() + ", try again")
	} else {
		a.flash.Err(err)
	}
	a.flashBar.Update(a.flash.Current())
}

// background runs fn off the tview goroutine with a request timeout and
// flashes its error.
func (a *App) background(fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, a.timeout)
		defer cancel()
		if err := fn(ctx); err != nil && a.ctx.Err() == nil {
			a.logger.Warn("action failed", zap.Error(err))
			a.post(func() { a.fail(err) })
		}
	}()
}

// open opens or re-activates the window for peer and focuses it.
func (a *App) open(peer string, tc messenger.ThreadContext) {
	a.focus = peer
	a.background(func(ctx context.Context) error {
		_, err := a.session.OpenConversation(ctx, peer, tc)
		a.post(func() {
			if _, ok := a.session.Windows().Get(peer); ok {
				a.focus = peer
				a.showMain()
				a.focusWindow()
			}
		})
		return err
	})
}

func (a *App) openSelected() {
	e, ok := a.sidebar.Selected()
	if !ok {
		return
	}
	a.open(e.PeerID, e.Context)
}

func (a *App) openHit() {
	hit, ok := a.search.Selected()
	if !ok {
		return
	}
	a.open(hit.PeerID, messenger.ThreadContext{})
}

func (a *App) send(peer, text string) {
	a.background(func(ctx context.Context) error {
		_, err := a.session.Send(ctx, peer, text)
		var serr *messenger.SendError
		if errors.As(err, &serr) && (errors.Is(err, messenger.ErrEmptyMessage) || errors.Is(err, messenger.ErrWindowNotFound)) {
			// Rejected before the write; no send.failed event follows.
			a.post(func() { a.restoreDraft(serr.Peer, serr.Draft) })
			return err
		}
		// Write failures arrive as send.failed.
		return nil
	})
}

func (a *App) restoreDraft(peer, draft string) {
	if !a.window.RestoreDraft(peer, draft) {
		a.drafts[peer] = draft
		return
	}
	if a.window.Peer() == peer {
		a.app.SetFocus(a.window.Composer())
		a.updateHints()
	}
}

func (a *App) minimize() {
	peer := a.focus
	if peer == "" {
		return
	}
	a.background(func(ctx context.Context) error {
		_, err := a.session.Minimize(ctx, peer)
		return err
	})
}

func (a *App) expand() {
	peer := a.focus
	if peer == "" {
		return
	}
	a.background(func(ctx context.Context) error {
		_, err := a.session.Expand(ctx, peer)
		return err
	})
}

func (a *App) closeWindow() {
	peer := a.focus
	if peer == "" {
		return
	}
	a.background(func(context.Context) error {
		return a.session.CloseWindow(peer)
	})
}

func (a *App) loadOlder() {
	peer := a.focus
	if peer == "" {
		return
	}
	a.background(func(ctx context.Context) error {
		n, err := a.session.LoadOlder(ctx, peer)
		if err == nil && n == 0 {
			a.post(func() { a.flash.Info("no older messages") })
		}
		return err
	})
}

func (a *App) reload() {
	peer := a.focus
	if peer == "" {
		return
	}
	a.background(func(ctx context.Context) error {
		return a.session.Reload(ctx, peer)
	})
}

func (a *App) cycle(step int) {
	next := model.Cycle(a.session.Windows().List(), a.focus, step)
	if next == "" {
		return
	}
	a.focus = next
	a.render()
	if a.currentPage() == pageMain {
		a.focusWindow()
	}
}

func (a *App) focusSidebar() {
	if a.fullScreen {
		return
	}
	a.app.SetFocus(a.sidebar)
	a.window.SetFocused(false)
	a.updateHints()
}

func (a *App) focusWindow() {
	if a.window.Peer() == "" && len(a.session.Windows().Minimized()) == 0 {
		return
	}
	a.app.SetFocus(a.window.Messages())
	a.window.SetFocused(true)
	a.updateHints()
}

func (a *App) focusComposer() {
	if a.window.Peer() == "" || a.window.Peer() != a.focus {
		a.flash.Warn("restore the window to compose (m)")
		a.flashBar.Update(a.flash.Current())
		return
	}
	a.app.SetFocus(a.window.Composer())
	a.window.SetFocused(true)
	a.updateHints()
}

func (a *App) showMain() {
	a.pages.SwitchToPage(pageMain)
	a.app.SetFocus(a.sidebar)
	a.render()
}

func (a *App) showHelp() {
	a.help.Update([]views.HelpSection{
		{Title: "Threads", Hints: a.registry.Hints(keys.ScopeSidebar)},
		{Title: "Window", Hints: a.registry.Hints(keys.ScopeWindow)},
		{Title: "Search results", Hints: a.registry.Hints(keys.ScopeSearch)},
		{Title: "Commands", Hints: []keys.Hint{
			{Key: ":open <user> [listing:<id>]", Help: "start or open a conversation"},
			{Key: ":search <text>", Help: "search your messages"},
			{Key: ":filter <text>", Help: "filter the thread list"},
			{Key: ":older", Help: "load older messages"},
			{Key: ":reload", Help: "reload the focused window"},
			{Key: ":quit", Help: "quit"},
		}},
	})
	a.pages.SwitchToPage(pageHelp)
	a.app.SetFocus(a.help)
	a.hints.Update([]keys.Hint{{Key: "Esc", Help: "back"}})
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.returnTo = a.app.GetFocus()
	a.prompt.Activate(mode)
	if mode == ui.PromptFilter {
		a.prompt.SetText(a.sidebar.Filter())
	}
	a.root.ResizeItem(a.prompt, 1, 0)
	a.app.SetFocus(a.prompt)
	a.hints.Update([]keys.Hint{{Key: "Enter", Help: "run"}, {Key: "Esc", Help: "cancel"}})
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	if a.returnTo != nil {
		a.app.SetFocus(a.returnTo)
	} else {
		a.app.SetFocus(a.sidebar)
	}
	a.updateHints()
}

func (a *App) submitPrompt(mode ui.PromptMode, text string) {
	a.hidePrompt()
	switch mode {
	case ui.PromptFilter:
		a.sidebar.SetFilter(text)
	case ui.PromptSearch:
		a.runSearch(text)
	case ui.PromptCommand:
		a.runCommand(ParseCommand(text))
	}
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "":
	case "open", "o":
		args, err := ParseOpen(cmd.Args)
		if err != nil {
			a.fail(err)
			return
		}
		a.open(args.Peer, args.Context)
	case "search", "s":
		a.runSearch(cmd.Args)
	case "filter", "f":
		a.sidebar.SetFilter(cmd.Args)
	case "older":
		a.loadOlder()
	case "reload":
		a.reload()
		a.requestThreads()
	case "help", "h":
		a.showHelp()
	case "quit", "q":
		a.Stop()
	default:
		a.fail(fmt.Errorf("unknown command %q (try :help)", cmd.Name))
	}
}

func (a *App) runSearch(query string) {
	if query == "" {
		return
	}
	self := a.session.User().ID
	a.background(func(ctx context.Context) error {
		hits, err := a.store.Search(ctx, self, query, "", searchLimit)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		a.post(func() {
			a.search.Update(query, hits, self)
			a.pages.SwitchToPage(pageSearch)
			a.app.SetFocus(a.search)
			a.updateHints()
		})
		return nil
	})
}
