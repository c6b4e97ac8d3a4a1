// Package tui is the terminal client: a conversation list, the open
// conversation and a composer, redrawn from inbox snapshots.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/inbox"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/notice"
	"github.com/matheus3301/dmsync/internal/tui/keys"
	"github.com/matheus3301/dmsync/internal/tui/ui"
	"github.com/matheus3301/dmsync/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	pageMain  = "main"
	pageUsers = "users"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	ib        *inbox.Inbox
	notices   *notice.Board
	logger    *zap.Logger
	theme     *ui.Theme
	registry  *keys.Registry
	statusBar *views.StatusBar
	convList  *views.ConversationList
	msgView   *views.MessageView
	composer  *views.Composer
	picker    *views.UserPicker
	hints     *tview.TextView
	ctx       context.Context
	cancel    context.CancelFunc

	// snap is the last rendered snapshot; only touched on the draw goroutine.
	snap inbox.Snapshot
}

// NewApp creates the TUI application for a started inbox.
func NewApp(ib *inbox.Inbox, notices *notice.Board, profileName string, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		ib:        ib,
		notices:   notices,
		logger:    logger,
		theme:     theme,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(theme),
		convList:  views.NewConversationList(theme),
		msgView:   views.NewMessageView(theme),
		composer:  views.NewComposer(),
		picker:    views.NewUserPicker(theme),
		hints:     tview.NewTextView().SetDynamicColors(true),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: a.Stop,
	})
	a.registry.AddPage(pageMain, &keys.Action{
		Rune: 'n', Key: tcell.KeyRune,
		Description: "n:new", Visible: true,
		Handler: a.showPicker,
	})
	a.registry.AddPage(pageMain, &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:write", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
	a.registry.AddPage(pageMain, &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:refresh", Visible: true,
		Handler: func() { a.intent("refresh", a.ib.Refresh) },
	})
	a.registry.AddPage(pageMain, &keys.Action{
		Rune: 'd', Key: tcell.KeyRune,
		Description: "d:delete", Visible: true,
		Handler: func() { a.deleteConversation(a.convList.SelectedConversation()) },
	})
	a.registry.AddPage(pageMain, &keys.Action{
		Key:     tcell.KeyTab,
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(_, _ int) {
		id := a.convList.SelectedConversation()
		if id == "" {
			return
		}
		a.intent("open conversation", func(ctx context.Context) error {
			return a.ib.Select(ctx, id)
		})
		a.app.SetFocus(a.composer.InputField)
	})

	a.composer.SetOnSend(func(text string) {
		a.intent("send", func(ctx context.Context) error {
			_, err := a.ib.Send(ctx, text, "")
			return err
		})
	})
	a.composer.SetOnCommand(a.runCommand)

	a.picker.SetOnPick(func(u model.UserRef) {
		a.closePicker()
		a.startConversation(u)
	})
}

func (a *App) setupLayout() {
	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)
	main := tview.NewFlex().
		AddItem(a.convList, 0, 2, true).
		AddItem(right, 0, 3, false)

	modal := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(a.picker, 12, 0, true).
			AddItem(nil, 0, 1, false), 40, 0, true).
		AddItem(nil, 0, 1, false)

	a.pages.AddPage(pageMain, main, true, true)
	a.pages.AddPage(pageUsers, modal, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.hints, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.renderHints(pageMain)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch {
			case currentPage == pageUsers:
				a.closePicker()
				return nil
			case a.app.GetFocus() == a.composer.InputField:
				a.app.SetFocus(a.convList)
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}
		return event
	})
}

// Run draws the UI until the user quits. The inbox must already be started.
func (a *App) Run() error {
	events, unsub := a.ib.Bus().Subscribe("", 256)
	defer unsub()
	go a.watch(events)
	go a.refresh()

	err := a.app.Run()
	a.cancel()
	return err
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// watch redraws after bus activity, coalescing bursts, and once a second for
// the clock and notice expiry.
func (a *App) watch(events <-chan bus.Event) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-events:
			for drained := false; !drained; {
				select {
				case <-events:
				default:
					drained = true
				}
			}
			a.refresh()
		case <-ticker.C:
			a.refresh()
		}
	}
}

func (a *App) refresh() {
	snap, err := a.ib.Snapshot(a.ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.logger.Warn("snapshot failed", zap.Error(err))
		}
		return
	}
	a.app.QueueUpdateDraw(func() { a.render(snap) })
}

func (a *App) render(snap inbox.Snapshot) {
	a.snap = snap
	self := snap.Self.ID
	a.convList.Update(snap.Conversations, self, snap.Selected)
	if conv, ok := snap.SelectedConversation(); ok {
		a.msgView.SetTitleName(views.ConversationTitle(conv, self))
	} else {
		a.msgView.SetTitleName("")
	}
	a.msgView.Update(snap.Messages, self)

	user := ""
	if snap.LoggedIn {
		user = snap.Self.DisplayName()
	}
	a.statusBar.Set(user, snap.Push, snap.Unread, snap.Notice)
}

func (a *App) renderHints(page string) {
	a.hints.Clear()
	_, _ = fmt.Fprintf(a.hints, " [::d]%s  /help[-:-:-]", strings.Join(a.registry.Hints(page), "  "))
}

// intent runs fn off the draw goroutine and reports failures as a notice.
func (a *App) intent(what string, fn func(ctx context.Context) error) {
	go func() {
		if err := fn(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Info(what+" failed", zap.Error(err))
			a.notices.Post(fmt.Sprintf("Could not %s: %v", what, err))
		}
	}()
}

func (a *App) runCommand(line string) {
	cmd := ParseCommand(line)
	switch cmd.Name {
	case "new":
		if cmd.Args == "" {
			a.showPicker()
			return
		}
		a.intent("start conversation", func(ctx context.Context) error {
			users, err := a.ib.Users(ctx)
			if err != nil {
				return err
			}
			for _, u := range users {
				if u.ID == cmd.Args || strings.EqualFold(u.Name, cmd.Args) {
					_, err := a.ib.StartConversation(ctx, u)
					return err
				}
			}
			return fmt.Errorf("no user %q", cmd.Args)
		})
	case "reply":
		id, text, err := cmd.ReplyArgs()
		if err != nil {
			a.notices.Post(err.Error())
			return
		}
		a.intent("send", func(ctx context.Context) error {
			_, err := a.ib.Send(ctx, text, id)
			return err
		})
	case "retry":
		id := strings.TrimPrefix(cmd.Args, "#")
		if id == "" {
			id = a.lastFailed()
		}
		if id == "" {
			a.notices.Post("Nothing to retry")
			return
		}
		a.intent("retry", func(ctx context.Context) error {
			_, err := a.ib.Retry(ctx, id)
			return err
		})
	case "delete":
		a.deleteConversation(a.snap.Selected)
	case "refresh":
		a.intent("refresh", a.ib.Refresh)
	case "logout":
		a.intent("log out", a.ib.Logout)
	case "quit":
		a.Stop()
	case "help", "":
		a.notices.Post(commandHelp)
	default:
		a.notices.Post("Unknown command /" + cmd.Name + ", try /help")
	}
}

// lastFailed returns the newest failed entry of the open conversation.
func (a *App) lastFailed() string {
	for i := len(a.snap.Messages) - 1; i >= 0; i-- {
		if a.snap.Messages[i].State == model.Failed {
			return a.snap.Messages[i].ID
		}
	}
	return ""
}

func (a *App) deleteConversation(id string) {
	if id == "" {
		a.notices.Post("No conversation selected")
		return
	}
	a.intent("delete conversation", func(ctx context.Context) error {
		return a.ib.Delete(ctx, id)
	})
}

func (a *App) startConversation(u model.UserRef) {
	a.intent("start conversation", func(ctx context.Context) error {
		_, err := a.ib.StartConversation(ctx, u)
		if err == nil {
			a.app.QueueUpdateDraw(func() { a.app.SetFocus(a.composer.InputField) })
		}
		return err
	})
}

func (a *App) showPicker() {
	go func() {
		users, err := a.ib.Users(a.ctx)
		if err != nil {
			a.notices.Post("Could not list users")
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.picker.Update(users)
			a.pages.ShowPage(pageUsers)
			a.renderHints(pageUsers)
			a.app.SetFocus(a.picker)
		})
	}()
}

func (a *App) closePicker() {
	a.pages.HidePage(pageUsers)
	a.renderHints(pageMain)
	a.app.SetFocus(a.convList)
}
