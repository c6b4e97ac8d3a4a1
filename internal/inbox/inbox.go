// Package inbox is the surface a view drives: it owns the loop, wires the
// stores, the outbox and the push consumer together, and turns user intents
// into loop tasks.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/conversation"
	"github.com/matheus3301/dmsync/internal/identity"
	"github.com/matheus3301/dmsync/internal/loop"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/notice"
	"github.com/matheus3301/dmsync/internal/outbox"
	"github.com/matheus3301/dmsync/internal/status"
	intsync "github.com/matheus3301/dmsync/internal/sync"
	"github.com/matheus3301/dmsync/internal/thread"
	"github.com/matheus3301/dmsync/internal/unread"
	"go.uber.org/zap"
)

var (
	ErrNotLoggedIn         = errors.New("not logged in")
	ErrNothingSelected     = errors.New("no conversation selected")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrSelfConversation    = errors.New("cannot start a conversation with yourself")
	ErrNotStarted          = errors.New("inbox not started")
)

// Remote is the server API the inbox needs.
type Remote interface {
	conversation.Lister
	thread.Fetcher
	outbox.Submitter
	unread.Counter
	ListUsers(ctx context.Context) ([]model.UserRef, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Pusher keeps the push channel connected until ctx ends or the user logs out.
type Pusher interface {
	Run(ctx context.Context) error
	Status() status.State
}

// Snapshot is a consistent copy of everything a view renders.
type Snapshot struct {
	Self          model.UserRef
	LoggedIn      bool
	Conversations []model.Conversation
	Selected      string
	Messages      []model.Message
	Unread        int
	Notice        string
	Push          status.State
}

// SelectedConversation returns the open conversation from the snapshot.
func (s Snapshot) SelectedConversation() (model.Conversation, bool) {
	i := slices.IndexFunc(s.Conversations, func(c model.Conversation) bool { return c.ID == s.Selected })
	if i < 0 {
		return model.Conversation{}, false
	}
	return s.Conversations[i], true
}

// Inbox is the sync core behind one logged-in user's view.
type Inbox struct {
	loop    *loop.Loop
	bus     *bus.Bus
	session *identity.Session
	remote  Remote
	pusher  Pusher
	notices *notice.Board
	convs   *conversation.Store
	threads *thread.Store
	unread  *unread.Aggregator
	outbox  *outbox.Coordinator
	engine  *intsync.Engine
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Deps groups the collaborators of an Inbox.
type Deps struct {
	Bus     *bus.Bus
	Session *identity.Session
	Remote  Remote
	Pusher  Pusher
	Notices *notice.Board
	Logger  *zap.Logger
}

// New wires an inbox. Nothing runs until Start.
func New(d Deps) *Inbox {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := d.Bus
	if b == nil {
		b = bus.New()
	}
	notices := d.Notices
	if notices == nil {
		notices = notice.NewBoard(b)
	}
	l := loop.New(logger.Named("loop"))
	ib := &Inbox{
		loop:    l,
		bus:     b,
		session: d.Session,
		remote:  d.Remote,
		pusher:  d.Pusher,
		notices: notices,
		logger:  logger,
		ctx:     context.Background(),
	}
	ib.convs = conversation.New(d.Remote, l, b, logger.Named("conversations"))
	ib.threads = thread.New(d.Remote, l, b, logger.Named("thread"))
	ib.unread = unread.New(d.Remote, l, b, logger.Named("unread"))
	ib.outbox = outbox.NewCoordinator(outbox.Deps{
		Submitter: d.Remote,
		Convs:     ib.convs,
		Threads:   ib.threads,
		Identity:  d.Session,
		Notifier:  notices,
		Loop:      l,
		Bus:       b,
		Logger:    logger.Named("outbox"),
	})
	ib.engine = intsync.NewEngine(intsync.Deps{
		Loop:     l,
		Convs:    ib.convs,
		Threads:  ib.threads,
		Unread:   ib.unread,
		Outbox:   ib.outbox,
		Identity: d.Session,
		Notifier: notices,
		Bus:      b,
		Logger:   logger.Named("sync"),
	})
	ib.convs.OnPromote(ib.promoted)
	return ib
}

// Bus returns the bus views subscribe to for change notifications.
func (ib *Inbox) Bus() *bus.Bus {
	return ib.bus
}

// Start runs the loop, the push consumer and the push channel, then fetches
// the initial state. ctx bounds all background work. An inbox is started at
// most once.
func (ib *Inbox) Start(ctx context.Context) error {
	if _, ok := ib.session.Current(); !ok {
		return ErrNotLoggedIn
	}
	ib.ctx, ib.cancel = context.WithCancel(ctx)
	ib.done = make(chan struct{})
	go func() {
		defer close(ib.done)
		ib.loop.Run(ib.ctx)
	}()
	ib.engine.Start(ib.ctx)
	if ib.pusher != nil {
		go func() {
			if err := ib.pusher.Run(ib.ctx); err != nil {
				ib.logger.Warn("push channel stopped", zap.Error(err))
			}
		}()
	}
	ib.loop.Post(func() {
		ib.convs.Refresh(ib.ctx, ib.refreshed)
		ib.unread.RefreshGlobal(ib.ctx)
	})
	ib.logger.Info("inbox started")
	return nil
}

// Stop halts background work. In-flight calls are abandoned.
func (ib *Inbox) Stop() {
	if ib.cancel == nil {
		return
	}
	ib.engine.Stop()
	ib.cancel()
	<-ib.done
	ib.logger.Info("inbox stopped")
}

// WaitIdle blocks until no loop task or network call is outstanding.
func (ib *Inbox) WaitIdle(ctx context.Context) error {
	return ib.loop.WaitIdle(ctx)
}

// Snapshot returns a consistent copy of the view state.
func (ib *Inbox) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := ib.call(ctx, func() {
		snap.Self, snap.LoggedIn = ib.session.Current()
		snap.Conversations = ib.convs.List()
		snap.Selected = ib.threads.Selected()
		snap.Messages = ib.threads.Messages()
		snap.Unread = ib.unread.Total()
	})
	if err != nil {
		return Snapshot{}, err
	}
	snap.Notice = ib.notices.Get()
	if ib.pusher != nil {
		snap.Push = ib.pusher.Status()
	}
	return snap, nil
}

// Select opens a conversation and loads its history. The load marks it read
// on the server; locally it reads as zero once the load is applied.
func (ib *Inbox) Select(ctx context.Context, id string) error {
	var err error
	cerr := ib.call(ctx, func() { err = ib.selectLocked(id) })
	return errors.Join(cerr, err)
}

func (ib *Inbox) selectLocked(id string) error {
	if id == "" {
		ib.convs.Unpin()
		ib.threads.Select("")
		return nil
	}
	conv, ok := ib.convs.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	if id != ib.threads.Selected() {
		ib.convs.Unpin()
	}
	ib.threads.Select(id)
	if conv.IsPlaceholder {
		return nil
	}
	ib.load(id)
	return nil
}

// StartConversation opens the conversation with user, creating a placeholder
// when none exists yet. It returns the id of the opened conversation.
func (ib *Inbox) StartConversation(ctx context.Context, user model.UserRef) (string, error) {
	var id string
	var err error
	cerr := ib.call(ctx, func() {
		self, ok := ib.session.Current()
		if !ok {
			err = ErrNotLoggedIn
			return
		}
		if user.ID == "" || user.ID == self.ID {
			err = ErrSelfConversation
			return
		}
		if conv, ok := ib.convs.FindWith(self.ID, user.ID); ok {
			id = conv.ID
			err = ib.selectLocked(id)
			return
		}
		ph, _ := ib.convs.CreatePlaceholder(self, user)
		id = ph.ID
		ib.convs.Unpin()
		ib.threads.Select(id)
	})
	return id, errors.Join(cerr, err)
}

// Send composes a message into the open conversation and returns its
// temporary id.
func (ib *Inbox) Send(ctx context.Context, content, replyTo string) (string, error) {
	var tempID string
	var err error
	cerr := ib.call(ctx, func() {
		open := ib.threads.Selected()
		if open == "" {
			err = ErrNothingSelected
			return
		}
		tempID, err = ib.outbox.Send(ib.ctx, open, content, replyTo)
	})
	return tempID, errors.Join(cerr, err)
}

// Retry resubmits a failed message and returns its new temporary id.
func (ib *Inbox) Retry(ctx context.Context, tempID string) (string, error) {
	var next string
	var err error
	cerr := ib.call(ctx, func() { next, err = ib.outbox.Retry(ib.ctx, tempID) })
	return next, errors.Join(cerr, err)
}

// Delete removes a conversation. A placeholder is dropped locally; a real
// conversation is deleted on the server first.
func (ib *Inbox) Delete(ctx context.Context, id string) error {
	var err error
	cerr := ib.call(ctx, func() {
		conv, ok := ib.convs.Get(id)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownConversation, id)
			return
		}
		if conv.IsPlaceholder {
			ib.forget(id)
			return
		}
		del := func(ctx context.Context) (struct{}, error) {
			return struct{}{}, ib.remote.DeleteConversation(ctx, id)
		}
		loop.Go(ib.loop, ib.ctx, del, func(_ struct{}, err error) {
			if err != nil {
				ib.logger.Warn("delete conversation failed", zap.String("conversation_id", id), zap.Error(err))
				ib.notices.Post("Could not delete conversation")
				return
			}
			ib.forget(id)
			ib.unread.RefreshGlobal(ib.ctx)
		})
	})
	return errors.Join(cerr, err)
}

// Refresh re-reads the conversation list, the open conversation and the
// unread count.
func (ib *Inbox) Refresh(ctx context.Context) error {
	return ib.call(ctx, func() {
		ib.convs.Refresh(ib.ctx, ib.refreshed)
		if open := ib.threads.Selected(); open != "" && !model.IsPlaceholderID(open) {
			ib.load(open)
		}
		ib.unread.RefreshGlobal(ib.ctx)
	})
}

// Users lists the people the user can start a conversation with.
func (ib *Inbox) Users(ctx context.Context) ([]model.UserRef, error) {
	self, ok := ib.session.Current()
	if !ok {
		return nil, ErrNotLoggedIn
	}
	users, err := ib.remote.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(users, func(u model.UserRef) bool { return u.ID == self.ID }), nil
}

// Logout clears the identity and all local state. The push channel stops on
// its own when it sees the logout.
func (ib *Inbox) Logout(ctx context.Context) error {
	ib.session.Logout()
	return ib.call(ctx, func() {
		ib.threads.Clear()
		ib.convs.Clear()
		ib.outbox.Reset()
		ib.unread.Reset()
	})
}

func (ib *Inbox) call(ctx context.Context, fn func()) error {
	if ib.done == nil {
		return ErrNotStarted
	}
	return ib.loop.Call(ctx, fn)
}

// markRead zeroes the conversation locally and re-derives the global count.
func (ib *Inbox) markRead(id string) {
	ib.convs.MarkRead(id)
	ib.unread.Recompute(ib.convs.List())
	ib.unread.RefreshGlobal(ib.ctx)
}

func (ib *Inbox) load(id string) {
	ib.threads.Load(ib.ctx, id, func(applied bool, err error) {
		if err != nil {
			ib.notices.Post("Could not load messages")
			return
		}
		if applied {
			// The fetch marked the conversation read on the server.
			ib.markRead(id)
		}
	})
}

func (ib *Inbox) refreshed(_ *conversation.Promotion, err error) {
	if err != nil {
		ib.notices.Post("Could not refresh conversations")
	}
}

// promoted runs inside the store update that dropped the placeholder.
func (ib *Inbox) promoted(p conversation.Promotion) {
	ib.threads.Promote(p.PlaceholderID, p.Conversation.ID)
	ib.outbox.Relabel(p.PlaceholderID, p.Conversation.ID)
	if ib.threads.Selected() == p.Conversation.ID {
		ib.load(p.Conversation.ID)
	}
}

func (ib *Inbox) forget(id string) {
	if ib.threads.Selected() == id {
		ib.convs.Unpin()
	}
	ib.convs.Remove(id)
	ib.threads.Drop(id)
	ib.outbox.Discard(id)
	ib.unread.Recompute(ib.convs.List())
}
