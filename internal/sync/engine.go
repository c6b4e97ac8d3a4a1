package sync

import (
	"context"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/conversation"
	"github.com/matheus3301/dmsync/internal/identity"
	"github.com/matheus3301/dmsync/internal/loop"
	"github.com/matheus3301/dmsync/internal/outbox"
	"github.com/matheus3301/dmsync/internal/push"
	"github.com/matheus3301/dmsync/internal/thread"
	"github.com/matheus3301/dmsync/internal/unread"
	"go.uber.org/zap"
)

// Notifier shows a non-fatal notice to the user.
type Notifier interface {
	Post(msg string)
}

// Deps groups the collaborators of an Engine.
type Deps struct {
	Loop     *loop.Loop
	Convs    *conversation.Store
	Threads  *thread.Store
	Unread   *unread.Aggregator
	Outbox   *outbox.Coordinator
	Identity identity.Provider
	Notifier Notifier
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// Engine applies server push events to the local stores.
// It subscribes to "push.*" events on the bus and handles each one on the loop.
type Engine struct {
	Deps
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(d Deps) *Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Engine{Deps: d}
}

// Start subscribes to push events on the bus. ctx is also the context of the
// network calls the engine issues.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.Bus.Subscribe("push.", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.Loop.Post(func() { e.handleEvent(ctx, evt) })
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch p := evt.Payload.(type) {
	case push.NewPrivateMessage:
		e.HandleNewPrivateMessage(ctx, p)
	case push.ConversationDeleted:
		e.HandleConversationDeleted(ctx, p)
	case push.Connected:
		if p.Reconnect {
			e.Resync(ctx)
		}
	case push.Disconnected:
		e.notify("Connection lost, reconnecting")
	}
}

// HandleNewPrivateMessage applies a pushed message. It must run on the loop.
func (e *Engine) HandleNewPrivateMessage(ctx context.Context, evt push.NewPrivateMessage) {
	self, ok := e.Identity.Current()
	if !ok {
		return
	}
	msg := evt.Message
	open := e.Threads.Selected()
	fromSelf := msg.Sender.ID == self.ID
	log := e.Logger.With(
		zap.String("conversation_id", msg.ConversationID),
		zap.String("message_id", msg.ID))

	if msg.ConversationID == open {
		switch {
		case fromSelf && e.Outbox.Outstanding(open, msg.Content):
			// The REST acknowledgement will reconcile the pending entry.
			log.Debug("dropping push for outstanding send")
		case e.Threads.Append(msg):
			log.Debug("appended pushed message")
		}
		if !fromSelf {
			e.Threads.Load(ctx, open, func(applied bool, err error) {
				if applied {
					e.Convs.MarkRead(open)
					e.Unread.RefreshGlobal(ctx)
				}
			})
		}
	}

	e.Convs.Refresh(ctx, nil)

	if msg.ConversationID != open && !fromSelf {
		e.Convs.IncrementUnread(msg.ConversationID)
		e.Unread.RefreshGlobal(ctx)
	}
}

// HandleConversationDeleted forgets a deleted conversation. It must run on
// the loop.
func (e *Engine) HandleConversationDeleted(ctx context.Context, evt push.ConversationDeleted) {
	id := evt.ConversationID
	wasOpen := e.Threads.Selected() == id
	e.Convs.Remove(id)
	e.Threads.Drop(id)
	e.Outbox.Discard(id)
	if wasOpen {
		e.Convs.Unpin()
		e.notify("This conversation was deleted")
	}
	e.Logger.Info("conversation deleted", zap.String("conversation_id", id), zap.Bool("was_open", wasOpen))
	e.Unread.RefreshGlobal(ctx)
}

func (e *Engine) notify(msg string) {
	if e.Notifier != nil {
		e.Notifier.Post(msg)
	}
}
