// Package outbox runs optimistic sends: a message appears in the open
// conversation as pending the moment it is composed and is reconciled with
// the server's copy once acknowledged.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/conversation"
	"github.com/matheus3301/dmsync/internal/identity"
	"github.com/matheus3301/dmsync/internal/loop"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/thread"
	"go.uber.org/zap"
)

var (
	ErrEmptyContent          = errors.New("message content is empty")
	ErrNotLoggedIn           = errors.New("not logged in")
	ErrNoConversation        = errors.New("conversation not found")
	ErrUnresolvableRecipient = errors.New("cannot resolve recipient")
	ErrNotRetryable          = errors.New("send is not in failed state")
)

// Submitter delivers a message to the server.
type Submitter interface {
	SendMessage(ctx context.Context, recipientID, content, replyTo string) (model.Message, error)
}

// Notifier shows a non-fatal notice to the user.
type Notifier interface {
	Post(msg string)
}

// Result is the payload of outbox events.
type Result struct {
	TempID         string
	ConversationID string
	Message        model.Message
	Err            error
}

type send struct {
	tempID         string
	conversationID string
	recipient      model.UserRef
	participants   []model.UserRef
	content        string
	replyTo        string
	createdAt      time.Time
	state          State
}

// Coordinator tracks in-flight optimistic sends. Like the stores it is owned
// by the loop.
type Coordinator struct {
	sends map[string]*send

	submitter Submitter
	convs     *conversation.Store
	threads   *thread.Store
	identity  identity.Provider
	notifier  Notifier
	loop      *loop.Loop
	bus       *bus.Bus
	logger    *zap.Logger
	now       func() time.Time
}

// Deps groups the collaborators of a Coordinator.
type Deps struct {
	Submitter Submitter
	Convs     *conversation.Store
	Threads   *thread.Store
	Identity  identity.Provider
	Notifier  Notifier
	Loop      *loop.Loop
	Bus       *bus.Bus
	Logger    *zap.Logger
}

// NewCoordinator creates a coordinator with no sends.
func NewCoordinator(d Deps) *Coordinator {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		sends:     make(map[string]*send),
		submitter: d.Submitter,
		convs:     d.Convs,
		threads:   d.Threads,
		identity:  d.Identity,
		notifier:  d.Notifier,
		loop:      d.Loop,
		bus:       d.Bus,
		logger:    logger,
		now:       time.Now,
	}
}

// Send composes a message into conversationID and submits it. The pending
// entry is visible before Send returns; the returned temp id identifies it
// until the server acknowledges it.
func (c *Coordinator) Send(ctx context.Context, conversationID, content, replyTo string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	self, ok := c.identity.Current()
	if !ok {
		return "", ErrNotLoggedIn
	}
	conv, ok := c.convs.Get(conversationID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoConversation, conversationID)
	}
	recipient, ok := conv.Other(self.ID)
	if !ok {
		c.logger.Error("cannot resolve recipient",
			zap.String("conversation_id", conversationID),
			zap.Int("participants", len(conv.Participants)))
		return "", ErrUnresolvableRecipient
	}

	s := &send{
		conversationID: conversationID,
		recipient:      recipient,
		participants:   conv.Participants,
		content:        content,
		replyTo:        replyTo,
		state:          Composed,
	}
	if err := c.dispatch(ctx, self, s); err != nil {
		return "", err
	}
	return s.tempID, nil
}

// Retry resubmits a failed send. The failed entry is replaced by a new
// pending entry with a fresh temp id, which is returned.
func (c *Coordinator) Retry(ctx context.Context, tempID string) (string, error) {
	s, ok := c.sends[tempID]
	if !ok || s.state != Failed {
		return "", fmt.Errorf("%w: %s", ErrNotRetryable, tempID)
	}
	self, ok := c.identity.Current()
	if !ok {
		return "", ErrNotLoggedIn
	}

	next := &send{
		conversationID: s.conversationID,
		recipient:      s.recipient,
		participants:   s.participants,
		content:        s.content,
		replyTo:        s.replyTo,
		state:          Composed,
	}
	delete(c.sends, tempID)
	c.threads.Remove(tempID)
	if err := c.dispatch(ctx, self, next); err != nil {
		return "", err
	}
	c.logger.Info("retrying send", zap.String("previous", tempID), zap.String("temp_id", next.tempID))
	return next.tempID, nil
}

// Outstanding reports whether a pending send with the same content is in
// flight for conversationID.
func (c *Coordinator) Outstanding(conversationID, content string) bool {
	for _, s := range c.sends {
		if s.state == Pending && s.conversationID == conversationID && s.content == content {
			return true
		}
	}
	return false
}

// State returns the state of the send identified by tempID. Acknowledged
// sends are forgotten and report false.
func (c *Coordinator) State(tempID string) (State, bool) {
	s, ok := c.sends[tempID]
	if !ok {
		return "", false
	}
	return s.state, true
}

// Relabel moves sends from a placeholder to its promoted conversation.
func (c *Coordinator) Relabel(from, to string) {
	for _, s := range c.sends {
		if s.conversationID == from {
			s.conversationID = to
		}
	}
}

// Discard forgets the failed sends of a deleted conversation. Pending sends
// are kept until their responses arrive.
func (c *Coordinator) Discard(conversationID string) {
	for id, s := range c.sends {
		if s.conversationID == conversationID && s.state == Failed {
			delete(c.sends, id)
		}
	}
}

// Reset forgets all sends.
func (c *Coordinator) Reset() {
	clear(c.sends)
}

// dispatch registers s as pending and submits it. Only a composed send can be
// dispatched; anything else is rejected before it reaches the log.
func (c *Coordinator) dispatch(ctx context.Context, self model.UserRef, s *send) error {
	next, err := s.state.transition(Pending)
	if err != nil {
		c.logger.Error("send state", zap.Error(err))
		return err
	}
	s.state = next
	s.tempID = model.NewTempID()
	s.createdAt = c.now()
	c.sends[s.tempID] = s

	msg := model.Message{
		ID:             s.tempID,
		ConversationID: s.conversationID,
		Sender:         self,
		Content:        s.content,
		CreatedAt:      s.createdAt,
		ReplyTo:        s.replyTo,
		State:          model.Pending,
	}
	c.threads.Append(msg)
	c.bus.Emit(bus.OutboxPending, Result{TempID: s.tempID, ConversationID: s.conversationID, Message: msg})

	submit := func(ctx context.Context) (model.Message, error) {
		return c.submitter.SendMessage(ctx, s.recipient.ID, s.content, s.replyTo)
	}
	loop.Go(c.loop, ctx, submit, func(server model.Message, err error) {
		if err != nil {
			c.failed(s, err)
			return
		}
		c.acknowledged(ctx, s, server)
	})
	return nil
}

func (c *Coordinator) failed(s *send, err error) {
	next, terr := s.state.transition(Failed)
	if terr != nil {
		c.logger.Error("send state", zap.Error(terr))
		return
	}
	s.state = next
	c.threads.MarkFailed(s.tempID)
	c.logger.Warn("send failed",
		zap.String("temp_id", s.tempID),
		zap.String("conversation_id", s.conversationID),
		zap.Error(err))
	if c.notifier != nil {
		c.notifier.Post(fmt.Sprintf("Message to %s not sent: %v", s.recipient.DisplayName(), err))
	}
	c.bus.Emit(bus.OutboxFailed, Result{TempID: s.tempID, ConversationID: s.conversationID, Err: err})
}

func (c *Coordinator) acknowledged(ctx context.Context, s *send, server model.Message) {
	next, err := s.state.transition(Sent)
	if err != nil {
		c.logger.Error("send state", zap.Error(err))
		return
	}
	s.state = next
	delete(c.sends, s.tempID)
	fromPlaceholder := model.IsPlaceholderID(s.conversationID)
	c.threads.Reconcile(s.tempID, server)
	c.logger.Debug("send acknowledged",
		zap.String("temp_id", s.tempID),
		zap.String("message_id", server.ID),
		zap.String("conversation_id", server.ConversationID))
	c.bus.Emit(bus.OutboxSent, Result{TempID: s.tempID, ConversationID: server.ConversationID, Message: server})

	if !fromPlaceholder {
		c.convs.Refresh(ctx, nil)
		return
	}
	if server.ConversationID == "" {
		// Nothing to promote to; the refresh may still list the new
		// conversation and promote the placeholder by participants.
		c.logger.Warn("acknowledgement carries no conversation id",
			zap.String("temp_id", s.tempID), zap.String("message_id", server.ID))
		c.convs.Refresh(ctx, nil)
		return
	}
	// The server created the conversation. If the refreshed list does not
	// carry it yet, build it from what the placeholder knew so the
	// promotion still happens.
	participants := s.participants
	c.convs.Refresh(ctx, func(_ *conversation.Promotion, err error) {
		if _, ok := c.convs.Get(server.ConversationID); ok {
			return
		}
		if err != nil {
			c.logger.Info("synthesizing promoted conversation after failed refresh",
				zap.String("conversation_id", server.ConversationID), zap.Error(err))
		}
		c.convs.UpsertFromServer(model.Conversation{
			ID:           server.ConversationID,
			Participants: participants,
			LastMessage:  server.Summary(),
		})
	})
}
