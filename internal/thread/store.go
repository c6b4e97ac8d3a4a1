package thread

import (
	"context"
	"slices"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/loop"
	"github.com/matheus3301/dmsync/internal/model"
	"go.uber.org/zap"
)

// Fetcher loads the server's message history for one conversation.
type Fetcher interface {
	GetMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// echoSkew is how much earlier than its pending entry the server may date a
// message and still be taken for that entry's copy.
const echoSkew = time.Minute

// Store holds the message log of the open conversation. Sent messages are
// ordered by creation time; pending and failed entries form the tail.
// Tentative entries of conversations that are not open are parked until the
// conversation is reopened. Like every store it is owned by the loop.
type Store struct {
	selected string
	log      []model.Message
	parked   map[string][]model.Message

	fetcher Fetcher
	loop    *loop.Loop
	bus     *bus.Bus
	logger  *zap.Logger
}

// New creates a store with no open conversation.
func New(fetcher Fetcher, l *loop.Loop, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		parked:  make(map[string][]model.Message),
		fetcher: fetcher,
		loop:    l,
		bus:     b,
		logger:  logger,
	}
}

// Selected returns the id of the open conversation, or "".
func (s *Store) Selected() string {
	return s.selected
}

// Messages returns a copy of the open conversation's log.
func (s *Store) Messages() []model.Message {
	return slices.Clone(s.log)
}

// Find returns the entry with the given id from the log or the parked set.
func (s *Store) Find(id string) (model.Message, bool) {
	if i := indexOf(s.log, id); i >= 0 {
		return s.log[i], true
	}
	for _, msgs := range s.parked {
		if i := indexOf(msgs, id); i >= 0 {
			return msgs[i], true
		}
	}
	return model.Message{}, false
}

// Select opens id. Selecting "" closes the open conversation.
func (s *Store) Select(id string) {
	if id == s.selected {
		return
	}
	s.park()
	s.selected = id
	s.log = s.parked[id]
	delete(s.parked, id)
	s.changed()
}

// Load fetches the history of id and applies it if id is still open when the
// response arrives. done reports whether the response was applied; it may be
// nil.
func (s *Store) Load(ctx context.Context, id string, done func(applied bool, err error)) {
	fetch := func(ctx context.Context) ([]model.Message, error) {
		return s.fetcher.GetMessages(ctx, id)
	}
	loop.Go(s.loop, ctx, fetch, func(msgs []model.Message, err error) {
		if id != s.selected {
			s.logger.Debug("discarding messages for closed conversation",
				zap.String("conversation_id", id),
				zap.String("selected", s.selected))
			if done != nil {
				done(false, nil)
			}
			return
		}
		if err != nil {
			s.logger.Warn("message load failed", zap.String("conversation_id", id), zap.Error(err))
			if done != nil {
				done(false, err)
			}
			return
		}
		s.apply(msgs)
		if done != nil {
			done(true, nil)
		}
	})
}

// apply replaces the log with the server history. Local sent entries newer
// than the snapshot and the tentative tail survive. Server copies of pending
// sends are held back: the acknowledgement reconciles them into the pending
// entry's place, so the log never shows both.
func (s *Store) apply(server []model.Message) {
	held := s.echoes(server)
	merged := make([]model.Message, 0, len(server)+len(s.log))
	seen := make(map[string]struct{}, len(server))
	var horizon model.Message
	for _, m := range server {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		if m.CreatedAt.After(horizon.CreatedAt) {
			horizon = m
		}
		if held[m.ID] {
			continue
		}
		m.State = model.Sent
		merged = append(merged, m)
	}
	var tail []model.Message
	for _, m := range s.log {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		switch {
		case m.Tentative():
			tail = append(tail, m)
		case m.CreatedAt.After(horizon.CreatedAt):
			merged = append(merged, m)
		}
	}
	slices.SortStableFunc(merged, func(a, b model.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	s.log = append(merged, tail...)
	s.changed()
}

// echoes picks, for each pending entry, the newest server message not yet in
// the log with the same sender and content. Those are the server's copies of
// sends whose acknowledgement has not arrived.
func (s *Store) echoes(server []model.Message) map[string]bool {
	known := make(map[string]bool, len(s.log))
	for _, m := range s.log {
		known[m.ID] = true
	}
	held := make(map[string]bool)
	for _, p := range s.log {
		if p.State != model.Pending {
			continue
		}
		for i := len(server) - 1; i >= 0; i-- {
			m := server[i]
			if known[m.ID] || held[m.ID] || m.Sender.ID != p.Sender.ID || m.Content != p.Content {
				continue
			}
			if m.CreatedAt.Before(p.CreatedAt.Add(-echoSkew)) {
				continue
			}
			held[m.ID] = true
			s.logger.Debug("holding back server copy of pending send",
				zap.String("temp_id", p.ID), zap.String("message_id", m.ID))
			break
		}
	}
	return held
}

// Append adds msg to the open conversation. It returns false for duplicates
// and for messages of other conversations; a tentative message for another
// conversation is parked instead.
func (s *Store) Append(msg model.Message) bool {
	if msg.State == "" {
		msg.State = model.Sent
	}
	if msg.ConversationID != s.selected {
		if msg.Tentative() && indexOf(s.parked[msg.ConversationID], msg.ID) < 0 {
			s.parked[msg.ConversationID] = append(s.parked[msg.ConversationID], msg)
		}
		return false
	}
	if indexOf(s.log, msg.ID) >= 0 {
		return false
	}
	if msg.Tentative() {
		s.log = append(s.log, msg)
		s.changed()
		return true
	}
	at := slices.IndexFunc(s.log, model.Message.Tentative)
	if at < 0 {
		at = len(s.log)
	}
	for at > 0 && s.log[at-1].CreatedAt.After(msg.CreatedAt) {
		at--
	}
	s.log = slices.Insert(s.log, at, msg)
	s.changed()
	return true
}

// Reconcile replaces the tentative entry tempID with the acknowledged server
// message, keeping its position. If the server message is already present the
// tentative entry is removed instead. If tempID is gone, the message is
// appended when it belongs to the open conversation.
func (s *Store) Reconcile(tempID string, server model.Message) {
	server.State = model.Sent
	if i := indexOf(s.log, tempID); i >= 0 {
		if indexOf(s.log, server.ID) >= 0 {
			s.log = slices.Delete(s.log, i, i+1)
		} else {
			s.log[i] = server
		}
		s.changed()
		return
	}
	for conv, msgs := range s.parked {
		if i := indexOf(msgs, tempID); i >= 0 {
			s.setParked(conv, slices.Delete(msgs, i, i+1))
			return
		}
	}
	if server.ConversationID == s.selected {
		s.Append(server)
	}
}

// MarkFailed flags the pending entry tempID as failed.
func (s *Store) MarkFailed(tempID string) bool {
	if i := indexOf(s.log, tempID); i >= 0 {
		s.log[i].State = model.Failed
		s.changed()
		return true
	}
	for _, msgs := range s.parked {
		if i := indexOf(msgs, tempID); i >= 0 {
			msgs[i].State = model.Failed
			return true
		}
	}
	return false
}

// Remove drops the entry id from the log or the parked set.
func (s *Store) Remove(id string) bool {
	if i := indexOf(s.log, id); i >= 0 {
		s.log = slices.Delete(s.log, i, i+1)
		s.changed()
		return true
	}
	for conv, msgs := range s.parked {
		if i := indexOf(msgs, id); i >= 0 {
			s.setParked(conv, slices.Delete(msgs, i, i+1))
			return true
		}
	}
	return false
}

// Promote relabels everything held for conversation from as belonging to to,
// including the selection.
func (s *Store) Promote(from, to string) {
	if from == to {
		return
	}
	relabel := func(msgs []model.Message) {
		for i := range msgs {
			if msgs[i].ConversationID == from {
				msgs[i].ConversationID = to
			}
		}
	}
	if held, ok := s.parked[from]; ok {
		delete(s.parked, from)
		relabel(held)
		s.parked[to] = append(s.parked[to], held...)
	}
	if s.selected == from {
		s.selected = to
		relabel(s.log)
		if held, ok := s.parked[to]; ok {
			delete(s.parked, to)
			for _, m := range held {
				if indexOf(s.log, m.ID) < 0 {
					s.log = append(s.log, m)
				}
			}
		}
		s.changed()
	}
}

// Drop forgets conversation id entirely, closing it if it is open.
func (s *Store) Drop(id string) {
	delete(s.parked, id)
	if s.selected == id {
		s.selected = ""
		s.log = nil
		s.changed()
	}
}

// Clear closes the open conversation and forgets all parked entries.
func (s *Store) Clear() {
	s.selected = ""
	s.log = nil
	clear(s.parked)
	s.changed()
}

// park moves the tentative entries of the open conversation aside.
func (s *Store) park() {
	if s.selected == "" {
		return
	}
	var held []model.Message
	for _, m := range s.log {
		if m.Tentative() {
			held = append(held, m)
		}
	}
	s.setParked(s.selected, held)
}

func (s *Store) setParked(conv string, msgs []model.Message) {
	if len(msgs) == 0 {
		delete(s.parked, conv)
		return
	}
	s.parked[conv] = msgs
}

func (s *Store) changed() {
	s.bus.Emit(bus.MessagesChanged, s.selected)
}

func indexOf(msgs []model.Message, id string) int {
	return slices.IndexFunc(msgs, func(m model.Message) bool { return m.ID == id })
}
