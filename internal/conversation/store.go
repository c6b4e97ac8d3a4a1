package conversation

import (
	"context"
	"slices"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/loop"
	"github.com/matheus3301/dmsync/internal/model"
	"go.uber.org/zap"
)

// Lister fetches the authoritative conversation list.
type Lister interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
}

// Promotion records a placeholder superseded by a real conversation.
type Promotion struct {
	PlaceholderID string
	Conversation  model.Conversation
}

// Store is the local, recency-ordered list of conversations, including at
// most one placeholder. It is owned by the loop and must only be touched
// from loop tasks.
type Store struct {
	convs     []model.Conversation
	pinned    string
	onPromote func(Promotion)

	lister  Lister
	loop    *loop.Loop
	bus     *bus.Bus
	logger  *zap.Logger
	issued  uint64
	applied uint64
}

// New creates an empty store.
func New(lister Lister, l *loop.Loop, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		lister: lister,
		loop:   l,
		bus:    b,
		logger: logger,
	}
}

// OnPromote registers the hook called, inside the same loop task, whenever a
// placeholder is superseded.
func (s *Store) OnPromote(fn func(Promotion)) {
	s.onPromote = fn
}

// List returns a copy of the ordered conversations.
func (s *Store) List() []model.Conversation {
	out := make([]model.Conversation, len(s.convs))
	for i, c := range s.convs {
		out[i] = c.Clone()
	}
	return out
}

// Get returns the conversation with the given id.
func (s *Store) Get(id string) (model.Conversation, bool) {
	if i := s.index(id); i >= 0 {
		return s.convs[i].Clone(), true
	}
	return model.Conversation{}, false
}

// FindWith returns the real two-party conversation between selfID and userID.
func (s *Store) FindWith(selfID, userID string) (model.Conversation, bool) {
	for _, c := range s.convs {
		if c.IsPlaceholder || len(c.Participants) != 2 {
			continue
		}
		if c.HasParticipant(selfID) && c.HasParticipant(userID) {
			return c.Clone(), true
		}
	}
	return model.Conversation{}, false
}

// Placeholder returns the placeholder conversation, if any.
func (s *Store) Placeholder() (model.Conversation, bool) {
	for _, c := range s.convs {
		if c.IsPlaceholder {
			return c.Clone(), true
		}
	}
	return model.Conversation{}, false
}

// CreatePlaceholder adds a placeholder for a first contact with target.
// It is a no-op returning false when a real conversation with target already
// exists; callers are expected to check with FindWith and select that one.
// A previous placeholder for someone else is discarded.
func (s *Store) CreatePlaceholder(self, target model.UserRef) (model.Conversation, bool) {
	if _, ok := s.FindWith(self.ID, target.ID); ok {
		return model.Conversation{}, false
	}
	if ph, ok := s.Placeholder(); ok {
		if ph.HasParticipant(target.ID) {
			return ph, true
		}
		s.removeAt(s.index(ph.ID))
	}
	ph := model.Conversation{
		ID:            model.NewPlaceholderID(),
		Participants:  []model.UserRef{self, target},
		IsPlaceholder: true,
	}
	s.convs = append(s.convs, ph)
	s.sort()
	s.changed()
	return ph.Clone(), true
}

// UpsertFromServer replaces or inserts c by id. A placeholder for the same
// participant pair is dropped in the same update.
func (s *Store) UpsertFromServer(c model.Conversation) *Promotion {
	c = c.Clone()
	c.IsPlaceholder = false
	if c.ID == s.pinned {
		c.UnreadCount = 0
	}
	if i := s.index(c.ID); i >= 0 {
		s.convs[i] = c
	} else {
		s.convs = append(s.convs, c)
	}
	promo := s.supersede([]model.Conversation{c})
	s.sort()
	s.changed()
	s.promote(promo)
	return promo
}

// ReplaceAll applies a full server list. The placeholder survives unless the
// list contains its participant pair.
func (s *Store) ReplaceAll(list []model.Conversation) *Promotion {
	next := make([]model.Conversation, 0, len(list)+1)
	for _, c := range list {
		c = c.Clone()
		c.IsPlaceholder = false
		if c.ID == s.pinned {
			c.UnreadCount = 0
		}
		next = append(next, c)
	}
	if ph, ok := s.Placeholder(); ok {
		next = append(next, ph)
	}
	s.convs = next
	promo := s.supersede(list)
	s.sort()
	s.changed()
	s.promote(promo)
	return promo
}

// MarkRead zeroes the unread count locally and keeps it pinned at zero until
// Unpin. It does not contact the server.
func (s *Store) MarkRead(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.pinned = id
	if s.convs[i].UnreadCount == 0 {
		return true
	}
	s.convs[i].UnreadCount = 0
	s.changed()
	return true
}

// Unpin releases the read pin set by MarkRead.
func (s *Store) Unpin() {
	s.pinned = ""
}

// IncrementUnread bumps the unread count of a non-pinned conversation.
func (s *Store) IncrementUnread(id string) bool {
	i := s.index(id)
	if i < 0 || id == s.pinned || s.convs[i].IsPlaceholder {
		return false
	}
	s.convs[i].UnreadCount++
	s.changed()
	return true
}

// Remove deletes a conversation.
func (s *Store) Remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.removeAt(i)
	if s.pinned == id {
		s.pinned = ""
	}
	s.changed()
	return true
}

// Clear forgets every conversation, including the placeholder.
func (s *Store) Clear() {
	s.convs = nil
	s.pinned = ""
	s.issued++
	s.applied = s.issued
	s.changed()
}

// TotalUnread sums the per-conversation unread counts.
func (s *Store) TotalUnread() int {
	total := 0
	for _, c := range s.convs {
		total += c.UnreadCount
	}
	return total
}

// Refresh fetches the list off-loop and applies it on the loop. A response
// older than one already applied is discarded. done may be nil.
func (s *Store) Refresh(ctx context.Context, done func(*Promotion, error)) {
	s.issued++
	seq := s.issued
	loop.Go(s.loop, ctx, s.lister.ListConversations, func(list []model.Conversation, err error) {
		if err != nil {
			s.logger.Warn("conversation refresh failed", zap.Error(err))
			if done != nil {
				done(nil, err)
			}
			return
		}
		if seq < s.applied {
			s.logger.Debug("discarding stale conversation list", zap.Uint64("seq", seq), zap.Uint64("applied", s.applied))
			if done != nil {
				done(nil, nil)
			}
			return
		}
		s.applied = seq
		promo := s.ReplaceAll(list)
		if done != nil {
			done(promo, nil)
		}
	})
}

// supersede drops the placeholder if any of candidates shares its pair.
func (s *Store) supersede(candidates []model.Conversation) *Promotion {
	i := slices.IndexFunc(s.convs, func(c model.Conversation) bool { return c.IsPlaceholder })
	if i < 0 {
		return nil
	}
	ph := s.convs[i]
	key := ph.PairKey()
	for _, c := range candidates {
		if c.PairKey() == key {
			s.removeAt(i)
			real, _ := s.Get(c.ID)
			return &Promotion{PlaceholderID: ph.ID, Conversation: real}
		}
	}
	return nil
}

func (s *Store) promote(p *Promotion) {
	if p == nil {
		return
	}
	s.logger.Info("placeholder promoted",
		zap.String("placeholder_id", p.PlaceholderID),
		zap.String("conversation_id", p.Conversation.ID))
	if s.onPromote != nil {
		s.onPromote(*p)
	}
	s.bus.Emit(bus.ConversationsPromoted, *p)
}

// sort orders the placeholder first, then by last activity, newest first.
func (s *Store) sort() {
	slices.SortStableFunc(s.convs, func(a, b model.Conversation) int {
		if a.IsPlaceholder != b.IsPlaceholder {
			if a.IsPlaceholder {
				return -1
			}
			return 1
		}
		return b.LastActivity().Compare(a.LastActivity())
	})
}

func (s *Store) index(id string) int {
	return slices.IndexFunc(s.convs, func(c model.Conversation) bool { return c.ID == id })
}

func (s *Store) removeAt(i int) {
	if i >= 0 {
		s.convs = slices.Delete(s.convs, i, i+1)
	}
}

func (s *Store) changed() {
	s.bus.Emit(bus.ConversationsChanged, nil)
}
