package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/loop"
	"github.com/matheus3301/dmsync/internal/model"
	"go.uber.org/zap/zaptest"
)

var (
	alice = model.UserRef{ID: "1", Name: "alice"}
	bob   = model.UserRef{ID: "2", Name: "bob"}
	carol = model.UserRef{ID: "3", Name: "carol"}
)

type fakeLister struct {
	calls chan chan result
}

type result struct {
	list []model.Conversation
	err  error
}

func newFakeLister() *fakeLister {
	return &fakeLister{calls: make(chan chan result, 8)}
}

func (f *fakeLister) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	reply := make(chan result, 1)
	f.calls <- reply
	select {
	case r := <-reply:
		return r.list, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeLister) next(t *testing.T) chan result {
	t.Helper()
	select {
	case reply := <-f.calls:
		return reply
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ListConversations")
		return nil
	}
}

func setup(t *testing.T) (*Store, *loop.Loop, *fakeLister, func(func())) {
	t.Helper()
	l := loop.New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	lister := newFakeLister()
	s := New(lister, l, bus.New(), zaptest.NewLogger(t))
	do := func(fn func()) {
		t.Helper()
		if err := l.Call(context.Background(), fn); err != nil {
			t.Fatalf("Call: %v", err)
		}
	}
	return s, l, lister, do
}

func waitIdle(t *testing.T, l *loop.Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func conv(id string, minutesAgo int, unread int, parts ...model.UserRef) model.Conversation {
	c := model.Conversation{ID: id, Participants: parts, UnreadCount: unread}
	if minutesAgo >= 0 {
		c.LastMessage = &model.MessageSummary{ID: id + "-m", CreatedAt: time.Now().Add(-time.Duration(minutesAgo) * time.Minute)}
	}
	return c
}

func ids(list []model.Conversation) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}

func TestListOrder(t *testing.T) {
	s, _, _, do := setup(t)
	do(func() {
		s.ReplaceAll([]model.Conversation{
			conv("10", 30, 0, alice, bob),
			conv("11", -1, 0, alice, carol),
			conv("12", 1, 0, bob, carol),
		})
		s.CreatePlaceholder(alice, model.UserRef{ID: "4"})
	})

	var got []string
	do(func() { got = ids(s.List()) })
	if len(got) != 4 {
		t.Fatalf("List() = %v", got)
	}
	if !model.IsPlaceholderID(got[0]) {
		t.Errorf("placeholder should sort first, got %v", got)
	}
	want := []string{"12", "10", "11"}
	for i, id := range want {
		if got[i+1] != id {
			t.Errorf("List()[%d] = %s, want %s (full %v)", i+1, got[i+1], id, got)
		}
	}
}

func TestCreatePlaceholder(t *testing.T) {
	t.Run("existing conversation", func(t *testing.T) {
		s, _, _, do := setup(t)
		var ok bool
		do(func() {
			s.ReplaceAll([]model.Conversation{conv("10", 1, 0, alice, bob)})
			_, ok = s.CreatePlaceholder(alice, bob)
		})
		if ok {
			t.Error("CreatePlaceholder should refuse when a real conversation exists")
		}
		do(func() {
			if _, has := s.Placeholder(); has {
				t.Error("no placeholder expected")
			}
		})
	})

	t.Run("at most one", func(t *testing.T) {
		s, _, _, do := setup(t)
		do(func() {
			first, _ := s.CreatePlaceholder(alice, bob)
			again, _ := s.CreatePlaceholder(alice, bob)
			if again.ID != first.ID {
				t.Errorf("same target should reuse placeholder, got %s and %s", first.ID, again.ID)
			}
			s.CreatePlaceholder(alice, carol)
			n := 0
			for _, c := range s.List() {
				if c.IsPlaceholder {
					n++
					if !c.HasParticipant(carol.ID) {
						t.Errorf("placeholder targets %v, want carol", c.Participants)
					}
				}
			}
			if n != 1 {
				t.Errorf("placeholders = %d, want 1", n)
			}
		})
	})
}

func TestUpsertSupersedesPlaceholder(t *testing.T) {
	s, _, _, do := setup(t)
	var hooked []Promotion
	s.OnPromote(func(p Promotion) { hooked = append(hooked, p) })

	var ph model.Conversation
	var promo *Promotion
	do(func() {
		ph, _ = s.CreatePlaceholder(alice, bob)
		promo = s.UpsertFromServer(conv("42", 0, 0, bob, alice))
	})
	if promo == nil || promo.PlaceholderID != ph.ID || promo.Conversation.ID != "42" {
		t.Fatalf("promotion = %+v", promo)
	}
	do(func() {
		if _, has := s.Placeholder(); has {
			t.Error("placeholder should be gone")
		}
		if got := ids(s.List()); len(got) != 1 || got[0] != "42" {
			t.Errorf("List() = %v", got)
		}
	})
	if len(hooked) != 1 || hooked[0].Conversation.ID != "42" {
		t.Errorf("hook calls = %+v", hooked)
	}
}

func TestReplaceAllKeepsUnrelatedPlaceholder(t *testing.T) {
	s, _, _, do := setup(t)
	do(func() {
		s.CreatePlaceholder(alice, carol)
		if p := s.ReplaceAll([]model.Conversation{conv("10", 1, 0, alice, bob)}); p != nil {
			t.Errorf("unexpected promotion %+v", p)
		}
		if _, has := s.Placeholder(); !has {
			t.Error("placeholder for carol should survive")
		}
		if p := s.ReplaceAll([]model.Conversation{conv("10", 1, 0, alice, bob), conv("11", 0, 0, alice, carol)}); p == nil {
			t.Error("expected promotion once carol's conversation is listed")
		}
		if _, has := s.Placeholder(); has {
			t.Error("placeholder should be gone")
		}
	})
}

func TestMarkReadPinsAcrossRefresh(t *testing.T) {
	s, _, _, do := setup(t)
	do(func() {
		s.ReplaceAll([]model.Conversation{conv("10", 1, 3, alice, bob), conv("11", 2, 2, alice, carol)})
		s.MarkRead("10")
		if s.TotalUnread() != 2 {
			t.Errorf("TotalUnread() = %d, want 2", s.TotalUnread())
		}
		s.ReplaceAll([]model.Conversation{conv("10", 1, 3, alice, bob), conv("11", 2, 2, alice, carol)})
		if c, _ := s.Get("10"); c.UnreadCount != 0 {
			t.Errorf("pinned conversation unread = %d, want 0", c.UnreadCount)
		}
		if s.IncrementUnread("10") {
			t.Error("IncrementUnread on pinned conversation should be refused")
		}
		s.Unpin()
		s.ReplaceAll([]model.Conversation{conv("10", 1, 3, alice, bob)})
		if c, _ := s.Get("10"); c.UnreadCount != 3 {
			t.Errorf("unpinned unread = %d, want 3", c.UnreadCount)
		}
	})
}

func TestIncrementAndRemove(t *testing.T) {
	s, _, _, do := setup(t)
	do(func() {
		s.ReplaceAll([]model.Conversation{conv("10", 1, 0, alice, bob)})
		s.IncrementUnread("10")
		s.IncrementUnread("10")
		if s.TotalUnread() != 2 {
			t.Errorf("TotalUnread() = %d, want 2", s.TotalUnread())
		}
		if s.IncrementUnread("missing") {
			t.Error("IncrementUnread(missing) should be false")
		}
		if !s.Remove("10") || s.Remove("10") {
			t.Error("Remove should succeed exactly once")
		}
	})
}

func TestRefreshDiscardsStaleResponse(t *testing.T) {
	s, l, lister, do := setup(t)
	do(func() {
		s.Refresh(context.Background(), nil)
		s.Refresh(context.Background(), nil)
	})
	first := lister.next(t)
	second := lister.next(t)

	second <- result{list: []model.Conversation{conv("new", 0, 0, alice, bob)}}
	waitIdleAfter(t, l, 1)
	first <- result{list: []model.Conversation{conv("old", 0, 0, alice, bob)}}
	waitIdle(t, l)

	do(func() {
		if got := ids(s.List()); len(got) != 1 || got[0] != "new" {
			t.Errorf("List() = %v, want [new]", got)
		}
	})
}

func TestRefreshFailureKeepsState(t *testing.T) {
	s, l, lister, do := setup(t)
	var gotErr error
	do(func() {
		s.ReplaceAll([]model.Conversation{conv("10", 1, 0, alice, bob)})
		s.Refresh(context.Background(), func(_ *Promotion, err error) { gotErr = err })
	})
	lister.next(t) <- result{err: errors.New("boom")}
	waitIdle(t, l)
	do(func() {
		if gotErr == nil {
			t.Error("done should receive the error")
		}
		if got := ids(s.List()); len(got) != 1 || got[0] != "10" {
			t.Errorf("List() = %v, want last known good", got)
		}
	})
}

// waitIdleAfter waits until at most n asynchronous operations remain.
func waitIdleAfter(t *testing.T, l *loop.Loop, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for l.Inflight() > n {
		if time.Now().After(deadline) {
			t.Fatalf("inflight = %d, want <= %d", l.Inflight(), n)
		}
		time.Sleep(time.Millisecond)
	}
}
