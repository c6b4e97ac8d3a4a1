package thread

import (
	"context"
	"errors"
	"sync"
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
	base  = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

type reply struct {
	msgs []model.Message
	err  error
}

// gatedFetcher blocks every GetMessages call until the test answers it.
type gatedFetcher struct {
	mu    sync.Mutex
	gates map[string][]chan reply
	calls chan string
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{gates: make(map[string][]chan reply), calls: make(chan string, 16)}
}

func (f *gatedFetcher) GetMessages(ctx context.Context, id string) ([]model.Message, error) {
	gate := make(chan reply, 1)
	f.mu.Lock()
	f.gates[id] = append(f.gates[id], gate)
	f.mu.Unlock()
	f.calls <- id
	select {
	case r := <-gate:
		return r.msgs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *gatedFetcher) answer(t *testing.T, id string, r reply) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		f.mu.Lock()
		if q := f.gates[id]; len(q) > 0 {
			f.gates[id] = q[1:]
			f.mu.Unlock()
			q[0] <- r
			return
		}
		f.mu.Unlock()
		select {
		case <-f.calls:
		case <-deadline:
			t.Fatalf("no pending GetMessages(%s)", id)
		}
	}
}

type harness struct {
	s       *Store
	l       *loop.Loop
	fetcher *gatedFetcher
	t       *testing.T
}

func setup(t *testing.T) *harness {
	t.Helper()
	l := loop.New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	f := newGatedFetcher()
	return &harness{s: New(f, l, bus.New(), zaptest.NewLogger(t)), l: l, fetcher: f, t: t}
}

func (h *harness) do(fn func(s *Store)) {
	h.t.Helper()
	if err := h.l.Call(context.Background(), func() { fn(h.s) }); err != nil {
		h.t.Fatalf("Call: %v", err)
	}
}

func (h *harness) idle() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.l.WaitIdle(ctx); err != nil {
		h.t.Fatalf("WaitIdle: %v", err)
	}
}

func (h *harness) ids() []string {
	var out []string
	h.do(func(s *Store) {
		for _, m := range s.Messages() {
			out = append(out, m.ID)
		}
	})
	return out
}

func sent(id, conv string, minute int, from model.UserRef) model.Message {
	return model.Message{ID: id, ConversationID: conv, Sender: from, Content: "m" + id, CreatedAt: base.Add(time.Duration(minute) * time.Minute), State: model.Sent}
}

func pending(id, conv, content string) model.Message {
	return model.Message{ID: id, ConversationID: conv, Sender: alice, Content: content, CreatedAt: base.Add(time.Hour), State: model.Pending}
}

func assertIDs(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

func TestStaleLoadDiscarded(t *testing.T) {
	h := setup(t)
	var appliedA, appliedB bool
	h.do(func(s *Store) {
		s.Select("A")
		s.Load(context.Background(), "A", func(ok bool, _ error) { appliedA = ok })
		s.Select("B")
		s.Load(context.Background(), "B", func(ok bool, _ error) { appliedB = ok })
	})
	h.fetcher.answer(t, "B", reply{msgs: []model.Message{sent("20", "B", 1, bob)}})
	h.fetcher.answer(t, "A", reply{msgs: []model.Message{sent("10", "A", 1, bob)}})
	h.idle()

	if appliedA || !appliedB {
		t.Errorf("applied A=%v B=%v, want false true", appliedA, appliedB)
	}
	assertIDs(t, h.ids(), "20")
}

func TestLoadErrorKeepsLog(t *testing.T) {
	h := setup(t)
	var gotErr error
	h.do(func(s *Store) {
		s.Select("A")
		s.Append(sent("1", "A", 1, bob))
		s.Load(context.Background(), "A", func(_ bool, err error) { gotErr = err })
	})
	h.fetcher.answer(t, "A", reply{err: errors.New("offline")})
	h.idle()
	if gotErr == nil {
		t.Error("expected load error")
	}
	assertIDs(t, h.ids(), "1")
}

func TestLoadKeepsTentativeTailAndNewerSent(t *testing.T) {
	h := setup(t)
	h.do(func(s *Store) {
		s.Select("A")
		s.Append(sent("1", "A", 1, bob))
		s.Append(sent("5", "A", 9, bob))
		s.Append(pending("tmp-x", "A", "hi"))
		s.Load(context.Background(), "A", nil)
	})
	h.fetcher.answer(t, "A", reply{msgs: []model.Message{sent("2", "A", 2, bob), sent("1", "A", 1, bob)}})
	h.idle()
	assertIDs(t, h.ids(), "1", "2", "5", "tmp-x")
}

func TestLoadHoldsBackCopyOfPendingSend(t *testing.T) {
	h := setup(t)
	mine := pending("tmp-a", "A", "mine")
	h.do(func(s *Store) {
		s.Select("A")
		s.Append(sent("1", "A", 1, bob))
		s.Append(mine)
		s.Load(context.Background(), "A", nil)
	})
	stored := model.Message{ID: "2", ConversationID: "A", Sender: alice, Content: "mine", CreatedAt: mine.CreatedAt.Add(time.Second)}
	theirs := model.Message{ID: "3", ConversationID: "A", Sender: bob, Content: "theirs", CreatedAt: mine.CreatedAt.Add(2 * time.Second)}
	h.fetcher.answer(t, "A", reply{msgs: []model.Message{sent("1", "A", 1, bob), stored, theirs}})
	h.idle()
	assertIDs(t, h.ids(), "1", "3", "tmp-a")

	h.do(func(s *Store) { s.Reconcile("tmp-a", stored) })
	assertIDs(t, h.ids(), "1", "3", "2")
}

func TestLoadKeepsEarlierMessageWithSameContent(t *testing.T) {
	h := setup(t)
	earlier := model.Message{ID: "1", ConversationID: "A", Sender: alice, Content: "ok", CreatedAt: base, State: model.Sent}
	h.do(func(s *Store) {
		s.Select("A")
		s.Append(earlier)
		s.Append(pending("tmp-a", "A", "ok"))
		s.Load(context.Background(), "A", nil)
	})
	// The new send has not reached the server yet.
	h.fetcher.answer(t, "A", reply{msgs: []model.Message{earlier}})
	h.idle()
	assertIDs(t, h.ids(), "1", "tmp-a")
}

func TestLoadDoesNotHoldBackForFailedSend(t *testing.T) {
	h := setup(t)
	failed := pending("tmp-a", "A", "mine")
	failed.State = model.Failed
	h.do(func(s *Store) {
		s.Select("A")
		s.Append(failed)
		s.Load(context.Background(), "A", nil)
	})
	stored := model.Message{ID: "2", ConversationID: "A", Sender: alice, Content: "mine", CreatedAt: failed.CreatedAt}
	h.fetcher.answer(t, "A", reply{msgs: []model.Message{stored}})
	h.idle()
	assertIDs(t, h.ids(), "2", "tmp-a")
}

func TestAppend(t *testing.T) {
	h := setup(t)
	h.do(func(s *Store) {
		s.Select("A")
		if !s.Append(sent("1", "A", 1, bob)) {
			t.Error("first append should apply")
		}
		if s.Append(sent("1", "A", 1, bob)) {
			t.Error("duplicate append should be ignored")
		}
		s.Append(pending("tmp-a", "A", "x"))
		s.Append(sent("3", "A", 3, bob))
		s.Append(sent("2", "A", 2, bob))
		if s.Append(sent("9", "B", 1, bob)) {
			t.Error("message for another conversation should not apply")
		}
	})
	assertIDs(t, h.ids(), "1", "2", "3", "tmp-a")
}

func TestReconcileInPlace(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *Store)
		want  []string
	}{
		{
			name: "replace",
			setup: func(s *Store) {
				s.Append(pending("tmp-a", "A", "one"))
				s.Append(pending("tmp-b", "A", "two"))
				s.Reconcile("tmp-b", sent("8", "A", 70, alice))
			},
			want: []string{"tmp-a", "8"},
		},
		{
			name: "already delivered by push",
			setup: func(s *Store) {
				s.Append(sent("8", "A", 70, alice))
				s.Append(pending("tmp-a", "A", "one"))
				s.Reconcile("tmp-a", sent("8", "A", 70, alice))
			},
			want: []string{"8"},
		},
		{
			name: "temp entry gone",
			setup: func(s *Store) {
				s.Reconcile("tmp-zzz", sent("8", "A", 70, alice))
			},
			want: []string{"8"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setup(t)
			h.do(func(s *Store) {
				s.Select("A")
				tt.setup(s)
			})
			assertIDs(t, h.ids(), tt.want...)
		})
	}
}

func TestParkAndRestore(t *testing.T) {
	h := setup(t)
	h.do(func(s *Store) {
		s.Select("A")
		s.Append(sent("1", "A", 1, bob))
		s.Append(pending("tmp-a", "A", "later"))
		s.Select("B")
		if len(s.Messages()) != 0 {
			t.Errorf("B log = %v, want empty", s.Messages())
		}
		if _, ok := s.Find("tmp-a"); !ok {
			t.Error("parked entry should be findable")
		}
		s.Select("A")
	})
	assertIDs(t, h.ids(), "tmp-a")
}

func TestReconcileParked(t *testing.T) {
	h := setup(t)
	h.do(func(s *Store) {
		s.Select("A")
		s.Append(pending("tmp-a", "A", "x"))
		s.Select("B")
		s.Reconcile("tmp-a", sent("8", "A", 70, alice))
		if _, ok := s.Find("tmp-a"); ok {
			t.Error("parked temp entry should be gone after reconcile")
		}
		if len(s.Messages()) != 0 {
			t.Error("B log should stay empty")
		}
	})
}

func TestMarkFailedAndRemove(t *testing.T) {
	h := setup(t)
	h.do(func(s *Store) {
		s.Select("A")
		s.Append(pending("tmp-a", "A", "x"))
		if !s.MarkFailed("tmp-a") {
			t.Error("MarkFailed should find entry")
			return
		}
		m, _ := s.Find("tmp-a")
		if m.State != model.Failed {
			t.Errorf("state = %s, want failed", m.State)
		}
		if !s.Remove("tmp-a") || s.Remove("tmp-a") {
			t.Error("Remove should succeed exactly once")
		}
	})
}

func TestPromote(t *testing.T) {
	h := setup(t)
	h.do(func(s *Store) {
		s.Select("draft-1")
		s.Append(pending("tmp-a", "draft-1", "hello"))
		s.Promote("draft-1", "42")
		if s.Selected() != "42" {
			t.Errorf("Selected() = %s, want 42", s.Selected())
		}
		msgs := s.Messages()
		if len(msgs) != 1 || msgs[0].ConversationID != "42" || msgs[0].Content != "hello" {
			t.Errorf("messages after promote = %+v", msgs)
		}
	})
}

func TestPromoteParked(t *testing.T) {
	h := setup(t)
	h.do(func(s *Store) {
		s.Select("draft-1")
		s.Append(pending("tmp-a", "draft-1", "hello"))
		s.Select("B")
		s.Promote("draft-1", "42")
		if s.Selected() != "B" {
			t.Errorf("selection should not move, got %s", s.Selected())
		}
		s.Select("42")
		msgs := s.Messages()
		if len(msgs) != 1 || msgs[0].ID != "tmp-a" || msgs[0].ConversationID != "42" {
			t.Errorf("messages = %+v", msgs)
		}
	})
}

func TestDropAndClear(t *testing.T) {
	h := setup(t)
	h.do(func(s *Store) {
		s.Select("A")
		s.Append(sent("1", "A", 1, bob))
		s.Drop("A")
		if s.Selected() != "" || len(s.Messages()) != 0 {
			t.Error("Drop should close the open conversation")
		}
		s.Select("B")
		s.Append(pending("tmp-b", "B", "x"))
		s.Select("C")
		s.Clear()
		if _, ok := s.Find("tmp-b"); ok {
			t.Error("Clear should forget parked entries")
		}
	})
}
