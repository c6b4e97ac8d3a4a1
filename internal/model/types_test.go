package model

import (
	"testing"
	"time"
)

func TestConversationOther(t *testing.T) {
	tests := []struct {
		name   string
		parts  []UserRef
		self   string
		wantID string
		wantOK bool
	}{
		{"two party", []UserRef{{ID: "a"}, {ID: "b"}}, "a", "b", true},
		{"self second", []UserRef{{ID: "b"}, {ID: "a"}}, "a", "b", true},
		{"only self", []UserRef{{ID: "a"}}, "a", "", false},
		{"no participants", nil, "a", "", false},
		{"group", []UserRef{{ID: "a"}, {ID: "b"}, {ID: "c"}}, "a", "", false},
		{"empty other id", []UserRef{{ID: "a"}, {ID: ""}}, "a", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Conversation{Participants: tt.parts}
			got, ok := c.Other(tt.self)
			if ok != tt.wantOK || got.ID != tt.wantID {
				t.Errorf("Other(%q) = %q, %v; want %q, %v", tt.self, got.ID, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestPairKeyIgnoresOrder(t *testing.T) {
	a := Conversation{Participants: []UserRef{{ID: "alice"}, {ID: "bob"}}}
	b := Conversation{Participants: []UserRef{{ID: "bob", Name: "Bob"}, {ID: "alice"}}}
	if a.PairKey() != b.PairKey() {
		t.Errorf("PairKey differs: %q vs %q", a.PairKey(), b.PairKey())
	}
	c := Conversation{Participants: []UserRef{{ID: "alice"}, {ID: "carol"}}}
	if a.PairKey() == c.PairKey() {
		t.Error("PairKey should differ for different participants")
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Conversation{
		ID:           "1",
		Participants: []UserRef{{ID: "a"}, {ID: "b"}},
		LastMessage:  &MessageSummary{ID: "m1", Content: "hi"},
	}
	cp := orig.Clone()
	cp.Participants[0].ID = "x"
	cp.LastMessage.Content = "changed"
	if orig.Participants[0].ID != "a" {
		t.Error("participants shared between clone and original")
	}
	if orig.LastMessage.Content != "hi" {
		t.Error("last message shared between clone and original")
	}
}

func TestIDSpaces(t *testing.T) {
	tmp := NewTempID()
	if !IsTempID(tmp) || IsPlaceholderID(tmp) {
		t.Errorf("temp id %q classified wrongly", tmp)
	}
	if NewTempID() == tmp {
		t.Error("temp ids must be unique")
	}
	draft := NewPlaceholderID()
	if !IsPlaceholderID(draft) || IsTempID(draft) {
		t.Errorf("placeholder id %q classified wrongly", draft)
	}
	if IsTempID("42") || IsPlaceholderID("42") {
		t.Error("server ids must not fall in local id spaces")
	}
}

func TestMessageTentative(t *testing.T) {
	for _, s := range []DeliveryState{Pending, Failed} {
		if !(Message{State: s}).Tentative() {
			t.Errorf("%s should be tentative", s)
		}
	}
	if (Message{State: Sent}).Tentative() {
		t.Error("sent should not be tentative")
	}
}

func TestSummary(t *testing.T) {
	now := time.Now()
	m := Message{ID: "7", Sender: UserRef{ID: "a"}, Content: "hello", CreatedAt: now}
	s := m.Summary()
	if s.ID != "7" || s.SenderID != "a" || s.Content != "hello" || !s.CreatedAt.Equal(now) {
		t.Errorf("Summary() = %+v", s)
	}
}
