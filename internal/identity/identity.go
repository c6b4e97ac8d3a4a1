package identity

import (
	"sync"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/model"
)

// Provider supplies the current local user.
type Provider interface {
	Current() (model.UserRef, bool)
}

// Session is a Provider backed by an explicit login/logout pair. Identity
// management proper lives outside the sync core; this is the seam it plugs into.
type Session struct {
	mu   sync.RWMutex
	user *model.UserRef
	bus  *bus.Bus
}

// NewSession creates a logged-out session.
func NewSession(b *bus.Bus) *Session {
	return &Session{bus: b}
}

// Login sets the current user.
func (s *Session) Login(u model.UserRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &u
}

// Logout clears the current user and announces it on the bus.
func (s *Session) Logout() {
	s.mu.Lock()
	prev := s.user
	s.user = nil
	s.mu.Unlock()
	if prev != nil {
		s.bus.Emit(bus.IdentityLoggedOut, *prev)
	}
}

// Current returns the logged-in user.
func (s *Session) Current() (model.UserRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return model.UserRef{}, false
	}
	return *s.user, true
}
