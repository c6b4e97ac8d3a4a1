package notice

import (
	"sync"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
)

// DefaultTTL is how long a notice stays visible unless told otherwise.
const DefaultTTL = 5 * time.Second

// Board holds the single non-fatal notice shown to the user as a banner.
type Board struct {
	mu      sync.RWMutex
	message string
	expires time.Time
	bus     *bus.Bus
	now     func() time.Time
}

// NewBoard creates an empty board.
func NewBoard(b *bus.Bus) *Board {
	return &Board{bus: b, now: time.Now}
}

// Set stores a notice that expires after d.
func (f *Board) Set(msg string, d time.Duration) {
	f.mu.Lock()
	f.message = msg
	f.expires = f.now().Add(d)
	f.mu.Unlock()
	f.bus.Emit(bus.NoticePosted, msg)
}

// Post stores msg with the default lifetime.
func (f *Board) Post(msg string) {
	f.Set(msg, DefaultTTL)
}

// Get returns the current notice, or empty if expired.
func (f *Board) Get() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.now().After(f.expires) {
		return ""
	}
	return f.message
}
