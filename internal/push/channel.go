// Package push keeps the server push channel open for the logged-in user and
// republishes its events on the bus.
package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/identity"
	"github.com/matheus3301/dmsync/internal/remote"
	"github.com/matheus3301/dmsync/internal/status"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	readLimit              = 1 << 20
	writeTimeout           = 10 * time.Second
	defaultReconnectPeriod = 2 * time.Second
)

// ErrNotLoggedIn is returned by Run when there is no identity to connect as.
var ErrNotLoggedIn = errors.New("push: not logged in")

// wsConn abstracts the websocket so the channel can be tested against fakes.
// *websocket.Conn satisfies it.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

type dialFunc func(ctx context.Context, url, userID string) (wsConn, error)

// Config holds channel configuration.
type Config struct {
	// URL is the server base URL; the socket lives at URL + "/ws".
	URL string
	// ReconnectPeriod is the minimum spacing between connection attempts.
	ReconnectPeriod time.Duration
}

// Channel is the client side of the push websocket.
type Channel struct {
	url      string
	identity identity.Provider
	bus      *bus.Bus
	logger   *zap.Logger
	status   *status.Machine
	limiter  *rate.Limiter
	dial     dialFunc

	mu      sync.Mutex
	running bool
}

// New creates a channel. It does not connect until Run.
func New(cfg Config, id identity.Provider, b *bus.Bus, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	period := cfg.ReconnectPeriod
	if period <= 0 {
		period = defaultReconnectPeriod
	}
	return &Channel{
		url:      SocketURL(cfg.URL),
		identity: id,
		bus:      b,
		logger:   logger,
		status:   status.NewMachine(b),
		limiter:  rate.NewLimiter(rate.Every(period), 1),
		dial:     dialWebsocket,
	}
}

// SocketURL derives the websocket endpoint from the server base URL.
func SocketURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

// Status returns the connection state.
func (c *Channel) Status() status.State {
	return c.status.Current()
}

// Run connects and keeps the channel connected until ctx is cancelled or the
// user logs out. Dropped connections are retried, throttled by the
// reconnect limiter.
func (c *Channel) Run(ctx context.Context) error {
	user, ok := c.identity.Current()
	if !ok {
		return ErrNotLoggedIn
	}
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("push: already running")
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logouts, unsub := c.bus.Subscribe(bus.IdentityLoggedOut, 1)
	defer unsub()
	go func() {
		select {
		case <-logouts:
			c.logger.Info("identity logged out, closing push channel")
			cancel()
		case <-ctx.Done():
		}
	}()

	if c.status.Current() == status.Closed {
		c.to(status.Disconnected)
	}
	defer c.to(status.Closed)

	connected := false
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}
		c.to(status.Connecting)
		conn, err := c.connect(ctx, user.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("push connect failed", zap.String("url", c.url), zap.Error(err))
			c.to(status.Reconnecting)
			continue
		}

		c.to(status.Connected)
		c.logger.Info("push connected", zap.String("user_id", user.ID), zap.Bool("reconnect", connected))
		c.bus.Emit(bus.PushConnected, Connected{Reconnect: connected})
		connected = true

		err = c.readLoop(ctx, conn)
		conn.Close(websocket.StatusNormalClosure, "bye")
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("push connection lost", zap.Error(err))
		c.bus.Emit(bus.PushDisconnected, Disconnected{Err: err})
		c.to(status.Reconnecting)
	}
}

func (c *Channel) connect(ctx context.Context, userID string) (wsConn, error) {
	conn, err := c.dial(ctx, c.url, userID)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	frame, err := Encode(EventAnnouncePresence, Presence{UserID: userID})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode failed")
		return nil, err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, frame); err != nil {
		conn.Close(websocket.StatusInternalError, "announce failed")
		return nil, fmt.Errorf("announce presence: %w", err)
	}
	return conn, nil
}

func (c *Channel) readLoop(ctx context.Context, conn wsConn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.logger.Debug("ignoring binary push frame", zap.Int("len", len(data)))
			continue
		}
		evt, err := Decode(data)
		if err != nil {
			c.logger.Warn("ignoring push frame", zap.Error(err))
			continue
		}
		c.publish(evt)
	}
}

func (c *Channel) publish(evt Event) {
	switch e := evt.(type) {
	case NewPrivateMessage:
		c.bus.Emit(bus.PushNewPrivateMessage, e)
	case ConversationDeleted:
		c.bus.Emit(bus.PushConversationDeleted, e)
	}
}

func (c *Channel) to(s status.State) {
	if c.status.Current() == s {
		return
	}
	if err := c.status.Transition(s); err != nil {
		c.logger.Debug("push status", zap.Error(err))
	}
}

func dialWebsocket(ctx context.Context, url, userID string) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: http.Header{remote.UserHeader: []string{userID}},
	})
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}
	return conn, nil
}
