package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/metrics"
	"github.com/matheus3301/dmsync/internal/push"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	announceTimeout = 10 * time.Second
	writeTimeout    = 10 * time.Second
	sendBuffer      = 64
)

// Hub tracks the push sockets of connected users and fans server events out
// to them. A user may hold several sockets.
type Hub struct {
	mu      sync.Mutex
	conns   map[string]map[*peer]struct{}
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	stopped chan struct{}
	once    sync.Once
}

type peer struct {
	userID string
	send   chan []byte
}

// NewHub creates a hub that relays events published on b. m may be nil.
func NewHub(b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		conns:   make(map[string]map[*peer]struct{}),
		bus:     b,
		metrics: m,
		logger:  logger,
		stopped: make(chan struct{}),
	}
}

// Run relays server events until ctx is cancelled. Open sockets are closed
// when it returns.
func (h *Hub) Run(ctx context.Context) {
	ch, unsub := h.bus.Subscribe("server.", 256)
	defer unsub()
	defer h.once.Do(func() { close(h.stopped) })
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			switch p := evt.Payload.(type) {
			case MessageCreated:
				h.broadcast(p.Recipients, push.EventNewPrivateMessage, p.Message)
			case ConversationDeleted:
				h.broadcast(p.Recipients, push.EventConversationDeleted,
					map[string]string{"conversationId": p.ConversationID})
			}
		}
	}
}

// Online returns the number of sockets registered for userID.
func (h *Hub) Online(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

// ServeHTTP upgrades the request and registers the socket once the client
// announces itself. The announced user must match the authenticated one.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	if err := h.awaitAnnounce(ctx, conn, user.ID); err != nil {
		h.logger.Warn("push handshake failed", zap.String("user_id", user.ID), zap.Error(err))
		h.metrics.HandshakeRejected()
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	p := &peer{userID: user.ID, send: make(chan []byte, sendBuffer)}
	h.register(p)
	defer h.unregister(p)
	h.logger.Info("push client connected", zap.String("user_id", user.ID))

	ctx = conn.CloseRead(ctx)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("push client disconnected", zap.String("user_id", user.ID))
			return
		case <-h.stopped:
			conn.Close(websocket.StatusGoingAway, "server stopping")
			return
		case data := <-p.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Warn("push write failed", zap.String("user_id", user.ID), zap.Error(err))
				return
			}
		}
	}
}

func (h *Hub) awaitAnnounce(ctx context.Context, conn *websocket.Conn, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, announceTimeout)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	if gjson.GetBytes(data, "event").String() != push.EventAnnouncePresence {
		return errors.New("expected " + push.EventAnnouncePresence)
	}
	if gjson.GetBytes(data, "data.userId").String() != userID {
		return errors.New("announced user does not match")
	}
	return nil
}

func (h *Hub) broadcast(userIDs []string, event string, data any) {
	frame, err := push.Encode(event, data)
	if err != nil {
		h.logger.Error("encode push frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		for p := range h.conns[id] {
			select {
			case p.send <- frame:
			default:
				h.metrics.FrameDropped()
				h.logger.Warn("push peer full, dropping frame", zap.String("user_id", id), zap.String("event", event))
			}
		}
	}
}

func (h *Hub) register(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[p.userID]
	if set == nil {
		set = make(map[*peer]struct{})
		h.conns[p.userID] = set
	}
	set[p] = struct{}{}
	h.metrics.SocketOpened()
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[p.userID], p)
	h.metrics.SocketClosed()
	if len(h.conns[p.userID]) == 0 {
		delete(h.conns, p.userID)
	}
}

