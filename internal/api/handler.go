// Package api serves the development chat server: a JSON REST API and the
// push websocket, both scoped to the user named by the X-User-Id header.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/metrics"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/remote"
	"github.com/matheus3301/dmsync/internal/store"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// MessageCreated is published on the bus after a message is stored.
type MessageCreated struct {
	Message    model.Message
	Recipients []string
}

// ConversationDeleted is published on the bus after a conversation is removed.
type ConversationDeleted struct {
	ConversationID string
	Recipients     []string
}

type ctxKey struct{}

// UserFrom returns the authenticated user of a request.
func UserFrom(ctx context.Context) (store.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(store.User)
	return u, ok
}

// Handler serves the REST routes.
type Handler struct {
	db      *store.DB
	bus     *bus.Bus
	hub     *Hub
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandler creates a handler backed by db. Store changes are published on b.
// m may be nil.
func NewHandler(db *store.DB, b *bus.Bus, hub *Hub, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{db: db, bus: b, hub: hub, metrics: m, logger: logger}
}

// Routes returns the server's router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", h.metrics.Handler())
	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)
		r.Get("/ws", h.hub.ServeHTTP)
		r.Route("/api", func(r chi.Router) {
			r.Get("/users", h.listUsers)
			r.Get("/unread", h.unreadCount)
			r.Post("/messages", h.sendMessage)
			r.Get("/conversations", h.listConversations)
			r.Get("/conversations/{id}/messages", h.listMessages)
			r.Delete("/conversations/{id}", h.deleteConversation)
		})
	})
	return r
}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(remote.UserHeader))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+remote.UserHeader+" header")
			return
		}
		u, err := h.db.GetUser(id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		if err != nil {
			h.internal(w, "load user", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, *u)))
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		took := time.Since(start)
		var route string
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		h.metrics.ObserveRequest(r.Method, route, ww.Status(), took)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", took),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, _ *http.Request) {
	users, err := h.db.ListUsers()
	if err != nil {
		h.internal(w, "list users", err)
		return
	}
	out := make([]model.UserRef, 0, len(users))
	for _, u := range users {
		out = append(out, userToModel(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	n, err := h.db.UnreadCount(u.ID)
	if err != nil {
		h.internal(w, "unread count", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	convs, err := h.db.ListConversations(u.ID)
	if err != nil {
		h.internal(w, "list conversations", err)
		return
	}
	out := make([]model.Conversation, 0, len(convs))
	for i := range convs {
		out = append(out, conversationToModel(&convs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// listMessages returns the history and marks the conversation read for the
// caller.
func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	msgs, err := h.db.ListMessages(id, u.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.internal(w, "list messages", err)
		return
	}
	if err := h.db.MarkRead(id, u.ID); err != nil {
		h.internal(w, "mark read", err)
		return
	}
	out := make([]model.Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, messageToModel(&msgs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	var req remote.SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.RecipientID = strings.TrimSpace(req.RecipientID)
	if req.RecipientID == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "recipientId and content are required")
		return
	}
	if req.RecipientID == u.ID {
		writeError(w, http.StatusBadRequest, "cannot message yourself")
		return
	}
	var replyTo int64
	if req.ReplyTo != "" {
		var ok bool
		if replyTo, ok = parseID(req.ReplyTo); !ok {
			writeError(w, http.StatusBadRequest, "invalid replyTo")
			return
		}
	}

	res, err := h.db.SendMessage(u.ID, req.RecipientID, req.Content, replyTo)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.internal(w, "send message", err)
		return
	}
	msg := messageToModel(&res.Message)
	h.metrics.MessageSent(res.Created)
	if res.Created {
		h.logger.Info("conversation created",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("from", u.ID),
			zap.String("to", req.RecipientID))
	}
	h.bus.Emit(bus.ServerMessageCreated, MessageCreated{
		Message:    msg,
		Recipients: []string{u.ID, req.RecipientID},
	})
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	u, _ := UserFrom(r.Context())
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	c, err := h.db.DeleteConversation(id, u.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.internal(w, "delete conversation", err)
		return
	}
	h.metrics.ConversationDeleted()
	h.bus.Emit(bus.ServerConversationDeleted, ConversationDeleted{
		ConversationID: formatID(c.ID),
		Recipients:     []string{c.Participants[0].ID, c.Participants[1].ID},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) internal(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
