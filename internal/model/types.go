package model

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	tempIDPrefix        = "tmp-"
	placeholderIDPrefix = "draft-"
)

// UserRef identifies a user taking part in a conversation.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// DisplayName returns the name, falling back to the id.
func (u UserRef) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// MessageSummary is the last-message preview carried by a conversation.
type MessageSummary struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is a direct conversation between two users.
type Conversation struct {
	ID            string          `json:"id"`
	Participants  []UserRef       `json:"participants"`
	LastMessage   *MessageSummary `json:"lastMessage"`
	UnreadCount   int             `json:"unreadCount"`
	IsPlaceholder bool            `json:"-"`
}

// Other returns the single participant that is not selfID.
func (c Conversation) Other(selfID string) (UserRef, bool) {
	var found UserRef
	n := 0
	for _, p := range c.Participants {
		if p.ID != selfID {
			found = p
			n++
		}
	}
	if n != 1 || found.ID == "" {
		return UserRef{}, false
	}
	return found, true
}

// HasParticipant reports whether userID takes part in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// PairKey is a stable key for the participant set, independent of order.
func (c Conversation) PairKey() string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	slices.Sort(ids)
	return strings.Join(ids, "\x00")
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	c.Participants = slices.Clone(c.Participants)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		c.LastMessage = &lm
	}
	return c
}

// LastActivity returns the time of the last message, or the zero time.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.CreatedAt
}

// DeliveryState is the local delivery state of a message.
type DeliveryState string

const (
	Pending DeliveryState = "pending"
	Sent    DeliveryState = "sent"
	Failed  DeliveryState = "failed"
)

// Message is a single direct message.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	Sender         UserRef       `json:"sender"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"createdAt"`
	ReplyTo        string        `json:"replyTo,omitempty"`
	State          DeliveryState `json:"-"`
}

// Tentative reports whether the message has not been acknowledged by the server.
func (m Message) Tentative() bool {
	return m.State == Pending || m.State == Failed
}

// Summary returns the preview form of the message.
func (m Message) Summary() *MessageSummary {
	return &MessageSummary{
		ID:        m.ID,
		SenderID:  m.Sender.ID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// NewTempID mints a temporary message id. Server ids are decimal integers,
// so the prefix keeps the two spaces disjoint.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was minted by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// NewPlaceholderID mints a local conversation id.
func NewPlaceholderID() string {
	return placeholderIDPrefix + uuid.NewString()
}

// IsPlaceholderID reports whether id was minted by NewPlaceholderID.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, placeholderIDPrefix)
}
