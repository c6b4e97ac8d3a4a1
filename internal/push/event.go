package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/dmsync/internal/model"
	"github.com/tidwall/gjson"
)

// Wire event names.
const (
	EventAnnouncePresence    = "announcePresence"
	EventNewPrivateMessage   = "newPrivateMessage"
	EventConversationDeleted = "conversationDeleted"
)

// ErrUnknownEvent is returned by Decode for event names outside the closed set.
var ErrUnknownEvent = errors.New("unknown push event")

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Presence is the data of an announcePresence frame.
type Presence struct {
	UserID string `json:"userId"`
}

// Event is a server push. The set of implementations is closed.
type Event interface {
	pushEvent()
}

// NewPrivateMessage announces a message created in one of the user's
// conversations, including messages the user sent.
type NewPrivateMessage struct {
	Message model.Message
}

// ConversationDeleted announces that a conversation no longer exists.
type ConversationDeleted struct {
	ConversationID string
}

// Connected is published each time the channel (re)connects.
type Connected struct {
	Reconnect bool
}

// Disconnected is published when an established connection drops.
type Disconnected struct {
	Err error
}

func (NewPrivateMessage) pushEvent()   {}
func (ConversationDeleted) pushEvent() {}

// Decode parses a server frame.
func Decode(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("push frame is not valid JSON")
	}
	name := gjson.GetBytes(data, "event").String()
	payload := gjson.GetBytes(data, "data")
	switch name {
	case EventNewPrivateMessage:
		if !payload.IsObject() {
			return nil, fmt.Errorf("%s: missing data", name)
		}
		var msg model.Message
		if err := json.Unmarshal([]byte(payload.Raw), &msg); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if msg.ID == "" || msg.ConversationID == "" {
			return nil, fmt.Errorf("%s: message without id or conversation", name)
		}
		msg.State = model.Sent
		return NewPrivateMessage{Message: msg}, nil
	case EventConversationDeleted:
		id := payload.Get("conversationId").String()
		if id == "" {
			return nil, fmt.Errorf("%s: missing conversationId", name)
		}
		return ConversationDeleted{ConversationID: id}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

// Encode builds a frame for the wire.
func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}
