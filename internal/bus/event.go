package bus

import "time"

// Event kinds published by the sync core. Subscribers filter by namespace
// prefix, e.g. "messages." or "push.".
const (
	ConversationsChanged  = "conversations.changed"
	ConversationsPromoted = "conversations.promoted"
	MessagesChanged       = "messages.changed"
	UnreadChanged         = "unread.changed"
	OutboxPending         = "outbox.pending"
	OutboxSent            = "outbox.sent"
	OutboxFailed          = "outbox.failed"
	NoticePosted          = "notice.posted"
	IdentityLoggedOut     = "identity.logged_out"

	PushConnected           = "push.connected"
	PushDisconnected        = "push.disconnected"
	PushNewPrivateMessage   = "push.new_private_message"
	PushConversationDeleted = "push.conversation_deleted"
	PushStatusChanged       = "push.status_changed"

	// Server-side kinds used by the development server.
	ServerMessageCreated      = "server.message_created"
	ServerConversationDeleted = "server.conversation_deleted"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
