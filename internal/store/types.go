package store

// User is a registered chat user.
type User struct {
	ID   string
	Name string
}

// Message is a stored direct message. CreatedAt is unix milliseconds.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       string
	SenderName     string
	Content        string
	ReplyTo        int64
	CreatedAt      int64
}

// Conversation is a two-party conversation as seen by one of its
// participants.
type Conversation struct {
	ID           int64
	Participants [2]User
	LastMessage  *Message
	UnreadCount  int
	CreatedAt    int64
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) User {
	if c.Participants[0].ID == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// orderedPair returns a and b in the order the conversations table stores
// them.
func orderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
