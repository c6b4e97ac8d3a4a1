package api

import (
	"strconv"
	"time"

	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/store"
)

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil && id > 0
}

func userToModel(u store.User) model.UserRef {
	return model.UserRef{ID: u.ID, Name: u.Name}
}

func messageToModel(m *store.Message) model.Message {
	out := model.Message{
		ID:             formatID(m.ID),
		ConversationID: formatID(m.ConversationID),
		Sender:         model.UserRef{ID: m.SenderID, Name: m.SenderName},
		Content:        m.Content,
		CreatedAt:      time.UnixMilli(m.CreatedAt).UTC(),
	}
	if m.ReplyTo != 0 {
		out.ReplyTo = formatID(m.ReplyTo)
	}
	return out
}

func conversationToModel(c *store.Conversation) model.Conversation {
	out := model.Conversation{
		ID: formatID(c.ID),
		Participants: []model.UserRef{
			userToModel(c.Participants[0]),
			userToModel(c.Participants[1]),
		},
		UnreadCount: c.UnreadCount,
	}
	if c.LastMessage != nil {
		out.LastMessage = messageToModel(c.LastMessage).Summary()
	}
	return out
}
