package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// conversationSelect reads a conversation with its last message and the
// viewer's unread count. The viewer id is bound twice.
const conversationSelect = `
	SELECT c.id, c.created_at,
		c.user_a, ua.name, c.user_b, ub.name,
		m.id, m.sender_id, COALESCE(su.name, ''), m.content, m.reply_to, m.created_at,
		(SELECT COUNT(*) FROM messages x
			WHERE x.conversation_id = c.id
			AND x.sender_id != ?1
			AND x.id > COALESCE((SELECT r.last_read_id FROM reads r
				WHERE r.conversation_id = c.id AND r.user_id = ?1), 0)) AS unread
	FROM conversations c
	JOIN users ua ON ua.id = c.user_a
	JOIN users ub ON ub.id = c.user_b
	LEFT JOIN messages m ON m.id = (SELECT MAX(id) FROM messages WHERE conversation_id = c.id)
	LEFT JOIN users su ON su.id = m.sender_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c       Conversation
		msgID   sql.NullInt64
		sender  sql.NullString
		name    string
		content sql.NullString
		replyTo sql.NullInt64
		msgAt   sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.CreatedAt,
		&c.Participants[0].ID, &c.Participants[0].Name,
		&c.Participants[1].ID, &c.Participants[1].Name,
		&msgID, &sender, &name, &content, &replyTo, &msgAt,
		&c.UnreadCount); err != nil {
		return nil, err
	}
	if msgID.Valid {
		c.LastMessage = &Message{
			ID:             msgID.Int64,
			ConversationID: c.ID,
			SenderID:       sender.String,
			SenderName:     name,
			Content:        content.String,
			ReplyTo:        replyTo.Int64,
			CreatedAt:      msgAt.Int64,
		}
	}
	return &c, nil
}

// ListConversations returns userID's conversations, most recent activity
// first.
func (db *DB) ListConversations(userID string) ([]Conversation, error) {
	rows, err := db.Query(conversationSelect+`
		WHERE c.user_a = ?1 OR c.user_b = ?1
		ORDER BY COALESCE(m.created_at, c.created_at) DESC, c.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// GetConversation returns conversation id as seen by userID. It returns
// ErrNotFound when the conversation does not exist or userID is not a
// participant.
func (db *DB) GetConversation(id int64, userID string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(conversationSelect+`
		WHERE c.id = ?2 AND (c.user_a = ?1 OR c.user_b = ?1)`, userID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindConversation returns the id of the conversation between a and b, or
// ErrNotFound.
func (db *DB) FindConversation(a, b string) (int64, error) {
	lo, hi := orderedPair(a, b)
	var id int64
	err := db.QueryRow(`SELECT id FROM conversations WHERE user_a = ? AND user_b = ?`, lo, hi).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// DeleteConversation removes conversation id with its messages and read
// markers. Only a participant may delete it; the returned conversation
// carries both participants so callers can notify them.
func (db *DB) DeleteConversation(id int64, userID string) (*Conversation, error) {
	c, err := db.GetConversation(id, userID)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete conversation %d: %w", id, err)
	}
	return c, nil
}

// UnreadCount returns the number of messages addressed to userID that are
// newer than userID's read marker, across all conversations.
func (db *DB) UnreadCount(userID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE (c.user_a = ?1 OR c.user_b = ?1)
		AND m.sender_id != ?1
		AND m.id > COALESCE((SELECT r.last_read_id FROM reads r
			WHERE r.conversation_id = c.id AND r.user_id = ?1), 0)`, userID).Scan(&n)
	return n, err
}

// MarkRead moves userID's read marker in conversation id to its newest
// message.
func (db *DB) MarkRead(id int64, userID string) error {
	_, err := db.Exec(`
		INSERT INTO reads (conversation_id, user_id, last_read_id)
		VALUES (?1, ?2, COALESCE((SELECT MAX(id) FROM messages WHERE conversation_id = ?1), 0))
		ON CONFLICT(conversation_id, user_id) DO UPDATE SET
			last_read_id = MAX(reads.last_read_id, excluded.last_read_id)`, id, userID)
	return err
}
