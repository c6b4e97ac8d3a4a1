package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SendResult is the outcome of a send.
type SendResult struct {
	Message Message
	// Conversation is the recipient-agnostic conversation row; its unread
	// count is not meaningful.
	Conversation Conversation
	Created      bool
}

// SendMessage stores a message from senderID to recipientID, creating their
// conversation on first contact. The sender's read marker moves past the new
// message. It returns ErrNotFound when either user is unknown.
func (db *DB) SendMessage(senderID, recipientID, content string, replyTo int64) (*SendResult, error) {
	if senderID == recipientID {
		return nil, fmt.Errorf("cannot message yourself")
	}
	var res SendResult
	now := time.Now().UnixMilli()
	err := db.inTx(func(tx *sql.Tx) error {
		for i, id := range []string{senderID, recipientID} {
			u := &res.Conversation.Participants[i]
			err := tx.QueryRow(`SELECT id, name FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Name)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("user %q: %w", id, ErrNotFound)
			}
			if err != nil {
				return err
			}
		}

		conv, created, err := findOrCreateConversation(tx, senderID, recipientID, now)
		if err != nil {
			return err
		}
		res.Conversation.ID, res.Conversation.CreatedAt, res.Created = conv, now, created
		if !created {
			if err := tx.QueryRow(`SELECT created_at FROM conversations WHERE id = ?`, conv).
				Scan(&res.Conversation.CreatedAt); err != nil {
				return err
			}
		}

		if replyTo != 0 {
			var n int
			if err := tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE id = ? AND conversation_id = ?`,
				replyTo, conv).Scan(&n); err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("reply target %d: %w", replyTo, ErrNotFound)
			}
		}

		r, err := tx.Exec(`
			INSERT INTO messages (conversation_id, sender_id, content, reply_to, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			conv, senderID, content, sql.NullInt64{Int64: replyTo, Valid: replyTo != 0}, now)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if res.Message.ID, err = r.LastInsertId(); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO reads (conversation_id, user_id, last_read_id) VALUES (?, ?, ?)
			ON CONFLICT(conversation_id, user_id) DO UPDATE SET last_read_id = excluded.last_read_id`,
			conv, senderID, res.Message.ID); err != nil {
			return fmt.Errorf("advance read marker: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Message.ConversationID = res.Conversation.ID
	res.Message.SenderID = senderID
	res.Message.SenderName = res.Conversation.Participants[0].Name
	res.Message.Content = content
	res.Message.ReplyTo = replyTo
	res.Message.CreatedAt = now
	res.Conversation.LastMessage = &res.Message
	return &res, nil
}

func findOrCreateConversation(tx *sql.Tx, a, b string, now int64) (id int64, created bool, err error) {
	lo, hi := orderedPair(a, b)
	err = tx.QueryRow(`SELECT id FROM conversations WHERE user_a = ? AND user_b = ?`, lo, hi).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}
	r, err := tx.Exec(`INSERT INTO conversations (user_a, user_b, created_at) VALUES (?, ?, ?)`, lo, hi, now)
	if err != nil {
		return 0, false, fmt.Errorf("create conversation: %w", err)
	}
	id, err = r.LastInsertId()
	return id, true, err
}

// ListMessages returns the history of conversation id, oldest first. It
// returns ErrNotFound when userID is not a participant.
func (db *DB) ListMessages(id int64, userID string) ([]Message, error) {
	var n int
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM conversations
		WHERE id = ? AND (user_a = ? OR user_b = ?)`, id, userID, userID).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	rows, err := db.Query(`
		SELECT m.id, m.conversation_id, m.sender_id, COALESCE(u.name, ''), m.content, COALESCE(m.reply_to, 0), m.created_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Content, &m.ReplyTo, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
