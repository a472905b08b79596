package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nuvashop/supportchat/internal/chat"
)

// UpsertConversation inserts or updates a conversation snapshot.
func (db *DB) UpsertConversation(c *chat.Conversation) error {
	var agentID any
	if c.AgentID != nil {
		agentID = *c.AgentID
	}
	_, err := db.Exec(`
		INSERT INTO conversations (id, subject, status, customer_id, agent_id, agent_name, unread_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject = excluded.subject,
			status = excluded.status,
			agent_id = excluded.agent_id,
			agent_name = excluded.agent_name,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.Subject, string(c.Status), c.CustomerID, agentID, c.AgentName,
		c.Unread, c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
	return err
}

// ReplaceConversations swaps the cached conversation list atomically
// (bulk refresh).
func (db *DB) ReplaceConversations(convs []chat.Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	for _, c := range convs {
		var agentID any
		if c.AgentID != nil {
			agentID = *c.AgentID
		}
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, subject, status, customer_id, agent_id, agent_name, unread_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Subject, string(c.Status), c.CustomerID, agentID, c.AgentName,
			c.Unread, c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert conversation %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListConversations returns cached conversations, most recently updated first.
func (db *DB) ListConversations(limit int) ([]chat.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, subject, status, customer_id, agent_id, agent_name, unread_count, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []chat.Conversation
	for rows.Next() {
		var c chat.Conversation
		var status string
		var agentID sql.NullInt64
		var createdAt, updatedAt int64
		if err := rows.Scan(&c.ID, &c.Subject, &status, &c.CustomerID, &agentID, &c.AgentName, &c.Unread, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.Status = chat.Status(status)
		if agentID.Valid {
			id := agentID.Int64
			c.AgentID = &id
		}
		c.CreatedAt = time.UnixMilli(createdAt)
		c.UpdatedAt = time.UnixMilli(updatedAt)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// UpsertMessage inserts or updates one message snapshot, keyed by server id
// when present, otherwise by temp id.
func (db *DB) UpsertMessage(m *chat.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertMessageTx(tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveMessages writes a reconciled message batch in a single transaction.
func (db *DB) SaveMessages(msgs []chat.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range msgs {
		if err := upsertMessageTx(tx, &msgs[i]); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}
	return tx.Commit()
}

func upsertMessageTx(tx *sql.Tx, m *chat.Message) error {
	var err error
	switch {
	case m.ID != nil:
		// A server-acknowledged row supersedes the optimistic row with the
		// same temp id, if any.
		if m.TempID != "" {
			if _, err = tx.Exec(`DELETE FROM messages WHERE temp_id = ? AND server_id IS NULL`, m.TempID); err != nil {
				return err
			}
		}
		_, err = tx.Exec(`
			INSERT INTO messages (server_id, temp_id, conversation_id, sender_id, body, is_system, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(server_id) DO UPDATE SET
				body = excluded.body,
				created_at = excluded.created_at`,
			*m.ID, nullable(m.TempID), m.ConversationID, m.SenderID, m.Body, m.IsSystem, m.CreatedAt.UnixMilli())
	case m.TempID != "":
		_, err = tx.Exec(`
			INSERT INTO messages (server_id, temp_id, conversation_id, sender_id, body, is_system, created_at)
			VALUES (NULL, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(temp_id) DO UPDATE SET
				body = excluded.body,
				created_at = excluded.created_at`,
			m.TempID, m.ConversationID, m.SenderID, m.Body, m.IsSystem, m.CreatedAt.UnixMilli())
	default:
		_, err = tx.Exec(`
			INSERT INTO messages (server_id, temp_id, conversation_id, sender_id, body, is_system, created_at)
			VALUES (NULL, NULL, ?, ?, ?, ?, ?)`,
			m.ConversationID, m.SenderID, m.Body, m.IsSystem, m.CreatedAt.UnixMilli())
	}
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListMessages returns cached messages for a conversation in creation order.
func (db *DB) ListMessages(convID int64, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT server_id, temp_id, conversation_id, sender_id, body, is_system, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC
		LIMIT ?`, convID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		var m chat.Message
		var serverID sql.NullInt64
		var tempID sql.NullString
		var createdAt int64
		if err := rows.Scan(&serverID, &tempID, &m.ConversationID, &m.SenderID, &m.Body, &m.IsSystem, &createdAt); err != nil {
			return nil, err
		}
		if serverID.Valid {
			id := serverID.Int64
			m.ID = &id
		}
		m.TempID = tempID.String
		m.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
