package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Message roles. The system role exists only in assembled requests and is
// never persisted.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in a thread. The auto-assigned id defines the total
// order of messages within a thread.
type Message struct {
	ID        int64
	ThreadID  string
	Role      string
	Content   string
	CreatedAt time.Time
}

// AppendMessage inserts a message and bumps the owning thread's updated_at
// in one transaction.
func (s *Store) AppendMessage(ctx context.Context, threadID, role, content string) (*Message, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (thread_id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`, threadID, role, content, now)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get message id: %w", err)
	}

	if err := bumpThread(ctx, tx, threadID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message append: %w", err)
	}

	return &Message{
		ID:        id,
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}, nil
}

// GetMessage retrieves a message by ID
func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	msg := &Message{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, role, content, created_at FROM messages WHERE id = ?
	`, id).Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Content, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the full message history of a thread in chronological
// order.
func (s *Store) ListMessages(ctx context.Context, threadID string) ([]*Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, thread_id, role, content, created_at
		FROM messages WHERE thread_id = ? ORDER BY id ASC
	`, threadID)
}

// RecentMessages returns the most recent n messages of a thread in
// chronological order (pagination page query).
func (s *Store) RecentMessages(ctx context.Context, threadID string, n int) ([]*Message, error) {
	if n <= 0 {
		return nil, nil
	}
	messages, err := s.queryMessages(ctx, `
		SELECT id, thread_id, role, content, created_at
		FROM messages WHERE thread_id = ? ORDER BY id DESC LIMIT ?
	`, threadID, n)
	if err != nil {
		return nil, err
	}
	// Reverse the newest-first page back into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// LastMessage returns the most recent message of a thread, or nil when the
// thread is empty.
func (s *Store) LastMessage(ctx context.Context, threadID string) (*Message, error) {
	msg := &Message{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, role, content, created_at
		FROM messages WHERE thread_id = ? ORDER BY id DESC LIMIT 1
	`, threadID).Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Content, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last message: %w", err)
	}
	return msg, nil
}

// UpdateMessageContent replaces a message's content and bumps the owning
// thread, in one transaction.
func (s *Store) UpdateMessageContent(ctx context.Context, id int64, content string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var threadID string
	err = tx.QueryRowContext(ctx, `SELECT thread_id FROM messages WHERE id = ?`, id).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET content = ? WHERE id = ?`, content, id); err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if err := bumpThread(ctx, tx, threadID, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message update: %w", err)
	}
	return nil
}

// DeleteMessage removes a message and bumps the owning thread, in one
// transaction.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var threadID string
	err = tx.QueryRowContext(ctx, `SELECT thread_id FROM messages WHERE id = ?`, id).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if err := bumpThread(ctx, tx, threadID, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message deletion: %w", err)
	}
	return nil
}

// DeleteMessagesFrom removes every message of the thread with id >= fromID
// and bumps the thread, in one transaction. Used to drop the trailing
// assistant run before a regenerate.
func (s *Store) DeleteMessagesFrom(ctx context.Context, threadID string, fromID int64) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM messages WHERE thread_id = ? AND id >= ?
	`, threadID, fromID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if err := bumpThread(ctx, tx, threadID, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message deletion: %w", err)
	}
	return nil
}

// bumpThread updates the thread's updated_at inside an open transaction.
// Fails with ErrNotFound when the thread does not exist, which would leave
// an orphaned message — the 1:1 invariant makes that a caller bug.
func bumpThread(ctx context.Context, tx *sql.Tx, threadID string, now time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE threads SET updated_at = ? WHERE id = ?
	`, now, threadID)
	if err != nil {
		return fmt.Errorf("failed to bump thread: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	return nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}
