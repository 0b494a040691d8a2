package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Thread is the single conversation log bound 1:1 to a contact. UpdatedAt is
// bumped on every message write and drives the conversation-list ordering.
type Thread struct {
	ID        string
	ContactID string
	Title     string
	UpdatedAt time.Time
}

// GetThread retrieves a thread by ID
func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	thread := &Thread{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, contact_id, title, updated_at FROM threads WHERE id = ?
	`, id).Scan(&thread.ID, &thread.ContactID, &thread.Title, &thread.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return thread, nil
}

// ThreadByContact retrieves the thread owned by the given contact.
func (s *Store) ThreadByContact(ctx context.Context, contactID string) (*Thread, error) {
	thread := &Thread{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, contact_id, title, updated_at FROM threads WHERE contact_id = ?
	`, contactID).Scan(&thread.ID, &thread.ContactID, &thread.Title, &thread.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread for contact %s: %w", contactID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread by contact: %w", err)
	}
	return thread, nil
}

// ThreadMeta is the conversation-list projection of a thread: the thread
// fields plus the newest message preview and total message count.
type ThreadMeta struct {
	Thread
	LastMessage  string
	MessageCount int
}

// GetThreadMeta returns the thread together with its message count and the
// content of its newest message (empty when the thread has no messages).
func (s *Store) GetThreadMeta(ctx context.Context, id string) (*ThreadMeta, error) {
	meta := &ThreadMeta{}
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.contact_id, t.title, t.updated_at,
		       (SELECT content FROM messages WHERE thread_id = t.id ORDER BY id DESC LIMIT 1),
		       (SELECT COUNT(*) FROM messages WHERE thread_id = t.id)
		FROM threads t WHERE t.id = ?
	`, id).Scan(&meta.ID, &meta.ContactID, &meta.Title, &meta.UpdatedAt, &last, &meta.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread meta: %w", err)
	}
	meta.LastMessage = last.String
	return meta, nil
}

// ListThreads returns all threads ordered by most recent activity first.
func (s *Store) ListThreads(ctx context.Context) ([]*Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contact_id, title, updated_at FROM threads ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		thread := &Thread{}
		if err := rows.Scan(&thread.ID, &thread.ContactID, &thread.Title, &thread.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}
	return threads, nil
}
