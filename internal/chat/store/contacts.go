package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Contact represents a role-play persona. Exactly one Thread exists per
// Contact; both are created in the same transaction and deleted together.
type Contact struct {
	ID          string
	Name        string
	AvatarColor string
	AvatarIcon  sql.NullString
	AvatarURL   sql.NullString
	// Persona is the character prompt injected into every system message.
	Persona string
	// WorldInfo is background/world-building text for the system message.
	WorldInfo string
	// LongMemory is the periodically regenerated conversation summary.
	// NULL means no long memory has been distilled yet.
	LongMemory sql.NullString
	// UserName, UserAvatar and UserPersona override the global user identity
	// for this contact only. NULL falls through to the global settings.
	UserName    sql.NullString
	UserAvatar  sql.NullString
	UserPersona sql.NullString
	// TokenLimit overrides the default context-window budget. NULL uses the
	// system default.
	TokenLimit sql.NullInt64
	// AutoReply enables the delayed automatic reply timer for this contact.
	AutoReply bool
	// AutoReplyDelay is the timer delay in minutes. NULL uses the smallest
	// allowed delay.
	AutoReplyDelay sql.NullInt64
	CreatedAt      time.Time
}

const contactColumns = `id, name, avatar_color, avatar_icon, avatar_url, persona, world_info,
	long_memory, user_name, user_avatar, user_persona, token_limit,
	auto_reply, auto_reply_delay, created_at`

// ThreadTitle derives the display title of a contact's thread. It is
// re-applied whenever the contact is renamed.
func ThreadTitle(contactName string) string {
	return contactName + " 的对话"
}

// CreateContact inserts a new contact together with its conversation thread
// in one transaction. The contact's ID and CreatedAt are assigned here when
// unset. Returns the created thread.
func (s *Store) CreateContact(ctx context.Context, contact *Contact) (*Thread, error) {
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}

	thread := &Thread{
		ID:        uuid.NewString(),
		ContactID: contact.ID,
		Title:     ThreadTitle(contact.Name),
		UpdatedAt: contact.CreatedAt,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contacts (`+contactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, contact.ID, contact.Name, contact.AvatarColor, contact.AvatarIcon, contact.AvatarURL,
		contact.Persona, contact.WorldInfo, contact.LongMemory,
		contact.UserName, contact.UserAvatar, contact.UserPersona,
		contact.TokenLimit, contact.AutoReply, contact.AutoReplyDelay, contact.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO threads (id, contact_id, title, updated_at)
		VALUES (?, ?, ?, ?)
	`, thread.ID, thread.ContactID, thread.Title, thread.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit contact creation: %w", err)
	}

	return thread, nil
}

// GetContact retrieves a contact by ID
func (s *Store) GetContact(ctx context.Context, id string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+contactColumns+` FROM contacts WHERE id = ?
	`, id)

	contact, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return contact, nil
}

// ListContacts returns all contacts ordered by creation time.
func (s *Store) ListContacts(ctx context.Context) ([]*Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contactColumns+` FROM contacts ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}
	return contacts, nil
}

// UpdateContact updates all mutable contact fields and re-derives the thread
// title from the (possibly changed) name, in one transaction.
func (s *Store) UpdateContact(ctx context.Context, contact *Contact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE contacts
		SET name = ?, avatar_color = ?, avatar_icon = ?, avatar_url = ?,
		    persona = ?, world_info = ?, user_name = ?, user_avatar = ?,
		    user_persona = ?, token_limit = ?, auto_reply = ?, auto_reply_delay = ?
		WHERE id = ?
	`, contact.Name, contact.AvatarColor, contact.AvatarIcon, contact.AvatarURL,
		contact.Persona, contact.WorldInfo, contact.UserName, contact.UserAvatar,
		contact.UserPersona, contact.TokenLimit, contact.AutoReply, contact.AutoReplyDelay,
		contact.ID)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("contact %s: %w", contact.ID, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE threads SET title = ? WHERE contact_id = ?
	`, ThreadTitle(contact.Name), contact.ID)
	if err != nil {
		return fmt.Errorf("failed to update thread title: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contact update: %w", err)
	}
	return nil
}

// UpdateLongMemory replaces the contact's long-term memory text. An empty
// string clears the field.
func (s *Store) UpdateLongMemory(ctx context.Context, contactID, memory string) error {
	value := sql.NullString{String: memory, Valid: memory != ""}
	result, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET long_memory = ? WHERE id = ?
	`, value, contactID)
	if err != nil {
		return fmt.Errorf("failed to update long memory: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("contact %s: %w", contactID, ErrNotFound)
	}
	return nil
}

// DeleteContact removes the contact, its thread and all messages in one
// transaction. A concurrent reader either sees everything or nothing.
func (s *Store) DeleteContact(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE thread_id IN (SELECT id FROM threads WHERE contact_id = ?)
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE contact_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("contact %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contact deletion: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...any) error
}

func scanContact(row scanner) (*Contact, error) {
	contact := &Contact{}
	err := row.Scan(
		&contact.ID, &contact.Name, &contact.AvatarColor, &contact.AvatarIcon,
		&contact.AvatarURL, &contact.Persona, &contact.WorldInfo, &contact.LongMemory,
		&contact.UserName, &contact.UserAvatar, &contact.UserPersona,
		&contact.TokenLimit, &contact.AutoReply, &contact.AutoReplyDelay,
		&contact.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return contact, nil
}
