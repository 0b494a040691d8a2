package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sticker is one entry in the auxiliary sticker catalog.
type Sticker struct {
	ID        string
	Name      string
	ImageURL  string
	CreatedAt time.Time
}

// CreateSticker inserts a new sticker, assigning ID and CreatedAt when unset.
func (s *Store) CreateSticker(ctx context.Context, sticker *Sticker) error {
	if sticker.ID == "" {
		sticker.ID = uuid.NewString()
	}
	if sticker.CreatedAt.IsZero() {
		sticker.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stickers (id, name, image_url, created_at)
		VALUES (?, ?, ?, ?)
	`, sticker.ID, sticker.Name, sticker.ImageURL, sticker.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sticker: %w", err)
	}
	return nil
}

// GetSticker retrieves a sticker by ID
func (s *Store) GetSticker(ctx context.Context, id string) (*Sticker, error) {
	sticker := &Sticker{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, image_url, created_at FROM stickers WHERE id = ?
	`, id).Scan(&sticker.ID, &sticker.Name, &sticker.ImageURL, &sticker.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sticker %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sticker: %w", err)
	}
	return sticker, nil
}

// ListStickers returns all stickers ordered by creation time.
func (s *Store) ListStickers(ctx context.Context) ([]*Sticker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, image_url, created_at FROM stickers ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stickers: %w", err)
	}
	defer rows.Close()

	var stickers []*Sticker
	for rows.Next() {
		sticker := &Sticker{}
		if err := rows.Scan(&sticker.ID, &sticker.Name, &sticker.ImageURL, &sticker.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sticker: %w", err)
		}
		stickers = append(stickers, sticker)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stickers: %w", err)
	}
	return stickers, nil
}

// DeleteSticker removes a sticker by ID. Deleting a non-existent sticker
// returns nil.
func (s *Store) DeleteSticker(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stickers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sticker: %w", err)
	}
	return nil
}
