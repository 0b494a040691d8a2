package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Well-known settings keys. The settings table is a singleton key/value bag;
// anything the UI layer wants to persist may live here, but these keys are
// the ones the core reads.
const (
	SettingBaseURL      = "base_url"
	SettingAPIKey       = "api_key"
	SettingModel        = "model"
	SettingSystemPrompt = "system_prompt"
	SettingUserName     = "user_name"
	SettingUserAvatar   = "user_avatar"
	SettingUserPersona  = "user_persona"
	SettingTemperature  = "temperature"
	SettingTokenLimit   = "token_limit"
)

// GetSetting returns the value for key or ErrNotFound when absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, nil
}

// GetSettingOr returns the value for key, or defaultValue when the key is
// not set.
func (s *Store) GetSettingOr(ctx context.Context, key, defaultValue string) (string, error) {
	value, err := s.GetSetting(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return defaultValue, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting upserts the key/value pair, updating updated_at to the current
// UTC time.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}

// DeleteSetting removes key. It is idempotent — deleting a non-existent key
// returns nil.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}

// AllSettings returns a snapshot of all key/value pairs. An empty map (not
// nil) is returned when no entries are present.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		result[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return result, nil
}
