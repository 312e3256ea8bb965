package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/taskdash/internal/model"
)

// GetUserSettings returns the settings row of a user.
func (r *Repository) GetUserSettings(ctx context.Context, userID string) (*model.UserSettings, error) {
	query := `
		SELECT id, user_id, theme, security_level, notifications_enabled, default_mode
		FROM user_settings
		WHERE user_id = ?
	`
	s, err := r.scanUserSettings(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("settings for user %s: %w", userID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query user settings: %w", err)
	}

	return s, nil
}

// CreateUserSettings stores the settings row of a user, one per user.
func (r *Repository) CreateUserSettings(ctx context.Context, s model.UserSettings) (*model.UserSettings, error) {
	if s.ID == "" {
		s.ID = ulid.Make().String()
	}

	query := `
		INSERT INTO user_settings (id, user_id, theme, security_level, notifications_enabled, default_mode)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, s.ID, s.UserID, s.Theme, s.SecurityLevel, s.NotificationsEnabled, s.DefaultMode)
	if err != nil {
		switch {
		case isUniqueErr(err):
			return nil, fmt.Errorf("settings for user %s: %w", s.UserID, model.ErrAlreadyExists)
		case isForeignKeyErr(err):
			return nil, fmt.Errorf("user %s: %w", s.UserID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not insert user settings: %w", err)
	}

	return &s, nil
}

// UpdateUserSettings applies a partial update on the user settings.
func (r *Repository) UpdateUserSettings(ctx context.Context, userID string, patch model.SettingsPatch) (*model.UserSettings, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := r.scanUserSettings(tx.QueryRowContext(ctx, `
		SELECT id, user_id, theme, security_level, notifications_enabled, default_mode
		FROM user_settings
		WHERE user_id = ?
	`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("settings for user %s: %w", userID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query user settings: %w", err)
	}

	updated := patch.Apply(*current)
	_, err = tx.ExecContext(ctx, `
		UPDATE user_settings
		SET theme = ?, security_level = ?, notifications_enabled = ?, default_mode = ?
		WHERE user_id = ?
	`, updated.Theme, updated.SecurityLevel, updated.NotificationsEnabled, updated.DefaultMode, userID)
	if err != nil {
		return nil, fmt.Errorf("could not update user settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit transaction: %w", err)
	}

	return &updated, nil
}

// GetAppSettings returns the application settings, stored as a single JSON document.
func (r *Repository) GetAppSettings(ctx context.Context) (*model.AppSettings, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM app_settings WHERE id = 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("app settings: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query app settings: %w", err)
	}

	var s model.AppSettings
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("could not unmarshal app settings: %w", err)
	}

	return &s, nil
}

// SaveAppSettings replaces the application settings.
func (r *Repository) SaveAppSettings(ctx context.Context, s model.AppSettings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("could not marshal app settings: %w", err)
	}

	query := `
		INSERT INTO app_settings (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, string(data), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("could not save app settings: %w", err)
	}

	return nil
}

func (r *Repository) scanUserSettings(s scanner) (*model.UserSettings, error) {
	var us model.UserSettings
	if err := s.Scan(&us.ID, &us.UserID, &us.Theme, &us.SecurityLevel, &us.NotificationsEnabled, &us.DefaultMode); err != nil {
		return nil, err
	}
	return &us, nil
}
