package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/slok/taskdash/internal/model"
)

const selectUserSettings = `
	SELECT id, user_id, theme, security_level, notifications_enabled, default_mode
	FROM user_settings
	WHERE user_id = $1
`

// GetUserSettings returns the settings row of a user.
func (r *Repository) GetUserSettings(ctx context.Context, userID string) (*model.UserSettings, error) {
	s, err := scanUserSettings(r.pool.QueryRow(ctx, selectUserSettings, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_settings (id, user_id, theme, security_level, notifications_enabled, default_mode)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.UserID, s.Theme, s.SecurityLevel, s.NotificationsEnabled, s.DefaultMode)
	if err != nil {
		switch pgCode(err) {
		case codeUniqueViolation:
			return nil, fmt.Errorf("settings for user %s: %w", s.UserID, model.ErrAlreadyExists)
		case codeForeignKeyViolation:
			return nil, fmt.Errorf("user %s: %w", s.UserID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not insert user settings: %w", err)
	}

	return &s, nil
}

// UpdateUserSettings applies a partial update on the user settings.
func (r *Repository) UpdateUserSettings(ctx context.Context, userID string, patch model.SettingsPatch) (*model.UserSettings, error) {
	var updated model.UserSettings
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := scanUserSettings(tx.QueryRow(ctx, selectUserSettings+" FOR UPDATE", userID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("settings for user %s: %w", userID, model.ErrNotFound)
			}
			return fmt.Errorf("could not query user settings: %w", err)
		}

		updated = patch.Apply(*current)
		_, err = tx.Exec(ctx, `
			UPDATE user_settings
			SET theme = $1, security_level = $2, notifications_enabled = $3, default_mode = $4
			WHERE user_id = $5
		`, updated.Theme, updated.SecurityLevel, updated.NotificationsEnabled, updated.DefaultMode, userID)
		if err != nil {
			return fmt.Errorf("could not update user settings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

// GetAppSettings returns the application settings.
func (r *Repository) GetAppSettings(ctx context.Context) (*model.AppSettings, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM app_settings WHERE id = 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("app settings: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query app settings: %w", err)
	}

	var s model.AppSettings
	if err := json.Unmarshal(data, &s); err != nil {
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

	_, err = r.pool.Exec(ctx, `
		INSERT INTO app_settings (id, data, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("could not save app settings: %w", err)
	}
	return nil
}

func scanUserSettings(row pgx.Row) (*model.UserSettings, error) {
	var s model.UserSettings
	if err := row.Scan(&s.ID, &s.UserID, &s.Theme, &s.SecurityLevel, &s.NotificationsEnabled, &s.DefaultMode); err != nil {
		return nil, err
	}
	return &s, nil
}
