package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/slok/taskdash/internal/model"
)

// CreateUser stores a new user, emails are unique ignoring case.
func (r *Repository) CreateUser(ctx context.Context, u model.User, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, passwordHash, u.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueErr(err) {
			return fmt.Errorf("user %s: %w", u.Email, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert user: %w", err)
	}

	r.logger.Debugf("Created user in repository: %s", u.ID)
	return nil
}

// GetUserByEmail returns the user and its password hash.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, string, error) {
	var u model.User
	var hash string
	var createdAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email,
	).Scan(&u.ID, &u.Email, &hash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", fmt.Errorf("user %s: %w", email, model.ErrNotFound)
		}
		return nil, "", fmt.Errorf("could not query user: %w", err)
	}
	u.CreatedAt = timeFromUnixMilli(createdAt)

	return &u, hash, nil
}

// CreateSession stores an auth session.
func (r *Repository) CreateSession(ctx context.Context, s model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (access_token, refresh_token, user_id, expires_at) VALUES (?, ?, ?, ?)`,
		s.AccessToken, s.RefreshToken, s.User.ID, s.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		switch {
		case isUniqueErr(err):
			return fmt.Errorf("session: %w", model.ErrAlreadyExists)
		case isForeignKeyErr(err):
			return fmt.Errorf("user %s: %w", s.User.ID, model.ErrNotFound)
		}
		return fmt.Errorf("could not insert session: %w", err)
	}

	return nil
}

// GetSessionByAccessToken returns the session of an access token.
func (r *Repository) GetSessionByAccessToken(ctx context.Context, token string) (*model.Session, error) {
	return r.getSession(ctx, "s.access_token = ?", token)
}

// GetSessionByRefreshToken returns the session of a refresh token.
func (r *Repository) GetSessionByRefreshToken(ctx context.Context, token string) (*model.Session, error) {
	return r.getSession(ctx, "s.refresh_token = ?", token)
}

func (r *Repository) getSession(ctx context.Context, where string, arg string) (*model.Session, error) {
	query := `
		SELECT s.access_token, s.refresh_token, s.expires_at, u.id, u.email, u.created_at
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE ` + where

	var s model.Session
	var expiresAt, createdAt int64
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&s.AccessToken, &s.RefreshToken, &expiresAt, &s.User.ID, &s.User.Email, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query session: %w", err)
	}
	s.ExpiresAt = timeFromUnixMilli(expiresAt)
	s.User.CreatedAt = timeFromUnixMilli(createdAt)

	return &s, nil
}

// DeleteSession removes a session, deleting a missing session is not an error.
func (r *Repository) DeleteSession(ctx context.Context, accessToken string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE access_token = ?`, accessToken); err != nil {
		return fmt.Errorf("could not delete session: %w", err)
	}
	return nil
}

// CreateOneTimeToken stores a magic link token.
func (r *Repository) CreateOneTimeToken(ctx context.Context, t model.OneTimeToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_one_time_tokens (token, email, redirect_to, expires_at) VALUES (?, ?, ?, ?)`,
		t.Token, t.Email, t.RedirectTo, t.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueErr(err) {
			return fmt.Errorf("token: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert token: %w", err)
	}
	return nil
}

// ConsumeOneTimeToken marks a token as used and returns it.
func (r *Repository) ConsumeOneTimeToken(ctx context.Context, token string, now time.Time) (*model.OneTimeToken, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var t model.OneTimeToken
	var expiresAt int64
	err = tx.QueryRowContext(ctx, `
		SELECT token, email, redirect_to, expires_at
		FROM auth_one_time_tokens
		WHERE token = ? AND used = 0 AND expires_at > ?
	`, token, now.UnixMilli()).Scan(&t.Token, &t.Email, &t.RedirectTo, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("token: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query token: %w", err)
	}
	t.ExpiresAt = timeFromUnixMilli(expiresAt)

	if _, err := tx.ExecContext(ctx, `UPDATE auth_one_time_tokens SET used = 1 WHERE token = ?`, token); err != nil {
		return nil, fmt.Errorf("could not mark token as used: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit transaction: %w", err)
	}

	return &t, nil
}
