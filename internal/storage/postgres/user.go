package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/slok/taskdash/internal/model"
)

// CreateUser stores a new user, emails are unique ignoring case.
func (r *Repository) CreateUser(ctx context.Context, u model.User, passwordHash string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, passwordHash, u.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return fmt.Errorf("user %s: %w", u.Email, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert user: %w", err)
	}
	return nil
}

// GetUserByEmail returns the user and its password hash.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, string, error) {
	var u model.User
	var hash string
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE lower(email) = lower($1)`, email,
	).Scan(&u.ID, &u.Email, &hash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", fmt.Errorf("user %s: %w", email, model.ErrNotFound)
		}
		return nil, "", fmt.Errorf("could not query user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()

	return &u, hash, nil
}

// CreateSession stores an auth session.
func (r *Repository) CreateSession(ctx context.Context, s model.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO auth_sessions (access_token, refresh_token, user_id, expires_at) VALUES ($1, $2, $3, $4)`,
		s.AccessToken, s.RefreshToken, s.User.ID, s.ExpiresAt,
	)
	if err != nil {
		switch pgCode(err) {
		case codeUniqueViolation:
			return fmt.Errorf("session: %w", model.ErrAlreadyExists)
		case codeForeignKeyViolation:
			return fmt.Errorf("user %s: %w", s.User.ID, model.ErrNotFound)
		}
		return fmt.Errorf("could not insert session: %w", err)
	}
	return nil
}

// GetSessionByAccessToken returns the session of an access token.
func (r *Repository) GetSessionByAccessToken(ctx context.Context, token string) (*model.Session, error) {
	return r.getSession(ctx, "s.access_token = $1", token)
}

// GetSessionByRefreshToken returns the session of a refresh token.
func (r *Repository) GetSessionByRefreshToken(ctx context.Context, token string) (*model.Session, error) {
	return r.getSession(ctx, "s.refresh_token = $1", token)
}

func (r *Repository) getSession(ctx context.Context, where, arg string) (*model.Session, error) {
	var s model.Session
	err := r.pool.QueryRow(ctx, `
		SELECT s.access_token, s.refresh_token, s.expires_at, u.id, u.email, u.created_at
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE `+where, arg,
	).Scan(&s.AccessToken, &s.RefreshToken, &s.ExpiresAt, &s.User.ID, &s.User.Email, &s.User.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query session: %w", err)
	}
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.User.CreatedAt = s.User.CreatedAt.UTC()

	return &s, nil
}

// DeleteSession removes a session.
func (r *Repository) DeleteSession(ctx context.Context, accessToken string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE access_token = $1`, accessToken); err != nil {
		return fmt.Errorf("could not delete session: %w", err)
	}
	return nil
}

// CreateOneTimeToken stores a magic link token.
func (r *Repository) CreateOneTimeToken(ctx context.Context, t model.OneTimeToken) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO auth_one_time_tokens (token, email, redirect_to, expires_at) VALUES ($1, $2, $3, $4)`,
		t.Token, t.Email, t.RedirectTo, t.ExpiresAt,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return fmt.Errorf("token: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert token: %w", err)
	}
	return nil
}

// ConsumeOneTimeToken marks a token as used and returns it.
func (r *Repository) ConsumeOneTimeToken(ctx context.Context, token string, now time.Time) (*model.OneTimeToken, error) {
	var t model.OneTimeToken
	err := r.pool.QueryRow(ctx, `
		UPDATE auth_one_time_tokens
		SET used = TRUE
		WHERE token = $1 AND NOT used AND expires_at > $2
		RETURNING token, email, redirect_to, expires_at
	`, token, now).Scan(&t.Token, &t.Email, &t.RedirectTo, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("token: %w", model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not consume token: %w", err)
	}
	t.ExpiresAt = t.ExpiresAt.UTC()

	return &t, nil
}
