package model

import (
	"slices"
	"strings"
	"time"
)

// User is an authenticated backend user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is an authenticated backend session.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         User      `json:"user"`
}

// Expired returns true if the session is expired at the given time.
func (s Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// AuthEvent is an auth state transition pushed by the auth client.
type AuthEvent string

const (
	AuthEventSignedIn       AuthEvent = "SIGNED_IN"
	AuthEventSignedOut      AuthEvent = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// AdminAllowList is the static list of emails that get admin privileges.
type AdminAllowList []string

// DefaultAdminAllowList is the allow-list used when none is configured.
var DefaultAdminAllowList = AdminAllowList{"admin@example.com"}

// IsAdmin returns true if the email is in the allow-list.
func (a AdminAllowList) IsAdmin(email string) bool {
	if email == "" {
		return false
	}
	return slices.ContainsFunc(a, func(e string) bool { return strings.EqualFold(e, email) })
}

// OneTimeToken is a single use sign in token delivered by email (magic link).
type OneTimeToken struct {
	Token      string
	Email      string
	RedirectTo string
	ExpiresAt  time.Time
}

// Identity is the current authenticated identity, User is nil when anonymous.
type Identity struct {
	User    *User
	Session *Session
	Admin   bool
}

// Authenticated returns true when there is a user.
func (i Identity) Authenticated() bool { return i.User != nil }

// UserID returns the user ID, empty when anonymous.
func (i Identity) UserID() string {
	if i.User == nil {
		return ""
	}
	return i.User.ID
}
