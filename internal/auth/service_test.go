package auth_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskdash/internal/auth"
	"github.com/slok/taskdash/internal/clock"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/storage/memory"
)

type recordMailer struct {
	mu    sync.Mutex
	links map[string]string
}

func (r *recordMailer) SendMagicLink(_ context.Context, email, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.links == nil {
		r.links = map[string]string{}
	}
	r.links[email] = link
	return nil
}

func (r *recordMailer) token(t *testing.T, email string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, err := url.Parse(r.links[email])
	require.NoError(t, err)
	return u.Query().Get("token")
}

type testService struct {
	svc    *auth.Service
	repo   *memory.Repository
	clock  *clock.FakeClock
	mailer *recordMailer
}

func newTestService(t *testing.T) testService {
	t.Helper()
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)
	clk := clock.NewFake(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	mailer := &recordMailer{}

	svc, err := auth.NewService(auth.ServiceConfig{
		Repository:        repo,
		Mailer:            mailer,
		Clock:             clk,
		SessionTTL:        time.Hour,
		CallbackURL:       "https://dash.example.com/auth/callback",
		AttemptsPerMinute: 3,
	})
	require.NoError(t, err)

	return testService{svc: svc, repo: repo, clock: clk, mailer: mailer}
}

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		config auth.ServiceConfig
		expErr bool
	}{
		"A valid config should create the service.": {
			config: auth.ServiceConfig{Repository: &memory.Repository{}},
		},
		"A missing repository should fail.": {
			config: auth.ServiceConfig{},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			svc, err := auth.NewService(test.config)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, svc)
		})
	}
}

func TestServiceSignUpAndSignIn(t *testing.T) {
	tests := map[string]struct {
		signUpEmail string
		password    string
		signInEmail string
		signInPass  string
		expSignUp   error
		expSignIn   error
	}{
		"Signing up and in with the same credentials should work.": {
			signUpEmail: "user@example.com",
			password:    "secret123",
			signInEmail: "user@example.com",
			signInPass:  "secret123",
		},
		"Emails should be case insensitive.": {
			signUpEmail: "User@Example.com",
			password:    "secret123",
			signInEmail: "user@example.com",
			signInPass:  "secret123",
		},
		"A wrong password should not authenticate.": {
			signUpEmail: "user@example.com",
			password:    "secret123",
			signInEmail: "user@example.com",
			signInPass:  "wrong-password",
			expSignIn:   model.ErrUnauthenticated,
		},
		"An unknown email should not authenticate.": {
			signUpEmail: "user@example.com",
			password:    "secret123",
			signInEmail: "other@example.com",
			signInPass:  "secret123",
			expSignIn:   model.ErrUnauthenticated,
		},
		"A short password should be rejected.": {
			signUpEmail: "user@example.com",
			password:    "123",
			expSignUp:   model.ErrNotValid,
		},
		"An invalid email should be rejected.": {
			signUpEmail: "not an email",
			password:    "secret123",
			expSignUp:   model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()
			ts := newTestService(t)

			sess, err := ts.svc.SignUp(ctx, test.signUpEmail, test.password)
			if test.expSignUp != nil {
				assert.ErrorIs(err, test.expSignUp)
				return
			}
			require.NoError(err)
			assert.NotEmpty(sess.AccessToken)
			assert.NotEmpty(sess.RefreshToken)
			assert.Equal(ts.clock.Now().Add(time.Hour), sess.ExpiresAt)

			// Sign up creates the default settings row.
			settings, err := ts.repo.GetUserSettings(ctx, sess.User.ID)
			require.NoError(err)
			assert.Equal(model.DefaultUserSettings(sess.User.ID).Theme, settings.Theme)

			got, err := ts.svc.SignIn(ctx, test.signInEmail, test.signInPass)
			if test.expSignIn != nil {
				assert.ErrorIs(err, test.expSignIn)
				return
			}
			require.NoError(err)
			assert.Equal(sess.User.ID, got.User.ID)
			assert.NotEqual(sess.AccessToken, got.AccessToken)
		})
	}
}

func TestServiceSignUpTwice(t *testing.T) {
	ctx := context.Background()
	ts := newTestService(t)

	_, err := ts.svc.SignUp(ctx, "user@example.com", "secret123")
	require.NoError(t, err)
	_, err = ts.svc.SignUp(ctx, "user@example.com", "secret123")
	assert.ErrorIs(t, err, model.ErrAlreadyExists)
}

func TestServiceSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	ts := newTestService(t)

	sess, err := ts.svc.SignUp(ctx, "user@example.com", "secret123")
	require.NoError(t, err)

	got, err := ts.svc.GetSession(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got.User.Email)

	_, err = ts.svc.GetSession(ctx, "")
	assert.ErrorIs(t, err, model.ErrUnauthenticated)

	// Expired sessions are rejected but can be refreshed.
	ts.clock.Advance(2 * time.Hour)
	_, err = ts.svc.GetSession(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, model.ErrUnauthenticated)

	refreshed, err := ts.svc.RefreshSession(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.AccessToken, refreshed.AccessToken)

	// Refresh tokens are single use.
	_, err = ts.svc.RefreshSession(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, model.ErrUnauthenticated)

	_, err = ts.svc.GetSession(ctx, refreshed.AccessToken)
	require.NoError(t, err)

	require.NoError(t, ts.svc.SignOut(ctx, refreshed.AccessToken))
	_, err = ts.svc.GetSession(ctx, refreshed.AccessToken)
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestServiceMagicLink(t *testing.T) {
	ctx := context.Background()
	ts := newTestService(t)

	require.NoError(t, ts.svc.SendMagicLink(ctx, "new@example.com", "/dashboard/tasks"))
	token := ts.mailer.token(t, "new@example.com")
	require.NotEmpty(t, token)

	// Unknown emails are registered on verification.
	sess, redirectTo, err := ts.svc.VerifyMagicLink(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", sess.User.Email)
	assert.Equal(t, "/dashboard/tasks", redirectTo)

	_, err = ts.repo.GetUserSettings(ctx, sess.User.ID)
	assert.NoError(t, err)

	_, _, err = ts.svc.VerifyMagicLink(ctx, token)
	assert.ErrorIs(t, err, model.ErrUnauthenticated, "links are single use")

	// Magic link users have no password.
	_, err = ts.svc.SignIn(ctx, "new@example.com", "")
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestServiceMagicLinkExpires(t *testing.T) {
	ctx := context.Background()
	ts := newTestService(t)

	require.NoError(t, ts.svc.SendMagicLink(ctx, "user@example.com", ""))
	ts.clock.Advance(time.Hour)

	_, _, err := ts.svc.VerifyMagicLink(ctx, ts.mailer.token(t, "user@example.com"))
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestServiceRateLimit(t *testing.T) {
	ctx := context.Background()
	ts := newTestService(t)

	for i := 0; i < 3; i++ {
		_, err := ts.svc.SignIn(ctx, "user@example.com", "wrong-password")
		assert.ErrorIs(t, err, model.ErrUnauthenticated)
	}

	_, err := ts.svc.SignIn(ctx, "user@example.com", "wrong-password")
	assert.ErrorIs(t, err, model.ErrRateLimited)

	// Other emails have their own budget.
	_, err = ts.svc.SignIn(ctx, "other@example.com", "wrong-password")
	assert.ErrorIs(t, err, model.ErrUnauthenticated)

	ts.clock.Advance(time.Minute)
	_, err = ts.svc.SignIn(ctx, "user@example.com", "wrong-password")
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
}
