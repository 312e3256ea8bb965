package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskdash/internal/auth"
	"github.com/slok/taskdash/internal/clock"
	"github.com/slok/taskdash/internal/config"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/session"
)

// fakeAuth is an auth client that emits state changes like the real one.
type fakeAuth struct {
	session    *model.Session
	sessionErr error
	signInErr  error
	calls      []string
	listeners  []auth.StateChangeListener
}

func (f *fakeAuth) GetSession(ctx context.Context) (*model.Session, error) {
	f.calls = append(f.calls, "GetSession")
	return f.session, f.sessionErr
}

func (f *fakeAuth) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	f.calls = append(f.calls, "SignInWithPassword")
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	s := newSession(email)
	f.emit(model.AuthEventSignedIn, s)
	return s, nil
}

func (f *fakeAuth) SignUp(ctx context.Context, email, password string) (*model.Session, error) {
	f.calls = append(f.calls, "SignUp")
	s := newSession(email)
	f.emit(model.AuthEventSignedIn, s)
	return s, nil
}

func (f *fakeAuth) SignInWithOTP(ctx context.Context, email, redirectTo string) error {
	f.calls = append(f.calls, "SignInWithOTP:"+redirectTo)
	return nil
}

func (f *fakeAuth) SignOut(ctx context.Context) error {
	f.calls = append(f.calls, "SignOut")
	f.emit(model.AuthEventSignedOut, nil)
	return nil
}

func (f *fakeAuth) RefreshSession(ctx context.Context) (*model.Session, error) {
	f.calls = append(f.calls, "RefreshSession")
	s := newSession("user@example.com")
	s.AccessToken = "refreshed"
	return s, nil
}

func (f *fakeAuth) OnAuthStateChange(l auth.StateChangeListener) func() {
	f.listeners = append(f.listeners, l)
	return func() { f.listeners = nil }
}

func (f *fakeAuth) emit(e model.AuthEvent, s *model.Session) {
	for _, l := range f.listeners {
		l(e, s)
	}
}

func newSession(email string) *model.Session {
	return &model.Session{
		AccessToken: "access",
		User:        model.User{ID: "id-" + email, Email: email},
	}
}

func TestProviderInit(t *testing.T) {
	tests := map[string]struct {
		mock       bool
		session    *model.Session
		sessionErr error
		expState   session.State
		expUserID  string
		expAdmin   bool
		expCalls   []string
	}{
		"Fixture mode should install the mock admin identity without calling the backend.": {
			mock:      true,
			expState:  session.StateAuthenticated,
			expUserID: "mock-user-id",
			expAdmin:  true,
		},
		"Live mode with a session should be authenticated.": {
			session:   newSession("user@example.com"),
			expState:  session.StateAuthenticated,
			expUserID: "id-user@example.com",
			expCalls:  []string{"GetSession"},
		},
		"Live mode with an allow-listed email should be admin.": {
			session:   newSession("Admin@example.com"),
			expState:  session.StateAuthenticated,
			expUserID: "id-Admin@example.com",
			expAdmin:  true,
			expCalls:  []string{"GetSession"},
		},
		"Live mode without session should be anonymous.": {
			expState: session.StateAnonymous,
			expCalls: []string{"GetSession"},
		},
		"Live mode with a session error should be anonymous.": {
			sessionErr: errors.New("whatever"),
			expState:   session.StateAnonymous,
			expCalls:   []string{"GetSession"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			fa := &fakeAuth{session: test.session, sessionErr: test.sessionErr}
			p, err := session.NewProvider(session.ProviderConfig{
				Auth:  fa,
				Flags: config.StaticFlags{Mock: test.mock, Configured: true},
			})
			require.NoError(err)
			assert.True(p.Loading())

			require.NoError(p.Init(context.Background()))

			assert.False(p.Loading())
			assert.Equal(test.expState, p.State())
			assert.Equal(test.expUserID, p.Identity().UserID())
			assert.Equal(test.expAdmin, p.Identity().Admin)
			assert.Equal(test.expCalls, fa.calls)
			if test.mock {
				assert.Empty(fa.listeners, "fixture mode must not subscribe to auth changes")
			} else {
				assert.Len(fa.listeners, 1)
			}
		})
	}
}

func TestProviderAuthChanges(t *testing.T) {
	tests := map[string]struct {
		path       string
		run        func(ctx context.Context, p *session.Provider) error
		expState   session.State
		expHistory []string
	}{
		"Signing in on the login page should go to the dashboard.": {
			path: "/login",
			run: func(ctx context.Context, p *session.Provider) error {
				_, err := p.SignIn(ctx, "user@example.com", "secret")
				return err
			},
			expState:   session.StateAuthenticated,
			expHistory: []string{"/dashboard"},
		},
		"Signing in outside the login page should not navigate.": {
			path: "/signup",
			run: func(ctx context.Context, p *session.Provider) error {
				_, err := p.SignUp(ctx, "user@example.com", "secret")
				return err
			},
			expState: session.StateAuthenticated,
		},
		"Signing out should go to the login page.": {
			path: "/dashboard/tasks",
			run: func(ctx context.Context, p *session.Provider) error {
				return p.SignOut(ctx)
			},
			expState:   session.StateAnonymous,
			expHistory: []string{"/login"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			nav := session.NewMemoryNavigator(test.path, nil)
			p, err := session.NewProvider(session.ProviderConfig{
				Auth:      &fakeAuth{},
				Flags:     config.StaticFlags{Configured: true},
				Navigator: nav,
			})
			require.NoError(t, err)
			require.NoError(t, p.Init(ctx))

			var changes []session.State
			p.OnChange(func(s session.State, _ model.Identity) { changes = append(changes, s) })

			require.NoError(t, test.run(ctx, p))
			assert.Equal(t, test.expState, p.State())
			assert.Equal(t, test.expHistory, nav.History())
			assert.Equal(t, []session.State{test.expState}, changes)
		})
	}
}

func TestProviderLiveForwardsErrors(t *testing.T) {
	expErr := errors.New("invalid login credentials")
	fa := &fakeAuth{signInErr: expErr}
	p, err := session.NewProvider(session.ProviderConfig{Auth: fa, Flags: config.StaticFlags{Configured: true}})
	require.NoError(t, err)
	require.NoError(t, p.Init(context.Background()))

	_, err = p.SignIn(context.Background(), "user@example.com", "bad")
	assert.Equal(t, expErr, err)
	assert.Equal(t, session.StateAnonymous, p.State())
}

func TestProviderLiveMagicLinkAndRefresh(t *testing.T) {
	fa := &fakeAuth{session: newSession("user@example.com")}
	p, err := session.NewProvider(session.ProviderConfig{Auth: fa, Flags: config.StaticFlags{Configured: true}})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, p.Init(ctx))

	require.NoError(t, p.SendMagicLink(ctx, "user@example.com"))
	require.NoError(t, p.RefreshSession(ctx))

	assert.Equal(t, []string{"GetSession", "SignInWithOTP:/dashboard", "RefreshSession"}, fa.calls)
	assert.Equal(t, "refreshed", p.Identity().Session.AccessToken)
}

func TestProviderFixtureOperationsAreDelayed(t *testing.T) {
	clk := clock.NewFake(time.Now())
	fa := &fakeAuth{}
	p, err := session.NewProvider(session.ProviderConfig{
		Auth:  fa,
		Flags: config.StaticFlags{Mock: true},
		Clock: clk,
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, p.Init(ctx))

	done := make(chan *model.Session)
	go func() {
		s, err := p.SignIn(ctx, "whoever@example.com", "whatever")
		assert.NoError(t, err)
		done <- s
	}()

	clk.WaitForTimers(1)
	select {
	case <-done:
		t.Fatal("sign in should wait for the simulated delay")
	default:
	}

	clk.Advance(499 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("sign in should wait for the simulated delay")
	default:
	}

	clk.Advance(time.Millisecond)
	s := <-done
	assert.Equal(t, "mock-user-id", s.User.ID)
	assert.Empty(t, fa.calls)
}

func TestProviderFixtureSignOut(t *testing.T) {
	nav := session.NewMemoryNavigator("/dashboard", nil)
	p, err := session.NewProvider(session.ProviderConfig{Flags: config.StaticFlags{Mock: true}, Navigator: nav})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, p.Init(ctx))

	require.NoError(t, p.SignOut(ctx))
	assert.Equal(t, session.StateAnonymous, p.State())
	assert.Equal(t, []string{"/login"}, nav.History())
}

func TestNewProviderInvalidConfig(t *testing.T) {
	_, err := session.NewProvider(session.ProviderConfig{Flags: config.StaticFlags{}})
	assert.Error(t, err, "live mode requires an auth client")

	_, err = session.NewProvider(session.ProviderConfig{})
	assert.Error(t, err)
}

func TestMemoryNavigatorHistory(t *testing.T) {
	var pushed []string
	nav := session.NewMemoryNavigator("/login", func(p string) { pushed = append(pushed, p) })
	assert.Nil(t, nav.History())

	nav.Push("/dashboard")
	nav.Push("/dashboard/settings")

	history := nav.History()
	assert.Equal(t, []string{"/dashboard", "/dashboard/settings"}, history)
	assert.Equal(t, history, pushed)
	assert.Equal(t, "/dashboard/settings", nav.Path())

	history[0] = "/changed"
	assert.Equal(t, "/dashboard", nav.History()[0])
}
