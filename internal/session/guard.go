package session

import (
	"net/url"
	"strings"
)

// Well known dashboard paths.
const (
	PathRoot      = "/"
	PathLogin     = "/login"
	PathDashboard = "/dashboard"
	PathAdmin     = "/dashboard/settings"
)

// PublicRoutes don't require authentication.
var PublicRoutes = []string{"/login", "/signup", "/reset-password", "/auth/callback"}

// Decision is the result of guarding a route.
type Decision struct {
	// Wait is true while the identity is loading, nothing must be rendered.
	Wait bool
	// Redirect is the path to redirect to, empty when access is allowed.
	Redirect string
}

// Allowed returns true if the route can be rendered.
func (d Decision) Allowed() bool { return !d.Wait && d.Redirect == "" }

// Guard decides if the current identity can render a protected route.
func (p *Provider) Guard(path string, requireAdmin bool) Decision {
	p.mu.RLock()
	state, id := p.state, p.identity
	p.mu.RUnlock()

	// Fixture identities are always admins.
	admin := id.Admin || p.flags.UseMockData()

	switch {
	case state == StateUnknown:
		return Decision{Wait: true}
	case !id.Authenticated():
		return Decision{Redirect: LoginRedirect(path)}
	case requireAdmin && !admin:
		return Decision{Redirect: PathDashboard}
	}
	return Decision{}
}

// LoginRedirect returns the login path that sends back to path after signing in.
func LoginRedirect(path string) string {
	return PathLogin + "?redirectTo=" + url.QueryEscape(path)
}

// IsPublicRoute returns true if the path doesn't require authentication.
func IsPublicRoute(path string) bool {
	for _, r := range PublicRoutes {
		if strings.HasPrefix(path, r) {
			return true
		}
	}
	return false
}

// RouteRedirect is the request level routing rule applied before rendering:
// public routes pass, the root goes to the dashboard or login and anonymous
// dashboard requests go to login.
func RouteRedirect(path string, authenticated bool) string {
	switch {
	case IsPublicRoute(path):
		return ""
	case path == PathRoot && authenticated:
		return PathDashboard
	case path == PathRoot:
		return PathLogin
	case strings.HasPrefix(path, PathDashboard) && !authenticated:
		return LoginRedirect(path)
	}
	return ""
}
