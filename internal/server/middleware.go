package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/session"
)

const (
	accessTokenCookie  = "taskdash-access-token"
	refreshTokenCookie = "taskdash-refresh-token"
)

type identityKey struct{}

func identityFrom(ctx context.Context) model.Identity {
	id, _ := ctx.Value(identityKey{}).(model.Identity)
	return id
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.WithValues(log.Kv{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration-ms": time.Since(start).Milliseconds(),
			"request-id":  middleware.GetReqID(r.Context()),
		}).Debugf("HTTP request served")
	})
}

func accessToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	if c, err := r.Cookie(accessTokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// withIdentity resolves the request identity, anonymous if there is no valid session.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := s.resolveIdentity(r)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func (s *Server) resolveIdentity(r *http.Request) model.Identity {
	if s.flags.UseMockData() {
		return session.MockIdentity()
	}

	token := accessToken(r)
	if token == "" {
		return model.Identity{}
	}

	sess, err := s.auth.GetSession(r.Context(), token)
	if err != nil {
		if !errors.Is(err, model.ErrUnauthenticated) {
			s.logger.Warningf("Could not resolve session: %s", err)
		}
		return model.Identity{}
	}

	u := sess.User
	return model.Identity{User: &u, Session: sess, Admin: s.admins.IsAdmin(u.Email)}
}

// guardRoutes applies the page routing rules: public routes pass, anonymous
// dashboard visits go to login keeping the requested path and non admins are
// sent away from the admin pages.
func (s *Server) guardRoutes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r.Context())
		path := r.URL.Path

		redirect := session.RouteRedirect(path, id.Authenticated())
		if redirect == "" && strings.HasPrefix(path, session.PathAdmin) && !id.Admin {
			redirect = session.PathDashboard
		}
		if redirect != "" {
			http.Redirect(w, r, redirect, http.StatusFound)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !identityFrom(r.Context()).Authenticated() {
			s.writeError(w, r, "auth", model.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !identityFrom(r.Context()).Admin {
			s.writeError(w, r, "admin", model.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
