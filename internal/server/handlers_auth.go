package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slok/taskdash/internal/model"
	"github.com/slok/taskdash/internal/printer"
	"github.com/slok/taskdash/internal/session"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c credentialsRequest) validate() error {
	if c.Email == "" {
		return fmt.Errorf("email is required: %w", model.ErrNotValid)
	}
	if c.Password == "" {
		return fmt.Errorf("password is required: %w", model.ErrNotValid)
	}
	return nil
}

type magicLinkRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirectTo"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// safeRedirect only allows local paths so magic links can't send users away.
func safeRedirect(path string) string {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return session.PathDashboard
	}
	return path
}

func (s *Server) setSessionCookies(w http.ResponseWriter, sess *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessTokenCookie,
		Value:    sess.AccessToken,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    sess.RefreshToken,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	for name, path := range map[string]string{accessTokenCookie: "/", refreshTokenCookie: "/auth"} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     path,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.secureCookies,
		})
	}
}

func (s *Server) identityFromSession(sess *model.Session) model.Identity {
	u := sess.User
	return model.Identity{User: &u, Session: sess, Admin: s.admins.IsAdmin(u.Email)}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	s.handleCredentials(w, r, "sign up", s.auth.SignUp)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	s.handleCredentials(w, r, "sign in", s.auth.SignIn)
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request, where string, op func(ctx context.Context, email, password string) (*model.Session, error)) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, where, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, where, err)
		return
	}

	// Fixture mode never touches the auth backend.
	if s.flags.UseMockData() {
		writeJSON(w, http.StatusOK, printer.NewIdentityOutput(session.MockIdentity()))
		return
	}

	sess, err := op(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, where, err)
		return
	}

	s.setSessionCookies(w, sess)
	writeJSON(w, http.StatusOK, printer.NewIdentityOutput(s.identityFromSession(sess)))
}

func (s *Server) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, "magic link", err)
		return
	}
	if req.Email == "" {
		s.writeError(w, r, "magic link", fmt.Errorf("email is required: %w", model.ErrNotValid))
		return
	}

	if !s.flags.UseMockData() {
		err := s.auth.SendMagicLink(r.Context(), req.Email, safeRedirect(req.RedirectTo))
		if err != nil {
			s.writeError(w, r, "magic link", err)
			return
		}
	}

	writeJSON(w, http.StatusAccepted, messageResponse{Message: "Check your email for the login link"})
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Redirect(w, r, session.PathLogin, http.StatusFound)
		return
	}

	sess, redirectTo, err := s.auth.VerifyMagicLink(r.Context(), token)
	if err != nil {
		if !errors.Is(err, model.ErrUnauthenticated) && !errors.Is(err, model.ErrNotFound) {
			s.logger.Errorf("Could not verify magic link: %s", err)
		}
		http.Redirect(w, r, session.PathLogin, http.StatusFound)
		return
	}

	s.setSessionCookies(w, sess)
	http.Redirect(w, r, safeRedirect(redirectTo), http.StatusFound)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.flags.UseMockData() {
		writeJSON(w, http.StatusOK, printer.NewIdentityOutput(session.MockIdentity()))
		return
	}

	var req refreshRequest
	if c, err := r.Cookie(refreshTokenCookie); err == nil {
		req.RefreshToken = c.Value
	}
	if req.RefreshToken == "" && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, "refresh session", err)
			return
		}
	}
	if req.RefreshToken == "" {
		s.writeError(w, r, "refresh session", model.ErrUnauthenticated)
		return
	}

	sess, err := s.auth.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, "refresh session", err)
		return
	}

	s.setSessionCookies(w, sess)
	writeJSON(w, http.StatusOK, printer.NewIdentityOutput(s.identityFromSession(sess)))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if token := accessToken(r); token != "" && !s.flags.UseMockData() {
		if err := s.auth.SignOut(r.Context(), token); err != nil && !errors.Is(err, model.ErrNotFound) {
			s.writeError(w, r, "sign out", err)
			return
		}
	}

	s.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Signed out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, printer.NewIdentityOutput(identityFrom(r.Context())))
}
