package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/vbonduro/purrfect/internal/session"
)

type sessionResponse struct {
	AdminInitialized bool          `json:"adminInitialized"`
	User             *session.User `json:"user"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) writeSession(w http.ResponseWriter, r *http.Request) {
	initialized, err := s.sessions.AdminInitialized(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("read session failed")
		writeError(w, r, http.StatusInternalServerError, "failed to read session")
		return
	}
	resp := sessionResponse{AdminInitialized: initialized}
	if u, ok, err := s.sessions.CurrentUser(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("read current user failed")
		writeError(w, r, http.StatusInternalServerError, "failed to read session")
		return
	} else if ok {
		resp.User = &u
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.writeSession(w, r)
}

func (s *Server) handleInitAdmin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.sessions.InitializeAdmin(r.Context(), req.Password)
	switch {
	case errors.Is(err, session.ErrEmptyPassword):
		writeError(w, r, http.StatusBadRequest, "password required")
		return
	case errors.Is(err, session.ErrAlreadyInitialized):
		writeError(w, r, http.StatusConflict, "admin already initialized")
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("initialize admin failed")
		writeError(w, r, http.StatusInternalServerError, "failed to initialize admin")
		return
	}
	s.writeSession(w, r)
}

// handleLogin signs in the admin when the password matches. Any other
// username signs in as a guest.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	user := session.User{Username: strings.TrimSpace(req.Username), Role: session.RoleGuest}
	if user.Username == session.AdminUsername {
		ok, err := s.sessions.VerifyAdmin(r.Context(), req.Password)
		if err != nil {
			s.logger.Error().Err(err).Msg("verify admin failed")
			writeError(w, r, http.StatusInternalServerError, "failed to sign in")
			return
		}
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		user.Role = session.RoleAdmin
	}
	if user.Username == "" {
		user.Username = "Guest"
	}

	if err := s.sessions.SetCurrentUser(r.Context(), user); err != nil {
		s.logger.Error().Err(err).Msg("store session failed")
		writeError(w, r, http.StatusInternalServerError, "failed to sign in")
		return
	}
	s.writeSession(w, r)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.ClearCurrentUser(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("clear session failed")
		writeError(w, r, http.StatusInternalServerError, "failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
