package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/accountcore"
	"github.com/MrEthical07/accountcore/middleware"
	"github.com/MrEthical07/accountcore/store"
)

type loginResponse struct {
	User         *store.User `json:"user,omitempty"`
	SessionID    string      `json:"session_id,omitempty"`
	ExpiresAt    *time.Time  `json:"expires_at,omitempty"`
	SessionToken string      `json:"session_token,omitempty"`
	MFARequired  bool        `json:"mfa_required,omitempty"`
	TempToken    string      `json:"temp_token,omitempty"`
}

// completeLogin sets the cookie for a finished login and renders the result.
func (s *Server) completeLogin(w http.ResponseWriter, res *accountcore.LoginResult) {
	if res.MFARequired {
		writeJSON(w, http.StatusOK, loginResponse{MFARequired: true, TempToken: res.TempToken})
		return
	}
	s.setSessionCookie(w, res.SessionToken, res.Session.ExpiresAt)
	out := loginResponse{
		User:      res.User,
		SessionID: res.Session.ID,
		ExpiresAt: &res.Session.ExpiresAt,
	}
	if s.cfg.ExposeSessionToken {
		out.SessionToken = res.SessionToken
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.engine.Signup(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.completeLogin(w, res)
}

func (s *Server) handleLoginMFA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TempToken string `json:"temp_token"`
		Code      string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.VerifyMFA(r.Context(), req.TempToken, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.completeLogin(w, res)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := s.engine.Logout(r.Context(), p.Session.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	// same answer whether or not the address exists
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.engine.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": id.UserID,
		"guest":   id.IsGuest(),
	})
}

func (s *Server) handleAssertion(w http.ResponseWriter, r *http.Request) {
	if s.assertions == nil {
		s.writeError(w, r, errNotFound)
		return
	}
	token, exp, err := s.assertions.Issue(principal(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assertion":  token,
		"expires_at": exp,
	})
}
