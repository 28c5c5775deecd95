package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore/middleware"
	"github.com/MrEthical07/accountcore/social"
	"github.com/MrEthical07/accountcore/store"
)

func (s *Server) provider(r *http.Request) (social.Provider, error) {
	return s.providers.Get(store.Provider(chi.URLParam(r, "provider")))
}

func (s *Server) redirectToProvider(w http.ResponseWriter, r *http.Request, mode social.Mode, userID string) {
	p, err := s.provider(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	state, nonce, err := s.states.Begin(p.Name(), mode, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, p.AuthCodeURL(state, nonce), http.StatusFound)
}

func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	s.redirectToProvider(w, r, social.ModeLogin, "")
}

func (s *Server) handleOAuthLinkStart(w http.ResponseWriter, r *http.Request) {
	s.redirectToProvider(w, r, social.ModeLink, principal(r).User.ID)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	p, err := s.provider(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	pending, err := s.states.Take(p.Name(), q.Get("state"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if e := q.Get("error"); e != "" {
		s.log.Info("provider denied authorization", zap.String("provider", string(p.Name())), zap.String("error", e))
		writeJSON(w, http.StatusUnauthorized, &APIError{Code: "provider_denied", Message: "authorization was denied", Status: http.StatusUnauthorized})
		return
	}
	identity, err := p.Exchange(r.Context(), q.Get("code"), pending.Nonce)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if pending.Mode == social.ModeLink {
		// the browser must still hold the session that started the link
		token, ok := middleware.SessionToken(r, s.cfg.CookieName)
		if !ok {
			s.unauthorized(w, r, nil)
			return
		}
		pr, err := s.engine.Authenticate(r.Context(), token)
		if err != nil {
			s.unauthorized(w, r, err)
			return
		}
		if pr.User.ID != pending.UserID {
			writeJSON(w, http.StatusForbidden, errForbidden)
			return
		}
		if _, err := s.engine.LinkOAuthAccount(r.Context(), pr.User.ID, identity); err != nil {
			s.writeError(w, r, err)
			return
		}
		http.Redirect(w, r, s.cfg.PostLoginRedirect, http.StatusFound)
		return
	}

	res, err := s.engine.LoginWithOAuth(r.Context(), identity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.MFARequired {
		writeJSON(w, http.StatusOK, loginResponse{MFARequired: true, TempToken: res.TempToken})
		return
	}
	s.setSessionCookie(w, res.SessionToken, res.Session.ExpiresAt)
	http.Redirect(w, r, s.cfg.PostLoginRedirect, http.StatusFound)
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.engine.ListOAuthAccounts(r.Context(), principal(r).User.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": links})
}

func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	provider := store.Provider(chi.URLParam(r, "provider"))
	if err := s.engine.UnlinkOAuthAccount(r.Context(), principal(r).User.ID, provider); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
