package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/accountcore"
	"github.com/MrEthical07/accountcore/store"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, principal(r).User)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  *string      `json:"username"`
		AvatarURL *string      `json:"avatar_url"`
		Theme     *store.Theme `json:"theme"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.engine.UpdateProfile(r.Context(), principal(r).User.ID, accountcore.ProfileUpdate{
		Username:  req.Username,
		AvatarURL: req.AvatarURL,
		Theme:     req.Theme,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.ExportAccountData(r.Context(), principal(r).User.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="account-export.json"`)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p := principal(r)
	if err := s.engine.ChangePassword(r.Context(), p.User.ID, p.Session.ID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetPassword(r.Context(), principal(r).User.ID, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerifyRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RequestEmailVerification(r.Context(), principal(r).User.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	list, err := s.engine.ListSessions(r.Context(), p.User.ID, p.Session.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := chi.URLParam(r, "id")
	if err := s.engine.RevokeSession(r.Context(), p.User.ID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if id == p.Session.ID {
		s.clearSessionCookie(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RevokeAllSessions(r.Context(), principal(r).User.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	f, err := parseActivityFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := s.engine.GetActivityLog(r.Context(), principal(r).User.ID, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func parseActivityFilter(q url.Values) (store.ActivityFilter, error) {
	var f store.ActivityFilter
	for _, a := range q["action"] {
		f.Actions = append(f.Actions, store.Action(a))
	}
	for _, st := range q["status"] {
		f.Statuses = append(f.Statuses, store.ActivityStatus(st))
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, accountcore.ErrInvalidInput
		}
		f.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, accountcore.ErrInvalidInput
		}
		f.Until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, accountcore.ErrInvalidInput
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) handleMFAEnroll(w http.ResponseWriter, r *http.Request) {
	enr, err := s.engine.BeginMFAEnrollment(r.Context(), principal(r).User.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enr)
}

func (s *Server) handleMFAConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.ConfirmMFAEnrollment(r.Context(), principal(r).User.ID, req.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.DisableMFA(r.Context(), principal(r).User.ID, req.Password, req.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
