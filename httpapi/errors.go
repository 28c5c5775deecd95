package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/accountcore"
	"github.com/MrEthical07/accountcore/social"
)

// APIError is the JSON error body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

var (
	errInvalidJSON  = &APIError{Code: "invalid_json", Message: "invalid JSON body", Status: http.StatusBadRequest}
	errInternal     = &APIError{Code: "internal_error", Message: "internal server error", Status: http.StatusInternalServerError}
	errUnavailable  = &APIError{Code: "service_unavailable", Message: "service unavailable", Status: http.StatusServiceUnavailable}
	errUnauthorized = &APIError{Code: "unauthorized", Message: "authentication required", Status: http.StatusUnauthorized}
	errForbidden    = &APIError{Code: "forbidden", Message: "forbidden", Status: http.StatusForbidden}
	errNotFound     = &APIError{Code: "not_found", Message: "not found", Status: http.StatusNotFound}
)

var errorCodes = []struct {
	err  error
	code string
}{
	{accountcore.ErrInvalidEmail, "invalid_email"},
	{accountcore.ErrInvalidUsername, "invalid_username"},
	{accountcore.ErrWeakPassword, "weak_password"},
	{accountcore.ErrPasswordReuse, "password_reuse"},
	{accountcore.ErrInvalidInput, "invalid_input"},
	{accountcore.ErrEmailTaken, "email_taken"},
	{accountcore.ErrUsernameTaken, "username_taken"},
	{accountcore.ErrProviderAlreadyLinked, "provider_already_linked"},
	{accountcore.ErrIdentityInUse, "identity_in_use"},
	{accountcore.ErrEmailNotVerified, "email_not_verified"},
	{accountcore.ErrCannotUnlinkLastMethod, "cannot_unlink_last_method"},
	{accountcore.ErrMFAAlreadyEnabled, "mfa_already_enabled"},
	{accountcore.ErrMFANotEnabled, "mfa_not_enabled"},
	{accountcore.ErrMFANotPending, "mfa_not_pending"},
	{accountcore.ErrPasswordAlreadySet, "password_already_set"},
	{accountcore.ErrCredentialInvalid, "credential_invalid"},
	{accountcore.ErrLockedOut, "locked_out"},
	{accountcore.ErrInvalidToken, "invalid_token"},
	{accountcore.ErrTokenExpired, "token_expired"},
	{accountcore.ErrInvalidCode, "invalid_code"},
	{accountcore.ErrMFAExpired, "mfa_expired"},
	{accountcore.ErrAccountDisabled, "account_disabled"},
	{accountcore.ErrSessionNotFound, "session_not_found"},
	{accountcore.ErrSessionExpired, "session_expired"},
	{accountcore.ErrUserNotFound, "user_not_found"},
	{accountcore.ErrNotLinked, "not_linked"},
	{accountcore.ErrRateLimited, "rate_limited"},
}

// toAPIError classifies err. Messages of internal errors never reach the
// client.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, social.ErrUnknownProvider):
		return errNotFound
	case errors.Is(err, social.ErrInvalidState):
		return &APIError{Code: "invalid_state", Message: "authorization request expired or already used", Status: http.StatusBadRequest}
	case errors.Is(err, social.ErrExchange), errors.Is(err, social.ErrInvalidIDToken), errors.Is(err, social.ErrMissingSubject):
		return &APIError{Code: "provider_error", Message: "provider sign-in failed", Status: http.StatusBadGateway}
	}

	kind := accountcore.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case accountcore.KindInputValidation:
		status = http.StatusBadRequest
	case accountcore.KindConflict:
		status = http.StatusConflict
	case accountcore.KindAuthFailure:
		status = http.StatusUnauthorized
	case accountcore.KindNotFound:
		status = http.StatusNotFound
	case accountcore.KindTransient:
		status = http.StatusServiceUnavailable
	default:
		return errInternal
	}
	switch {
	case errors.Is(err, accountcore.ErrAccountDisabled):
		status = http.StatusForbidden
	case errors.Is(err, accountcore.ErrLockedOut):
		status = http.StatusLocked
	case errors.Is(err, accountcore.ErrRateLimited):
		status = http.StatusTooManyRequests
	}

	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return &APIError{Code: ec.code, Message: ec.err.Error(), Status: status}
		}
	}
	if kind == accountcore.KindTransient {
		return errUnavailable
	}
	return &APIError{Code: kind.String(), Message: kind.String(), Status: status}
}

func (e *APIError) Error() string { return e.Message }

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	switch apiErr.Status {
	case http.StatusInternalServerError:
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		s.log.Warn("request degraded", zap.String("path", r.URL.Path), zap.Error(err))
	}

	var lockErr *accountcore.LockoutError
	if errors.As(err, &lockErr) {
		if secs := math.Ceil(time.Until(lockErr.Until).Seconds()); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(secs)))
		}
	}
	writeJSON(w, apiErr.Status, apiErr)
}
