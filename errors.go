package accountcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidEmail is returned when an email address is malformed.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidUsername is returned when a username breaks the naming rules.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrWeakPassword is returned when a password fails the password policy.
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrPasswordReuse is returned when a new password equals the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrInvalidInput covers any other malformed argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmailTaken is returned by Signup for an email already in use.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUsernameTaken is returned when a username is already in use.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrProviderAlreadyLinked means the user already holds another account
	// of the same provider.
	ErrProviderAlreadyLinked = errors.New("provider already linked")
	// ErrIdentityInUse means the provider identity belongs to another user.
	ErrIdentityInUse = errors.New("provider identity linked to another account")
	// ErrEmailNotVerified blocks automatic linking on an unverified email.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrCannotUnlinkLastMethod is returned when unlinking would leave the
	// account with no way to sign in.
	ErrCannotUnlinkLastMethod = errors.New("cannot unlink last login method")
	ErrMFAAlreadyEnabled      = errors.New("mfa already enabled")
	ErrMFANotEnabled          = errors.New("mfa not enabled")
	ErrMFANotPending          = errors.New("no pending mfa enrollment")
	ErrPasswordAlreadySet     = errors.New("password already set")

	// ErrCredentialInvalid is returned for an unknown identifier and for a
	// wrong password alike.
	ErrCredentialInvalid = errors.New("invalid credentials")
	// ErrLockedOut is matched by every *LockoutError.
	ErrLockedOut       = errors.New("account temporarily locked")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrInvalidCode     = errors.New("invalid verification code")
	ErrMFAExpired      = errors.New("mfa challenge expired")
	ErrAccountDisabled = errors.New("account disabled")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")

	// ErrUserNotFound is returned by operations addressed by user ID.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotLinked is returned when unlinking a provider that is not linked.
	ErrNotLinked = errors.New("provider not linked")

	// ErrRateLimited is returned when a request budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable wraps backend failures and timeouts.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrEngineNotReady is returned by a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockoutError is returned while an account is locked. It matches
// ErrLockedOut under errors.Is.
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("%s until %s", ErrLockedOut, e.Until.UTC().Format(time.RFC3339))
}

func (e *LockoutError) Is(target error) bool {
	return target == ErrLockedOut
}

// Kind classifies errors returned by the Engine.
type Kind int

const (
	KindNone Kind = iota
	KindInputValidation
	KindConflict
	KindAuthFailure
	KindNotFound
	KindTransient
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInputValidation:
		return "input_validation"
	case KindConflict:
		return "conflict"
	case KindAuthFailure:
		return "auth_failure"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

var errorKinds = []struct {
	kind Kind
	errs []error
}{
	{KindInputValidation, []error{ErrInvalidEmail, ErrInvalidUsername, ErrWeakPassword, ErrPasswordReuse, ErrInvalidInput}},
	{KindConflict, []error{ErrEmailTaken, ErrUsernameTaken, ErrProviderAlreadyLinked, ErrIdentityInUse, ErrEmailNotVerified, ErrCannotUnlinkLastMethod, ErrMFAAlreadyEnabled, ErrMFANotEnabled, ErrMFANotPending, ErrPasswordAlreadySet}},
	{KindAuthFailure, []error{ErrCredentialInvalid, ErrLockedOut, ErrInvalidToken, ErrTokenExpired, ErrInvalidCode, ErrMFAExpired, ErrAccountDisabled, ErrSessionNotFound, ErrSessionExpired}},
	{KindNotFound, []error{ErrUserNotFound, ErrNotLinked}},
	{KindTransient, []error{ErrUnavailable, ErrRateLimited}},
}

// ErrorKind reports the class of err. Unrecognized errors are KindInternal.
func ErrorKind(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, group := range errorKinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindInternal
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
