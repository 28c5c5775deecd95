package password

import (
	"errors"
	"strings"
	"unicode"
)

// ErrPolicy is wrapped by every *PolicyError.
var ErrPolicy = errors.New("password policy violation")

// Policy is the strength policy applied to new passwords.
type Policy struct {
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
	// RejectIdentity rejects passwords containing the username or the email
	// local part.
	RejectIdentity bool
}

// DefaultPolicy requires 8 to 128 characters with a letter and a digit.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		MaxLength:      128,
		RequireLower:   true,
		RequireDigit:   true,
		RejectIdentity: true,
	}
}

// PolicyError lists the failed rules.
type PolicyError struct {
	Reasons []string
}

func (e *PolicyError) Error() string {
	return "password policy violation: " + strings.Join(e.Reasons, ", ")
}

func (e *PolicyError) Is(target error) bool {
	return target == ErrPolicy
}

// Validate reports the failed rules for s.
func (p Policy) Validate(s string) (ok bool, reasons []string) {
	n := len([]rune(s))
	if n < p.MinLength {
		reasons = append(reasons, "too_short")
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		reasons = append(reasons, "too_long")
	}
	var hasU, hasL, hasD, hasS bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			hasU = true
		case unicode.IsLower(r):
			hasL = true
		case unicode.IsDigit(r):
			hasD = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasS = true
		}
	}
	if p.RequireUpper && !hasU {
		reasons = append(reasons, "missing_upper")
	}
	// letters of either case satisfy the lower requirement when upper is not
	// demanded separately
	if p.RequireLower && !hasL && (p.RequireUpper || !hasU) {
		reasons = append(reasons, "missing_lower")
	}
	if p.RequireDigit && !hasD {
		reasons = append(reasons, "missing_digit")
	}
	if p.RequireSymbol && !hasS {
		reasons = append(reasons, "missing_symbol")
	}
	return len(reasons) == 0, reasons
}

// Check validates s and also rejects passwords built from the account's
// username or email local part. It returns a *PolicyError on failure.
func (p Policy) Check(s, username, email string) error {
	_, reasons := p.Validate(s)
	if p.RejectIdentity {
		lower := strings.ToLower(s)
		if u := strings.ToLower(strings.TrimSpace(username)); len(u) >= 3 && strings.Contains(lower, u) {
			reasons = append(reasons, "contains_username")
		}
		if at := strings.IndexByte(email, '@'); at >= 3 && strings.Contains(lower, strings.ToLower(email[:at])) {
			reasons = append(reasons, "contains_email")
		}
	}
	if len(reasons) > 0 {
		return &PolicyError{Reasons: reasons}
	}
	return nil
}
