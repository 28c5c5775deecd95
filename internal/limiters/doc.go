// Package limiters holds the account protection policies.
//
//   - [LockoutPolicy] decides failed-login lockout transitions. It is pure:
//     state lives on the user record and is persisted by the caller.
//   - [Throttle] applies Redis-backed request budgets (login per IP, signup
//     per IP, reset and verification requests per email, MFA submissions per
//     challenge) on top of internal/rate.
//
// A nil *Throttle allows every request.
package limiters
