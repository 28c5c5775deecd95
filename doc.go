// Package accountcore is the account identity and security core: password
// and OAuth sign-in, account lockout, single-use tokens, sessions, MFA and an
// append-only security activity log.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// accountcore is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (LoginResult, SessionInfo, AccountExport). Policy and state
// machines live under internal/: lockout and throttling in limiters, token
// lifecycle in tokens, sessions, OAuth linking in linker, the activity log and
// its audit fan-out. Persistence is behind the interfaces in package store.
//
// # What this package must NOT do
//
//   - Return password digests, token hashes or MFA secrets to callers.
//   - Report success for a security-sensitive operation whose activity item
//     was not persisted.
//   - Distinguish an unknown identifier from a wrong password.
//   - Import the HTTP, mail or provider adapters (they import accountcore).
//
// # Errors
//
// Every returned error matches one of the sentinels in errors.go;
// [ErrorKind] classifies them for transport adapters.
package accountcore
