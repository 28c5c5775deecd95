// Package middleware adapts accountcore.Engine to net/http.
//
// # Guards
//
//   - [RequireSession] rejects requests without a valid session handle and
//     puts the [accountcore.Principal] on the request context.
//   - [ResolveIdentity] never rejects; it attaches the caller's
//     [accountcore.Identity], the guest identity when unauthenticated.
//   - [RequireAssertion] verifies a signed identity assertion without any
//     store access, for content tools running apart from the account service.
//
// [ClientMeta] records the caller's IP and User-Agent so the Engine can
// stamp sessions and activity entries.
//
// This package translates HTTP semantics into Engine calls. It makes no
// authentication decisions of its own.
package middleware
