// Package jwt issues short-lived identity assertions for content tools.
//
// An assertion carries the user ID and session ID of an authenticated
// principal. Tools that cannot reach the account store verify it offline and
// treat a missing or invalid assertion as the guest identity.
package jwt
