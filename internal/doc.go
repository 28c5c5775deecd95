// Package internal contains helpers private to accountcore: random token
// generation and hashing.
//
// # Sub-packages
//
//   - audit: async fan-out of activity items to sinks
//   - limiters: lockout policy and request throttles
//   - rate: Redis fixed-window counters
//   - tokens: single-use token lifecycle
//   - sessions: session issuance and validation
//   - linker: OAuth account linking
//   - activity: the security activity log
//   - logger, appconfig: service wiring
package internal
