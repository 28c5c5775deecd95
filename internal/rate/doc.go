// Package rate counts events per key in Redis fixed windows.
//
// A window opens on the first hit (INCR plus EXPIRE NX in one transaction)
// and later hits never move it. Keys are stored under the "acr:" prefix;
// the caller picks everything after it. Budgets per flow live in
// internal/limiters.
package rate
