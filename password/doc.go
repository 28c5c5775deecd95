// Package password implements password hashing with Argon2id and the strength
// policy applied to new passwords.
//
// # Storage format
//
// A [Digest] keeps the salt and the derived key apart so they can be stored in
// separate columns. Params records the algorithm and cost:
//
//	argon2id$v=19$m=<memory>,t=<time>,p=<threads>
//
// [Argon2.NeedsUpgrade] reports digests produced with weaker parameters so the
// caller can re-hash on the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Log plaintext passwords.
package password
