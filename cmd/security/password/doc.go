// Package password hashes and verifies Twootr user secrets.
//
// New hashes are Argon2id in the PHC string format
// ($argon2id$v=19$m=..,t=..,p=..$salt$key). Bcrypt hashes ($2a$, $2b$, $2y$)
// imported from older directories still verify, and NeedsRehash reports them
// so callers can upgrade on the next successful logon.
//
// Stored hashes are untrusted input: Verify refuses parameters far above the
// configured cost.
package password
