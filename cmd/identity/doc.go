// Package identity is Twootr's credential backend: user id rules, a user
// directory (in-memory or Postgres) holding password hashes, and a Verifier
// that implements twootr.CredentialVerifier on top of them.
//
// Failed verification never reveals whether the user exists.
package identity
