package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"twootr/cmd/security/password"
)

// Verifier checks user secrets against a Directory. It implements
// twootr.CredentialVerifier.
type Verifier struct {
	log *slog.Logger
	dir Directory
	pw  password.Config

	// dummyHash is verified against when the user is unknown so both
	// failure paths cost one hash computation.
	dummyHash string
}

// NewVerifier constructs a Verifier using pw for new and upgraded hashes.
func NewVerifier(log *slog.Logger, dir Directory, pw password.Config) (*Verifier, error) {
	if dir == nil {
		return nil, errors.New("identity: nil directory")
	}
	if log == nil {
		log = slog.Default()
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("identity: dummy secret: %w", err)
	}
	dummyPolicy := pw
	dummyPolicy.Policy = password.Policy{MinLength: 1, MaxLength: 256}
	dummy, err := dummyPolicy.Hash(hex.EncodeToString(buf))
	if err != nil {
		return nil, fmt.Errorf("identity: dummy hash: %w", err)
	}

	return &Verifier{log: log, dir: dir, pw: pw, dummyHash: dummy}, nil
}

// Verify returns (true, nil) only for a known user with a matching secret.
// Unknown users, malformed ids and wrong secrets all yield (false, nil).
// Only directory failures are returned as errors.
func (v *Verifier) Verify(ctx context.Context, userID, secret string) (bool, error) {
	if err := ValidateUserID(userID); err != nil {
		v.burn(secret)
		return false, nil
	}

	hash, err := v.dir.PasswordHash(ctx, userID)
	if IsNotFound(err) {
		v.burn(secret)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("identity.Verify: %w", err)
	}

	ok, err := v.pw.Verify(hash, secret)
	if err != nil {
		v.log.Warn("identity.verify.bad_hash", "user_id", userID, "err", err)
		return false, nil
	}
	if ok && v.pw.NeedsRehash(hash) {
		v.upgrade(ctx, userID, secret)
	}
	return ok, nil
}

// Register hashes secret and creates userID in the directory.
func (v *Verifier) Register(ctx context.Context, userID, secret string) error {
	const op = "identity.Register"

	if err := ValidateUserID(userID); err != nil {
		return err
	}
	hash, err := v.pw.Hash(secret)
	if err != nil {
		return fmt.Errorf("%w: %w", OpError{Op: op, Kind: ErrInvalidInput, Msg: "secret rejected"}, err)
	}
	if err := v.dir.CreateUser(ctx, userID, hash); err != nil {
		return err
	}

	v.log.Info("identity.user.registered", "user_id", userID)
	return nil
}

func (v *Verifier) burn(secret string) {
	_, _ = v.pw.Verify(v.dummyHash, secret)
}

// upgrade replaces a legacy or weaker hash after a successful verify.
// Failures are logged; the logon itself already succeeded.
func (v *Verifier) upgrade(ctx context.Context, userID, secret string) {
	hash, err := v.pw.Hash(secret)
	if err != nil {
		v.log.Debug("identity.rehash.skip", "user_id", userID, "err", err)
		return
	}
	if err := v.dir.UpdatePasswordHash(ctx, userID, hash); err != nil {
		v.log.Warn("identity.rehash.fail", "user_id", userID, "err", err)
		return
	}
	v.log.Info("identity.rehash.ok", "user_id", userID)
}
