package identity

import (
	"context"
	"sort"
	"sync"
)

// Directory stores one password hash per user id.
//
// Requirements:
//   - CreateUser fails with ConflictError if the id exists.
//   - PasswordHash and UpdatePasswordHash fail with NotFoundError for unknown ids.
type Directory interface {
	CreateUser(ctx context.Context, userID, passwordHash string) error
	PasswordHash(ctx context.Context, userID string) (string, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
	ListUsers(ctx context.Context) ([]string, error)
}

// MemoryDirectory is an in-process Directory for development and tests.
type MemoryDirectory struct {
	mu     sync.RWMutex
	hashes map[string]string
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory constructs an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{hashes: make(map[string]string)}
}

func (d *MemoryDirectory) CreateUser(ctx context.Context, userID, passwordHash string) error {
	const op = "identity.MemoryDirectory.CreateUser"
	if err := ctx.Err(); err != nil {
		return err
	}
	if passwordHash == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty password hash"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.hashes[userID]; ok {
		return ConflictError{Op: op, UserID: userID}
	}
	d.hashes[userID] = passwordHash
	return nil
}

func (d *MemoryDirectory) PasswordHash(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	h, ok := d.hashes[userID]
	if !ok {
		return "", NotFoundError{Op: "identity.MemoryDirectory.PasswordHash", UserID: userID}
	}
	return h, nil
}

func (d *MemoryDirectory) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	const op = "identity.MemoryDirectory.UpdatePasswordHash"
	if err := ctx.Err(); err != nil {
		return err
	}
	if passwordHash == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty password hash"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.hashes[userID]; !ok {
		return NotFoundError{Op: op, UserID: userID}
	}
	d.hashes[userID] = passwordHash
	return nil
}

// ListUsers returns every registered id in ascending order.
func (d *MemoryDirectory) ListUsers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.hashes))
	for id := range d.hashes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
