package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dantte-lp/gobancho/internal/state"
)

// -------------------------------------------------------------------------
// User Repository Errors
// -------------------------------------------------------------------------

var (
	// ErrUserNotFound indicates no user row matches the name.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserBackend indicates the backing store failed.
	ErrUserBackend = errors.New("user repository backend error")

	// ErrNotSupported marks operations the repository does not implement
	// yet. Password writes are one: the write path is undefined upstream,
	// so the repository refuses rather than guessing.
	ErrNotSupported = errors.New("operation not supported")
)

// -------------------------------------------------------------------------
// User Repository Contract
// -------------------------------------------------------------------------

// UserRow is the subset of the user record the gateway needs for login.
type UserRow struct {
	ID          int32  `json:"id"`
	Name        string `json:"name"`
	NameUnicode string `json:"name_unicode,omitempty"`
	Argon2Hash  string `json:"argon2_hash"`
	Privileges  int32  `json:"privileges"`
	Country     string `json:"country"`
}

// UserRepository looks up and maintains user rows.
type UserRepository interface {
	// FindByUsername resolves a normalized name or unicode name to a
	// row. Returns ErrUserNotFound when neither matches.
	FindByUsername(ctx context.Context, name, nameUnicode string) (UserRow, error)

	// ChangeUserPassword replaces a user's password hash.
	ChangeUserPassword(ctx context.Context, userID int32, argon2Hash string) error
}

// -------------------------------------------------------------------------
// Local Implementation
// -------------------------------------------------------------------------

// LocalUserRepository is an in-memory repository for standalone mode
// and tests. Rows are keyed by normalized username.
type LocalUserRepository struct {
	mu        sync.RWMutex
	byName    map[string]UserRow
	byUnicode map[string]UserRow
}

// NewLocalUserRepository returns an empty repository.
func NewLocalUserRepository() *LocalUserRepository {
	return &LocalUserRepository{
		byName:    make(map[string]UserRow),
		byUnicode: make(map[string]UserRow),
	}
}

// Seed inserts or replaces a row.
func (r *LocalUserRepository) Seed(row UserRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[state.NormalizeUsername(row.Name)] = row
	if row.NameUnicode != "" {
		r.byUnicode[state.NormalizeUsername(row.NameUnicode)] = row
	}
}

// FindByUsername implements UserRepository.
func (r *LocalUserRepository) FindByUsername(_ context.Context, name, nameUnicode string) (UserRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name != "" {
		if row, ok := r.byName[state.NormalizeUsername(name)]; ok {
			return row, nil
		}
	}
	if nameUnicode != "" {
		if row, ok := r.byUnicode[state.NormalizeUsername(nameUnicode)]; ok {
			return row, nil
		}
	}
	return UserRow{}, fmt.Errorf("find user %q: %w", name, ErrUserNotFound)
}

// ChangeUserPassword implements UserRepository. The write path is
// intentionally unimplemented; callers receive ErrNotSupported.
func (r *LocalUserRepository) ChangeUserPassword(_ context.Context, userID int32, _ string) error {
	return fmt.Errorf("change password for user %d: %w", userID, ErrNotSupported)
}
