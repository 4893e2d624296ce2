// Package users holds accounts: a username mapped to a bcrypt hash. Stores are
// repositories with put-if-absent semantics so registration cannot clobber an
// existing account.
package users

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrDuplicateUser      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrEmptyPassword      = errors.New("password must not be empty")
	ErrPasswordTooLong    = errors.New("password longer than 72 bytes")
)

// Store persists username -> password hash records.
type Store interface {
	// Get returns the stored hash or ErrNotFound.
	Get(ctx context.Context, username string) (string, error)
	// PutIfAbsent stores hash for username or fails with ErrDuplicateUser.
	PutIfAbsent(ctx context.Context, username, hash string) error
	Close() error
}

const (
	BackendJSON   = "json"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// DefaultPath returns the store location used when none is configured.
func DefaultPath(backend, stateDir string) string {
	switch backend {
	case BackendBadger:
		return filepath.Join(stateDir, "users.badger")
	case BackendSQLite:
		return filepath.Join(stateDir, "users.db")
	default:
		return filepath.Join(stateDir, "users.json")
	}
}

// Open opens the store for the named backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return OpenJSON(path)
	case BackendBadger:
		return OpenBadger(path)
	case BackendSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown users backend %q", backend)
	}
}
