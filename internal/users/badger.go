package users

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps accounts in an embedded BadgerDB under keys "user/<name>".
type BadgerStore struct {
	db *badger.DB
}

func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.WARNING).
		WithNumVersionsToKeep(1)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func userKey(username string) []byte {
	return []byte("user/" + username)
}

func (s *BadgerStore) Get(ctx context.Context, username string) (string, error) {
	var hash string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			hash = string(val)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (s *BadgerStore) PutIfAbsent(ctx context.Context, username, hash string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(username))
		if err == nil {
			return ErrDuplicateUser
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(userKey(username), []byte(hash))
	})
	// two racing registrations: the loser's commit fails the conflict check
	if errors.Is(err, badger.ErrConflict) {
		return ErrDuplicateUser
	}
	return err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
