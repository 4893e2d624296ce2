package users

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"filebox/internal/sandbox"
)

const maxPasswordBytes = 72

// Service registers and authenticates accounts against a Store.
type Service struct {
	Store Store
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int

	dummy []byte
}

func NewService(store Store, cost int) (*Service, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("invalid bcrypt cost %d (min=%d max=%d)", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	// compared against when the user does not exist, so unknown names cost
	// the same as wrong passwords
	dummy, err := bcrypt.GenerateFromPassword([]byte("filebox-dummy-password"), cost)
	if err != nil {
		return nil, err
	}
	return &Service{Store: store, Cost: cost, dummy: dummy}, nil
}

// Register creates a new account. An existing username fails with
// ErrDuplicateUser and its stored hash is left as it was.
func (s *Service) Register(ctx context.Context, username, password string) error {
	if !sandbox.ValidUsername(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	if password == "" {
		return ErrEmptyPassword
	}
	// bcrypt only reads the first 72 bytes
	if len(password) > maxPasswordBytes {
		return ErrPasswordTooLong
	}
	if _, err := s.Store.Get(ctx, username); err == nil {
		return ErrDuplicateUser
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.Cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return ErrPasswordTooLong
	}
	if err != nil {
		return fmt.Errorf("bcrypt: %w", err)
	}
	return s.Store.PutIfAbsent(ctx, username, string(h))
}

// Authenticate returns nil if password matches the stored hash for username,
// otherwise ErrInvalidCredentials. Store failures are returned as-is.
func (s *Service) Authenticate(ctx context.Context, username, password string) error {
	h, err := s.Store.Get(ctx, username)
	if errors.Is(err, ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Verify is Authenticate reduced to a bool.
func (s *Service) Verify(ctx context.Context, username, password string) bool {
	return s.Authenticate(ctx, username, password) == nil
}
