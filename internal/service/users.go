package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xaenox/memo-web/internal/auth"
	"github.com/xaenox/memo-web/internal/models"
	"github.com/xaenox/memo-web/internal/storage"
)

// DefaultResetPassword is what ResetPassword sets when none is configured.
const DefaultResetPassword = "123"

// UserStore manages credential records. Passwords only ever reach the
// repository as bcrypt hashes.
type UserStore struct {
	repo          storage.UserRepository
	hasher        *auth.Hasher
	resetPassword string
}

func NewUserStore(repo storage.UserRepository, hasher *auth.Hasher, resetPassword string) *UserStore {
	if resetPassword == "" {
		resetPassword = DefaultResetPassword
	}
	return &UserStore{
		repo:          repo,
		hasher:        hasher,
		resetPassword: resetPassword,
	}
}

func (s *UserStore) Create(ctx context.Context, username, password string) (*models.User, error) {
	return s.create(ctx, username, password, models.RoleUser)
}

func (s *UserStore) create(ctx context.Context, username, password string, role models.Role) (*models.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Find returns nil, nil when the user does not exist.
func (s *UserStore) Find(ctx context.Context, username string) (*models.User, error) {
	return s.repo.GetUser(ctx, username)
}

// GetUser lets the store act as an auth.UserFinder.
func (s *UserStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	return s.Find(ctx, username)
}

// Verify returns the user when password matches, and nil, nil otherwise.
func (s *UserStore) Verify(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.repo.GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	var hash string
	if user != nil {
		hash = user.PasswordHash
	}
	if !s.hasher.Compare(hash, password) {
		return nil, nil
	}
	return user, nil
}

func (s *UserStore) ResetPassword(ctx context.Context, username string) error {
	hash, err := s.hasher.Hash(s.resetPassword)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}
	return s.repo.UpdatePassword(ctx, username, hash)
}

// Delete removes the account together with its notes and returns the notes
// so their attachments can be cleaned up.
func (s *UserStore) Delete(ctx context.Context, username string) ([]*models.Note, error) {
	return s.repo.DeleteUser(ctx, username)
}

func (s *UserStore) List(ctx context.Context) ([]*models.User, error) {
	return s.repo.ListUsers(ctx)
}

// EnsureAdmin creates the admin account when it does not exist yet. An
// existing account keeps its password; if it is not an admin, ErrNotAdmin is
// returned so the caller can warn about it.
func (s *UserStore) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	existing, err := s.repo.GetUser(ctx, username)
	if err != nil {
		return false, fmt.Errorf("error loading admin: %w", err)
	}
	if existing != nil {
		if existing.Role != models.RoleAdmin {
			return false, fmt.Errorf("%w: %s", ErrNotAdmin, username)
		}
		return false, nil
	}
	if _, err := s.create(ctx, username, password, models.RoleAdmin); err != nil {
		return false, fmt.Errorf("error creating admin: %w", err)
	}
	return true, nil
}
