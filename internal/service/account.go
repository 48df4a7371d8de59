package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/memo-web/internal/audit"
	"github.com/xaenox/memo-web/internal/auth"
	"github.com/xaenox/memo-web/internal/models"
	"github.com/xaenox/memo-web/internal/storage"
	"go.uber.org/zap"
)

// AccountService handles registration and sessions. None of its operations
// require an authenticated actor.
type AccountService struct {
	users    *UserStore
	signer   *auth.Signer
	access   *auth.AccessControl
	recorder audit.Recorder
	logger   *zap.Logger
}

func NewAccountService(users *UserStore, signer *auth.Signer, access *auth.AccessControl, recorder audit.Recorder, logger *zap.Logger) *AccountService {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &AccountService{
		users:    users,
		signer:   signer,
		access:   access,
		recorder: recorder,
		logger:   logger,
	}
}

func (s *AccountService) Register(ctx context.Context, username, password, confirm string) (*models.User, error) {
	switch {
	case strings.TrimSpace(username) == "":
		return nil, &models.ValidationError{Field: "username", Message: "username is required"}
	case password == "":
		return nil, &models.ValidationError{Field: "password", Message: "password is required"}
	case password != confirm:
		return nil, &models.ValidationError{Field: "confirmPassword", Message: "passwords do not match"}
	}

	user, err := s.users.Create(ctx, username, password)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateUsername) {
			return nil, err
		}
		return nil, fmt.Errorf("error registering user: %w", err)
	}

	s.logger.Info("User registered", zap.String("username", username))
	s.recorder.Record(ctx, audit.Entry{
		Actor:  username,
		Action: audit.ActionRegister,
		Target: username,
		Time:   user.CreatedAt,
	})
	return user, nil
}

// Login checks the credentials and issues a session token.
func (s *AccountService) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.users.Verify(ctx, username, password)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		s.logger.Info("Failed login", zap.String("username", username))
		return "", nil, ErrBadCredentials
	}

	token, _, err := s.signer.Sign(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// SessionTTL is the lifetime of tokens issued by Login.
func (s *AccountService) SessionTTL() time.Duration {
	return s.signer.TTL
}

// Logout revokes token until it would have expired anyway.
func (s *AccountService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.access.Revoke(ctx, token); err != nil {
		return fmt.Errorf("error revoking session: %w", err)
	}
	return nil
}
