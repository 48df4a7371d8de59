package service

import (
	"context"
	"fmt"

	"github.com/xaenox/memo-web/internal/audit"
	"github.com/xaenox/memo-web/internal/auth"
	"github.com/xaenox/memo-web/internal/models"
	"go.uber.org/zap"
)

// RemoveUser deletes the account of target together with its notes, then
// their attachments.
func (s *NoteService) RemoveUser(ctx context.Context, actor auth.Actor, target string) error {
	if err := auth.RequireAdmin(actor); err != nil {
		return err
	}
	if target == actor.Username {
		return &models.ValidationError{Field: "username", Message: "cannot remove your own account"}
	}

	user, err := s.users.Find(ctx, target)
	if err != nil {
		return fmt.Errorf("error loading user: %w", err)
	}
	if user == nil {
		return ErrNotFound
	}

	removed, err := s.users.Delete(ctx, target)
	if err != nil {
		return fmt.Errorf("error deleting user: %w", err)
	}
	for _, note := range removed {
		s.removeAttachment(note)
	}

	s.logger.Info("User removed",
		zap.String("username", target),
		zap.Int("notes", len(removed)),
		zap.String("actor", actor.Username))
	s.record(ctx, actor, audit.ActionRemoveUser, target)
	return nil
}

// ResetUserPassword sets target's password to the configured reset value.
func (s *NoteService) ResetUserPassword(ctx context.Context, actor auth.Actor, target string) error {
	if err := auth.RequireAdmin(actor); err != nil {
		return err
	}

	user, err := s.users.Find(ctx, target)
	if err != nil {
		return fmt.Errorf("error loading user: %w", err)
	}
	if user == nil {
		return ErrNotFound
	}

	if err := s.users.ResetPassword(ctx, target); err != nil {
		return fmt.Errorf("error resetting password: %w", err)
	}
	s.record(ctx, actor, audit.ActionResetPassword, target)
	return nil
}

func (s *NoteService) ListUsers(ctx context.Context, actor auth.Actor) ([]*models.User, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	return users, nil
}
