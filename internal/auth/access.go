package auth

import (
	"context"
	"errors"

	"github.com/xaenox/memo-web/internal/models"
	"go.uber.org/zap"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")
)

// Actor is the identity performing an operation. The zero value is the
// anonymous actor.
type Actor struct {
	Username string
	Admin    bool
}

var Anonymous = Actor{}

func (a Actor) Authenticated() bool {
	return a.Username != ""
}

// UserFinder looks users up by username, returning nil when absent.
type UserFinder interface {
	GetUser(ctx context.Context, username string) (*models.User, error)
}

// AccessControl turns session tokens into actors.
type AccessControl struct {
	signer  *Signer
	revoker Revoker
	users   UserFinder
	logger  *zap.Logger
}

func NewAccessControl(signer *Signer, revoker Revoker, users UserFinder, logger *zap.Logger) *AccessControl {
	return &AccessControl{signer: signer, revoker: revoker, users: users, logger: logger}
}

// ResolveActor verifies token and loads its user. Any failure yields
// Anonymous, including a valid token for a user that no longer exists or
// whose account was recreated or had its password reset since.
func (ac *AccessControl) ResolveActor(ctx context.Context, token string) Actor {
	if token == "" {
		return Anonymous
	}

	sess, err := ac.signer.Parse(token)
	if err != nil {
		ac.logger.Debug("Rejected session token", zap.Error(err))
		return Anonymous
	}

	revoked, err := ac.revoker.IsRevoked(ctx, sess.ID)
	if err != nil {
		ac.logger.Error("Failed to check session revocation",
			zap.Error(err),
			zap.String("username", sess.Username))
		return Anonymous
	}
	if revoked {
		return Anonymous
	}

	user, err := ac.users.GetUser(ctx, sess.Username)
	if err != nil {
		ac.logger.Error("Failed to load session user",
			zap.Error(err),
			zap.String("username", sess.Username))
		return Anonymous
	}
	if user == nil {
		return Anonymous
	}
	if user.SessionStamp() != sess.Stamp {
		ac.logger.Debug("Rejected stale session token",
			zap.String("username", sess.Username))
		return Anonymous
	}
	return Actor{Username: user.Username, Admin: user.IsAdmin()}
}

// Revoke ends the session behind token. Invalid tokens are ignored.
func (ac *AccessControl) Revoke(ctx context.Context, token string) error {
	sess, err := ac.signer.Parse(token)
	if err != nil {
		return nil
	}
	return ac.revoker.Revoke(ctx, sess.ID, sess.ExpiresAt)
}

// Authorize allows admins and the owner of a resource.
func Authorize(actor Actor, owner string) error {
	if !actor.Authenticated() {
		return ErrUnauthenticated
	}
	if actor.Admin || actor.Username == owner {
		return nil
	}
	return ErrForbidden
}

// RequireAdmin allows admins only.
func RequireAdmin(actor Actor) error {
	if !actor.Authenticated() {
		return ErrUnauthenticated
	}
	if !actor.Admin {
		return ErrForbidden
	}
	return nil
}
