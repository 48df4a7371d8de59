// Package auth issues and verifies session tokens and decides whether an
// actor may touch a resource.
package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/xaenox/memo-web/internal/models"
)

var ErrInvalidToken = errors.New("invalid session token")

// Claims identify the account a session belongs to. Role is informational;
// authorization always re-reads the stored user. Stamp ties the token to one
// incarnation of the account.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Stamp string `json:"stp"`
	jwt.RegisteredClaims
}

// Session is a verified token.
type Session struct {
	ID        string
	Username  string
	Stamp     string
	ExpiresAt time.Time
}

// Signer issues HS256 session tokens.
type Signer struct {
	Secret []byte
	Issuer string
	TTL    time.Duration

	now func() time.Time
}

func NewSigner(secret []byte, issuer string, ttl time.Duration) *Signer {
	return &Signer{Secret: secret, Issuer: issuer, TTL: ttl, now: time.Now}
}

func (s *Signer) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// Sign returns a token for user together with its session metadata.
func (s *Signer) Sign(user *models.User) (string, Session, error) {
	now := s.clock()
	sess := Session{
		ID:        uuid.NewString(),
		Username:  user.Username,
		Stamp:     user.SessionStamp(),
		ExpiresAt: now.Add(s.TTL),
	}
	claims := Claims{
		Role:  string(user.Role),
		Stamp: sess.Stamp,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   user.Username,
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("sign session: %w", err)
	}
	return token, sess, nil
}

// Parse verifies signature, issuer and expiry.
func (s *Signer) Parse(tokenStr string) (Session, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) { return s.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" || claims.ID == "" || claims.Stamp == "" {
		return Session{}, ErrInvalidToken
	}
	return Session{
		ID:        claims.ID,
		Username:  claims.Subject,
		Stamp:     claims.Stamp,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
