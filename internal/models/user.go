package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an account able to own notes. Username is the primary key.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// SessionStamp changes whenever the account is recreated or its password is
// replaced, which invalidates every session issued before.
func (u *User) SessionStamp() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\x00%s", u.CreatedAt.UnixMicro(), u.PasswordHash)
	return hex.EncodeToString(h.Sum(nil)[:8])
}

func (u *User) Clone() *User {
	c := *u
	return &c
}
