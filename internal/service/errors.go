// Package service implements the note and account operations on top of the
// storage, attachment and auth packages.
package service

import "errors"

var (
	// ErrNotFound hides both missing notes and notes the actor may not see.
	ErrNotFound       = errors.New("not found")
	ErrBadCredentials = errors.New("invalid username or password")
	// ErrNotAdmin reports that the configured admin name belongs to a
	// regular account.
	ErrNotAdmin = errors.New("configured admin account lacks the admin role")
)
