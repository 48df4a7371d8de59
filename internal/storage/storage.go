package storage

import (
	"context"
	"errors"

	"github.com/xaenox/memo-web/internal/models"
)

var (
	ErrDuplicateUsername = errors.New("username already exists")
	ErrUnknownDriver     = errors.New("unknown storage driver")
	// ErrUnknownOwner is returned when a note is created for a user that
	// does not exist, including one removed while the request was running.
	ErrUnknownOwner = errors.New("note owner does not exist")
)

// Storage is the persistence backend shared by every request handler.
type Storage interface {
	UserRepository
	NoteRepository
	Close() error
}

// UserRepository stores user credential records keyed by username.
// Lookups of missing users return nil without an error. DeleteUser removes
// the user together with every note they own in one atomic step and returns
// the removed notes. A CreateNote racing it either lands first and is
// removed, or fails with ErrUnknownOwner.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, username string) (*models.User, error)
	UpdatePassword(ctx context.Context, username, passwordHash string) error
	DeleteUser(ctx context.Context, username string) ([]*models.Note, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
}

// NoteRepository stores notes. Listings are ordered pinned first, then by
// insertion order. CreateNote fails with ErrUnknownOwner when the owner is
// not a stored user.
type NoteRepository interface {
	CreateNote(ctx context.Context, note *models.Note) error
	GetNote(ctx context.Context, id string) (*models.Note, error)
	UpdateNote(ctx context.Context, id string, update models.NoteUpdate) error
	DeleteNote(ctx context.Context, id string) error
	ListNotes(ctx context.Context, query models.NoteQuery) ([]*models.Note, int, error)
	SearchNotes(ctx context.Context, query models.NoteQuery, keyword string) ([]*models.Note, error)
	DeleteNotesByOwner(ctx context.Context, owner string) ([]*models.Note, error)
}
