package models

import (
	"strings"
	"time"
)

// Note is a single text note, optionally carrying one image attachment.
type Note struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Image     string    `json:"image,omitempty"`
	Pinned    bool      `json:"pinned"`
	Seq       int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteUpdate holds the mutable fields of a note. A nil Title leaves the
// stored title untouched.
type NoteUpdate struct {
	Text   string
	Title  *string
	Pinned bool
}

// NoteQuery scopes listing and searching. When All is set the Owner is
// ignored and every note is visible.
type NoteQuery struct {
	Owner  string
	All    bool
	Offset int
	Limit  int
}

// Visible reports whether the note falls inside the query's ownership scope.
func (q NoteQuery) Visible(n *Note) bool {
	return q.All || n.Owner == q.Owner
}

// Validate checks the fields required on every write.
func (n *Note) Validate() error {
	return ValidateText(n.Text)
}

// Validate checks the fields required on every write.
func (u NoteUpdate) Validate() error {
	return ValidateText(u.Text)
}

// ValidateText rejects empty and whitespace-only note bodies.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: "text", Message: "note text must not be empty"}
	}
	return nil
}

// Matches reports whether keyword occurs in the title or text, ignoring case.
func (n *Note) Matches(keyword string) bool {
	k := strings.ToLower(keyword)
	return strings.Contains(strings.ToLower(n.Title), k) ||
		strings.Contains(strings.ToLower(n.Text), k)
}

// Clone returns a copy that can be handed out without sharing state.
func (n *Note) Clone() *Note {
	c := *n
	return &c
}
