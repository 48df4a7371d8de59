package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/xaenox/memo-web/internal/models"
)

// snapshotFile mirrors the in-memory dataset to a JSON file. The file is
// rewritten wholesale through a temp file and rename, so readers never see
// a partial write.
type snapshotFile struct {
	path string
}

type snapshotDoc struct {
	Seq   int64          `json:"seq"`
	Users []snapshotUser `json:"users"`
	Notes []snapshotNote `json:"notes"`
}

type snapshotUser struct {
	Username     string      `json:"username"`
	PasswordHash string      `json:"password_hash"`
	Role         models.Role `json:"role"`
	CreatedAt    time.Time   `json:"created_at"`
}

type snapshotNote struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Image     string    `json:"image,omitempty"`
	Pinned    bool      `json:"pinned"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (f *snapshotFile) load() (*memState, error) {
	st := newMemState()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}

	st.seq = doc.Seq
	for _, u := range doc.Users {
		if _, dup := st.users[u.Username]; dup {
			continue
		}
		st.users[u.Username] = &models.User{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Role:         u.Role,
			CreatedAt:    u.CreatedAt,
		}
		st.order = append(st.order, u.Username)
	}
	for _, n := range doc.Notes {
		st.notes[n.ID] = &models.Note{
			ID:        n.ID,
			Owner:     n.Owner,
			Title:     n.Title,
			Text:      n.Text,
			Image:     n.Image,
			Pinned:    n.Pinned,
			Seq:       n.Seq,
			CreatedAt: n.CreatedAt,
			UpdatedAt: n.UpdatedAt,
		}
		if n.Seq > st.seq {
			st.seq = n.Seq
		}
	}
	return st, nil
}

func (f *snapshotFile) write(st *memState) error {
	doc := snapshotDoc{
		Seq:   st.seq,
		Users: make([]snapshotUser, 0, len(st.order)),
		Notes: make([]snapshotNote, 0, len(st.notes)),
	}
	for _, name := range st.order {
		u := st.users[name]
		doc.Users = append(doc.Users, snapshotUser{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Role:         u.Role,
			CreatedAt:    u.CreatedAt,
		})
	}

	notes := make([]*models.Note, 0, len(st.notes))
	for _, n := range st.notes {
		notes = append(notes, n)
	}
	sortNotes(notes)
	for _, n := range notes {
		doc.Notes = append(doc.Notes, snapshotNote{
			ID:        n.ID,
			Owner:     n.Owner,
			Title:     n.Title,
			Text:      n.Text,
			Image:     n.Image,
			Pinned:    n.Pinned,
			Seq:       n.Seq,
			CreatedAt: n.CreatedAt,
			UpdatedAt: n.UpdatedAt,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, data)
}

// writeFileAtomic replaces path with data via a temp file in the same
// directory followed by a rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
