package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/memo-web/internal/models"
)

// memState is the complete dataset. Records stored in the maps are never
// mutated in place; writers replace them, so a shallow copy of the maps is
// a consistent snapshot.
type memState struct {
	users map[string]*models.User
	order []string
	notes map[string]*models.Note
	seq   int64
}

func newMemState() *memState {
	return &memState{
		users: make(map[string]*models.User),
		notes: make(map[string]*models.Note),
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		users: make(map[string]*models.User, len(st.users)),
		order: append([]string(nil), st.order...),
		notes: make(map[string]*models.Note, len(st.notes)),
		seq:   st.seq,
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.notes {
		c.notes[k] = v
	}
	return c
}

// MemoryStorage keeps users and notes in process memory. When created with
// NewFileStorage every mutation is also mirrored to a snapshot file.
type MemoryStorage struct {
	mu    sync.RWMutex
	state *memState
	file  *snapshotFile
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{state: newMemState()}
}

// NewFileStorage loads the snapshot at path (if any) and mirrors every
// subsequent mutation back to it.
func NewFileStorage(path string) (*MemoryStorage, error) {
	file := &snapshotFile{path: path}
	state, err := file.load()
	if err != nil {
		return nil, err
	}
	return &MemoryStorage{state: state, file: file}, nil
}

// commit runs mutate under the caller's write lock and persists the result.
// If either step fails the previous state is restored.
func (s *MemoryStorage) commit(mutate func(st *memState) error) error {
	prev := s.state
	next := prev.clone()
	if err := mutate(next); err != nil {
		return err
	}
	if s.file != nil {
		if err := s.file.write(next); err != nil {
			return fmt.Errorf("persist snapshot: %w", err)
		}
	}
	s.state = next
	return nil
}

// User methods
func (s *MemoryStorage) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(func(st *memState) error {
		if _, exists := st.users[user.Username]; exists {
			return ErrDuplicateUsername
		}
		if user.CreatedAt.IsZero() {
			user.CreatedAt = time.Now().UTC()
		}
		st.users[user.Username] = user.Clone()
		st.order = append(st.order, user.Username)
		return nil
	})
}

func (s *MemoryStorage) GetUser(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if user, exists := s.state.users[username]; exists {
		return user.Clone(), nil
	}
	return nil, nil
}

func (s *MemoryStorage) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.state.users[username]; !exists {
		return nil
	}
	return s.commit(func(st *memState) error {
		user := st.users[username].Clone()
		user.PasswordHash = passwordHash
		st.users[username] = user
		return nil
	})
}

func (s *MemoryStorage) DeleteUser(ctx context.Context, username string) ([]*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.state.users[username]; !exists {
		return []*models.Note{}, nil
	}
	var removed []*models.Note
	err := s.commit(func(st *memState) error {
		removed = st.deleteNotesByOwner(username)
		delete(st.users, username)
		for i, name := range st.order {
			if name == username {
				st.order = append(st.order[:i], st.order[i+1:]...)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *MemoryStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*models.User, 0, len(s.state.order))
	for _, name := range s.state.order {
		users = append(users, s.state.users[name].Clone())
	}
	return users, nil
}

// Note methods
func (s *MemoryStorage) CreateNote(ctx context.Context, note *models.Note) error {
	if err := note.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := note.Clone()
	err := s.commit(func(st *memState) error {
		if _, exists := st.users[stored.Owner]; !exists {
			return fmt.Errorf("%w: %s", ErrUnknownOwner, stored.Owner)
		}
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		if _, exists := st.notes[stored.ID]; exists {
			return fmt.Errorf("note %s already exists", stored.ID)
		}
		now := time.Now().UTC()
		stored.Seq = st.seq + 1
		stored.CreatedAt = now
		stored.UpdatedAt = now
		st.seq = stored.Seq
		st.notes[stored.ID] = stored
		return nil
	})
	if err != nil {
		return err
	}
	*note = *stored.Clone()
	return nil
}

func (s *MemoryStorage) GetNote(ctx context.Context, id string) (*models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if note, exists := s.state.notes[id]; exists {
		return note.Clone(), nil
	}
	return nil, nil
}

func (s *MemoryStorage) UpdateNote(ctx context.Context, id string, update models.NoteUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.state.notes[id]; !exists {
		return nil
	}
	return s.commit(func(st *memState) error {
		note := st.notes[id].Clone()
		note.Text = update.Text
		note.Pinned = update.Pinned
		if update.Title != nil {
			note.Title = *update.Title
		}
		note.UpdatedAt = time.Now().UTC()
		st.notes[id] = note
		return nil
	})
}

func (s *MemoryStorage) DeleteNote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.state.notes[id]; !exists {
		return nil
	}
	return s.commit(func(st *memState) error {
		delete(st.notes, id)
		return nil
	})
}

func (s *MemoryStorage) ListNotes(ctx context.Context, query models.NoteQuery) ([]*models.Note, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	notes := s.collect(func(n *models.Note) bool { return query.Visible(n) })
	return window(notes, query.Offset, query.Limit), len(notes), nil
}

func (s *MemoryStorage) SearchNotes(ctx context.Context, query models.NoteQuery, keyword string) ([]*models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keyword = strings.TrimSpace(keyword)
	return s.collect(func(n *models.Note) bool {
		return query.Visible(n) && n.Matches(keyword)
	}), nil
}

func (s *MemoryStorage) DeleteNotesByOwner(ctx context.Context, owner string) ([]*models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*models.Note
	err := s.commit(func(st *memState) error {
		removed = st.deleteNotesByOwner(owner)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// deleteNotesByOwner drops owner's notes from st and returns them ordered.
func (st *memState) deleteNotesByOwner(owner string) []*models.Note {
	removed := []*models.Note{}
	for id, note := range st.notes {
		if note.Owner == owner {
			removed = append(removed, note.Clone())
			delete(st.notes, id)
		}
	}
	sortNotes(removed)
	return removed
}

// collect returns ordered copies of the notes accepted by keep. Callers
// hold at least the read lock.
func (s *MemoryStorage) collect(keep func(*models.Note) bool) []*models.Note {
	notes := make([]*models.Note, 0)
	for _, note := range s.state.notes {
		if keep(note) {
			notes = append(notes, note.Clone())
		}
	}
	sortNotes(notes)
	return notes
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
