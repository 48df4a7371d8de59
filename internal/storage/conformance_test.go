package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/memo-web/internal/models"
	"go.uber.org/zap"
)

type backendFactory func(t *testing.T) Storage

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) Storage {
			return NewMemoryStorage()
		},
		"file": func(t *testing.T) Storage {
			s, err := NewFileStorage(filepath.Join(t.TempDir(), "store.json"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Storage {
			s, err := NewGormStorage("sqlite", filepath.Join(t.TempDir(), "memo.db"), zap.NewNop())
			require.NoError(t, err)
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Storage)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func ensureUser(t *testing.T, s Storage, username string) {
	t.Helper()
	ctx := context.Background()
	user, err := s.GetUser(ctx, username)
	require.NoError(t, err)
	if user == nil {
		require.NoError(t, s.CreateUser(ctx, &models.User{Username: username, PasswordHash: "hash", Role: models.RoleUser}))
	}
}

func mustCreateNote(t *testing.T, s Storage, owner, text string, pinned bool) *models.Note {
	t.Helper()
	ensureUser(t, s, owner)
	note := &models.Note{Owner: owner, Text: text, Pinned: pinned}
	require.NoError(t, s.CreateNote(context.Background(), note))
	return note
}

func TestUsers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		require.NoError(t, s.CreateUser(ctx, &models.User{Username: "alice", PasswordHash: "h1", Role: models.RoleUser}))
		require.NoError(t, s.CreateUser(ctx, &models.User{Username: "bob", PasswordHash: "h2", Role: models.RoleUser}))
		require.NoError(t, s.CreateUser(ctx, &models.User{Username: "Alice", PasswordHash: "h3", Role: models.RoleUser}))

		err := s.CreateUser(ctx, &models.User{Username: "alice", PasswordHash: "other", Role: models.RoleAdmin})
		assert.ErrorIs(t, err, ErrDuplicateUsername)

		alice, err := s.GetUser(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, alice)
		assert.Equal(t, "h1", alice.PasswordHash)
		assert.Equal(t, models.RoleUser, alice.Role)

		missing, err := s.GetUser(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, missing)

		require.NoError(t, s.UpdatePassword(ctx, "bob", "h2-new"))
		bob, err := s.GetUser(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, "h2-new", bob.PasswordHash)

		users, err := s.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 3)
		assert.Equal(t, []string{"alice", "bob", "Alice"},
			[]string{users[0].Username, users[1].Username, users[2].Username})

		removed, err := s.DeleteUser(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, removed)
		removed, err = s.DeleteUser(ctx, "bob")
		require.NoError(t, err)
		assert.NotNil(t, removed)
		assert.Empty(t, removed)
		bob, err = s.GetUser(ctx, "bob")
		require.NoError(t, err)
		assert.Nil(t, bob)
	})
}

func TestNoteLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		ensureUser(t, s, "alice")

		note := &models.Note{Owner: "alice", Title: "t", Text: "hello", Image: "/uploads/x.png"}
		require.NoError(t, s.CreateNote(ctx, note))
		assert.NotEmpty(t, note.ID)
		assert.NotZero(t, note.Seq)

		got, err := s.GetNote(ctx, note.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "hello", got.Text)
		assert.Equal(t, "/uploads/x.png", got.Image)
		assert.False(t, got.Pinned)

		require.NoError(t, s.UpdateNote(ctx, note.ID, models.NoteUpdate{Text: "edited", Pinned: true}))
		got, err = s.GetNote(ctx, note.ID)
		require.NoError(t, err)
		assert.Equal(t, "edited", got.Text)
		assert.Equal(t, "t", got.Title, "nil title leaves title untouched")
		assert.True(t, got.Pinned)
		assert.Equal(t, "alice", got.Owner)
		assert.Equal(t, "/uploads/x.png", got.Image)

		title := "new title"
		require.NoError(t, s.UpdateNote(ctx, note.ID, models.NoteUpdate{Text: "edited", Title: &title}))
		got, err = s.GetNote(ctx, note.ID)
		require.NoError(t, err)
		assert.Equal(t, "new title", got.Title)

		require.NoError(t, s.UpdateNote(ctx, "missing", models.NoteUpdate{Text: "x"}))

		require.NoError(t, s.DeleteNote(ctx, note.ID))
		got, err = s.GetNote(ctx, note.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		require.NoError(t, s.DeleteNote(ctx, note.ID))
	})
}

func TestNoteValidation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		ensureUser(t, s, "alice")

		for _, text := range []string{"", "   ", "\n\t"} {
			err := s.CreateNote(ctx, &models.Note{Owner: "alice", Text: text})
			var verr *models.ValidationError
			assert.ErrorAs(t, err, &verr)
		}

		_, total, err := s.ListNotes(ctx, models.NoteQuery{All: true})
		require.NoError(t, err)
		assert.Zero(t, total)

		note := mustCreateNote(t, s, "alice", "body", false)
		err = s.UpdateNote(ctx, note.ID, models.NoteUpdate{Text: "  "})
		var verr *models.ValidationError
		assert.ErrorAs(t, err, &verr)

		got, err := s.GetNote(ctx, note.ID)
		require.NoError(t, err)
		assert.Equal(t, "body", got.Text)
	})
}

func TestListNotesOrderingAndPaging(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		var pinned []string
		for i := 0; i < 12; i++ {
			n := mustCreateNote(t, s, "alice", fmt.Sprintf("note %d", i), i%4 == 3)
			if n.Pinned {
				pinned = append(pinned, n.ID)
			}
		}
		mustCreateNote(t, s, "bob", "bob's note", true)

		q := models.NoteQuery{Owner: "alice", Limit: models.PageSize}

		page1, total, err := s.ListNotes(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, 12, total)
		require.Len(t, page1, 5)
		for i, id := range pinned {
			assert.Equal(t, id, page1[i].ID)
		}
		for _, n := range page1[len(pinned):] {
			assert.False(t, n.Pinned)
		}
		assert.Equal(t, "note 0", page1[3].Text)

		q.Offset = models.PageOffset(3)
		page3, _, err := s.ListNotes(ctx, q)
		require.NoError(t, err)
		require.Len(t, page3, 2)
		assert.Equal(t, "note 9", page3[0].Text)
		assert.Equal(t, "note 10", page3[1].Text)

		q.Offset = models.PageOffset(4)
		page4, _, err := s.ListNotes(ctx, q)
		require.NoError(t, err)
		assert.Empty(t, page4)

		all, total, err := s.ListNotes(ctx, models.NoteQuery{All: true})
		require.NoError(t, err)
		assert.Equal(t, 13, total)
		assert.Len(t, all, 13)
		assert.True(t, all[0].Pinned)
	})
}

func TestSearchNotes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		mustCreateNote(t, s, "alice", "Hello World", false)
		titled := &models.Note{Owner: "alice", Title: "HELLO title", Text: "body"}
		require.NoError(t, s.CreateNote(ctx, titled))
		mustCreateNote(t, s, "alice", "unrelated", false)
		mustCreateNote(t, s, "bob", "hello from bob", false)

		own, err := s.SearchNotes(ctx, models.NoteQuery{Owner: "alice"}, "hello")
		require.NoError(t, err)
		assert.Len(t, own, 2)
		for _, n := range own {
			assert.Equal(t, "alice", n.Owner)
		}

		all, err := s.SearchNotes(ctx, models.NoteQuery{All: true}, "HeLLo")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		literal, err := s.SearchNotes(ctx, models.NoteQuery{All: true}, "h.llo")
		require.NoError(t, err)
		assert.Empty(t, literal)
	})
}

func TestDeleteNotesByOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		mustCreateNote(t, s, "alice", "a1", false)
		mustCreateNote(t, s, "alice", "a2", true)
		bob := mustCreateNote(t, s, "bob", "b1", false)

		removed, err := s.DeleteNotesByOwner(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, removed, 2)

		left, total, err := s.ListNotes(ctx, models.NoteQuery{All: true})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, bob.ID, left[0].ID)

		removed, err = s.DeleteNotesByOwner(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, removed)
	})
}

func TestConcurrentWrites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		if _, ok := s.(*GormStorage); ok {
			t.Skip("sqlite serializes writers with database locks")
		}
		ctx := context.Background()
		ensureUser(t, s, "alice")

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = s.CreateNote(ctx, &models.Note{Owner: "alice", Text: fmt.Sprintf("n%d", i)})
			}(i)
		}
		wg.Wait()

		_, total, err := s.ListNotes(ctx, models.NoteQuery{Owner: "alice"})
		require.NoError(t, err)
		assert.Equal(t, 20, total)
	})
}

func TestCreateNoteUnknownOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		note := &models.Note{Owner: "ghost", Text: "orphan"}
		err := s.CreateNote(ctx, note)
		assert.ErrorIs(t, err, ErrUnknownOwner)
		assert.Empty(t, note.ID, "failed insert leaves the caller's note untouched")

		_, total, err := s.ListNotes(ctx, models.NoteQuery{All: true})
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}

func TestDeleteUserRemovesNotes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		mustCreateNote(t, s, "alice", "a1", false)
		pinned := mustCreateNote(t, s, "alice", "a2", true)
		bob := mustCreateNote(t, s, "bob", "b1", false)

		removed, err := s.DeleteUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, removed, 2)
		assert.Equal(t, pinned.ID, removed[0].ID)

		user, err := s.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Nil(t, user)

		left, total, err := s.ListNotes(ctx, models.NoteQuery{All: true})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, bob.ID, left[0].ID)

		err = s.CreateNote(ctx, &models.Note{Owner: "alice", Text: "late"})
		assert.ErrorIs(t, err, ErrUnknownOwner)
	})
}

func TestDeleteUserRacesCreateNote(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		if _, ok := s.(*GormStorage); ok {
			t.Skip("sqlite serializes writers with database locks")
		}
		ctx := context.Background()
		ensureUser(t, s, "alice")

		var (
			wg      sync.WaitGroup
			removed []*models.Note
			delErr  error
		)
		start := make(chan struct{})
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_ = s.CreateNote(ctx, &models.Note{Owner: "alice", Text: fmt.Sprintf("n%d", i)})
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			removed, delErr = s.DeleteUser(ctx, "alice")
		}()
		close(start)
		wg.Wait()
		require.NoError(t, delErr)

		_, total, err := s.ListNotes(ctx, models.NoteQuery{Owner: "alice"})
		require.NoError(t, err)
		assert.Zero(t, total, "no note outlives its owner")
		assert.LessOrEqual(t, len(removed), 20)
	})
}
