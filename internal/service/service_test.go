package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/memo-web/internal/attachment"
	"github.com/xaenox/memo-web/internal/audit"
	"github.com/xaenox/memo-web/internal/auth"
	"github.com/xaenox/memo-web/internal/models"
	"github.com/xaenox/memo-web/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	admin = auth.Actor{Username: "admin", Admin: true}
	alice = auth.Actor{Username: "alice"}
	bob   = auth.Actor{Username: "bob"}
)

type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Record(ctx context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Actor+" "+e.Action)
	}
	return out
}

type fixture struct {
	store    storage.Storage
	users    *UserStore
	files    *attachment.FileStore
	notes    *NoteService
	accounts *AccountService
	audit    *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	store := storage.NewMemoryStorage()
	users := NewUserStore(store, auth.NewHasher(bcrypt.MinCost), "")
	files, err := attachment.NewFileStore(attachment.Config{Root: t.TempDir()}, logger)
	require.NoError(t, err)

	rec := &recorder{}
	signer := auth.NewSigner([]byte("test-secret"), "memo-web", time.Hour)
	access := auth.NewAccessControl(signer, auth.NewMemoryRevoker(), users, logger)

	_, err = users.EnsureAdmin(ctx, "admin", "root")
	require.NoError(t, err)
	_, err = users.Create(ctx, "alice", "pw-alice")
	require.NoError(t, err)
	_, err = users.Create(ctx, "bob", "pw-bob")
	require.NoError(t, err)

	return &fixture{
		store:    store,
		users:    users,
		files:    files,
		notes:    NewNoteService(store, users, files, rec, logger),
		accounts: NewAccountService(users, signer, access, rec, logger),
		audit:    rec,
	}
}

func (f *fixture) create(t *testing.T, actor auth.Actor, in NoteInput) *models.Note {
	t.Helper()
	note, err := f.notes.CreateNote(context.Background(), actor, in)
	require.NoError(t, err)
	return note
}

func upload(name, body string) *Upload {
	return &Upload{Name: name, Reader: strings.NewReader(body)}
}

func uploadedFiles(t *testing.T, f *fixture) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(f.files.Root())
	require.NoError(t, err)
	return entries
}

func TestNoteService_Isolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	note := f.create(t, alice, NoteInput{Text: "alice's secret"})

	_, err := f.notes.GetNote(ctx, bob, note.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	page, err := f.notes.ListNotes(ctx, bob, 1)
	require.NoError(t, err)
	assert.Empty(t, page.Notes)

	found, err := f.notes.SearchNotes(ctx, bob, "secret")
	require.NoError(t, err)
	assert.Empty(t, found)

	require.NoError(t, f.notes.EditNote(ctx, bob, note.ID, NoteEdit{Text: "hijacked"}))
	require.NoError(t, f.notes.DeleteNote(ctx, bob, note.ID))

	got, err := f.notes.GetNote(ctx, alice, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice's secret", got.Text)

	// admin sees and edits everything
	page, err = f.notes.ListNotes(ctx, admin, 1)
	require.NoError(t, err)
	require.Len(t, page.Notes, 1)

	require.NoError(t, f.notes.EditNote(ctx, admin, note.ID, NoteEdit{Text: "moderated"}))
	got, err = f.notes.GetNote(ctx, alice, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "moderated", got.Text)
	assert.Equal(t, "alice", got.Owner)

	require.NoError(t, f.notes.DeleteNote(ctx, admin, note.ID))
	_, err = f.notes.GetNote(ctx, alice, note.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNoteService_Anonymous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.notes.CreateNote(ctx, auth.Anonymous, NoteInput{Text: "hi"})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = f.notes.ListNotes(ctx, auth.Anonymous, 1)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = f.notes.SearchNotes(ctx, auth.Anonymous, "hi")
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	assert.ErrorIs(t, f.notes.DeleteNote(ctx, auth.Anonymous, "x"), auth.ErrUnauthenticated)
}

func TestNoteService_EmptyTextRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, text := range []string{"", "   ", "\n\t "} {
		_, err := f.notes.CreateNote(ctx, alice, NoteInput{Text: text, Upload: upload("a.png", "data")})
		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "text", verr.Field)
	}

	page, err := f.notes.ListNotes(ctx, alice, 1)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, uploadedFiles(t, f))

	note := f.create(t, alice, NoteInput{Text: "keep"})
	err = f.notes.EditNote(ctx, alice, note.ID, NoteEdit{Text: "  "})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)

	got, err := f.notes.GetNote(ctx, alice, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep", got.Text)
}

func TestNoteService_DeleteRemovesAttachment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	note := f.create(t, alice, NoteInput{Text: "with picture", Upload: upload("Cat.PNG", "fake png")})
	require.True(t, strings.HasPrefix(note.Image, attachment.URLPrefix))
	assert.True(t, strings.HasSuffix(note.Image, ".png"))

	path, err := f.files.Path(note.Image)
	require.NoError(t, err)
	assert.FileExists(t, path)

	require.NoError(t, f.notes.DeleteNote(ctx, alice, note.ID))
	assert.NoFileExists(t, path)

	page, err := f.notes.ListNotes(ctx, alice, 1)
	require.NoError(t, err)
	for _, n := range page.Notes {
		assert.NotEqual(t, note.ID, n.ID)
	}
}

type failingNotes struct {
	storage.Storage
}

func (failingNotes) CreateNote(ctx context.Context, note *models.Note) error {
	return errors.New("disk full")
}

func TestNoteService_CreateRollsBackAttachment(t *testing.T) {
	f := newFixture(t)
	svc := NewNoteService(failingNotes{f.store}, f.users, f.files, f.audit, zap.NewNop())

	_, err := svc.CreateNote(context.Background(), alice, NoteInput{Text: "x", Upload: upload("a.jpg", "bytes")})
	require.Error(t, err)
	assert.Empty(t, uploadedFiles(t, f))
	assert.Empty(t, f.audit.actions())
}

type brokenFiles struct{}

func (brokenFiles) Save(ctx context.Context, r io.Reader, name string) (string, error) {
	return "", fmt.Errorf("%w: disk gone", attachment.ErrIO)
}

func (brokenFiles) Delete(ref string) error { return attachment.ErrIO }

func TestNoteService_UploadFailureCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewNoteService(f.store, f.users, brokenFiles{}, f.audit, zap.NewNop())

	_, err := svc.CreateNote(ctx, alice, NoteInput{Text: "x", Upload: upload("a.jpg", "bytes")})
	assert.ErrorIs(t, err, attachment.ErrIO)

	page, err := svc.ListNotes(ctx, alice, 1)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestNoteService_AttachmentDeleteFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	note := &models.Note{Owner: "alice", Text: "x", Image: "/uploads/gone.png"}
	require.NoError(t, f.store.CreateNote(ctx, note))

	svc := NewNoteService(f.store, f.users, brokenFiles{}, f.audit, zap.NewNop())
	require.NoError(t, svc.DeleteNote(ctx, alice, note.ID))

	got, err := f.store.GetNote(ctx, note.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNoteService_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		f.create(t, alice, NoteInput{Text: fmt.Sprintf("note %d", i), Pinned: i == 7})
	}

	first, err := f.notes.ListNotes(ctx, alice, 1)
	require.NoError(t, err)
	assert.Len(t, first.Notes, 5)
	assert.Equal(t, 3, first.TotalPages)
	assert.Equal(t, 12, first.Total)
	assert.Equal(t, "note 7", first.Notes[0].Text)
	assert.True(t, first.Notes[0].Pinned)
	assert.Equal(t, "note 0", first.Notes[1].Text)

	third, err := f.notes.ListNotes(ctx, alice, 3)
	require.NoError(t, err)
	require.Len(t, third.Notes, 2)
	assert.Equal(t, "note 10", third.Notes[0].Text)
	assert.Equal(t, "note 11", third.Notes[1].Text)

	past, err := f.notes.ListNotes(ctx, alice, 9)
	require.NoError(t, err)
	assert.Empty(t, past.Notes)
	assert.Equal(t, 9, past.Page)

	clamped, err := f.notes.ListNotes(ctx, alice, -2)
	require.NoError(t, err)
	assert.Equal(t, 1, clamped.Page)
	assert.Equal(t, first.Notes[0].ID, clamped.Notes[0].ID)
}

func TestNoteService_EditReflectedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	note := f.create(t, alice, NoteInput{Title: "draft", Text: "before"})
	require.NoError(t, f.notes.EditNote(ctx, alice, note.ID, NoteEdit{Text: "after", Pinned: true}))

	page, err := f.notes.ListNotes(ctx, alice, 1)
	require.NoError(t, err)
	require.Len(t, page.Notes, 1)
	assert.Equal(t, note.ID, page.Notes[0].ID)
	assert.Equal(t, "after", page.Notes[0].Text)
	assert.Equal(t, "draft", page.Notes[0].Title)
	assert.True(t, page.Notes[0].Pinned)

	title := "final"
	require.NoError(t, f.notes.EditNote(ctx, alice, note.ID, NoteEdit{Text: "after", Title: &title}))
	got, err := f.notes.GetNote(ctx, alice, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Title)
	assert.False(t, got.Pinned)
}

func TestNoteService_Search(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, alice, NoteInput{Title: "Hello World", Text: "greeting"})
	f.create(t, alice, NoteInput{Text: "nothing here"})
	f.create(t, bob, NoteInput{Text: "hello from bob"})

	found, err := f.notes.SearchNotes(ctx, alice, "hello")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Hello World", found[0].Title)

	found, err = f.notes.SearchNotes(ctx, admin, "HELLO")
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

type fixedTitle string

func (f fixedTitle) SuggestTitle(ctx context.Context, text string) string { return string(f) }

func TestNoteService_Titler(t *testing.T) {
	f := newFixture(t)
	f.notes.WithTitler(fixedTitle("suggested"))

	untitled := f.create(t, alice, NoteInput{Text: "body"})
	assert.Equal(t, "suggested", untitled.Title)

	titled := f.create(t, alice, NoteInput{Title: "mine", Text: "body"})
	assert.Equal(t, "mine", titled.Title)
}

func TestNoteService_RemoveUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	withImage := f.create(t, alice, NoteInput{Text: "one", Upload: upload("a.gif", "gif")})
	f.create(t, alice, NoteInput{Text: "two"})
	kept := f.create(t, bob, NoteInput{Text: "bob's", Upload: upload("b.gif", "gif")})

	assert.ErrorIs(t, f.notes.RemoveUser(ctx, bob, "alice"), auth.ErrForbidden)
	assert.ErrorIs(t, f.notes.RemoveUser(ctx, auth.Anonymous, "alice"), auth.ErrUnauthenticated)

	var verr *models.ValidationError
	assert.ErrorAs(t, f.notes.RemoveUser(ctx, admin, "admin"), &verr)
	assert.ErrorIs(t, f.notes.RemoveUser(ctx, admin, "nobody"), ErrNotFound)

	require.NoError(t, f.notes.RemoveUser(ctx, admin, "alice"))

	user, err := f.users.Find(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, user)

	found, err := f.notes.SearchNotes(ctx, admin, "")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, kept.ID, found[0].ID)

	gone, err := f.files.Path(withImage.Image)
	require.NoError(t, err)
	assert.NoFileExists(t, gone)
	assert.Len(t, uploadedFiles(t, f), 1)

	assert.Contains(t, f.audit.actions(), "admin remove_user")
}

// hookedUsers runs callbacks around the account removal so a note creation
// can be interleaved with it.
type hookedUsers struct {
	storage.Storage
	before, after func()
}

func (h hookedUsers) DeleteUser(ctx context.Context, username string) ([]*models.Note, error) {
	if h.before != nil {
		h.before()
	}
	removed, err := h.Storage.DeleteUser(ctx, username)
	if h.after != nil {
		h.after()
	}
	return removed, err
}

func TestNoteService_RemoveUserInterleavedCreate(t *testing.T) {
	t.Run("create after removal", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		var createErr error
		store := &hookedUsers{Storage: f.store}
		users := NewUserStore(store, auth.NewHasher(bcrypt.MinCost), "")
		svc := NewNoteService(store, users, f.files, f.audit, zap.NewNop())
		store.after = func() {
			_, createErr = svc.CreateNote(ctx, alice, NoteInput{Text: "late", Upload: upload("late.png", "png")})
		}

		require.NoError(t, svc.RemoveUser(ctx, admin, "alice"))
		assert.ErrorIs(t, createErr, auth.ErrUnauthenticated)

		_, total, err := f.store.ListNotes(ctx, models.NoteQuery{All: true})
		require.NoError(t, err)
		assert.Zero(t, total, "no note outlives its owner")
		assert.Empty(t, uploadedFiles(t, f))
	})

	t.Run("create before removal", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		var created *models.Note
		store := &hookedUsers{Storage: f.store}
		users := NewUserStore(store, auth.NewHasher(bcrypt.MinCost), "")
		svc := NewNoteService(store, users, f.files, f.audit, zap.NewNop())
		store.before = func() {
			var err error
			created, err = svc.CreateNote(ctx, alice, NoteInput{Text: "early", Upload: upload("early.png", "png")})
			require.NoError(t, err)
		}

		require.NoError(t, svc.RemoveUser(ctx, admin, "alice"))
		require.NotNil(t, created)

		got, err := f.store.GetNote(ctx, created.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Empty(t, uploadedFiles(t, f))
	})
}

func TestNoteService_ResetUserPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.notes.ResetUserPassword(ctx, alice, "bob"), auth.ErrForbidden)
	assert.ErrorIs(t, f.notes.ResetUserPassword(ctx, admin, "nobody"), ErrNotFound)
	require.NoError(t, f.notes.ResetUserPassword(ctx, admin, "bob"))

	user, err := f.users.Verify(ctx, "bob", DefaultResetPassword)
	require.NoError(t, err)
	require.NotNil(t, user)

	user, err = f.users.Verify(ctx, "bob", "pw-bob")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestNoteService_ListUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.notes.ListUsers(ctx, alice)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	users, err := f.notes.ListUsers(ctx, admin)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "admin", users[0].Username)
	assert.True(t, users[0].IsAdmin())
	assert.False(t, users[1].IsAdmin())
}

func TestNoteService_AuditTrail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	note := f.create(t, alice, NoteInput{Text: "a"})
	require.NoError(t, f.notes.EditNote(ctx, alice, note.ID, NoteEdit{Text: "b"}))
	require.NoError(t, f.notes.EditNote(ctx, bob, note.ID, NoteEdit{Text: "c"}))
	require.NoError(t, f.notes.DeleteNote(ctx, alice, note.ID))

	assert.Equal(t, []string{
		"alice create_note",
		"alice edit_note",
		"alice delete_note",
	}, f.audit.actions())
}
