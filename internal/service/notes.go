package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/memo-web/internal/audit"
	"github.com/xaenox/memo-web/internal/auth"
	"github.com/xaenox/memo-web/internal/classifier"
	"github.com/xaenox/memo-web/internal/models"
	"github.com/xaenox/memo-web/internal/storage"
	"go.uber.org/zap"
)

// Attachments is the part of attachment.FileStore the services rely on.
type Attachments interface {
	Save(ctx context.Context, r io.Reader, originalName string) (string, error)
	Delete(ref string) error
}

// Upload is an image submitted together with a new note.
type Upload struct {
	Name   string
	Reader io.Reader
}

type NoteInput struct {
	Title  string
	Text   string
	Pinned bool
	Upload *Upload
}

// NoteEdit replaces text and pinned state. A nil Title keeps the current one.
type NoteEdit struct {
	Text   string
	Title  *string
	Pinned bool
}

// NoteService performs every note and admin operation on behalf of an actor.
type NoteService struct {
	notes    storage.NoteRepository
	users    *UserStore
	files    Attachments
	titler   classifier.Titler
	recorder audit.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

func NewNoteService(notes storage.NoteRepository, users *UserStore, files Attachments, recorder audit.Recorder, logger *zap.Logger) *NoteService {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &NoteService{
		notes:    notes,
		users:    users,
		files:    files,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// WithTitler fills the title of untitled notes from t.
func (s *NoteService) WithTitler(t classifier.Titler) *NoteService {
	s.titler = t
	return s
}

func (s *NoteService) record(ctx context.Context, actor auth.Actor, action, target string) {
	s.recorder.Record(ctx, audit.Entry{
		Actor:  actor.Username,
		Action: action,
		Target: target,
		Time:   s.now(),
	})
}

func (s *NoteService) CreateNote(ctx context.Context, actor auth.Actor, in NoteInput) (*models.Note, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}
	if err := models.ValidateText(in.Text); err != nil {
		return nil, err
	}

	var image string
	if in.Upload != nil {
		ref, err := s.files.Save(ctx, in.Upload.Reader, in.Upload.Name)
		if err != nil {
			return nil, fmt.Errorf("error saving attachment: %w", err)
		}
		image = ref
	}

	title := strings.TrimSpace(in.Title)
	if title == "" && s.titler != nil {
		title = s.titler.SuggestTitle(ctx, in.Text)
	}

	note := &models.Note{
		ID:     uuid.NewString(),
		Owner:  actor.Username,
		Title:  title,
		Text:   in.Text,
		Image:  image,
		Pinned: in.Pinned,
	}
	if err := s.notes.CreateNote(ctx, note); err != nil {
		if image != "" {
			if derr := s.files.Delete(image); derr != nil {
				s.logger.Error("Failed to roll back attachment",
					zap.Error(derr),
					zap.String("image", image))
			}
		}
		if errors.Is(err, storage.ErrUnknownOwner) {
			// The account was removed after the session was resolved.
			return nil, auth.ErrUnauthenticated
		}
		return nil, fmt.Errorf("error creating note: %w", err)
	}

	s.logger.Debug("Note created",
		zap.String("note_id", note.ID),
		zap.String("owner", note.Owner))
	s.record(ctx, actor, audit.ActionCreateNote, note.ID)
	return note, nil
}

// load returns the note when the actor may act on it, and nil when it is
// missing or belongs to someone else.
func (s *NoteService) load(ctx context.Context, actor auth.Actor, id string) (*models.Note, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}
	note, err := s.notes.GetNote(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error loading note: %w", err)
	}
	if note == nil {
		return nil, nil
	}
	if err := auth.Authorize(actor, note.Owner); err != nil {
		s.logger.Debug("Note access denied",
			zap.String("note_id", id),
			zap.String("actor", actor.Username))
		return nil, nil
	}
	return note, nil
}

// DeleteNote removes the note and then its attachment. Missing or foreign
// notes are left alone without an error.
func (s *NoteService) DeleteNote(ctx context.Context, actor auth.Actor, id string) error {
	note, err := s.load(ctx, actor, id)
	if err != nil || note == nil {
		return err
	}

	if err := s.notes.DeleteNote(ctx, id); err != nil {
		return fmt.Errorf("error deleting note: %w", err)
	}
	s.removeAttachment(note)
	s.record(ctx, actor, audit.ActionDeleteNote, id)
	return nil
}

func (s *NoteService) removeAttachment(note *models.Note) {
	if note.Image == "" {
		return
	}
	if err := s.files.Delete(note.Image); err != nil {
		s.logger.Warn("Failed to delete attachment",
			zap.Error(err),
			zap.String("note_id", note.ID),
			zap.String("image", note.Image))
	}
}

// EditNote updates text, pinned state and optionally the title. Missing or
// foreign notes are left alone without an error.
func (s *NoteService) EditNote(ctx context.Context, actor auth.Actor, id string, edit NoteEdit) error {
	update := models.NoteUpdate{Text: edit.Text, Title: edit.Title, Pinned: edit.Pinned}
	if !actor.Authenticated() {
		return auth.ErrUnauthenticated
	}
	if err := update.Validate(); err != nil {
		return err
	}

	note, err := s.load(ctx, actor, id)
	if err != nil || note == nil {
		return err
	}

	if err := s.notes.UpdateNote(ctx, id, update); err != nil {
		return fmt.Errorf("error updating note: %w", err)
	}
	s.record(ctx, actor, audit.ActionEditNote, id)
	return nil
}

func (s *NoteService) GetNote(ctx context.Context, actor auth.Actor, id string) (*models.Note, error) {
	note, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if note == nil {
		return nil, ErrNotFound
	}
	return note, nil
}

func scope(actor auth.Actor) models.NoteQuery {
	return models.NoteQuery{Owner: actor.Username, All: actor.Admin}
}

func (s *NoteService) ListNotes(ctx context.Context, actor auth.Actor, page int) (models.Page, error) {
	if !actor.Authenticated() {
		return models.Page{}, auth.ErrUnauthenticated
	}

	page = models.ClampPage(page)
	query := scope(actor)
	query.Offset = models.PageOffset(page)
	query.Limit = models.PageSize

	notes, total, err := s.notes.ListNotes(ctx, query)
	if err != nil {
		return models.Page{}, fmt.Errorf("error listing notes: %w", err)
	}
	if notes == nil {
		notes = []*models.Note{}
	}
	return models.Page{
		Notes:      notes,
		Page:       page,
		TotalPages: models.TotalPages(total),
		Total:      total,
	}, nil
}

// SearchNotes returns every visible note whose title or text contains
// keyword, ignoring case.
func (s *NoteService) SearchNotes(ctx context.Context, actor auth.Actor, keyword string) ([]*models.Note, error) {
	if !actor.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}

	notes, err := s.notes.SearchNotes(ctx, scope(actor), keyword)
	if err != nil {
		return nil, fmt.Errorf("error searching notes: %w", err)
	}
	if notes == nil {
		notes = []*models.Note{}
	}
	return notes, nil
}
