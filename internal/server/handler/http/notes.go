package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xaenox/memo-web/internal/auth"
	"github.com/xaenox/memo-web/internal/middleware"
	"github.com/xaenox/memo-web/internal/models"
	"github.com/xaenox/memo-web/internal/service"
	"go.uber.org/zap"
)

// maxFormMemory is how much of a multipart form is kept in memory before
// spilling file parts to disk.
const maxFormMemory = 8 << 20

// NoteService is the note and user management surface used by the handlers.
type NoteService interface {
	CreateNote(ctx context.Context, actor auth.Actor, in service.NoteInput) (*models.Note, error)
	DeleteNote(ctx context.Context, actor auth.Actor, id string) error
	EditNote(ctx context.Context, actor auth.Actor, id string, edit service.NoteEdit) error
	GetNote(ctx context.Context, actor auth.Actor, id string) (*models.Note, error)
	ListNotes(ctx context.Context, actor auth.Actor, page int) (models.Page, error)
	SearchNotes(ctx context.Context, actor auth.Actor, keyword string) ([]*models.Note, error)
	RemoveUser(ctx context.Context, actor auth.Actor, target string) error
	ResetUserPassword(ctx context.Context, actor auth.Actor, target string) error
	ListUsers(ctx context.Context, actor auth.Actor) ([]*models.User, error)
}

// NoteHandler serves the note and admin endpoints. MaxBodyBytes caps the
// request body of Create; zero means no cap.
type NoteHandler struct {
	Notes        NoteService
	Logger       *zap.Logger
	MaxBodyBytes int64
}

func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid page", Field: "page"})
			return
		}
		page = n
	}

	result, err := h.Notes.ListNotes(r.Context(), middleware.ActorFromContext(r.Context()), page)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, http.StatusOK, result)
}

func parseBool(v string) bool {
	switch v {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}

// Create accepts a multipart form with title, note, pinned and an optional
// image part. Plain urlencoded forms are accepted for notes without images.
func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromContext(r.Context())
	if !actor.Authenticated() {
		writeError(w, h.Logger, auth.ErrUnauthenticated)
		return
	}

	if h.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	}
	err := r.ParseMultipartForm(maxFormMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid form"})
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	in := service.NoteInput{
		Title:  r.FormValue("title"),
		Text:   r.FormValue("note"),
		Pinned: parseBool(r.FormValue("pinned")),
	}

	if r.MultipartForm != nil {
		file, header, err := r.FormFile("image")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid image part", Field: "image"})
			return
		default:
			defer file.Close()
			// browsers send an empty part when no file was chosen
			if header.Filename != "" && header.Size > 0 {
				in.Upload = &service.Upload{Name: header.Filename, Reader: file}
			}
		}
	}

	note, err := h.Notes.CreateNote(r.Context(), actor, in)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	note, err := h.Notes.GetNote(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

type editRequest struct {
	Title  *string `json:"title"`
	Text   string  `json:"text"`
	Pinned bool    `json:"pinned"`
}

func (h *NoteHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return
	}

	edit := service.NoteEdit{Text: req.Text, Title: req.Title, Pinned: req.Pinned}
	if err := h.Notes.EditNote(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "id"), edit); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Notes.DeleteNote(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchResponse struct {
	Keyword string         `json:"keyword"`
	Notes   []*models.Note `json:"notes"`
}

func (h *NoteHandler) Search(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("q")
	notes, err := h.Notes.SearchNotes(r.Context(), middleware.ActorFromContext(r.Context()), keyword)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Keyword: keyword, Notes: notes})
}

func (h *NoteHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Notes.ListUsers(r.Context(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *NoteHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if err := h.Notes.ResetUserPassword(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "username")); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NoteHandler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	if err := h.Notes.RemoveUser(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "username")); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
