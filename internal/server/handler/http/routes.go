// Package http wires the note service to a chi router.
package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/xaenox/memo-web/internal/middleware"
	"go.uber.org/zap"
)

// NewRouter builds the HTTP API.
//
// Routes:
//
//	POST   /register                  → AccountHandler.Register
//	POST   /login                     → AccountHandler.Login
//	POST   /logout                    → AccountHandler.Logout
//	GET    /notes?page=               → NoteHandler.List
//	POST   /notes                     → NoteHandler.Create
//	GET    /notes/{id}                → NoteHandler.Get
//	PUT    /notes/{id}                → NoteHandler.Edit
//	DELETE /notes/{id}                → NoteHandler.Delete
//	GET    /search?q=                 → NoteHandler.Search
//	GET    /users                     → NoteHandler.ListUsers
//	POST   /users/{username}/reset    → NoteHandler.ResetPassword
//	DELETE /users/{username}          → NoteHandler.RemoveUser
//	GET    /uploads/*                 → files under uploadRoot
func NewRouter(
	accountHandler *AccountHandler,
	noteHandler *NoteHandler,
	resolver middleware.ActorResolver,
	uploadRoot string,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Session(resolver))
	r.Use(middleware.WithRequestLogging(logger))

	r.Post("/register", accountHandler.Register)
	r.Post("/login", accountHandler.Login)
	r.Post("/logout", accountHandler.Logout)

	r.Route("/notes", func(r chi.Router) {
		r.Get("/", noteHandler.List)
		r.Post("/", noteHandler.Create)
		r.Get("/{id}", noteHandler.Get)
		r.Put("/{id}", noteHandler.Edit)
		r.Delete("/{id}", noteHandler.Delete)
	})
	r.Get("/search", noteHandler.Search)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", noteHandler.ListUsers)
		r.Post("/{username}/reset", noteHandler.ResetPassword)
		r.Delete("/{username}", noteHandler.RemoveUser)
	})

	r.Handle("/uploads/*", http.StripPrefix("/uploads/", noDirListing(http.FileServer(http.Dir(uploadRoot)))))

	return r
}

func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
