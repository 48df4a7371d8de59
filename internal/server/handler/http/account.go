package http

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"github.com/xaenox/memo-web/internal/middleware"
	"github.com/xaenox/memo-web/internal/models"
	"go.uber.org/zap"
)

// AccountService is the public registration and session surface.
type AccountService interface {
	Register(ctx context.Context, username, password, confirm string) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, *models.User, error)
	Logout(ctx context.Context, token string) error
	SessionTTL() time.Duration
}

// AccountHandler serves /register, /login and /logout.
type AccountHandler struct {
	Accounts AccountService
	Logger   *zap.Logger
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
}

// credentials is accepted either as JSON or as a form.
type credentials struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func decodeCredentials(r *http.Request) (credentials, bool) {
	var c credentials
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			return c, false
		}
		return c, true
	}
	if err := r.ParseForm(); err != nil {
		return c, false
	}
	c.Username = r.PostForm.Get("username")
	c.Password = r.PostForm.Get("password")
	c.ConfirmPassword = r.PostForm.Get("confirmPassword")
	return c, true
}

func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return
	}

	user, err := h.Accounts.Register(r.Context(), c.Username, c.Password, c.ConfirmPassword)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCredentials(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return
	}

	token, user, err := h.Accounts.Login(r.Context(), c.Username, c.Password)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.Accounts.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Accounts.Logout(r.Context(), middleware.TokenFromRequest(r)); err != nil {
		writeError(w, h.Logger, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
