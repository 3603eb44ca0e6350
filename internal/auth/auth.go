// Package auth handles admin logins, server-side sessions and CSRF checks.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mark-c-hall/movieshelf/internal/catalog"
	"github.com/mark-c-hall/movieshelf/internal/config"
	"github.com/mark-c-hall/movieshelf/internal/models"
)

const tokenBytes = 32

var ErrInvalidCredentials = errors.New("invalid credentials")

var dummyHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte("movieshelf"), bcrypt.DefaultCost)
	return hash
})

type Store interface {
	UserByName(ctx context.Context, username string) (models.User, error)
	CreateSession(ctx context.Context, sess models.Session) error
	SessionByToken(ctx context.Context, token string) (models.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

type Manager struct {
	store      Store
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
}

func NewManager(store Store, cfg config.SessionConfig) *Manager {
	return &Manager{
		store:      store,
		cookieName: cfg.CookieName,
		ttl:        cfg.TTL,
		secure:     cfg.Secure,
		now:        time.Now,
	}
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	return string(hash), nil
}

func randomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Login checks the credentials and starts a new session, setting its cookie on w.
func (m *Manager) Login(ctx context.Context, w http.ResponseWriter, username, password string) (models.Session, error) {
	user, err := m.store.UserByName(ctx, strings.TrimSpace(username))
	if errors.Is(err, catalog.ErrNotFound) {
		// keep timing similar for unknown users
		bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return models.Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.Session{}, err
	}
	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.Session{}, ErrInvalidCredentials
	}

	token, err := randomToken()
	if err != nil {
		return models.Session{}, err
	}
	csrf, err := randomToken()
	if err != nil {
		return models.Session{}, err
	}

	sess := models.Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		CSRFToken: csrf,
		ExpiresAt: m.now().Add(m.ttl),
	}
	if err = m.store.CreateSession(ctx, sess); err != nil {
		return models.Session{}, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
		if err = m.store.DeleteSession(r.Context(), c.Value); err != nil {
			return err
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Current resolves the session cookie on r.
func (m *Manager) Current(r *http.Request) (models.Session, bool) {
	if sess, ok := FromContext(r.Context()); ok {
		return sess, true
	}
	c, err := r.Cookie(m.cookieName)
	if err != nil || c.Value == "" {
		return models.Session{}, false
	}
	sess, err := m.store.SessionByToken(r.Context(), c.Value)
	if err != nil {
		return models.Session{}, false
	}
	return sess, true
}

type contextKey struct{}

func WithSession(ctx context.Context, sess models.Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

func FromContext(ctx context.Context) (models.Session, bool) {
	sess, ok := ctx.Value(contextKey{}).(models.Session)
	return sess, ok
}

// WantsJSON reports whether the caller expects a JSON error instead of a page.
func WantsJSON(r *http.Request) bool {
	return strings.Contains(r.URL.Path, "/api/") ||
		strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest")
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

// RequireLogin loads the session into the request context. Pages without a
// session are redirected to the login form.
func (m *Manager) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := m.Current(r)
		if !ok {
			if WantsJSON(r) {
				jsonError(w, http.StatusForbidden, "Unauthorized")
				return
			}
			http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// RequireAdmin must run inside RequireLogin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := FromContext(r.Context())
		if !ok || !sess.IsAdmin() {
			if WantsJSON(r) {
				jsonError(w, http.StatusForbidden, "Keine Berechtigung")
				return
			}
			http.Error(w, "Keine Berechtigung", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequirePOST(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			if WantsJSON(r) {
				jsonError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
				return
			}
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCSRF compares the X-CSRF-Token header or csrf_token form field
// with the session's token. It must run inside RequireLogin.
func RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := FromContext(r.Context())
		token := r.Header.Get("X-CSRF-Token")
		if token == "" {
			token = r.PostFormValue("csrf_token")
		}
		if !ok || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(sess.CSRFToken)) != 1 {
			if WantsJSON(r) {
				jsonError(w, http.StatusForbidden, "CSRF validation failed")
				return
			}
			http.Error(w, "CSRF validation failed", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
