package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mark-c-hall/movieshelf/internal/catalog"
	"github.com/mark-c-hall/movieshelf/internal/config"
	"github.com/mark-c-hall/movieshelf/internal/models"
)

type memStore struct {
	users    map[string]models.User
	sessions map[string]models.Session
}

func newMemStore(t *testing.T) *memStore {
	t.Helper()
	hash, err := HashPassword("geheim")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	return &memStore{
		users: map[string]models.User{
			"admin":  {ID: 1, Username: "admin", PasswordHash: hash, Role: models.RoleAdmin},
			"editor": {ID: 2, Username: "editor", PasswordHash: hash, Role: models.RoleUser},
		},
		sessions: map[string]models.Session{},
	}
}

func (s *memStore) UserByName(ctx context.Context, username string) (models.User, error) {
	u, ok := s.users[username]
	if !ok {
		return models.User{}, catalog.ErrNotFound
	}
	return u, nil
}

func (s *memStore) CreateSession(ctx context.Context, sess models.Session) error {
	s.sessions[sess.Token] = sess
	return nil
}

func (s *memStore) SessionByToken(ctx context.Context, token string) (models.Session, error) {
	sess, ok := s.sessions[token]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return models.Session{}, catalog.ErrNotFound
	}
	return sess, nil
}

func (s *memStore) DeleteSession(ctx context.Context, token string) error {
	delete(s.sessions, token)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *memStore) {
	store := newMemStore(t)
	return NewManager(store, config.SessionConfig{CookieName: "sid", TTL: time.Hour}), store
}

func login(t *testing.T, m *Manager, user string) (models.Session, *http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	sess, err := m.Login(context.Background(), rec, user, "geheim")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].HttpOnly {
		t.Fatalf("expected one HttpOnly session cookie, got %+v", cookies)
	}
	return sess, cookies[0]
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestLogin(t *testing.T) {
	m, store := newTestManager(t)

	sess, cookie := login(t, m, "admin")
	if len(sess.Token) != 64 || len(sess.CSRFToken) != 64 {
		t.Errorf("expected 32-byte hex tokens, got %q / %q", sess.Token, sess.CSRFToken)
	}
	if cookie.Value != sess.Token {
		t.Error("expected cookie to carry the session token")
	}
	if _, ok := store.sessions[sess.Token]; !ok {
		t.Error("expected session to be persisted")
	}

	if _, err := m.Login(context.Background(), httptest.NewRecorder(), "admin", "falsch"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := m.Login(context.Background(), httptest.NewRecorder(), "nobody", "geheim"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	m, store := newTestManager(t)
	sess, cookie := login(t, m, "admin")

	req := httptest.NewRequest(http.MethodPost, "/admin/logout", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	if err := m.Logout(rec, req); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, ok := store.sessions[sess.Token]; ok {
		t.Error("expected session to be deleted")
	}
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Errorf("expected expiring cookie, got %+v", c)
	}
}

func TestRequireLogin(t *testing.T) {
	m, _ := newTestManager(t)
	handler := m.RequireLogin(okHandler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/actors", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/admin/login" {
		t.Errorf("expected redirect to login, got %d %s", rec.Code, rec.Header().Get("Location"))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/api/actors/save", nil))
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), `"Unauthorized"`) {
		t.Errorf("expected JSON 403, got %d %s", rec.Code, rec.Body.String())
	}

	_, cookie := login(t, m, "editor")
	req := httptest.NewRequest(http.MethodGet, "/admin/actors", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with session, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/admin/api/actor-films", nil)
	req = req.WithContext(WithSession(req.Context(), models.Session{Role: models.RoleUser}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), "Keine Berechtigung") {
		t.Errorf("expected 403 for non-admin, got %d %s", rec.Code, rec.Body.String())
	}

	req = req.WithContext(WithSession(req.Context(), models.Session{Role: models.RoleAdmin}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for admin, got %d", rec.Code)
	}
}

func TestRequirePOST(t *testing.T) {
	rec := httptest.NewRecorder()
	RequirePOST(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/api/tmdb/search", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestRequireCSRF(t *testing.T) {
	handler := RequireCSRF(okHandler)
	sess := models.Session{CSRFToken: "abc"}

	tests := []struct {
		name   string
		header string
		form   string
		want   int
	}{
		{"header", "abc", "", http.StatusOK},
		{"form field", "", "abc", http.StatusOK},
		{"wrong token", "", "abd", http.StatusForbidden},
		{"missing token", "", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{}
			if tt.form != "" {
				form.Set("csrf_token", tt.form)
			}
			req := httptest.NewRequest(http.MethodPost, "/admin/actors/delete", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.header != "" {
				req.Header.Set("X-CSRF-Token", tt.header)
			}
			req = req.WithContext(WithSession(req.Context(), sess))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestFlash(t *testing.T) {
	rec := httptest.NewRecorder()
	SetFlash(rec, "success", "Schauspieler gelöscht")

	req := httptest.NewRequest(http.MethodGet, "/admin/actors", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}

	rec = httptest.NewRecorder()
	f, ok := PopFlash(rec, req)
	if !ok || f.Kind != "success" || f.Message != "Schauspieler gelöscht" {
		t.Fatalf("unexpected flash %+v (%v)", f, ok)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Errorf("expected flash cookie to be cleared, got %+v", c)
	}

	if _, ok = PopFlash(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil)); ok {
		t.Error("expected no flash without cookie")
	}
}
