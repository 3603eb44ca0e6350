package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/mark-c-hall/movieshelf/internal/auth"
	"github.com/mark-c-hall/movieshelf/internal/models"
	"github.com/mark-c-hall/movieshelf/internal/photo"
	"github.com/mark-c-hall/movieshelf/internal/profile"
)

// templates holds one parsed set per page: the layout, all partials and
// the page itself. Fragments are served from the partials set.
type templates struct {
	pages     map[string]*template.Template
	fragments *template.Template
}

func loadTemplates(fsys fs.FS, funcs template.FuncMap) (*templates, error) {
	base, err := template.New("").Funcs(funcs).ParseFS(fsys, "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("error parsing partials: %w", err)
	}

	pages, err := fs.Glob(fsys, "templates/pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("error listing pages: %w", err)
	}

	t := &templates{pages: map[string]*template.Template{}, fragments: base}
	for _, p := range pages {
		set, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("error cloning partials: %w", err)
		}
		if set, err = set.ParseFS(fsys, "templates/layout.html", p); err != nil {
			return nil, fmt.Errorf("error parsing page %s: %w", p, err)
		}
		t.pages[strings.TrimSuffix(path.Base(p), ".html")] = set
	}
	return t, nil
}

func (h *Handler) funcs() template.FuncMap {
	return template.FuncMap{
		"photoURL": photo.URL,
		"cover": func(coverID string) string {
			return photo.CoverImage(h.cfg.Media.CoverDir, coverID, "f")
		},
		"runtime": profile.FormatRuntime,
		"youtube": profile.YouTubeEmbedURL,
		"date":    formatDate,
		"isoDate": func(t *time.Time) string { return isoDate(t) },
		"genres":  splitGenres,
		"add":     func(a, b int) int { return a + b },
		"sub":     func(a, b int) int { return a - b },
	}
}

func formatDate(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format("02.01.2006")
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.Format("02.01.2006")
	}
	return ""
}

func isoDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func splitGenres(genre string, n int) []string {
	var out []string
	for _, g := range strings.Split(genre, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
		if len(out) == n {
			break
		}
	}
	return out
}

type pageData struct {
	Title           string
	SiteTitle       string
	MetaDescription string
	Session         *models.Session
	CSRF            string
	Flash           *auth.Flash
	Data            any
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request, title string, data any) pageData {
	p := pageData{Title: title, SiteTitle: h.cfg.Server.SiteTitle, Data: data}
	if sess, ok := h.deps.Auth.Current(r); ok {
		p.Session = &sess
		p.CSRF = sess.CSRFToken
	}
	if f, ok := auth.PopFlash(w, r); ok {
		p.Flash = &f
	}
	return p
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, p pageData) {
	tmpl, ok := h.templates.pages[name]
	if !ok {
		h.serverError(w, r, fmt.Errorf("unknown page %q", name))
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", p); err != nil {
		h.serverError(w, r, fmt.Errorf("error rendering %s: %w", name, err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (h *Handler) renderFragment(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := h.templates.fragments.ExecuteTemplate(&buf, name, data); err != nil {
		h.serverError(w, r, fmt.Errorf("error rendering fragment %s: %w", name, err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (h *Handler) fragmentString(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := h.templates.fragments.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("error rendering fragment %s: %w", name, err)
	}
	return buf.String(), nil
}

// wantsFragment reports whether the caller swaps the response into an
// existing page.
func wantsFragment(r *http.Request) bool {
	return r.URL.Query().Get("fragment") == "1" ||
		strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest")
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "request failed", "error", err, "path", r.URL.Path)
	http.Error(w, "Interner Serverfehler", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
