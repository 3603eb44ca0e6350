package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/mark-c-hall/movieshelf/internal/auth"
	"github.com/mark-c-hall/movieshelf/internal/catalog"
	"github.com/mark-c-hall/movieshelf/internal/graph"
	"github.com/mark-c-hall/movieshelf/internal/models"
	"github.com/mark-c-hall/movieshelf/internal/photo"
)

type loginView struct {
	Username string
	Error    string
}

func (h *Handler) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.deps.Auth.Current(r); ok {
		http.Redirect(w, r, "/admin/actors", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "login", h.page(w, r, "Anmelden", loginView{}))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.PostFormValue("username"))
	_, err := h.deps.Auth.Login(r.Context(), w, username, r.PostFormValue("password"))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.logger.WarnContext(r.Context(), "failed login", "username", username)
		view := loginView{Username: username, Error: "Ungültiger Benutzername oder Passwort"}
		h.render(w, r, http.StatusUnauthorized, "login", h.page(w, r, "Anmelden", view))
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "user logged in", "username", username)
	http.Redirect(w, r, "/admin/actors", http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Auth.Logout(w, r); err != nil {
		h.serverError(w, r, err)
		return
	}
	auth.SetFlash(w, "success", "Sie wurden abgemeldet")
	http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
}

type sortColumn struct {
	Label  string
	URL    string
	Active bool
	Order  string
}

type pager struct {
	Page       int
	TotalPages int
	path       string
	query      url.Values
}

func (p pager) URL(page int) string {
	q := url.Values{}
	for k, v := range p.query {
		q[k] = v
	}
	q.Set("p", strconv.Itoa(page))
	return p.path + "?" + q.Encode()
}

type adminActorsView struct {
	Page    *catalog.ActorPage
	Columns []sortColumn
	Pager   pager
}

var adminColumns = []struct{ key, label string }{
	{"id", "ID"},
	{"first_name", "Vorname"},
	{"last_name", "Nachname"},
	{"birth_date", "Geburtsdatum"},
	{"nationality", "Nationalität"},
	{"created_at", "Erstellt"},
}

// listQuery keeps search and sort in list URLs, leaving out the defaults.
func listQuery(params catalog.ListParams) url.Values {
	q := url.Values{}
	if params.Search != "" {
		q.Set("search", params.Search)
	}
	if params.Sort != "" && params.Sort != "id" {
		q.Set("sort", params.Sort)
	}
	if params.Order != "" && params.Order != "desc" {
		q.Set("order", params.Order)
	}
	return q
}

func listURL(params catalog.ListParams) string {
	q := listQuery(params)
	if len(q) == 0 {
		return "/admin/actors"
	}
	return "/admin/actors?" + q.Encode()
}

func (h *Handler) handleAdminActors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("p"))
	params := catalog.ListParams{
		Search: q.Get("search"),
		Sort:   q.Get("sort"),
		Order:  q.Get("order"),
		Page:   page,
	}.Normalize()

	result, err := h.deps.Catalog.ListActors(r.Context(), params)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	columns := make([]sortColumn, 0, len(adminColumns))
	for _, c := range adminColumns {
		next := catalog.ListParams{Search: params.Search, Sort: c.key, Order: "asc"}
		active := params.Sort == c.key
		if active && params.Order == "asc" {
			next.Order = "desc"
		}
		columns = append(columns, sortColumn{Label: c.label, URL: listURL(next), Active: active, Order: params.Order})
	}

	view := adminActorsView{
		Page:    result,
		Columns: columns,
		Pager: pager{
			Page:       result.Params.Page,
			TotalPages: result.TotalPages,
			path:       "/admin/actors",
			query:      listQuery(params),
		},
	}
	h.render(w, r, http.StatusOK, "admin_actors", h.page(w, r, "Schauspieler verwalten", view))
}

// formListParams reads the hidden search and sort fields of the list forms.
func formListParams(r *http.Request) catalog.ListParams {
	return catalog.ListParams{
		Search: r.PostFormValue("search"),
		Sort:   r.PostFormValue("sort"),
		Order:  r.PostFormValue("order"),
	}.Normalize()
}

// deleteActor removes the actor with its photo and graph node.
func (h *Handler) deleteActor(ctx context.Context, id int) error {
	actor, err := h.deps.Catalog.DeleteActor(ctx, id)
	if err != nil {
		return err
	}
	if actor.PhotoPath != "" {
		if err := h.deps.Photos.Remove(actor.PhotoPath); err != nil {
			h.logger.WarnContext(ctx, "error removing actor photo", "actor_id", id, "error", err)
		}
	}
	if h.deps.Graph != nil {
		if err := h.deps.Graph.DeleteActor(ctx, id); err != nil {
			h.logger.WarnContext(ctx, "error removing actor from graph", "actor_id", id, "error", err)
		}
	}
	h.logger.InfoContext(ctx, "actor deleted", "actor_id", id, "slug", actor.Slug)
	return nil
}

func (h *Handler) handleDeleteActor(w http.ResponseWriter, r *http.Request) {
	params := formListParams(r)
	id, err := strconv.Atoi(r.PostFormValue("actor_id"))
	switch {
	case err != nil || id <= 0:
		auth.SetFlash(w, "error", "Ungültige Schauspieler-ID")
	default:
		if err = h.deleteActor(r.Context(), id); err != nil {
			if !errors.Is(err, catalog.ErrNotFound) {
				h.logger.ErrorContext(r.Context(), "error deleting actor", "actor_id", id, "error", err)
			}
			auth.SetFlash(w, "error", "Fehler beim Löschen des Schauspielers")
		} else {
			auth.SetFlash(w, "success", "Schauspieler erfolgreich gelöscht")
		}
	}
	http.Redirect(w, r, listURL(params), http.StatusSeeOther)
}

func (h *Handler) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	params := formListParams(r)
	raw := slices.Concat(r.PostForm["actor_ids"], r.PostForm["actor_ids[]"])
	if len(raw) == 0 {
		auth.SetFlash(w, "error", "Keine Schauspieler ausgewählt")
		http.Redirect(w, r, listURL(params), http.StatusSeeOther)
		return
	}

	deleted, failed := 0, 0
	for _, v := range raw {
		id, err := strconv.Atoi(v)
		if err != nil || id <= 0 {
			failed++
			continue
		}
		if err = h.deleteActor(r.Context(), id); err != nil {
			if !errors.Is(err, catalog.ErrNotFound) {
				h.logger.ErrorContext(r.Context(), "error deleting actor", "actor_id", id, "error", err)
			}
			failed++
			continue
		}
		deleted++
	}

	switch {
	case deleted == 0:
		auth.SetFlash(w, "error", "Fehler beim Löschen der Schauspieler")
	case failed > 0:
		auth.SetFlash(w, "success", fmt.Sprintf("%d Schauspieler erfolgreich gelöscht (%d fehlgeschlagen)", deleted, failed))
	default:
		auth.SetFlash(w, "success", fmt.Sprintf("%d Schauspieler erfolgreich gelöscht", deleted))
	}
	http.Redirect(w, r, listURL(params), http.StatusSeeOther)
}

type actorEditView struct {
	ID        int
	Form      map[string]string
	PhotoPath string
	Errors    []string
	Films     []models.FilmographyEntry
}

func (h *Handler) handleActorForm(w http.ResponseWriter, r *http.Request) {
	view := actorEditView{Form: map[string]string{}}
	title := "Neuer Schauspieler"

	if raw := r.PathValue("id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			http.NotFound(w, r)
			return
		}
		actor, err := h.deps.Catalog.GetActorByID(r.Context(), id)
		if errors.Is(err, catalog.ErrNotFound) {
			auth.SetFlash(w, "error", actorNotFound)
			http.Redirect(w, r, "/admin/actors", http.StatusSeeOther)
			return
		}
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		if view.Films, err = h.deps.Catalog.ActorFilms(r.Context(), id); err != nil {
			h.serverError(w, r, err)
			return
		}
		view.ID = id
		view.Form = actorFormValues(actor)
		view.PhotoPath = actor.PhotoPath
		title = actor.FullName() + " bearbeiten"
	}

	h.render(w, r, http.StatusOK, "admin_actor_edit", h.page(w, r, title, view))
}

type saveOutcome struct {
	Actor    models.Actor
	Created  bool
	Existing models.Actor
	Errors   []string
}

// saveActor validates the submitted actor, stores an uploaded photo and
// creates or updates the row. Validation problems are returned in Errors;
// err is reserved for failures the user cannot fix.
func (h *Handler) saveActor(r *http.Request, values map[string]string) (saveOutcome, error) {
	ctx := r.Context()
	var out saveOutcome

	id := 0
	if raw := strings.TrimSpace(r.PostFormValue("id")); raw != "" && raw != "0" {
		var err error
		if id, err = strconv.Atoi(raw); err != nil || id < 0 {
			return out, catalog.ErrNotFound
		}
	}
	if id > 0 {
		existing, err := h.deps.Catalog.GetActorByID(ctx, id)
		if err != nil {
			return out, err
		}
		out.Existing = existing
	}

	in, errs := parseActorInput(values)
	if len(errs) > 0 {
		out.Errors = errs
		return out, nil
	}

	_, fh, err := r.FormFile("photo")
	switch {
	case err == nil:
		stored, err := h.deps.Photos.SaveUpload(fh, "")
		switch {
		case errors.Is(err, photo.ErrUnsupportedType):
			out.Errors = []string{"Ungültiges Dateiformat. Erlaubt: JPG, PNG, GIF, WEBP"}
			return out, nil
		case errors.Is(err, photo.ErrTooLarge):
			out.Errors = []string{"Das Foto ist zu groß"}
			return out, nil
		case err != nil:
			h.logger.ErrorContext(ctx, "error storing upload", "error", err)
			out.Errors = []string{"Fehler beim Hochladen des Fotos"}
			return out, nil
		}
		in.PhotoPath = stored
	case !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart):
		h.logger.WarnContext(ctx, "error reading upload", "error", err)
		out.Errors = []string{"Fehler beim Hochladen des Fotos"}
		return out, nil
	}

	if id > 0 {
		out.Actor, err = h.deps.Catalog.UpdateActor(ctx, id, in)
	} else {
		out.Actor, err = h.deps.Catalog.CreateActor(ctx, in)
		out.Created = true
	}
	if err != nil {
		if in.PhotoPath != "" {
			h.deps.Photos.Remove(in.PhotoPath)
		}
		if errors.Is(err, catalog.ErrDuplicate) {
			out.Errors = []string{"Die TMDb-ID ist bereits einem anderen Schauspieler zugeordnet"}
			return out, nil
		}
		return out, err
	}

	if in.PhotoPath != "" && out.Existing.PhotoPath != "" && out.Existing.PhotoPath != in.PhotoPath {
		if err := h.deps.Photos.Remove(out.Existing.PhotoPath); err != nil {
			h.logger.WarnContext(ctx, "error removing old photo", "actor_id", id, "error", err)
		}
	}

	if h.deps.Graph != nil {
		node := graph.Actor{ID: out.Actor.ID, Name: out.Actor.FullName(), Slug: out.Actor.Slug}
		if err := h.deps.Graph.UpsertActor(ctx, node); err != nil {
			h.logger.WarnContext(ctx, "error syncing actor to graph", "actor_id", out.Actor.ID, "error", err)
		}
	}

	h.logger.InfoContext(ctx, "actor saved", "actor_id", out.Actor.ID, "slug", out.Actor.Slug, "created", out.Created)
	return out, nil
}

func (h *Handler) handleSaveActor(w http.ResponseWriter, r *http.Request) {
	values := formValues(r.PostFormValue)
	out, err := h.saveActor(r, values)
	if errors.Is(err, catalog.ErrNotFound) {
		auth.SetFlash(w, "error", actorNotFound)
		http.Redirect(w, r, "/admin/actors", http.StatusSeeOther)
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	if len(out.Errors) > 0 {
		view := actorEditView{
			ID:        out.Existing.ID,
			Form:      values,
			PhotoPath: out.Existing.PhotoPath,
			Errors:    out.Errors,
		}
		title := "Neuer Schauspieler"
		if view.ID > 0 {
			title = out.Existing.FullName() + " bearbeiten"
			if view.Films, err = h.deps.Catalog.ActorFilms(r.Context(), view.ID); err != nil {
				h.serverError(w, r, err)
				return
			}
		}
		h.render(w, r, http.StatusUnprocessableEntity, "admin_actor_edit", h.page(w, r, title, view))
		return
	}

	if out.Created {
		auth.SetFlash(w, "success", "Schauspieler erfolgreich erstellt!")
	} else {
		auth.SetFlash(w, "success", "Schauspieler erfolgreich aktualisiert!")
	}
	http.Redirect(w, r, "/admin/actors", http.StatusSeeOther)
}

type rebuildView struct {
	HasKey       bool
	ResumeOffset int
}

func (h *Handler) handleRebuildPage(w http.ResponseWriter, r *http.Request) {
	key := h.apiKey(r.Context())
	offset, err := h.deps.NewRebuilder(key).ResumeOffset(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	view := rebuildView{HasKey: key != "", ResumeOffset: offset}
	h.render(w, r, http.StatusOK, "admin_rebuild", h.page(w, r, "Neuimport", view))
}
