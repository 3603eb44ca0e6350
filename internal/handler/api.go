package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mark-c-hall/movieshelf/internal/auth"
	"github.com/mark-c-hall/movieshelf/internal/catalog"
	"github.com/mark-c-hall/movieshelf/internal/models"
	"github.com/mark-c-hall/movieshelf/internal/rebuild"
	"github.com/mark-c-hall/movieshelf/internal/tmdb"
)

const (
	tmdbSearchLimit     = 10
	noAPIKey            = "Kein TMDb API Key gesetzt"
	rebuildBatchTimeout = 5 * time.Minute
)

// handleAPISaveActor is the wiki-style save for any logged-in user.
func (h *Handler) handleAPISaveActor(w http.ResponseWriter, r *http.Request) {
	out, err := h.saveActor(r, formValues(r.PostFormValue))
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, actorNotFound)
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "error saving actor", "error", err)
		writeError(w, http.StatusInternalServerError, "Fehler beim Speichern")
		return
	}
	if len(out.Errors) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   strings.Join(out.Errors, ", "),
			"errors":  out.Errors,
		})
		return
	}

	msg := "Schauspieler erfolgreich aktualisiert"
	if out.Created {
		msg = "Schauspieler erfolgreich erstellt"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": msg,
		"actorId": out.Actor.ID,
		"slug":    out.Actor.Slug,
	})
}

type actorFilmsRequest struct {
	Action  string `json:"action"`
	ActorID int    `json:"actor_id"`
	FilmID  int    `json:"film_id"`
	Role    string `json:"role"`
}

func filmsMessage(w http.ResponseWriter, status int, success bool, msg string) {
	writeJSON(w, status, map[string]any{"success": success, "message": msg})
}

func (h *Handler) handleActorFilms(w http.ResponseWriter, r *http.Request) {
	var req actorFilmsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil || req.Action == "" {
		filmsMessage(w, http.StatusBadRequest, false, "Ungültige Anfrage")
		return
	}
	if req.ActorID <= 0 || req.FilmID <= 0 {
		filmsMessage(w, http.StatusBadRequest, false, "Actor-ID und Film-ID erforderlich")
		return
	}
	ctx := r.Context()
	role := strings.TrimSpace(req.Role)

	var (
		film models.FilmSummary
		err  error
		msg  string
	)
	switch req.Action {
	case "add":
		film, err = h.deps.Catalog.AddFilmToActor(ctx, req.ActorID, req.FilmID, role)
		msg = "Film hinzugefügt"
	case "remove":
		err = h.deps.Catalog.RemoveFilmFromActor(ctx, req.ActorID, req.FilmID)
		msg = "Film entfernt"
	case "update_role":
		err = h.deps.Catalog.UpdateRole(ctx, req.ActorID, req.FilmID, role)
		msg = "Rolle aktualisiert"
	default:
		filmsMessage(w, http.StatusBadRequest, false, "Unbekannte Aktion: "+req.Action)
		return
	}

	switch {
	case errors.Is(err, catalog.ErrDuplicate):
		filmsMessage(w, http.StatusConflict, false, "Film ist bereits in der Filmographie")
		return
	case errors.Is(err, catalog.ErrNotFound):
		filmsMessage(w, http.StatusNotFound, false, "Schauspieler, Film oder Zuordnung nicht gefunden")
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "error updating filmography", "action", req.Action,
			"actor_id", req.ActorID, "film_id", req.FilmID, "error", err)
		filmsMessage(w, http.StatusInternalServerError, false, "Datenbankfehler")
		return
	}

	h.syncFilm(ctx, req.FilmID)

	resp := map[string]any{"success": true, "message": msg}
	if req.Action == "add" {
		resp["film"] = film
	}
	writeJSON(w, http.StatusOK, resp)
}

// syncFilm refreshes the film's costar edges after a cast change.
func (h *Handler) syncFilm(ctx context.Context, filmID int) {
	if h.deps.Graph == nil {
		return
	}
	if err := h.deps.Graph.SyncFilm(ctx, h.deps.Catalog, filmID); err != nil {
		h.logger.WarnContext(ctx, "error syncing film to graph", "film_id", filmID, "error", err)
	}
}

func (h *Handler) handleFilmSearch(w http.ResponseWriter, r *http.Request) {
	films, err := h.deps.Catalog.SearchFilms(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "error searching films", "error", err)
		writeError(w, http.StatusInternalServerError, "Datenbankfehler")
		return
	}
	if films == nil {
		films = []models.FilmSummary{}
	}
	writeJSON(w, http.StatusOK, films)
}

// tmdbClient returns a client for the effective API key, answering the
// request itself when none is configured.
func (h *Handler) tmdbClient(w http.ResponseWriter, r *http.Request) (TMDB, string, bool) {
	key := h.apiKey(r.Context())
	if key == "" {
		writeError(w, http.StatusBadRequest, noAPIKey)
		return nil, "", false
	}
	return h.deps.NewTMDB(key), key, true
}

func (h *Handler) handleTMDBSearch(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.PostFormValue("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, "Titel darf nicht leer sein")
		return
	}
	year, _ := strconv.Atoi(strings.TrimSpace(r.PostFormValue("year")))

	client, _, ok := h.tmdbClient(w, r)
	if !ok {
		return
	}

	matches, err := client.SearchMovies(r.Context(), title, year, tmdbSearchLimit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "tmdb search failed", "title", title, "error", err)
		writeError(w, http.StatusBadGateway, "TMDb API Fehler")
		return
	}

	resp := map[string]any{
		"success": true,
		"count":   len(matches),
		"results": matches,
	}
	if len(matches) == 0 {
		resp["results"] = []tmdb.MovieMatch{}
		resp["message"] = "Keine Filme gefunden"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEnrichActor(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("tmdb_id")))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Ungültige TMDb ID")
		return
	}

	client, _, ok := h.tmdbClient(w, r)
	if !ok {
		return
	}

	person, err := client.GetPersonDetails(r.Context(), id)
	if errors.Is(err, tmdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Schauspieler nicht auf TMDb gefunden")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "tmdb person lookup failed", "tmdb_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "TMDb API Fehler")
		return
	}

	var imageURL any
	if person.ProfilePath != "" {
		imageURL = client.ImageURL("w500", person.ProfilePath)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"name":                 person.Name,
			"biography":            person.Biography,
			"birth_date":           person.Birthday,
			"birth_place":          person.PlaceOfBirth,
			"death_date":           person.Deathday,
			"profile_image_url":    imageURL,
			"tmdb_id":              person.ID,
			"imdb_id":              person.IMDb(),
			"known_for_department": person.KnownForDepartment,
			"popularity":           person.Popularity,
		},
	})
}

func formBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

func (h *Handler) handleRebuildBatch(w http.ResponseWriter, r *http.Request) {
	offset, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("offset")))
	if err != nil || offset < 0 {
		offset = 0
	}
	clear := formBool(r.PostFormValue("clear_tables"))

	key := h.apiKey(r.Context())
	if key == "" {
		writeError(w, http.StatusBadRequest, noAPIKey)
		return
	}

	// A batch outlives both the page request timeout and the server's
	// WriteTimeout, so the connection deadline moves with it.
	deadline := time.Now().Add(rebuildBatchTimeout)
	if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil {
		h.logger.WarnContext(r.Context(), "could not extend write deadline", "error", err)
	}
	ctx, cancel := context.WithDeadline(context.WithoutCancel(r.Context()), deadline)
	defer cancel()

	result, err := h.deps.NewRebuilder(key).RunBatch(ctx, offset, clear)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "rebuild batch failed", "offset", offset, "error", err)
		writeError(w, http.StatusInternalServerError, "Fehler beim Neuimport")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleRebuildStream runs the whole rebuild server side and pushes every
// batch result to the socket. Closing the socket stops the run.
func (h *Handler) handleRebuildStream(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.FromContext(r.Context())
	q := r.URL.Query()
	token := q.Get("csrf_token")
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(sess.CSRFToken)) != 1 {
		writeError(w, http.StatusForbidden, "CSRF validation failed")
		return
	}

	key := h.apiKey(r.Context())
	if key == "" {
		writeError(w, http.StatusBadRequest, noAPIKey)
		return
	}
	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	clear := formBool(q.Get("clear"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// The client only ever closes; any read error ends the run.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.InfoContext(ctx, "rebuild stream started", "user", sess.Username, "offset", offset, "clear", clear)
	result, err := h.deps.NewRebuilder(key).Run(ctx, offset, clear, func(res rebuild.BatchResult) {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(res); err != nil {
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.ErrorContext(ctx, "rebuild stream failed", "error", err)
		conn.WriteJSON(map[string]any{"success": false, "error": "Fehler beim Neuimport"})
	}
	h.logger.InfoContext(ctx, "rebuild stream finished", "completed", result.Completed, "next_offset", result.NextOffset)

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
