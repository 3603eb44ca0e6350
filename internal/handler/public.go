package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mark-c-hall/movieshelf/internal/catalog"
	"github.com/mark-c-hall/movieshelf/internal/graph"
	"github.com/mark-c-hall/movieshelf/internal/models"
	"github.com/mark-c-hall/movieshelf/internal/profile"
)

const (
	trailersPerPage = 12
	actorNotFound   = "Schauspieler nicht gefunden"
	filmNotFound    = "Film nicht gefunden"
)

type actorIndexView struct {
	Letter   string
	Alphabet []string
	Groups   []profile.LetterGroup
}

func (h *Handler) handleActorIndex(w http.ResponseWriter, r *http.Request) {
	letter := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("letter")))
	if len(letter) != 1 || letter[0] < 'A' || letter[0] > 'Z' {
		letter = ""
	}

	cards, err := h.deps.Catalog.ActorsByLetter(r.Context(), letter)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	view := actorIndexView{
		Letter:   letter,
		Alphabet: profile.Alphabet(),
		Groups:   profile.GroupByLetter(cards),
	}
	h.render(w, r, http.StatusOK, "actors", h.page(w, r, "Schauspieler", view))
}

type actorView struct {
	Actor       models.Actor
	Age         profile.AgeInfo
	HasAge      bool
	Films       []models.FilmographyEntry
	Stats       profile.Stats
	Connections bool
}

func (h *Handler) actorView(r *http.Request, actor models.Actor) (actorView, error) {
	films, err := h.deps.Catalog.ActorFilms(r.Context(), actor.ID)
	if err != nil {
		return actorView{}, err
	}
	age, hasAge := profile.Age(actor.BirthDate, actor.DeathDate, time.Now())
	return actorView{
		Actor:       actor,
		Age:         age,
		HasAge:      hasAge,
		Films:       films,
		Stats:       profile.ComputeStats(films),
		Connections: h.deps.Graph != nil,
	}, nil
}

func (h *Handler) handleActorProfile(w http.ResponseWriter, r *http.Request) {
	actor, err := h.deps.Catalog.GetActorBySlug(r.Context(), r.PathValue("slug"))
	h.serveActor(w, r, actor, err, wantsFragment(r))
}

// handleActorFragment serves the profile fragment by slug or id.
func (h *Handler) handleActorFragment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		actor models.Actor
		err   error
	)
	if s := strings.TrimSpace(q.Get("slug")); s != "" {
		actor, err = h.deps.Catalog.GetActorBySlug(r.Context(), s)
	} else if id, convErr := strconv.Atoi(q.Get("id")); convErr == nil && id > 0 {
		actor, err = h.deps.Catalog.GetActorByID(r.Context(), id)
	} else {
		err = catalog.ErrNotFound
	}
	h.serveActor(w, r, actor, err, true)
}

func (h *Handler) serveActor(w http.ResponseWriter, r *http.Request, actor models.Actor, err error, fragment bool) {
	if errors.Is(err, catalog.ErrNotFound) {
		if fragment {
			h.renderFragment(w, r, http.StatusNotFound, "not-found", actorNotFound)
			return
		}
		h.render(w, r, http.StatusNotFound, "not_found", h.page(w, r, actorNotFound, actorNotFound))
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	if err := h.deps.Catalog.IncrementViewCount(r.Context(), actor.ID); err != nil {
		h.logger.WarnContext(r.Context(), "error incrementing view count", "actor_id", actor.ID, "error", err)
	}

	view, err := h.actorView(r, actor)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	if fragment {
		h.renderFragment(w, r, http.StatusOK, "actor-profile", view)
		return
	}
	p := h.page(w, r, actor.FullName()+" - Schauspieler-Profil", view)
	p.MetaDescription = profile.MetaDescription(actor.FullName(), actor.Bio)
	h.render(w, r, http.StatusOK, "actor", p)
}

func (h *Handler) handleConnections(w http.ResponseWriter, r *http.Request) {
	if h.deps.Graph == nil {
		writeError(w, http.StatusServiceUnavailable, "Verbindungssuche nicht verfügbar")
		return
	}

	from, err := h.deps.Catalog.GetActorBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		h.connectionLookupError(w, r, err)
		return
	}
	to, err := h.deps.Catalog.GetActorBySlug(r.Context(), strings.TrimSpace(r.URL.Query().Get("to")))
	if err != nil {
		h.connectionLookupError(w, r, err)
		return
	}

	path, err := h.deps.Graph.ShortestPath(r.Context(), from.ID, to.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "error finding costar path", "from", from.ID, "to", to.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Fehler bei der Verbindungssuche")
		return
	}
	if path == nil {
		path = []graph.PathStep{}
	}

	degrees := 0
	for _, step := range path {
		if step.Actor == nil {
			degrees++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"from":    from.Slug,
		"to":      to.Slug,
		"degrees": degrees,
		"path":    path,
	})
}

const suggestionLimit = 8

// handleConnectionSuggestions completes actor names for the connections form.
func (h *Handler) handleConnectionSuggestions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Graph == nil {
		writeError(w, http.StatusServiceUnavailable, "Verbindungssuche nicht verfügbar")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len([]rune(q)) < 2 {
		writeJSON(w, http.StatusOK, []graph.Actor{})
		return
	}

	actors, err := h.deps.Graph.SearchActors(r.Context(), luceneEscaper.Replace(q), suggestionLimit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "error searching graph actors", "query", q, "error", err)
		writeError(w, http.StatusInternalServerError, "Fehler bei der Verbindungssuche")
		return
	}
	if actors == nil {
		actors = []graph.Actor{}
	}
	writeJSON(w, http.StatusOK, actors)
}

// luceneEscaper quotes the fulltext query syntax out of user input.
var luceneEscaper = strings.NewReplacer(
	`\`, `\\`, `+`, `\+`, `-`, `\-`, `!`, `\!`, `(`, `\(`, `)`, `\)`,
	`{`, `\{`, `}`, `\}`, `[`, `\[`, `]`, `\]`, `^`, `\^`, `"`, `\"`,
	`~`, `\~`, `*`, `\*`, `?`, `\?`, `:`, `\:`, `/`, `\/`, `&`, `\&`, `|`, `\|`,
)

func (h *Handler) connectionLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, actorNotFound)
		return
	}
	h.logger.ErrorContext(r.Context(), "error loading actor", "error", err)
	writeError(w, http.StatusInternalServerError, "Datenbankfehler")
}

type filmView struct {
	Film     models.Film
	Cast     []models.CastMember
	Children []models.Film
}

func (h *Handler) handleFilm(w http.ResponseWriter, r *http.Request) {
	fragment := wantsFragment(r)
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		err = catalog.ErrNotFound
	}

	var film models.Film
	if err == nil {
		film, err = h.deps.Catalog.GetFilm(r.Context(), id)
	}
	if errors.Is(err, catalog.ErrNotFound) {
		if fragment {
			h.renderFragment(w, r, http.StatusNotFound, "not-found", filmNotFound)
			return
		}
		h.render(w, r, http.StatusNotFound, "not_found", h.page(w, r, filmNotFound, filmNotFound))
		return
	}
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	view := filmView{Film: film}
	if view.Cast, err = h.deps.Catalog.FilmCast(r.Context(), film.ID); err != nil {
		h.serverError(w, r, err)
		return
	}
	if view.Children, err = h.deps.Catalog.ChildFilms(r.Context(), film.ID); err != nil {
		h.serverError(w, r, err)
		return
	}

	if fragment {
		h.renderFragment(w, r, http.StatusOK, "film-detail", view)
		return
	}
	h.render(w, r, http.StatusOK, "film", h.page(w, r, film.Title, view))
}

type trailersView struct {
	Films   []models.Film
	Page    int
	PerPage int
	Total   int
	HasMore bool
}

func (h *Handler) handleTrailers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("p"))
	if err != nil || page < 1 {
		page = 1
	}
	offset := (page - 1) * trailersPerPage
	ajax := q.Get("ajax") == "1"

	films, total, err := h.deps.Catalog.TrailerFilms(r.Context(), offset, trailersPerPage)
	if err != nil {
		if ajax {
			h.logger.ErrorContext(r.Context(), "error loading trailers", "error", err)
			writeError(w, http.StatusInternalServerError, "Fehler beim Laden der Trailer")
			return
		}
		h.serverError(w, r, err)
		return
	}
	hasMore := offset+trailersPerPage < total

	if ajax {
		cards, err := h.fragmentString("trailer-cards", films)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "error rendering trailers", "error", err)
			writeError(w, http.StatusInternalServerError, "Fehler beim Laden der Trailer")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"html":    cards,
			"page":    page,
			"hasMore": hasMore,
			"total":   total,
			"loaded":  len(films),
		})
		return
	}

	view := trailersView{
		Films:   films,
		Page:    page,
		PerPage: trailersPerPage,
		Total:   total,
		HasMore: hasMore,
	}
	p := h.page(w, r, "Trailer", view)
	p.MetaDescription = "Trailer der Sammlung, Seite " + strconv.Itoa(page) + " von " +
		strconv.Itoa(max(1, int(math.Ceil(float64(total)/trailersPerPage))))
	h.render(w, r, http.StatusOK, "trailers", p)
}
