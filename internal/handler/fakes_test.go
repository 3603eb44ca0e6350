package handler

import (
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/mark-c-hall/movieshelf/internal/auth"
	"github.com/mark-c-hall/movieshelf/internal/catalog"
	"github.com/mark-c-hall/movieshelf/internal/config"
	"github.com/mark-c-hall/movieshelf/internal/graph"
	"github.com/mark-c-hall/movieshelf/internal/models"
	"github.com/mark-c-hall/movieshelf/internal/rebuild"
	"github.com/mark-c-hall/movieshelf/internal/slug"
	"github.com/mark-c-hall/movieshelf/internal/tmdb"
	"github.com/mark-c-hall/movieshelf/web"
)

type fakeCatalog struct {
	mu          sync.Mutex
	nextID      int
	actors      map[int]models.Actor
	films       map[int]models.Film
	children    map[int][]models.Film
	cast        map[int][]models.CastMember
	actorFilms  map[int][]models.FilmographyEntry
	links       map[[2]int]string
	trailers    []models.Film
	searchHits  []models.FilmSummary
	settings    map[string]string
	views       map[int]int
	deleted     []int
	lastLetter  string
	lastListing catalog.ListParams
	pingErr     error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		nextID:     100,
		actors:     map[int]models.Actor{},
		films:      map[int]models.Film{},
		children:   map[int][]models.Film{},
		cast:       map[int][]models.CastMember{},
		actorFilms: map[int][]models.FilmographyEntry{},
		links:      map[[2]int]string{},
		settings:   map[string]string{},
		views:      map[int]int{},
	}
}

func (f *fakeCatalog) addActor(a models.Actor) models.Actor {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == 0 {
		f.nextID++
		a.ID = f.nextID
	}
	if a.Slug == "" {
		a.Slug = slug.Make(a.FirstName, a.LastName)
	}
	f.actors[a.ID] = a
	return a
}

func (f *fakeCatalog) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeCatalog) GetFilm(ctx context.Context, id int) (models.Film, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	film, ok := f.films[id]
	if !ok {
		return models.Film{}, catalog.ErrNotFound
	}
	return film, nil
}

func (f *fakeCatalog) FilmCast(ctx context.Context, filmID int) ([]models.CastMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cast[filmID], nil
}

func (f *fakeCatalog) GetActorByID(ctx context.Context, id int) (models.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actors[id]
	if !ok {
		return models.Actor{}, catalog.ErrNotFound
	}
	return a, nil
}

func (f *fakeCatalog) GetActorBySlug(ctx context.Context, s string) (models.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.actors {
		if a.Slug == s {
			return a, nil
		}
	}
	return models.Actor{}, catalog.ErrNotFound
}

func (f *fakeCatalog) applyInput(a *models.Actor, in models.ActorInput) {
	a.FirstName = in.FirstName
	a.LastName = in.LastName
	a.BirthDate = in.BirthDate
	a.BirthPlace = in.BirthPlace
	a.DeathDate = in.DeathDate
	a.Nationality = in.Nationality
	a.Bio = in.Bio
	a.IMDbID = in.IMDbID
	a.TmdbID = in.TmdbID
	a.Website = in.Website
	if in.PhotoPath != "" {
		a.PhotoPath = in.PhotoPath
	}
}

func (f *fakeCatalog) tmdbTaken(in models.ActorInput, exclude int) bool {
	if in.TmdbID == nil {
		return false
	}
	for id, a := range f.actors {
		if id != exclude && a.TmdbID != nil && *a.TmdbID == *in.TmdbID {
			return true
		}
	}
	return false
}

func (f *fakeCatalog) CreateActor(ctx context.Context, in models.ActorInput) (models.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tmdbTaken(in, 0) {
		return models.Actor{}, catalog.ErrDuplicate
	}
	f.nextID++
	a := models.Actor{ID: f.nextID, Slug: slug.Make(in.FirstName, in.LastName)}
	f.applyInput(&a, in)
	f.actors[a.ID] = a
	return a, nil
}

func (f *fakeCatalog) UpdateActor(ctx context.Context, id int, in models.ActorInput) (models.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actors[id]
	if !ok {
		return models.Actor{}, catalog.ErrNotFound
	}
	if f.tmdbTaken(in, id) {
		return models.Actor{}, catalog.ErrDuplicate
	}
	f.applyInput(&a, in)
	f.actors[id] = a
	return a, nil
}

func (f *fakeCatalog) DeleteActor(ctx context.Context, id int) (models.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actors[id]
	if !ok {
		return models.Actor{}, catalog.ErrNotFound
	}
	delete(f.actors, id)
	f.deleted = append(f.deleted, id)
	return a, nil
}

func (f *fakeCatalog) IncrementViewCount(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views[id]++
	return nil
}

func (f *fakeCatalog) ListActors(ctx context.Context, params catalog.ListParams) (*catalog.ActorPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := params.Normalize()
	f.lastListing = p

	ids := make([]int, 0, len(f.actors))
	for id := range f.actors {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	page := &catalog.ActorPage{Total: len(ids), TotalPages: 1, Params: p}
	for _, id := range ids {
		a := f.actors[id]
		page.Actors = append(page.Actors, models.ActorListItem{
			ID: a.ID, FirstName: a.FirstName, LastName: a.LastName, Slug: a.Slug,
			Nationality: a.Nationality, FilmCount: len(f.actorFilms[id]),
		})
	}
	return page, nil
}

func (f *fakeCatalog) ActorsByLetter(ctx context.Context, letter string) ([]models.ActorCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLetter = letter

	var cards []models.ActorCard
	for _, a := range f.actors {
		cards = append(cards, models.ActorCard{ID: a.ID, FirstName: a.FirstName, LastName: a.LastName, Slug: a.Slug})
	}
	slices.SortFunc(cards, func(a, b models.ActorCard) int { return a.ID - b.ID })
	return cards, nil
}

func (f *fakeCatalog) ActorFilms(ctx context.Context, actorID int) ([]models.FilmographyEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actorFilms[actorID], nil
}

func (f *fakeCatalog) ActorFilmIDs(ctx context.Context, actorID int) ([]int, error) {
	return nil, nil
}

func (f *fakeCatalog) ChildFilms(ctx context.Context, parentID int) ([]models.Film, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.children[parentID], nil
}

func (f *fakeCatalog) TrailerFilms(ctx context.Context, offset, limit int) ([]models.Film, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := len(f.trailers)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return f.trailers[offset:end], total, nil
}

func (f *fakeCatalog) SearchFilms(ctx context.Context, q string) ([]models.FilmSummary, error) {
	return f.searchHits, nil
}

func (f *fakeCatalog) AddFilmToActor(ctx context.Context, actorID, filmID int, role string) (models.FilmSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	film, ok := f.films[filmID]
	if _, actorOK := f.actors[actorID]; !ok || !actorOK {
		return models.FilmSummary{}, catalog.ErrNotFound
	}
	key := [2]int{actorID, filmID}
	if _, dup := f.links[key]; dup {
		return models.FilmSummary{}, catalog.ErrDuplicate
	}
	f.links[key] = role
	return models.FilmSummary{ID: film.ID, Title: film.Title, Year: film.Year}, nil
}

func (f *fakeCatalog) RemoveFilmFromActor(ctx context.Context, actorID, filmID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]int{actorID, filmID}
	if _, ok := f.links[key]; !ok {
		return catalog.ErrNotFound
	}
	delete(f.links, key)
	return nil
}

func (f *fakeCatalog) UpdateRole(ctx context.Context, actorID, filmID int, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]int{actorID, filmID}
	if _, ok := f.links[key]; !ok {
		return catalog.ErrNotFound
	}
	f.links[key] = role
	return nil
}

func (f *fakeCatalog) GetSetting(ctx context.Context, key, defaultValue string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.settings[key]; ok {
		return v, nil
	}
	return defaultValue, nil
}

type fakeGraph struct {
	mu       sync.Mutex
	upserted []graph.Actor
	deleted  []int
	synced   []int
	path     []graph.PathStep
	matches  []graph.Actor
	queries  []string
	down     error
}

func (g *fakeGraph) VerifyConnectivity(ctx context.Context) error { return g.down }

func (g *fakeGraph) UpsertActor(ctx context.Context, a graph.Actor) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upserted = append(g.upserted, a)
	return nil
}

func (g *fakeGraph) DeleteActor(ctx context.Context, id int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, id)
	return nil
}

func (g *fakeGraph) SyncFilm(ctx context.Context, src graph.CastSource, filmID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.synced = append(g.synced, filmID)
	return nil
}

func (g *fakeGraph) SearchActors(ctx context.Context, prefix string, limit int) ([]graph.Actor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, prefix)
	return g.matches[:min(limit, len(g.matches))], nil
}

func (g *fakeGraph) ShortestPath(ctx context.Context, a, b int) ([]graph.PathStep, error) {
	return g.path, nil
}

type fakePhotos struct {
	mu      sync.Mutex
	saved   []string
	removed []string
	err     error
}

func (p *fakePhotos) SaveUpload(fh *multipart.FileHeader, oldPath string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	stored := "images/actors/actor_" + fh.Filename
	p.saved = append(p.saved, stored)
	return stored, nil
}

func (p *fakePhotos) Remove(stored string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, stored)
	return nil
}

type fakeTMDB struct {
	key     string
	matches []tmdb.MovieMatch
	person  *tmdb.PersonDetails
	err     error
}

func (c *fakeTMDB) SearchMovies(ctx context.Context, title string, year, limit int) ([]tmdb.MovieMatch, error) {
	return c.matches, c.err
}

func (c *fakeTMDB) GetPersonDetails(ctx context.Context, id int) (*tmdb.PersonDetails, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.person == nil || c.person.ID != id {
		return nil, tmdb.ErrNotFound
	}
	return c.person, nil
}

func (c *fakeTMDB) ImageURL(size, path string) string {
	return "https://image.tmdb.org/t/p/" + size + path
}

type fakeRebuilder struct {
	mu      sync.Mutex
	key     string
	batches []rebuild.BatchResult
	offset  int
	clear   bool
	resume  int
	delay   time.Duration
}

func (r *fakeRebuilder) ResumeOffset(ctx context.Context) (int, error) {
	return r.resume, nil
}

func (r *fakeRebuilder) RunBatch(ctx context.Context, offset int, clear bool) (rebuild.BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset, r.clear = offset, clear
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.batches[0], nil
}

func (r *fakeRebuilder) Run(ctx context.Context, offset int, clear bool, progress func(rebuild.BatchResult)) (rebuild.BatchResult, error) {
	r.mu.Lock()
	r.offset, r.clear = offset, clear
	batches := r.batches
	r.mu.Unlock()

	var last rebuild.BatchResult
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		progress(b)
		last = b
	}
	return last, nil
}

type fakeSessions struct {
	mu       sync.Mutex
	users    map[string]models.User
	sessions map[string]models.Session
}

func (s *fakeSessions) UserByName(ctx context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return models.User{}, catalog.ErrNotFound
	}
	return u, nil
}

func (s *fakeSessions) CreateSession(ctx context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
	return nil
}

func (s *fakeSessions) SessionByToken(ctx context.Context, token string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return models.Session{}, catalog.ErrNotFound
	}
	return sess, nil
}

func (s *fakeSessions) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

const (
	cookieName = "movieshelf_session"
	adminToken = "admin-token"
	adminCSRF  = "admin-csrf"
	userToken  = "user-token"
	userCSRF   = "user-csrf"
)

type harness struct {
	h         *Handler
	catalog   *fakeCatalog
	graph     *fakeGraph
	photos    *fakePhotos
	tmdb      *fakeTMDB
	rebuilder *fakeRebuilder
	sessions  *fakeSessions
	cfg       config.Config
}

type harnessOption func(*harness, *Deps)

func withGraph() harnessOption {
	return func(hs *harness, d *Deps) { d.Graph = hs.graph }
}

func withDefaultToken(token string) harnessOption {
	return func(hs *harness, d *Deps) { d.DefaultToken = token }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	hs := &harness{
		catalog:   newFakeCatalog(),
		graph:     &fakeGraph{},
		photos:    &fakePhotos{},
		tmdb:      &fakeTMDB{},
		rebuilder: &fakeRebuilder{},
		sessions: &fakeSessions{
			users: map[string]models.User{},
			sessions: map[string]models.Session{
				adminToken: {Token: adminToken, UserID: 1, Username: "rene", Role: models.RoleAdmin, CSRFToken: adminCSRF},
				userToken:  {Token: userToken, UserID: 2, Username: "gast", Role: models.RoleUser, CSRFToken: userCSRF},
			},
		},
	}

	hs.cfg = config.Config{
		Server: config.ServerConfig{
			RequestTimeout:  5 * time.Second,
			RateLimitPerSec: 1000,
			RateBurst:       1000,
			SiteTitle:       "DVD Profiler Liste",
		},
		Media: config.MediaConfig{
			ImagesDir:      t.TempDir(),
			CoverDir:       t.TempDir(),
			MaxUploadBytes: 1 << 20,
		},
		Session: config.SessionConfig{CookieName: cookieName, TTL: time.Hour},
	}

	deps := Deps{
		Catalog: hs.catalog,
		Auth:    auth.NewManager(hs.sessions, hs.cfg.Session),
		Photos:  hs.photos,
		NewTMDB: func(key string) TMDB {
			hs.tmdb.key = key
			return hs.tmdb
		},
		NewRebuilder: func(key string) Rebuilder {
			hs.rebuilder.mu.Lock()
			hs.rebuilder.key = key
			hs.rebuilder.mu.Unlock()
			return hs.rebuilder
		},
		Web: web.FS,
	}
	for _, opt := range opts {
		opt(hs, &deps)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h, err := NewHandler(t.Context(), deps, hs.cfg, logger)
	if err != nil {
		t.Fatalf("expected handler, got %v", err)
	}
	hs.h = h
	return hs
}

func (hs *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	hs.h.ServeHTTP(rec, req)
	return rec
}

func asSession(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: cookieName, Value: token})
	return req
}
