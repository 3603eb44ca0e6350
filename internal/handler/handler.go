package handler

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/mark-c-hall/movieshelf/internal/auth"
	"github.com/mark-c-hall/movieshelf/internal/catalog"
	"github.com/mark-c-hall/movieshelf/internal/config"
	"github.com/mark-c-hall/movieshelf/internal/graph"
	mw "github.com/mark-c-hall/movieshelf/internal/middleware"
	"github.com/mark-c-hall/movieshelf/internal/models"
	"github.com/mark-c-hall/movieshelf/internal/rebuild"
	"github.com/mark-c-hall/movieshelf/internal/tmdb"
)

// TMDBKeySetting holds the API key configured in the admin settings. It
// takes precedence over the token from the environment.
const TMDBKeySetting = "tmdb_api_key"

const multipartMemory = 8 << 20

type Catalog interface {
	graph.CastSource
	Ping(ctx context.Context) error
	GetActorByID(ctx context.Context, id int) (models.Actor, error)
	GetActorBySlug(ctx context.Context, slug string) (models.Actor, error)
	CreateActor(ctx context.Context, in models.ActorInput) (models.Actor, error)
	UpdateActor(ctx context.Context, id int, in models.ActorInput) (models.Actor, error)
	DeleteActor(ctx context.Context, id int) (models.Actor, error)
	IncrementViewCount(ctx context.Context, id int) error
	ListActors(ctx context.Context, params catalog.ListParams) (*catalog.ActorPage, error)
	ActorsByLetter(ctx context.Context, letter string) ([]models.ActorCard, error)
	ActorFilms(ctx context.Context, actorID int) ([]models.FilmographyEntry, error)
	ActorFilmIDs(ctx context.Context, actorID int) ([]int, error)
	ChildFilms(ctx context.Context, parentID int) ([]models.Film, error)
	TrailerFilms(ctx context.Context, offset, limit int) ([]models.Film, int, error)
	SearchFilms(ctx context.Context, q string) ([]models.FilmSummary, error)
	AddFilmToActor(ctx context.Context, actorID, filmID int, role string) (models.FilmSummary, error)
	RemoveFilmFromActor(ctx context.Context, actorID, filmID int) error
	UpdateRole(ctx context.Context, actorID, filmID int, role string) error
	GetSetting(ctx context.Context, key, defaultValue string) (string, error)
}

// Graph is the optional costar projection. A nil Graph disables the
// connections endpoint and graph syncing.
type Graph interface {
	UpsertActor(ctx context.Context, actor graph.Actor) error
	DeleteActor(ctx context.Context, id int) error
	SyncFilm(ctx context.Context, src graph.CastSource, filmID int) error
	ShortestPath(ctx context.Context, actorA, actorB int) ([]graph.PathStep, error)
	SearchActors(ctx context.Context, prefix string, limit int) ([]graph.Actor, error)
	VerifyConnectivity(ctx context.Context) error
}

type TMDB interface {
	SearchMovies(ctx context.Context, title string, year, limit int) ([]tmdb.MovieMatch, error)
	GetPersonDetails(ctx context.Context, personID int) (*tmdb.PersonDetails, error)
	ImageURL(size, path string) string
}

type Rebuilder interface {
	ResumeOffset(ctx context.Context) (int, error)
	RunBatch(ctx context.Context, offset int, clear bool) (rebuild.BatchResult, error)
	Run(ctx context.Context, offset int, clear bool, progress func(rebuild.BatchResult)) (rebuild.BatchResult, error)
}

type Photos interface {
	SaveUpload(fh *multipart.FileHeader, oldPath string) (string, error)
	Remove(stored string) error
}

// Deps are the collaborators of the HTTP layer. NewTMDB and NewRebuilder
// build clients bound to the API key in effect for the request.
type Deps struct {
	Catalog      Catalog
	Graph        Graph
	Auth         *auth.Manager
	Photos       Photos
	NewTMDB      func(apiKey string) TMDB
	NewRebuilder func(apiKey string) Rebuilder
	DefaultToken string
	Metrics      http.Handler
	Web          fs.FS
}

type Handler struct {
	deps      Deps
	cfg       config.Config
	logger    *slog.Logger
	templates *templates
	handler   http.Handler
}

func NewHandler(ctx context.Context, deps Deps, cfg config.Config, logger *slog.Logger) (*Handler, error) {
	h := &Handler{deps: deps, cfg: cfg, logger: logger}

	tmpl, err := loadTemplates(deps.Web, h.funcs())
	if err != nil {
		return nil, err
	}
	h.templates = tmpl

	static, err := fs.Sub(deps.Web, "static")
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	h.addRoutes(mux, static)

	var handler http.Handler = otelhttp.NewHandler(mux, "movieshelf",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/healthz" && !strings.HasPrefix(r.URL.Path, "/static/")
		}),
	)
	handler = mw.Timeout(cfg.Server.RequestTimeout)(handler)
	handler = mw.RateLimit(ctx, rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateBurst, logger)(handler)
	handler = mw.Recovery(logger)(handler)
	handler = mw.Logging(logger)(handler)
	handler = mw.CORS(cfg.Server.CORSOrigin)(handler)
	h.handler = handler

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) addRoutes(mux *http.ServeMux, static fs.FS) {
	login := h.deps.Auth.RequireLogin
	admin := func(next http.Handler) http.Handler { return login(auth.RequireAdmin(next)) }
	csrf := auth.RequireCSRF
	upload := h.limitBody(h.cfg.Media.MaxUploadBytes + 1<<20)

	// public
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/actors", http.StatusFound)
	})
	mux.HandleFunc("GET /actors", h.handleActorIndex)
	mux.HandleFunc("GET /actors/{slug}", h.handleActorProfile)
	mux.HandleFunc("GET /actors/{slug}/connections", h.handleConnections)
	mux.HandleFunc("GET /connections/actors", h.handleConnectionSuggestions)
	mux.HandleFunc("GET /actor", h.handleActorFragment)
	mux.HandleFunc("GET /films/{id}", h.handleFilm)
	mux.HandleFunc("GET /trailers", h.handleTrailers)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.deps.Metrics != nil {
		mux.Handle("GET /metrics", h.deps.Metrics)
	}

	mux.Handle("GET /static/", http.StripPrefix("/static/", noListing(http.FileServerFS(static))))
	mux.Handle("GET /images/", http.StripPrefix("/images/", noListing(http.FileServer(http.Dir(h.cfg.Media.ImagesDir)))))
	mux.Handle("GET /cover/", http.StripPrefix("/cover/", noListing(http.FileServer(http.Dir(h.cfg.Media.CoverDir)))))

	// session
	mux.HandleFunc("GET /admin/login", h.handleLoginForm)
	mux.HandleFunc("POST /admin/login", h.handleLogin)
	mux.Handle("POST /admin/logout", login(csrf(http.HandlerFunc(h.handleLogout))))
	mux.HandleFunc("GET /admin/{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin/actors", http.StatusFound)
	})

	// admin pages
	mux.Handle("GET /admin/actors", login(http.HandlerFunc(h.handleAdminActors)))
	mux.Handle("POST /admin/actors/delete", admin(csrf(http.HandlerFunc(h.handleDeleteActor))))
	mux.Handle("POST /admin/actors/bulk-delete", admin(csrf(http.HandlerFunc(h.handleBulkDelete))))
	mux.Handle("GET /admin/actors/new", admin(http.HandlerFunc(h.handleActorForm)))
	mux.Handle("GET /admin/actors/{id}/edit", admin(http.HandlerFunc(h.handleActorForm)))
	mux.Handle("POST /admin/actors/save", admin(upload(csrf(http.HandlerFunc(h.handleSaveActor)))))
	mux.Handle("GET /admin/rebuild", admin(http.HandlerFunc(h.handleRebuildPage)))

	// admin api; POST endpoints answer other methods with a JSON 405
	post := auth.RequirePOST
	mux.Handle("/admin/api/actors/save", post(login(upload(csrf(http.HandlerFunc(h.handleAPISaveActor))))))
	mux.Handle("/admin/api/actor-films", post(admin(csrf(http.HandlerFunc(h.handleActorFilms)))))
	mux.Handle("GET /admin/api/films/search", admin(http.HandlerFunc(h.handleFilmSearch)))
	mux.Handle("/admin/api/tmdb/search", post(login(csrf(http.HandlerFunc(h.handleTMDBSearch)))))
	mux.Handle("/admin/api/tmdb/enrich-actor", post(login(csrf(http.HandlerFunc(h.handleEnrichActor)))))
	mux.Handle("/admin/api/actors/rebuild", post(admin(csrf(http.HandlerFunc(h.handleRebuildBatch)))))
	mux.Handle("GET /admin/api/actors/rebuild/ws", admin(http.HandlerFunc(h.handleRebuildStream)))
}

// limitBody caps the request body and parses multipart forms up front, so
// an oversized upload is reported as such instead of as a missing token.
// It runs after the session check so anonymous requests are never spooled.
func (h *Handler) limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				var tooLarge *http.MaxBytesError
				if err := r.ParseMultipartForm(multipartMemory); errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "Die Anfrage ist zu groß")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// noListing hides directory indexes of the file servers.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// apiKey resolves the TMDb key: the admin setting first, then the
// environment token.
func (h *Handler) apiKey(ctx context.Context) string {
	key, err := h.deps.Catalog.GetSetting(ctx, TMDBKeySetting, "")
	if err != nil {
		h.logger.WarnContext(ctx, "error reading tmdb key setting", "error", err)
	}
	if key = strings.TrimSpace(key); key != "" {
		return key
	}
	return h.deps.DefaultToken
}

// handleHealth fails only on the database. A lost graph connection
// degrades the connections feature and is reported alongside.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Catalog.Ping(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	resp := map[string]string{"status": "ok", "graph": "disabled"}
	if h.deps.Graph != nil {
		resp["graph"] = "ok"
		if err := h.deps.Graph.VerifyConnectivity(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "graph unreachable", "error", err)
			resp["graph"] = "unavailable"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
