// Package rebuild re-imports the actor tables from TMDb, a few films at a time.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mark-c-hall/movieshelf/internal/catalog"
	"github.com/mark-c-hall/movieshelf/internal/config"
	"github.com/mark-c-hall/movieshelf/internal/graph"
	"github.com/mark-c-hall/movieshelf/internal/models"
	"github.com/mark-c-hall/movieshelf/internal/slug"
	"github.com/mark-c-hall/movieshelf/internal/tmdb"
)

// NextOffsetSetting stores where the next batch starts, so an interrupted
// rebuild can be resumed.
const NextOffsetSetting = "rebuild_next_offset"

const scope = "github.com/mark-c-hall/movieshelf/internal/rebuild"

var tracer trace.Tracer = otel.Tracer(scope)

type Catalog interface {
	graph.CastSource
	ClearActors(ctx context.Context) error
	FilmBatch(ctx context.Context, offset, limit int) ([]models.Film, error)
	CountActiveFilms(ctx context.Context) (int, error)
	FindActorForImport(ctx context.Context, tmdbID int, actorSlug, first, last string) (int, error)
	SlugTaken(ctx context.Context, candidate string, excludeID int) (bool, error)
	InsertImportedActor(ctx context.Context, a catalog.ImportedActor) (int, error)
	UpdateImportedActor(ctx context.Context, id int, a catalog.ImportedActor) error
	UpsertCredit(ctx context.Context, filmID, actorID int, role string, mainRole bool, order int) error
	GetSetting(ctx context.Context, key, defaultValue string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

type MovieSource interface {
	SearchMovies(ctx context.Context, title string, year, limit int) ([]tmdb.MovieMatch, error)
	GetMovieDetails(ctx context.Context, movieID int) (*tmdb.MovieDetails, error)
	GetPersonDetails(ctx context.Context, personID int) (*tmdb.PersonDetails, error)
}

type PhotoDownloader interface {
	DownloadProfile(ctx context.Context, tmdbPath, actorSlug string) (string, error)
}

type GraphSyncer interface {
	Clear(ctx context.Context) error
	SyncFilm(ctx context.Context, src graph.CastSource, filmID int) error
}

type BatchResult struct {
	Success       bool    `json:"success"`
	TablesCleared bool    `json:"tables_cleared,omitempty"`
	Completed     bool    `json:"completed"`
	Processed     int     `json:"processed"`
	Total         int     `json:"total"`
	Imported      int     `json:"imported"`
	Errors        int     `json:"errors"`
	Skipped       int     `json:"skipped"`
	NextOffset    int     `json:"next_offset"`
	Progress      float64 `json:"progress"`
	Message       string  `json:"message,omitempty"`
}

type Runner struct {
	Catalog   Catalog
	TMDb      MovieSource
	Photos    PhotoDownloader
	Graph     GraphSyncer
	Logger    *slog.Logger
	BatchSize int
	MaxCast   int
	MainRoles int

	films  metric.Int64Counter
	actors metric.Int64Counter
}

// NewRunner wires a runner. photos and g may be nil; without a graph the
// costar projection is skipped.
func NewRunner(cfg config.RebuildConfig, store Catalog, source MovieSource, photos PhotoDownloader, g GraphSyncer, logger *slog.Logger) *Runner {
	r := &Runner{
		Catalog:   store,
		TMDb:      source,
		Photos:    photos,
		Graph:     g,
		Logger:    logger,
		BatchSize: cfg.BatchSize,
		MaxCast:   cfg.MaxCast,
		MainRoles: cfg.MainRoles,
	}

	meter := otel.Meter(scope)
	r.films, _ = meter.Int64Counter("rebuild.films", metric.WithDescription("Films processed by outcome"))
	r.actors, _ = meter.Int64Counter("rebuild.actors", metric.WithDescription("Actors imported by outcome"))
	return r
}

func (r *Runner) batchSize() int {
	if r.BatchSize <= 0 {
		return 3
	}
	return r.BatchSize
}

func (r *Runner) maxCast() int {
	if r.MaxCast <= 0 {
		return 10
	}
	return r.MaxCast
}

func (r *Runner) mainRoles() int {
	if r.MainRoles <= 0 {
		return 3
	}
	return r.MainRoles
}

func (r *Runner) count(ctx context.Context, c metric.Int64Counter, outcome string) {
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// ResumeOffset returns the stored offset of the next unprocessed batch.
func (r *Runner) ResumeOffset(ctx context.Context) (int, error) {
	v, err := r.Catalog.GetSetting(ctx, NextOffsetSetting, "0")
	if err != nil {
		return 0, err
	}
	offset, err := strconv.Atoi(v)
	if err != nil || offset < 0 {
		return 0, nil
	}
	return offset, nil
}

// RunBatch processes one batch of films starting at offset. With clear set
// and offset 0 it only empties the actor tables and returns.
func (r *Runner) RunBatch(ctx context.Context, offset int, clear bool) (BatchResult, error) {
	ctx, span := tracer.Start(ctx, "rebuild.batch", trace.WithAttributes(
		attribute.Int("rebuild.offset", offset),
		attribute.Bool("rebuild.clear", clear),
	))
	defer span.End()

	res, err := r.runBatch(ctx, offset, clear)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rebuild batch failed")
		return res, err
	}
	span.SetAttributes(
		attribute.Int("rebuild.next_offset", res.NextOffset),
		attribute.Bool("rebuild.completed", res.Completed),
	)
	return res, nil
}

func (r *Runner) runBatch(ctx context.Context, offset int, clear bool) (BatchResult, error) {
	if offset < 0 {
		offset = 0
	}

	if clear && offset == 0 {
		if err := r.Catalog.ClearActors(ctx); err != nil {
			return BatchResult{}, fmt.Errorf("error clearing tables: %w", err)
		}
		if r.Graph != nil {
			if err := r.Graph.Clear(ctx); err != nil {
				r.Logger.Warn("could not clear costar graph", "error", err)
			}
		}
		if err := r.Catalog.SetSetting(ctx, NextOffsetSetting, "0"); err != nil {
			return BatchResult{}, err
		}
		r.Logger.Info("actor tables cleared")
		return BatchResult{Success: true, TablesCleared: true, Message: "Tabellen geleert, starte Import..."}, nil
	}

	films, err := r.Catalog.FilmBatch(ctx, offset, r.batchSize())
	if err != nil {
		return BatchResult{}, err
	}
	total, err := r.Catalog.CountActiveFilms(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	if len(films) == 0 {
		if err = r.Catalog.SetSetting(ctx, NextOffsetSetting, "0"); err != nil {
			return BatchResult{}, err
		}
		return BatchResult{
			Success:   true,
			Completed: true,
			Processed: offset,
			Total:     total,
			Progress:  100,
			Message:   "Alle Schauspieler neu importiert!",
		}, nil
	}

	res := BatchResult{Success: true, Total: total}
	for _, film := range films {
		if err = ctx.Err(); err != nil {
			return BatchResult{}, err
		}

		fctx, span := tracer.Start(ctx, "rebuild.film", trace.WithAttributes(
			attribute.Int("film.id", film.ID),
			attribute.String("film.title", film.Title),
		))
		outcome := r.importFilm(fctx, film)
		span.SetAttributes(attribute.String("rebuild.outcome", outcome))
		span.End()

		switch outcome {
		case "imported":
			res.Imported++
		case "skipped":
			res.Skipped++
		default:
			res.Errors++
		}
	}

	res.Processed = offset + len(films)
	res.NextOffset = offset + len(films)
	if total > 0 {
		res.Progress = math.Round(float64(res.Processed)/float64(total)*1000) / 10
	}

	if err = r.Catalog.SetSetting(ctx, NextOffsetSetting, strconv.Itoa(res.NextOffset)); err != nil {
		return BatchResult{}, err
	}

	r.Logger.Info("rebuild batch done",
		"offset", offset,
		"processed", res.Processed,
		"total", total,
		"imported", res.Imported,
		"errors", res.Errors,
		"skipped", res.Skipped,
	)
	return res, nil
}

// importFilm returns "imported", "skipped" or "error".
func (r *Runner) importFilm(ctx context.Context, film models.Film) string {
	log := r.Logger.With("film_id", film.ID, "title", film.Title)

	matches, err := r.TMDb.SearchMovies(ctx, film.Title, film.Year, 1)
	if err != nil {
		log.Error("tmdb search failed", "error", err)
		r.count(ctx, r.films, "error")
		return "error"
	}
	if len(matches) == 0 {
		log.Warn("film not found on tmdb", "year", film.Year)
		r.count(ctx, r.films, "error")
		return "error"
	}

	details, err := r.TMDb.GetMovieDetails(ctx, matches[0].TmdbID)
	if err != nil {
		log.Error("tmdb movie details failed", "tmdb_id", matches[0].TmdbID, "error", err)
		r.count(ctx, r.films, "error")
		return "error"
	}
	if len(details.Credits.Cast) == 0 {
		r.count(ctx, r.films, "skipped")
		return "skipped"
	}

	for order, person := range details.Credits.Billed(r.maxCast()) {
		if err = r.importActor(ctx, film.ID, order, person); err != nil {
			log.Error("actor import failed", "name", person.Name, "error", err)
			r.count(ctx, r.actors, "failed")
		}
	}

	if r.Graph != nil {
		if err = r.Graph.SyncFilm(ctx, r.Catalog, film.ID); err != nil {
			log.Warn("costar graph sync failed", "error", err)
		}
	}

	r.count(ctx, r.films, "imported")
	return "imported"
}

func splitName(full string) (string, string) {
	first, last, _ := strings.Cut(full, " ")
	return first, last
}

func (r *Runner) importActor(ctx context.Context, filmID, order int, person tmdb.CastResults) error {
	fullName := strings.TrimSpace(person.Name)
	if fullName == "" {
		return nil
	}
	first, last := splitName(fullName)
	baseSlug := slug.FromName(fullName)

	actorID, err := r.Catalog.FindActorForImport(ctx, person.ID, baseSlug, first, last)
	if err != nil {
		return err
	}

	var details *tmdb.PersonDetails
	if person.ID > 0 {
		details, err = r.TMDb.GetPersonDetails(ctx, person.ID)
		if err != nil {
			if !errors.Is(err, tmdb.ErrNotFound) {
				r.Logger.Warn("person details failed", "tmdb_id", person.ID, "error", err)
			}
			details = nil
		}
	}

	actorSlug, err := slug.Unique(ctx, baseSlug, func(ctx context.Context, candidate string) (bool, error) {
		return r.Catalog.SlugTaken(ctx, candidate, actorID)
	})
	if err != nil {
		return err
	}

	photo := ""
	if r.Photos != nil && person.ProfilePath != "" {
		// named after the final slug; a failed download leaves the actor without a photo
		photo, _ = r.Photos.DownloadProfile(ctx, person.ProfilePath, actorSlug)
	}

	imported := catalog.ImportedActor{
		FirstName: first,
		LastName:  last,
		Slug:      actorSlug,
		TmdbID:    person.ID,
		PhotoPath: photo,
	}
	if details != nil {
		imported.Bio = details.Biography
		imported.BirthDate = parseDate(details.Birthday)
		imported.BirthPlace = details.PlaceOfBirth
		imported.DeathDate = parseDate(details.Deathday)
		imported.IMDbID = details.IMDb()
	}

	switch {
	case actorID > 0 && details != nil:
		if err = r.Catalog.UpdateImportedActor(ctx, actorID, imported); err != nil {
			return err
		}
		r.count(ctx, r.actors, "updated")
	case actorID > 0:
		// nothing new to write without details; just link the credit
		r.count(ctx, r.actors, "linked")
	default:
		actorID, err = r.Catalog.InsertImportedActor(ctx, imported)
		if err != nil {
			return err
		}
		r.count(ctx, r.actors, "created")
	}

	return r.Catalog.UpsertCredit(ctx, filmID, actorID, strings.TrimSpace(person.Character), order < r.mainRoles(), order)
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil
	}
	return &t
}

// Run processes batches from offset until the catalog is exhausted or ctx
// is cancelled, reporting every batch to progress.
func (r *Runner) Run(ctx context.Context, offset int, clear bool, progress func(BatchResult)) (BatchResult, error) {
	if progress == nil {
		progress = func(BatchResult) {}
	}

	if clear {
		res, err := r.RunBatch(ctx, 0, true)
		if err != nil {
			return res, err
		}
		progress(res)
		offset = 0
	}

	for {
		res, err := r.RunBatch(ctx, offset, false)
		if err != nil {
			return res, err
		}
		progress(res)
		if res.Completed {
			return res, nil
		}
		offset = res.NextOffset
	}
}
