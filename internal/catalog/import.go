package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mark-c-hall/movieshelf/internal/models"
)

// ImportedActor is an actor as assembled from TMDb during a rebuild.
type ImportedActor struct {
	FirstName  string
	LastName   string
	Slug       string
	TmdbID     int
	Bio        string
	BirthDate  *time.Time
	BirthPlace string
	DeathDate  *time.Time
	PhotoPath  string
	IMDbID     string
}

// ClearActors drops every actor and film link and restarts actor ids at 1.
func (s *Store) ClearActors(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, query := range []string{
			"DELETE FROM film_actor",
			"DELETE FROM actors",
			"ALTER SEQUENCE actors_id_seq RESTART WITH 1",
		} {
			if _, err := tx.ExecContext(ctx, query); err != nil {
				return fmt.Errorf("error clearing actors: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) FilmBatch(ctx context.Context, offset, limit int) ([]models.Film, error) {
	films, err := s.queryFilms(ctx,
		"SELECT "+filmColumns+" FROM dvds WHERE deleted = FALSE ORDER BY id LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("error loading film batch: %w", err)
	}
	return films, nil
}

func (s *Store) CountActiveFilms(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dvds WHERE deleted = FALSE").Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting films: %w", err)
	}
	return n, nil
}

// FindActorForImport matches by TMDb id, then slug, then exact name.
// It returns 0 when no actor matches.
func (s *Store) FindActorForImport(ctx context.Context, tmdbID int, actorSlug, first, last string) (int, error) {
	type lookup struct {
		query string
		args  []any
	}
	var lookups []lookup
	if tmdbID > 0 {
		lookups = append(lookups, lookup{"SELECT id FROM actors WHERE tmdb_id = $1 LIMIT 1", []any{tmdbID}})
	}
	lookups = append(lookups,
		lookup{"SELECT id FROM actors WHERE slug = $1 LIMIT 1", []any{actorSlug}},
		lookup{"SELECT id FROM actors WHERE first_name = $1 AND last_name = $2 LIMIT 1", []any{first, last}},
	)

	for _, l := range lookups {
		var id int
		err := s.db.QueryRowContext(ctx, l.query, l.args...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("error matching imported actor: %w", err)
		}
		return id, nil
	}
	return 0, nil
}

// InsertImportedActor creates an actor from TMDb data. A zero TmdbID is stored as NULL.
func (s *Store) InsertImportedActor(ctx context.Context, a ImportedActor) (int, error) {
	var tmdbID *int
	if a.TmdbID > 0 {
		tmdbID = &a.TmdbID
	}

	var id int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO actors (
			first_name, last_name, slug, tmdb_id, bio,
			birth_date, birth_place, death_date, photo_path, imdb_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		a.FirstName, a.LastName, a.Slug, nullInt(tmdbID), a.Bio,
		nullTime(a.BirthDate), a.BirthPlace, nullTime(a.DeathDate), a.PhotoPath, a.IMDbID,
	).Scan(&id)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("error inserting imported actor: %w", ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("error inserting imported actor: %w", err)
	}
	return id, nil
}

// UpdateImportedActor overwrites an actor with TMDb details, keeping the
// existing photo when none was downloaded.
func (s *Store) UpdateImportedActor(ctx context.Context, id int, a ImportedActor) error {
	var tmdbID *int
	if a.TmdbID > 0 {
		tmdbID = &a.TmdbID
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE actors SET
			first_name = $2, last_name = $3, slug = $4, tmdb_id = $5, bio = $6,
			birth_date = $7, birth_place = $8, death_date = $9,
			photo_path = COALESCE(NULLIF($10, ''), photo_path),
			imdb_id = $11, updated_at = now()
		WHERE id = $1`,
		id, a.FirstName, a.LastName, a.Slug, nullInt(tmdbID), a.Bio,
		nullTime(a.BirthDate), a.BirthPlace, nullTime(a.DeathDate), a.PhotoPath, a.IMDbID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("error updating imported actor: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("error updating imported actor: %w", err)
	}
	return requireAffected(res)
}

// UpsertCredit links an actor to a film, refreshing role and billing on conflict.
func (s *Store) UpsertCredit(ctx context.Context, filmID, actorID int, role string, mainRole bool, order int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO film_actor (film_id, actor_id, role, is_main_role, sort_order)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (film_id, actor_id) DO UPDATE SET
			role = EXCLUDED.role,
			is_main_role = EXCLUDED.is_main_role,
			sort_order = EXCLUDED.sort_order`,
		filmID, actorID, nullString(role), mainRole, order,
	)
	if err != nil {
		return fmt.Errorf("error upserting credit: %w", err)
	}
	return nil
}
