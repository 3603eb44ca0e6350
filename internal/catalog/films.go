package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mark-c-hall/movieshelf/internal/models"
)

const (
	filmSearchMinLen = 2
	filmSearchLimit  = 20
)

const filmColumns = `id, title, year, genre, cover_id, cover_path, runtime, rating_age,
	COALESCE(trailer_url, ''), boxset_parent, deleted, created_at`

func scanFilm(row rowScanner) (models.Film, error) {
	var (
		f      models.Film
		parent sql.NullInt64
	)
	err := row.Scan(
		&f.ID, &f.Title, &f.Year, &f.Genre, &f.CoverID, &f.CoverPath, &f.Runtime, &f.RatingAge,
		&f.TrailerURL, &parent, &f.Deleted, &f.CreatedAt,
	)
	if err != nil {
		return models.Film{}, err
	}
	f.BoxsetParent = intPtr(parent)
	return f, nil
}

func (s *Store) GetFilm(ctx context.Context, id int) (models.Film, error) {
	f, err := scanFilm(s.db.QueryRowContext(ctx, "SELECT "+filmColumns+" FROM dvds WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Film{}, ErrNotFound
	}
	if err != nil {
		return models.Film{}, fmt.Errorf("error loading film: %w", err)
	}
	return f, nil
}

func (s *Store) queryFilms(ctx context.Context, query string, args ...any) ([]models.Film, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var films []models.Film
	for rows.Next() {
		f, err := scanFilm(rows)
		if err != nil {
			return nil, err
		}
		films = append(films, f)
	}
	return films, rows.Err()
}

// ChildFilms returns the titles contained in a boxset.
func (s *Store) ChildFilms(ctx context.Context, parentID int) ([]models.Film, error) {
	films, err := s.queryFilms(ctx,
		"SELECT "+filmColumns+" FROM dvds WHERE boxset_parent = $1 AND deleted = FALSE ORDER BY title", parentID)
	if err != nil {
		return nil, fmt.Errorf("error loading boxset children: %w", err)
	}
	return films, nil
}

// TrailerFilms pages through films that have a trailer, newest first.
func (s *Store) TrailerFilms(ctx context.Context, offset, limit int) ([]models.Film, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dvds WHERE trailer_url IS NOT NULL AND trailer_url <> '' AND deleted = FALSE",
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("error counting trailers: %w", err)
	}

	films, err := s.queryFilms(ctx, `
		SELECT `+filmColumns+` FROM dvds
		WHERE trailer_url IS NOT NULL AND trailer_url <> '' AND deleted = FALSE
		ORDER BY id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("error loading trailers: %w", err)
	}
	return films, total, nil
}

// SearchFilms ranks exact title matches first, then prefix matches, then the rest.
func (s *Store) SearchFilms(ctx context.Context, q string) ([]models.FilmSummary, error) {
	q = strings.TrimSpace(q)
	if len([]rune(q)) < filmSearchMinLen {
		return []models.FilmSummary{}, nil
	}
	escaped := escapeLike(q)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, year, cover_path
		FROM dvds
		WHERE title ILIKE $1 AND deleted = FALSE
		ORDER BY
			CASE
				WHEN title ILIKE $2 THEN 1
				WHEN title ILIKE $3 THEN 2
				ELSE 3
			END,
			title ASC
		LIMIT $4`,
		"%"+escaped+"%", escaped, escaped+"%", filmSearchLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("error searching films: %w", err)
	}
	defer rows.Close()

	films := []models.FilmSummary{}
	for rows.Next() {
		var f models.FilmSummary
		if err := rows.Scan(&f.ID, &f.Title, &f.Year, &f.CoverPath); err != nil {
			return nil, fmt.Errorf("error scanning film: %w", err)
		}
		films = append(films, f)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating films: %w", err)
	}
	return films, nil
}

// AddFilmToActor links a film to an actor at the end of the film's cast order.
func (s *Store) AddFilmToActor(ctx context.Context, actorID, filmID int, role string) (models.FilmSummary, error) {
	var film models.FilmSummary
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM film_actor WHERE actor_id = $1 AND film_id = $2)",
			actorID, filmID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("error checking film link: %w", err)
		}
		if exists {
			return ErrDuplicate
		}

		err = tx.QueryRowContext(ctx, "SELECT id, title, year, cover_path FROM dvds WHERE id = $1", filmID).
			Scan(&film.ID, &film.Title, &film.Year, &film.CoverPath)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("error loading film: %w", err)
		}

		var nextOrder int
		err = tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(sort_order), 0) + 1 FROM film_actor WHERE film_id = $1", filmID,
		).Scan(&nextOrder)
		if err != nil {
			return fmt.Errorf("error computing sort order: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO film_actor (film_id, actor_id, role, sort_order) VALUES ($1, $2, $3, $4)",
			filmID, actorID, role, nextOrder,
		)
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("error linking film: %w", err)
		}
		return nil
	})
	return film, err
}

func (s *Store) RemoveFilmFromActor(ctx context.Context, actorID, filmID int) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM film_actor WHERE actor_id = $1 AND film_id = $2", actorID, filmID)
	if err != nil {
		return fmt.Errorf("error removing film link: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) UpdateRole(ctx context.Context, actorID, filmID int, role string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE film_actor SET role = $3 WHERE actor_id = $1 AND film_id = $2", actorID, filmID, role)
	if err != nil {
		return fmt.Errorf("error updating role: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActorFilms is an actor's filmography within the collection, newest first.
func (s *Store) ActorFilms(ctx context.Context, actorID int) ([]models.FilmographyEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.year, d.genre, d.cover_id, d.runtime, d.rating_age,
		       COALESCE(fa.role, ''), fa.is_main_role
		FROM dvds d
		INNER JOIN film_actor fa ON d.id = fa.film_id
		WHERE fa.actor_id = $1 AND d.deleted = FALSE
		ORDER BY d.year DESC, d.title ASC`, actorID)
	if err != nil {
		return nil, fmt.Errorf("error loading actor films: %w", err)
	}
	defer rows.Close()

	var films []models.FilmographyEntry
	for rows.Next() {
		var f models.FilmographyEntry
		if err := rows.Scan(&f.ID, &f.Title, &f.Year, &f.Genre, &f.CoverID, &f.Runtime, &f.RatingAge,
			&f.Role, &f.IsMainRole); err != nil {
			return nil, fmt.Errorf("error scanning actor film: %w", err)
		}
		films = append(films, f)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actor films: %w", err)
	}
	return films, nil
}

func (s *Store) FilmCast(ctx context.Context, filmID int) ([]models.CastMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.first_name, a.last_name, a.slug,
		       COALESCE(fa.role, ''), fa.is_main_role, fa.sort_order
		FROM actors a
		INNER JOIN film_actor fa ON a.id = fa.actor_id
		WHERE fa.film_id = $1
		ORDER BY fa.sort_order ASC, a.last_name ASC, a.first_name ASC`, filmID)
	if err != nil {
		return nil, fmt.Errorf("error loading film cast: %w", err)
	}
	defer rows.Close()

	var cast []models.CastMember
	for rows.Next() {
		var c models.CastMember
		if err := rows.Scan(&c.ActorID, &c.FirstName, &c.LastName, &c.Slug, &c.Role, &c.IsMainRole, &c.SortOrder); err != nil {
			return nil, fmt.Errorf("error scanning cast member: %w", err)
		}
		cast = append(cast, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cast: %w", err)
	}
	return cast, nil
}

// FilmIDsWithCast lists active films that have at least one linked actor.
func (s *Store) FilmIDsWithCast(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT d.id FROM dvds d
		INNER JOIN film_actor fa ON d.id = fa.film_id
		WHERE d.deleted = FALSE
		ORDER BY d.id`)
	if err != nil {
		return nil, fmt.Errorf("error listing films with cast: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning film id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ActorFilmIDs lists the films an actor is linked to, used to refresh the graph.
func (s *Store) ActorFilmIDs(ctx context.Context, actorID int) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT film_id FROM film_actor WHERE actor_id = $1 ORDER BY film_id", actorID)
	if err != nil {
		return nil, fmt.Errorf("error listing actor film ids: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning film id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
