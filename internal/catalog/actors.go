package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mark-c-hall/movieshelf/internal/models"
	"github.com/mark-c-hall/movieshelf/internal/slug"
)

const DefaultPerPage = 25

const actorColumns = `id, first_name, last_name, slug, birth_date, birth_place,
	death_date, nationality, bio, photo_path, imdb_id, tmdb_id, website,
	view_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(row rowScanner) (models.Actor, error) {
	var (
		a                    models.Actor
		birthDate, deathDate sql.NullTime
		tmdbID               sql.NullInt64
	)
	err := row.Scan(
		&a.ID, &a.FirstName, &a.LastName, &a.Slug, &birthDate, &a.BirthPlace,
		&deathDate, &a.Nationality, &a.Bio, &a.PhotoPath, &a.IMDbID, &tmdbID, &a.Website,
		&a.ViewCount, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return models.Actor{}, err
	}
	a.BirthDate = timePtr(birthDate)
	a.DeathDate = timePtr(deathDate)
	a.TmdbID = intPtr(tmdbID)
	return a, nil
}

func (s *Store) GetActorByID(ctx context.Context, id int) (models.Actor, error) {
	return s.fetchActor(ctx, "id", id)
}

func (s *Store) GetActorBySlug(ctx context.Context, slug string) (models.Actor, error) {
	return s.fetchActor(ctx, "slug", slug)
}

// fetchActor loads one actor by a whitelisted key column.
func (s *Store) fetchActor(ctx context.Context, field string, value any) (models.Actor, error) {
	if field != "id" && field != "slug" {
		return models.Actor{}, fmt.Errorf("unsupported actor lookup field %q", field)
	}

	query := "SELECT " + actorColumns + " FROM actors WHERE " + field + " = $1 LIMIT 1"
	a, err := scanActor(s.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Actor{}, ErrNotFound
	}
	if err != nil {
		return models.Actor{}, fmt.Errorf("error loading actor by %s: %w", field, err)
	}
	return a, nil
}

// SlugTaken reports whether slug belongs to an actor other than excludeID.
func (s *Store) SlugTaken(ctx context.Context, candidate string, excludeID int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM actors WHERE slug = $1 AND id <> $2)",
		candidate, excludeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking slug: %w", err)
	}
	return exists, nil
}

func (s *Store) uniqueSlug(ctx context.Context, first, last string, excludeID int) (string, error) {
	return slug.Unique(ctx, slug.Make(first, last), func(ctx context.Context, candidate string) (bool, error) {
		return s.SlugTaken(ctx, candidate, excludeID)
	})
}

func (s *Store) CreateActor(ctx context.Context, in models.ActorInput) (models.Actor, error) {
	actorSlug, err := s.uniqueSlug(ctx, in.FirstName, in.LastName, 0)
	if err != nil {
		return models.Actor{}, err
	}

	query := `
		INSERT INTO actors (
			first_name, last_name, slug, birth_date, birth_place,
			death_date, nationality, bio, photo_path, website,
			imdb_id, tmdb_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + actorColumns

	a, err := scanActor(s.db.QueryRowContext(ctx, query,
		in.FirstName, in.LastName, actorSlug, nullTime(in.BirthDate), in.BirthPlace,
		nullTime(in.DeathDate), in.Nationality, in.Bio, in.PhotoPath, in.Website,
		in.IMDbID, nullInt(in.TmdbID),
	))
	if isUniqueViolation(err) {
		return models.Actor{}, fmt.Errorf("error creating actor: %w", ErrDuplicate)
	}
	if err != nil {
		return models.Actor{}, fmt.Errorf("error creating actor: %w", err)
	}
	return a, nil
}

// UpdateActor keeps the stored photo when in.PhotoPath is empty and only
// regenerates the slug when the name changed.
func (s *Store) UpdateActor(ctx context.Context, id int, in models.ActorInput) (models.Actor, error) {
	existing, err := s.GetActorByID(ctx, id)
	if err != nil {
		return models.Actor{}, err
	}

	actorSlug := existing.Slug
	if existing.FirstName != in.FirstName || existing.LastName != in.LastName {
		actorSlug, err = s.uniqueSlug(ctx, in.FirstName, in.LastName, id)
		if err != nil {
			return models.Actor{}, err
		}
	}

	photo := existing.PhotoPath
	if in.PhotoPath != "" {
		photo = in.PhotoPath
	}

	query := `
		UPDATE actors SET
			first_name = $2, last_name = $3, slug = $4, birth_date = $5,
			birth_place = $6, death_date = $7, nationality = $8, bio = $9,
			photo_path = $10, website = $11, imdb_id = $12, tmdb_id = $13,
			updated_at = now()
		WHERE id = $1
		RETURNING ` + actorColumns

	a, err := scanActor(s.db.QueryRowContext(ctx, query,
		id, in.FirstName, in.LastName, actorSlug, nullTime(in.BirthDate),
		in.BirthPlace, nullTime(in.DeathDate), in.Nationality, in.Bio,
		photo, in.Website, in.IMDbID, nullInt(in.TmdbID),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Actor{}, ErrNotFound
	}
	if isUniqueViolation(err) {
		return models.Actor{}, fmt.Errorf("error updating actor: %w", ErrDuplicate)
	}
	if err != nil {
		return models.Actor{}, fmt.Errorf("error updating actor: %w", err)
	}
	return a, nil
}

// DeleteActor removes the actor and its film links, returning the deleted row.
func (s *Store) DeleteActor(ctx context.Context, id int) (models.Actor, error) {
	var deleted models.Actor
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM film_actor WHERE actor_id = $1", id); err != nil {
			return fmt.Errorf("error deleting film links: %w", err)
		}

		a, err := scanActor(tx.QueryRowContext(ctx, "DELETE FROM actors WHERE id = $1 RETURNING "+actorColumns, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("error deleting actor: %w", err)
		}
		deleted = a
		return nil
	})
	return deleted, err
}

func (s *Store) IncrementViewCount(ctx context.Context, id int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE actors SET view_count = view_count + 1 WHERE id = $1", id); err != nil {
		return fmt.Errorf("error incrementing view count: %w", err)
	}
	return nil
}

var sortColumns = map[string]string{
	"id":          "a.id %[1]s",
	"first_name":  "a.first_name %[1]s, a.last_name %[1]s",
	"last_name":   "a.last_name %[1]s, a.first_name %[1]s",
	"birth_date":  "a.birth_date %[1]s NULLS LAST",
	"nationality": "a.nationality %[1]s",
	"created_at":  "a.created_at %[1]s",
}

type ListParams struct {
	Search  string
	Sort    string
	Order   string
	Page    int
	PerPage int
}

// Normalize clamps paging and replaces unknown sort keys with id desc.
func (p ListParams) Normalize() ListParams {
	p.Search = strings.TrimSpace(p.Search)
	if _, ok := sortColumns[p.Sort]; !ok {
		p.Sort = "id"
	}
	p.Order = strings.ToLower(p.Order)
	if p.Order != "asc" && p.Order != "desc" {
		p.Order = "desc"
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = DefaultPerPage
	}
	return p
}

func (p ListParams) orderBy() string {
	clause := fmt.Sprintf(sortColumns[p.Sort], strings.ToUpper(p.Order))
	if p.Sort != "id" {
		clause += ", a.id DESC"
	}
	return clause
}

type ActorPage struct {
	Actors     []models.ActorListItem
	Total      int
	TotalPages int
	Params     ListParams
}

func (s *Store) ListActors(ctx context.Context, params ListParams) (*ActorPage, error) {
	p := params.Normalize()

	where := ""
	args := []any{}
	if p.Search != "" {
		pattern := "%" + escapeLike(p.Search) + "%"
		where = "WHERE (a.first_name ILIKE $1 OR a.last_name ILIKE $1 OR a.nationality ILIKE $1)"
		args = append(args, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM actors a "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("error counting actors: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT a.id, a.first_name, a.last_name, a.slug, a.birth_date, a.birth_place,
		       a.nationality, a.photo_path, a.view_count, a.created_at,
		       COUNT(DISTINCT fa.film_id) AS film_count
		FROM actors a
		LEFT JOIN film_actor fa ON a.id = fa.actor_id
		%s
		GROUP BY a.id
		ORDER BY %s
		LIMIT $%d OFFSET $%d`, where, p.orderBy(), len(args)+1, len(args)+2)
	args = append(args, p.PerPage, (p.Page-1)*p.PerPage)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing actors: %w", err)
	}
	defer rows.Close()

	var actors []models.ActorListItem
	for rows.Next() {
		var (
			a         models.ActorListItem
			birthDate sql.NullTime
		)
		if err := rows.Scan(
			&a.ID, &a.FirstName, &a.LastName, &a.Slug, &birthDate, &a.BirthPlace,
			&a.Nationality, &a.PhotoPath, &a.ViewCount, &a.CreatedAt, &a.FilmCount,
		); err != nil {
			return nil, fmt.Errorf("error scanning actor row: %w", err)
		}
		a.BirthDate = timePtr(birthDate)
		actors = append(actors, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actor rows: %w", err)
	}

	return &ActorPage{
		Actors:     actors,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(p.PerPage))),
		Params:     p,
	}, nil
}

// ActorsByLetter lists actors for the public index, optionally restricted to
// names starting with letter (A-Z).
func (s *Store) ActorsByLetter(ctx context.Context, letter string) ([]models.ActorCard, error) {
	query := `
		SELECT id, first_name, last_name, slug,
		       COALESCE(EXTRACT(YEAR FROM birth_date)::int, 0), photo_path
		FROM actors`
	args := []any{}
	if len(letter) == 1 && letter[0] >= 'A' && letter[0] <= 'Z' {
		query += " WHERE (last_name ILIKE $1 OR first_name ILIKE $1)"
		args = append(args, letter+"%")
	}
	query += " ORDER BY last_name ASC, first_name ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing actors by letter: %w", err)
	}
	defer rows.Close()

	var cards []models.ActorCard
	for rows.Next() {
		var c models.ActorCard
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Slug, &c.BirthYear, &c.PhotoPath); err != nil {
			return nil, fmt.Errorf("error scanning actor card: %w", err)
		}
		cards = append(cards, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actor cards: %w", err)
	}
	return cards, nil
}
