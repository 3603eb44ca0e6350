// Package graph projects the catalog's film casts into a Neo4j costar graph.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v6/neo4j"

	"github.com/mark-c-hall/movieshelf/internal/config"
	"github.com/mark-c-hall/movieshelf/internal/models"
)

type Driver struct {
	driver neo4j.Driver
}

// Actor is a graph node keyed by the catalog actor id.
type Actor struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Film struct {
	ID    int
	Title string
	Year  int
}

// PathStep is either an actor or the film connecting two actors.
type PathStep struct {
	Actor     *Actor `json:"actor,omitempty"`
	FilmID    int    `json:"film_id,omitempty"`
	FilmTitle string `json:"film_title,omitempty"`
	FilmYear  int    `json:"film_year,omitempty"`
}

type Stats struct {
	ActorCount         int    `json:"actor_count"`
	EdgeCount          int    `json:"edge_count"`
	MostConnectedActor string `json:"most_connected_actor"`
	MostConnectedCount int    `json:"most_connected_count"`
}

type CastSource interface {
	GetFilm(ctx context.Context, id int) (models.Film, error)
	FilmCast(ctx context.Context, filmID int) ([]models.CastMember, error)
}

func NewDriver(ctx context.Context, cfg config.Config) (*Driver, error) {
	driver, err := neo4j.NewDriver(
		cfg.Graph.URI,
		neo4j.BasicAuth(cfg.Graph.User, cfg.Graph.Pass, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating neo4j driver: %w", err)
	}

	if err = driver.VerifyAuthentication(ctx, nil); err != nil {
		return nil, fmt.Errorf("error authenticating into neo4j: %w", err)
	}

	return &Driver{driver: driver}, nil
}

func (d *Driver) SetupSchema(ctx context.Context) error {
	queries := []string{
		"CREATE CONSTRAINT actor_id IF NOT EXISTS FOR (a:Actor) REQUIRE a.id IS UNIQUE",
		"CREATE FULLTEXT INDEX actor_name IF NOT EXISTS FOR (a:Actor) ON EACH [a.name]",
	}

	session := d.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("error running schema query: %w", err)
		}
	}

	return nil
}

func (d *Driver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

func (d *Driver) VerifyConnectivity(ctx context.Context) error {
	return d.driver.VerifyConnectivity(ctx)
}

func (d *Driver) run(ctx context.Context, cypher string, params map[string]any) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx, cypher, params)
	return err
}

func (d *Driver) UpsertActor(ctx context.Context, actor Actor) error {
	cypher := "MERGE (a:Actor {id: $id}) SET a.name = $name, a.slug = $slug"
	params := map[string]any{"id": actor.ID, "name": actor.Name, "slug": actor.Slug}

	if err := d.run(ctx, cypher, params); err != nil {
		return fmt.Errorf("error upserting actor: %w", err)
	}
	return nil
}

func (d *Driver) DeleteActor(ctx context.Context, id int) error {
	if err := d.run(ctx, "MATCH (a:Actor {id: $id}) DETACH DELETE a", map[string]any{"id": id}); err != nil {
		return fmt.Errorf("error deleting actor: %w", err)
	}
	return nil
}

func (d *Driver) Clear(ctx context.Context) error {
	if err := d.run(ctx, "MATCH (a:Actor) DETACH DELETE a", nil); err != nil {
		return fmt.Errorf("error clearing graph: %w", err)
	}
	return nil
}

// ReplaceFilmCast drops the film's existing edges and links every pair of
// cast members. Actors are merged first so the edges always have both ends.
func (d *Driver) ReplaceFilmCast(ctx context.Context, film Film, cast []Actor) error {
	actors := make([]map[string]any, 0, len(cast))
	for _, a := range cast {
		actors = append(actors, map[string]any{"id": a.ID, "name": a.Name, "slug": a.Slug})
	}

	var pairs []map[string]any
	for i := 0; i < len(cast); i++ {
		for j := i + 1; j < len(cast); j++ {
			pairs = append(pairs, map[string]any{"a": cast[i].ID, "b": cast[j].ID})
		}
	}

	session := d.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			"MATCH ()-[r:COSTARRED {film_id: $filmID}]-() DELETE r",
			map[string]any{"filmID": film.ID},
		); err != nil {
			return nil, err
		}

		if len(actors) > 0 {
			if _, err := tx.Run(ctx, `
				UNWIND $actors AS actor
				MERGE (a:Actor {id: actor.id})
				SET a.name = actor.name, a.slug = actor.slug`,
				map[string]any{"actors": actors},
			); err != nil {
				return nil, err
			}
		}

		if len(pairs) > 0 {
			if _, err := tx.Run(ctx, `
				UNWIND $pairs AS pair
				MATCH (a:Actor {id: pair.a}), (b:Actor {id: pair.b})
				MERGE (a)-[r:COSTARRED {film_id: $filmID}]->(b)
				SET r.title = $title, r.year = $year`,
				map[string]any{"pairs": pairs, "filmID": film.ID, "title": film.Title, "year": film.Year},
			); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("error replacing cast of film %d: %w", film.ID, err)
	}
	return nil
}

// SyncFilm reads a film's cast from src and mirrors it into the graph.
func (d *Driver) SyncFilm(ctx context.Context, src CastSource, filmID int) error {
	f, err := src.GetFilm(ctx, filmID)
	if err != nil {
		return fmt.Errorf("error loading film %d for graph sync: %w", filmID, err)
	}
	members, err := src.FilmCast(ctx, filmID)
	if err != nil {
		return fmt.Errorf("error loading cast of film %d for graph sync: %w", filmID, err)
	}

	cast := make([]Actor, 0, len(members))
	for _, m := range members {
		cast = append(cast, Actor{ID: m.ActorID, Name: m.FullName(), Slug: m.Slug})
	}
	return d.ReplaceFilmCast(ctx, Film{ID: f.ID, Title: f.Title, Year: f.Year}, cast)
}

func (d *Driver) ShortestPath(ctx context.Context, actorA, actorB int) ([]PathStep, error) {
	cypher := `
		MATCH (a:Actor {id: $idA}), (b:Actor {id: $idB}),
		      p = shortestPath((a)-[:COSTARRED*]-(b))
		RETURN [n IN nodes(p) | {id: n.id, name: n.name, slug: n.slug}] AS actors,
		       [r IN relationships(p) | {film_id: r.film_id, title: r.title, year: r.year}] AS films`
	params := map[string]any{"idA": actorA, "idB": actorB}

	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("error finding shortest path: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return nil, nil // no path found
	}

	actorList, _ := record.Get("actors")
	filmList, _ := record.Get("films")
	actors := actorList.([]any)
	films := filmList.([]any)

	steps := make([]PathStep, 0, len(actors)+len(films))
	for i, actor := range actors {
		a := actor.(map[string]any)
		id, _ := a["id"].(int64)
		name, _ := a["name"].(string)
		slug, _ := a["slug"].(string)
		steps = append(steps, PathStep{Actor: &Actor{ID: int(id), Name: name, Slug: slug}})
		if i < len(films) {
			f := films[i].(map[string]any)
			filmID, _ := f["film_id"].(int64)
			year, _ := f["year"].(int64)
			title, _ := f["title"].(string)
			steps = append(steps, PathStep{
				FilmID:    int(filmID),
				FilmTitle: title,
				FilmYear:  int(year),
			})
		}
	}

	return steps, nil
}

func (d *Driver) SearchActors(ctx context.Context, prefix string, limit int) ([]Actor, error) {
	cypher := `
		CALL db.index.fulltext.queryNodes("actor_name", $query)
		YIELD node, score
		RETURN node.id AS id, node.name AS name, node.slug AS slug
		ORDER BY score DESC
		LIMIT $limit`
	params := map[string]any{"query": prefix + "*", "limit": limit}

	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("error searching actors: %w", err)
	}

	var actors []Actor
	for result.Next(ctx) {
		record := result.Record()
		id, _ := record.Get("id")
		name, _ := record.Get("name")
		slug, _ := record.Get("slug")
		a := Actor{ID: int(id.(int64)), Name: name.(string)}
		if s, ok := slug.(string); ok {
			a.Slug = s
		}
		actors = append(actors, a)
	}
	if err = result.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actor results: %w", err)
	}

	return actors, nil
}

func (d *Driver) GetStats(ctx context.Context) (*Stats, error) {
	cypher := `
		OPTIONAL MATCH (a:Actor)
		WITH count(a) AS actorCount
		OPTIONAL MATCH ()-[r:COSTARRED]->()
		WITH actorCount, count(r) AS edgeCount
		OPTIONAL MATCH (a:Actor)-[r:COSTARRED]-()
		WITH actorCount, edgeCount, a, count(r) AS rels
		ORDER BY rels DESC
		LIMIT 1
		RETURN actorCount, edgeCount, a.name AS topActor, rels AS topCount`

	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, nil)
	if err != nil {
		return nil, fmt.Errorf("error getting stats: %w", err)
	}

	record, err := result.Single(ctx)
	if err != nil {
		return &Stats{}, nil // empty graph
	}

	actorCount, _ := record.Get("actorCount")
	edgeCount, _ := record.Get("edgeCount")
	topActor, _ := record.Get("topActor")
	topCount, _ := record.Get("topCount")

	stats := &Stats{
		ActorCount: int(actorCount.(int64)),
		EdgeCount:  int(edgeCount.(int64)),
	}
	if topActor != nil {
		stats.MostConnectedActor = topActor.(string)
		stats.MostConnectedCount = int(topCount.(int64))
	}

	return stats, nil
}
