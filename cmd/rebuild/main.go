package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark-c-hall/movieshelf/internal/catalog"
	"github.com/mark-c-hall/movieshelf/internal/config"
	"github.com/mark-c-hall/movieshelf/internal/graph"
	"github.com/mark-c-hall/movieshelf/internal/handler"
	"github.com/mark-c-hall/movieshelf/internal/photo"
	"github.com/mark-c-hall/movieshelf/internal/rebuild"
	"github.com/mark-c-hall/movieshelf/internal/tmdb"
)

var clearFlag = flag.Bool("clear", false, "empty the actor tables before importing")
var resumeFlag = flag.Bool("resume", false, "continue from the stored offset of the last run")
var offsetFlag = flag.Int("offset", 0, "film offset to start at (ignored with -resume or -clear)")
var graphOnlyFlag = flag.Bool("graph-only", false, "only rebuild the neo4j costar graph from the catalog")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalln("Error loading config:", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := catalog.Open(ctx, cfg.DB.URL)
	if err != nil {
		log.Fatalln("Error connecting to database:", err)
	}
	defer store.Close()

	var db *graph.Driver
	if cfg.Graph.Enabled() {
		if db, err = graph.NewDriver(ctx, *cfg); err != nil {
			log.Fatalln("Error connecting to neo4j:", err)
		}
		defer db.Close(context.Background())
		if err = db.SetupSchema(ctx); err != nil {
			log.Fatalln("Error setting up graph schema:", err)
		}
	}

	if *graphOnlyFlag {
		if db == nil {
			log.Fatalln("-graph-only needs NEO4J_URI")
		}
		rebuildGraph(ctx, store, db)
		return
	}

	token, err := store.GetSetting(ctx, handler.TMDBKeySetting, "")
	if err != nil {
		log.Fatalln("Error reading api key setting:", err)
	}
	if token == "" {
		token = cfg.Client.APIToken
	}
	if token == "" {
		log.Fatalln("No TMDb api key: set TMDB_API_TOKEN or the tmdb_api_key setting")
	}

	client := tmdb.NewClient(*cfg).WithToken(token)
	photos := photo.NewStore(cfg.Media.ImagesDir, cfg.Media.MaxUploadBytes, client, logger)

	var syncer rebuild.GraphSyncer
	if db != nil {
		syncer = db
	}
	runner := rebuild.NewRunner(cfg.Rebuild, store, client, photos, syncer, logger)

	offset := *offsetFlag
	if *resumeFlag {
		if offset, err = runner.ResumeOffset(ctx); err != nil {
			log.Fatalln("Error reading resume offset:", err)
		}
		log.Printf("Resuming at film %d", offset)
	}

	_, err = runner.Run(ctx, offset, *clearFlag, func(res rebuild.BatchResult) {
		if res.TablesCleared {
			log.Println("Actor tables cleared")
			return
		}
		log.Printf("Films %d/%d (%.1f%%): %d imported, %d skipped, %d errors",
			res.Processed, res.Total, res.Progress, res.Imported, res.Skipped, res.Errors)
	})
	if errors.Is(err, context.Canceled) {
		// the cancelled batch reports nothing; the stored offset is the last completed one
		next, rerr := runner.ResumeOffset(context.Background())
		if rerr != nil {
			log.Fatalln("Interrupted, error reading resume offset:", rerr)
		}
		log.Printf("Interrupted, rerun with -resume to continue at film %d", next)
		return
	}
	if err != nil {
		log.Fatalln("Rebuild failed:", err)
	}

	log.Println("Rebuild complete")
	if db != nil {
		printGraphStats(ctx, db)
	}
}

// rebuildGraph replays every film with a cast into the costar graph.
func rebuildGraph(ctx context.Context, store *catalog.Store, db *graph.Driver) {
	if err := db.Clear(ctx); err != nil {
		log.Fatalln("Error clearing graph:", err)
	}

	ids, err := store.FilmIDsWithCast(ctx)
	if err != nil {
		log.Fatalln("Error listing films:", err)
	}

	for i, id := range ids {
		if ctx.Err() != nil {
			log.Println("Interrupted, stopping graph rebuild")
			return
		}
		if err := db.SyncFilm(ctx, store, id); err != nil {
			log.Printf("Error syncing film %d, skipping: %v", id, err)
			continue
		}
		if (i+1)%100 == 0 {
			log.Printf("Synced %d/%d films", i+1, len(ids))
		}
	}

	log.Printf("Graph rebuilt from %d films", len(ids))
	printGraphStats(ctx, db)
}

func printGraphStats(ctx context.Context, db *graph.Driver) {
	stats, err := db.GetStats(ctx)
	if err != nil {
		log.Printf("Error reading graph stats: %v", err)
		return
	}
	log.Printf("Graph: %d actors, %d costar edges", stats.ActorCount, stats.EdgeCount)
	if stats.MostConnectedActor != "" {
		log.Printf("Most connected: %s (%d)", stats.MostConnectedActor, stats.MostConnectedCount)
	}
}
