package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark-c-hall/movieshelf/internal/auth"
	"github.com/mark-c-hall/movieshelf/internal/catalog"
	"github.com/mark-c-hall/movieshelf/internal/config"
	"github.com/mark-c-hall/movieshelf/internal/graph"
	"github.com/mark-c-hall/movieshelf/internal/handler"
	"github.com/mark-c-hall/movieshelf/internal/photo"
	"github.com/mark-c-hall/movieshelf/internal/rebuild"
	"github.com/mark-c-hall/movieshelf/internal/telemetry"
	"github.com/mark-c-hall/movieshelf/internal/tmdb"
	"github.com/mark-c-hall/movieshelf/web"
)

const sessionPurgeInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("failed to set up telemetry: %v", err)
	}

	store, err := catalog.Open(ctx, cfg.DB.URL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	if err := store.SetupSchema(ctx); err != nil {
		log.Fatalf("failed to set up schema: %v", err)
	}

	var (
		costars  handler.Graph
		syncer   rebuild.GraphSyncer
		shutdown []func(context.Context) error
	)
	if cfg.Graph.Enabled() {
		d, err := graph.NewDriver(ctx, *cfg)
		if err != nil {
			log.Fatalf("failed to initialize neo4j driver: %v", err)
		}
		if err := d.SetupSchema(ctx); err != nil {
			log.Fatalf("failed to set up graph schema: %v", err)
		}
		costars, syncer = d, d
		shutdown = append(shutdown, d.Close)
	} else {
		logger.Info("neo4j not configured, costar connections disabled")
	}

	client := tmdb.NewClient(*cfg)
	photos := photo.NewStore(cfg.Media.ImagesDir, cfg.Media.MaxUploadBytes, client, logger)

	deps := handler.Deps{
		Catalog: store,
		Graph:   costars,
		Auth:    auth.NewManager(store, cfg.Session),
		Photos:  photos,
		NewTMDB: func(key string) handler.TMDB {
			return client.WithToken(key)
		},
		NewRebuilder: func(key string) handler.Rebuilder {
			return rebuild.NewRunner(cfg.Rebuild, store, client.WithToken(key), photos, syncer, logger)
		},
		DefaultToken: cfg.Client.APIToken,
		Metrics:      provider.Handler(),
		Web:          web.FS,
	}

	h, err := handler.NewHandler(ctx, deps, *cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize handler: %v", err)
	}

	srv := http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go purgeSessions(ctx, store, logger)

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Warn("shutdown did not complete cleanly", "error", err)
	}
	for _, fn := range shutdown {
		if err := fn(timeoutCtx); err != nil {
			logger.Warn("error closing graph driver", "error", err)
		}
	}
	if err := provider.Shutdown(timeoutCtx); err != nil {
		logger.Warn("error flushing telemetry", "error", err)
	}

	logger.Info("server stopped")
}

func purgeSessions(ctx context.Context, store *catalog.Store, logger *slog.Logger) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpiredSessions(ctx)
			if err != nil {
				logger.Warn("error purging sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired sessions purged", "count", n)
			}
		}
	}
}
