package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://movieshelf@localhost/movieshelf?sslmode=disable")
	t.Setenv("NEO4J_URI", "")
	t.Setenv("CONFIG_FILE", "")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Client.Limit != 4 || cfg.Client.Burst != 5 {
		t.Errorf("expected limit 4 burst 5, got %d/%d", cfg.Client.Limit, cfg.Client.Burst)
	}
	if cfg.Client.Language != "de-DE" {
		t.Errorf("expected de-DE, got %s", cfg.Client.Language)
	}
	if cfg.Rebuild.BatchSize != 3 || cfg.Rebuild.MaxCast != 10 || cfg.Rebuild.MainRoles != 3 {
		t.Errorf("unexpected rebuild defaults: %+v", cfg.Rebuild)
	}
	if cfg.Media.MaxUploadBytes != 5<<20 {
		t.Errorf("expected 5MiB upload limit, got %d", cfg.Media.MaxUploadBytes)
	}
	if cfg.Session.TTL != 12*time.Hour {
		t.Errorf("expected 12h session ttl, got %s", cfg.Session.TTL)
	}
	if cfg.Graph.Enabled() {
		t.Error("expected graph to be disabled without NEO4J_URI")
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DATABASE_URL, got nil")
	}
}

func TestLoad_GraphRequiresUser(t *testing.T) {
	setRequired(t)
	t.Setenv("NEO4J_URI", "bolt://localhost:7687")
	t.Setenv("NEO4J_USER", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing NEO4J_USER, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("REQUEST_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
}

func TestLoad_InvalidExporter(t *testing.T) {
	setRequired(t)
	t.Setenv("OTEL_TRACES_EXPORTER", "zipkin")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown exporter, got nil")
	}
}

func TestLoad_YAMLDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "")
	t.Setenv("SITE_TITLE", "from env")

	path := filepath.Join(t.TempDir(), "movieshelf.yaml")
	content := "PORT: \"9090\"\nSITE_TITLE: from yaml\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected yaml port :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Server.SiteTitle != "from env" {
		t.Errorf("expected env to win over yaml, got %s", cfg.Server.SiteTitle)
	}
}
