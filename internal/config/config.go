package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ClientConfig struct {
	APIToken    string
	Timeout     time.Duration
	Limit       int
	Burst       int
	MaxRetries  int
	BaseBackoff time.Duration
	Language    string
}

type DBConfig struct {
	URL string
}

// GraphConfig is optional; an empty URI disables the costar graph.
type GraphConfig struct {
	URI  string
	User string
	Pass string
}

func (g GraphConfig) Enabled() bool {
	return g.URI != ""
}

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	CORSOrigin      string
	RateLimitPerSec float64
	RateBurst       int
	SiteTitle       string
}

type MediaConfig struct {
	ImagesDir      string
	CoverDir       string
	MaxUploadBytes int64
}

type SessionConfig struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

type RebuildConfig struct {
	BatchSize int
	MaxCast   int
	MainRoles int
}

type TelemetryConfig struct {
	ServiceName    string
	TracesExporter string
	OTLPEndpoint   string
}

type Config struct {
	Client    ClientConfig
	DB        DBConfig
	Graph     GraphConfig
	Server    ServerConfig
	Media     MediaConfig
	Session   SessionConfig
	Rebuild   RebuildConfig
	Telemetry TelemetryConfig
}

func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load .env: %v", err)
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadYAMLDefaults(path); err != nil {
			return nil, fmt.Errorf("invalid config file: %w", err)
		}
	}

	cfg := Config{}

	cfg.Client.APIToken = os.Getenv("TMDB_API_TOKEN")

	duration, err := getEnvTimeDefault("HTTP_CLIENT_TIMEOUT", "30s")
	if err != nil {
		return nil, fmt.Errorf("invalid timeout: %w", err)
	}
	cfg.Client.Timeout = duration

	limit, err := getEnvIntDefault("TMDB_RATE_LIMIT", "4") // Defaults to 4 reqs/s (40 reqs per 10s)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit: %w", err)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("invalid rate limit: must be positive, got %d", limit)
	}
	cfg.Client.Limit = limit

	burst, err := getEnvIntDefault("TMDB_BURST_AMOUNT", "5")
	if err != nil {
		return nil, fmt.Errorf("invalid burst amount: %w", err)
	}
	cfg.Client.Burst = burst

	maxRetries, err := getEnvIntDefault("TMDB_MAX_RETRIES", "3")
	if err != nil {
		return nil, fmt.Errorf("invalid max retries: %w", err)
	}
	cfg.Client.MaxRetries = maxRetries

	baseBackoff, err := getEnvTimeDefault("TMDB_BASE_BACKOFF", "1s")
	if err != nil {
		return nil, fmt.Errorf("invalid base backoff: %w", err)
	}
	cfg.Client.BaseBackoff = baseBackoff

	cfg.Client.Language = getEnvStringDefault("TMDB_LANGUAGE", "de-DE")

	dbURL, err := getEnvString("DATABASE_URL")
	if err != nil {
		return nil, fmt.Errorf("missing env: %w", err)
	}
	cfg.DB.URL = dbURL

	cfg.Graph.URI = os.Getenv("NEO4J_URI")
	if cfg.Graph.Enabled() {
		user, err := getEnvString("NEO4J_USER")
		if err != nil {
			return nil, fmt.Errorf("missing env: %w", err)
		}
		cfg.Graph.User = user
		cfg.Graph.Pass = os.Getenv("NEO4J_PASSWORD")
	}

	cfg.Server.Addr = ":" + getEnvStringDefault("PORT", "8080")

	readTimeout, err := getEnvTimeDefault("SERVER_READ_TIMEOUT", "5s")
	if err != nil {
		return nil, fmt.Errorf("invalid read timeout: %w", err)
	}
	cfg.Server.ReadTimeout = readTimeout

	writeTimeout, err := getEnvTimeDefault("SERVER_WRITE_TIMEOUT", "10s")
	if err != nil {
		return nil, fmt.Errorf("invalid write timeout: %w", err)
	}
	cfg.Server.WriteTimeout = writeTimeout

	idleTimeout, err := getEnvTimeDefault("SERVER_IDLE_TIMEOUT", "120s")
	if err != nil {
		return nil, fmt.Errorf("invalid idle timeout: %w", err)
	}
	cfg.Server.IdleTimeout = idleTimeout

	shutdownTimeout, err := getEnvTimeDefault("SERVER_SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, fmt.Errorf("invalid shutdown timeout: %w", err)
	}
	cfg.Server.ShutdownTimeout = shutdownTimeout

	requestTimeout, err := getEnvTimeDefault("REQUEST_TIMEOUT", "10s")
	if err != nil {
		return nil, fmt.Errorf("invalid request timeout: %w", err)
	}
	cfg.Server.RequestTimeout = requestTimeout

	cfg.Server.CORSOrigin = getEnvStringDefault("CORS_ALLOWED_ORIGIN", "*")

	rateLimitPerSec, err := getEnvFloatDefault("RATE_LIMIT_PER_SEC", "5")
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit: %w", err)
	}
	cfg.Server.RateLimitPerSec = rateLimitPerSec

	rateBurst, err := getEnvIntDefault("RATE_BURST", "20")
	if err != nil {
		return nil, fmt.Errorf("invalid rate burst: %w", err)
	}
	cfg.Server.RateBurst = rateBurst

	cfg.Server.SiteTitle = getEnvStringDefault("SITE_TITLE", "DVD Profiler Liste")

	cfg.Media.ImagesDir = getEnvStringDefault("IMAGES_DIR", "images")
	cfg.Media.CoverDir = getEnvStringDefault("COVER_DIR", "cover")

	maxUpload, err := getEnvIntDefault("MAX_UPLOAD_MB", "5")
	if err != nil {
		return nil, fmt.Errorf("invalid max upload size: %w", err)
	}
	cfg.Media.MaxUploadBytes = int64(maxUpload) << 20

	cfg.Session.CookieName = getEnvStringDefault("SESSION_COOKIE", "movieshelf_session")

	sessionTTL, err := getEnvTimeDefault("SESSION_TTL", "12h")
	if err != nil {
		return nil, fmt.Errorf("invalid session ttl: %w", err)
	}
	cfg.Session.TTL = sessionTTL

	secure, err := getEnvBoolDefault("SESSION_SECURE", "false")
	if err != nil {
		return nil, fmt.Errorf("invalid session secure flag: %w", err)
	}
	cfg.Session.Secure = secure

	batchSize, err := getEnvIntDefault("REBUILD_BATCH_SIZE", "3") // Film + 10 actor detail calls per film
	if err != nil {
		return nil, fmt.Errorf("invalid rebuild batch size: %w", err)
	}
	cfg.Rebuild.BatchSize = batchSize

	maxCast, err := getEnvIntDefault("REBUILD_MAX_CAST", "10")
	if err != nil {
		return nil, fmt.Errorf("invalid rebuild max cast: %w", err)
	}
	cfg.Rebuild.MaxCast = maxCast

	mainRoles, err := getEnvIntDefault("REBUILD_MAIN_ROLES", "3")
	if err != nil {
		return nil, fmt.Errorf("invalid rebuild main roles: %w", err)
	}
	cfg.Rebuild.MainRoles = mainRoles

	cfg.Telemetry.ServiceName = getEnvStringDefault("OTEL_SERVICE_NAME", "movieshelf")
	cfg.Telemetry.TracesExporter = getEnvStringDefault("OTEL_TRACES_EXPORTER", "none")
	cfg.Telemetry.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	switch cfg.Telemetry.TracesExporter {
	case "none", "stdout", "otlp":
	default:
		return nil, fmt.Errorf("invalid traces exporter: %q", cfg.Telemetry.TracesExporter)
	}

	return &cfg, nil
}

// loadYAMLDefaults reads a flat KEY: value YAML document and sets any variable
// not already present in the environment.
func loadYAMLDefaults(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	values := map[string]string{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("error parsing yaml: %w", err)
	}

	for key, value := range values {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	return nil
}

func getEnvString(key string) (string, error) {
	result := os.Getenv(key)
	if result == "" {
		return "", fmt.Errorf("%s not defined", key)
	}
	return result, nil
}

func getEnvStringDefault(key, defaultValue string) string {
	result := os.Getenv(key)
	if result == "" {
		result = defaultValue
	}
	return result
}

func getEnvTimeDefault(key, defaultValue string) (time.Duration, error) {
	result := getEnvStringDefault(key, defaultValue)

	duration, err := time.ParseDuration(result)
	if err != nil {
		return 0, fmt.Errorf("error parsing duration: %w", err)
	}
	return duration, nil
}

func getEnvIntDefault(key, defaultValue string) (int, error) {
	value, err := strconv.Atoi(getEnvStringDefault(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("error parsing env: %w", err)
	}
	return value, nil
}

func getEnvFloatDefault(key, defaultValue string) (float64, error) {
	value, err := strconv.ParseFloat(getEnvStringDefault(key, defaultValue), 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing env: %w", err)
	}
	return value, nil
}

func getEnvBoolDefault(key, defaultValue string) (bool, error) {
	value, err := strconv.ParseBool(getEnvStringDefault(key, defaultValue))
	if err != nil {
		return false, fmt.Errorf("error parsing env: %w", err)
	}
	return value, nil
}
