// Package config loads the settings of cmd/server and cmd/snippetctl.
//
// LOAD ORDER (later wins):
//  1. Defaults
//  2. A .env file in the working directory, if present (godotenv only fills
//     variables that are not already set)
//  3. The YAML file named by SNIPPETVAULT_CONFIG, if set
//  4. Environment variables
//
// Environment variables beat the file so a deployment can override one key
// without editing the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileEnv names the optional YAML config file.
const FileEnv = "SNIPPETVAULT_CONFIG"

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

// Config is the whole server configuration. The yaml tags name the keys of
// the optional config file; environment variables use the upper-case names
// listed in Load.
type Config struct {
	Port int `yaml:"port"`

	StoreBackend  string `yaml:"store_backend"` // sqlite | memory | mongo
	DBPath        string `yaml:"db_path"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`

	// Set REDIS_URL to fan change events out across server instances.
	RedisURL   string `yaml:"redis_url"`
	InstanceID string `yaml:"instance_id"`

	// Auth is disabled when JWTSecret is empty.
	JWTSecret          string `yaml:"jwt_secret"`
	GitHubClientID     string `yaml:"github_client_id"`
	GitHubClientSecret string `yaml:"github_client_secret"`
	GitHubCallbackURL  string `yaml:"github_callback_url"`

	// PublicURL is the origin deep links are built on.
	PublicURL string `yaml:"public_url"`

	LogLevel        string        `yaml:"log_level"`  // debug | info | warn | error
	LogFormat       string        `yaml:"log_format"` // text | json
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default is the configuration of a local development server.
func Default() Config {
	return Config{
		Port:            8080,
		StoreBackend:    BackendSQLite,
		DBPath:          "data/snippetvault.db",
		MongoDatabase:   "snippetvault",
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownTimeout: 30 * time.Second,
	}
}

// Load builds the server configuration. It does not validate; call Validate.
func Load() (Config, error) {
	// === .env ===
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: reading .env: %w", err)
	}

	// === DEFAULTS, THEN FILE, THEN ENV ===
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	// === DERIVED VALUES ===
	if cfg.GitHubCallbackURL == "" {
		cfg.GitHubCallbackURL = strings.TrimRight(cfg.BaseURL(), "/") + "/auth/github/callback"
	}
	return cfg, nil
}

// readFile overlays the YAML file on cfg. Keys absent from the file keep the
// value cfg already has.
func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays the environment on c. Parse errors are collected rather
// than returned one by one, so a broken deployment shows every bad variable
// in a single start attempt.
func (c *Config) applyEnv() error {
	var errs []error

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PORT: %q is not a number", v))
		}
		c.Port = port
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT: %q is not a duration", v))
		}
		c.ShutdownTimeout = d
	}

	setString(&c.StoreBackend, "STORE_BACKEND")
	setString(&c.DBPath, "DB_PATH")
	setString(&c.MongoURI, "MONGO_URI")
	setString(&c.MongoDatabase, "MONGO_DATABASE")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.InstanceID, "INSTANCE_ID")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.GitHubClientID, "GITHUB_CLIENT_ID")
	setString(&c.GitHubClientSecret, "GITHUB_CLIENT_SECRET")
	setString(&c.GitHubCallbackURL, "GITHUB_CALLBACK_URL")
	setString(&c.PublicURL, "PUBLIC_URL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// setString copies key into dst when it is set and non-empty.
func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate reports every bad value at once.
func (c Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}

	switch c.StoreBackend {
	case BackendSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite backend"))
		}
	case BackendMemory:
	case BackendMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo backend"))
		}
		if c.MongoDatabase == "" {
			errs = append(errs, errors.New("MONGO_DATABASE is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if c.RedisURL != "" && c.StoreBackend == BackendMongo {
		// change streams already reach every instance
		errs = append(errs, errors.New("REDIS_URL cannot be combined with the mongo backend"))
	}

	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		errs = append(errs, errors.New("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together"))
	}
	if c.GitHubClientID != "" && c.JWTSecret == "" {
		errs = append(errs, errors.New("GitHub login needs JWT_SECRET"))
	}

	if c.PublicURL != "" {
		if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUBLIC_URL %q is not an absolute URL", c.PublicURL))
		}
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// AuthEnabled reports whether JWT sessions are configured.
func (c Config) AuthEnabled() bool { return c.JWTSecret != "" }

// GitHubEnabled reports whether the GitHub login routes should be mounted.
func (c Config) GitHubEnabled() bool { return c.AuthEnabled() && c.GitHubClientID != "" }

// BaseURL is PublicURL, or the local address when unset.
func (c Config) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", c.Port)
}

// SecureCookies is true when the server is reached over https.
func (c Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL(), "https://")
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) NewLogger() *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
