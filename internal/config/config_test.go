package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every key Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		FileEnv, "PORT", "STORE_BACKEND", "DB_PATH", "MONGO_URI", "MONGO_DATABASE",
		"REDIS_URL", "INSTANCE_ID", "JWT_SECRET", "GITHUB_CLIENT_ID", "GITHUB_CLIENT_SECRET",
		"GITHUB_CALLBACK_URL", "PUBLIC_URL", "LOG_LEVEL", "LOG_FORMAT", "SHUTDOWN_TIMEOUT",
		"SNIPPETVAULT_SERVER", "SNIPPETVAULT_TOKEN",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	// no stray .env from the package directory
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "http://localhost:8080/auth/github/callback", cfg.GitHubCallbackURL)
	assert.False(t, cfg.AuthEnabled())
	assert.False(t, cfg.SecureCookies())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "snippetvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
store_backend: memory
public_url: https://snippets.example.com
shutdown_timeout: 5s
log_level: debug
`), 0o600))
	t.Setenv(FileEnv, path)
	t.Setenv("PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9100, cfg.Port, "env beats file")
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "https://snippets.example.com/auth/github/callback", cfg.GitHubCallbackURL)
	assert.True(t, cfg.SecureCookies())
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.WriteFile(".env", []byte("JWT_SECRET=from-dotenv\nLOG_FORMAT=json\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("LOG_FORMAT")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.JWTSecret)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.AuthEnabled())
}

func TestLoad_BadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "eighty")
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = 70000 }, "out of range"},
		{"unknown backend", func(c *Config) { c.StoreBackend = "postgres" }, "unknown STORE_BACKEND"},
		{"mongo without uri", func(c *Config) { c.StoreBackend = BackendMongo }, "MONGO_URI"},
		{"mongo with redis", func(c *Config) {
			c.StoreBackend = BackendMongo
			c.MongoURI = "mongodb://localhost:27017"
			c.RedisURL = "redis://localhost:6379"
		}, "REDIS_URL"},
		{"github half configured", func(c *Config) { c.GitHubClientID = "id" }, "must be set together"},
		{"github without jwt", func(c *Config) {
			c.GitHubClientID = "id"
			c.GitHubClientSecret = "secret"
		}, "JWT_SECRET"},
		{"relative public url", func(c *Config) { c.PublicURL = "snippets.example.com" }, "PUBLIC_URL"},
		{"bad level", func(c *Config) { c.LogLevel = "chatty" }, "LOG_LEVEL"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"zero shutdown", func(c *Config) { c.ShutdownTimeout = 0 }, "SHUTDOWN_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestLoadClient(t *testing.T) {
	clearEnv(t)

	c, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, DefaultServerURL, c.ServerURL)
	assert.Error(t, c.Validate(), "no token")

	t.Setenv("SNIPPETVAULT_SERVER", "https://snippets.example.com")
	t.Setenv("SNIPPETVAULT_TOKEN", "env-token")
	c, err = LoadClient()
	require.NoError(t, err)
	assert.NoError(t, c.Validate())

	c = c.Override("", "flag-token")
	assert.Equal(t, "https://snippets.example.com", c.ServerURL)
	assert.Equal(t, "flag-token", c.Token)

	c = c.Override("ftp://nope", "")
	assert.Error(t, c.Validate())
}
