package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/real-rm/livechat/internal/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const strongSecret = "k9F2mQ7xR4vL8pZ1wN6bT3yH5jC0gD2s"

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			PathPrefix:     "/livechat",
			MaxMessageSize: constants.DefaultMaxMessageSize,
			NodeID:         "node-1",
		},
		Auth: AuthConfig{
			JWTSecret:  strongSecret,
			CookieName: "jwt",
			Timeout:    5 * time.Second,
		},
		Database: DatabaseConfig{
			URI:                "mongodb://localhost:27017",
			Name:               "chatify",
			UsersCollection:    "users",
			MessagesCollection: "messages",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultPathPrefix, cfg.Server.PathPrefix)
	assert.Equal(t, constants.DefaultCookieName, cfg.Auth.CookieName)
	assert.Equal(t, constants.DefaultAuthTimeout, cfg.Auth.Timeout)
	assert.Equal(t, constants.DefaultDatabase, cfg.Database.Name)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.NATS.URL)
	assert.Empty(t, cfg.Server.AllowedOrigins)
	assert.Contains(t, cfg.Server.MetricsAllowedNetworks, "127.0.0.0/8")
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("LIVECHAT_SERVER_PORT", "9090")
	t.Setenv("LIVECHAT_SERVER_PATH_PREFIX", "/chat/")
	t.Setenv("LIVECHAT_SERVER_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("LIVECHAT_AUTH_TIMEOUT", "3s")
	t.Setenv("LIVECHAT_REDIS_ADDR", "localhost:6379")
	t.Setenv("JWT_SECRET", strongSecret)
	t.Setenv("MONGO_URI", "mongodb://db:27017")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/chat", cfg.Server.PathPrefix)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 3*time.Second, cfg.Auth.Timeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, strongSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, "mongodb://db:27017", cfg.Database.URI)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livechat.yaml")
	content := `
server:
  port: 7070
  node_id: node-b
auth:
  jwt_secret: ` + strongSecret + `
nats:
  url: nats://localhost:4222
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	// Environment wins over the file
	t.Setenv("LIVECHAT_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "node-b", cfg.Server.NodeID)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server port"},
		{"prefix without slash", func(c *Config) { c.Server.PathPrefix = "chat" }, "path prefix"},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWT secret is required"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "k9F2mQ7x" }, "at least 32"},
		{"weak secret", func(c *Config) { c.Auth.JWTSecret = "my-changeme-k9F2mQ7xR4vL8pZ1wN6bT3" }, "weak"},
		{"placeholder secret", func(c *Config) { c.Auth.JWTSecret = "REPLACE_WITH_A_RANDOM_VALUE_xxxxxxxxx" }, "placeholder"},
		{"placeholder origin", func(c *Config) { c.Server.AllowedOrigins = []string{"https://your-domain.com"} }, "allowed_origins"},
		{"zero auth timeout", func(c *Config) { c.Auth.Timeout = 0 }, "auth timeout"},
		{"missing database", func(c *Config) { c.Database.Name = "" }, "database name"},
		{"redis without pool", func(c *Config) { c.Redis.Addr = "localhost:6379" }, "pool size"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
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

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = -1
	cfg.Auth.JWTSecret = ""
	cfg.Database.URI = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 errors occurred")
}

func TestContainsPlaceholder(t *testing.T) {
	assert.True(t, ContainsPlaceholder("REPLACE_WITH_SECRET"))
	assert.True(t, ContainsPlaceholder("change-me"))
	assert.True(t, ContainsPlaceholder("https://YOUR-app.example.com"))
	assert.False(t, ContainsPlaceholder("https://chat.example.com"))
}

// TestProperty_PortRange verifies only ports in 1..65535 validate
func TestProperty_PortRange(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("port validity matches range", prop.ForAll(
		func(port int) bool {
			cfg := validConfig()
			cfg.Server.Port = port
			err := cfg.Validate()
			inRange := port >= 1 && port <= 65535
			return (err == nil) == inRange
		},
		gen.IntRange(-1000, 70000),
	))

	properties.TestingRun(t)
}

// TestProperty_ShortSecretsRejected verifies secrets under the minimum length never validate
func TestProperty_ShortSecretsRejected(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("short secrets are rejected", prop.ForAll(
		func(secret string) bool {
			if len(secret) >= constants.MinJWTSecretLength {
				return true
			}
			cfg := validConfig()
			cfg.Auth.JWTSecret = secret
			return cfg.Validate() != nil
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
