package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/util"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. LIVECHAT_SERVER_PORT
const EnvPrefix = "LIVECHAT"

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port                   int      `mapstructure:"port"`
	PathPrefix             string   `mapstructure:"path_prefix"` // HTTP path prefix for all routes (default: "/livechat")
	AllowedOrigins         []string `mapstructure:"allowed_origins"`
	MaxMessageSize         int64    `mapstructure:"max_message_size"` // Max inbound WebSocket frame in bytes
	TrustedProxies         []string `mapstructure:"trusted_proxies"`
	MetricsAllowedNetworks []string `mapstructure:"metrics_allowed_networks"`
	NodeID                 string   `mapstructure:"node_id"` // Identifies this replica in Redis and NATS
	DevMode                bool     `mapstructure:"dev_mode"`
}

// AuthConfig holds credential verification configuration
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	CookieName string        `mapstructure:"cookie_name"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig holds MongoDB configuration
type DatabaseConfig struct {
	URI                string `mapstructure:"uri"`
	Name               string `mapstructure:"name"`
	UsersCollection    string `mapstructure:"users_collection"`
	MessagesCollection string `mapstructure:"messages_collection"`
}

// RedisConfig holds the presence mirror configuration. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// NATSConfig holds the cross-node delivery bus configuration. An empty URL disables it.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", constants.DefaultPort)
	v.SetDefault("server.path_prefix", constants.DefaultPathPrefix)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.max_message_size", constants.DefaultMaxMessageSize)
	v.SetDefault("server.trusted_proxies", strings.Split(constants.DefaultTrustedProxies, ","))
	v.SetDefault("server.metrics_allowed_networks", strings.Split(constants.DefaultMetricsAllowedNetworks, ","))
	v.SetDefault("server.node_id", constants.DefaultNodeID)
	v.SetDefault("server.dev_mode", false)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.cookie_name", constants.DefaultCookieName)
	v.SetDefault("auth.timeout", constants.DefaultAuthTimeout)

	v.SetDefault("database.uri", constants.DefaultMongoURI)
	v.SetDefault("database.name", constants.DefaultDatabase)
	v.SetDefault("database.users_collection", constants.DefaultUsersColl)
	v.SetDefault("database.messages_collection", constants.DefaultMessagesColl)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", constants.DefaultRedisPoolSize)

	v.SetDefault("nats.url", "")

	v.SetDefault("log.level", constants.DefaultLogLevel)
	v.SetDefault("log.format", constants.DefaultLogFormat)
}

// Load reads configuration from defaults, the optional file at path and the
// environment, in increasing precedence. JWT_SECRET and MONGO_URI are also
// honoured without the prefix.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("auth.jwt_secret", EnvPrefix+"_AUTH_JWT_SECRET", "JWT_SECRET"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("database.uri", EnvPrefix+"_DATABASE_URI", "MONGO_URI"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)
	cfg.Server.TrustedProxies = splitList(cfg.Server.TrustedProxies)
	cfg.Server.MetricsAllowedNetworks = splitList(cfg.Server.MetricsAllowedNetworks)
	cfg.Server.PathPrefix = strings.TrimSuffix(cfg.Server.PathPrefix, "/")

	return &cfg, nil
}

// splitList flattens comma-separated entries, which is how lists arrive
// from the environment.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate validates the configuration. All problems are reported together.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, errors.New("server port must be between 1 and 65535"))
	}
	if c.Server.PathPrefix != "" && !strings.HasPrefix(c.Server.PathPrefix, "/") {
		result = multierror.Append(result, errors.New("path prefix must start with '/'"))
	}
	if c.Server.MaxMessageSize <= 0 {
		result = multierror.Append(result, errors.New("max message size must be positive"))
	}
	if c.Server.NodeID == "" {
		result = multierror.Append(result, errors.New("node ID is required"))
	}
	for _, origin := range c.Server.AllowedOrigins {
		if ContainsPlaceholder(origin) {
			result = multierror.Append(result, fmt.Errorf(
				"server.allowed_origins contains placeholder value %q, set actual origins before deploying", origin))
		}
	}

	if err := validateSecret(c.Auth.JWTSecret); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Auth.CookieName == "" {
		result = multierror.Append(result, errors.New("auth cookie name is required"))
	}
	if c.Auth.Timeout <= 0 {
		result = multierror.Append(result, errors.New("auth timeout must be positive"))
	}

	if c.Database.URI == "" {
		result = multierror.Append(result, errors.New("database URI is required"))
	}
	if c.Database.Name == "" {
		result = multierror.Append(result, errors.New("database name is required"))
	}
	if c.Database.UsersCollection == "" || c.Database.MessagesCollection == "" {
		result = multierror.Append(result, errors.New("database collections are required"))
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize <= 0 {
		result = multierror.Append(result, errors.New("redis pool size must be positive"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		result = multierror.Append(result, fmt.Errorf("log format must be json or console, got %q", c.Log.Format))
	}

	return result.ErrorOrNil()
}

func validateSecret(secret string) error {
	if secret == "" {
		return errors.New("JWT secret is required")
	}
	if ContainsPlaceholder(secret) {
		return errors.New("JWT secret contains placeholder value, set a real secret before deploying")
	}
	if len(secret) < constants.MinJWTSecretLength {
		return fmt.Errorf(
			"JWT secret must be at least %d characters (got %d). "+
				"Generate a strong secret with: openssl rand -base64 32",
			constants.MinJWTSecretLength, len(secret))
	}
	if weak, pattern := util.ContainsWeakPattern(secret); weak {
		return fmt.Errorf(
			"JWT secret appears to be weak (contains '%s'). "+
				"Use a cryptographically random secret generated with: openssl rand -base64 32",
			pattern)
	}
	return nil
}

// ContainsPlaceholder checks if a configuration value still contains
// a deployment placeholder that should have been replaced.
func ContainsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	return strings.Contains(upper, "REPLACE_WITH") ||
		strings.Contains(upper, "PLACEHOLDER") ||
		strings.Contains(upper, "CHANGE-ME") ||
		strings.Contains(upper, "CHANGE_ME") ||
		strings.Contains(upper, "YOUR-")
}
