package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the chat server runtime parameters.
type Config struct {
	HTTPAddress         string          `mapstructure:"http_address"`
	LogLevel            string          `mapstructure:"log_level"`
	ShutdownGracePeriod time.Duration   `mapstructure:"shutdown_grace_period"`
	Database            DatabaseConfig  `mapstructure:"database"`
	Auth                AuthConfig      `mapstructure:"auth"`
	WebSocket           WebSocketConfig `mapstructure:"websocket"`
	Admin               AdminConfig     `mapstructure:"admin"`
}

// DatabaseConfig describes the SQLite message store.
type DatabaseConfig struct {
	Path      string `mapstructure:"path"`
	SeedUsers bool   `mapstructure:"seed_users"`
}

// AuthConfig describes session token issuance.
type AuthConfig struct {
	TokenSecretEnv string        `mapstructure:"token_secret_env"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
}

// WebSocketConfig tunes the live connection transport.
type WebSocketConfig struct {
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	SendBufferSize  int           `mapstructure:"send_buffer_size"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}

// AdminConfig describes the metrics/health endpoint.
type AdminConfig struct {
	Address           string        `mapstructure:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

const (
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultDatabasePath        = "data/chat.db"
	defaultTokenSecretEnv      = "CHAT_TOKEN_SECRET"
	defaultTokenTTL            = 7 * 24 * time.Hour
	defaultWriteTimeout        = 10 * time.Second
	defaultPongTimeout         = 60 * time.Second
	defaultSendBufferSize      = 64
	defaultMaxMessageBytes     = 4096
	defaultAdminAddress        = "127.0.0.1:9090"
	defaultReadHeaderTimeout   = 5 * time.Second
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with CHAT_ and can override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_address", defaultHTTPAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("database.seed_users", true)
	v.SetDefault("auth.token_secret_env", defaultTokenSecretEnv)
	v.SetDefault("auth.token_ttl", defaultTokenTTL.String())
	v.SetDefault("websocket.write_timeout", defaultWriteTimeout.String())
	v.SetDefault("websocket.pong_timeout", defaultPongTimeout.String())
	v.SetDefault("websocket.send_buffer_size", defaultSendBufferSize)
	v.SetDefault("websocket.max_message_bytes", defaultMaxMessageBytes)
	v.SetDefault("admin.address", defaultAdminAddress)
	v.SetDefault("admin.read_header_timeout", defaultReadHeaderTimeout.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"shutdown_grace_period", defaultShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"auth.token_ttl", defaultTokenTTL, &cfg.Auth.TokenTTL},
		{"websocket.write_timeout", defaultWriteTimeout, &cfg.WebSocket.WriteTimeout},
		{"websocket.pong_timeout", defaultPongTimeout, &cfg.WebSocket.PongTimeout},
		{"admin.read_header_timeout", defaultReadHeaderTimeout, &cfg.Admin.ReadHeaderTimeout},
	}
	for _, d := range durations {
		if !v.IsSet(d.key) {
			*d.dst = d.fallback
			continue
		}
		dur, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = dur
	}

	if cfg.HTTPAddress == "" {
		cfg.HTTPAddress = defaultHTTPAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultDatabasePath
	}
	if cfg.Auth.TokenSecretEnv == "" {
		cfg.Auth.TokenSecretEnv = defaultTokenSecretEnv
	}
	if cfg.WebSocket.SendBufferSize <= 0 {
		cfg.WebSocket.SendBufferSize = defaultSendBufferSize
	}
	if cfg.WebSocket.MaxMessageBytes <= 0 {
		cfg.WebSocket.MaxMessageBytes = defaultMaxMessageBytes
	}

	return cfg, nil
}

// TokenSecret fetches the session token signing secret from the configured
// environment variable.
func (c Config) TokenSecret() ([]byte, error) {
	env := c.Auth.TokenSecretEnv
	if env == "" {
		env = defaultTokenSecretEnv
	}
	val := strings.TrimSpace(getenv(env))
	if val == "" {
		return nil, fmt.Errorf("token secret env %s is empty", env)
	}
	return []byte(val), nil
}

// split out for testing.
var getenv = os.Getenv
