// Package config loads application configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
	Auth       AuthConfig
	Reconciler ReconcilerConfig
	Cascade    CascadeConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host               string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port               int           `env:"SERVER_PORT,default=8080"`
	ReadTimeout        time.Duration `env:"SERVER_READ_TIMEOUT,default=10s"`
	WriteTimeout       time.Duration `env:"SERVER_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout    time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
	RateLimitPerSecond float64       `env:"SERVER_RATE_LIMIT_PER_SECOND,default=25"`
	AuditFile          string        `env:"SERVER_AUDIT_FILE,default="`
}

// DatabaseConfig configures persistence. An empty DSN runs on the in-memory
// store.
type DatabaseConfig struct {
	DSN            string        `env:"DATABASE_URL,default="`
	MaxOpenConns   int           `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns   int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnLifetime   time.Duration `env:"DATABASE_CONN_LIFETIME,default=30m"`
	MigrationsPath string        `env:"DATABASE_MIGRATIONS_PATH,default=migrations"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

// AuthConfig configures credential verification.
type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET,default=dev-secret-change-me"`
	UsersFile string `env:"AUTH_USERS_FILE,default="`
	// ServiceTokens is a comma-separated list of static bearer tokens that
	// resolve to the system actor.
	ServiceTokens string `env:"AUTH_SERVICE_TOKENS,default="`
}

// Tokens returns the parsed service token list.
func (c AuthConfig) Tokens() []string {
	if c.ServiceTokens == "" {
		return nil
	}
	parts := strings.Split(c.ServiceTokens, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ReconcilerConfig configures the background reconciliation loop.
type ReconcilerConfig struct {
	Schedule string `env:"RECONCILE_SCHEDULE,default=@every 30s"`
}

// CascadeConfig configures the approval fan-out.
type CascadeConfig struct {
	ChildTimeout time.Duration `env:"CASCADE_CHILD_TIMEOUT,default=5s"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
