// Package database opens the PostgreSQL pool backing the switch-event audit log.
package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds database connection configuration.
type Config struct {
	// URL is a complete connection string. When set it wins over the
	// individual fields.
	URL string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// MaxConns bounds the pool.
	// Default: 5
	MaxConns int

	// MinConns is kept open while idle.
	// Default: 1
	MinConns int

	// ConnMaxLifetime recycles long-lived connections.
	// Default: 30 minutes
	ConnMaxLifetime time.Duration

	// ConnectTimeout bounds the initial dial and ping.
	// Default: 10 seconds
	ConnectTimeout time.Duration
}

// ConfigFromEnv creates a Config from VOXGATE_DB_* environment variables.
// Unparseable numbers fall back to their defaults.
func ConfigFromEnv() Config {
	port, err := strconv.Atoi(getEnvOrDefault("VOXGATE_DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}
	maxConns, err := strconv.Atoi(getEnvOrDefault("VOXGATE_DB_MAX_CONNS", "5"))
	if err != nil {
		maxConns = 5
	}
	minConns, err := strconv.Atoi(getEnvOrDefault("VOXGATE_DB_MIN_CONNS", "1"))
	if err != nil {
		minConns = 1
	}
	lifetime, err := time.ParseDuration(getEnvOrDefault("VOXGATE_DB_CONN_MAX_LIFETIME", "30m"))
	if err != nil {
		lifetime = 30 * time.Minute
	}
	connectTimeout, err := time.ParseDuration(getEnvOrDefault("VOXGATE_DB_CONNECT_TIMEOUT", "10s"))
	if err != nil {
		connectTimeout = 10 * time.Second
	}

	return Config{
		URL:             os.Getenv("VOXGATE_DATABASE_URL"),
		Host:            getEnvOrDefault("VOXGATE_DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("VOXGATE_DB_USER", "voxgate"),
		Password:        getEnvOrDefault("VOXGATE_DB_PASSWORD", "localdev"),
		Database:        getEnvOrDefault("VOXGATE_DB_NAME", "voxgate"),
		SSLMode:         getEnvOrDefault("VOXGATE_DB_SSL_MODE", "disable"),
		MaxConns:        maxConns,
		MinConns:        minConns,
		ConnMaxLifetime: lifetime,
		ConnectTimeout:  connectTimeout,
	}
}

// ConnectionString returns the PostgreSQL connection string.
func (c Config) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Redacted returns the connection target without credentials, for logging.
func (c Config) Redacted() string {
	u, err := url.Parse(c.ConnectionString())
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}

// Connect creates a pool and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns) //nolint:gosec // small configured value
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns) //nolint:gosec // small configured value
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
