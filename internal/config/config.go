package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Database holds the connection settings. DATABASE_URL wins over the
// individual POSTGRES_* parts.
type Database struct {
	URL      string `env:"DATABASE_URL"`
	User     string `env:"POSTGRES_USER"     envDefault:"joinsync"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"joinsync_pass"`
	Name     string `env:"POSTGRES_DB"       envDefault:"joinsync"`
	Host     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	Port     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	SSLMode  string `env:"DATABASE_SSLMODE"  envDefault:"disable"`
	MaxConns int32  `env:"DATABASE_MAX_CONNS" envDefault:"10"`
}

// DSN returns the connection string.
func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// Record stores the session server can run on.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Server is the session server configuration.
type Server struct {
	Database               Database
	Store                  string        `env:"STORE"                    envDefault:"postgres"`
	Addr                   string        `env:"SERVER_ADDR"              envDefault:"0.0.0.0:8080"`
	AdminKeyHash           string        `env:"ADMIN_KEY_HASH"`
	ScenarioDir            string        `env:"SCENARIO_DIR"`
	CountdownSweepInterval time.Duration `env:"COUNTDOWN_SWEEP_INTERVAL" envDefault:"1s"`
	StreamBuffer           int           `env:"STREAM_BUFFER"            envDefault:"16"`
	StreamKeepAlive        time.Duration `env:"STREAM_KEEPALIVE"         envDefault:"25s"`
	ShutdownTimeout        time.Duration `env:"SHUTDOWN_TIMEOUT"         envDefault:"10s"`
	LogLevel               string        `env:"LOG_LEVEL"                envDefault:"info"`
}

// Client is the participant client configuration. Flags may override it.
type Client struct {
	ServerURL    string        `env:"JOIN_SERVER_URL"    envDefault:"http://localhost:8080"`
	CachePath    string        `env:"JOIN_CACHE_PATH"    envDefault:"joinsync-identity.db"`
	TickInterval time.Duration `env:"JOIN_TICK_INTERVAL" envDefault:"1s"`
	Transport    string        `env:"JOIN_TRANSPORT"     envDefault:"ws"`
	LogLevel     string        `env:"LOG_LEVEL"          envDefault:"info"`
}

// LoadServer reads the server configuration from the environment.
func LoadServer() (*Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if strings.TrimSpace(cfg.AdminKeyHash) == "" {
		return nil, fmt.Errorf("ADMIN_KEY_HASH is required")
	}
	switch cfg.Store {
	case StorePostgres, StoreMemory:
	default:
		return nil, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}
	if cfg.StreamBuffer <= 0 {
		return nil, fmt.Errorf("STREAM_BUFFER must be positive")
	}
	if cfg.CountdownSweepInterval <= 0 {
		return nil, fmt.Errorf("COUNTDOWN_SWEEP_INTERVAL must be positive")
	}
	return &cfg, nil
}

// LoadClient reads the client configuration from the environment.
func LoadClient() (*Client, error) {
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings after flags were applied.
func (c *Client) Validate() error {
	if _, err := url.ParseRequestURI(c.ServerURL); err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	switch c.Transport {
	case "ws", "sse":
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	return nil
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
