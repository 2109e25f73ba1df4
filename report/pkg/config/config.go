// Package config holds the command line and environment configuration shared
// by the report binaries.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/dashboards/report/pkg/backend"
	"github.com/malbeclabs/dashboards/report/pkg/catalog"
	"github.com/malbeclabs/dashboards/report/pkg/settings"
)

const (
	BackendHTTP       = "http"
	BackendClickHouse = "clickhouse"
)

type Config struct {
	Verbose      bool
	EnvFile      string
	SettingsPath string

	// CatalogPath is a YAML file or directory of report definitions. The
	// Postgres catalog is used when it is empty.
	CatalogPath string
	Postgres    catalog.PostgresOptions

	Backend    string
	EngineURL  string
	RateLimit  float64
	Burst      int
	ClickHouse backend.ClickHouseOptions
}

// RegisterFlags binds the shared flags to fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.Verbose, "verbose", false, "enable verbose (debug) logging")
	fs.StringVar(&c.EnvFile, "env-file", ".env", "dotenv file to load before reading environment variables")
	fs.StringVar(&c.SettingsPath, "settings", "", "engine settings YAML file (or set REPORT_SETTINGS env var)")

	fs.StringVar(&c.CatalogPath, "catalog", "", "report definitions YAML file or directory (or set REPORT_CATALOG env var); Postgres is used when empty")
	fs.StringVar(&c.Postgres.Host, "postgres-host", "localhost", "Postgres host (or set POSTGRES_HOST env var)")
	fs.StringVar(&c.Postgres.Port, "postgres-port", "5432", "Postgres port (or set POSTGRES_PORT env var)")
	fs.StringVar(&c.Postgres.Database, "postgres-db", "", "Postgres database (or set POSTGRES_DB env var)")
	fs.StringVar(&c.Postgres.Username, "postgres-user", "", "Postgres username (or set POSTGRES_USER env var)")
	fs.StringVar(&c.Postgres.Password, "postgres-password", "", "Postgres password (or set POSTGRES_PASSWORD env var)")
	fs.StringVar(&c.Postgres.SSLMode, "postgres-sslmode", "disable", "Postgres sslmode (or set POSTGRES_SSLMODE env var)")
	fs.BoolVar(&c.Postgres.RunMigrations, "postgres-migrate", false, "run catalog migrations before loading (or set POSTGRES_RUN_MIGRATIONS=true)")

	fs.StringVar(&c.Backend, "backend", BackendHTTP, "query backend: 'http' or 'clickhouse' (or set REPORT_BACKEND env var)")
	fs.StringVar(&c.EngineURL, "engine-url", "", "query engine endpoint for the http backend (or set REPORT_ENGINE_URL env var)")
	fs.Float64Var(&c.RateLimit, "rate-limit", 0, "maximum engine requests per second, 0 for unlimited")
	fs.IntVar(&c.Burst, "burst", 1, "engine request burst when rate limited")
	fs.StringVar(&c.ClickHouse.Addr, "clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	fs.StringVar(&c.ClickHouse.Database, "clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	fs.StringVar(&c.ClickHouse.Username, "clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	fs.StringVar(&c.ClickHouse.Password, "clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	fs.BoolVar(&c.ClickHouse.Secure, "clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")
}

// LoadEnv loads the dotenv file, if present, and overrides flags with the
// environment variables that are set.
func (c *Config) LoadEnv() error {
	if c.EnvFile != "" {
		if err := godotenv.Load(c.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", c.EnvFile, err)
		}
	}

	override(&c.SettingsPath, "REPORT_SETTINGS")
	override(&c.CatalogPath, "REPORT_CATALOG")
	override(&c.Postgres.Host, "POSTGRES_HOST")
	override(&c.Postgres.Port, "POSTGRES_PORT")
	override(&c.Postgres.Database, "POSTGRES_DB")
	override(&c.Postgres.Username, "POSTGRES_USER")
	override(&c.Postgres.Password, "POSTGRES_PASSWORD")
	override(&c.Postgres.SSLMode, "POSTGRES_SSLMODE")
	if os.Getenv("POSTGRES_RUN_MIGRATIONS") == "true" {
		c.Postgres.RunMigrations = true
	}
	override(&c.Backend, "REPORT_BACKEND")
	override(&c.EngineURL, "REPORT_ENGINE_URL")
	override(&c.ClickHouse.Addr, "CLICKHOUSE_ADDR_TCP")
	override(&c.ClickHouse.Database, "CLICKHOUSE_DATABASE")
	override(&c.ClickHouse.Username, "CLICKHOUSE_USERNAME")
	override(&c.ClickHouse.Password, "CLICKHOUSE_PASSWORD")
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		c.ClickHouse.Secure = true
	}
	return nil
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Settings loads the engine settings, falling back to the defaults.
func (c *Config) Settings() (*settings.Settings, error) {
	if c.SettingsPath == "" {
		return settings.Default(), nil
	}
	return settings.Load(c.SettingsPath)
}

// Catalog loads every report definition from the configured source. The
// returned func releases the catalog database, if one was opened.
func (c *Config) Catalog(ctx context.Context, log *slog.Logger) (*catalog.Memory, func(), error) {
	if c.CatalogPath != "" {
		cat, err := catalog.Load(ctx, catalog.FileLoader{Path: c.CatalogPath})
		if err != nil {
			return nil, nil, err
		}
		return cat, func() {}, nil
	}

	pool, err := catalog.NewPostgresPool(ctx, log, c.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to catalog database: %w", err)
	}
	loader, err := catalog.NewPostgresLoader(catalog.PostgresLoaderConfig{Logger: log, DB: pool})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	cat, err := catalog.Load(ctx, loader)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return cat, pool.Close, nil
}

// QueryBackend builds the configured query backend. The returned func closes
// its connections.
func (c *Config) QueryBackend(ctx context.Context, log *slog.Logger, prefix string) (backend.Backend, func(), error) {
	switch c.Backend {
	case BackendHTTP:
		if c.EngineURL == "" {
			return nil, nil, errors.New("--engine-url is required for the http backend")
		}
		b, err := backend.NewHTTPBackend(backend.HTTPConfig{
			Logger:    log,
			URL:       c.EngineURL,
			RateLimit: rate.Limit(c.RateLimit),
			Burst:     c.Burst,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil

	case BackendClickHouse:
		if c.ClickHouse.Addr == "" {
			return nil, nil, errors.New("--clickhouse-addr is required for the clickhouse backend")
		}
		client, err := backend.NewClickHouseClient(ctx, log, c.ClickHouse)
		if err != nil {
			return nil, nil, err
		}
		b, err := backend.NewClickHouseBackend(backend.ClickHouseConfig{
			Logger: log,
			Client: client,
			Prefix: prefix,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return b, func() {
			if err := client.Close(); err != nil {
				log.Warn("config: failed to close clickhouse client", "error", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", c.Backend)
}
