package catalog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// PostgresOptions configures the catalog database connection.
type PostgresOptions struct {
	Host          string
	Port          string
	Database      string
	Username      string
	Password      string
	SSLMode       string
	RunMigrations bool
}

func (o *PostgresOptions) Validate() error {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == "" {
		o.Port = "5432"
	}
	if o.SSLMode == "" {
		o.SSLMode = "disable"
	}
	if o.Database == "" {
		return errors.New("database is required")
	}
	if o.Username == "" {
		return errors.New("username is required")
	}
	return nil
}

func (o PostgresOptions) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(o.Username, o.Password),
		Host:     o.Host + ":" + o.Port,
		Path:     "/" + o.Database,
		RawQuery: url.Values{"sslmode": {o.SSLMode}}.Encode(),
	}
	return u.String()
}

// NewPostgresPool opens and pings a connection pool, running the catalog
// migrations first when enabled.
func NewPostgresPool(ctx context.Context, log *slog.Logger, opts PostgresOptions) (*pgxpool.Pool, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	connStr := opts.ConnString()

	log.Info("catalog: connecting to postgres", "host", opts.Host, "port", opts.Port, "database", opts.Database, "username", opts.Username)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if opts.RunMigrations {
		if err := runMigrations(ctx, log, connStr); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return pool, nil
}

func runMigrations(ctx context.Context, log *slog.Logger, connStr string) error {
	log.Info("catalog: running postgres migrations")

	goose.SetBaseFS(embedMigrations)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return err
	}

	log.Info("catalog: postgres migrations completed")
	return nil
}

// Querier is the subset of *pgxpool.Pool used by the loader.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PostgresLoaderConfig struct {
	Logger *slog.Logger
	DB     Querier
}

func (cfg *PostgresLoaderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	return nil
}

// PostgresLoader reads definitions from the report_definitions table. The
// definition column holds the JSON encoding of a Definition; the query_id
// column is authoritative.
type PostgresLoader struct {
	log *slog.Logger
	cfg PostgresLoaderConfig
}

func NewPostgresLoader(cfg PostgresLoaderConfig) (*PostgresLoader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PostgresLoader{log: cfg.Logger, cfg: cfg}, nil
}

func (l *PostgresLoader) Load(ctx context.Context) ([]*Definition, error) {
	rows, err := l.cfg.DB.Query(ctx, `
		SELECT query_id, name, definition
		FROM report_definitions
		ORDER BY query_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		var (
			queryID int
			name    string
			raw     []byte
		)
		if err := rows.Scan(&queryID, &name, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		def := &Definition{}
		if err := json.Unmarshal(raw, def); err != nil {
			return nil, fmt.Errorf("failed to decode definition %d: %w", queryID, err)
		}
		def.QueryID = queryID
		if def.Name == "" {
			def.Name = name
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate definitions: %w", err)
	}

	l.log.Debug("catalog: loaded definitions from postgres", "count", len(defs))
	return defs, nil
}
