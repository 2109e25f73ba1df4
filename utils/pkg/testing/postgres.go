package dashtesting

import (
	"context"
	"log/slog"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

type PostgresConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

// PostgresDB is a PostgreSQL test container.
type PostgresDB struct {
	log       *slog.Logger
	cfg       PostgresConfig
	host      string
	port      string
	container *tcpostgres.PostgresContainer
}

func NewPostgresDB(ctx context.Context, log *slog.Logger, cfg PostgresConfig) (*PostgresDB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	container, err := startContainer(ctx, "PostgreSQL", func() (*tcpostgres.PostgresContainer, error) {
		return tcpostgres.Run(ctx,
			cfg.ContainerImage,
			tcpostgres.WithDatabase(cfg.Database),
			tcpostgres.WithUsername(cfg.Username),
			tcpostgres.WithPassword(cfg.Password),
			tcpostgres.BasicWaitStrategies(),
			tcpostgres.WithSQLDriver("pgx"),
		)
	})
	if err != nil {
		return nil, err
	}
	host, port, err := endpoint(ctx, container, "5432/tcp")
	if err != nil {
		terminate(log, "PostgreSQL", container)
		return nil, err
	}
	return &PostgresDB{log: log, cfg: cfg, host: host, port: port, container: container}, nil
}

func (db *PostgresDB) Host() string     { return db.host }
func (db *PostgresDB) Port() string     { return db.port }
func (db *PostgresDB) Database() string { return db.cfg.Database }
func (db *PostgresDB) Username() string { return db.cfg.Username }
func (db *PostgresDB) Password() string { return db.cfg.Password }

// Close terminates the container.
func (db *PostgresDB) Close() {
	terminate(db.log, "PostgreSQL", db.container)
}
