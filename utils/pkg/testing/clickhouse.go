package dashtesting

import (
	"context"
	"fmt"
	"log/slog"

	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"
)

type ClickHouseConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *ClickHouseConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "clickhouse/clickhouse-server:latest"
	}
	return nil
}

// ClickHouseDB is a ClickHouse test container reachable over the native
// protocol.
type ClickHouseDB struct {
	log       *slog.Logger
	cfg       ClickHouseConfig
	addr      string
	container *tcch.ClickHouseContainer
}

func NewClickHouseDB(ctx context.Context, log *slog.Logger, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	container, err := startContainer(ctx, "ClickHouse", func() (*tcch.ClickHouseContainer, error) {
		return tcch.Run(ctx,
			cfg.ContainerImage,
			tcch.WithDatabase(cfg.Database),
			tcch.WithUsername(cfg.Username),
			tcch.WithPassword(cfg.Password),
		)
	})
	if err != nil {
		return nil, err
	}
	host, port, err := endpoint(ctx, container, "9000/tcp")
	if err != nil {
		terminate(log, "ClickHouse", container)
		return nil, err
	}
	return &ClickHouseDB{log: log, cfg: cfg, addr: fmt.Sprintf("%s:%s", host, port), container: container}, nil
}

// Addr returns the native protocol address (host:port).
func (db *ClickHouseDB) Addr() string     { return db.addr }
func (db *ClickHouseDB) Database() string { return db.cfg.Database }
func (db *ClickHouseDB) Username() string { return db.cfg.Username }
func (db *ClickHouseDB) Password() string { return db.cfg.Password }

func (db *ClickHouseDB) Close() {
	terminate(db.log, "ClickHouse", db.container)
}
