package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/malbeclabs/dashboards/report/pkg/metrics"
	"github.com/malbeclabs/dashboards/report/pkg/settings"
)

// Client is a ClickHouse connection source.
type Client interface {
	Conn(ctx context.Context) (Connection, error)
	Close() error
}

// Connection runs read queries.
type Connection interface {
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Close() error
}

type ClickHouseOptions struct {
	Addr     string
	Database string
	Username string
	Password string
	// Secure enables TLS, as required by ClickHouse Cloud (port 9440).
	Secure           bool
	MaxExecutionTime int
}

type client struct {
	conn driver.Conn
}

type connection struct {
	conn driver.Conn
}

// NewClickHouseClient opens and pings a ClickHouse connection.
func NewClickHouseClient(ctx context.Context, log *slog.Logger, opts ClickHouseOptions) (Client, error) {
	if opts.MaxExecutionTime == 0 {
		opts.MaxExecutionTime = 60
	}
	options := &clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": opts.MaxExecutionTime,
			"readonly":           2,
		},
		DialTimeout: 5 * time.Second,
	}
	if opts.Secure {
		options.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Info("backend: clickhouse client initialized", "addr", opts.Addr, "database", opts.Database, "secure", opts.Secure)
	return NewClickHouseClientFromConn(conn), nil
}

// NewClickHouseClientFromConn wraps an open driver connection.
func NewClickHouseClientFromConn(conn driver.Conn) Client {
	return &client{conn: conn}
}

func (c *client) Conn(context.Context) (Connection, error) {
	return &connection{conn: c.conn}, nil
}

func (c *client) Close() error {
	return c.conn.Close()
}

func (c *connection) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// Close is a no-op; the underlying connection is shared.
func (c *connection) Close() error {
	return nil
}

type ClickHouseConfig struct {
	Logger *slog.Logger
	Client Client
	// Prefix is the request parameter prefix of filter values.
	Prefix string
}

func (cfg *ClickHouseConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("client is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = settings.DefaultPlaceholderPrefix
	}
	return nil
}

// ClickHouseBackend runs a definition's query text directly. Placeholders
// written as {{name}} or {{name:Type}} become server-side query parameters
// bound from the request's filter values; multi-valued filters bind as
// Array(String).
type ClickHouseBackend struct {
	log *slog.Logger
	cfg ClickHouseConfig
}

func NewClickHouseBackend(cfg ClickHouseConfig) (*ClickHouseBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ClickHouseBackend{log: cfg.Logger, cfg: cfg}, nil
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*(?::\s*([\w(), ]+?))?\s*\}\}`)

// bindQuery rewrites placeholders into ClickHouse parameter syntax.
func bindQuery(query string, params map[string][]string, prefix string) (string, clickhouse.Parameters) {
	bound := clickhouse.Parameters{}
	out := placeholderPattern.ReplaceAllStringFunc(query, func(m string) string {
		sub := placeholderPattern.FindStringSubmatch(m)
		name, typ := sub[1], sub[2]
		values := params[prefix+name]
		switch {
		case len(values) > 1 || strings.HasPrefix(typ, "Array("):
			if typ == "" {
				typ = "Array(String)"
			}
			bound[name] = arrayLiteral(values)
		case len(values) == 1:
			bound[name] = values[0]
		default:
			bound[name] = ""
		}
		if typ == "" {
			typ = "String"
		}
		return "{" + name + ":" + typ + "}"
	})
	return out, bound
}

func arrayLiteral(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		v = strings.ReplaceAll(v, `\`, `\\`)
		v = strings.ReplaceAll(v, `'`, `\'`)
		quoted[i] = "'" + v + "'"
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

// Execute implements Backend.
func (b *ClickHouseBackend) Execute(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query %d has no query text", req.QueryID)
	}

	start := time.Now()
	query, params := bindQuery(req.Query, req.Params, b.cfg.Prefix)

	conn, err := b.cfg.Client.Conn(ctx)
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues("clickhouse", "error").Inc()
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(clickhouse.Context(ctx, clickhouse.WithParameters(params)), query)
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues("clickhouse", "error").Inc()
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	resp, err := scanResponse(rows)
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues("clickhouse", "error").Inc()
		return nil, err
	}
	elapsed := time.Since(start)
	metrics.BackendRequestsTotal.WithLabelValues("clickhouse", "ok").Inc()
	metrics.BackendRequestDuration.WithLabelValues("clickhouse").Observe(elapsed.Seconds())

	resp.Query = query
	resp.Runtime = float64(elapsed.Microseconds()) / 1000
	b.log.Debug("backend: clickhouse query executed", "query_id", req.QueryID, "rows", len(resp.Data), "duration", elapsed)
	return resp, nil
}
