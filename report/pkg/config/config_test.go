package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dashboards/report/pkg/backend"
	"github.com/malbeclabs/dashboards/report/pkg/settings"
	dashtesting "github.com/malbeclabs/dashboards/utils/pkg/testing"
)

func parse(t *testing.T, args ...string) *Config {
	t.Helper()
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return &cfg
}

// unset clears key for the duration of the test.
func unset(t *testing.T, key string) {
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestReports_Config_Flags(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cfg := parse(t)
		require.Equal(t, BackendHTTP, cfg.Backend)
		require.Equal(t, ".env", cfg.EnvFile)
		require.Equal(t, "localhost", cfg.Postgres.Host)
		require.Equal(t, "5432", cfg.Postgres.Port)
		require.Equal(t, "disable", cfg.Postgres.SSLMode)
		require.Equal(t, "default", cfg.ClickHouse.Database)
		require.Equal(t, 1, cfg.Burst)
	})

	t.Run("parses values", func(t *testing.T) {
		t.Parallel()
		cfg := parse(t,
			"--backend=clickhouse",
			"--clickhouse-addr=ch:9440",
			"--clickhouse-secure",
			"--catalog=/etc/reports",
			"--rate-limit=2.5",
		)
		require.Equal(t, BackendClickHouse, cfg.Backend)
		require.Equal(t, "ch:9440", cfg.ClickHouse.Addr)
		require.True(t, cfg.ClickHouse.Secure)
		require.Equal(t, "/etc/reports", cfg.CatalogPath)
		require.InDelta(t, 2.5, cfg.RateLimit, 1e-9)
	})
}

func TestReports_Config_LoadEnv(t *testing.T) {
	t.Run("environment overrides flags", func(t *testing.T) {
		t.Setenv("REPORT_BACKEND", "clickhouse")
		t.Setenv("CLICKHOUSE_ADDR_TCP", "env:9000")
		t.Setenv("CLICKHOUSE_SECURE", "true")
		t.Setenv("POSTGRES_DB", "reports")
		t.Setenv("POSTGRES_RUN_MIGRATIONS", "true")

		cfg := parse(t, "--backend=http", "--clickhouse-addr=flag:9000", "--env-file=")
		require.NoError(t, cfg.LoadEnv())
		require.Equal(t, BackendClickHouse, cfg.Backend)
		require.Equal(t, "env:9000", cfg.ClickHouse.Addr)
		require.True(t, cfg.ClickHouse.Secure)
		require.Equal(t, "reports", cfg.Postgres.Database)
		require.True(t, cfg.Postgres.RunMigrations)
	})

	t.Run("reads the dotenv file", func(t *testing.T) {
		unset(t, "REPORT_ENGINE_URL")
		unset(t, "REPORT_CATALOG")

		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("REPORT_ENGINE_URL=http://engine:8080/query\nREPORT_CATALOG=/srv/reports\n"), 0o644))

		cfg := parse(t, "--env-file="+path)
		require.NoError(t, cfg.LoadEnv())
		require.Equal(t, "http://engine:8080/query", cfg.EngineURL)
		require.Equal(t, "/srv/reports", cfg.CatalogPath)
	})

	t.Run("ignores a missing dotenv file", func(t *testing.T) {
		cfg := parse(t, "--env-file="+filepath.Join(t.TempDir(), "missing.env"))
		require.NoError(t, cfg.LoadEnv())
	})
}

func TestReports_Config_Settings(t *testing.T) {
	t.Parallel()

	t.Run("defaults without a file", func(t *testing.T) {
		t.Parallel()
		s, err := (&Config{}).Settings()
		require.NoError(t, err)
		require.Equal(t, settings.DefaultPlaceholderPrefix, s.PlaceholderPrefix)
	})

	t.Run("loads the file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "settings.yaml")
		require.NoError(t, os.WriteFile(path, []byte("placeholder_prefix: p_\nmax_drilldown_depth: 3\n"), 0o644))
		s, err := (&Config{SettingsPath: path}).Settings()
		require.NoError(t, err)
		require.Equal(t, "p_", s.PlaceholderPrefix)
		require.Equal(t, 3, s.MaxDrilldownDepth)
	})
}

func TestReports_Config_Catalog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reports.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
reports:
  - query_id: 7
    name: Orders
    query: SELECT 1
`), 0o644))

	cfg := &Config{CatalogPath: path}
	cat, closeCatalog, err := cfg.Catalog(context.Background(), dashtesting.NewLogger())
	require.NoError(t, err)
	defer closeCatalog()

	def, err := cat.Get(7)
	require.NoError(t, err)
	require.Equal(t, "Orders", def.Name)
}

func TestReports_Config_QueryBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := dashtesting.NewLogger()

	t.Run("builds the http backend", func(t *testing.T) {
		t.Parallel()
		cfg := &Config{Backend: BackendHTTP, EngineURL: "http://engine/query", RateLimit: 5, Burst: 2}
		b, closeBackend, err := cfg.QueryBackend(ctx, log, "param_")
		require.NoError(t, err)
		defer closeBackend()
		require.IsType(t, &backend.HTTPBackend{}, b)
	})

	t.Run("requires the engine url", func(t *testing.T) {
		t.Parallel()
		_, _, err := (&Config{Backend: BackendHTTP}).QueryBackend(ctx, log, "param_")
		require.ErrorContains(t, err, "--engine-url is required")
	})

	t.Run("requires the clickhouse address", func(t *testing.T) {
		t.Parallel()
		_, _, err := (&Config{Backend: BackendClickHouse}).QueryBackend(ctx, log, "param_")
		require.ErrorContains(t, err, "--clickhouse-addr is required")
	})

	t.Run("rejects unknown backends", func(t *testing.T) {
		t.Parallel()
		_, _, err := (&Config{Backend: "sqlite"}).QueryBackend(ctx, log, "param_")
		require.ErrorContains(t, err, `unknown backend "sqlite"`)
	})
}
