//go:build integration

package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dashboards/report/pkg/visualization"
	dashtesting "github.com/malbeclabs/dashboards/utils/pkg/testing"
)

func TestReports_Catalog_PostgresIntegration(t *testing.T) {
	ctx := t.Context()
	log := dashtesting.NewLogger()

	pool, err := NewPostgresPool(ctx, log, testOptions())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	t.Run("migrations are idempotent", func(t *testing.T) {
		again, err := NewPostgresPool(ctx, log, testOptions())
		require.NoError(t, err)
		again.Close()
	})

	t.Run("loads definitions in query id order", func(t *testing.T) {
		_, err := pool.Exec(ctx, `TRUNCATE report_definitions`)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `
			INSERT INTO report_definitions (query_id, name, definition) VALUES
				(12, 'Stores', '{"query": "SELECT * FROM stores"}'),
				(7, 'Orders', '{"name": "Daily orders", "refresh_rate": 30, "visualizations": [{"visualization_id": 70, "name": "Chart", "type": "line"}]}')
		`)
		require.NoError(t, err)

		loader, err := NewPostgresLoader(PostgresLoaderConfig{Logger: log, DB: pool})
		require.NoError(t, err)
		mem, err := Load(ctx, loader)
		require.NoError(t, err)

		defs := mem.List()
		require.Len(t, defs, 2)
		require.Equal(t, 7, defs[0].QueryID)
		require.Equal(t, "Daily orders", defs[0].Name)
		require.Equal(t, 30, defs[0].RefreshRate)
		require.Equal(t, 12, defs[1].QueryID)
		require.Equal(t, "Stores", defs[1].Name)
		require.Equal(t, "SELECT * FROM stores", defs[1].Query)

		def, err := mem.ByVisualization(70)
		require.NoError(t, err)
		require.Equal(t, 7, def.QueryID)
		vis, ok := def.Visualization(70)
		require.True(t, ok)
		require.Equal(t, visualization.Line, vis.Type)
	})

	t.Run("query id column overrides the encoded one", func(t *testing.T) {
		_, err := pool.Exec(ctx, `TRUNCATE report_definitions`)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `INSERT INTO report_definitions (query_id, name, definition) VALUES (3, 'Three', '{"query_id": 99}')`)
		require.NoError(t, err)

		loader, err := NewPostgresLoader(PostgresLoaderConfig{Logger: log, DB: pool})
		require.NoError(t, err)
		defs, err := loader.Load(ctx)
		require.NoError(t, err)
		require.Len(t, defs, 1)
		require.Equal(t, 3, defs[0].QueryID)
	})
}
