//go:build integration

package backend

import (
	"context"
	"os"
	"testing"

	dashtesting "github.com/malbeclabs/dashboards/utils/pkg/testing"
)

var sharedDB *dashtesting.ClickHouseDB

func TestMain(m *testing.M) {
	log := dashtesting.NewLogger()
	var err error
	sharedDB, err = dashtesting.NewClickHouseDB(context.Background(), log, dashtesting.ClickHouseConfig{})
	if err != nil {
		log.Error("failed to create shared clickhouse", "error", err)
		os.Exit(1)
	}
	code := m.Run()
	sharedDB.Close()
	os.Exit(code)
}
