package report

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dashboards/report/pkg/backend"
	"github.com/malbeclabs/dashboards/report/pkg/catalog"
	"github.com/malbeclabs/dashboards/report/pkg/settings"
	dashtesting "github.com/malbeclabs/dashboards/utils/pkg/testing"
)

var now = time.Date(2024, 3, 15, 13, 30, 0, 0, time.UTC)

type mockBackend struct {
	ExecuteFunc func(ctx context.Context, req backend.Request) (*backend.Response, error)
}

func (m *mockBackend) Execute(ctx context.Context, req backend.Request) (*backend.Response, error) {
	return m.ExecuteFunc(ctx, req)
}

// recordingBackend answers per query id and records every request.
type recordingBackend struct {
	mu        sync.Mutex
	responses map[int]*backend.Response
	requests  []backend.Request
}

func newRecordingBackend(responses map[int]*backend.Response) *recordingBackend {
	return &recordingBackend{responses: responses}
}

func (b *recordingBackend) Execute(ctx context.Context, req backend.Request) (*backend.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	return b.responses[req.QueryID], nil
}

func (b *recordingBackend) calls(queryID int) []backend.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []backend.Request
	for _, r := range b.requests {
		if r.QueryID == queryID {
			out = append(out, r)
		}
	}
	return out
}

func response(cols []string, data ...map[string]any) *backend.Response {
	return &backend.Response{Status: true, Columns: cols, Data: data}
}

func newSession(t *testing.T, b backend.Backend, s *settings.Settings, defs ...*catalog.Definition) *Session {
	t.Helper()
	cat, err := catalog.NewMemory(defs...)
	require.NoError(t, err)
	sess, err := NewSession(SessionConfig{
		Logger:   dashtesting.NewLogger(),
		Clock:    clockwork.NewFakeClockAt(now),
		Settings: s,
		Backend:  b,
		Catalog:  cat,
	})
	require.NoError(t, err)
	return sess
}

func open(t *testing.T, sess *Session, queryID int) *Report {
	t.Helper()
	r, err := sess.Open(queryID)
	require.NoError(t, err)
	return r
}
