package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dashboards/utils/pkg/retry"
	dashtesting "github.com/malbeclabs/dashboards/utils/pkg/testing"
)

func newHTTPBackend(t *testing.T, handler http.HandlerFunc) *HTTPBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b, err := NewHTTPBackend(HTTPConfig{
		Logger: dashtesting.NewLogger(),
		URL:    srv.URL,
		Retry:  retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	})
	require.NoError(t, err)
	return b
}

func TestReports_Backend_HTTP(t *testing.T) {
	t.Parallel()

	t.Run("posts params and decodes the envelope", func(t *testing.T) {
		t.Parallel()
		var (
			method string
			form   url.Values
		)
		b := newHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
			method = r.Method
			_ = r.ParseForm()
			form = r.PostForm
			_, _ = io.WriteString(w, `{"status":true,"query":"SELECT 1","runtime":12.5,"cached":{"status":true,"age":3000},
				"data":[{"zeta":1,"alpha":"a","mid":null},{"zeta":2,"alpha":"b","mid":1.5}]}`)
		})

		resp, err := b.Execute(context.Background(), Request{
			QueryID:  7,
			Params:   url.Values{"param_region": {"w", "e"}},
			Download: true,
		})
		require.NoError(t, err)

		require.Equal(t, http.MethodPost, method)
		require.Equal(t, "7", form.Get("query_id"))
		require.Equal(t, "1", form.Get("download"))
		require.Equal(t, []string{"w", "e"}, form["param_region"])

		require.True(t, resp.Status)
		require.Equal(t, "SELECT 1", resp.Query)
		require.Equal(t, 12.5, resp.Runtime)
		require.Equal(t, &Cached{Status: true, Age: 3000}, resp.Cached)
		require.Equal(t, []string{"zeta", "alpha", "mid"}, resp.Columns)
		require.Len(t, resp.Data, 2)
		require.Nil(t, resp.Data[0]["mid"])
		require.Equal(t, 2.0, resp.Data[1]["zeta"])
	})

	t.Run("uses meta for column order and types", func(t *testing.T) {
		t.Parallel()
		b := newHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"status":true,"meta":[{"name":"day","type":"Date"},{"name":"n","type":"UInt64"}],"data":[{"n":1,"day":"2024-03-04"}]}`)
		})
		resp, err := b.Execute(context.Background(), Request{QueryID: 1})
		require.NoError(t, err)
		require.Equal(t, []string{"day", "n"}, resp.Columns)
		require.Equal(t, map[string]string{"day": "date", "n": "number"}, resp.Types)
	})

	t.Run("retries gateway errors", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		b := newHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = io.WriteString(w, `{"status":true,"data":[]}`)
		})
		resp, err := b.Execute(context.Background(), Request{QueryID: 1})
		require.NoError(t, err)
		require.Empty(t, resp.Data)
		require.EqualValues(t, 3, calls.Load())
	})

	t.Run("does not retry bad requests", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		b := newHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "syntax error", http.StatusBadRequest)
		})
		_, err := b.Execute(context.Background(), Request{QueryID: 1})
		var se *retry.StatusError
		require.ErrorAs(t, err, &se)
		require.Equal(t, http.StatusBadRequest, se.Code)
		require.Contains(t, se.Body, "syntax error")
		require.EqualValues(t, 1, calls.Load())
	})

	t.Run("surfaces engine errors", func(t *testing.T) {
		t.Parallel()
		b := newHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"status":false,"message":"Privileges missing"}`)
		})
		_, err := b.Execute(context.Background(), Request{QueryID: 1})
		require.ErrorContains(t, err, "Privileges missing")
	})

	t.Run("rejects malformed bodies", func(t *testing.T) {
		t.Parallel()
		b := newHTTPBackend(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `<html>`)
		})
		_, err := b.Execute(context.Background(), Request{QueryID: 1})
		require.ErrorContains(t, err, "failed to parse response")
	})
}

func TestReports_Backend_HTTPConfig(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPBackend(HTTPConfig{URL: "http://x"})
	require.ErrorContains(t, err, "logger is required")
	_, err = NewHTTPBackend(HTTPConfig{Logger: dashtesting.NewLogger()})
	require.ErrorContains(t, err, "url is required")

	b, err := NewHTTPBackend(HTTPConfig{Logger: dashtesting.NewLogger(), URL: "http://x", RateLimit: 5})
	require.NoError(t, err)
	require.NotNil(t, b.limiter)
	require.Equal(t, retry.DefaultConfig(), b.cfg.Retry)
}

func TestReports_Backend_RequestForm(t *testing.T) {
	t.Parallel()

	params := url.Values{"query_id": {"9"}, "a": {"1"}}
	form := Request{QueryID: 3, Params: params}.Form()
	require.Equal(t, "9", form.Get("query_id"))
	require.Empty(t, form.Get("download"))

	form.Add("a", "2")
	require.Equal(t, []string{"1"}, params["a"])
}
