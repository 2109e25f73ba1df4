package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/malbeclabs/dashboards/report/pkg/metrics"
	"github.com/malbeclabs/dashboards/report/pkg/value"
	"github.com/malbeclabs/dashboards/utils/pkg/retry"
)

type HTTPConfig struct {
	Logger *slog.Logger
	URL    string
	Client *http.Client
	Retry  retry.Config
	// RateLimit caps requests per second; zero disables limiting.
	RateLimit rate.Limit
	Burst     int
}

func (cfg *HTTPConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.URL == "" {
		return errors.New("url is required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return nil
}

// HTTPBackend posts form-encoded requests to the query engine.
type HTTPBackend struct {
	log     *slog.Logger
	cfg     HTTPConfig
	limiter *rate.Limiter
}

func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &HTTPBackend{log: cfg.Logger, cfg: cfg}
	if cfg.RateLimit > 0 {
		b.limiter = rate.NewLimiter(cfg.RateLimit, cfg.Burst)
	}
	return b, nil
}

// Execute runs the request, retrying transient failures.
func (b *HTTPBackend) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := retry.DoValue(ctx, b.cfg.Retry, func() (*Response, error) {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return b.do(ctx, req)
	})
	metrics.BackendRequestDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues("http", "error").Inc()
		b.log.Debug("backend: http request failed", "query_id", req.QueryID, "error", err)
		return nil, err
	}
	metrics.BackendRequestsTotal.WithLabelValues("http", "ok").Inc()
	return resp, nil
}

func (b *HTTPBackend) do(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.URL, strings.NewReader(req.Form().Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := b.cfg.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to query engine: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 500 {
			msg = msg[:500] + "..."
		}
		return nil, &retry.StatusError{Code: httpResp.StatusCode, Body: msg}
	}

	return decodeResponse(body)
}

type envelope struct {
	Status  bool              `json:"status"`
	Message string            `json:"message"`
	Data    []json.RawMessage `json:"data"`
	Query   string            `json:"query"`
	Runtime float64           `json:"runtime"`
	Cached  *Cached           `json:"cached"`
	Meta    []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"meta"`
}

func decodeResponse(body []byte) (*Response, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !env.Status {
		msg := env.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("query engine returned an error: %s", msg)
	}

	resp := &Response{
		Status:  true,
		Query:   env.Query,
		Runtime: env.Runtime,
		Cached:  env.Cached,
		Data:    make([]map[string]any, 0, len(env.Data)),
	}
	for _, raw := range env.Data {
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("failed to parse row: %w", err)
		}
		resp.Data = append(resp.Data, row)
	}
	value.Sanitize(resp.Data)

	if len(env.Meta) > 0 {
		resp.Types = make(map[string]string, len(env.Meta))
		for _, m := range env.Meta {
			resp.Columns = append(resp.Columns, m.Name)
			if t := typeHint(m.Type); t != "" {
				resp.Types[m.Name] = t
			}
		}
	} else if len(env.Data) > 0 {
		keys, err := objectKeys(env.Data[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse row: %w", err)
		}
		resp.Columns = keys
	}
	return resp, nil
}

// objectKeys returns the keys of a JSON object in document order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
