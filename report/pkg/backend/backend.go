// Package backend executes report queries against a query engine.
package backend

import (
	"context"
	"net/url"
	"strconv"
)

// Request is one query execution.
type Request struct {
	QueryID int
	// Query is the definition's query text, used by backends that run SQL
	// directly.
	Query    string
	Params   url.Values
	Download bool
}

// Form returns the request as form values.
func (r Request) Form() url.Values {
	form := url.Values{}
	for k, v := range r.Params {
		form[k] = append([]string(nil), v...)
	}
	if form.Get("query_id") == "" && r.QueryID != 0 {
		form.Set("query_id", strconv.Itoa(r.QueryID))
	}
	if r.Download {
		form.Set("download", "1")
	}
	return form
}

// Cached describes a response served from the engine's result cache.
type Cached struct {
	Status bool  `json:"status"`
	Age    int64 `json:"age"`
}

// Response is the engine's result envelope.
type Response struct {
	Status bool             `json:"status"`
	Data   []map[string]any `json:"data"`
	// Columns is the result's column order. Types holds optional per column
	// type hints such as "date".
	Columns []string          `json:"-"`
	Types   map[string]string `json:"-"`
	Query   string            `json:"query,omitempty"`
	Runtime float64           `json:"runtime"`
	Cached  *Cached           `json:"cached,omitempty"`
	Message string            `json:"message,omitempty"`
}

// Backend executes requests.
type Backend interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}
