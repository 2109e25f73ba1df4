package report

import (
	"errors"
)

var (
	ErrNoData                = errors.New("no data")
	ErrNoColumns             = errors.New("no columns")
	ErrDrilldownCycle        = errors.New("drilldown destination is already in the drilldown chain")
	ErrDrilldownDepth        = errors.New("drilldown depth limit reached")
	ErrVisualizationNotFound = errors.New("visualization not found")
)

// ConfigError is a report definition problem: a bad axis or column
// reference, an unknown transformation, an unresolved stream. It is shown in
// place of the report and does not affect other reports.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// FetchError is a failed backend call. Retry reports whether trying again
// may succeed.
type FetchError struct {
	Err   error
	Retry bool
}

func (e *FetchError) Error() string { return "fetch failed: " + e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

func configError(err error) error {
	if err == nil {
		return nil
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return err
	}
	return &ConfigError{Err: err}
}
