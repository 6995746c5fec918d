package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrDriverInit      = errors.New("browser driver initialization failed")
	ErrPageTimeout     = errors.New("page load timed out")
	ErrElementNotFound = errors.New("element not found")
	ErrNoToken         = errors.New("login response carried no token")
	ErrNoCSVFiles      = errors.New("no CSV files found")
	ErrEmptyFile       = errors.New("file has no data rows")
)

// APIError wraps errors returned by the Atmo France API.
type APIError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("api error for %s (status %d): %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("api error for %s: %v", e.Endpoint, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// ExtractError wraps a failure inside one heuristic strategy.
type ExtractError struct {
	Strategy string
	Location string
	Err      error
}

func (e *ExtractError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("extract error in %s: %v", e.Strategy, e.Err)
	}
	return fmt.Sprintf("extract error in %s (location=%q): %v", e.Strategy, e.Location, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur during storage/export.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PipelineError wraps errors that occur in the record pipeline.
type PipelineError struct {
	Stage  string
	Record *Record
	Err    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at stage %q: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ImportError wraps a failure while loading one CSV file.
type ImportError struct {
	File  string
	Table string
	Err   error
}

func (e *ImportError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("import error for %s: %v", e.File, e.Err)
	}
	return fmt.Sprintf("import error for %s into %s: %v", e.File, e.Table, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }
