package apperr

import "errors"

// Failure classes shared across the ingestion and retrieval pipelines.
// Callers wrap these with fmt.Errorf("...: %w", ...) and handlers map them
// to HTTP status codes.
var (
	// ErrProbe: the input file has no decodable video stream.
	ErrProbe = errors.New("probe failed")
	// ErrProvider: embedding or caption backend unavailable.
	ErrProvider = errors.New("provider unavailable")
	// ErrStorage: blob upload/download/sign failure.
	ErrStorage = errors.New("storage failure")
	// ErrCatalog: database unavailable or constraint violation.
	ErrCatalog = errors.New("catalog failure")
	// ErrValidation: rejected before any pipeline work begins.
	ErrValidation = errors.New("invalid argument")
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
)
