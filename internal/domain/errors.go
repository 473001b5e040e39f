package domain

import "errors"

// Failures raised by external collaborators. Adapters wrap them with
// fmt.Errorf("%w: ...") so callers can classify with errors.Is.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrParse             = errors.New("document parse error")
	ErrEmbeddingService  = errors.New("embedding service error")
	ErrIndexBuild        = errors.New("index build error")
	ErrInference         = errors.New("inference error")
	ErrTelemetry         = errors.New("telemetry error")
)

// Storage and index errors.
var (
	ErrIndexReleased     = errors.New("index handle released")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidDimension  = errors.New("invalid dimension")
	ErrLengthMismatch    = errors.New("chunks and vectors length mismatch")
)

// Orchestrator guard errors. These are returned to the caller and leave the
// session untouched.
var (
	ErrInvalidState     = errors.New("operation not allowed in current session state")
	ErrNoDocuments      = errors.New("no documents submitted")
	ErrEmptyQuery       = errors.New("query is empty")
	ErrInvalidThreshold = errors.New("similarity threshold must be within [0, 1]")
)
