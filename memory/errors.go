package memory

import "errors"

var (
	// ErrNotFound is returned when a requested id is absent.
	ErrNotFound = errors.New("memory: not found")

	// ErrInvalidCategory is returned when a draft or persisted record
	// carries a category outside the closed enum.
	ErrInvalidCategory = errors.New("memory: invalid category")

	// ErrDimensionMismatch is returned when a vector does not match the
	// index dimension. It indicates a misconfigured embedding provider.
	ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

	// ErrStoreCorrupt is returned when a persisted document fails to parse
	// or validate. Construction fails fast rather than silently starting
	// from an empty store.
	ErrStoreCorrupt = errors.New("memory: store corrupt")

	// ErrEmbeddingUnavailable wraps embedding collaborator failures.
	ErrEmbeddingUnavailable = errors.New("memory: embedding unavailable")

	// ErrExtractionFailed wraps extraction collaborator failures.
	ErrExtractionFailed = errors.New("memory: extraction failed")
)
