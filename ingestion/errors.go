package ingestion

import "errors"

var (
	// ErrChunkerRequired is returned when a chunker is not provided.
	ErrChunkerRequired = errors.New("chunker required")

	// ErrEmbedderRequired is returned when a batch embedder is not provided.
	ErrEmbedderRequired = errors.New("batch embedder required")

	// ErrIndexRequired is returned when a vector index is not provided.
	ErrIndexRequired = errors.New("vector index required")

	// ErrCollectionRequired is returned when a collection name is not provided.
	ErrCollectionRequired = errors.New("collection required")

	// ErrTaskNotFound is returned when no task exists with the given ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNoContent is returned when a document input has neither text nor
	// a source path.
	ErrNoContent = errors.New("document has no text or source path")
)
