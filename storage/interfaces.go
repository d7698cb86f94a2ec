package storage

import (
	"context"

	"github.com/poiesic/docsearch/core"
)

// Filters restricts a search to a subset of the visible index.
// A nil Filters (or empty fields) matches everything.
type Filters struct {
	// DocumentIDs limits results to the listed documents.
	DocumentIDs []string
}

// MatchesDocument reports whether a document passes the filter.
func (f *Filters) MatchesDocument(documentID string) bool {
	if f == nil || len(f.DocumentIDs) == 0 {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == documentID {
			return true
		}
	}
	return false
}

// VectorIndex stores embedding records grouped into named collections and
// serves similarity search over them. Implementations must be thread-safe.
//
// Visibility follows a staged-publish protocol: Upsert writes records for a
// document version without making them searchable; Publish atomically swaps
// the document's visible version to the staged one. Search never observes a
// partially indexed document.
type VectorIndex interface {
	// CreateCollection creates a named collection.
	// Returns ErrCollectionExists if it already exists.
	CreateCollection(ctx context.Context, name string) error

	// Collections lists all collections, ordered by name.
	Collections(ctx context.Context) ([]*core.CollectionInfo, error)

	// Upsert stages embedding records, keyed by (documentID, version, seq).
	// Idempotent: re-staging the same keys replaces the records atomically.
	// Staged records are invisible to Search until Publish.
	// Assigns each record its InsertedSeq and InsertedAt.
	Upsert(ctx context.Context, collection string, records []*core.EmbeddingRecord) error

	// Publish atomically makes the given document version the visible one.
	// Returns ErrNotFound if no records are staged for that version.
	Publish(ctx context.Context, collection, documentID string, version core.Version) error

	// VisibleVersion returns the published version for a document.
	// Returns ErrNotFound if the document has no visible version.
	VisibleVersion(ctx context.Context, collection, documentID string) (core.Version, error)

	// Search returns up to topK visible records ordered by descending cosine
	// similarity to vector. Ties are broken by InsertedSeq descending, so
	// ordering is deterministic. Filters may be nil.
	Search(ctx context.Context, collection string, vector []float32, topK int, filters *Filters) ([]*core.SearchResult, error)

	// Delete removes a document's manifest entry and its visible records.
	// Returns ErrNotFound if the document has no visible version.
	Delete(ctx context.Context, collection, documentID string) error

	// DeleteVersion removes the records of one document version without
	// touching the manifest. Used for staging rollback and for cleaning up
	// a superseded version after Publish. Deleting a version with no
	// records is a no-op.
	DeleteVersion(ctx context.Context, collection, documentID string, version core.Version) error

	// Close closes the index and releases resources.
	Close() error
}
